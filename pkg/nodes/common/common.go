// Package common implements the core Node-RED node set: inject, debug,
// complete, catch, links, subflow instances, junctions and the test helpers.
package common

import (
	"github.com/wehubfusion/redwire/pkg/runtime"
)

// Register adds every node type of this package to reg.
func Register(reg *runtime.Registry) error {
	flowNodes := []struct {
		typ     string
		factory runtime.FlowNodeFactory
	}{
		{"inject", newInjectNode},
		{"debug", newDebugNode},
		{"console-json", newConsoleJSONNode},
		{runtime.TypeComplete, newForwardNode},
		{runtime.TypeCatch, newForwardNode},
		{"junction", newForwardNode},
		{runtime.TypeLinkIn, newForwardNode},
		{runtime.TypeLinkOut, newLinkOutNode},
		{runtime.TypeLinkCall, newLinkCallNode},
		{runtime.TypeSubflowInstance, newSubflowNode},
		{runtime.TypeUnknownFlow, newUnknownFlowNode},
		{"test-once", newTestOnceNode},
	}
	for _, n := range flowNodes {
		if err := reg.RegisterFlowNode(n.typ, n.factory); err != nil {
			return err
		}
	}
	return reg.RegisterGlobalNode(runtime.TypeUnknownGlobal, newUnknownGlobalNode)
}
