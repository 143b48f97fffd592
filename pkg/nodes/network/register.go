package network

import "github.com/wehubfusion/redwire/pkg/runtime"

// Register adds the NATS node types to reg.
func Register(reg *runtime.Registry) error {
	if err := reg.RegisterGlobalNode(TypeBroker, newBrokerNode); err != nil {
		return err
	}
	if err := reg.RegisterFlowNode("nats in", newNatsInNode); err != nil {
		return err
	}
	return reg.RegisterFlowNode("nats out", newNatsOutNode)
}
