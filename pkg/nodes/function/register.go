package function

import "github.com/wehubfusion/redwire/pkg/runtime"

// Register adds every node type of this package to reg.
func Register(reg *runtime.Registry) error {
	for typ, factory := range map[string]runtime.FlowNodeFactory{
		"function": newFunctionNode,
		"change":   newChangeNode,
		"switch":   newSwitchNode,
		"range":    newRangeNode,
		"rbe":      newRbeNode,
	} {
		if err := reg.RegisterFlowNode(typ, factory); err != nil {
			return err
		}
	}
	return nil
}
