// Package all registers every built-in node type.
package all

import (
	"fmt"

	"github.com/wehubfusion/redwire/pkg/nodes/common"
	"github.com/wehubfusion/redwire/pkg/nodes/function"
	"github.com/wehubfusion/redwire/pkg/nodes/network"
	"github.com/wehubfusion/redwire/pkg/runtime"
)

// RegisterBuiltins adds the common, function and network node sets to reg.
func RegisterBuiltins(reg *runtime.Registry) error {
	sets := []struct {
		name     string
		register func(*runtime.Registry) error
	}{
		{"common", common.Register},
		{"function", function.Register},
		{"network", network.Register},
	}
	for _, s := range sets {
		if err := s.register(reg); err != nil {
			return fmt.Errorf("failed to register %s nodes: %w", s.name, err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding every built-in node type.
func NewRegistry() (*runtime.Registry, error) {
	reg := runtime.NewRegistry()
	if err := RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
