package sandbox

import (
	"github.com/haasonsaas/nexus/internal/toolregistry"
)

// Register registers the sandbox executor as a tool with the Tool Registry.
func Register(registry *toolregistry.Registry, opts ...Option) error {
	executor, err := NewExecutor(opts...)
	if err != nil {
		return err
	}

	registry.RegisterOrReplace(executor)
	return nil
}

// MustRegister registers the sandbox executor and panics on error.
// Use this in initialization code where errors should be fatal.
func MustRegister(registry *toolregistry.Registry, opts ...Option) {
	if err := Register(registry, opts...); err != nil {
		panic(err)
	}
}
