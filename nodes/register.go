package nodes

import (
	"github.com/orkacore/orka-go/core"
	"github.com/orkacore/orka-go/memory"
)

// Register installs the config-constructible control-flow factories:
// router, fork, join, graph-scout and memory. Loop and failover carry
// structure the loader owns (a nested workflow, inline children) and are
// built by the run coordinator instead.
func Register(reg *core.Registry, store memory.Store) {
	reg.Register("router", func(id string, cfg core.Config) (core.Agent, error) {
		return NewRouter(id, cfg)
	})
	reg.Register("fork", func(id string, cfg core.Config) (core.Agent, error) {
		return NewFork(id, cfg)
	})
	reg.Register("join", func(id string, cfg core.Config) (core.Agent, error) {
		return NewJoin(id, cfg)
	})
	reg.Register("graph-scout", func(id string, cfg core.Config) (core.Agent, error) {
		return NewGraphScout(id, cfg)
	})
	reg.Register("memory", func(id string, cfg core.Config) (core.Agent, error) {
		return NewMemory(id, cfg, store)
	})
}

// StructuralTypes are the node types built directly by the run
// coordinator rather than through a registry factory.
var StructuralTypes = map[string]bool{
	"loop":     true,
	"failover": true,
}
