package server

import (
	"context"
	"maps"
	"sync"
)

// Component states reported by ComponentChecker.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopped  = "stopped"
	StateFailed   = "failed"
)

// ComponentChecker tracks the state of named components. The process is
// alive until a component fails and ready once every component runs.
type ComponentChecker struct {
	mu     sync.RWMutex
	states map[string]string
}

// NewComponentChecker creates a checker with components in the starting state.
func NewComponentChecker(components ...string) *ComponentChecker {
	states := make(map[string]string, len(components))
	for _, name := range components {
		states[name] = StateStarting
	}
	return &ComponentChecker{states: states}
}

// Set records the state of a component.
func (c *ComponentChecker) Set(component, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[component] = state
}

// Liveness reports false once any component failed.
func (c *ComponentChecker) Liveness() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, state := range c.states {
		if state == StateFailed {
			return false
		}
	}
	return true
}

// Readiness reports whether every component is running.
func (c *ComponentChecker) Readiness(ctx context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.states) == 0 {
		return false
	}
	for _, state := range c.states {
		if state != StateRunning {
			return false
		}
	}
	return true
}

// IsHealthy reports liveness and readiness together.
func (c *ComponentChecker) IsHealthy() bool {
	return c.Liveness() && c.Readiness(context.Background())
}

// GetStatus returns a copy of the component states.
func (c *ComponentChecker) GetStatus() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.states)
}
