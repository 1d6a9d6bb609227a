package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/aspenmd/ingestd/config"
)

// Context carries shared state between bootstrap hooks: the loaded config
// plus a freeform bag for the instances each hook constructs (EventBus,
// Registry, venue clients, ...) that later hooks and cmd/ingestd wiring
// pull back out by key.
type Context struct {
	Config *config.Config
	Data   map[string]interface{}
	ctx    context.Context
	mu     sync.RWMutex
}

// NewContext constructs a bootstrap Context around cfg.
func NewContext(cfg *config.Config) *Context {
	return &Context{
		Config: cfg,
		Data:   make(map[string]interface{}),
		ctx:    context.Background(),
	}
}

// Set stores value under key.
func (c *Context) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Data[key] = value
}

// Get retrieves the value stored under key, if any.
func (c *Context) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	val, ok := c.Data[key]
	return val, ok
}

// MustGet retrieves the value stored under key, panicking if absent —
// reserved for hooks later in the priority order that depend on an earlier
// hook having registered it.
func (c *Context) MustGet(key string) interface{} {
	val, ok := c.Get(key)
	if !ok {
		panic(fmt.Sprintf("bootstrap: context key %q not found", key))
	}
	return val
}
