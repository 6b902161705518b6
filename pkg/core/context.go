// Package core provides the per-call Context propagated through an op graph.
package core

import (
	"fmt"
	"sync"

	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/llm"
)

// Response is the mutable top-level result of a flow or op-graph call.
type Response struct {
	Answer   any            `json:"answer"`
	Success  bool           `json:"success"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Context is an ordered string-keyed store shared by every op in one
// invocation. A Context is created per top-level call, mutated in place as
// the graph runs, and discarded afterwards. It is never shared across
// concurrent top-level invocations. Parallel branches within one invocation
// do share it: the internal lock keeps the map safe, but branches must
// write to disjoint keys or accept last-write-wins on shared keys.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
	order  []string

	// Response is populated as the graph runs and returned to the caller.
	Response *Response

	// Stream, when non-nil, receives typed chunks produced during execution.
	Stream chan llm.StreamChunk
}

// New creates an empty Context with an unset (success=true) response.
func New() *Context {
	return &Context{
		values:   make(map[string]any),
		Response: &Response{Success: true, Metadata: make(map[string]any)},
	}
}

// FromMap creates a Context pre-populated with the given values. Keys are
// inserted in an unspecified order.
func FromMap(values map[string]any) *Context {
	c := New()
	for k, v := range values {
		c.Set(k, v)
	}
	return c
}

// Set stores a value, preserving first-insertion order for Keys.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.values[key]; !exists {
		c.order = append(c.order, key)
	}
	c.values[key] = value
}

// Get returns the value for key, failing with CodeNotFound when absent.
func (c *Context) Get(key string) (any, error) {
	c.mu.RLock()
	v, ok := c.values[key]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.CodeNotFound, "context key %q not set", key)
	}
	return v, nil
}

// Lookup returns the value and whether it is present.
func (c *Context) Lookup(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// Has reports whether key is present.
func (c *Context) Has(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.values[key]
	return ok
}

// Delete removes a key, failing with CodeNotFound when absent.
func (c *Context) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		return errors.Newf(errors.CodeNotFound, "context key %q not set", key)
	}
	delete(c.values, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// Keys returns the keys in insertion order.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Len returns the number of stored keys.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}

// Merge sets every entry of values on the context.
func (c *Context) Merge(values map[string]any) {
	for k, v := range values {
		c.Set(k, v)
	}
}

// GetString returns the value for key as a string.
func (c *Context) GetString(key string) (string, error) {
	v, err := c.Get(key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", errors.Newf(errors.CodeInvalidArguments,
			"context key %q holds %T, not string", key, v)
	}
	return s, nil
}

// GetInt returns the value for key as an int, converting common numeric types.
func (c *Context) GetInt(key string) (int, error) {
	v, err := c.Get(key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, errors.Newf(errors.CodeInvalidArguments,
			"context key %q holds %T, not int", key, v)
	}
}

// GetBool returns the value for key as a bool.
func (c *Context) GetBool(key string) (bool, error) {
	v, err := c.Get(key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, errors.Newf(errors.CodeInvalidArguments,
			"context key %q holds %T, not bool", key, v)
	}
	return b, nil
}

// GetMessages returns the value for key as a message list.
func (c *Context) GetMessages(key string) ([]llm.Message, error) {
	v, err := c.Get(key)
	if err != nil {
		return nil, err
	}
	msgs, ok := v.([]llm.Message)
	if !ok {
		return nil, errors.Newf(errors.CodeInvalidArguments,
			"context key %q holds %T, not []llm.Message", key, v)
	}
	return msgs, nil
}

// Emit sends a chunk to the output stream if one is attached.
func (c *Context) Emit(chunk llm.StreamChunk) {
	if c.Stream != nil {
		c.Stream <- chunk
	}
}

// String renders the context for debugging.
func (c *Context) String() string {
	return fmt.Sprintf("Context(keys=%v)", c.Keys())
}
