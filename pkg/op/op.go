// Package op defines the atomic unit of work in Loom: a named, retryable
// node with a declared parameter/result contract, plus the sequential and
// parallel composition operators that build op graphs.
package op

import (
	"context"

	"github.com/loomworks/loom/pkg/cache"
	"github.com/loomworks/loom/pkg/core"
	"github.com/loomworks/loom/pkg/exec"
)

// Mode selects the execution discipline of an op graph. A whole graph runs
// in exactly one mode; mixing is rejected at construction time.
type Mode int

const (
	// ModeSync dispatches blocking work to a bounded worker pool when
	// composed in parallel.
	ModeSync Mode = iota

	// ModeAsync runs cooperative work that suspends only at I/O boundaries;
	// parallel composition fans out to unbounded goroutines.
	ModeAsync
)

func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "sync"
}

// Field declares one parameter or result property.
type Field struct {
	Name        string
	Type        string // string, integer, number, boolean, object, array
	Description string
	Required    bool
	Enum        []string
	Fields      []Field // nested properties for object types
}

// ToolSpec is the externally visible contract of an op: its name, a
// JSON-Schema-like parameter specification, and the declared result shape.
type ToolSpec struct {
	Name        string
	Description string
	Params      []Field
	Results     []Field
}

// OutputKey returns the canonical output key: the first declared result
// property, or "<name>_result" when no results are declared.
func (s ToolSpec) OutputKey() string {
	if len(s.Results) > 0 {
		return s.Results[0].Name
	}
	return s.Name + "_result"
}

// ParamSchema renders the parameter spec as a JSON-Schema object for tool
// descriptors handed to an LLM or exported over MCP.
func (s ToolSpec) ParamSchema() map[string]any {
	return fieldsSchema(s.Params)
}

func fieldsSchema(fields []Field) map[string]any {
	properties := make(map[string]any, len(fields))
	var required []string
	for _, f := range fields {
		prop := map[string]any{"type": f.Type}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			prop["enum"] = f.Enum
		}
		if f.Type == "object" && len(f.Fields) > 0 {
			nested := fieldsSchema(f.Fields)
			prop["properties"] = nested["properties"]
			if req, ok := nested["required"]; ok {
				prop["required"] = req
			}
		}
		properties[f.Name] = prop
		if f.Required {
			required = append(required, f.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Options is the per-op execution configuration honored by Run.
type Options struct {
	// MaxRetries is the number of attempts (>= 1).
	MaxRetries int

	// RaiseOnError re-raises the final error instead of writing a failure
	// string into the canonical output key.
	RaiseOnError bool

	// InputMap renames context keys into declared parameter names before
	// validation: param name -> context key to read.
	InputMap map[string]string

	// OutputMap copies the op's outputs to additional keys after execution:
	// produced key -> destination key.
	OutputMap map[string]string

	// CopyToAnswer copies the canonical output into the response answer.
	CopyToAnswer bool

	// Cache, when set together with CacheKeys, short-circuits execution for
	// previously seen inputs.
	Cache *cache.Cache

	// CacheKeys names the context keys whose values form the cache key.
	CacheKeys []string

	// Executor overrides the mode-selected executor for parallel fan-out.
	Executor exec.Executor
}

// Op is the atomic unit of work. Implementations embed Base for the
// identity and configuration plumbing and provide Execute and Clone.
// An Op instance is not safe to run twice concurrently; Clone provides an
// independent instance for concurrent fan-out.
type Op interface {
	Name() string
	Spec() ToolSpec
	Mode() Mode
	Options() *Options
	Execute(ctx context.Context, c *core.Context) error
	Clone() Op
}
