package llm

import (
	"encoding/json"
	"sort"

	"github.com/loomworks/loom/pkg/errors"
)

// Assembler accumulates tool-call fragments delivered by index and produces
// complete, validated tool calls. Backends emit fragments in arbitrary
// interleavings; the assembler keeps one builder per index.
type Assembler struct {
	partial map[int]*ToolCall
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{partial: make(map[int]*ToolCall)}
}

// Add folds one fragment into the call being built at its index.
func (a *Assembler) Add(frag ToolFragment) {
	call, ok := a.partial[frag.Index]
	if !ok {
		call = &ToolCall{}
		a.partial[frag.Index] = call
	}
	if frag.ID != "" {
		call.ID = frag.ID
	}
	if frag.Name != "" {
		call.Function.Name = frag.Name
	}
	call.Function.Arguments += frag.Arguments
}

// Calls returns the assembled tool calls in index order. Every call must
// have a name and well-formed JSON arguments; a malformed call fails the
// whole batch with CodeInvalidArguments.
func (a *Assembler) Calls() ([]ToolCall, error) {
	if len(a.partial) == 0 {
		return nil, nil
	}

	indexes := make([]int, 0, len(a.partial))
	for i := range a.partial {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]ToolCall, 0, len(indexes))
	for _, i := range indexes {
		call := a.partial[i]
		if call.Function.Name == "" {
			return nil, errors.Newf(errors.CodeInvalidArguments,
				"tool call at index %d has no name", i)
		}
		if call.Function.Arguments == "" {
			call.Function.Arguments = "{}"
		}
		if !json.Valid([]byte(call.Function.Arguments)) {
			return nil, errors.Newf(errors.CodeInvalidArguments,
				"tool call %q has malformed arguments", call.Function.Name).
				WithContext("arguments", call.Function.Arguments)
		}
		out = append(out, *call)
	}
	return out, nil
}
