package offload

import (
	"context"

	"github.com/loomworks/loom/pkg/core"
	"github.com/loomworks/loom/pkg/op"
)

// The offload stages double as ops so they compose into flows alongside
// everything else. Each reads the message list from the "messages" context
// key and writes a Result to its output key.

func messagesField() []op.Field {
	return []op.Field{{Name: "messages", Type: "array", Required: true,
		Description: "ordered conversation messages"}}
}

// NewCompactOp wraps the compact stage.
func NewCompactOp(cfg *Config, opts ...op.Option) *op.Func {
	spec := op.ToolSpec{
		Name:        "compact",
		Description: "spill oversized tool output to files",
		Params:      messagesField(),
		Results:     []op.Field{{Name: "compacted", Type: "object"}},
	}
	return op.NewFunc(spec, op.ModeSync, func(ctx context.Context, c *core.Context) (any, error) {
		msgs, err := c.GetMessages("messages")
		if err != nil {
			return nil, err
		}
		return Run(ctx, cfg, ModeCompact, msgs), nil
	}, opts...)
}

// NewCompressOp wraps the compress stage.
func NewCompressOp(cfg *Config, opts ...op.Option) *op.Func {
	spec := op.ToolSpec{
		Name:        "compress",
		Description: "fold older history into an LLM-written summary",
		Params:      messagesField(),
		Results:     []op.Field{{Name: "compressed", Type: "object"}},
	}
	return op.NewFunc(spec, op.ModeSync, func(ctx context.Context, c *core.Context) (any, error) {
		msgs, err := c.GetMessages("messages")
		if err != nil {
			return nil, err
		}
		return Run(ctx, cfg, ModeCompress, msgs), nil
	}, opts...)
}

// NewOffloadOp wraps the full pipeline; the mode comes from the optional
// "mode" context key and defaults to auto.
func NewOffloadOp(cfg *Config, opts ...op.Option) *op.Func {
	spec := op.ToolSpec{
		Name:        "offload",
		Description: "keep a conversation inside its token budget",
		Params: append(messagesField(),
			op.Field{Name: "mode", Type: "string", Enum: []string{"compact", "compress", "auto"}}),
		Results: []op.Field{{Name: "offloaded", Type: "object"}},
	}
	return op.NewFunc(spec, op.ModeSync, func(ctx context.Context, c *core.Context) (any, error) {
		msgs, err := c.GetMessages("messages")
		if err != nil {
			return nil, err
		}
		modeStr := ""
		if v, ok := c.Lookup("mode"); ok {
			modeStr, _ = v.(string)
		}
		mode, err := parseMode(modeStr)
		if err != nil {
			return nil, err
		}
		return Run(ctx, cfg, mode, msgs), nil
	}, opts...)
}
