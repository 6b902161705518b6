package offload

import (
	"context"

	"go.opentelemetry.io/otel"

	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/telemetry"
)

var tracer = otel.Tracer("loom/offload")

// Mode selects which stage(s) an offload run applies.
type Mode string

const (
	ModeCompact  Mode = "compact"
	ModeCompress Mode = "compress"
	ModeAuto     Mode = "auto"
)

// Result is the outcome of an offload run. On failure Messages is always the
// caller's original list; offload never destroys conversation content.
type Result struct {
	Messages   []llm.Message `json:"messages"`
	Success    bool          `json:"success"`
	PreTokens  int           `json:"pre_tokens"`
	PostTokens int           `json:"post_tokens"`
	Compressed bool          `json:"compressed"`
}

// Run applies the selected stage(s) to msgs and records the run on the
// configured metrics.
func Run(ctx context.Context, cfg *Config, mode Mode, msgs []llm.Message) Result {
	ctx, span := tracer.Start(ctx, "offload.run")
	defer span.End()

	res := apply(ctx, cfg, mode, msgs)

	span.SetAttributes(telemetry.OffloadAttributes(
		string(mode), res.PreTokens, res.PostTokens, res.Compressed)...)
	if res.Success {
		cfg.Metrics.RecordOffload(ctx, string(mode), res.PreTokens, res.PostTokens)
	}
	return res
}

func apply(ctx context.Context, cfg *Config, mode Mode, msgs []llm.Message) Result {
	counter := cfg.counter()
	res := Result{Messages: msgs, PreTokens: CountAll(counter, msgs)}

	switch mode {
	case ModeCompact:
		out, err := Compact(cfg, msgs)
		if err != nil {
			return res
		}
		res.Messages = out

	case ModeCompress:
		out, err := Compress(ctx, cfg, msgs)
		if err != nil {
			return res
		}
		res.Messages = out
		res.Compressed = changed(msgs, out)

	case ModeAuto:
		compacted, err := Compact(cfg, msgs)
		if err != nil {
			return res
		}
		post := CountAll(counter, compacted)
		// Compression kicks in only when compaction alone was not enough:
		// the post/pre ratio must strictly exceed the threshold. An empty
		// conversation has nothing to gain.
		if res.PreTokens > 0 && float64(post)/float64(res.PreTokens) > cfg.ratio() {
			out, err := Compress(ctx, cfg, compacted)
			if err != nil {
				return res
			}
			res.Messages = out
			res.Compressed = changed(compacted, out)
		} else {
			res.Messages = compacted
		}

	default:
		return res
	}

	res.Success = true
	res.PostTokens = CountAll(counter, res.Messages)
	return res
}

// changed reports whether a stage produced a different message list.
// Compress hands back the caller's list untouched when the candidates
// already fit the budget.
func changed(before, after []llm.Message) bool {
	if len(before) != len(after) {
		return true
	}
	for i := range before {
		if before[i].Role != after[i].Role || before[i].Content != after[i].Content {
			return true
		}
	}
	return false
}

func parseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCompact, ModeCompress, ModeAuto:
		return Mode(s), nil
	case "":
		return ModeAuto, nil
	default:
		return "", errors.Newf(errors.CodeInvalidArguments, "unknown offload mode %q", s)
	}
}
