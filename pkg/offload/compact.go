package offload

import (
	"fmt"
	"log/slog"

	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/memory"
	"github.com/loomworks/loom/pkg/telemetry"
)

// Config holds the budgets and collaborators shared by both stages.
type Config struct {
	// TokenBudget is the total allowance for the messages either stage may
	// touch (system messages and the KeepRecent tail are never counted
	// against it).
	TokenBudget int

	// PerMessageBudget is the compact stage's threshold: tool messages above
	// it are spilled to the file store.
	PerMessageBudget int

	// KeepRecent is the number of trailing messages both stages leave alone.
	KeepRecent int

	// GroupTokenThreshold bounds compression groups. Zero means one group.
	GroupTokenThreshold int

	// Ratio is Auto's trigger: Compress runs only when post/pre token count
	// is strictly above it. Zero defaults to 0.75.
	Ratio float64

	// PreviewLen is how many characters of spilled content stay in context
	// next to the file reference. Zero means no preview.
	PreviewLen int

	Counter  Counter
	Store    *memory.FileStore
	Provider llm.Provider
	Model    string

	// Metrics, when set, receives one token-drop measurement per successful
	// run. A nil value records nothing.
	Metrics *telemetry.EngineMetrics
}

func (cfg *Config) counter() Counter {
	if cfg.Counter == nil {
		return RuleCounter{}
	}
	return cfg.Counter
}

func (cfg *Config) ratio() float64 {
	if cfg.Ratio <= 0 {
		return 0.75
	}
	return cfg.Ratio
}

// protected reports whether the message at index i is out of reach for the
// offload stages: system messages and the trailing KeepRecent window.
func protected(msgs []llm.Message, i, keepRecent int) bool {
	if msgs[i].Role == llm.RoleSystem {
		return true
	}
	return i >= len(msgs)-keepRecent
}

// Compact spills oversized tool messages to the file store, replacing their
// in-context content with a path reference. The input slice is never
// mutated; when nothing is over budget the input is returned as-is.
func Compact(cfg *Config, msgs []llm.Message) ([]llm.Message, error) {
	if cfg.Store == nil {
		return msgs, errors.New(errors.CodeConfiguration, "compact needs a file store", nil)
	}
	counter := cfg.counter()

	eligible := 0
	for i := range msgs {
		if !protected(msgs, i, cfg.KeepRecent) {
			eligible += CountMessage(counter, msgs[i])
		}
	}
	if eligible <= cfg.TokenBudget {
		return msgs, nil
	}

	out := append([]llm.Message(nil), msgs...)
	for i := range out {
		m := &out[i]
		if protected(out, i, cfg.KeepRecent) || m.Role != llm.RoleTool {
			continue
		}
		if CountMessage(counter, *m) <= cfg.PerMessageBudget {
			continue
		}

		content := m.Text()
		path, err := cfg.Store.Save(m.ToolCallID, content)
		if err != nil {
			return msgs, errors.Newf(errors.CodeCompactionFailure,
				"spill tool message: %v", err)
		}

		replacement := fmt.Sprintf("[tool output offloaded to %s]", path)
		if cfg.PreviewLen > 0 {
			replacement += "\npreview: " + preview(content, cfg.PreviewLen)
		}
		m.Content = replacement
		m.Blocks = nil
		slog.Debug("compacted tool message", "path", path, "index", i)
	}
	return out, nil
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
