package offload

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/llm"
)

const compressionPrompt = `You are maintaining the working memory of a long conversation.
Summarize the following conversation segment into a dense state snapshot:
decisions made, facts established, open tasks, and tool results that later
messages rely on. Wrap the snapshot in <state></state> tags.`

// Compress folds older history into one synthetic assistant summary spliced
// between the system messages and the KeepRecent tail. The pass is atomic:
// if any group fails to summarize, the original list comes back untouched.
func Compress(ctx context.Context, cfg *Config, msgs []llm.Message) ([]llm.Message, error) {
	if cfg.Provider == nil || cfg.Store == nil {
		return msgs, errors.New(errors.CodeConfiguration, "compress needs a provider and a file store", nil)
	}
	counter := cfg.counter()

	var system, candidates, recent []llm.Message
	for i, m := range msgs {
		switch {
		case m.Role == llm.RoleSystem:
			system = append(system, m)
		case i >= len(msgs)-cfg.KeepRecent:
			recent = append(recent, m)
		default:
			candidates = append(candidates, m)
		}
	}
	if CountAll(counter, candidates) <= cfg.TokenBudget {
		return msgs, nil
	}

	groups := splitGroups(counter, candidates, cfg.GroupTokenThreshold)
	summaries := make([]string, len(groups))
	for i, group := range groups {
		rendered := renderGroup(group)
		path, err := cfg.Store.Save("", rendered)
		if err != nil {
			return msgs, errors.Newf(errors.CodeCompressionFailure,
				"persist group %d: %v", i+1, err)
		}

		summary, err := summarize(ctx, cfg, rendered)
		if err != nil {
			slog.Warn("compression aborted", "group", i+1, "error", err)
			return msgs, errors.Newf(errors.CodeCompressionFailure,
				"summarize group %d: %v", i+1, err)
		}
		summaries[i] = fmt.Sprintf("[part %d | file: %s]\n%s", i+1, path, summary)
	}

	compressed := llm.Message{
		Role:    llm.RoleAssistant,
		Content: strings.Join(summaries, "\n\n"),
	}
	out := make([]llm.Message, 0, len(system)+1+len(recent))
	out = append(out, system...)
	out = append(out, compressed)
	out = append(out, recent...)
	return out, nil
}

// splitGroups greedily packs messages until adding the next one would cross
// the threshold. A message already over the threshold becomes its own group.
// A zero threshold yields a single group.
func splitGroups(counter Counter, msgs []llm.Message, threshold int) [][]llm.Message {
	if len(msgs) == 0 {
		return nil
	}
	if threshold <= 0 {
		return [][]llm.Message{msgs}
	}

	var groups [][]llm.Message
	var current []llm.Message
	currentTokens := 0
	for _, m := range msgs {
		n := CountMessage(counter, m)
		if len(current) > 0 && currentTokens+n > threshold {
			groups = append(groups, current)
			current = nil
			currentTokens = 0
		}
		current = append(current, m)
		currentTokens += n
	}
	return append(groups, current)
}

func renderGroup(group []llm.Message) string {
	var b strings.Builder
	for _, m := range group {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Text())
	}
	return b.String()
}

// summarize asks the model for a state snapshot, preferring the <state> tag
// body and falling back to the raw response text.
func summarize(ctx context.Context, cfg *Config, rendered string) (string, error) {
	resp, err := cfg.Provider.Chat(ctx, llm.ChatRequest{
		Model: cfg.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: compressionPrompt},
			{Role: llm.RoleUser, Content: rendered},
		},
	})
	if err != nil {
		return "", err
	}
	if resp.Content == "" {
		return "", errors.New(errors.CodeCompressionFailure, "empty summary response", nil)
	}
	return extractState(resp.Content), nil
}

func extractState(s string) string {
	const open, close = "<state>", "</state>"
	start := strings.Index(s, open)
	if start < 0 {
		return strings.TrimSpace(s)
	}
	rest := s[start+len(open):]
	end := strings.Index(rest, close)
	if end < 0 {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(rest[:end])
}
