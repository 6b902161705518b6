package offload

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/loomworks/loom/pkg/core"
	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/memory"
	"github.com/loomworks/loom/pkg/op"
	"github.com/loomworks/loom/pkg/telemetry"
)

func testStore(t *testing.T) *memory.FileStore {
	t.Helper()
	store, err := memory.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

// latin produces text costing exactly `tokens` under RuleCounter (4 chars
// per token).
func latin(tokens int) string {
	return strings.Repeat("a", tokens*4)
}

func TestRuleCounter(t *testing.T) {
	c := RuleCounter{}
	if got := c.Count("abcd"); got != 1 {
		t.Errorf("4 latin chars should cost 1 token, got %d", got)
	}
	if got := c.Count("你好"); got != 1 {
		t.Errorf("2 CJK chars should cost 1 token, got %d", got)
	}
	if got := c.Count("a"); got != 1 {
		t.Errorf("fractional cost must round up, got %d", got)
	}
	if got := c.Count(""); got != 0 {
		t.Errorf("empty text costs nothing, got %d", got)
	}
}

func TestCompactScenario(t *testing.T) {
	// 25 messages, budget 20000, keep the last 10, one tool message of 5000
	// tokens against a 2000 per-message threshold. Only that message changes.
	msgs := make([]llm.Message, 25)
	for i := range msgs {
		msgs[i] = llm.Message{Role: llm.RoleUser, Content: latin(1200)}
	}
	msgs[5] = llm.Message{Role: llm.RoleTool, ToolCallID: "call_big", Content: latin(5000)}

	cfg := &Config{
		TokenBudget:      20000,
		PerMessageBudget: 2000,
		KeepRecent:       10,
		Store:            testStore(t),
	}
	offloadable := func(list []llm.Message) int {
		total := 0
		for i := range list {
			if !protected(list, i, cfg.KeepRecent) {
				total += CountMessage(cfg.counter(), list[i])
			}
		}
		return total
	}
	if before := offloadable(msgs); before <= 20000 {
		t.Fatalf("scenario needs to start over budget, got %d", before)
	}

	out, err := Compact(cfg, msgs)
	if err != nil {
		t.Fatal(err)
	}
	if after := offloadable(out); after >= 20000 {
		t.Errorf("post-compaction count must drop under budget, got %d", after)
	}
	if !strings.Contains(out[5].Content, "call_big") {
		t.Errorf("spilled message must reference its file, got %q", out[5].Content)
	}
	for i := range out {
		if i == 5 {
			continue
		}
		if !reflect.DeepEqual(out[i], msgs[i]) {
			t.Errorf("message %d must be untouched", i)
		}
	}

	// The spilled content is recoverable from the store.
	content, err := cfg.Store.Load("call_big")
	if err != nil {
		t.Fatal(err)
	}
	if content != latin(5000) {
		t.Error("spilled file must hold the full original content")
	}
}

func TestCompactIdempotent(t *testing.T) {
	// Over total budget but every tool message below the per-message
	// threshold: nothing changes.
	msgs := []llm.Message{
		{Role: llm.RoleTool, ToolCallID: "a", Content: latin(500)},
		{Role: llm.RoleUser, Content: latin(700)},
	}
	cfg := &Config{TokenBudget: 100, PerMessageBudget: 2000, Store: testStore(t)}

	out, err := Compact(cfg, msgs)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, msgs) {
		t.Error("compacting an already-compacted list must change nothing")
	}
}

func TestCompactUnderBudgetIsNoop(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleTool, Content: latin(5000)},
		{Role: llm.RoleUser, Content: latin(100)},
	}
	cfg := &Config{TokenBudget: 10000, PerMessageBudget: 10, Store: testStore(t)}
	out, err := Compact(cfg, msgs)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, msgs) {
		t.Error("within budget, even oversized tool messages stay put")
	}
}

func TestCompactPreview(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleTool, ToolCallID: "x", Content: "abcdefghij" + latin(5000)},
	}
	cfg := &Config{TokenBudget: 1, PerMessageBudget: 1, PreviewLen: 10, Store: testStore(t)}
	out, err := Compact(cfg, msgs)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out[0].Content, "preview: abcdefghij...") {
		t.Errorf("preview missing: %q", out[0].Content)
	}
}

func TestSplitGroups(t *testing.T) {
	counter := RuleCounter{}
	msgs := []llm.Message{
		{Content: latin(30)},
		{Content: latin(30)},
		{Content: latin(90)}, // over threshold on its own
		{Content: latin(30)},
	}

	groups := splitGroups(counter, msgs, 70)
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if len(groups[0]) != 2 || len(groups[1]) != 1 || len(groups[2]) != 1 {
		t.Errorf("unexpected grouping: %d/%d/%d", len(groups[0]), len(groups[1]), len(groups[2]))
	}

	if got := splitGroups(counter, msgs, 0); len(got) != 1 || len(got[0]) != 4 {
		t.Error("zero threshold means one group")
	}
	if got := splitGroups(counter, nil, 70); got != nil {
		t.Error("no messages, no groups")
	}
}

func TestCompressSplicesSummary(t *testing.T) {
	provider := &llm.MockProvider{Response: "<state>the agent agreed to use Go</state>"}
	cfg := &Config{
		TokenBudget: 10,
		KeepRecent:  2,
		Store:       testStore(t),
		Provider:    provider,
	}
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "be helpful"},
		{Role: llm.RoleUser, Content: latin(50)},
		{Role: llm.RoleAssistant, Content: latin(50)},
		{Role: llm.RoleUser, Content: "recent one"},
		{Role: llm.RoleAssistant, Content: "recent two"},
	}

	out, err := Compress(context.Background(), cfg, msgs)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 4 {
		t.Fatalf("expected system + summary + 2 recent, got %d messages", len(out))
	}
	if out[0].Role != llm.RoleSystem {
		t.Error("system message must stay first")
	}
	summary := out[1]
	if summary.Role != llm.RoleAssistant {
		t.Errorf("summary must be a synthetic assistant message, got %s", summary.Role)
	}
	if !strings.Contains(summary.Content, "[part 1 | file: ") {
		t.Errorf("summary must carry part index and backing file, got %q", summary.Content)
	}
	if !strings.Contains(summary.Content, "the agent agreed to use Go") {
		t.Errorf("state tag body missing from %q", summary.Content)
	}
	if out[2].Content != "recent one" || out[3].Content != "recent two" {
		t.Error("recent tail must be preserved in order")
	}
}

func TestCompressRawFallback(t *testing.T) {
	if got := extractState("no tags here"); got != "no tags here" {
		t.Errorf("missing tag must fall back to raw text, got %q", got)
	}
	if got := extractState("x <state> snapshot </state> y"); got != "snapshot" {
		t.Errorf("tag body expected, got %q", got)
	}
	if got := extractState("<state> unterminated"); got != "<state> unterminated" {
		t.Errorf("unterminated tag must fall back, got %q", got)
	}
}

func TestCompressionIsAtomic(t *testing.T) {
	calls := 0
	provider := &llm.MockProvider{ChatFunc: func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		calls++
		if calls == 2 {
			return nil, stderrors.New("model unavailable")
		}
		return &llm.ChatResponse{Content: fmt.Sprintf("<state>part %d</state>", calls)}, nil
	}}
	cfg := &Config{
		TokenBudget:         10,
		GroupTokenThreshold: 60,
		Store:               testStore(t),
		Provider:            provider,
	}
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: latin(50)},
		{Role: llm.RoleUser, Content: latin(50)},
		{Role: llm.RoleUser, Content: latin(50)},
	}

	out, err := Compress(context.Background(), cfg, msgs)
	if !errors.Is(err, errors.CodeCompressionFailure) {
		t.Fatalf("expected CodeCompressionFailure, got %v", err)
	}
	if !reflect.DeepEqual(out, msgs) {
		t.Error("a failed group must leave the original messages untouched")
	}
}

func TestAutoCompressesOnlyAboveThreshold(t *testing.T) {
	// No tool messages, so compaction cannot shrink anything: post == pre.
	mkMsgs := func() []llm.Message {
		return []llm.Message{
			{Role: llm.RoleUser, Content: latin(50)},
			{Role: llm.RoleUser, Content: latin(50)},
		}
	}
	mkCfg := func(ratio float64) (*Config, *llm.MockProvider) {
		provider := &llm.MockProvider{Response: "<state>s</state>"}
		return &Config{
			TokenBudget:      10,
			PerMessageBudget: 10,
			Ratio:            ratio,
			Store:            testStore(t),
			Provider:         provider,
		}, provider
	}

	// post/pre == 1.0, threshold 1.0: equal must NOT trigger Compress.
	cfg, provider := mkCfg(1.0)
	res := Run(context.Background(), cfg, ModeAuto, mkMsgs())
	if !res.Success {
		t.Fatal("auto run should succeed")
	}
	if provider.Calls != 0 {
		t.Error("ratio equal to threshold must not compress")
	}
	if res.Compressed {
		t.Error("result must not be marked compressed")
	}

	// post/pre == 1.0, threshold 0.75: strictly above, Compress runs.
	cfg, provider = mkCfg(0.75)
	res = Run(context.Background(), cfg, ModeAuto, mkMsgs())
	if !res.Success {
		t.Fatal("auto run should succeed")
	}
	if provider.Calls == 0 {
		t.Error("ratio above threshold must compress")
	}
	if !res.Compressed {
		t.Error("result must be marked compressed")
	}
	if res.PostTokens >= res.PreTokens {
		t.Errorf("compression should shrink the conversation: %d -> %d",
			res.PreTokens, res.PostTokens)
	}
}

func TestAutoSkipsEmptyConversation(t *testing.T) {
	provider := &llm.MockProvider{}
	cfg := &Config{TokenBudget: 10, Store: testStore(t), Provider: provider, Ratio: 0.5}

	res := Run(context.Background(), cfg, ModeAuto, nil)
	if !res.Success {
		t.Error("empty conversation offload should succeed trivially")
	}
	if provider.Calls != 0 {
		t.Error("zero pre-count must skip compression")
	}
}

func TestCompressUnderBudgetNotMarkedCompressed(t *testing.T) {
	provider := &llm.MockProvider{Response: "<state>s</state>"}
	cfg := &Config{TokenBudget: 1000, Store: testStore(t), Provider: provider}
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: latin(10)},
		{Role: llm.RoleAssistant, Content: latin(10)},
	}

	res := Run(context.Background(), cfg, ModeCompress, msgs)
	if !res.Success {
		t.Fatal("under-budget compress must succeed")
	}
	if provider.Calls != 0 {
		t.Error("under-budget compress must not call the model")
	}
	if res.Compressed {
		t.Error("unchanged messages must not be marked compressed")
	}
	if !reflect.DeepEqual(res.Messages, msgs) {
		t.Error("messages must come back unchanged")
	}
}

func TestRunRecordsDroppedTokens(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	metrics, err := telemetry.NewEngineMetrics()
	if err != nil {
		t.Fatal(err)
	}

	msgs := make([]llm.Message, 25)
	for i := range msgs {
		msgs[i] = llm.Message{Role: llm.RoleUser, Content: latin(1200)}
	}
	msgs[5] = llm.Message{Role: llm.RoleTool, ToolCallID: "call_big", Content: latin(5000)}

	cfg := &Config{
		TokenBudget:      20000,
		PerMessageBudget: 2000,
		KeepRecent:       10,
		Store:            testStore(t),
		Metrics:          metrics,
	}
	res := Run(context.Background(), cfg, ModeCompact, msgs)
	if !res.Success {
		t.Fatal("compact run should succeed")
	}
	if res.PostTokens >= res.PreTokens {
		t.Fatalf("scenario must drop tokens: %d -> %d", res.PreTokens, res.PostTokens)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var dropped int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "loom.offload.tokens_dropped" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("unexpected data type %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				dropped += dp.Value
			}
		}
	}
	if want := int64(res.PreTokens - res.PostTokens); dropped != want {
		t.Errorf("tokens_dropped = %d, want %d", dropped, want)
	}
}

func TestRunFailureKeepsOriginal(t *testing.T) {
	provider := &llm.FailingProvider{}
	cfg := &Config{TokenBudget: 10, Store: testStore(t), Provider: provider}
	msgs := []llm.Message{{Role: llm.RoleUser, Content: latin(100)}}

	res := Run(context.Background(), cfg, ModeCompress, msgs)
	if res.Success {
		t.Error("failed compression must report success=false")
	}
	if !reflect.DeepEqual(res.Messages, msgs) {
		t.Error("failed offload must hand back the original messages")
	}
}

func TestOffloadOpWritesResult(t *testing.T) {
	cfg := &Config{TokenBudget: 10000, PerMessageBudget: 100, Store: testStore(t)}
	o := NewOffloadOp(cfg)

	c := core.New()
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "hi"}}
	err := op.Run(context.Background(), o, c, map[string]any{
		"messages": msgs,
		"mode":     "compact",
	})
	if err != nil {
		t.Fatal(err)
	}
	v, err := c.Get("offloaded")
	if err != nil {
		t.Fatal(err)
	}
	res, ok := v.(Result)
	if !ok {
		t.Fatalf("expected offload.Result, got %T", v)
	}
	if !res.Success {
		t.Error("trivial compact must succeed")
	}
}

func TestOffloadOpUnknownModeDegrades(t *testing.T) {
	cfg := &Config{TokenBudget: 10, Store: testStore(t)}
	o := NewOffloadOp(cfg, op.WithRaiseOnError())

	err := op.Run(context.Background(), o, core.New(), map[string]any{
		"messages": []llm.Message{},
		"mode":     "yolo",
	})
	if !errors.Is(err, errors.CodeInvalidArguments) {
		t.Errorf("expected CodeInvalidArguments, got %v", err)
	}
}
