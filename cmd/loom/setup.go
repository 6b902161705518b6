package main

import (
	"context"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomworks/loom/pkg/cache"
	"github.com/loomworks/loom/pkg/config"
	"github.com/loomworks/loom/pkg/core"
	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/flow"
	"github.com/loomworks/loom/pkg/llm"
	"github.com/loomworks/loom/pkg/memory"
	"github.com/loomworks/loom/pkg/memory/chromem"
	ollamaembed "github.com/loomworks/loom/pkg/memory/ollama"
	"github.com/loomworks/loom/pkg/memory/qdrant"
	"github.com/loomworks/loom/pkg/offload"
	"github.com/loomworks/loom/pkg/op"
	"github.com/loomworks/loom/pkg/resilience"
	"github.com/loomworks/loom/pkg/telemetry"
)

// buildRegistry assembles the component registry from configuration:
// backends, the built-in op vocabulary, and any declared flows. The returned
// metrics instance is shared by the offload ops and the serving layer.
func buildRegistry(ctx context.Context, cfg *config.Config) (*flow.Registry, *telemetry.EngineMetrics, error) {
	reg := flow.NewRegistry()

	raw, err := buildProvider(cfg.LLM)
	if err != nil {
		return nil, nil, err
	}
	policy := resilience.DefaultPolicy()
	if cfg.LLM.MaxRetries > 0 {
		policy = policy.Attempts(cfg.LLM.MaxRetries)
	}
	retrying := llm.WithRetry(raw, policy)
	reg.RegisterProvider(cfg.LLM.Provider, retrying)

	embedder := memory.NewBatched(
		ollamaembed.New(cfg.Embedder.BaseURL, cfg.Embedder.Model),
		cfg.Embedder.MaxBatchSize,
		resilience.DefaultPolicy(),
	)
	reg.RegisterEmbedder(cfg.Embedder.Provider, embedder)

	store, err := buildStore(cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	if err := ensureCollection(ctx, store, cfg.Store); err != nil {
		return nil, nil, err
	}
	reg.RegisterStore(cfg.Store.Provider, store)

	metrics, err := telemetry.NewEngineMetrics()
	if err != nil {
		return nil, nil, err
	}

	ocfg, err := offloadSettings(cfg, retrying, metrics)
	if err != nil {
		return nil, nil, err
	}

	reg.RegisterOp("chat", chatFactory(raw, retrying, cfg.LLM))
	reg.RegisterOp("compact", func(args map[string]any) (op.Op, error) {
		return offload.NewCompactOp(ocfg), nil
	})
	reg.RegisterOp("compress", func(args map[string]any) (op.Op, error) {
		return offload.NewCompressOp(ocfg), nil
	})
	reg.RegisterOp("offload", func(args map[string]any) (op.Op, error) {
		return offload.NewOffloadOp(ocfg), nil
	})

	if cfg.Flows != "" {
		if _, err := flow.Load(cfg.Flows, reg); err != nil {
			return nil, nil, err
		}
	}
	return reg, metrics, nil
}

// ensureCollection creates the configured vector collection when the backend
// does not have it yet.
func ensureCollection(ctx context.Context, store memory.VectorStore, cfg config.StoreConfig) error {
	if cfg.Collection == "" {
		return nil
	}
	names, err := store.ListCollections(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(names, cfg.Collection) {
		return nil
	}
	return store.CreateCollection(ctx, cfg.Collection, cfg.VectorSize)
}

// defaultCache opens the response-cache namespace from configuration. A
// blank dir disables caching.
func defaultCache(cfg config.CacheConfig) (*cache.Cache, error) {
	if cfg.Dir == "" {
		return nil, nil
	}
	return cache.Open(cfg.Dir, cfg.TTL)
}

func buildProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "", "ollama":
		return llm.NewOllama(cfg.BaseURL), nil
	default:
		return nil, errors.Newf(errors.CodeConfiguration,
			"unknown llm provider %q", cfg.Provider)
	}
}

func buildStore(cfg config.StoreConfig) (memory.VectorStore, error) {
	switch cfg.Provider {
	case "", "inmemory":
		return memory.NewInMemory(), nil
	case "chromem":
		return chromem.New(), nil
	case "qdrant":
		return qdrant.New(cfg.QdrantAddr)
	default:
		return nil, errors.Newf(errors.CodeConfiguration,
			"unknown vector store %q", cfg.Provider)
	}
}

func offloadSettings(cfg *config.Config, provider llm.Provider, metrics *telemetry.EngineMetrics) (*offload.Config, error) {
	store, err := memory.NewFileStore(cfg.Offload.Dir)
	if err != nil {
		return nil, err
	}
	return &offload.Config{
		TokenBudget:         cfg.Offload.TokenBudget,
		PerMessageBudget:    cfg.Offload.PerMessageBudget,
		KeepRecent:          cfg.Offload.KeepRecent,
		GroupTokenThreshold: cfg.Offload.GroupTokenThreshold,
		Ratio:               cfg.Offload.Ratio,
		PreviewLen:          cfg.Offload.PreviewLen,
		Store:               store,
		Provider:            provider,
		Model:               cfg.LLM.Model,
		Metrics:             metrics,
	}, nil
}

// chatFactory builds the "chat" op: one prompt in, one completion out. The
// retrying provider serves aggregated calls; the raw provider serves chunk
// streaming when the flow runs with a stream attached.
func chatFactory(raw, retrying llm.Provider, cfg config.LLMConfig) flow.Factory {
	return func(args map[string]any) (op.Op, error) {
		system, _ := args["system"].(string)
		model := cfg.Model
		if m, ok := args["model"].(string); ok && m != "" {
			model = m
		}
		temp := cfg.Temp
		switch v := args["temperature"].(type) {
		case float64:
			temp = v
		case int:
			temp = float64(v)
		}

		spec := op.ToolSpec{
			Name:        "chat",
			Description: "send the prompt to the configured model",
			Params: []op.Field{{Name: "prompt", Type: "string", Required: true,
				Description: "user prompt"}},
			Results: []op.Field{{Name: "answer", Type: "string"}},
		}
		return op.NewFunc(spec, op.ModeSync, func(ctx context.Context, c *core.Context) (any, error) {
			prompt, err := c.GetString("prompt")
			if err != nil {
				return nil, err
			}
			req := llm.ChatRequest{Model: model, Temperature: temp}
			if system != "" {
				req.Messages = append(req.Messages, llm.Message{Role: llm.RoleSystem, Content: system})
			}
			req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, Content: prompt})

			if c.Stream != nil {
				if sp, ok := raw.(llm.StreamingProvider); ok {
					return streamChat(ctx, c, sp, req, cfg.Provider)
				}
			}
			resp, err := retrying.Chat(ctx, req)
			if err != nil {
				return nil, err
			}
			recordUsage(ctx, cfg.Provider, req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			return resp.Content, nil
		}), nil
	}
}

func streamChat(ctx context.Context, c *core.Context, sp llm.StreamingProvider, req llm.ChatRequest, provider string) (any, error) {
	chunks, err := sp.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	var answer strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		if chunk.Usage != nil {
			recordUsage(ctx, provider, req.Model, chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
		}
		if chunk.Done {
			break
		}
		c.Emit(chunk)
		answer.WriteString(chunk.Answer)
	}
	return answer.String(), nil
}

// recordUsage annotates the active span with the model identity and the
// token usage of one completion.
func recordUsage(ctx context.Context, provider, model string, inTokens, outTokens int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String(telemetry.AttrLLMProvider, provider),
		attribute.String(telemetry.AttrLLMModel, model),
	)
	span.SetAttributes(telemetry.LLMUsageAttributes(inTokens, outTokens)...)
}

func initTelemetry(cfg *config.Config) (telemetry.ShutdownFunc, error) {
	if !cfg.Telemetry.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	return telemetry.InitWithConfig("loom", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPHeaders:  cfg.Telemetry.OTLPHeaders,
	})
}
