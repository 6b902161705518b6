package main

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"flag"
	"fmt"
	"strings"

	"github.com/loomworks/loom/pkg/config"
	"github.com/loomworks/loom/pkg/core"
	"github.com/loomworks/loom/pkg/flow"
	"github.com/loomworks/loom/pkg/op"
)

func runRun(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	expr := cmd.String("expr", "", "Flow expression to execute")
	name := cmd.String("flow", "", "Registered flow name to execute")
	stream := cmd.Bool("stream", false, "Stream chunks as they arrive (with -expr)")
	var inputs multiFlag
	cmd.Var(&inputs, "arg", "Flow input key=value (repeatable)")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	ensureNoArgs(cmd.Args())

	shutdown, err := initTelemetry(cfg)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	reg, _, err := buildRegistry(ctx, cfg)
	if err != nil {
		fatal(err)
	}

	var f *flow.Flow
	switch {
	case *expr != "" && *name != "":
		fatal(goerrors.New("use either -expr or -flow, not both"))
	case *expr != "":
		f, err = adhocFlow(*expr, *stream, cfg.Cache, reg)
		if err != nil {
			fatal(err)
		}
	case *name != "":
		f, err = reg.Flow(*name)
		if err != nil {
			fatal(err)
		}
	default:
		fatal(goerrors.New("usage: loom run (-expr '<expression>' | -flow <name>) [-arg k=v ...]"))
	}

	kwargs := parseInputs(inputs)

	if f.Streaming() {
		streamToStdout(ctx, f, kwargs)
		return
	}

	resp, err := callFlow(ctx, f, kwargs)
	if err != nil {
		fatal(err)
	}
	if global.JSON {
		printJSON(resp)
		return
	}
	fmt.Println(renderValue(resp.Answer))
	if !resp.Success {
		fatal(goerrors.New("flow reported failure"))
	}
}

// adhocFlow wraps an expression in a one-off flow. Non-streaming ad-hoc
// flows pick up the response cache configured under the cache section.
func adhocFlow(expr string, stream bool, cacheCfg config.CacheConfig, reg *flow.Registry) (*flow.Flow, error) {
	var opts []flow.Option
	if stream {
		opts = append(opts, flow.WithStreaming())
	} else {
		store, err := defaultCache(cacheCfg)
		if err != nil {
			return nil, err
		}
		if store != nil {
			opts = append(opts, flow.WithCache(store))
		}
	}
	return flow.FromExpression("adhoc", expr, reg, opts...), nil
}

// callFlow dispatches on the flow's execution mode.
func callFlow(ctx context.Context, f *flow.Flow, kwargs map[string]any) (*core.Response, error) {
	mode, err := f.Mode()
	if err != nil {
		return nil, err
	}
	if mode == op.ModeAsync {
		task, err := f.CallAsync(ctx, kwargs)
		if err != nil {
			return nil, err
		}
		v, err := task.Wait(ctx)
		if err != nil {
			return nil, err
		}
		return v.(*core.Response), nil
	}
	return f.Call(ctx, kwargs)
}

func streamToStdout(ctx context.Context, f *flow.Flow, kwargs map[string]any) {
	chunks, err := f.Stream(ctx, kwargs)
	if err != nil {
		fatal(err)
	}
	for chunk := range chunks {
		if chunk.Err != nil {
			fatal(chunk.Err)
		}
		if chunk.Answer != "" {
			fmt.Print(chunk.Answer)
		}
		if chunk.Done {
			fmt.Println()
		}
	}
}

// parseInputs turns repeated key=value pairs into flow kwargs. Values that
// parse as JSON keep their type; everything else stays a string.
func parseInputs(inputs []string) map[string]any {
	kwargs := make(map[string]any, len(inputs))
	for _, in := range inputs {
		key, value, found := strings.Cut(in, "=")
		if !found {
			fatal(fmt.Errorf("invalid -arg %q, want key=value", in))
		}
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			kwargs[key] = parsed
		} else {
			kwargs[key] = value
		}
	}
	return kwargs
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		payload, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(payload)
	}
}

func printJSON(value any) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(payload))
}

type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}
