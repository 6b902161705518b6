package main

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loomworks/loom/pkg/config"
	"github.com/loomworks/loom/pkg/errors"
	"github.com/loomworks/loom/pkg/flow"
	"github.com/loomworks/loom/pkg/telemetry"
)

func runServe(ctx context.Context, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := cmd.String("addr", cfg.Server.Addr, "Listen address")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	ensureNoArgs(cmd.Args())

	shutdown, err := initTelemetry(cfg)
	if err != nil {
		fatal(err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	reg, metrics, err := buildRegistry(ctx, cfg)
	if err != nil {
		fatal(err)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newMux(reg, metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(stopCtx)
	}()

	slog.Info("http server listening", "addr", *addr)
	if err := srv.ListenAndServe(); err != nil && !goerrors.Is(err, http.ErrServerClosed) {
		fatal(err)
	}
}

func newMux(reg *flow.Registry, metrics *telemetry.EngineMetrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/flows", handleListFlows(reg))
	mux.HandleFunc("POST /v1/flows/{name}", handleCallFlow(reg, metrics))
	return mux
}

func handleListFlows(reg *flow.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		type entry struct {
			Name      string `json:"name"`
			Mode      string `json:"mode"`
			Streaming bool   `json:"streaming"`
		}
		var out []entry
		for _, f := range reg.Flows() {
			e := entry{Name: f.Name(), Streaming: f.Streaming()}
			if mode, err := f.Mode(); err == nil {
				e.Mode = mode.String()
			}
			out = append(out, e)
		}
		writeJSON(w, http.StatusOK, map[string]any{"flows": out})
	}
}

func handleCallFlow(reg *flow.Registry, metrics *telemetry.EngineMetrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		f, err := reg.Flow(name)
		if err != nil {
			writeError(w, err)
			return
		}

		var kwargs map[string]any
		if err := json.NewDecoder(r.Body).Decode(&kwargs); err != nil && !goerrors.Is(err, io.EOF) {
			writeError(w, errors.New(errors.CodeInvalidArguments, "invalid request body", err))
			return
		}

		if f.Streaming() {
			serveSSE(w, r, f, kwargs, metrics)
			return
		}

		start := time.Now()
		resp, err := callFlow(r.Context(), f, kwargs)
		elapsed := float64(time.Since(start)) / float64(time.Millisecond)
		if err != nil {
			metrics.RecordFlowCall(r.Context(), name, elapsed, false)
			metrics.RecordFlowError(r.Context(), name, string(errors.CodeOf(err)))
			writeError(w, err)
			return
		}
		metrics.RecordFlowCall(r.Context(), name, elapsed, resp.Success)
		writeJSON(w, http.StatusOK, resp)
	}
}

// serveSSE streams flow chunks as server-sent events. Every chunk becomes
// one data event; errors become an error event; the stream ends after the
// terminal chunk.
func serveSSE(w http.ResponseWriter, r *http.Request, f *flow.Flow, kwargs map[string]any, metrics *telemetry.EngineMetrics) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.Newf(errors.CodeInternal, "response writer does not support streaming"))
		return
	}

	start := time.Now()
	chunks, err := f.Stream(r.Context(), kwargs)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	success := true
	for chunk := range chunks {
		if chunk.Err != nil {
			success = false
			payload, _ := json.Marshal(map[string]any{
				"error": chunk.Err.Error(),
				"code":  string(errors.CodeOf(chunk.Err)),
			})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
			flusher.Flush()
			break
		}
		payload, merr := json.Marshal(chunk)
		if merr != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	metrics.RecordFlowCall(r.Context(), f.Name(), elapsed, success)
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, err error) {
	le := errors.AsLoomError(err)
	writeJSON(w, le.HTTPStatus(), map[string]any{"error": le})
}
