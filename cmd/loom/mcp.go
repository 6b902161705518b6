package main

import (
	"context"
	goerrors "errors"
	"log/slog"

	"github.com/loomworks/loom/pkg/config"
	loommcp "github.com/loomworks/loom/pkg/mcp"
)

func runMCP(ctx context.Context, cfg *config.Config, args []string) {
	ensureNoArgs(args)

	reg, _, err := buildRegistry(ctx, cfg)
	if err != nil {
		fatal(err)
	}

	srv := loommcp.NewServer("loom", version)
	exposed, err := srv.RegisterFlows(reg)
	if err != nil {
		fatal(err)
	}
	if len(exposed) == 0 {
		fatal(goerrors.New("no synchronous flows to expose; declare flows in the config flow file"))
	}

	// Protocol traffic owns stdout; logs go to stderr.
	slog.Info("mcp server starting", "tools", exposed)
	if err := srv.ServeStdio(); err != nil {
		fatal(err)
	}
}
