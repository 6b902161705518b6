package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/loomworks/loom/pkg/config"
	"github.com/loomworks/loom/pkg/telemetry"
)

var version = "dev"

type globalFlags struct {
	ConfigPath string
	Profile    string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.LoadWithProfile(global.ConfigPath, global.Profile)
	if err != nil {
		fatal(err)
	}
	telemetry.ConfigureSlog(os.Stderr, telemetry.LogOptions{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	switch args[0] {
	case "run":
		runRun(ctx, global, cfg, args[1:])
	case "serve":
		runServe(ctx, cfg, args[1:])
	case "mcp":
		runMCP(ctx, cfg, args[1:])
	case "flows":
		runFlows(ctx, global, cfg, args[1:])
	case "help":
		printUsage()
	case "version":
		fmt.Println(version)
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	flags.ConfigPath = strings.TrimSpace(os.Getenv("LOOM_CONFIG"))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--profile":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --profile")
			}
			flags.Profile = args[i+1]
			i++
		case strings.HasPrefix(arg, "--profile="):
			flags.Profile = strings.TrimPrefix(arg, "--profile=")
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func runFlows(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	ensureNoArgs(args)

	reg, _, err := buildRegistry(ctx, cfg)
	if err != nil {
		fatal(err)
	}

	flows := reg.Flows()
	sort.Slice(flows, func(i, j int) bool { return flows[i].Name() < flows[j].Name() })

	if global.JSON {
		out := make([]map[string]any, 0, len(flows))
		for _, f := range flows {
			entry := map[string]any{
				"name":      f.Name(),
				"streaming": f.Streaming(),
			}
			if mode, err := f.Mode(); err == nil {
				entry["mode"] = mode.String()
			} else {
				entry["error"] = err.Error()
			}
			out = append(out, entry)
		}
		printJSON(out)
		return
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tMODE\tSTREAMING")
	for _, f := range flows {
		mode := "-"
		if m, err := f.Mode(); err == nil {
			mode = m.String()
		}
		fmt.Fprintf(writer, "%s\t%s\t%t\n", f.Name(), mode, f.Streaming())
	}
	_ = writer.Flush()
}

func printUsage() {
	fmt.Println(`loom - op/flow execution engine for agent working memory

Usage:
  loom [global flags] <command> [args]

Global flags:
  --config <path>      Path to config.yaml (or LOOM_CONFIG)
  --profile <name>     Config profile overlay (config.<name>.yaml)
  --json               JSON output

Commands:
  run (-expr '<expression>' | -flow <name>) [-arg k=v ...] [-stream]
  serve [-addr <addr>]
  mcp
  flows
  version
  help`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func ensureNoArgs(args []string) {
	if len(args) > 0 {
		fatal(fmt.Errorf("unexpected args: %v", args))
	}
}
