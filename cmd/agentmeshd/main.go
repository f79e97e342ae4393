// Package main provides the CLI entry point for the agent mesh runtime: a
// minimal interactive REPL that submits requirements to the organization's
// root agent and lets an operator address any live agent directly.
//
// # Basic Usage
//
// Start the REPL:
//
//	agentmeshd serve --root-prompt "You coordinate the organization."
//
// Inside the REPL:
//
//	help                   show available commands
//	target                 show the current message target
//	use <agentId>          set the current target
//	to <agentId> <text>    send text to a specific agent without changing target
//	<free text>            send text to the current target
//	exit                   quit
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmesh/runtime/internal/config"
	"github.com/agentmesh/runtime/internal/httpapi"
	"github.com/agentmesh/runtime/internal/orgtemplate"
	"github.com/agentmesh/runtime/internal/runtime"
	"github.com/agentmesh/runtime/internal/uibridge"
	"github.com/agentmesh/runtime/pkg/models"
)

// Build information, populated by ldflags during build.
//
// Example build command:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentmeshd",
		Short:        "agentmeshd - multi-agent runtime demo CLI",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd())
	return root
}

func buildServeCmd() *cobra.Command {
	var (
		configPath      string
		artifactsDir    string
		runtimeDir      string
		llmServicesDir  string
		rootPrompt      string
		defaultService  string
		httpAddr        string
		orgTemplatePath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the runtime, its HTTP API, and an interactive REPL against it",
		RunE: func(cmd *cobra.Command, args []string) error {
			runtimeCfg, resolvedHTTPAddr, err := resolveRuntimeConfig(configPath, runtime.Config{
				RootPrompt:       rootPrompt,
				ArtifactsDir:     artifactsDir,
				RuntimeDir:       runtimeDir,
				LLMServicesPath:  llmServicesDir,
				DefaultServiceID: defaultService,
				Logger:           slog.Default(),
			}, httpAddr)
			if err != nil {
				return fmt.Errorf("resolve config: %w", err)
			}

			rt, err := runtime.New(runtimeCfg)
			if err != nil {
				return fmt.Errorf("construct runtime: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := rt.Init(ctx); err != nil {
				return fmt.Errorf("init runtime: %w", err)
			}
			rt.Start(ctx)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := rt.Shutdown(shutdownCtx); err != nil {
					slog.Error("shutdown error", "error", err)
				}
			}()

			templates, err := orgtemplate.NewRegistry(orgTemplatePath)
			if err != nil {
				return fmt.Errorf("load org templates: %w", err)
			}

			apiServer := httpapi.New(httpapi.Config{
				Runtime:   rt,
				Bus:       rt.Bus,
				State:     rt.State,
				Org:       rt.Org,
				Artifacts: rt.Artifacts,
				Registry:  rt.Registry,
				Templates: templates,
				Bridge:    uibridge.New(),
				Processor: rt.Processor,
				Logger:    slog.Default(),
			})

			go func() {
				if err := apiServer.ListenAndServe(ctx, resolvedHTTPAddr); err != nil {
					slog.Error("http api server stopped", "error", err)
				}
			}()

			return runREPL(ctx, rt, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file (internal/config); flags below are used only when this is empty")
	cmd.Flags().StringVar(&artifactsDir, "artifacts-dir", "./agentmesh-data/artifacts", "directory backing the artifact store")
	cmd.Flags().StringVar(&runtimeDir, "runtime-dir", "./agentmesh-data/runtime", "directory holding the snapshot database (empty disables persistence)")
	cmd.Flags().StringVar(&llmServicesDir, "llm-services", "", "path to the local llm-services catalog file")
	cmd.Flags().StringVar(&rootPrompt, "root-prompt", "You are the root agent coordinating this organization.", "system prompt seeded onto the root agent on first init")
	cmd.Flags().StringVar(&defaultService, "default-service", "", "llm service id used by roles that declare no preferred service")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "listen address for the HTTP API (internal/httpapi); used only when --config is empty")
	cmd.Flags().StringVar(&orgTemplatePath, "org-templates", "./agentmesh-data/org-templates.json", "path to the org-template catalog file")
	return cmd
}

// resolveRuntimeConfig loads configPath through internal/config when set,
// otherwise falls through to the flag-derived fallback and httpAddr flag
// built by the caller. Returns the resolved runtime config and HTTP listen
// address.
func resolveRuntimeConfig(configPath string, fallback runtime.Config, httpAddr string) (runtime.Config, string, error) {
	if configPath == "" {
		return fallback, httpAddr, nil
	}
	cfg, err := config.Load(configPath, slog.Default())
	if err != nil {
		return runtime.Config{}, "", err
	}
	return cfg.RuntimeConfig(slog.Default()), cfg.HTTPAddr, nil
}

// runREPL drives the minimal CLI surface: help, exit, target, use <agentId>,
// to <agentId> <text>, and free text sent to the current target. A
// background goroutine prints any message the bus delivers to the user.
func runREPL(ctx context.Context, rt *runtime.Runtime, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "agentmeshd ready. Type 'help' for commands.")

	go watchUserInbox(ctx, rt, out)

	target := models.RootAgentID
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprintf(out, "[%s]> ", target)
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "exit":
			return nil
		case "help":
			printHelp(out)
		case "target":
			fmt.Fprintf(out, "current target: %s\n", target)
		case "use":
			if len(fields) < 2 {
				fmt.Fprintln(out, "usage: use <agentId>")
				continue
			}
			target = fields[1]
			fmt.Fprintf(out, "target set to %s\n", target)
		case "to":
			if len(fields) < 3 {
				fmt.Fprintln(out, "usage: to <agentId> <text>")
				continue
			}
			sendText(rt, fields[1], strings.Join(fields[2:], " "))
		default:
			sendText(rt, target, line)
		}
	}
}

func sendText(rt *runtime.Runtime, agentID, text string) {
	rt.Bus.Send(&models.Message{
		From:    models.UserAgentID,
		To:      agentID,
		Payload: models.Payload{Text: text},
	})
}

func printHelp(out io.Writer) {
	fmt.Fprintln(out, `Commands:
  help                   show this message
  target                 show the current message target
  use <agentId>          set the current target
  to <agentId> <text>    send text to a specific agent
  <free text>            send text to the current target
  exit                   quit`)
}

func watchUserInbox(ctx context.Context, rt *runtime.Runtime, out io.Writer) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				msg, ok := rt.Bus.Pop(models.UserAgentID)
				if !ok {
					break
				}
				fmt.Fprintf(out, "\n[%s -> you] %s\n", msg.From, msg.Payload.Text)
			}
		}
	}
}
