// Foyer is a conversational front door.
//
// Before a visitor reaches the main assistant, Foyer runs a short
// discovery dialogue to learn who they are and what they want. Visitors
// who engage get handed off with a name and intent attached; visitors
// who won't are routed to a failsafe handler instead of looping forever.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	foyer serve              Start the API server
//	foyer chat               Run a discovery dialogue on the terminal
//	foyer init [dir]         Write a starter config file
//	foyer version            Print version and build information
//	foyer -o json version    Output version information as JSON
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foyerhq/foyer/internal/api"
	"github.com/foyerhq/foyer/internal/buildinfo"
	"github.com/foyerhq/foyer/internal/config"
	"github.com/foyerhq/foyer/internal/discovery"
	"github.com/foyerhq/foyer/internal/events"
	"github.com/foyerhq/foyer/internal/llm"
	"github.com/foyerhq/foyer/internal/prompts"
	"github.com/foyerhq/foyer/internal/session"
	"github.com/foyerhq/foyer/internal/usage"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the foyer command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it triggers
//     graceful shutdown of the server and background goroutines.
//   - stdout and stderr receive all program output. Structured logs go
//     to stdout; fatal error messages go to stderr.
//   - args is os.Args[1:] — the command-line arguments after the program
//     name. We parse these manually rather than using the flag package
//     to avoid global state that interferes with parallel tests.
//
// run returns nil on clean shutdown and a non-nil error for any failure.
// The caller (main) is responsible for printing the error and exiting.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parse arguments by hand. The flag package relies on package-level
	// globals (flag.CommandLine), which makes it impossible to call run()
	// concurrently from tests. Our argument surface is small enough that
	// manual parsing is clearer than bringing in a CLI framework.
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "chat":
		return runChat(ctx, stdout, stderr, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// foyer is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Foyer - Conversational Front Door")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: foyer [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  chat         Run a discovery dialogue on the terminal")
	fmt.Fprintln(w, "  init [dir]   Write a starter config file (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./foyer.yaml, ~/.config/foyer/config.yaml, /etc/foyer/config.yaml")
	return nil
}

// runInit handles "foyer init [dir]": writes the commented starter
// config so a new install has something to edit.
func runInit(stdout io.Writer, dir string) error {
	path, err := config.WriteStarter(dir)
	if err != nil {
		return err
	}
	abs, aerr := filepath.Abs(path)
	if aerr == nil {
		path = abs
	}
	fmt.Fprintf(stdout, "Wrote starter config to %s\n", path)
	fmt.Fprintln(stdout, "Edit it, then start the server with: foyer serve")
	return nil
}

// runChat handles "foyer chat": an interactive discovery dialogue on the
// terminal, using the same engine as the server but with in-memory
// state. Useful for tuning prompts and limits without HTTP in the way.
func runChat(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	engine, _ := buildEngine(cfg, logger, nil)

	st := discovery.NewState("chat")
	var history []discovery.HistoryEntry

	opening := prompts.ScriptedReply(string(st.Stage), "")
	fmt.Fprintf(stdout, "foyer: %s\n", opening)
	history = append(history, discovery.HistoryEntry{Role: "assistant", Content: opening})

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(stdout, "you: ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		out, err := engine.EvaluateTurn(ctx, st, line, history)
		if err != nil {
			return fmt.Errorf("evaluate turn: %w", err)
		}
		st = out.State
		history = append(history,
			discovery.HistoryEntry{Role: "visitor", Content: line},
			discovery.HistoryEntry{Role: "assistant", Content: out.Reply},
		)

		fmt.Fprintf(stdout, "foyer: %s\n", out.Reply)
		if st.Stage.Terminal() {
			fmt.Fprintf(stdout, "\n[%s] name=%q intent=%q turns=%d\n",
				out.Action, st.Name, st.Intent, st.Turns)
			return nil
		}
	}
	return scanner.Err()
}

// runServe handles "foyer serve". It is the primary operating mode:
// loads config, opens the session and usage databases, wires the LLM
// providers and the engine, starts the HTTP server and the optional
// MQTT outcome publisher, and blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The MQTT publisher sends its offline message and disconnects
//  3. The HTTP server drains in-flight requests
//  4. Database connections are closed via defers
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Foyer", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	// Reconfigure logger now that we know the desired level and format.
	// The initial Info-level text logger is used only for the startup
	// banner; everything after this point uses the configured settings.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by cfg.Validate, so this error path should
			// be unreachable in practice.
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"providers", cfg.Models.Providers,
		"classify_model", cfg.Models.Classify,
		"reply_model", cfg.Models.Reply,
	)

	// --- Data directory ---
	// Session state, transcripts, and token accounting live here.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Session store ---
	// SQLite-backed conversation state. Persists across restarts so an
	// in-flight discovery dialogue can resume where it left off.
	sessionPath := filepath.Join(cfg.DataDir, "sessions.db")
	sessions, err := session.NewStore(sessionPath)
	if err != nil {
		return fmt.Errorf("open session database %s: %w", sessionPath, err)
	}
	defer sessions.Close()
	logger.Info("session database opened", "path", sessionPath)

	// --- Usage store ---
	// Append-only token accounting for every LLM call.
	usagePath := filepath.Join(cfg.DataDir, "usage.db")
	usageStore, err := usage.NewStore(usagePath)
	if err != nil {
		return fmt.Errorf("open usage database %s: %w", usagePath, err)
	}
	defer usageStore.Close()

	usageFn := func(ctx context.Context, u discovery.TokenUsage) {
		if err := usageStore.Record(ctx, usage.Record{
			ConversationID: u.ConversationID,
			Purpose:        u.Purpose,
			Model:          u.Model,
			Provider:       u.Provider,
			InputTokens:    u.InputTokens,
			OutputTokens:   u.OutputTokens,
		}); err != nil {
			logger.Warn("usage record failed", "conversation", u.ConversationID, "error", err)
		}
	}

	// --- Engine ---
	engine, llmClient := buildEngine(cfg, logger, usageFn)
	logger.Info("engine initialized",
		"honest_limit", cfg.Discovery.HonestLimit,
		"non_engagement_limit", cfg.Discovery.NonEngagementLimit,
		"reset_on_capture", cfg.Discovery.ResetOnCapture,
		"max_turns", cfg.Discovery.MaxTurns,
		"llm_providers", llmClient.Len(),
	)

	// --- Outcome publisher ---
	// Optional: publishes completed/failsafe outcomes over MQTT so the
	// system that owns the chat can route the conversation onward.
	var publisher *events.Publisher
	if cfg.Events.Configured() {
		publisher = events.NewPublisher(cfg.Events, logger)
		engine.SetOutcomeFunc(publisher.Outcome)
		logger.Info("outcome publishing enabled",
			"broker", cfg.Events.Broker,
			"device_name", cfg.Events.DeviceName,
		)
	} else {
		engine.SetOutcomeFunc(events.NoopSink{}.Outcome)
		logger.Info("outcome publishing disabled (not configured)")
	}

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, engine, sessions, logger)
	server.SetHistoryTurns(cfg.Discovery.HistoryTurns)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	if publisher != nil {
		g.Go(func() error {
			return publisher.Start(gctx)
		})
	}

	g.Go(func() error {
		err := server.Start(gctx)
		if errors.Is(err, http.ErrServerClosed) || gctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		if publisher != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := publisher.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Foyer stopped")
	return nil
}

// buildEngine constructs the discovery engine with its LLM classifier
// and replier attached. usageFn may be nil to disable token accounting
// (the chat subcommand does this).
func buildEngine(cfg *config.Config, logger *slog.Logger, usageFn discovery.UsageFunc) (*discovery.Engine, *llm.Failover) {
	client := createLLMClient(cfg, logger)

	weights := discovery.Weights{
		Honest:        cfg.Discovery.Weights.Honest,
		Dismissive:    cfg.Discovery.Weights.Dismissive,
		NonEngagement: cfg.Discovery.Weights.NonEngagement,
	}

	engine := discovery.New(logger, discovery.Config{
		Limits: discovery.Limits{
			Honest:         cfg.Discovery.HonestLimit,
			NonEngagement:  cfg.Discovery.NonEngagementLimit,
			ResetOnCapture: cfg.Discovery.ResetOnCapture,
		},
		Weights:        weights,
		MaxTurns:       cfg.Discovery.MaxTurns,
		AssistantName:  cfg.Discovery.AssistantName,
		ReplyModel:     cfg.Models.Reply,
		MaxReplyTokens: cfg.Models.MaxReplyTokens,
	})

	if client.Len() > 0 {
		classifier := discovery.NewLLMClassifier(client, cfg.Models.Classify, logger)
		classifier.SetWeights(weights)
		if usageFn != nil {
			classifier.SetUsageFunc(usageFn)
		}
		engine.SetClassifier(classifier)
		engine.SetReplier(client)
	}
	if usageFn != nil {
		engine.SetUsageFunc(usageFn)
	}

	return engine, client
}

// createLLMClient builds the failover LLM client from the configured
// provider order. The first provider that answers a call wins; the rest
// are fallbacks.
func createLLMClient(cfg *config.Config, logger *slog.Logger) *llm.Failover {
	client := llm.NewFailover(logger)
	for _, p := range cfg.Models.Providers {
		switch p {
		case "ollama":
			client.Add("ollama", llm.NewOllamaClient(cfg.Models.OllamaURL, logger))
		case "anthropic":
			if cfg.Anthropic.Configured() {
				client.Add("anthropic", llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger))
			}
		}
	}
	return client
}

// newLogger creates a structured logger that writes to w at the given
// level and format. Format must be "text" or "json"; any other value
// defaults to text. All log output in Foyer goes through slog; this
// helper standardizes the handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations. Returns the parsed
// config, the path that was loaded, and any error.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
