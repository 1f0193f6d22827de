// Prestabot is the conversational front door of a microlending
// operation. It connects to a WhatsApp gateway daemon, routes each
// sender through the identity directory, and lets field staff register
// members, record payments, and query portfolios by chatting.
//
// Usage:
//
//	prestabot serve          Connect to the gateway and start the bridge
//	prestabot version        Print version and build information
//	prestabot -o json version
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prestabot/prestabot/internal/buildinfo"
	"github.com/prestabot/prestabot/internal/chat"
	"github.com/prestabot/prestabot/internal/config"
	"github.com/prestabot/prestabot/internal/engine"
	"github.com/prestabot/prestabot/internal/events"
	"github.com/prestabot/prestabot/internal/guest"
	"github.com/prestabot/prestabot/internal/identity"
	"github.com/prestabot/prestabot/internal/session"
	"github.com/prestabot/prestabot/internal/store"
	"github.com/prestabot/prestabot/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to run, keeping
// os.Exit and os.Args out of the application logic so the lifecycle can
// be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the prestabot command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which interferes with parallel tests, and the surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
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
		return runServe(ctx, stdout, configPath)
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
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Prestabot - Conversational microlending operations agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: prestabot [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Connect to the gateway and start the message bridge")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/prestabot/config.yaml, /etc/prestabot/config.yaml")
	return nil
}

// runServe handles the "prestabot serve" subcommand: loads config,
// opens the database, connects to the gateway and (optionally) the
// event broker, and runs the bridge until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Prestabot",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
	)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	// Reconfigure the logger now that the desired level is known.
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger = newLogger(stdout, level)

	logger.Info("config loaded",
		"path", cfgPath,
		"gateway_url", cfg.Gateway.URL,
		"engine_url", cfg.Engine.URL,
		"country_code", cfg.CountryCode,
	)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Store ---
	// SQLite persistence for members, staff users, loans, payments, and
	// member conversation history.
	db, err := store.Open(cfg.DatabasePath(), logger)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DatabasePath(), err)
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.DatabasePath())

	// Signal handling wraps the parent context so SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Event publisher ---
	// Optional AMQP publisher feeding the reporting and notification
	// services. The agent runs without it.
	var publisher events.Publisher
	if cfg.Events.Enabled {
		publisher, err = events.Connect(ctx, events.ConnectOptions{
			URL:           cfg.Events.URL,
			Exchange:      cfg.Events.Exchange,
			RetryAttempts: 5,
			RetryDelay:    time.Second,
			Logger:        logger,
		})
		if err != nil {
			return fmt.Errorf("connect event broker: %w", err)
		}
		defer publisher.Close()
		logger.Info("event publisher connected", "exchange", cfg.Events.Exchange)
	} else {
		logger.Info("event publishing disabled")
	}

	// --- Core state ---
	buffer := guest.NewBuffer()
	sessions := session.NewTracker(cfg.SessionTimeout)
	router := identity.NewRouter(db, cfg.CountryCode, logger)

	// --- Gateway client ---
	gateway := chat.NewClient(cfg.Gateway.URL, cfg.Gateway.Token, logger)
	if err := gateway.Connect(ctx); err != nil {
		return err
	}
	defer gateway.Close()

	// --- Tool registry ---
	registry := tools.NewRegistry(tools.Deps{
		Store:     db,
		Messenger: gateway,
		Events:    publisher,
		Migrator:  guest.NewMigrator(buffer, logger),
		Country:   cfg.CountryCode,
		Logger:    logger,
	})

	// --- Bridge ---
	bridge := chat.NewBridge(chat.BridgeConfig{
		Gateway:   gateway,
		Router:    router,
		Sessions:  sessions,
		Buffer:    buffer,
		Tools:     registry,
		Engine:    engine.NewClient(cfg.Engine.URL, cfg.Engine.Token),
		Logger:    logger,
		RateLimit: cfg.Gateway.RateLimit,
	})

	bridge.Start(ctx)

	logger.Info("Prestabot stopped")
	return nil
}

// newLogger creates a structured text logger that writes to w at the
// given level. All log output goes through slog.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
