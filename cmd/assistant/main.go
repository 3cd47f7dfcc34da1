// Assistant is a Telegram bot that chats through Google Gemini, keeps
// per-user to-do lists, fetches weather reports, downloads music, and
// delivers a daily multi-city weather digest.
//
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	assistant serve          Start the bot
//	assistant version        Print version and build information
//	assistant -o json version  Output version information as JSON
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
	"sync"
	"syscall"
	"time"

	"github.com/ismatov/assistant-bot/internal/activity"
	"github.com/ismatov/assistant-bot/internal/broadcast"
	"github.com/ismatov/assistant-bot/internal/buildinfo"
	"github.com/ismatov/assistant-bot/internal/config"
	"github.com/ismatov/assistant-bot/internal/gemini"
	"github.com/ismatov/assistant-bot/internal/music"
	"github.com/ismatov/assistant-bot/internal/session"
	"github.com/ismatov/assistant-bot/internal/tasks"
	"github.com/ismatov/assistant-bot/internal/telegram"
	"github.com/ismatov/assistant-bot/internal/weather"
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

// run is the real entry point for the assistant command. Arguments are
// parsed by hand: the flag package relies on package-level globals,
// which makes it impossible to call run() concurrently from tests, and
// the argument surface here is two flags and two commands.
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
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown argument: %s", args[i])
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
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Assistant - Telegram assistant bot")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: assistant [flags] <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the bot")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/assistant/config.yaml, /etc/assistant/config.yaml")
	return nil
}

// loadConfig resolves the config path (explicit or discovered), loads
// the file, and validates it.
func loadConfig(configPath string) (*config.Config, string, error) {
	path, err := config.FindConfig(configPath)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, path, nil
}

// newLogger builds a structured logger writing to w.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// runServe is the primary operating mode: loads config, opens stores,
// wires the collaborators into the Telegram bridge, starts polling and
// the optional weather broadcast, and blocks until a shutdown signal
// arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting assistant", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level and format are
	// known. The initial text logger covers only the startup banner.
	{
		level := slog.LevelInfo
		if cfg.LogLevel != "" {
			// Already validated by config.Validate().
			level, _ = config.ParseLogLevel(cfg.LogLevel)
		}
		logger = newLogger(stdout, level, cfg.LogFormat)
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"model", cfg.Gemini.DefaultModel,
		"broadcast_enabled", cfg.Broadcast.Enabled(),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Data directory ---
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	// --- Stores ---
	taskStore, err := tasks.NewStore(cfg.TasksPath(), logger)
	if err != nil {
		return fmt.Errorf("open task store %s: %w", cfg.TasksPath(), err)
	}
	logger.Info("task store opened", "path", cfg.TasksPath())

	activityStore, err := activity.NewStore(cfg.ActivityPath())
	if err != nil {
		return fmt.Errorf("open activity store %s: %w", cfg.ActivityPath(), err)
	}
	defer activityStore.Close()

	sessions := session.NewStore(logger)

	// --- Collaborators ---
	aiClient, err := gemini.NewClient(ctx, cfg.Gemini.APIKey, logger)
	if err != nil {
		return fmt.Errorf("create gemini client: %w", err)
	}

	weatherClient := weather.NewClient(cfg.Weather.BaseURL, cfg.Weather.APIKey)
	musicClient := music.New(music.Config{YtDlpPath: cfg.Music.YtDlpPath}, logger)

	// --- Telegram ---
	pollTimeout := time.Duration(cfg.Telegram.PollTimeoutSec) * time.Second
	bot := telegram.NewClient(cfg.Telegram.BaseURL, cfg.Telegram.BotToken, pollTimeout, logger)

	meCtx, meCancel := context.WithTimeout(ctx, 10*time.Second)
	me, err := bot.GetMe(meCtx)
	meCancel()
	if err != nil {
		return fmt.Errorf("verify bot token: %w", err)
	}
	logger.Info("connected to Telegram", "bot_username", me.Username, "bot_id", me.ID)

	cmdCtx, cmdCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := bot.SetMyCommands(cmdCtx, telegram.Commands()); err != nil {
		logger.Warn("publish command menu failed", "error", err)
	}
	cmdCancel()

	bridge := telegram.NewBridge(telegram.BridgeConfig{
		Transport:    bot,
		Updates:      bot.Updates(),
		AI:           aiClient,
		Weather:      weatherClient,
		Music:        musicClient,
		Tasks:        taskStore,
		Sessions:     sessions,
		Activity:     activityStore,
		Logger:       logger,
		DefaultModel: cfg.Gemini.DefaultModel,
		Units:        cfg.Weather.Units,
	})

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		bot.Poll(ctx)
	}()

	// --- Weather broadcast ---
	if cfg.Broadcast.Enabled() {
		fireTime, err := cfg.Broadcast.FireTime()
		if err != nil {
			// Unreachable: Validate() rejects an unparseable fire time.
			return fmt.Errorf("broadcast fire time: %w", err)
		}
		units := cfg.Broadcast.Units
		if units == "" {
			units = cfg.Weather.Units
		}
		broadcaster := broadcast.New(broadcast.Config{
			SendAt:  fireTime,
			ChatIDs: cfg.Broadcast.ChatIDs,
			Cities:  cfg.Broadcast.Cities,
			Units:   units,
		}, weatherClient, bot, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			broadcaster.Run(ctx)
		}()
	} else {
		logger.Info("weather broadcast disabled (send time, chats, or cities not configured)")
	}

	// The bridge blocks until the context is cancelled or the update
	// channel closes.
	bridge.Start(ctx)

	wg.Wait()
	logger.Info("assistant stopped")
	return nil
}
