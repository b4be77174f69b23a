// Command audiorelay relays live audio between two voice platform endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/audiorelay/internal/app"
	"github.com/MrWong99/audiorelay/internal/config"
	"github.com/MrWong99/audiorelay/internal/relay"
	"github.com/MrWong99/audiorelay/pkg/audio"
	"github.com/MrWong99/audiorelay/pkg/audio/discord"
	"github.com/MrWong99/audiorelay/pkg/audio/ffmpeg"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "audiorelay: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "audiorelay: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("audiorelay starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Platform registry ─────────────────────────────────────────────────────
	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				slog.Warn("platform close error", "err", err)
			}
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinPlatforms(reg, &closers)

	source, err := reg.CreatePlatform(cfg.Source)
	if err != nil {
		slog.Error("failed to create source platform", "platform", cfg.Source.Platform, "err", err)
		return 1
	}
	destination, err := reg.CreatePlatform(cfg.Destination)
	if err != nil {
		slog.Error("failed to create destination platform", "platform", cfg.Destination.Platform, "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, source, destination)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("relay ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, relay.ErrGaveUp) {
			slog.Error("endpoint permanently unreachable, giving up", "err", err)
		} else {
			slog.Error("run error", "err", err)
		}
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Platform wiring ───────────────────────────────────────────────────────────

// registerBuiltinPlatforms wires the platform factories that ship with
// audiorelay into reg. Session closers are appended to closers so main can
// release them on exit.
func registerBuiltinPlatforms(reg *config.Registry, closers *[]func() error) {
	// Each Discord endpoint gets its own session: a single discordgo session
	// can only hold one voice connection per guild, so source and
	// destination must not share one.
	reg.RegisterPlatform(config.PlatformDiscord, func(entry config.EndpointConfig) (audio.Platform, error) {
		session, err := discordgo.New("Bot " + entry.Token)
		if err != nil {
			return nil, fmt.Errorf("create discord session: %w", err)
		}
		session.Identify.Intents |= discordgo.IntentGuildVoiceStates
		if err := session.Open(); err != nil {
			return nil, fmt.Errorf("open discord session: %w", err)
		}
		*closers = append(*closers, session.Close)
		return discord.New(session, entry.GuildID)
	})

	reg.RegisterPlatform(config.PlatformFFmpeg, func(config.EndpointConfig) (audio.Platform, error) {
		return ffmpeg.New(), nil
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        audiorelay — startup           ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printEndpoint("Source", cfg.Source)
	printEndpoint("Destination", cfg.Destination)
	fmt.Printf("║  Buffer          : %-19s ║\n", fmt.Sprintf("%d frames", cfg.Buffer.Capacity))
	fmt.Printf("║  Reconnect       : %-19s ║\n", fmt.Sprintf("%d × %s", cfg.Reconnect.MaxAttempts, cfg.Reconnect.Delay.Std()))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printEndpoint(kind string, ep config.EndpointConfig) {
	value := string(ep.Platform)
	if ep.Endpoint != "" {
		value += " / " + ep.Endpoint
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
