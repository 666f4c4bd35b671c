package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thereceipt/pos-printer/internal/api"
	"github.com/thereceipt/pos-printer/internal/command"
	"github.com/thereceipt/pos-printer/internal/config"
	"github.com/thereceipt/pos-printer/internal/printer"
	"github.com/thereceipt/pos-printer/internal/receipt"
	"github.com/thereceipt/pos-printer/internal/registry"
	"github.com/thereceipt/pos-printer/internal/state"
	"github.com/thereceipt/pos-printer/internal/tui"
)

// Version is set during build via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	setupLogging(cfg, os.Stderr)

	reg, err := registry.New(cfg.Registry.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Registry.Path).Msg("Failed to open printer registry")
	}

	store := state.New(reg)
	manager := printer.NewManager(cfg.ManagerConfig(), reg, store, cfg.Transports()...)

	queue := printer.NewPrintQueue(manager)
	queue.OnJobDone(store.JobDone)

	composerOpts := cfg.ComposerOptions()
	if cfg.Receipt.LogoPath != "" {
		logo, err := receipt.LoadLogo(cfg.Receipt.LogoPath, cfg.Receipt.Width)
		if err != nil {
			log.Warn().Err(err).Msg("Printing without logo")
		} else {
			composerOpts.Logo = logo
		}
	}
	executor := command.NewExecutor(manager, queue, store, reg, receipt.NewComposer(composerOpts))

	// Wired printers come and go without a scan
	monitor := printer.NewMonitor(manager, cfg.Printer.MonitorEvery.Duration)
	monitor.OnChange(func(dev printer.Device) {
		reg.Remember(dev)
		log.Info().Str("device", dev.ID).Str("kind", dev.Kind).Msg("🟢 Printer attached")
	}, func(dev printer.Device) {
		store.DeviceRemoved(dev)
		log.Info().Str("device", dev.ID).Str("kind", dev.Kind).Msg("🔴 Printer detached")
	})

	server := api.NewServer(manager, queue, store, reg, executor)

	var tuiApp *tui.TViewApp
	if !cfg.Headless {
		tuiApp = tui.NewTViewApp(manager, queue, store, reg, executor, cfg.Receipt.Width, cfg.Server.Addr())
		setupLogging(cfg, tuiApp.LogWriter())
	}

	log.Info().
		Str("version", Version).
		Str("config", cfg.Path).
		Str("registry", reg.Path()).
		Strs("transports", manager.Kinds()).
		Msg("🖨️  Printer agent starting")

	monitor.Start()

	// Start server in goroutine
	serverErrChan := make(chan error, 1)
	go func() {
		if err := server.Run(cfg.Server.Addr()); err != nil {
			serverErrChan <- err
		}
	}()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if attempted, err := manager.AutoReconnect(ctx); attempted && err != nil {
			store.ReportError(err)
		}
	}()

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	tuiDone := make(chan struct{})
	if tuiApp != nil {
		go func() {
			if err := tuiApp.Run(); err != nil {
				log.Error().Err(err).Msg("TUI error")
			}
			close(tuiDone)
		}()
	}

	// Wait for either TUI to quit, server error, or signal
	exitCode := 0
	select {
	case err := <-serverErrChan:
		log.Error().Err(err).Msg("Server error")
		exitCode = 1
	case <-sigChan:
		log.Info().Msg("🛑 Shutting down...")
	case <-tuiDone:
	}

	if tuiApp != nil {
		tuiApp.Stop()
		setupLogging(cfg, os.Stderr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("API server did not stop cleanly")
	}
	monitor.Stop()
	queue.Stop()
	if err := manager.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to disconnect printer")
	}

	os.Exit(exitCode)
}

// setupLogging points the global logger at out
func setupLogging(cfg config.Config, out io.Writer) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || cfg.Log.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if !cfg.Log.JSON {
		if f, ok := out.(*os.File); ok {
			out = zerolog.ConsoleWriter{Out: f, TimeFormat: "15:04:05"}
		}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
