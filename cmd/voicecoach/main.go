// Command voicecoach runs a realtime voice mock interview against a hosted
// speech-to-speech model.
//
// By default it starts one interview immediately and runs until the
// interview ends or the process receives SIGINT/SIGTERM. With -serve it
// exposes the control API and waits for start requests instead.
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

	"github.com/asmcenter/voicecoach/internal/api"
	"github.com/asmcenter/voicecoach/internal/app"
	"github.com/asmcenter/voicecoach/internal/config"
	"github.com/asmcenter/voicecoach/internal/console"
	"github.com/asmcenter/voicecoach/internal/health"
	"github.com/asmcenter/voicecoach/internal/observe"
	"github.com/asmcenter/voicecoach/internal/session"
	"github.com/asmcenter/voicecoach/internal/transcript"
	"github.com/asmcenter/voicecoach/internal/transcript/kafkasink"
	"github.com/asmcenter/voicecoach/internal/transcript/postgres"
	"github.com/asmcenter/voicecoach/pkg/audio"
	"github.com/asmcenter/voicecoach/pkg/audio/miniaudio"
	"github.com/asmcenter/voicecoach/pkg/audio/portaudio"
	"github.com/asmcenter/voicecoach/pkg/provider/realtime"
	"github.com/asmcenter/voicecoach/pkg/provider/realtime/gemini"
	"github.com/asmcenter/voicecoach/pkg/provider/realtime/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "voicecoach.yaml", "path to the YAML configuration file")
	serve := flag.Bool("serve", false, "run the control API and wait for start requests instead of starting an interview")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	// ── Configuration ─────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(_, new *config.Config) {
		level.Set(new.LogLevel.SlogLevel())
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicecoach: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicecoach: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	level.Set(cfg.LogLevel.SlogLevel())
	if *serve && cfg.Server.ListenAddr == "" {
		fmt.Fprintln(os.Stderr, "voicecoach: -serve requires server.listen_addr")
		return 1
	}
	slog.Info("voicecoach starting",
		"version", version,
		"config", *configPath,
		"log_level", cfg.LogLevel,
		"serve", *serve,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Registry ──────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	host, err := reg.CreateAudio(cfg.Audio)
	if err != nil {
		slog.Error("failed to create audio host", "backend", cfg.Audio.Backend, "err", err)
		return 1
	}

	// ── Transcript sinks ──────────────────────────────────────────────────────
	sinks, checks, err := buildSinks(ctx, cfg.Transcript)
	if err != nil {
		slog.Error("failed to open transcript sinks", "err", err)
		return 1
	}
	recorder := transcript.NewRecorder(sinks, transcript.WithRecorderMetrics(metrics))

	// ── Controller ────────────────────────────────────────────────────────────
	hub := api.NewHub(slog.Default())
	ctrl := app.New(app.Deps{
		Host:        host,
		NewProvider: reg.CreateRealtime,
		Config:      watcher.Current,
		Observer:    session.Observers{console.NewPrinter(os.Stdout), hub},
		Recorder:    recorder,
		Metrics:     metrics,
	})

	printStartupSummary(cfg, len(sinks), *serve)

	// ── Control API ───────────────────────────────────────────────────────────
	apiErr := make(chan error, 1)
	if cfg.Server.ListenAddr != "" {
		checks = append(checks, health.ConfigCheck(watcher.Current))
		srv := api.New(ctrl, hub,
			api.WithHealth(health.New(checks...)),
			api.WithMetrics(metrics),
		)
		go func() { apiErr <- srv.ListenAndServe(ctx, cfg.Server.ListenAddr, cfg.Server.TLS) }()
	}

	code := 0
	if *serve {
		slog.Info("control API ready; press Ctrl+C to shut down")
		select {
		case <-ctx.Done():
		case err := <-apiErr:
			slog.Error("control API stopped", "err", err)
			code = 1
		}
	} else {
		code = interview(ctx, ctrl)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if !*serve && cfg.Server.ListenAddr != "" {
		<-apiErr
	}
	slog.Info("goodbye")
	return code
}

// interview runs one interview in the foreground and prints its transcript
// when it ends.
func interview(ctx context.Context, ctrl *app.Controller) int {
	if _, err := ctrl.Start(ctx); err != nil {
		slog.Error("interview failed to start", "err", err)
		return 1
	}
	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		if err := ctrl.Stop(); err != nil {
			slog.Warn("stop reported teardown errors", "err", err)
		}
		<-ctrl.Done()
	}

	fmt.Println()
	if err := console.WriteTranscript(os.Stdout, ctrl.Transcript(), time.Now()); err != nil {
		slog.Warn("failed to print transcript", "err", err)
	}
	if ctrl.Snapshot().Status == session.StatusError {
		return 1
	}
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the built-in realtime providers and audio
// backends into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterRealtime(config.ProviderGeminiLive, func(rc config.RealtimeConfig) (realtime.Provider, error) {
		var opts []gemini.Option
		if rc.Model != "" {
			opts = append(opts, gemini.WithModel(rc.Model))
		}
		if rc.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(rc.BaseURL))
		}
		return gemini.New(config.ResolveAPIKey(rc), opts...), nil
	})

	reg.RegisterRealtime(config.ProviderOpenAIRealtime, func(rc config.RealtimeConfig) (realtime.Provider, error) {
		var opts []openai.Option
		if rc.Model != "" {
			opts = append(opts, openai.WithModel(rc.Model))
		}
		if rc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(rc.BaseURL))
		}
		return openai.New(config.ResolveAPIKey(rc), opts...), nil
	})

	reg.RegisterAudio(config.BackendPortAudio, func(config.AudioConfig) (audio.Host, error) {
		return portaudio.New(), nil
	})

	reg.RegisterAudio(config.BackendMalgo, func(ac config.AudioConfig) (audio.Host, error) {
		var opts []miniaudio.Option
		if ac.InputDevice != "" {
			opts = append(opts, miniaudio.WithCaptureDevice(ac.InputDevice))
		}
		return miniaudio.New(opts...), nil
	})

	slog.Debug("registered providers",
		"realtime", reg.Names("realtime"),
		"audio", reg.Names("audio"),
	)
}

// buildSinks opens every configured transcript sink. Sinks opened before a
// failure are closed again.
func buildSinks(ctx context.Context, tc config.TranscriptConfig) ([]transcript.Sink, []health.Checker, error) {
	var (
		sinks  []transcript.Sink
		checks []health.Checker
	)
	fail := func(err error) ([]transcript.Sink, []health.Checker, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, nil, err
	}

	if tc.OutputFile != "" {
		fs, err := console.OpenFileSink(tc.OutputFile)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, fs)
		slog.Info("transcript file enabled", "path", tc.OutputFile)
	}

	if tc.Postgres.DSN != "" {
		store, err := postgres.NewStore(ctx, tc.Postgres.DSN)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, store)
		checks = append(checks, health.PingCheck("postgres", store))
		slog.Info("postgres transcript store enabled")
	}

	if len(tc.Kafka.Brokers) > 0 {
		ks, err := kafkasink.New(kafkasink.Config{Brokers: tc.Kafka.Brokers, Topic: tc.Kafka.Topic})
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, ks)
		slog.Info("kafka transcript publisher enabled", "topic", ks.Topic(), "brokers", tc.Kafka.Brokers)
	}
	return sinks, checks, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, sinks int, serve bool) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       voicecoach: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Provider", cfg.Realtime.Provider)
	printRow("Voice", cfg.Realtime.Voice)
	printRow("Audio", fmt.Sprintf("%s %d/%d Hz", cfg.Audio.Backend, cfg.Audio.InputSampleRate, cfg.Audio.OutputSampleRate))
	if cfg.Session.MaxDuration > 0 {
		printRow("Max duration", cfg.Session.MaxDuration.String())
	} else {
		printRow("Max duration", "(unlimited)")
	}
	printRow("Sinks", fmt.Sprintf("%d", sinks))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	} else {
		printRow("Listen addr", "(disabled)")
	}
	if serve {
		printRow("Mode", "serve")
	} else {
		printRow("Mode", "interview")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	fmt.Printf("║  %-12s    : %-19s ║\n", label, truncate(value, 19))
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
