// Command voxorder runs a voice-ordering session against the realtime
// service, with microphone audio read from a file or stdin.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxorder/internal/config"
	"github.com/MrWong99/voxorder/internal/health"
	"github.com/MrWong99/voxorder/internal/observe"
	"github.com/MrWong99/voxorder/internal/order"
	"github.com/MrWong99/voxorder/internal/session"
	"github.com/MrWong99/voxorder/internal/sessioncfg"
	"github.com/MrWong99/voxorder/internal/transport"
	"github.com/MrWong99/voxorder/internal/voice"
	"github.com/MrWong99/voxorder/pkg/audio"
)

// version is set at build time via -ldflags.
var version = "dev"

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
			fmt.Fprintf(os.Stderr, "voxorder: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxorder: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	sessionID := uuid.NewString()
	logger = logger.With("session_id", sessionID)
	logger.Info("voxorder starting",
		"version", version,
		"config", *configPath,
		"context", cfg.Session.Context,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		logger.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── Microphone ────────────────────────────────────────────────────────────
	device, err := config.NewRegistry().CreateDevice(cfg.Audio)
	if err != nil {
		logger.Error("failed to open audio source", "source", cfg.Audio.Source, "err", err)
		return 1
	}

	// ── Credentials ───────────────────────────────────────────────────────────
	fetcher, err := buildFetcher(cfg.Session, logger)
	if err != nil {
		logger.Error("failed to build credential fetcher", "err", err)
		return 1
	}
	var mgrOpts []sessioncfg.ManagerOption
	if cfg.Session.RefreshLead > 0 {
		mgrOpts = append(mgrOpts, sessioncfg.WithRefreshLead(cfg.Session.RefreshLead))
	}
	creds := sessioncfg.NewManager(fetcher, sessioncfg.Request{
		TenantID: cfg.Session.TenantID,
		UserID:   cfg.Session.UserID,
		Context:  string(cfg.Session.Context),
	}, logger, metrics, mgrOpts...)
	defer creds.Stop()

	// ── Voice client ──────────────────────────────────────────────────────────
	cart := &order.Cart{Logger: logger.With("component", "cart")}
	client, err := voice.New(voiceConfig(cfg), voice.Deps{
		Device:      device,
		Credentials: creds,
		Sink:        cart,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		logger.Error("failed to create voice client", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			logger.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.VADThresholdChanged {
			client.SetVADThreshold(d.NewVADThreshold)
			logger.Info("vad threshold changed", "threshold", d.NewVADThreshold)
		}
		if len(d.RestartRequired) > 0 {
			logger.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
		}
	}, config.WithLogger(logger))
	if err != nil {
		logger.Error("failed to watch config", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		srv := opsServer(cfg.Server.ListenAddr, client, creds, fetcher, metrics, logger)
		g.Go(func() error {
			logger.Info("ops server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return runSession(gctx, client, cfg.Session.Context == config.ContextServer, cart, logger)
	})

	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	logger.Info("shutting down")
	status := 0
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("run error", "err", runErr)
		status = 1
	}
	if err := client.Close(); err != nil {
		logger.Warn("voice client close error", "err", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", "err", err)
	}
	logger.Info("goodbye", "lines", len(cart.Lines()), "confirmed", cart.Confirmed())
	return status
}

// ── Wiring ────────────────────────────────────────────────────────────────────

// buildFetcher returns the credential endpoint followed by its fallbacks.
func buildFetcher(s config.SessionConfig, logger *slog.Logger) (*sessioncfg.FailoverFetcher, error) {
	var opts []sessioncfg.FetcherOption
	if s.CredentialToken != "" {
		opts = append(opts, sessioncfg.WithAuth(sessioncfg.BearerAuth(s.CredentialToken)))
	}
	primary, err := sessioncfg.NewHTTPFetcher(s.CredentialURL, opts...)
	if err != nil {
		return nil, err
	}
	f := sessioncfg.NewFailoverFetcher(s.CredentialURL, primary, logger)
	for _, u := range s.CredentialFallbackURLs {
		fb, err := sessioncfg.NewHTTPFetcher(u, opts...)
		if err != nil {
			return nil, err
		}
		f.AddFallback(u, fb)
	}
	return f, nil
}

func opsServer(addr string, client *voice.Client, creds *sessioncfg.Manager, fetcher *sessioncfg.FailoverFetcher, metrics *observe.Metrics, logger *slog.Logger) *http.Server {
	checks := health.New(
		health.SessionReady(func() (bool, string) {
			return client.Ready(), client.State().String()
		}),
		health.CredentialValid(creds.Valid),
		health.BreakerClosed("credential-endpoint", func() string {
			return fetcher.State().String()
		}),
	)

	mux := http.NewServeMux()
	checks.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics, logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func voiceConfig(cfg *config.Config) voice.Config {
	s, t, a := cfg.Session, cfg.Transport, cfg.Audio
	vc := voice.Config{
		TenantID:           s.TenantID,
		UserID:             s.UserID,
		Context:            string(s.Context),
		Debug:              s.Debug,
		EnableVAD:          s.EnableVAD,
		MuteOutput:         s.MuteOutput,
		URL:                s.RealtimeURL,
		Voice:              s.Voice,
		TranscriptionModel: s.TranscriptionModel,
		Temperature:        s.Temperature,
		Timeouts:           session.Timeouts(s.Timeouts),
	}
	vc.Transport.HeartbeatInterval = t.HeartbeatInterval
	vc.Transport.PongTimeout = t.PongTimeout
	vc.Transport.QueueCapacity = t.QueueCapacity
	vc.Transport.WriteTimeout = t.WriteTimeout
	vc.Transport.DialTimeout = t.DialTimeout
	vc.Transport.Backoff = transport.BackoffConfig(t.Backoff)

	vc.Audio.Constraints = audio.DefaultConstraints()
	vc.Audio.Constraints.SampleRate = a.SampleRate
	vc.Audio.FrameDuration = a.FrameDuration
	vc.Audio.VADThreshold = a.VADThreshold
	return vc
}

func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
