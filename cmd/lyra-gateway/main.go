package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lyra-ai/lyra-gateway/pkg/core/voice/stt"
	"github.com/lyra-ai/lyra-gateway/pkg/core/voice/tts"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/brain"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/config"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/live/session"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/memory"
	"github.com/lyra-ai/lyra-gateway/pkg/gateway/metrics"
	gatewayserver "github.com/lyra-ai/lyra-gateway/pkg/gateway/server"
)

type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	buildSession func(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Dependencies, bool, func(), error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig:   config.LoadFromEnv,
		buildSession: buildSessionDeps,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// buildSessionDeps constructs the speech, brain, memory, and metrics
// collaborators every session shares. The returned cleanup closes the
// memory pool.
func buildSessionDeps(ctx context.Context, cfg config.Config, logger *slog.Logger) (session.Dependencies, bool, func(), error) {
	fast := brain.NewOpenAIChat(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.FastModel)
	conversational := brain.NewOpenAIChat(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.ConversationalModel)
	deep, err := brain.NewGemini(ctx, cfg.GeminiAPIKey, cfg.DeepModel)
	if err != nil {
		return session.Dependencies{}, false, nil, fmt.Errorf("init deep tier: %w", err)
	}

	var store memory.Store = memory.Disabled{}
	memoryEnabled := false
	cleanup := func() {}
	if cfg.DatabaseURL != "" {
		pg, err := memory.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return session.Dependencies{}, false, nil, fmt.Errorf("open memory store: %w", err)
		}
		store = pg
		memoryEnabled = true
		cleanup = pg.Close
	}

	deps := session.Dependencies{
		STT:     stt.NewCartesia(cfg.CartesiaAPIKey),
		TTS:     tts.NewCartesia(cfg.CartesiaAPIKey),
		Brain:   brain.NewRouter(fast, conversational, deep),
		Memory:  store,
		Metrics: metrics.New("lyra"),
		Logger:  logger,
	}
	return deps, memoryEnabled, cleanup, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildSession == nil {
		return errors.New("missing buildSession dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.LogJSON {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	sessionDeps, memoryEnabled, cleanup, err := deps.buildSession(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	gw := gatewayserver.New(cfg, sessionDeps, memoryEnabled, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"memory_enabled", memoryEnabled,
		"resume_window", cfg.ResumeWindow(),
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	gw.SetDraining()
	gw.WarnSessions("server_shutdown", "the gateway is shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if !gw.WaitSessions(waitCtx) {
		gw.CancelSessions()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("gateway stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(stderr, "lyra-gateway: %v\n", err)
		return 1
	}

	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "lyra-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
