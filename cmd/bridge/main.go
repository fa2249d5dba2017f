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

	"github.com/tlcmonkshawn/gemini-3-exploration/internal/dotenv"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/tap"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport/genaistream"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport/livews"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/gateway/config"
	gatewayserver "github.com/tlcmonkshawn/gemini-3-exploration/pkg/gateway/server"
)

type bridgeDeps struct {
	loadConfig   func() (config.Config, error)
	newOpener    func(ctx context.Context, cfg config.Config) (transport.DeepOpener, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultBridgeDeps() bridgeDeps {
	return bridgeDeps{
		loadConfig: config.LoadFromEnv,
		newOpener: func(ctx context.Context, cfg config.Config) (transport.DeepOpener, error) {
			client, err := genaistream.New(ctx, cfg.GeminiAPIKey, cfg.DeepModel)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runBridge(ctx context.Context, logger *slog.Logger, deps bridgeDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newOpener == nil {
		return errors.New("missing newOpener dependency")
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

	opener, err := deps.newOpener(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build upstream client: %w", err)
	}

	dialer := livews.Dialer{
		Endpoint:         cfg.LiveEndpoint,
		APIKey:           cfg.GeminiAPIKey,
		Model:            cfg.LiveModel,
		HandshakeTimeout: cfg.LiveHandshakeTimeout,
	}

	inspect := tap.NewMulti(tap.NewBuffer(cfg.TapBufferMax), &tap.Logger{L: logger})

	gw := gatewayserver.New(cfg, logger, opener, dialer, inspect)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting bridge", "addr", cfg.Addr, "deep_model", cfg.DeepModel, "live_model", cfg.LiveModel)

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

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("bridge stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps bridgeDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "bridge: %v\n", err)
		return 1
	}

	if err := runBridge(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "bridge: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultBridgeDeps()))
}
