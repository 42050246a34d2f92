package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/edumarket/chatsync/internal/config"
	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/domain/presence"
	"github.com/edumarket/chatsync/internal/infrastructure/realtime"
	"github.com/edumarket/chatsync/internal/infrastructure/uploader"
)

// Application is one signed-in chatsync session.
type Application struct {
	cfg      *config.Config
	ctrl     *conversation.Controller
	channel  *realtime.Client
	uploader *uploader.Uploader
	log      zerolog.Logger
}

func NewApplication(
	cfg *config.Config,
	ctrl *conversation.Controller,
	channel *realtime.Client,
	up *uploader.Uploader,
	log zerolog.Logger,
) *Application {
	return &Application{
		cfg:      cfg,
		ctrl:     ctrl,
		channel:  channel,
		uploader: up,
		log:      log,
	}
}

// assemble builds the application by hand. BuildApplication in wire.go
// describes the same graph for code generation.
func assemble(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Application, func(), error) {
	store, closeCache, err := provideCache(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	channel, closeChannel := provideChannel(cfg, log)
	redactor := provideRedactor(cfg)
	gw := provideGateway(cfg, redactor, log)
	up, err := provideUploader(cfg, redactor, log)
	if err != nil {
		closeChannel()
		closeCache()
		return nil, nil, err
	}
	ctrl, closeCtrl := provideController(cfg, channel, gw, up, store, presence.NewTracker(), log)

	app := NewApplication(cfg, ctrl, channel, up, log)
	return app, func() {
		closeCtrl()
		closeChannel()
		closeCache()
	}, nil
}

// Connect opens the realtime channel. A failed connection is not fatal: the
// session continues on cached data and the channel keeps retrying.
func (a *Application) Connect(ctx context.Context) {
	if err := a.ctrl.Start(ctx); err != nil {
		a.log.Warn().Err(err).Msg("starting offline, realtime channel will retry")
	}
}

// ServeMetrics exposes Prometheus metrics on METRICS_ADDR until ctx ends.
func (a *Application) ServeMetrics(ctx context.Context) error {
	if a.cfg.MetricsAddr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.MetricsAddr).Msg("metrics endpoint listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
