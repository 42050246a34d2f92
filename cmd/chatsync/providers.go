package main

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/edumarket/chatsync/internal/config"
	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/domain/presence"
	"github.com/edumarket/chatsync/internal/infrastructure/cache"
	"github.com/edumarket/chatsync/internal/infrastructure/gateway"
	"github.com/edumarket/chatsync/internal/infrastructure/realtime"
	"github.com/edumarket/chatsync/internal/infrastructure/uploader"
	"github.com/edumarket/chatsync/internal/utils/redact"
)

func provideRedactor(cfg *config.Config) *redact.Redactor {
	return redact.New(redact.ParseLevel(cfg.LogContent), cfg.UserID)
}

func provideCache(ctx context.Context, cfg *config.Config, log zerolog.Logger) (conversation.Cache, func(), error) {
	return cache.New(ctx, cfg, log)
}

func provideChannel(cfg *config.Config, log zerolog.Logger) (*realtime.Client, func()) {
	client := realtime.NewClient(realtime.Options{
		URL:               cfg.RealtimeURL(),
		Token:             cfg.AuthToken,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
		DialTimeout:       cfg.DialTimeout,
		TypingIdle:        cfg.TypingIdleTimeout,
	}, log)
	return client, func() {
		if err := client.Close(); err != nil {
			log.Error().Err(err).Msg("close realtime channel")
		}
	}
}

func provideGateway(cfg *config.Config, redactor *redact.Redactor, log zerolog.Logger) *gateway.Client {
	return gateway.NewClient(gateway.Options{
		BaseURL:         cfg.APIURL,
		Token:           cfg.AuthToken,
		Timeout:         cfg.HTTPTimeout,
		BreakerFailures: cfg.StoreBreakerFailures,
		BreakerCooldown: cfg.StoreBreakerCooldown,
		Redactor:        redactor,
	}, log)
}

func provideUploader(cfg *config.Config, redactor *redact.Redactor, log zerolog.Logger) (*uploader.Uploader, error) {
	return uploader.New(uploader.Options{
		BaseURL:  cfg.APIURL,
		Token:    cfg.AuthToken,
		Timeout:  cfg.HTTPTimeout,
		MaxBytes: cfg.UploadMaxBytes,
		Redactor: redactor,
	}, log)
}

func provideController(
	cfg *config.Config,
	channel conversation.Channel,
	gw conversation.Gateway,
	up conversation.Uploader,
	store conversation.Cache,
	tracker *presence.Tracker,
	log zerolog.Logger,
) (*conversation.Controller, func()) {
	ctrl := conversation.NewController(channel, gw, up, store, tracker, conversation.Options{
		Role:       conversation.Role(cfg.UserRole),
		SelfID:     cfg.UserID,
		AckTimeout: cfg.DeliveryAckTimeout,
		TypingTTL:  cfg.TypingIndicatorTTL,
	}, log)
	return ctrl, ctrl.Close
}
