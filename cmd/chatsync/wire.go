//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/rs/zerolog"

	"github.com/edumarket/chatsync/internal/config"
	"github.com/edumarket/chatsync/internal/domain/conversation"
	"github.com/edumarket/chatsync/internal/domain/presence"
	"github.com/edumarket/chatsync/internal/infrastructure/gateway"
	"github.com/edumarket/chatsync/internal/infrastructure/realtime"
	"github.com/edumarket/chatsync/internal/infrastructure/uploader"
)

var conversationSet = wire.NewSet(
	provideRedactor,
	provideCache,
	provideChannel,
	wire.Bind(new(conversation.Channel), new(*realtime.Client)),
	provideGateway,
	wire.Bind(new(conversation.Gateway), new(*gateway.Client)),
	provideUploader,
	wire.Bind(new(conversation.Uploader), new(*uploader.Uploader)),
	presence.NewTracker,
	provideController,
)

// BuildApplication assembles a chatsync session with Wire.
func BuildApplication(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Application, func(), error) {
	wire.Build(
		conversationSet,
		NewApplication,
	)
	return nil, nil, nil
}
