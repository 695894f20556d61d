package app

import (
	"context"

	"betexec/internal/config"
)

func provideAppBuilder(cfg *config.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}

func provideAppFromBuilder(ctx context.Context, b *AppBuilder) (*App, error) {
	return b.Build(ctx)
}
