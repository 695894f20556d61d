//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"betexec/internal/config"

	"github.com/google/wire"
)

var providerSet = wire.NewSet(provideAppBuilder, provideAppFromBuilder)

func buildAppWithWire(ctx context.Context, cfg *config.Config) (*App, error) {
	wire.Build(providerSet)
	return nil, nil
}
