//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"docgraph/infrastructure/config"
)

// InitializeContainer creates a fully wired container. The returned cleanup
// closes the store, stops the watcher and flushes traces.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
