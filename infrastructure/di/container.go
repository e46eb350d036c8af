package di

import (
	"go.uber.org/zap"

	"docgraph/application/ports"
	"docgraph/application/services"
	"docgraph/infrastructure/config"
	"docgraph/infrastructure/transport"
	"docgraph/interfaces/http/rest"
	"docgraph/internal/observability"
	"docgraph/pkg/errors"
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Collector
	Tracer       *observability.TracerProvider
	Transport    *transport.Client
	Store        ports.SnapshotStore
	Sink         ports.GraphEventSink
	Scheduler    *services.FetchScheduler
	GraphService *services.GraphService
	ErrorHandler *errors.ErrorHandler
	Router       *rest.Router
	// Watcher is nil unless the configuration came from a file
	Watcher *config.ConfigWatcher
}
