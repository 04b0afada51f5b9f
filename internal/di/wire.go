//go:build wireinject
// +build wireinject

package di

import (
	"TickWatch/pkg/config"
	"TickWatch/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application. The
// cleanup closes the cache, Kafka and ClickHouse connections.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideSessionID,
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideBackendClient,
		ProvideTransport,
		ProvideDispatcher,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideClickHouseClient,

		// Tick recording
		ProvideTickStorage,
		ProvideTickPublisher,
		ProvideTickProcessor,
		ProvidePipeline,
		ProvideTickRecorder,

		// Session
		ProvideHub,
		ProvideObservers,
		ProvideSubscriptionController,
		ProvideLifecycleGuard,
		ProvideStatsPoller,
		ProvideMarketCatalog,

		// HTTP
		ProvideRateLimiter,
		ProvideDashboardHandler,

		ProvideApp,
	)
	return &server.App{}, nil, nil
}
