//go:build wireinject
// +build wireinject

package di

import (
	"QuantGate/internal/usecase"
	"QuantGate/pkg/config"
	"QuantGate/pkg/server"

	"github.com/google/wire"
)

var runSet = wire.NewSet(
	// Observability
	ProvideLogger,
	ProvideMetrics,

	// Infrastructure clients
	ProvideRedisClient,
	ProvideCache,

	// Repositories
	ProvideJobSubmitter,
	ProvideResultSubscriber,
	ProvideChartRenderer,
	ProvideURLResolver,
	ProvideRunStore,
	ProvideOutcomePublisher,

	// Use cases
	ProvideOrchestrator,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		runSet,
		ProvideQueue,
		ProvideBacktestService,
		ProvideRateLimiter,
		ProvideBacktestHandler,
		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeOrchestrator wires a single-run pipeline for the command line.
func InitializeOrchestrator(cfg *config.Config) (*usecase.BacktestOrchestrator, func(), error) {
	wire.Build(runSet)
	return nil, nil, nil
}
