//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"AutoTrader/pkg/config"
	"AutoTrader/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideKafkaProducer,
	ProvideLogger,
	ProvideMetrics,
	ProvideCalendar,
	ProvideClickHouseClient,
	ProvideRedisCache,
	ProvideHealthChecks,
)

var alpacaSet = wire.NewSet(
	ProvideAlpacaClient,
	ProvideBroker,
	ProvideMarketData,
	ProvideScreener,
	ProvideHeadlineCache,
	ProvideHeadlines,
	ProvideTradeStream,
	ProvideTradeUpdateHandler,
)

var storageSet = wire.NewSet(
	ProvideJournal,
	ProvideSignalStore,
	ProvideSymbolLocker,
	ProvideSentimentBuffer,
	ProvideArtifactStore,
	ProvideKnowledgeBase,
	ProvideKafkaEvents,
	ProvideTradeMirror,
	ProvideTradeSinks,
)

var tradingSet = wire.NewSet(
	ProvideFrameBuilder,
	ProvideSpecialists,
	ProvideEnsemble,
	ProvideLiveTrader,
	ProvideMarketScheduler,
	ProvideJobQueue,
	ProvideJobRunner,
)

var serverSet = wire.NewSet(
	ProvideOpsHandler,
	ProvideHTTPServer,
	ProvideKafkaConsumer,
	ProvideApp,
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(infraSet, alpacaSet, storageSet, tradingSet, serverSet)
	return &server.App{}, nil
}
