// Package di contains dependency injection tokens for the market context.
package di

import (
	"github.com/fd1az/arbitrage-pipeline/business/market/app"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
)

// Public service tokens - exposed to other modules
var (
	MarketService = di.NewToken[*app.Service]("market.Service")
)

// Private dependency tokens - internal to market module
var (
	PoolReader    = di.NewToken[app.PoolReader]("market:poolReader")
	PendingSource = di.NewToken[app.PendingSource]("market:pendingSource")
)

// Helper functions for type-safe access
func GetMarketService(c di.ServiceRegistry) *app.Service {
	return di.GetToken(c, MarketService)
}

func GetPoolReader(c di.ServiceRegistry) app.PoolReader {
	return di.GetToken(c, PoolReader)
}

func GetPendingSource(c di.ServiceRegistry) app.PendingSource {
	return di.GetToken(c, PendingSource)
}
