// Package di contains dependency injection tokens for the profit context.
package di

import (
	"github.com/fd1az/arbitrage-pipeline/business/profit/app"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Evaluator = di.NewToken[*app.Evaluator]("profit.Evaluator")
	Tracker   = di.NewToken[*app.Tracker]("profit.Tracker")
	Weights   = di.NewToken[app.StrategyWeightProvider]("profit.Weights")
)

func GetEvaluator(c di.ServiceRegistry) *app.Evaluator {
	return di.GetToken(c, Evaluator)
}

func GetTracker(c di.ServiceRegistry) *app.Tracker {
	return di.GetToken(c, Tracker)
}

func GetWeights(c di.ServiceRegistry) app.StrategyWeightProvider {
	return di.GetToken(c, Weights)
}
