// Package di contains dependency injection tokens for the opportunity context.
package di

import (
	"github.com/fd1az/arbitrage-pipeline/business/opportunity/app"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Engine = di.NewToken[*app.Engine]("opportunity.Engine")
)

func GetEngine(c di.ServiceRegistry) *app.Engine {
	return di.GetToken(c, Engine)
}
