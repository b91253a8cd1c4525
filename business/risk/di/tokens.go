// Package di contains dependency injection tokens for the risk context.
package di

import (
	"github.com/fd1az/arbitrage-pipeline/business/risk/app"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Governor = di.NewToken[*app.Governor]("risk.Governor")
)

func GetGovernor(c di.ServiceRegistry) *app.Governor {
	return di.GetToken(c, Governor)
}
