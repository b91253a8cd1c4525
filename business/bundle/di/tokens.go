// Package di contains dependency injection tokens for the bundle context.
package di

import (
	"github.com/fd1az/arbitrage-pipeline/business/bundle/app"
	"github.com/fd1az/arbitrage-pipeline/business/bundle/infra/signer"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Builder = di.NewToken[*app.Builder]("bundle.Builder")
	Signer  = di.NewToken[*signer.LocalSigner]("bundle.Signer")
)

func GetBuilder(c di.ServiceRegistry) *app.Builder {
	return di.GetToken(c, Builder)
}

func GetSigner(c di.ServiceRegistry) *signer.LocalSigner {
	return di.GetToken(c, Signer)
}
