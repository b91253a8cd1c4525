// Package di contains dependency injection tokens for the submission context.
package di

import (
	bundleApp "github.com/fd1az/arbitrage-pipeline/business/bundle/app"
	"github.com/fd1az/arbitrage-pipeline/business/submission/app"
	"github.com/fd1az/arbitrage-pipeline/business/submission/infra/flashbots"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
)

// Public service tokens - exposed to other modules
var (
	Coordinator = di.NewToken[*app.Coordinator]("submission.Coordinator")
	Simulator   = di.NewToken[bundleApp.Simulator]("submission.Simulator")
	Relays      = di.NewToken[[]*flashbots.Client]("submission.Relays")
)

// Private dependency tokens - internal to submission module
var (
	Archive = di.NewToken[app.Archive]("submission:archive")
)

func GetCoordinator(c di.ServiceRegistry) *app.Coordinator {
	return di.GetToken(c, Coordinator)
}

func GetSimulator(c di.ServiceRegistry) bundleApp.Simulator {
	return di.GetToken(c, Simulator)
}

func GetRelays(c di.ServiceRegistry) []*flashbots.Client {
	return di.GetToken(c, Relays)
}

func GetArchive(c di.ServiceRegistry) app.Archive {
	return di.GetToken(c, Archive)
}
