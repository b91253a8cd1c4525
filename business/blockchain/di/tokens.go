// Package di exposes the blockchain context's services to other modules.
package di

import (
	"github.com/fd1az/arbitrage-pipeline/business/blockchain/app"
	"github.com/fd1az/arbitrage-pipeline/internal/di"
)

var (
	// BlockchainService is the facade other contexts use for fees, nonces and inclusion.
	BlockchainService = di.NewToken[*app.BlockchainService]("blockchain.BlockchainService")
	// BlockSubscriber is the canonical head stream the market context snapshots from.
	BlockSubscriber = di.NewToken[app.BlockSubscriber]("blockchain.BlockSubscriber")

	gasOracle     = di.NewToken[app.GasOracle]("blockchain:gasOracle")
	accountReader = di.NewToken[app.AccountReader]("blockchain:accountReader")
)

func GetBlockchainService(c di.ServiceRegistry) *app.BlockchainService {
	return di.GetToken(c, BlockchainService)
}

func GetBlockSubscriber(c di.ServiceRegistry) app.BlockSubscriber {
	return di.GetToken(c, BlockSubscriber)
}

// RegisterGasOracle and RegisterAccountReader bind the module-private
// adapters behind BlockchainService.
func RegisterGasOracle(c di.Container, factory func(di.ServiceRegistry) app.GasOracle) {
	di.RegisterToken(c, gasOracle, factory)
}

func RegisterAccountReader(c di.Container, factory func(di.ServiceRegistry) app.AccountReader) {
	di.RegisterToken(c, accountReader, factory)
}

func getGasOracle(c di.ServiceRegistry) app.GasOracle {
	return di.GetToken(c, gasOracle)
}

func getAccountReader(c di.ServiceRegistry) app.AccountReader {
	return di.GetToken(c, accountReader)
}

// RegisterBlockchainService wires the facade from the registered adapters.
func RegisterBlockchainService(c di.Container) {
	di.RegisterToken(c, BlockchainService, func(sr di.ServiceRegistry) *app.BlockchainService {
		return app.NewBlockchainService(GetBlockSubscriber(sr), getGasOracle(sr), getAccountReader(sr))
	})
}
