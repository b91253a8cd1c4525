package app

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ExecutorABI is the on-chain executor contract interface. Every swap routes
// through the executor so that a bundle either completes or reverts as a whole.
const ExecutorABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "pool", "type": "address"},
			{"internalType": "address", "name": "tokenIn", "type": "address"},
			{"internalType": "address", "name": "tokenOut", "type": "address"},
			{"internalType": "uint256", "name": "amountIn", "type": "uint256"},
			{"internalType": "uint256", "name": "minAmountOut", "type": "uint256"}
		],
		"name": "swap",
		"outputs": [{"internalType": "uint256", "name": "amountOut", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "flashBorrow",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "token", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "flashRepay",
		"outputs": [{"internalType": "uint256", "name": "profit", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

const (
	methodSwap        = "swap"
	methodFlashBorrow = "flashBorrow"
	methodFlashRepay  = "flashRepay"
)

type executor struct {
	abi     abi.ABI
	address common.Address
}

func newExecutor(address common.Address) (*executor, error) {
	parsed, err := abi.JSON(strings.NewReader(ExecutorABI))
	if err != nil {
		return nil, fmt.Errorf("parse executor abi: %w", err)
	}
	return &executor{abi: parsed, address: address}, nil
}

func (e *executor) swap(pool, tokenIn, tokenOut common.Address, amountIn, minOut *big.Int) ([]byte, error) {
	return e.abi.Pack(methodSwap, pool, tokenIn, tokenOut, amountIn, minOut)
}

func (e *executor) flashBorrow(token common.Address, amount *big.Int) ([]byte, error) {
	return e.abi.Pack(methodFlashBorrow, token, amount)
}

func (e *executor) flashRepay(token common.Address, amount *big.Int) ([]byte, error) {
	return e.abi.Pack(methodFlashRepay, token, amount)
}

// unpackAmount decodes the single uint256 returned by method.
func (e *executor) unpackAmount(method string, ret []byte) (*big.Int, error) {
	out, err := e.abi.Unpack(method, ret)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s returned %d values", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T", method, out[0])
	}
	return v, nil
}
