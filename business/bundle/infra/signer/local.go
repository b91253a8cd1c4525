// Package signer provides a local ECDSA transaction signer.
package signer

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/fd1az/arbitrage-pipeline/business/bundle/app"
	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

// Ensure LocalSigner implements app.Signer.
var _ app.Signer = (*LocalSigner)(nil)

// LocalSigner signs with an in-process private key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

// NewLocalSigner parses a hex private key (with or without 0x).
func NewLocalSigner(hexKey string, chainID *big.Int) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithCause(err),
			apperror.WithContext("parse signer key"))
	}
	return FromKey(key, chainID), nil
}

// NewEphemeralSigner generates a throwaway key, for dry runs.
func NewEphemeralSigner(chainID *big.Int) (*LocalSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return FromKey(key, chainID), nil
}

// FromKey wraps an existing key.
func FromKey(key *ecdsa.PrivateKey, chainID *big.Int) *LocalSigner {
	return &LocalSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(chainID),
	}
}

// Address returns the signing account.
func (s *LocalSigner) Address() common.Address { return s.address }

// SignTx signs tx for the configured chain.
func (s *LocalSigner) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	return types.SignTx(tx, s.signer, s.key)
}

// SignHash signs a 32-byte digest, used for relay authentication headers.
func (s *LocalSigner) SignHash(hash []byte) ([]byte, error) {
	return crypto.Sign(hash, s.key)
}
