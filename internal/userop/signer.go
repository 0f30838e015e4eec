package userop

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer authorizes a built operation on behalf of the account owner.
type Signer interface {
	Owner() common.Address
	SignUserOperation(op *UserOperation, entryPoint common.Address, chainID *big.Int) ([]byte, error)
}

// EOASigner signs userOpHash with the burner key, EIP-191 wrapped, the way
// SimpleAccount validates owner signatures.
type EOASigner struct {
	key   *ecdsa.PrivateKey
	owner common.Address
}

func NewEOASigner(hexKey string) (*EOASigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("userop: invalid signer key: %w", err)
	}
	return &EOASigner{key: key, owner: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *EOASigner) Owner() common.Address { return s.owner }

func (s *EOASigner) SignUserOperation(op *UserOperation, entryPoint common.Address, chainID *big.Int) ([]byte, error) {
	hash := op.Hash(entryPoint, chainID)
	digest := accounts.TextHash(hash.Bytes())
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	// Recovery id to 27/28 as EntryPoint expects.
	sig[64] += 27
	return sig, nil
}
