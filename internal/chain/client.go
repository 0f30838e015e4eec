package chain

import (
	"context"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Backend is the subset of ethclient.Client the wallet core reads through.
type Backend interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

type Reader struct {
	backend Backend
	logger  *log.Logger
}

func NewReader(backend Backend, logger *log.Logger) *Reader {
	return &Reader{backend: backend, logger: logger}
}

// IsDeployed reports whether contract bytecode exists at addr. RPC failures
// read as "not deployed": callers then batch in first-time approvals, which
// at worst wastes gas and never skips a required approval.
func (r *Reader) IsDeployed(ctx context.Context, addr common.Address) bool {
	code, err := r.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		r.logger.Printf("code probe failed for %s: %v", addr.Hex(), err)
		return false
	}
	return len(code) > 0
}

const (
	txLookupAttempts = 3
	txLookupDelay    = 3 * time.Second
	receiptPoll      = 2 * time.Second
)

// AwaitTransaction resolves a transaction hash returned by a remote service
// into a mined receipt. The hash may not be visible immediately after the
// service responds, so the lookup retries a few times before polling for
// the receipt.
func (r *Reader) AwaitTransaction(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	var lastErr error
	for i := 0; i < txLookupAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(txLookupDelay):
		}
		_, _, err := r.backend.TransactionByHash(ctx, hash)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
	}
	if lastErr != nil {
		return nil, lastErr
	}
	for {
		receipt, err := r.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(receiptPoll):
		}
	}
}
