package claim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ecowallet/relay-backend/internal/escrow"
	"github.com/ecowallet/relay-backend/internal/token"
)

// State is the claim lifecycle. Claimed and Failed are terminal.
type State int

const (
	StateUnvalidated State = iota
	StateValidated
	StateClaiming
	StateClaimed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnvalidated:
		return "unvalidated"
	case StateValidated:
		return "validated"
	case StateClaiming:
		return "claiming"
	case StateClaimed:
		return "claimed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrInvalidLink marks a link that fails validation: stale, mistyped or
// already claimed. A common condition, routed to recovery rather than
// treated as a claim failure.
var ErrInvalidLink = errors.New("claim: invalid link")

// ErrWrongState rejects transitions the lifecycle does not allow.
var ErrWrongState = errors.New("claim: operation not allowed in current state")

type DepositReader interface {
	DepositAt(ctx context.Context, index int64) (*escrow.DepositRecord, error)
}

type ClaimSubmitter interface {
	SendClaim(ctx context.Context, depositIndex int64, recipient common.Address, sig *escrow.ClaimSignature) (common.Hash, error)
}

type ReceiptAwaiter interface {
	AwaitTransaction(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Orchestrator drives one claim link from validation through settlement.
// Construct one per link.
type Orchestrator struct {
	registry *token.Registry
	deposits DepositReader
	claims   ClaimSubmitter
	chain    ReceiptAwaiter
	logger   *log.Logger

	mu     sync.Mutex
	state  State
	params escrow.LinkParams
	record *escrow.DepositRecord
}

func NewOrchestrator(registry *token.Registry, deposits DepositReader, claims ClaimSubmitter, chain ReceiptAwaiter, params escrow.LinkParams, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		deposits: deposits,
		claims:   claims,
		chain:    chain,
		params:   params,
		logger:   logger,
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Validate checks the link against on-chain escrow state. On success the
// orchestrator moves to Validated and returns the live deposit record.
// Every failure is ErrInvalidLink: the caller routes away, the lifecycle
// does not enter Failed.
func (o *Orchestrator) Validate(ctx context.Context) (*escrow.DepositRecord, error) {
	o.mu.Lock()
	if o.state != StateUnvalidated && o.state != StateValidated {
		o.mu.Unlock()
		return nil, ErrWrongState
	}
	params := o.params
	o.mu.Unlock()

	if params.Password == "" || params.DepositIndex == nil {
		return nil, ErrInvalidLink
	}
	info, err := o.registry.ByID(params.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown token %q", ErrInvalidLink, params.Token)
	}

	record, err := o.deposits.DepositAt(ctx, *params.DepositIndex)
	if err != nil {
		if errors.Is(err, escrow.ErrDepositNotFound) {
			return nil, fmt.Errorf("%w: deposit %d not found", ErrInvalidLink, *params.DepositIndex)
		}
		return nil, err
	}

	keys, err := escrow.DeriveKeys(params.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	if keys.Address != record.PubKey20 {
		return nil, fmt.Errorf("%w: password does not match deposit authority", ErrInvalidLink)
	}
	if record.TokenAddress != info.Address {
		return nil, fmt.Errorf("%w: deposit token mismatch", ErrInvalidLink)
	}

	o.mu.Lock()
	o.state = StateValidated
	o.record = record
	o.mu.Unlock()
	return record, nil
}

// Claim signs and submits the claim, then waits for the broadcast
// transaction to settle. The contract's own double-claim guard is
// authoritative; a Failed claim whose deposit survives on-chain can be
// retried through a fresh orchestrator.
func (o *Orchestrator) Claim(ctx context.Context, recipient common.Address) (common.Hash, error) {
	o.mu.Lock()
	if o.state != StateValidated {
		o.mu.Unlock()
		return common.Hash{}, ErrWrongState
	}
	o.state = StateClaiming
	params := o.params
	o.mu.Unlock()

	sig, err := escrow.SignClaim(params.Password, recipient)
	if err != nil {
		return common.Hash{}, o.fail(fmt.Errorf("claim: sign: %w", err))
	}
	txHash, err := o.claims.SendClaim(ctx, *params.DepositIndex, recipient, sig)
	if err != nil {
		return common.Hash{}, o.fail(err)
	}
	receipt, err := o.chain.AwaitTransaction(ctx, txHash)
	if err != nil {
		return common.Hash{}, o.fail(fmt.Errorf("claim: await settlement of %s: %w", txHash.Hex(), err))
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, o.fail(fmt.Errorf("claim: transaction %s reverted", txHash.Hex()))
	}

	o.mu.Lock()
	o.state = StateClaimed
	o.mu.Unlock()
	o.logger.Printf("claim settled in tx %s", txHash.Hex())
	return txHash, nil
}

func (o *Orchestrator) fail(err error) error {
	o.mu.Lock()
	o.state = StateFailed
	o.mu.Unlock()
	o.logger.Printf("claim failed: %v", err)
	return err
}
