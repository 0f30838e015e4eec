package bundler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/ecowallet/relay-backend/internal/userop"
)

// RejectionError is a terminal bundler verdict on a submitted operation:
// the operation itself is unacceptable (bad signature, expired validity
// window, insufficient balance). Resubmitting the same bytes cannot
// succeed, and the client never retries on the caller's behalf.
type RejectionError struct {
	Code    int
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("bundler: operation rejected (%d): %s", e.Code, e.Message)
}

// ErrNotIncluded reports that the awaited operation is not yet on-chain.
// Receipt queries are idempotent, so the caller may re-poll with the same
// operation hash.
var ErrNotIncluded = errors.New("bundler: operation not yet included")

type rpcCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

// Client talks ERC-4337 JSON-RPC to a remote bundler.
type Client struct {
	rpc          rpcCaller
	entryPoint   common.Address
	pollInterval time.Duration
	logger       *log.Logger
}

func Dial(ctx context.Context, url string, entryPoint common.Address, logger *log.Logger) (*Client, error) {
	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("bundler: dial %s: %w", url, err)
	}
	return NewClient(rc, entryPoint, logger), nil
}

func NewClient(rc rpcCaller, entryPoint common.Address, logger *log.Logger) *Client {
	return &Client{
		rpc:          rc,
		entryPoint:   entryPoint,
		pollInterval: 3 * time.Second,
		logger:       logger,
	}
}

// GasEstimate mirrors eth_estimateUserOperationGas results. Bundlers
// disagree on the verification field name; both are accepted.
type GasEstimate struct {
	CallGasLimit         *hexutil.Big `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
	VerificationGas      *hexutil.Big `json:"verificationGas"`
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
}

func (g GasEstimate) Verification() *hexutil.Big {
	if g.VerificationGasLimit != nil {
		return g.VerificationGasLimit
	}
	return g.VerificationGas
}

func (c *Client) EstimateGas(ctx context.Context, op *userop.UserOperation) (*GasEstimate, error) {
	var out GasEstimate
	if err := c.rpc.CallContext(ctx, &out, "eth_estimateUserOperationGas", op, c.entryPoint); err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

// Submit sends a fully signed operation and returns its operation hash.
func (c *Client) Submit(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	var out string
	if err := c.rpc.CallContext(ctx, &out, "eth_sendUserOperation", op, c.entryPoint); err != nil {
		return common.Hash{}, translate(err)
	}
	c.logger.Printf("submitted operation %s", out)
	return common.HexToHash(out), nil
}

type operationReceipt struct {
	UserOpHash common.Hash  `json:"userOpHash"`
	Success    bool         `json:"success"`
	Reason     string       `json:"reason"`
	Receipt    *txReceipt   `json:"receipt"`
	ActualGas  *hexutil.Big `json:"actualGasUsed"`
}

type txReceipt struct {
	TransactionHash common.Hash `json:"transactionHash"`
}

// Inclusion is the settled outcome of an operation.
type Inclusion struct {
	TxHash  common.Hash
	Success bool
	Reason  string
}

// Receipt performs a single idempotent receipt query.
func (c *Client) Receipt(ctx context.Context, opHash common.Hash) (*Inclusion, error) {
	var out *operationReceipt
	if err := c.rpc.CallContext(ctx, &out, "eth_getUserOperationReceipt", opHash); err != nil {
		return nil, translate(err)
	}
	if out == nil || out.Receipt == nil {
		return nil, ErrNotIncluded
	}
	return &Inclusion{TxHash: out.Receipt.TransactionHash, Success: out.Success, Reason: out.Reason}, nil
}

// AwaitInclusion polls for the operation's receipt until it is mined or
// ctx expires.
func (c *Client) AwaitInclusion(ctx context.Context, opHash common.Hash) (*Inclusion, error) {
	for {
		inc, err := c.Receipt(ctx, opHash)
		if err == nil {
			return inc, nil
		}
		if !errors.Is(err, ErrNotIncluded) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// translate classifies RPC failures: JSON-RPC error payloads are bundler
// verdicts, anything else is transport trouble left as-is.
func translate(err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &RejectionError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	return err
}
