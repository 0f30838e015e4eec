package userop

import (
	"context"
	"fmt"
	"math/big"

	"golang.org/x/sync/errgroup"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ecowallet/relay-backend/internal/chain"
	"github.com/ecowallet/relay-backend/internal/token"
)

// Default gas limits for freshly built operations. Bundler estimation
// refines these before submission; the floor guards against estimates
// below what executeBatch realistically needs.
const (
	DefaultCallGasLimit         = 200_000
	DefaultVerificationGasLimit = 500_000
	DefaultPreVerificationGas   = 50_000
	MinimumCallGasLimit         = 200_000
)

// ChainReader is the slice of chain state the builder consults. Reads
// happen at build time, immediately before the batch is assembled, never
// cached across user actions.
type ChainReader interface {
	IsDeployed(ctx context.Context, addr common.Address) bool
	Allowance(ctx context.Context, tokenAddr, owner, spender common.Address) (*big.Int, error)
	AccountNonce(ctx context.Context, entryPoint, sender common.Address) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
}

type BuilderConfig struct {
	EntryPoint       common.Address
	Factory          common.Address
	Paymaster        common.Address
	Escrow           common.Address
	FeeRecipient     common.Address
	AllowanceReserve uint64
}

// Builder assembles batched smart-account operations. Approval
// sub-operations are collected separately from action sub-operations and
// concatenated approvals-first, so a spend can never run ahead of the
// allowance that funds it.
type Builder struct {
	cfg    BuilderConfig
	reader ChainReader
}

func NewBuilder(cfg BuilderConfig, reader ChainReader) *Builder {
	return &Builder{cfg: cfg, reader: reader}
}

type TransferIntent struct {
	Token     token.Info
	Recipient common.Address
	Amount    *big.Int
	Fee       *big.Int
}

type DepositIntent struct {
	Token  token.Info
	Amount *big.Int
	Fee    *big.Int
	// DepositCall is the escrow make-deposit call prepared by the link
	// codec; the builder treats it as the opaque primary action.
	DepositCall SubOperation
}

// BuildTransfer prepares a gasless token transfer with the platform fee
// paid in-token.
func (b *Builder) BuildTransfer(ctx context.Context, sender, owner common.Address, intent TransferIntent) (*UserOperation, error) {
	actions := []SubOperation{
		{To: intent.Token.Address, Data: chain.EncodeTransfer(intent.Recipient, intent.Amount)},
	}
	if intent.Fee != nil && intent.Fee.Sign() > 0 {
		actions = append(actions, SubOperation{To: intent.Token.Address, Data: chain.EncodeTransfer(b.cfg.FeeRecipient, intent.Fee)})
	}

	deployed := b.reader.IsDeployed(ctx, sender)
	var approvals []SubOperation
	if deployed {
		allowance, err := b.reader.Allowance(ctx, intent.Token.Address, sender, b.cfg.Paymaster)
		if err != nil {
			return nil, fmt.Errorf("userop: read paymaster allowance: %w", err)
		}
		if allowance.Cmp(b.reserve(intent.Token)) < 0 {
			approvals = append(approvals, b.approveMax(intent.Token, b.cfg.Paymaster))
		}
	} else {
		// First operation from this account: the paymaster has no
		// allowance yet, approve without reading.
		approvals = append(approvals, b.approveMax(intent.Token, b.cfg.Paymaster))
	}

	return b.finalize(ctx, sender, owner, deployed, append(approvals, actions...))
}

// BuildDeposit prepares an escrow deposit backing a shareable claim link.
func (b *Builder) BuildDeposit(ctx context.Context, sender, owner common.Address, intent DepositIntent) (*UserOperation, error) {
	actions := []SubOperation{intent.DepositCall}
	if intent.Fee != nil && intent.Fee.Sign() > 0 {
		actions = append(actions, SubOperation{To: intent.Token.Address, Data: chain.EncodeTransfer(b.cfg.FeeRecipient, intent.Fee)})
	}

	deployed := b.reader.IsDeployed(ctx, sender)
	var approvals []SubOperation
	if !deployed {
		approvals = append(approvals,
			b.approveMax(intent.Token, b.cfg.Escrow),
			b.approveMax(intent.Token, b.cfg.Paymaster),
		)
	} else {
		var escrowAllowance, paymasterAllowance *big.Int
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			escrowAllowance, err = b.reader.Allowance(gctx, intent.Token.Address, sender, b.cfg.Escrow)
			return err
		})
		g.Go(func() (err error) {
			paymasterAllowance, err = b.reader.Allowance(gctx, intent.Token.Address, sender, b.cfg.Paymaster)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, fmt.Errorf("userop: read allowances: %w", err)
		}
		if escrowAllowance.Cmp(intent.Amount) < 0 {
			approvals = append(approvals, b.approveMax(intent.Token, b.cfg.Escrow))
		}
		if paymasterAllowance.Cmp(b.reserve(intent.Token)) < 0 {
			approvals = append(approvals, b.approveMax(intent.Token, b.cfg.Paymaster))
		}
	}

	return b.finalize(ctx, sender, owner, deployed, append(approvals, actions...))
}

func (b *Builder) approveMax(info token.Info, spender common.Address) SubOperation {
	return SubOperation{To: info.Address, Data: chain.EncodeApprove(spender, chain.MaxUint256)}
}

func (b *Builder) reserve(info token.Info) *big.Int {
	return token.WholeTokens(b.cfg.AllowanceReserve, info.Decimals)
}

func (b *Builder) finalize(ctx context.Context, sender, owner common.Address, deployed bool, batch []SubOperation) (*UserOperation, error) {
	op := &UserOperation{
		Sender:               sender,
		Nonce:                (*hexutil.Big)(new(big.Int)),
		InitCode:             hexutil.Bytes{},
		CallData:             EncodeExecuteBatch(batch),
		CallGasLimit:         (*hexutil.Big)(big.NewInt(DefaultCallGasLimit)),
		VerificationGasLimit: (*hexutil.Big)(big.NewInt(DefaultVerificationGasLimit)),
		PreVerificationGas:   (*hexutil.Big)(big.NewInt(DefaultPreVerificationGas)),
		PaymasterAndData:     hexutil.Bytes{},
		Signature:            hexutil.Bytes{},
	}
	if deployed {
		nonce, err := b.reader.AccountNonce(ctx, b.cfg.EntryPoint, sender)
		if err != nil {
			return nil, fmt.Errorf("userop: read account nonce: %w", err)
		}
		op.Nonce = (*hexutil.Big)(nonce)
	} else {
		op.InitCode = EncodeInitCode(b.cfg.Factory, owner, new(big.Int))
	}
	gasPrice, err := b.reader.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("userop: read gas price: %w", err)
	}
	op.MaxFeePerGas = (*hexutil.Big)(gasPrice)
	op.MaxPriorityFeePerGas = (*hexutil.Big)(new(big.Int).Set(gasPrice))
	return op, nil
}
