package transfer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/ecowallet/relay-backend/internal/bundler"
	"github.com/ecowallet/relay-backend/internal/escrow"
	"github.com/ecowallet/relay-backend/internal/fee"
	"github.com/ecowallet/relay-backend/internal/store"
	"github.com/ecowallet/relay-backend/internal/token"
	"github.com/ecowallet/relay-backend/internal/userop"
)

var (
	// ErrBusy means another operation from this account is still being
	// submitted. Callers retry once it settles.
	ErrBusy = errors.New("transfer: an operation is already in flight")

	// ErrInsufficientBalance means amount plus fee exceeds the sender's
	// token balance. Checked before any operation is built.
	ErrInsufficientBalance = errors.New("transfer: amount plus fee exceeds balance")

	// ErrFeeUnavailable means no usable fee quote exists for the token,
	// usually because every price source is down.
	ErrFeeUnavailable = errors.New("transfer: fee quote unavailable")

	// ErrInvalidAmount means the requested amount is missing, zero, or
	// negative. Amount parsing maps unparsable input to zero, so typos
	// land here too.
	ErrInvalidAmount = errors.New("transfer: amount must be positive")
)

// Chain is the on-chain state the service reads directly.
type Chain interface {
	BalanceOf(ctx context.Context, tokenAddr, owner common.Address) (*big.Int, error)
	SimpleAccountAddress(ctx context.Context, factory, owner common.Address, salt *big.Int) (common.Address, error)
	AwaitTransaction(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Sponsor annotates operations with paymaster data.
type Sponsor interface {
	ApplyStub(op *userop.UserOperation, feeToken common.Address, feeAmount *big.Int)
	Apply(ctx context.Context, op *userop.UserOperation, feeToken common.Address, feeAmount *big.Int) error
}

// Bundler is the submission surface of the ERC-4337 bundler client.
type Bundler interface {
	EstimateGas(ctx context.Context, op *userop.UserOperation) (*bundler.GasEstimate, error)
	Submit(ctx context.Context, op *userop.UserOperation) (common.Hash, error)
	AwaitInclusion(ctx context.Context, opHash common.Hash) (*bundler.Inclusion, error)
}

// FeeSource yields the current fee quote per token.
type FeeSource interface {
	Quote(id token.ID) (fee.Quote, bool)
}

// OperationStore persists submission history. *store.Repository satisfies it.
type OperationStore interface {
	CreateOperation(ctx context.Context, op *store.Operation) error
	UpdateOperationStatus(ctx context.Context, userOpHash, status, txHash, reason string) error
	CreateDepositLink(ctx context.Context, link *store.DepositLink) error
}

// OperationEvent is pushed to subscribers whenever an operation changes
// status.
type OperationEvent struct {
	TraceID    string   `json:"traceId"`
	Kind       string   `json:"kind"`
	Token      token.ID `json:"token"`
	Status     string   `json:"status"`
	UserOpHash string   `json:"userOpHash"`
	TxHash     string   `json:"txHash,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Publisher fans operation events out to connected clients.
type Publisher interface {
	PublishOperationUpdate(ev OperationEvent)
}

type Config struct {
	EntryPoint common.Address
	Factory    common.Address
	Escrow     common.Address
	ChainID    *big.Int

	// InclusionTimeout bounds how long a settled outcome is waited for
	// after submission.
	InclusionTimeout time.Duration
}

// Service drives gasless operations end to end: build, sponsor, estimate,
// sign, submit, then track inclusion. One operation is admitted at a time;
// the smart account's nonce makes concurrent submissions race each other
// anyway, so the gate turns silent bundler rejections into ErrBusy up front.
type Service struct {
	cfg      Config
	registry *token.Registry
	chain    Chain
	builder  *userop.Builder
	sponsor  Sponsor
	bundler  Bundler
	signer   userop.Signer
	fees     FeeSource
	codec    *escrow.Codec
	storage  OperationStore
	events   Publisher
	logger   *log.Logger

	mu       sync.Mutex
	inFlight bool
}

func NewService(
	cfg Config,
	registry *token.Registry,
	chainReader Chain,
	builder *userop.Builder,
	sponsor Sponsor,
	bundlerClient Bundler,
	signer userop.Signer,
	fees FeeSource,
	codec *escrow.Codec,
	storage OperationStore,
	events Publisher,
	logger *log.Logger,
) *Service {
	if cfg.InclusionTimeout <= 0 {
		cfg.InclusionTimeout = 5 * time.Minute
	}
	return &Service{
		cfg:      cfg,
		registry: registry,
		chain:    chainReader,
		builder:  builder,
		sponsor:  sponsor,
		bundler:  bundlerClient,
		signer:   signer,
		fees:     fees,
		codec:    codec,
		storage:  storage,
		events:   events,
		logger:   logger,
	}
}

type TransferRequest struct {
	Token     token.ID
	Recipient common.Address
	Amount    *big.Int
}

type TransferResult struct {
	TraceID    string
	UserOpHash common.Hash
	Fee        *big.Int
}

type DepositRequest struct {
	Token  token.ID
	Amount *big.Int
}

type DepositResult struct {
	TraceID      string
	UserOpHash   common.Hash
	TxHash       common.Hash
	DepositIndex int64
	Link         string
	Fee          *big.Int
}

func (s *Service) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight {
		return ErrBusy
	}
	s.inFlight = true
	return nil
}

func (s *Service) release() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// FeeFor reports the current fee charged for an operation in the given
// token. It never invents a quote: a dry price feed surfaces as an error.
func (s *Service) FeeFor(id token.ID) (*big.Int, error) {
	if !s.registry.Supports(id) {
		return nil, token.ErrUnsupported
	}
	quote, ok := s.fees.Quote(id)
	if !ok {
		return nil, ErrFeeUnavailable
	}
	return new(big.Int).Set(quote.Amount), nil
}

// Balance reads the smart account's balance in the given token.
func (s *Service) Balance(ctx context.Context, id token.ID) (*big.Int, error) {
	info, err := s.registry.ByID(id)
	if err != nil {
		return nil, err
	}
	sender, err := s.accountAddress(ctx)
	if err != nil {
		return nil, err
	}
	return s.chain.BalanceOf(ctx, info.Address, sender)
}

// Account reports the smart account address operations are sent from.
func (s *Service) Account(ctx context.Context) (common.Address, error) {
	return s.accountAddress(ctx)
}

// Transfer submits a gasless token transfer. It returns as soon as the
// bundler accepts the operation; inclusion is tracked in the background
// and reported through the store and the event publisher.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	info, feeAmount, sender, err := s.admit(ctx, req.Token, req.Amount)
	if err != nil {
		return nil, err
	}

	op, err := s.builder.BuildTransfer(ctx, sender, s.signer.Owner(), userop.TransferIntent{
		Token:     info,
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Fee:       feeAmount,
	})
	if err != nil {
		return nil, err
	}

	opHash, err := s.submit(ctx, op, info.Address, feeAmount)
	if err != nil {
		return nil, err
	}

	traceID := uuid.NewString()
	s.record(ctx, &store.Operation{
		TraceID:    traceID,
		Kind:       store.OpKindTransfer,
		TokenID:    string(req.Token),
		Sender:     store.NormalizeAddress(sender.Hex()),
		Recipient:  store.NormalizeAddress(req.Recipient.Hex()),
		Amount:     req.Amount.String(),
		Fee:        feeAmount.String(),
		UserOpHash: opHash.Hex(),
		Status:     store.OpStatusSubmitted,
	})

	go s.watch(traceID, store.OpKindTransfer, req.Token, opHash)

	return &TransferResult{TraceID: traceID, UserOpHash: opHash, Fee: feeAmount}, nil
}

// CreateDepositLink escrows tokens behind a fresh one-time password and
// returns the shareable claim link. Unlike Transfer it blocks until the
// operation is mined, because the deposit index only exists in the mined
// receipt and the link cannot be assembled without it.
func (s *Service) CreateDepositLink(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	info, feeAmount, sender, err := s.admit(ctx, req.Token, req.Amount)
	if err != nil {
		return nil, err
	}

	password, err := escrow.RandomPassword()
	if err != nil {
		return nil, err
	}
	keys, err := escrow.DeriveKeys(password)
	if err != nil {
		return nil, err
	}

	op, err := s.builder.BuildDeposit(ctx, sender, s.signer.Owner(), userop.DepositIntent{
		Token:  info,
		Amount: req.Amount,
		Fee:    feeAmount,
		DepositCall: userop.SubOperation{
			To:   s.cfg.Escrow,
			Data: escrow.EncodeMakeDeposit(info.Address, req.Amount, keys.Address),
		},
	})
	if err != nil {
		return nil, err
	}

	opHash, err := s.submit(ctx, op, info.Address, feeAmount)
	if err != nil {
		return nil, err
	}

	traceID := uuid.NewString()
	record := &store.Operation{
		TraceID:    traceID,
		Kind:       store.OpKindDeposit,
		TokenID:    string(req.Token),
		Sender:     store.NormalizeAddress(sender.Hex()),
		Amount:     req.Amount.String(),
		Fee:        feeAmount.String(),
		UserOpHash: opHash.Hex(),
		Status:     store.OpStatusSubmitted,
	}
	s.record(ctx, record)

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.InclusionTimeout)
	defer cancel()

	inc, err := s.bundler.AwaitInclusion(waitCtx, opHash)
	if err != nil {
		return nil, fmt.Errorf("await deposit inclusion: %w", err)
	}
	if !inc.Success {
		s.settle(traceID, store.OpKindDeposit, req.Token, opHash, inc)
		return nil, fmt.Errorf("deposit operation reverted: %s", inc.Reason)
	}

	receipt, err := s.chain.AwaitTransaction(waitCtx, inc.TxHash)
	if err != nil {
		return nil, fmt.Errorf("fetch deposit receipt: %w", err)
	}
	index, err := escrow.DepositIndexFromReceipt(receipt, s.cfg.Escrow, sender)
	if err != nil {
		return nil, err
	}

	link := s.codec.CreateLink(req.Token, password, index)
	if err := s.storage.CreateDepositLink(ctx, &store.DepositLink{
		OperationID:  record.ID,
		TokenID:      string(req.Token),
		DepositIndex: index,
		Link:         link,
	}); err != nil {
		s.logger.Printf("persist deposit link %d: %v", index, err)
	}
	s.settle(traceID, store.OpKindDeposit, req.Token, opHash, inc)

	return &DepositResult{
		TraceID:      traceID,
		UserOpHash:   opHash,
		TxHash:       inc.TxHash,
		DepositIndex: index,
		Link:         link,
		Fee:          feeAmount,
	}, nil
}

// admit runs the preconditions common to both operation kinds: token
// support, a live fee quote, and amount plus fee covered by balance.
func (s *Service) admit(ctx context.Context, id token.ID, amount *big.Int) (token.Info, *big.Int, common.Address, error) {
	info, err := s.registry.ByID(id)
	if err != nil {
		return token.Info{}, nil, common.Address{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return token.Info{}, nil, common.Address{}, ErrInvalidAmount
	}
	quote, ok := s.fees.Quote(id)
	if !ok {
		return token.Info{}, nil, common.Address{}, ErrFeeUnavailable
	}
	sender, err := s.accountAddress(ctx)
	if err != nil {
		return token.Info{}, nil, common.Address{}, err
	}
	balance, err := s.chain.BalanceOf(ctx, info.Address, sender)
	if err != nil {
		return token.Info{}, nil, common.Address{}, fmt.Errorf("read balance: %w", err)
	}
	need := new(big.Int).Add(amount, quote.Amount)
	if balance.Cmp(need) < 0 {
		return token.Info{}, nil, common.Address{}, ErrInsufficientBalance
	}
	return info, new(big.Int).Set(quote.Amount), sender, nil
}

func (s *Service) accountAddress(ctx context.Context) (common.Address, error) {
	return s.chain.SimpleAccountAddress(ctx, s.cfg.Factory, s.signer.Owner(), big.NewInt(0))
}

// submit runs the sponsorship pipeline: stub paymaster data for
// simulation, bundler gas estimation, real paymaster signature over the
// final limits, owner signature, submission.
func (s *Service) submit(ctx context.Context, op *userop.UserOperation, feeToken common.Address, feeAmount *big.Int) (common.Hash, error) {
	s.sponsor.ApplyStub(op, feeToken, feeAmount)

	est, err := s.bundler.EstimateGas(ctx, op)
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}
	applyEstimate(op, est)

	if err := s.sponsor.Apply(ctx, op, feeToken, feeAmount); err != nil {
		return common.Hash{}, err
	}

	sig, err := s.signer.SignUserOperation(op, s.cfg.EntryPoint, s.cfg.ChainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign operation: %w", err)
	}
	op.Signature = sig

	opHash, err := s.bundler.Submit(ctx, op)
	if err != nil {
		return common.Hash{}, err
	}
	return opHash, nil
}

// applyEstimate overwrites the default gas limits with bundler estimates.
// The call gas floor stays in place: some bundlers underestimate batches
// whose first calls are cheap approvals.
func applyEstimate(op *userop.UserOperation, est *bundler.GasEstimate) {
	if call := est.CallGasLimit; call != nil {
		limit := call.ToInt()
		if limit.Cmp(big.NewInt(userop.MinimumCallGasLimit)) < 0 {
			limit = big.NewInt(userop.MinimumCallGasLimit)
		}
		op.CallGasLimit = (*hexutil.Big)(limit)
	}
	if v := est.Verification(); v != nil {
		op.VerificationGasLimit = (*hexutil.Big)(v.ToInt())
	}
	if pre := est.PreVerificationGas; pre != nil {
		op.PreVerificationGas = (*hexutil.Big)(pre.ToInt())
	}
}

func (s *Service) record(ctx context.Context, op *store.Operation) {
	if err := s.storage.CreateOperation(ctx, op); err != nil {
		s.logger.Printf("persist operation %s: %v", op.UserOpHash, err)
	}
	s.events.PublishOperationUpdate(OperationEvent{
		TraceID:    op.TraceID,
		Kind:       op.Kind,
		Token:      token.ID(op.TokenID),
		Status:     op.Status,
		UserOpHash: op.UserOpHash,
	})
}

// watch tracks a submitted transfer until inclusion. It runs detached
// from the request: the caller already has its operation hash.
func (s *Service) watch(traceID, kind string, id token.ID, opHash common.Hash) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.InclusionTimeout)
	defer cancel()

	inc, err := s.bundler.AwaitInclusion(ctx, opHash)
	if err != nil {
		s.logger.Printf("operation %s: inclusion wait failed: %v", opHash.Hex(), err)
		s.update(traceID, kind, id, opHash, store.OpStatusFailed, "", err.Error())
		return
	}
	s.settle(traceID, kind, id, opHash, inc)
}

func (s *Service) settle(traceID, kind string, id token.ID, opHash common.Hash, inc *bundler.Inclusion) {
	status := store.OpStatusIncluded
	if !inc.Success {
		status = store.OpStatusFailed
	}
	s.update(traceID, kind, id, opHash, status, inc.TxHash.Hex(), inc.Reason)
}

func (s *Service) update(traceID, kind string, id token.ID, opHash common.Hash, status, txHash, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.storage.UpdateOperationStatus(ctx, opHash.Hex(), status, txHash, reason); err != nil {
		s.logger.Printf("update operation %s: %v", opHash.Hex(), err)
	}
	s.events.PublishOperationUpdate(OperationEvent{
		TraceID:    traceID,
		Kind:       kind,
		Token:      id,
		Status:     status,
		UserOpHash: opHash.Hex(),
		TxHash:     txHash,
		Reason:     reason,
	})
}
