package paymaster

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ecowallet/relay-backend/internal/userop"
)

// ErrSigningUnavailable wraps failures of the signing backend. An
// operation whose paymaster data cannot be signed is never submitted.
var ErrSigningUnavailable = errors.New("paymaster: signing unavailable")

// simulationGasFactor inflates the verification gas limit during gas
// estimation to cover signature-check overhead the estimator cannot see.
const simulationGasFactor = 3

var stubSignature = func() []byte {
	buf := make([]byte, 65)
	for i := 0; i < 64; i++ {
		buf[i] = 0xaa
	}
	buf[64] = 0x1c
	return buf
}()

var pmDataArgs = abi.Arguments{
	{Type: mustABIType("uint48")},
	{Type: mustABIType("uint48")},
	{Type: mustABIType("address")},
	{Type: mustABIType("uint256")},
}

var pmHashArgs = abi.Arguments{
	{Type: mustABIType("bytes32")},
	{Type: mustABIType("uint256")},
	{Type: mustABIType("address")},
	{Type: mustABIType("uint48")},
	{Type: mustABIType("uint48")},
	{Type: mustABIType("address")},
	{Type: mustABIType("uint256")},
}

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// SignRequest carries everything the signing backend's authorization
// covers: the fee terms and the operation they are bound to.
type SignRequest struct {
	OperationHash common.Hash
	ValidUntil    uint64
	ValidAfter    uint64
	FeeToken      common.Address
	FeeAmount     *big.Int
}

type SignatureSource interface {
	SignPaymasterData(ctx context.Context, req SignRequest) ([]byte, error)
}

// Middleware annotates prepared operations with fee-token paymaster
// authorization data.
type Middleware struct {
	address  common.Address
	chainID  *big.Int
	validity time.Duration
	source   SignatureSource
	logger   *log.Logger
	now      func() time.Time
}

func NewMiddleware(address common.Address, chainID *big.Int, validity time.Duration, source SignatureSource, logger *log.Logger) *Middleware {
	return &Middleware{
		address:  address,
		chainID:  chainID,
		validity: validity,
		source:   source,
		logger:   logger,
		now:      time.Now,
	}
}

// ApplyStub fills paymasterAndData with a placeholder signature of the
// final byte length and inflates the verification gas limit, so gas
// estimation never needs a signing round-trip.
func (m *Middleware) ApplyStub(op *userop.UserOperation, feeToken common.Address, feeAmount *big.Int) {
	vu, va := m.window()
	inflated := new(big.Int).Mul(op.VerificationGasLimit.ToInt(), big.NewInt(simulationGasFactor))
	op.VerificationGasLimit = (*hexutil.Big)(inflated)
	op.PaymasterAndData = m.assemble(vu, va, feeToken, feeAmount, stubSignature)
}

// Apply signs the fee authorization and writes the final paymasterAndData.
func (m *Middleware) Apply(ctx context.Context, op *userop.UserOperation, feeToken common.Address, feeAmount *big.Int) error {
	vu, va := m.window()
	req := SignRequest{
		OperationHash: m.authDigest(op, vu, va, feeToken, feeAmount),
		ValidUntil:    vu,
		ValidAfter:    va,
		FeeToken:      feeToken,
		FeeAmount:     feeAmount,
	}
	sig, err := m.source.SignPaymasterData(ctx, req)
	if err != nil {
		m.logger.Printf("paymaster signing failed: %v", err)
		return fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}
	op.PaymasterAndData = m.assemble(vu, va, feeToken, feeAmount, sig)
	return nil
}

func (m *Middleware) window() (validUntil, validAfter uint64) {
	now := uint64(m.now().Unix())
	return now + uint64(m.validity/time.Second), now
}

func (m *Middleware) assemble(vu, va uint64, feeToken common.Address, feeAmount *big.Int, sig []byte) []byte {
	packed, err := pmDataArgs.Pack(
		new(big.Int).SetUint64(vu),
		new(big.Int).SetUint64(va),
		feeToken,
		feeAmount,
	)
	if err != nil {
		panic(err)
	}
	out := make([]byte, 0, 20+len(packed)+len(sig))
	out = append(out, m.address.Bytes()...)
	out = append(out, packed...)
	return append(out, sig...)
}

// authDigest reproduces the verifying paymaster's getHash: the operation
// digest with paymasterAndData zeroed, bound to chain, paymaster address
// and fee terms.
func (m *Middleware) authDigest(op *userop.UserOperation, vu, va uint64, feeToken common.Address, feeAmount *big.Int) common.Hash {
	bare := *op
	bare.PaymasterAndData = nil
	bare.Signature = nil
	inner := crypto.Keccak256Hash(bare.PackForSigning())
	packed, err := pmHashArgs.Pack(
		inner,
		m.chainID,
		m.address,
		new(big.Int).SetUint64(vu),
		new(big.Int).SetUint64(va),
		feeToken,
		feeAmount,
	)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}
