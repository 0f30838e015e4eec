package paymaster

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ecowallet/relay-backend/internal/userop"
)

var (
	testPaymaster = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testFeeToken  = common.HexToAddress("0x0000000000000000000000000000000000000e60")
)

type stubSource struct {
	sig      []byte
	err      error
	lastReq  SignRequest
	sawCalls int
}

func (s *stubSource) SignPaymasterData(ctx context.Context, req SignRequest) ([]byte, error) {
	s.sawCalls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.sig, nil
}

func testOp() *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               common.HexToAddress("0x00000000000000000000000000000000000000dd"),
		Nonce:                (*hexutil.Big)(big.NewInt(3)),
		InitCode:             hexutil.Bytes{},
		CallData:             hexutil.Bytes{0x01, 0x02},
		CallGasLimit:         (*hexutil.Big)(big.NewInt(200_000)),
		VerificationGasLimit: (*hexutil.Big)(big.NewInt(500_000)),
		PreVerificationGas:   (*hexutil.Big)(big.NewInt(50_000)),
		MaxFeePerGas:         (*hexutil.Big)(big.NewInt(1_000_000_000)),
		MaxPriorityFeePerGas: (*hexutil.Big)(big.NewInt(1_000_000_000)),
		PaymasterAndData:     hexutil.Bytes{},
		Signature:            hexutil.Bytes{},
	}
}

func newTestMiddleware(source SignatureSource) *Middleware {
	m := NewMiddleware(testPaymaster, big.NewInt(10), 10*time.Minute, source, log.New(io.Discard, "", 0))
	m.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return m
}

func TestApplyStubLayout(t *testing.T) {
	m := newTestMiddleware(&stubSource{})
	op := testOp()

	m.ApplyStub(op, testFeeToken, big.NewInt(5))

	// paymaster address, four abi words of fee terms, 65-byte signature.
	wantLen := 20 + 4*32 + 65
	if len(op.PaymasterAndData) != wantLen {
		t.Fatalf("paymasterAndData length = %d, want %d", len(op.PaymasterAndData), wantLen)
	}
	if !bytes.Equal(op.PaymasterAndData[:20], testPaymaster.Bytes()) {
		t.Errorf("paymasterAndData should start with the paymaster address")
	}
	if !bytes.Equal(op.PaymasterAndData[wantLen-65:], stubSignature) {
		t.Errorf("stub signature not at the tail")
	}
}

func TestApplyStubInflatesVerificationGas(t *testing.T) {
	m := newTestMiddleware(&stubSource{})
	op := testOp()

	m.ApplyStub(op, testFeeToken, big.NewInt(5))

	if got := op.VerificationGasLimit.ToInt().Int64(); got != 1_500_000 {
		t.Errorf("verification gas = %d, want 1500000", got)
	}
}

func TestApplySignsAndAssembles(t *testing.T) {
	sig := bytes.Repeat([]byte{0x11}, 65)
	source := &stubSource{sig: sig}
	m := newTestMiddleware(source)
	op := testOp()

	if err := m.Apply(context.Background(), op, testFeeToken, big.NewInt(5)); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if source.sawCalls != 1 {
		t.Fatalf("signer calls = %d, want 1", source.sawCalls)
	}

	req := source.lastReq
	if req.ValidAfter != 1_700_000_000 {
		t.Errorf("validAfter = %d, want 1700000000", req.ValidAfter)
	}
	if req.ValidUntil != 1_700_000_600 {
		t.Errorf("validUntil = %d, want 1700000600", req.ValidUntil)
	}
	if req.FeeToken != testFeeToken || req.FeeAmount.Int64() != 5 {
		t.Errorf("fee terms not forwarded to signer")
	}
	if req.OperationHash == (common.Hash{}) {
		t.Errorf("operation hash missing from sign request")
	}

	if !bytes.Equal(op.PaymasterAndData[len(op.PaymasterAndData)-65:], sig) {
		t.Errorf("final signature not at the tail of paymasterAndData")
	}
}

func TestAuthDigestIgnoresExistingPaymasterData(t *testing.T) {
	m := newTestMiddleware(&stubSource{})
	a, b := testOp(), testOp()
	b.PaymasterAndData = hexutil.Bytes(bytes.Repeat([]byte{0xff}, 32))
	b.Signature = hexutil.Bytes{0x01}

	da := m.authDigest(a, 1, 2, testFeeToken, big.NewInt(5))
	db := m.authDigest(b, 1, 2, testFeeToken, big.NewInt(5))
	if da != db {
		t.Errorf("digest must not depend on prior paymasterAndData or signature")
	}

	dc := m.authDigest(a, 1, 2, testFeeToken, big.NewInt(6))
	if da == dc {
		t.Errorf("digest must bind the fee amount")
	}
}

func TestApplySigningFailure(t *testing.T) {
	m := newTestMiddleware(&stubSource{err: errors.New("hsm offline")})
	op := testOp()

	err := m.Apply(context.Background(), op, testFeeToken, big.NewInt(5))
	if !errors.Is(err, ErrSigningUnavailable) {
		t.Fatalf("err = %v, want ErrSigningUnavailable", err)
	}
	if len(op.PaymasterAndData) != 0 {
		t.Errorf("failed signing must not leave partial paymaster data")
	}
}
