package chain

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type stubBackend struct {
	code       []byte
	codeErr    error
	callOut    []byte
	callErr    error
	lastCall   ethereum.CallMsg
	gasPrice   *big.Int
	receipt    *types.Receipt
	receiptErr error
}

func (s *stubBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return s.code, s.codeErr
}

func (s *stubBackend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	s.lastCall = msg
	return s.callOut, s.callErr
}

func (s *stubBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if s.gasPrice == nil {
		return big.NewInt(1), nil
	}
	return s.gasPrice, nil
}

func (s *stubBackend) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return nil, false, nil
}

func (s *stubBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return s.receipt, s.receiptErr
}

func newTestReader(backend Backend) *Reader {
	return NewReader(backend, log.New(io.Discard, "", 0))
}

func TestIsDeployed(t *testing.T) {
	r := newTestReader(&stubBackend{code: []byte{0x60, 0x80}})
	if !r.IsDeployed(context.Background(), common.HexToAddress("0x01")) {
		t.Error("bytecode present, want deployed")
	}

	r = newTestReader(&stubBackend{})
	if r.IsDeployed(context.Background(), common.HexToAddress("0x01")) {
		t.Error("no bytecode, want not deployed")
	}
}

func TestIsDeployedFailsSafe(t *testing.T) {
	r := newTestReader(&stubBackend{codeErr: errors.New("rpc timeout")})
	if r.IsDeployed(context.Background(), common.HexToAddress("0x01")) {
		t.Error("probe failure must read as not deployed")
	}
}

func TestBalanceOf(t *testing.T) {
	backend := &stubBackend{callOut: common.BigToHash(big.NewInt(12345)).Bytes()}
	r := newTestReader(backend)

	tokenAddr := common.HexToAddress("0x0e60")
	holder := common.HexToAddress("0x0dd0")
	got, err := r.BalanceOf(context.Background(), tokenAddr, holder)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if got.Int64() != 12345 {
		t.Errorf("balance = %s, want 12345", got)
	}
	if backend.lastCall.To == nil || *backend.lastCall.To != tokenAddr {
		t.Errorf("call targeted %v, want token contract", backend.lastCall.To)
	}
	wantSelector := selector("balanceOf(address)")
	if !bytes.Equal(backend.lastCall.Data[:4], wantSelector) {
		t.Errorf("selector = %x, want balanceOf", backend.lastCall.Data[:4])
	}
}

func TestAllowance(t *testing.T) {
	backend := &stubBackend{callOut: common.BigToHash(big.NewInt(7)).Bytes()}
	r := newTestReader(backend)

	got, err := r.Allowance(context.Background(),
		common.HexToAddress("0x0e60"),
		common.HexToAddress("0x0dd0"),
		common.HexToAddress("0x0aa0"))
	if err != nil {
		t.Fatalf("Allowance: %v", err)
	}
	if got.Int64() != 7 {
		t.Errorf("allowance = %s, want 7", got)
	}
}

func TestEncodeApproveMax(t *testing.T) {
	data := EncodeApprove(common.HexToAddress("0x0aa0"), MaxUint256)
	if len(data) != 4+2*32 {
		t.Fatalf("approve calldata length = %d, want 68", len(data))
	}
	// The amount word is all ones for an unlimited approval.
	amountWord := data[4+32:]
	for _, b := range amountWord {
		if b != 0xff {
			t.Fatalf("max approval amount word not saturated: %x", amountWord)
		}
	}
}

func TestEncodeTransfer(t *testing.T) {
	to := common.HexToAddress("0x00000000000000000000000000000000000000ff")
	data := EncodeTransfer(to, big.NewInt(9))
	if len(data) != 4+2*32 {
		t.Fatalf("transfer calldata length = %d, want 68", len(data))
	}
	if !bytes.Equal(data[:4], selector("transfer(address,uint256)")) {
		t.Errorf("selector = %x, want transfer", data[:4])
	}
	if !bytes.Equal(data[4+12:4+32], to.Bytes()) {
		t.Errorf("recipient not encoded in the first argument word")
	}
}
