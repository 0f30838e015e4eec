package userop

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ecowallet/relay-backend/internal/chain"
	"github.com/ecowallet/relay-backend/internal/token"
)

var (
	testEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	testFactory    = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	testPaymaster  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testEscrow     = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	testFeeSink    = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	testSender     = common.HexToAddress("0x00000000000000000000000000000000000000dd")
	testOwner      = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	testRecipient  = common.HexToAddress("0x00000000000000000000000000000000000000ff")

	testToken = token.Info{ID: token.ECO, Name: "ECO", Address: common.HexToAddress("0x0000000000000000000000000000000000000e60"), Decimals: 18}
)

type stubChain struct {
	deployed   bool
	allowances map[common.Address]*big.Int
	nonce      *big.Int
	gasPrice   *big.Int
	readErr    error
}

func (s *stubChain) IsDeployed(ctx context.Context, addr common.Address) bool { return s.deployed }

func (s *stubChain) Allowance(ctx context.Context, tokenAddr, owner, spender common.Address) (*big.Int, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	if v, ok := s.allowances[spender]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (s *stubChain) AccountNonce(ctx context.Context, entryPoint, sender common.Address) (*big.Int, error) {
	if s.nonce == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(s.nonce), nil
}

func (s *stubChain) GasPrice(ctx context.Context) (*big.Int, error) {
	if s.gasPrice == nil {
		return big.NewInt(1_000_000_000), nil
	}
	return new(big.Int).Set(s.gasPrice), nil
}

func newTestBuilder(reader ChainReader) *Builder {
	return NewBuilder(BuilderConfig{
		EntryPoint:       testEntryPoint,
		Factory:          testFactory,
		Paymaster:        testPaymaster,
		Escrow:           testEscrow,
		FeeRecipient:     testFeeSink,
		AllowanceReserve: 10_000,
	}, reader)
}

// decodeBatch unpacks executeBatch calldata back into sub-operations.
func decodeBatch(t *testing.T, callData []byte) []SubOperation {
	t.Helper()
	if !bytes.Equal(callData[:4], executeBatchSelector) {
		t.Fatalf("calldata selector = %x, want executeBatch", callData[:4])
	}
	values, err := executeBatchArgs.Unpack(callData[4:])
	if err != nil {
		t.Fatalf("unpack executeBatch: %v", err)
	}
	dests := values[0].([]common.Address)
	datas := values[1].([][]byte)
	if len(dests) != len(datas) {
		t.Fatalf("dest/data length mismatch: %d vs %d", len(dests), len(datas))
	}
	ops := make([]SubOperation, len(dests))
	for i := range dests {
		ops[i] = SubOperation{To: dests[i], Data: datas[i]}
	}
	return ops
}

func isApprove(data []byte) bool {
	return bytes.Equal(data[:4], chain.EncodeApprove(common.Address{}, new(big.Int))[:4])
}

func TestBuildTransferApprovalsPrecedeActions(t *testing.T) {
	reader := &stubChain{
		deployed:   true,
		allowances: map[common.Address]*big.Int{},
	}
	b := newTestBuilder(reader)

	op, err := b.BuildTransfer(context.Background(), testSender, testOwner, TransferIntent{
		Token:     testToken,
		Recipient: testRecipient,
		Amount:    big.NewInt(1000),
		Fee:       big.NewInt(10),
	})
	if err != nil {
		t.Fatalf("BuildTransfer: %v", err)
	}

	ops := decodeBatch(t, op.CallData)
	if len(ops) != 3 {
		t.Fatalf("batch length = %d, want 3", len(ops))
	}
	if !isApprove(ops[0].Data) {
		t.Errorf("first sub-operation should be the paymaster approval")
	}
	for _, action := range ops[1:] {
		if isApprove(action.Data) {
			t.Errorf("approval found after the first action")
		}
	}
	if op.Nonce.ToInt().Sign() != 0 {
		t.Errorf("nonce = %s, want 0", op.Nonce.ToInt())
	}
	if len(op.InitCode) != 0 {
		t.Errorf("deployed sender should have empty initCode")
	}
}

func TestBuildTransferSkipsApprovalWhenCovered(t *testing.T) {
	reader := &stubChain{
		deployed: true,
		allowances: map[common.Address]*big.Int{
			testPaymaster: token.WholeTokens(20_000, testToken.Decimals),
		},
	}
	b := newTestBuilder(reader)

	op, err := b.BuildTransfer(context.Background(), testSender, testOwner, TransferIntent{
		Token:     testToken,
		Recipient: testRecipient,
		Amount:    big.NewInt(1000),
		Fee:       big.NewInt(10),
	})
	if err != nil {
		t.Fatalf("BuildTransfer: %v", err)
	}

	ops := decodeBatch(t, op.CallData)
	if len(ops) != 2 {
		t.Fatalf("batch length = %d, want 2 (transfer and fee only)", len(ops))
	}
	for _, sub := range ops {
		if isApprove(sub.Data) {
			t.Errorf("no approval expected when allowance covers the reserve")
		}
	}
}

func TestBuildDepositUndeployedSender(t *testing.T) {
	reader := &stubChain{deployed: false}
	b := newTestBuilder(reader)

	depositCall := SubOperation{To: testEscrow, Data: []byte{0xde, 0xad, 0xbe, 0xef}}
	op, err := b.BuildDeposit(context.Background(), testSender, testOwner, DepositIntent{
		Token:       testToken,
		Amount:      big.NewInt(500),
		Fee:         big.NewInt(5),
		DepositCall: depositCall,
	})
	if err != nil {
		t.Fatalf("BuildDeposit: %v", err)
	}

	ops := decodeBatch(t, op.CallData)
	if len(ops) != 4 {
		t.Fatalf("batch length = %d, want 4", len(ops))
	}
	// Escrow approval, paymaster approval, then the deposit itself.
	if !isApprove(ops[0].Data) || !isApprove(ops[1].Data) {
		t.Errorf("undeployed sender should open with both approvals")
	}
	if ops[2].To != testEscrow || !bytes.Equal(ops[2].Data, depositCall.Data) {
		t.Errorf("third sub-operation should be the deposit call")
	}
	if len(op.InitCode) == 0 {
		t.Errorf("undeployed sender needs initCode")
	}
	if !bytes.Equal(op.InitCode[:20], testFactory.Bytes()) {
		t.Errorf("initCode should start with the factory address")
	}
}

func TestBuildDepositPartialAllowances(t *testing.T) {
	reader := &stubChain{
		deployed: true,
		allowances: map[common.Address]*big.Int{
			testEscrow:    big.NewInt(100), // below deposit amount
			testPaymaster: token.WholeTokens(20_000, testToken.Decimals),
		},
	}
	b := newTestBuilder(reader)

	op, err := b.BuildDeposit(context.Background(), testSender, testOwner, DepositIntent{
		Token:       testToken,
		Amount:      big.NewInt(500),
		Fee:         big.NewInt(5),
		DepositCall: SubOperation{To: testEscrow, Data: []byte{0x01}},
	})
	if err != nil {
		t.Fatalf("BuildDeposit: %v", err)
	}

	ops := decodeBatch(t, op.CallData)
	if len(ops) != 3 {
		t.Fatalf("batch length = %d, want 3 (escrow approval, deposit, fee)", len(ops))
	}
	if !isApprove(ops[0].Data) {
		t.Errorf("escrow approval expected first")
	}
}

func TestBuildTransferAllowanceReadFailure(t *testing.T) {
	reader := &stubChain{deployed: true, readErr: errors.New("rpc down")}
	b := newTestBuilder(reader)

	_, err := b.BuildTransfer(context.Background(), testSender, testOwner, TransferIntent{
		Token:     testToken,
		Recipient: testRecipient,
		Amount:    big.NewInt(1),
	})
	if err == nil {
		t.Fatal("expected error when allowance read fails")
	}
}
