package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrDepositNotFound reports a deposit index with no live record: never
// created, or already claimed and zeroed by the contract.
var ErrDepositNotFound = errors.New("escrow: deposit not found")

// erc20DepositType is the escrow contract's type tag for ERC-20 deposits.
const erc20DepositType = 1

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	makeDepositSelector = crypto.Keccak256([]byte("makeDeposit(address,uint8,uint256,uint256,address)"))[:4]
	depositsSelector    = crypto.Keccak256([]byte("deposits(uint256)"))[:4]

	makeDepositArgs = abi.Arguments{
		{Type: mustABIType("address")},
		{Type: mustABIType("uint8")},
		{Type: mustABIType("uint256")},
		{Type: mustABIType("uint256")},
		{Type: mustABIType("address")},
	}
	depositsIndexArgs = abi.Arguments{
		{Type: mustABIType("uint256")},
	}
	depositRecordArgs = abi.Arguments{
		{Type: mustABIType("address")},
		{Type: mustABIType("uint256")},
		{Type: mustABIType("address")},
		{Type: mustABIType("uint8")},
		{Type: mustABIType("uint256")},
	}

	// DepositEvent(index indexed, contractType indexed, amount, sender indexed)
	depositEventTopic = crypto.Keccak256Hash([]byte("DepositEvent(uint256,uint8,uint256,address)"))
)

// EncodeMakeDeposit builds the escrow call locking amount of tokenAddr
// behind the claim authority keyAddress.
func EncodeMakeDeposit(tokenAddr common.Address, amount *big.Int, keyAddress common.Address) []byte {
	packed, err := makeDepositArgs.Pack(tokenAddr, uint8(erc20DepositType), amount, new(big.Int), keyAddress)
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, makeDepositSelector...), packed...)
}

// DepositRecord is the escrow contract's on-chain deposit state, read-only
// to this service. A successful claim zeroes it.
type DepositRecord struct {
	PubKey20     common.Address
	Amount       *big.Int
	TokenAddress common.Address
	ContractType uint8
	TokenID      *big.Int
}

type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Reader resolves deposit indexes against the escrow contract.
type Reader struct {
	backend Backend
	address common.Address
}

func NewReader(backend Backend, address common.Address) *Reader {
	return &Reader{backend: backend, address: address}
}

func (r *Reader) Address() common.Address { return r.address }

func (r *Reader) DepositAt(ctx context.Context, index int64) (*DepositRecord, error) {
	data, err := depositsIndexArgs.Pack(big.NewInt(index))
	if err != nil {
		panic(err)
	}
	call := append(append([]byte{}, depositsSelector...), data...)
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: call}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := depositRecordArgs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("escrow: unpack deposit record: %w", err)
	}
	record := &DepositRecord{
		PubKey20:     vals[0].(common.Address),
		Amount:       vals[1].(*big.Int),
		TokenAddress: vals[2].(common.Address),
		ContractType: vals[3].(uint8),
		TokenID:      vals[4].(*big.Int),
	}
	if record.Amount.Sign() == 0 {
		return nil, ErrDepositNotFound
	}
	return record, nil
}

// DepositIndexFromReceipt recovers the escrow-assigned deposit index from
// the deposit transaction's logs.
func DepositIndexFromReceipt(receipt *types.Receipt, escrow, sender common.Address) (int64, error) {
	for _, entry := range receipt.Logs {
		if entry.Address != escrow || len(entry.Topics) < 4 {
			continue
		}
		if entry.Topics[0] != depositEventTopic {
			continue
		}
		if common.BytesToAddress(entry.Topics[3].Bytes()) != sender {
			continue
		}
		return new(big.Int).SetBytes(entry.Topics[1].Bytes()).Int64(), nil
	}
	return 0, errors.New("escrow: deposit event not found in receipt")
}
