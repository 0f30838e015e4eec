package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// SubOperation is a single encoded contract call inside a batch.
type SubOperation struct {
	To   common.Address
	Data []byte
}

// UserOperation is the ERC-4337 v0.6 wire shape. Fields marshal to the
// hex-quantity encoding bundlers expect.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	executeBatchSelector  = crypto.Keccak256([]byte("executeBatch(address[],bytes[])"))[:4]
	createAccountSelector = crypto.Keccak256([]byte("createAccount(address,uint256)"))[:4]

	executeBatchArgs = abi.Arguments{
		{Type: mustABIType("address[]")},
		{Type: mustABIType("bytes[]")},
	}
	createAccountArgs = abi.Arguments{
		{Type: mustABIType("address")},
		{Type: mustABIType("uint256")},
	}
	packedOpArgs = abi.Arguments{
		{Type: mustABIType("address")},
		{Type: mustABIType("uint256")},
		{Type: mustABIType("bytes32")},
		{Type: mustABIType("bytes32")},
		{Type: mustABIType("uint256")},
		{Type: mustABIType("uint256")},
		{Type: mustABIType("uint256")},
		{Type: mustABIType("uint256")},
		{Type: mustABIType("uint256")},
		{Type: mustABIType("bytes32")},
	}
	opHashArgs = abi.Arguments{
		{Type: mustABIType("bytes32")},
		{Type: mustABIType("address")},
		{Type: mustABIType("uint256")},
	}
)

// EncodeExecuteBatch packs sub-operations into SimpleAccount
// executeBatch(address[],bytes[]) calldata, preserving order.
func EncodeExecuteBatch(ops []SubOperation) []byte {
	dests := make([]common.Address, len(ops))
	datas := make([][]byte, len(ops))
	for i, op := range ops {
		dests[i] = op.To
		datas[i] = op.Data
	}
	packed, err := executeBatchArgs.Pack(dests, datas)
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, executeBatchSelector...), packed...)
}

// EncodeInitCode builds factory initCode deploying a SimpleAccount for
// owner with the given salt.
func EncodeInitCode(factory, owner common.Address, salt *big.Int) []byte {
	packed, err := createAccountArgs.Pack(owner, salt)
	if err != nil {
		panic(err)
	}
	out := make([]byte, 0, 20+4+len(packed))
	out = append(out, factory.Bytes()...)
	out = append(out, createAccountSelector...)
	return append(out, packed...)
}

func bigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToInt()
}

// PackForSigning produces the static encoding of the operation with the
// signature omitted, as EntryPoint v0.6 hashes it.
func (op *UserOperation) PackForSigning() []byte {
	packed, err := packedOpArgs.Pack(
		op.Sender,
		bigOrZero(op.Nonce),
		common.BytesToHash(crypto.Keccak256(op.InitCode)),
		common.BytesToHash(crypto.Keccak256(op.CallData)),
		bigOrZero(op.CallGasLimit),
		bigOrZero(op.VerificationGasLimit),
		bigOrZero(op.PreVerificationGas),
		bigOrZero(op.MaxFeePerGas),
		bigOrZero(op.MaxPriorityFeePerGas),
		common.BytesToHash(crypto.Keccak256(op.PaymasterAndData)),
	)
	if err != nil {
		panic(err)
	}
	return packed
}

// Hash is the canonical userOpHash bound to an entry point and chain.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) common.Hash {
	inner := crypto.Keccak256Hash(op.PackForSigning())
	packed, err := opHashArgs.Pack(inner, entryPoint, chainID)
	if err != nil {
		panic(err)
	}
	return crypto.Keccak256Hash(packed)
}
