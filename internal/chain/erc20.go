package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// MaxUint256 is the canonical "approve everything" allowance value.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

var (
	addressArg        = abi.Arguments{{Type: mustABIType("address")}}
	addressPairArgs   = abi.Arguments{{Type: mustABIType("address")}, {Type: mustABIType("address")}}
	addressUint256    = abi.Arguments{{Type: mustABIType("address")}, {Type: mustABIType("uint256")}}
	uint256Ret        = abi.Arguments{{Type: mustABIType("uint256")}}
	balanceOfSelector = selector("balanceOf(address)")
	allowanceSelector = selector("allowance(address,address)")
	transferSelector  = selector("transfer(address,uint256)")
	approveSelector   = selector("approve(address,uint256)")
)

func mustABIType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func packCall(sel []byte, args abi.Arguments, values ...any) []byte {
	packed, err := args.Pack(values...)
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, sel...), packed...)
}

// EncodeTransfer returns ERC-20 transfer(to, amount) calldata.
func EncodeTransfer(to common.Address, amount *big.Int) []byte {
	return packCall(transferSelector, addressUint256, to, amount)
}

// EncodeApprove returns ERC-20 approve(spender, amount) calldata.
func EncodeApprove(spender common.Address, amount *big.Int) []byte {
	return packCall(approveSelector, addressUint256, spender, amount)
}

func (r *Reader) callUint256(ctx context.Context, to common.Address, data []byte) (*big.Int, error) {
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	vals, err := uint256Ret.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack uint256 result: %w", err)
	}
	return vals[0].(*big.Int), nil
}

func (r *Reader) BalanceOf(ctx context.Context, tokenAddr, owner common.Address) (*big.Int, error) {
	return r.callUint256(ctx, tokenAddr, packCall(balanceOfSelector, addressArg, owner))
}

func (r *Reader) Allowance(ctx context.Context, tokenAddr, owner, spender common.Address) (*big.Int, error) {
	return r.callUint256(ctx, tokenAddr, packCall(allowanceSelector, addressPairArgs, owner, spender))
}
