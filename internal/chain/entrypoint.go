package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	getNonceArgs       = abi.Arguments{{Type: mustABIType("address")}, {Type: mustABIType("uint192")}}
	getAddressArgs     = abi.Arguments{{Type: mustABIType("address")}, {Type: mustABIType("uint256")}}
	addressRet         = abi.Arguments{{Type: mustABIType("address")}}
	getNonceSelector   = selector("getNonce(address,uint192)")
	getAddressSelector = selector("getAddress(address,uint256)")
)

// AccountNonce reads the smart account's next nonce from the entry point.
func (r *Reader) AccountNonce(ctx context.Context, entryPoint, sender common.Address) (*big.Int, error) {
	return r.callUint256(ctx, entryPoint, packCall(getNonceSelector, getNonceArgs, sender, new(big.Int)))
}

// SimpleAccountAddress asks the account factory for the counterfactual
// address owned by owner. Valid before and after deployment.
func (r *Reader) SimpleAccountAddress(ctx context.Context, factory, owner common.Address, salt *big.Int) (common.Address, error) {
	data := packCall(getAddressSelector, getAddressArgs, owner, salt)
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, err
	}
	vals, err := addressRet.Unpack(out)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain: unpack factory address: %w", err)
	}
	return vals[0].(common.Address), nil
}

// GasPrice returns the node's suggested gas price.
func (r *Reader) GasPrice(ctx context.Context) (*big.Int, error) {
	return r.backend.SuggestGasPrice(ctx)
}
