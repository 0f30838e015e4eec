package token

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnsupported = errors.New("token: unsupported token")

type ID string

const (
	ECO  ID = "eco"
	USDC ID = "usdc"
)

// Default is the token assumed when a claim link or request omits one.
const Default = ECO

type Info struct {
	ID       ID
	Name     string
	Address  common.Address
	Decimals int
}

// Registry resolves token ids to their on-chain metadata for a single chain.
type Registry struct {
	tokens map[ID]Info
}

func NewRegistry(ecoAddr, usdcAddr string) (*Registry, error) {
	if !common.IsHexAddress(ecoAddr) {
		return nil, fmt.Errorf("token: invalid ECO address %q", ecoAddr)
	}
	r := &Registry{tokens: map[ID]Info{
		ECO: {ID: ECO, Name: "ECO", Address: common.HexToAddress(ecoAddr), Decimals: 18},
	}}
	if usdcAddr != "" {
		if !common.IsHexAddress(usdcAddr) {
			return nil, fmt.Errorf("token: invalid USDC address %q", usdcAddr)
		}
		r.tokens[USDC] = Info{ID: USDC, Name: "USDC", Address: common.HexToAddress(usdcAddr), Decimals: 6}
	}
	return r, nil
}

func (r *Registry) ByID(id ID) (Info, error) {
	info, ok := r.tokens[ID(strings.ToLower(string(id)))]
	if !ok {
		return Info{}, ErrUnsupported
	}
	return info, nil
}

func (r *Registry) Supports(id ID) bool {
	_, ok := r.tokens[ID(strings.ToLower(string(id)))]
	return ok
}
