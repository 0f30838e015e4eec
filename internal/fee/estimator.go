package fee

import (
	"context"
	"errors"
	"math/big"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/ecowallet/relay-backend/internal/token"
)

// ErrQuoteUnavailable reports that no trustworthy fee can be computed
// right now. Callers must treat it as "not ready to submit" rather than
// substituting a zero fee.
var ErrQuoteUnavailable = errors.New("fee: quote unavailable")

// crossTokenMargin doubles cross-token fees to absorb conversion risk
// between the quote and settlement.
const crossTokenMargin = 2

// Estimator computes the per-operation platform fee denominated in the
// transferred token. ECO pays a flat fee; other tokens pay the flat fee
// converted at spot prices with a risk margin.
type Estimator struct {
	registry *token.Registry
	flatFee  *big.Int
	oracle   PriceOracle
}

func NewEstimator(registry *token.Registry, flatFee *big.Int, oracle PriceOracle) *Estimator {
	return &Estimator{registry: registry, flatFee: flatFee, oracle: oracle}
}

// FlatFee is the configured ECO-denominated fee in base units.
func (e *Estimator) FlatFee() *big.Int { return new(big.Int).Set(e.flatFee) }

func (e *Estimator) OperationFee(ctx context.Context, id token.ID) (*big.Int, error) {
	info, err := e.registry.ByID(id)
	if err != nil {
		return nil, err
	}
	if info.ID == token.ECO {
		return e.FlatFee(), nil
	}

	eco, err := e.registry.ByID(token.ECO)
	if err != nil {
		return nil, err
	}
	var ecoPrice, tokenPrice float64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		ecoPrice, err = e.oracle.TokenPrice(gctx, token.ECO)
		return err
	})
	g.Go(func() (err error) {
		tokenPrice, err = e.oracle.TokenPrice(gctx, info.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errors.Join(ErrQuoteUnavailable, err)
	}
	if ecoPrice <= 0 || tokenPrice <= 0 {
		return nil, ErrQuoteUnavailable
	}

	ecoFee := token.ToFloat(e.flatFee, eco.Decimals)
	tokenFee := crossTokenMargin * ecoFee * ecoPrice / tokenPrice
	rounded := strconv.FormatFloat(tokenFee, 'f', info.Decimals, 64)
	return token.ParseAmount(rounded, info.Decimals), nil
}
