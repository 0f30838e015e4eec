package fee

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ecowallet/relay-backend/internal/token"
)

func testRegistry(t *testing.T) *token.Registry {
	t.Helper()
	r, err := token.NewRegistry(
		"0x0000000000000000000000000000000000000e60",
		"0x0000000000000000000000000000000000000111",
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

type stubOracle struct {
	prices map[token.ID]float64
	err    error
}

func (s *stubOracle) TokenPrice(ctx context.Context, id token.ID) (float64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.prices[id], nil
}

func flatFee() *big.Int {
	return token.WholeTokens(5, 18)
}

func TestOperationFeeFlatForEco(t *testing.T) {
	e := NewEstimator(testRegistry(t), flatFee(), &stubOracle{})

	got, err := e.OperationFee(context.Background(), token.ECO)
	if err != nil {
		t.Fatalf("OperationFee: %v", err)
	}
	if got.Cmp(flatFee()) != 0 {
		t.Errorf("eco fee = %s, want %s", got, flatFee())
	}
}

func TestOperationFeeCrossToken(t *testing.T) {
	oracle := &stubOracle{prices: map[token.ID]float64{
		token.ECO:  0.5,
		token.USDC: 1.0,
	}}
	e := NewEstimator(testRegistry(t), flatFee(), oracle)

	// 2 x 5 ECO x $0.50 / $1.00 = 5 USDC.
	got, err := e.OperationFee(context.Background(), token.USDC)
	if err != nil {
		t.Fatalf("OperationFee: %v", err)
	}
	if got.String() != "5000000" {
		t.Errorf("usdc fee = %s, want 5000000", got)
	}
}

func TestOperationFeeOracleDown(t *testing.T) {
	e := NewEstimator(testRegistry(t), flatFee(), &stubOracle{err: errors.New("timeout")})

	_, err := e.OperationFee(context.Background(), token.USDC)
	if !errors.Is(err, ErrQuoteUnavailable) {
		t.Fatalf("err = %v, want ErrQuoteUnavailable", err)
	}
}

func TestOperationFeeRejectsZeroPrice(t *testing.T) {
	oracle := &stubOracle{prices: map[token.ID]float64{
		token.ECO:  0,
		token.USDC: 1.0,
	}}
	e := NewEstimator(testRegistry(t), flatFee(), oracle)

	_, err := e.OperationFee(context.Background(), token.USDC)
	if !errors.Is(err, ErrQuoteUnavailable) {
		t.Fatalf("err = %v, want ErrQuoteUnavailable", err)
	}
}

func TestOperationFeeUnknownToken(t *testing.T) {
	e := NewEstimator(testRegistry(t), flatFee(), &stubOracle{})
	if _, err := e.OperationFee(context.Background(), token.ID("doge")); !errors.Is(err, token.ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}
