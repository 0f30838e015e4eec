package fee

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ecowallet/relay-backend/internal/token"
)

// PriceOracle quotes a token's USD spot price.
type PriceOracle interface {
	TokenPrice(ctx context.Context, id token.ID) (float64, error)
}

// CoinGecko simple-price API ids for supported tokens.
var oracleIDs = map[token.ID]string{
	token.ECO:  "eco",
	token.USDC: "usd-coin",
}

type CoinGeckoOracle struct {
	baseURL string
	client  *http.Client
}

func NewCoinGeckoOracle(baseURL string) *CoinGeckoOracle {
	return &CoinGeckoOracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (o *CoinGeckoOracle) TokenPrice(ctx context.Context, id token.ID) (float64, error) {
	oracleID, ok := oracleIDs[id]
	if !ok {
		return 0, token.ErrUnsupported
	}
	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", o.baseURL, url.QueryEscape(oracleID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fee: price oracle status %d", resp.StatusCode)
	}
	var out map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("fee: decode price response: %w", err)
	}
	price := out[oracleID]["usd"]
	if price <= 0 {
		return 0, fmt.Errorf("fee: no usd price for %s", id)
	}
	return price, nil
}

// FallbackOracle tries each oracle in order and returns the first answer.
type FallbackOracle struct {
	oracles []PriceOracle
}

func NewFallbackOracle(oracles ...PriceOracle) *FallbackOracle {
	return &FallbackOracle{oracles: oracles}
}

func (f *FallbackOracle) TokenPrice(ctx context.Context, id token.ID) (float64, error) {
	var lastErr error
	for _, o := range f.oracles {
		price, err := o.TokenPrice(ctx, id)
		if err == nil {
			return price, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("fee: no oracles configured")
	}
	return 0, lastErr
}
