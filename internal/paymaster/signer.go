package paymaster

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// LocalSigner signs paymaster authorizations with an in-process key.
// Dev and test environments only; production uses the remote service.
type LocalSigner struct {
	key *ecdsa.PrivateKey
}

func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("paymaster: invalid signer key: %w", err)
	}
	return &LocalSigner{key: key}, nil
}

func (s *LocalSigner) SignPaymasterData(_ context.Context, req SignRequest) ([]byte, error) {
	digest := accounts.TextHash(req.OperationHash.Bytes())
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

// RemoteSigner requests paymaster signatures from the signing service.
type RemoteSigner struct {
	url    string
	client *http.Client
}

func NewRemoteSigner(url string) *RemoteSigner {
	return &RemoteSigner{
		url:    url,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type remoteSignRequest struct {
	ValidUntil    uint64 `json:"validUntil"`
	ValidAfter    uint64 `json:"validAfter"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	OperationHash string `json:"operationHash"`
}

type remoteSignResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error"`
}

func (s *RemoteSigner) SignPaymasterData(ctx context.Context, req SignRequest) ([]byte, error) {
	payload, err := json.Marshal(remoteSignRequest{
		ValidUntil:    req.ValidUntil,
		ValidAfter:    req.ValidAfter,
		Token:         req.FeeToken.Hex(),
		Amount:        req.FeeAmount.String(),
		OperationHash: req.OperationHash.Hex(),
	})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out remoteSignResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("paymaster: decode signing response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return nil, fmt.Errorf("paymaster: signing service rejected request: %s", out.Error)
	}
	sig, err := hexutil.Decode(out.Signature)
	if err != nil {
		return nil, fmt.Errorf("paymaster: malformed signature: %w", err)
	}
	return sig, nil
}
