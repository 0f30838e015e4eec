package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ClaimSignature authorizes paying a deposit out to a recipient. The
// escrow contract recovers the signer and matches it against the
// deposit's pubKey20.
type ClaimSignature struct {
	Signature         []byte
	AddressHashEIP191 common.Hash
}

// SignClaim signs keccak(recipient) with the password-derived key,
// EIP-191 wrapped.
func SignClaim(password string, recipient common.Address) (*ClaimSignature, error) {
	keys, err := DeriveKeys(password)
	if err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(keys.PrivateKey)
	if err != nil {
		return nil, err
	}
	addressHash := crypto.Keccak256(recipient.Bytes())
	digest := accounts.TextHash(addressHash)
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return &ClaimSignature{
		Signature:         sig,
		AddressHashEIP191: common.BytesToHash(digest),
	}, nil
}

// ClaimClient submits claim requests to the claim-processing endpoint.
type ClaimClient struct {
	url    string
	client *http.Client
}

func NewClaimClient(url string) *ClaimClient {
	return &ClaimClient{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type claimRequestBody struct {
	Index             string `json:"index"`
	Signature         string `json:"signature"`
	ToAddress         string `json:"to_address"`
	AddressHashEIP191 string `json:"addressHashEIP191"`
}

type claimResponseBody struct {
	Receipt *struct {
		TransactionHash string `json:"transactionHash"`
	} `json:"receipt"`
	Error string `json:"error"`
}

// SendClaim asks the processing endpoint to execute the claim and returns
// the hash of the transaction it broadcast.
func (c *ClaimClient) SendClaim(ctx context.Context, depositIndex int64, recipient common.Address, sig *ClaimSignature) (common.Hash, error) {
	payload, err := json.Marshal(claimRequestBody{
		Index:             strconv.FormatInt(depositIndex, 10),
		Signature:         hexutil.Encode(sig.Signature),
		ToAddress:         recipient.Hex(),
		AddressHashEIP191: sig.AddressHashEIP191.Hex(),
	})
	if err != nil {
		return common.Hash{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return common.Hash{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return common.Hash{}, err
	}
	defer resp.Body.Close()
	var out claimResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return common.Hash{}, fmt.Errorf("escrow: decode claim response: %w", err)
	}
	if out.Error != "" {
		return common.Hash{}, fmt.Errorf("escrow: claim rejected: %s", out.Error)
	}
	if out.Receipt == nil || out.Receipt.TransactionHash == "" {
		return common.Hash{}, fmt.Errorf("escrow: claim response missing transaction hash")
	}
	return common.HexToHash(out.Receipt.TransactionHash), nil
}
