package escrow

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ecowallet/relay-backend/internal/token"
)

// Claim links carry their parameters as short query keys on the wallet's
// claim path.
const (
	paramChain   = "c"
	paramVersion = "v"
	paramPass    = "p"
	paramIndex   = "i"
	paramToken   = "t"
)

const passwordChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const passwordLength = 32

// RandomPassword draws an unpredictable alphanumeric password for a new
// deposit link.
func RandomPassword() (string, error) {
	max := big.NewInt(int64(len(passwordChars)))
	buf := make([]byte, passwordLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("escrow: generate password: %w", err)
		}
		buf[i] = passwordChars[n.Int64()]
	}
	return string(buf), nil
}

// KeyPair is the one-time claim authority derived from a link password.
type KeyPair struct {
	Address    common.Address
	PrivateKey []byte
}

// DeriveKeys maps a password to its claim keypair: the private key is
// keccak256 of the password bytes, the address is the escrow's pubKey20.
func DeriveKeys(password string) (*KeyPair, error) {
	seed := crypto.Keccak256([]byte(password))
	key, err := crypto.ToECDSA(seed)
	if err != nil {
		return nil, fmt.Errorf("escrow: derive claim key: %w", err)
	}
	return &KeyPair{
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: seed,
	}, nil
}

// LinkParams is the decoded content of a claim link. Absent fields stay
// at their zero values; DepositIndex is nil when the link carries none.
type LinkParams struct {
	ChainID      uint64
	Version      string
	Password     string
	DepositIndex *int64
	Token        token.ID
}

// Codec builds and parses shareable claim links. Purely local string
// work, no chain or server round-trips.
type Codec struct {
	base    *url.URL
	chainID uint64
	version string
}

func NewCodec(baseURL string, chainID uint64, version string) (*Codec, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("escrow: invalid link base url: %w", err)
	}
	return &Codec{base: base, chainID: chainID, version: version}, nil
}

// CreateLink encodes a claim link for the given deposit. ParseLink of the
// result reproduces the (token, password, index) triple exactly.
func (c *Codec) CreateLink(tokenID token.ID, password string, depositIndex int64) string {
	u := *c.base
	q := u.Query()
	q.Set(paramChain, strconv.FormatUint(c.chainID, 10))
	q.Set(paramVersion, c.version)
	q.Set(paramIndex, strconv.FormatInt(depositIndex, 10))
	q.Set(paramPass, password)
	if tokenID != "" && tokenID != token.Default {
		q.Set(paramToken, string(tokenID))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ParseLink decodes whatever fields a link carries. Malformed input never
// errors; missing or unreadable fields are simply absent from the result.
func (c *Codec) ParseLink(raw string) LinkParams {
	params := LinkParams{Token: token.Default}
	u, err := url.Parse(raw)
	if err != nil {
		return params
	}
	q := u.Query()
	if v := q.Get(paramChain); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			params.ChainID = id
		}
	}
	params.Version = q.Get(paramVersion)
	params.Password = q.Get(paramPass)
	if v := q.Get(paramIndex); v != "" {
		if idx, err := strconv.ParseInt(v, 10, 64); err == nil && idx >= 0 {
			params.DepositIndex = &idx
		}
	}
	if v := q.Get(paramToken); v != "" {
		params.Token = token.ID(v)
	}
	return params
}
