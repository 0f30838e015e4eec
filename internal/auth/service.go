package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spruceid/siwe-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/ecowallet/relay-backend/internal/config"
	"github.com/ecowallet/relay-backend/internal/store"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	RoleWallet = "wallet"
	RoleAdmin  = "admin"
)

type Claims struct {
	Role    string
	Address string
	jwt.RegisteredClaims
}

// Service authenticates wallet owners with SIWE and operators with a
// seeded username/password, issuing HS256 tokens for both.
type Service struct {
	secret    []byte
	repo      *store.Repository
	ttl       time.Duration
	nonces    *nonceStore
	domain    string
	uri       string
	statement string
	chainID   uint64
}

func NewService(cfg config.AuthConfig, repo *store.Repository) *Service {
	return &Service{
		secret:    []byte(cfg.JWTSecret),
		repo:      repo,
		ttl:       cfg.JWTTTL,
		nonces:    newNonceStore(cfg.NonceTTL),
		domain:    strings.TrimSpace(cfg.SIWEDomain),
		uri:       strings.TrimSpace(cfg.SIWEURI),
		statement: strings.TrimSpace(cfg.SIWEStatement),
		chainID:   cfg.SIWEChainID,
	}
}

func (s *Service) IssueNonce() (string, error) {
	return s.nonces.Issue()
}

// LoginWithSIWE verifies a signed sign-in message and issues a wallet
// token. First-time addresses are registered on the fly.
func (s *Service) LoginWithSIWE(ctx context.Context, message, signature string) (string, error) {
	if strings.TrimSpace(message) == "" || strings.TrimSpace(signature) == "" {
		return "", ErrInvalidCredentials
	}

	parsed, err := siwe.ParseMessage(message)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	nonce := parsed.GetNonce()
	if !s.nonces.Has(nonce) {
		return "", ErrInvalidCredentials
	}
	var domain *string
	if s.domain != "" {
		d := s.domain
		domain = &d
	}
	if s.uri != "" {
		uri := parsed.GetURI()
		if uri.String() != s.uri {
			return "", ErrInvalidCredentials
		}
	}
	if s.statement != "" {
		if stmt := parsed.GetStatement(); stmt == nil || strings.TrimSpace(*stmt) != s.statement {
			return "", ErrInvalidCredentials
		}
	}
	if s.chainID > 0 && parsed.GetChainID() != int(s.chainID) {
		return "", ErrInvalidCredentials
	}
	if _, err := parsed.Verify(signature, domain, &nonce, nil); err != nil {
		return "", ErrInvalidCredentials
	}
	addr := store.NormalizeAddress(parsed.GetAddress().Hex())
	if _, err := s.repo.EnsureWallet(ctx, addr); err != nil {
		return "", err
	}
	s.nonces.Consume(nonce)
	return s.issue(RoleWallet, addr)
}

// LoginWithPassword issues an operator token against the seeded admin
// credentials.
func (s *Service) LoginWithPassword(ctx context.Context, username, password string) (string, error) {
	admin, err := s.repo.GetAdminByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if bcrypt.CompareHashAndPassword(admin.PasswordHash, []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	return s.issue(RoleAdmin, username)
}

func (s *Service) issue(role, subject string) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:    role,
		Address: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredentials
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidCredentials
}
