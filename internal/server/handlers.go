package server

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/ecowallet/relay-backend/internal/auth"
	"github.com/ecowallet/relay-backend/internal/bundler"
	"github.com/ecowallet/relay-backend/internal/claim"
	"github.com/ecowallet/relay-backend/internal/escrow"
	"github.com/ecowallet/relay-backend/internal/store"
	"github.com/ecowallet/relay-backend/internal/token"
	"github.com/ecowallet/relay-backend/internal/transfer"
)

// ClaimFactory builds a claim orchestrator scoped to one parsed link.
type ClaimFactory func(params escrow.LinkParams) *claim.Orchestrator

type WalletHandler struct {
	registry *token.Registry
	service  *transfer.Service
	repo     *store.Repository
	codec    *escrow.Codec
	claims   ClaimFactory
	logger   *log.Logger
}

func NewWalletHandler(
	registry *token.Registry,
	service *transfer.Service,
	repo *store.Repository,
	codec *escrow.Codec,
	claims ClaimFactory,
	logger *log.Logger,
) *WalletHandler {
	return &WalletHandler{
		registry: registry,
		service:  service,
		repo:     repo,
		codec:    codec,
		claims:   claims,
		logger:   logger,
	}
}

var knownTokens = []token.ID{token.ECO, token.USDC}

func (h *WalletHandler) GetFees(c *gin.Context) {
	out := make(map[string]gin.H)
	for _, id := range knownTokens {
		if !h.registry.Supports(id) {
			continue
		}
		info, _ := h.registry.ByID(id)
		fee, err := h.service.FeeFor(id)
		if err != nil {
			out[string(id)] = gin.H{"available": false}
			continue
		}
		out[string(id)] = gin.H{
			"available": true,
			"amount":    fee.String(),
			"formatted": token.FormatAmount(fee, info.Decimals),
		}
	}
	c.JSON(http.StatusOK, gin.H{"fees": out})
}

func (h *WalletHandler) GetAccount(c *gin.Context) {
	addr, err := h.service.Account(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": addr.Hex()})
}

func (h *WalletHandler) GetBalance(c *gin.Context) {
	id := token.ID(c.Param("token"))
	info, err := h.registry.ByID(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	balance, err := h.service.Balance(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     id,
		"amount":    balance.String(),
		"formatted": token.FormatAmount(balance, info.Decimals),
	})
}

type transferRequest struct {
	Token     string `json:"token"`
	Recipient string `json:"recipient" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
}

func (h *WalletHandler) PostTransfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id := tokenOrDefault(req.Token)
	info, err := h.registry.ByID(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !common.IsHexAddress(req.Recipient) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipient address"})
		return
	}
	amount := token.ParseAmount(req.Amount, info.Decimals)

	res, err := h.service.Transfer(c.Request.Context(), transfer.TransferRequest{
		Token:     id,
		Recipient: common.HexToAddress(req.Recipient),
		Amount:    amount,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"traceId":    res.TraceID,
		"userOpHash": res.UserOpHash.Hex(),
		"fee":        res.Fee.String(),
	})
}

type depositRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount" binding:"required"`
}

func (h *WalletHandler) PostDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	id := tokenOrDefault(req.Token)
	info, err := h.registry.ByID(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	amount := token.ParseAmount(req.Amount, info.Decimals)

	res, err := h.service.CreateDepositLink(c.Request.Context(), transfer.DepositRequest{
		Token:  id,
		Amount: amount,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"traceId":      res.TraceID,
		"userOpHash":   res.UserOpHash.Hex(),
		"txHash":       res.TxHash.Hex(),
		"depositIndex": res.DepositIndex,
		"link":         res.Link,
		"fee":          res.Fee.String(),
	})
}

func (h *WalletHandler) ListOperations(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	addr, err := h.service.Account(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ops, err := h.repo.ListOperations(c.Request.Context(), store.NormalizeAddress(addr.Hex()), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops})
}

// ListAllOperations is the operator view: every sender's history,
// newest first.
func (h *WalletHandler) ListAllOperations(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	ops, err := h.repo.ListOperations(c.Request.Context(), "", limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations": ops})
}

type claimPreviewRequest struct {
	Link string `json:"link" binding:"required"`
}

// PreviewClaim validates a claim link and describes the deposit behind it
// without moving anything.
func (h *WalletHandler) PreviewClaim(c *gin.Context) {
	var req claimPreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	params := h.codec.ParseLink(req.Link)
	orch := h.claims(params)
	record, err := orch.Validate(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	info, err := h.registry.ByID(params.Token)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     params.Token,
		"amount":    record.Amount.String(),
		"formatted": token.FormatAmount(record.Amount, info.Decimals),
	})
}

type claimExecuteRequest struct {
	Link      string `json:"link" binding:"required"`
	Recipient string `json:"recipient" binding:"required"`
}

func (h *WalletHandler) ExecuteClaim(c *gin.Context) {
	var req claimExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !common.IsHexAddress(req.Recipient) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid recipient address"})
		return
	}
	params := h.codec.ParseLink(req.Link)
	orch := h.claims(params)
	if _, err := orch.Validate(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	txHash, err := orch.Claim(c.Request.Context(), common.HexToAddress(req.Recipient))
	if err != nil {
		h.fail(c, err)
		return
	}
	if params.DepositIndex != nil {
		if err := h.repo.MarkDepositClaimed(c.Request.Context(), *params.DepositIndex); err != nil && !errors.Is(err, store.ErrNotFound) {
			h.logger.Printf("mark deposit %d claimed: %v", *params.DepositIndex, err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"txHash": txHash.Hex()})
}

func tokenOrDefault(raw string) token.ID {
	if raw == "" {
		return token.Default
	}
	return token.ID(raw)
}

// fail maps domain errors onto HTTP statuses. Unclassified errors are
// logged and reported as 500 without the internal detail.
func (h *WalletHandler) fail(c *gin.Context, err error) {
	var rejection *bundler.RejectionError
	switch {
	case errors.Is(err, token.ErrUnsupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported token"})
	case errors.Is(err, claim.ErrInvalidLink):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid claim link"})
	case errors.Is(err, claim.ErrWrongState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, escrow.ErrDepositNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "deposit not found"})
	case errors.Is(err, transfer.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "another operation is in flight"})
	case errors.Is(err, transfer.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "amount plus fee exceeds balance"})
	case errors.Is(err, transfer.ErrFeeUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fee quote unavailable"})
	case errors.Is(err, transfer.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
	case errors.As(err, &rejection):
		c.JSON(http.StatusBadRequest, gin.H{"error": rejection.Message, "code": rejection.Code})
	default:
		h.logger.Printf("request failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type AuthHandler struct {
	svc *auth.Service
}

func NewAuthHandler(svc *auth.Service) *AuthHandler {
	return &AuthHandler{svc: svc}
}

func (h *AuthHandler) GetNonce(c *gin.Context) {
	nonce, err := h.svc.IssueNonce()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"nonce": nonce})
}

type siweLoginRequest struct {
	Message   string `json:"message" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

func (h *AuthHandler) LoginSIWE(c *gin.Context) {
	var req siweLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	tok, err := h.svc.LoginWithSIWE(c.Request.Context(), req.Message, req.Signature)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}

type passwordLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *AuthHandler) LoginPassword(c *gin.Context) {
	var req passwordLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	tok, err := h.svc.LoginWithPassword(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}
