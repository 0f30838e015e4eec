package server

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ecowallet/relay-backend/internal/auth"
)

func NewRouter(authSvc *auth.Service, authH *AuthHandler, walletH *WalletHandler, hub *EventHub) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"*"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"ok": true}) })

	r.GET("/auth/nonce", authH.GetNonce)
	r.POST("/auth/siwe", authH.LoginSIWE)
	r.POST("/auth/login", authH.LoginPassword)

	api := r.Group("/api/v1")

	// Claim links circulate outside the wallet; the recipient holds no
	// session, so these stay open.
	api.POST("/claims/preview", walletH.PreviewClaim)
	api.POST("/claims", walletH.ExecuteClaim)

	guard := auth.JWTMiddleware(authSvc)
	wallet := api.Group("", guard)
	{
		wallet.GET("/account", walletH.GetAccount)
		wallet.GET("/fees", walletH.GetFees)
		wallet.GET("/balances/:token", walletH.GetBalance)
		wallet.POST("/transfers", walletH.PostTransfer)
		wallet.POST("/deposits", walletH.PostDeposit)
		wallet.GET("/operations", walletH.ListOperations)
		wallet.GET("/events", hub.ServeWS)
	}

	admin := api.Group("/admin", guard, auth.RequireAdmin())
	{
		admin.GET("/operations", walletH.ListAllOperations)
	}

	return r
}
