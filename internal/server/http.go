package server

import (
	"context"
	"net/http"

	"github.com/ecowallet/relay-backend/internal/config"
)

// HTTP wraps the standard server with the service's timeout policy and
// a graceful shutdown hook.
type HTTP struct {
	srv *http.Server
}

func NewHTTP(cfg config.ServerConfig, h http.Handler) *HTTP {
	return &HTTP{
		srv: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           h,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
	}
}

func (h *HTTP) Start() error {
	return h.srv.ListenAndServe()
}

func (h *HTTP) Stop(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}
