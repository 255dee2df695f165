package server

import (
	"fmt"
	"net/http"

	"github.com/crm-api-gateway/internal/config"
)

// New builds the http.Server with the configured port and timeouts.
func New(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
