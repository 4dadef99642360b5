package main

import (
	"log/slog"

	"callpilot/internal/httpapi"
	"callpilot/pkg/logger"

	"github.com/gin-gonic/gin"
)

// newRouter builds the gin engine. Keep this file free of business logic;
// handlers delegate to internal modules.
func newRouter(log *slog.Logger, h httpapi.Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log, httpapi.LogRoutes))
	r.Use(h.Instrument())
	h.Register(r)
	return r
}
