package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/vital/internal/telemetry"
)

// OpsHandler exposes operational endpoints.
type OpsHandler struct {
	Telemetry *telemetry.Telemetry
}

// Register mounts ops endpoints under the provided group. Authentication is
// applied by the caller.
func (h *OpsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("/telemetry", h.snapshot)
}

// snapshot returns aggregate turn, stage and LLM counters.
func (h *OpsHandler) snapshot(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Telemetry.Snapshot())
}
