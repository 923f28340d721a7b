package server

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/vital/internal/pipeline"
)

// TurnsHandler exposes the conversational turn endpoint.
type TurnsHandler struct {
	Pipeline *pipeline.Pipeline
}

func (h *TurnsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.turn)
}

func (h *TurnsHandler) turn(c echo.Context) error {
	var req TurnPayload
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}
	userID, _ := c.Get("user_id").(string)
	result, err := h.Pipeline.RunTurn(c.Request().Context(), pipeline.TurnRequest{
		UserID:    userID,
		SessionID: req.SessionID,
		Query:     req.Query,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}
