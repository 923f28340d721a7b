package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/vital/internal/pipeline"
	"github.com/mohammad-safakhou/vital/internal/store"
)

// ProfileHandler exposes read and write access to the caller's profile.
type ProfileHandler struct {
	Store *store.Store
}

func (h *ProfileHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("", h.get)
	g.PUT("", h.put)
}

func (h *ProfileHandler) get(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	profile, err := h.Store.Profile(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if profile == nil {
		return echo.NewHTTPError(http.StatusNotFound, "profile not found")
	}
	pipeline.DeriveEnergy(profile)
	return c.JSON(http.StatusOK, profile)
}

func (h *ProfileHandler) put(c echo.Context) error {
	var req ProfilePayload
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Age < 0 || req.HeightCm < 0 || req.WeightKg < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "age, height and weight must not be negative")
	}
	userID, _ := c.Get("user_id").(string)
	profile := pipeline.UserProfile{
		UserID:        userID,
		Age:           req.Age,
		Sex:           req.Sex,
		HeightCm:      req.HeightCm,
		WeightKg:      req.WeightKg,
		ActivityLevel: req.ActivityLevel,
		Goal:          req.Goal,
	}
	if err := h.Store.UpsertProfile(c.Request().Context(), profile); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	pipeline.DeriveEnergy(&profile)
	return c.JSON(http.StatusOK, profile)
}
