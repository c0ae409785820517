package triage

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/middleware"
	"github.com/hms/hms/internal/platform/tenant"
)

type Handler struct {
	svc   *Service
	flags middleware.Flags
}

func NewHandler(svc *Service, flags middleware.Flags) *Handler {
	return &Handler{svc: svc, flags: flags}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/triage",
		middleware.RequireFeature(h.flags, middleware.FeatureTriage),
		auth.RequireRole(auth.RoleNurse, auth.RoleDoctor),
	)
	g.GET("/:visitId", h.GetTriage)
	g.PATCH("/:visitId", h.UpsertTriage)
}

func visitID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("visitId"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid visit id")
	}
	return id, nil
}

// GetTriage answers 200 with a JSON null when no triage was recorded.
func (h *Handler) GetTriage(c echo.Context) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}
	id, err := visitID(c)
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), rc, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return c.JSON(http.StatusOK, nil)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) UpsertTriage(c echo.Context) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}
	id, err := visitID(c)
	if err != nil {
		return err
	}
	var req UpsertRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	rec, err := h.svc.Upsert(c.Request().Context(), rc, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}
