package visit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/tenant"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – any staff
	readGroup := api.Group("/visits", auth.RequireRole(auth.StaffRoles...))
	readGroup.GET("", h.ListVisits)
	readGroup.GET("/available-doctors", h.AvailableDoctors)
	readGroup.GET("/:id", h.GetVisit)

	// Write endpoints – front desk and clinical staff
	writeGroup := api.Group("/visits", auth.RequireRole(auth.RoleReceptionist, auth.RoleNurse, auth.RoleDoctor))
	writeGroup.POST("", h.CreateVisit)
	writeGroup.PATCH("/:id/skip-triage", h.SkipTriage)
	writeGroup.POST("/:id/advance", h.Advance)

	billing := api.Group("/visits", auth.RequireRole(auth.RoleReceptionist, auth.RoleCashier))
	billing.POST("/:id/close", h.CloseVisit)
}

func visitID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid visit id")
	}
	return id, nil
}

func (h *Handler) CreateVisit(c echo.Context) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	res, err := h.svc.Create(c.Request().Context(), rc, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) SkipTriage(c echo.Context) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}
	id, err := visitID(c)
	if err != nil {
		return err
	}
	var req SkipTriageRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	res, err := h.svc.SkipTriage(c.Request().Context(), rc, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Advance(c echo.Context) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}
	id, err := visitID(c)
	if err != nil {
		return err
	}
	var req AdvanceRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	res, err := h.svc.Advance(c.Request().Context(), rc, id, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CloseVisit(c echo.Context) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}
	id, err := visitID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Close(c.Request().Context(), rc, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetVisit(c echo.Context) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}
	id, err := visitID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.Get(c.Request().Context(), rc, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListVisits(c echo.Context) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	visits, total, err := h.svc.ListToday(c.Request().Context(), rc, Status(c.QueryParam("status")), p)
	if err != nil {
		return err
	}
	if link := p.LinkHeader(c.Request().URL.Path, c.QueryParams(), total); link != "" {
		c.Response().Header().Set("Link", link)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(visits, total, p))
}

func (h *Handler) AvailableDoctors(c echo.Context) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}
	doctors, err := h.svc.AvailableDoctors(c.Request().Context(), rc)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doctors)
}
