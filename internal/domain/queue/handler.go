package queue

import (
	"context"
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

// RegisterRoutes mounts the staff queue routes and returns the public board
// group so the live feed can be mounted next to it.
func (h *Handler) RegisterRoutes(api *echo.Group) *echo.Group {
	board := api.Group("/queue/board", middleware.RequireFeature(h.flags, middleware.FeatureBoard))
	board.GET("", h.Board)

	staff := api.Group("/queue",
		middleware.RequireFeature(h.flags, middleware.FeatureQueue),
		auth.RequireRole(auth.StaffRoles...),
	)
	staff.GET("", h.List)
	staff.POST("/call-next", h.CallNext)
	staff.POST("/:id/call", h.Call)
	staff.POST("/:id/serve", h.Serve)
	staff.POST("/:id/skip", h.Skip)

	return board
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func parseDoctor(c echo.Context) (*uuid.UUID, error) {
	raw := c.QueryParam("doctorId")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("invalid doctorId")
	}
	return &id, nil
}

func (h *Handler) List(c echo.Context) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}
	doctorID, err := parseDoctor(c)
	if err != nil {
		return err
	}
	items, err := h.svc.List(c.Request().Context(), rc, Stage(c.QueryParam("stage")), doctorID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

// CallNext answers 200 with a JSON null when nothing is waiting.
func (h *Handler) CallNext(c echo.Context) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}
	doctorID, err := parseDoctor(c)
	if err != nil {
		return err
	}
	item, err := h.svc.CallNext(c.Request().Context(), rc, Stage(c.QueryParam("stage")), doctorID)
	if err != nil {
		return err
	}
	if item == nil {
		return c.JSON(http.StatusOK, nil)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) Call(c echo.Context) error {
	return h.act(c, h.svc.Call)
}

func (h *Handler) Serve(c echo.Context) error {
	return h.act(c, h.svc.Serve)
}

func (h *Handler) Skip(c echo.Context) error {
	return h.act(c, h.svc.Skip)
}

func (h *Handler) act(c echo.Context, fn func(ctx context.Context, rc tenant.RequestContext, id uuid.UUID) (*Item, error)) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	item, err := fn(c.Request().Context(), rc, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) Board(c echo.Context) error {
	rc, err := tenant.MustFrom(c)
	if err != nil {
		return err
	}
	entries, err := h.svc.Board(c.Request().Context(), rc, Stage(c.QueryParam("stage")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, entries)
}
