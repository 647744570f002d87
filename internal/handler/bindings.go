package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/abdusco/shortly/internal/auth"
	"github.com/abdusco/shortly/internal/shortener"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type BindingHandler struct {
	service *shortener.Service
	siteURL string
}

func NewBindingHandler(service *shortener.Service, siteURL string) *BindingHandler {
	if siteURL != "" && !strings.HasSuffix(siteURL, "/") {
		siteURL += "/"
	}
	return &BindingHandler{service: service, siteURL: siteURL}
}

type ShortenRequest struct {
	URL    string `json:"url" validate:"required,url,max=2083"`
	Vanity *string `json:"vanity_string" validate:"omitnil,min=1,vanity,max=64"`
}

type ChangeTargetRequest struct {
	ID  int64  `param:"id" json:"-"`
	URL string `json:"url" validate:"required,url,max=2083"`
}

type SetActiveRequest struct {
	ID     int64 `param:"id" json:"-"`
	Active *bool `json:"active" validate:"required"`
}

type bindingIDRequest struct {
	ID int64 `param:"id" json:"-"`
}

type BindingResponse struct {
	ID            int64      `json:"id"`
	Code          string     `json:"code"`
	ShortURL      string     `json:"short_url"`
	URL           string     `json:"url"`
	Active        bool       `json:"active"`
	VisitCount    int64      `json:"visit_count"`
	CreatedAt     time.Time  `json:"created_at"`
	LastVisitedAt *time.Time `json:"last_visited_at"`
}

type ListBindingsResponse struct {
	Bindings []BindingResponse `json:"bindings"`
}

type ListDestinationsResponse struct {
	Destinations []*internal.Destination `json:"destinations"`
}

type VisitsResponse struct {
	internal.VisitStats
	Visits []internal.Visit `json:"visits"`
}

type SortResponse struct {
	Results []internal.Summary `json:"results"`
}

func (h *BindingHandler) toResponse(b *internal.Binding) BindingResponse {
	return BindingResponse{
		ID:            b.ID,
		Code:          b.Code,
		ShortURL:      h.siteURL + b.Code,
		URL:           b.DestinationURL,
		Active:        b.Active,
		VisitCount:    b.VisitCount,
		CreatedAt:     b.CreatedAt,
		LastVisitedAt: b.LastVisitedAt,
	}
}

// Shorten handles POST /api/shorten
func (h *BindingHandler) Shorten(c echo.Context) error {
	var req ShortenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	account := auth.CurrentAccount(c)
	binding, created, err := h.service.Shorten(c.Request().Context(), account.ID, req.URL, lo.FromPtr(req.Vanity))
	if err != nil {
		return err
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, h.toResponse(binding))
}

// List handles GET /api/bindings
func (h *BindingHandler) List(c echo.Context) error {
	account := auth.CurrentAccount(c)
	bindings, err := h.service.ListForAccount(c.Request().Context(), account.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ListBindingsResponse{
		Bindings: lo.Map(bindings, func(b *internal.Binding, _ int) BindingResponse {
			return h.toResponse(b)
		}),
	})
}

// Destinations handles GET /api/destinations
func (h *BindingHandler) Destinations(c echo.Context) error {
	account := auth.CurrentAccount(c)
	dests, err := h.service.DestinationsForAccount(c.Request().Context(), account.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListDestinationsResponse{Destinations: lo.Ternary(dests == nil, []*internal.Destination{}, dests)})
}

// ChangeTarget handles PUT /api/bindings/:id/target
func (h *BindingHandler) ChangeTarget(c echo.Context) error {
	var req ChangeTargetRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	account := auth.CurrentAccount(c)
	binding, err := h.service.ChangeTarget(c.Request().Context(), account.ID, req.ID, req.URL)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.toResponse(binding))
}

// SetActive handles PUT /api/bindings/:id/active
func (h *BindingHandler) SetActive(c echo.Context) error {
	var req SetActiveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	account := auth.CurrentAccount(c)
	if err := h.service.SetActive(c.Request().Context(), account.ID, req.ID, *req.Active); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"id": req.ID, "active": *req.Active})
}

// Delete handles DELETE /api/bindings/:id
func (h *BindingHandler) Delete(c echo.Context) error {
	var req bindingIDRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	account := auth.CurrentAccount(c)
	if err := h.service.SoftDelete(c.Request().Context(), account.ID, req.ID); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Visits handles GET /api/bindings/:id/visits
func (h *BindingHandler) Visits(c echo.Context) error {
	var req bindingIDRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request")
	}

	account := auth.CurrentAccount(c)
	visits, stats, err := h.service.Visits(c.Request().Context(), account.ID, req.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, VisitsResponse{
		VisitStats: stats,
		Visits:     lo.Ternary(visits == nil, []internal.Visit{}, visits),
	})
}

// Sort handles GET /api/sort/:scope/:kind
func (h *BindingHandler) Sort(c echo.Context) error {
	scope := shortener.SortScope(c.Param("scope"))
	switch scope {
	case "short":
		scope = shortener.ScopeShort
	case "long":
		scope = shortener.ScopeLong
	}
	kind := shortener.SortKind(c.Param("kind"))

	results, err := h.service.Sort(c.Request().Context(), kind, scope)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SortResponse{Results: lo.Ternary(results == nil, []internal.Summary{}, results)})
}

// Redirect handles GET /:code
func (h *BindingHandler) Redirect(c echo.Context) error {
	code := c.Param("code")
	meta := internal.VisitMeta{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}

	log.Debug().Str("code", code).Msg("redirect request")

	destination, err := h.service.Resolve(c.Request().Context(), code, meta)
	if err != nil {
		return err
	}

	log.Info().Str("code", code).Str("ip", meta.IPAddress).Msg("redirecting")
	return c.Redirect(http.StatusFound, destination)
}
