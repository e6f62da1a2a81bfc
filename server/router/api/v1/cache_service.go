package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// InvalidateCacheRequest is the body of POST /api/v1/cache/invalidate.
type InvalidateCacheRequest struct {
	ProductIDs []string `json:"product_ids"`
}

// GetCacheStats returns the semantic cache counters.
func (s *APIV1Service) GetCacheStats(c echo.Context) error {
	if s.Cache == nil {
		return unavailable("semantic cache")
	}
	return c.JSON(http.StatusOK, s.Cache.Stats(c.Request().Context()))
}

// InvalidateCache drops cached answers that mention the given products.
func (s *APIV1Service) InvalidateCache(c echo.Context) error {
	if s.Cache == nil {
		return unavailable("semantic cache")
	}
	var req InvalidateCacheRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}

	ctx := c.Request().Context()
	invalidated := 0
	for _, id := range req.ProductIDs {
		if id = strings.TrimSpace(id); id != "" {
			invalidated += s.Cache.Invalidate(ctx, id)
		}
	}
	return c.JSON(http.StatusOK, map[string]int{"invalidated": invalidated})
}

// FlushCache empties the semantic cache.
func (s *APIV1Service) FlushCache(c echo.Context) error {
	if s.Cache == nil {
		return unavailable("semantic cache")
	}
	s.Cache.Flush(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}
