package v1

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/stylebot/ai/vector"
	"github.com/hrygo/stylebot/internal/logging"
)

const maxRecordsPerRequest = 1000

// UpsertVectorsRequest is the body of POST /api/v1/vectors.
type UpsertVectorsRequest struct {
	Records []vector.Record `json:"records"`
}

// DeleteVectorsRequest is the body of DELETE /api/v1/vectors. Exactly one of
// IDs and Filter is set.
type DeleteVectorsRequest struct {
	Filter map[string]any `json:"filter,omitempty"`
	IDs    []string       `json:"ids,omitempty"`
}

// UpsertVectors queues catalog documents for embedding and indexing.
func (s *APIV1Service) UpsertVectors(c echo.Context) error {
	if s.Ingestor == nil {
		return unavailable("vector ingestion")
	}
	var req UpsertVectorsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if len(req.Records) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "records are required")
	}
	if len(req.Records) > maxRecordsPerRequest {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "too many records")
	}
	for _, r := range req.Records {
		if strings.TrimSpace(r.ID) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "record id is required")
		}
		if len(r.Values) == 0 && strings.TrimSpace(r.Text) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "record "+r.ID+" needs text or values")
		}
	}

	if err := s.enqueue(vector.Job{Upsert: req.Records}); err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, map[string]int{"queued": len(req.Records)})
}

// DeleteVectors removes catalog documents. Deletes by id are queued behind
// pending upserts; deletes by filter run immediately and flush the cache,
// since the affected products are not known in advance.
func (s *APIV1Service) DeleteVectors(c echo.Context) error {
	var req DeleteVectorsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	switch {
	case len(req.IDs) > 0 && len(req.Filter) > 0:
		return echo.NewHTTPError(http.StatusBadRequest, "ids and filter are mutually exclusive")
	case len(req.IDs) > 0:
		if s.Ingestor == nil {
			return unavailable("vector ingestion")
		}
		if err := s.enqueue(vector.Job{DeleteIDs: req.IDs}); err != nil {
			return err
		}
		return c.JSON(http.StatusAccepted, map[string]int{"queued": len(req.IDs)})
	case len(req.Filter) > 0:
		if s.Vectors == nil {
			return unavailable("vector store")
		}
		ctx := c.Request().Context()
		deleted, err := s.Vectors.Delete(ctx, req.Filter)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, vector.ErrUnavailable) {
				status = http.StatusServiceUnavailable
			}
			return echo.NewHTTPError(status, "failed to delete vectors").SetInternal(err)
		}
		if deleted > 0 && s.Cache != nil {
			s.Cache.Flush(ctx)
		}
		logging.FromContext(ctx).Info("vectors deleted by filter", "filter", req.Filter, "deleted", deleted)
		return c.JSON(http.StatusOK, map[string]int{"deleted": deleted})
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "ids or filter is required")
	}
}

func (s *APIV1Service) enqueue(job vector.Job) error {
	err := s.Ingestor.Enqueue(job)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, vector.ErrQueueFull), errors.Is(err, vector.ErrIngestorClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to queue job").SetInternal(err)
	}
}
