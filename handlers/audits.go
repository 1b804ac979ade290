package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"auditlog/audit"
	"auditlog/models"
	"auditlog/opensearch"
)

const (
	defaultLimit = 20
	maxLimit     = 10000
)

// AuditService is the part of audit.Service the HTTP API uses.
type AuditService interface {
	Audit(ctx context.Context, event models.AuditEvent, shouldReturnResult bool) (audit.IndexResult, error)
	AuditLog(ctx context.Context, record models.Auditable, page, pageSize int, sort string) ([]audit.Hit, error)
	Search(ctx context.Context, q models.Query) (*audit.SearchResponse, error)
	Count(ctx context.Context, q models.Query) (int64, error)
	DeleteAuditDocument(ctx context.Context, id string, shouldReturnResult bool) (bool, error)
	IsAsync() bool
	Threshold() int
}

// AuditEventConnection is one page of search results.
type AuditEventConnection struct {
	Events []audit.Hit `json:"events"`
	Total  int64       `json:"total"`
}

type AuditHandler struct {
	svc AuditService
}

func NewAuditHandler(svc AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// Register mounts the audit routes on g.
func (h *AuditHandler) Register(g *echo.Group) {
	g.POST("", h.Create)
	g.POST("/search", h.Search)
	g.POST("/count", h.Count)
	g.GET("/:type/:id", h.Log)
	g.DELETE("/:id", h.Delete)
}

// Create records one change event.
func (h *AuditHandler) Create(c echo.Context) error {
	var ev models.AuditEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid audit event")
	}
	if ev.Event == "" || ev.AuditableID == "" || ev.AuditableType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "event, auditable_id and auditable_type are required")
	}

	res, err := h.svc.Audit(c.Request().Context(), ev, !h.svc.IsAsync())
	if err != nil {
		return engineError(err)
	}
	if res.Acknowledged {
		return c.JSON(http.StatusCreated, res)
	}
	return c.JSON(http.StatusAccepted, res)
}

// Log returns a page of one record's audit trail.
func (h *AuditHandler) Log(c echo.Context) error {
	page, err := intParam(c, "page", 1)
	if err != nil {
		return err
	}
	size, err := intParam(c, "page_size", 10)
	if err != nil {
		return err
	}
	threshold, err := intParam(c, "threshold", h.svc.Threshold())
	if err != nil {
		return err
	}
	sort := c.QueryParam("sort")
	if sort != "" && sort != "asc" && sort != "desc" {
		return echo.NewHTTPError(http.StatusBadRequest, "sort must be asc or desc")
	}

	record := models.Record{ID: c.Param("id"), Type: c.Param("type"), Threshold: threshold}
	hits, err := h.svc.AuditLog(c.Request().Context(), record, page, size, sort)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, hits)
}

func (h *AuditHandler) Search(c echo.Context) error {
	q, limit, offset, err := bindFilter(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Search(c.Request().Context(), q.WithPage(limit, offset).WithSort("created_at", "desc"))
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, AuditEventConnection{Events: res.Hits.Hits, Total: res.Hits.Total.Value})
}

func (h *AuditHandler) Count(c echo.Context) error {
	q, _, _, err := bindFilter(c)
	if err != nil {
		return err
	}
	n, err := h.svc.Count(c.Request().Context(), q)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, map[string]int64{"count": n})
}

func (h *AuditHandler) Delete(c echo.Context) error {
	ok, err := h.svc.DeleteAuditDocument(c.Request().Context(), c.Param("id"), true)
	if err != nil {
		return engineError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": ok})
}

func bindFilter(c echo.Context) (models.Query, int, int, error) {
	var filter models.AuditEventFilter
	if err := c.Bind(&filter); err != nil {
		return models.Query{}, 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid filter")
	}

	q := models.NewQuery()
	for field, val := range map[string]*string{
		"event":          filter.Event,
		"auditable_type": filter.AuditableType,
		"auditable_id":   filter.AuditableID,
		"user_id":        filter.UserID,
	} {
		if val != nil {
			q = q.WithRequiredTerm(field, *val)
		}
	}
	for op, val := range map[string]*string{"gte": filter.From, "lte": filter.To} {
		if val == nil {
			continue
		}
		t, err := parseTime(*val)
		if err != nil {
			return models.Query{}, 0, 0, echo.NewHTTPError(http.StatusBadRequest, "invalid date "+*val)
		}
		q = q.WithDateRange(t, "created_at", op)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limit = min(limit, maxLimit)
	return q, limit, max(filter.Offset, 0), nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(models.TimestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func intParam(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be an integer")
	}
	return n, nil
}

func engineError(err error) error {
	var re *opensearch.ResponseError
	switch {
	case errors.Is(err, opensearch.ErrAsyncNotSupported):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	case opensearch.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	case errors.As(err, &re):
		slog.Error("search engine request failed", "op", re.Op, "status", re.StatusCode, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "search engine request failed")
	default:
		slog.Error("audit request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
