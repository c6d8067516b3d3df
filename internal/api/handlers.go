// Package api contains the HTTP handlers for the flow lifecycle service
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"migration-discovery/backend/internal/flow"
	"migration-discovery/backend/internal/logging"
	"migration-discovery/backend/pkg/models"
)

// Handler holds the dependencies for the flow REST API.
type Handler struct {
	Flows  *flow.Service
	Logger *logging.Logger
}

// NewHandler creates a new Handler with required dependencies.
func NewHandler(flows *flow.Service, logger *logging.Logger) *Handler {
	return &Handler{Flows: flows, Logger: logger}
}

// HealthStatus represents the health check response.
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK).
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Service:   "migration-discovery",
		Version:   "1.0.0",
	})
}

// ProblemDetails represents an RFC 7807 Problem Details response.
type ProblemDetails struct {
	Type           string `json:"type"`
	Title          string `json:"title"`
	Status         int    `json:"status"`
	Detail         string `json:"detail,omitempty"`
	Instance       string `json:"instance,omitempty"`
	BlockingFlowID string `json:"blocking_flow_id,omitempty"`
}

// writeProblem writes an RFC 7807 problem+json error response.
func writeProblem(c echo.Context, status int, title, detail string) error {
	return writeProblemWith(c, ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func writeProblemWith(c echo.Context, problem ProblemDetails) error {
	problem.Instance = c.Request().URL.Path
	c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
	c.Response().WriteHeader(problem.Status)
	return json.NewEncoder(c.Response()).Encode(problem)
}

// respondError maps the flow error taxonomy onto HTTP statuses. Conflict,
// transition, and ownership errors surface as typed 4xx responses; retryable
// store contention that survived internal retries becomes 503.
func (h *Handler) respondError(c echo.Context, err error) error {
	var (
		conflict     *flow.ConflictError
		invalid      *flow.InvalidTransitionError
		snapshot     *flow.IncompatibleSnapshotError
		resuming     *flow.AlreadyResumingError
		activeFlow   *flow.FlowActiveError
		notFound     *flow.NotFoundError
		outOfOrder   *flow.OutOfOrderPhaseError
		retryableErr *flow.RetryableError
	)

	switch {
	case errors.As(err, &conflict):
		return writeProblemWith(c, ProblemDetails{
			Type:           "about:blank",
			Title:          "Flow conflict",
			Status:         http.StatusConflict,
			Detail:         err.Error(),
			BlockingFlowID: conflict.BlockingFlowID,
		})
	case errors.As(err, &invalid):
		return writeProblem(c, http.StatusConflict, "Invalid transition", err.Error())
	case errors.As(err, &resuming):
		return writeProblem(c, http.StatusConflict, "Already resuming", err.Error())
	case errors.As(err, &activeFlow):
		return writeProblem(c, http.StatusConflict, "Flow active", err.Error())
	case errors.As(err, &outOfOrder):
		return writeProblem(c, http.StatusConflict, "Phase out of order", err.Error())
	case errors.As(err, &snapshot):
		return writeProblem(c, http.StatusUnprocessableEntity, "Incompatible snapshot", err.Error())
	case errors.As(err, &notFound):
		return writeProblem(c, http.StatusNotFound, "Not found", err.Error())
	case errors.Is(err, flow.ErrMissingTenantKey):
		return writeProblem(c, http.StatusBadRequest, "Missing tenant", err.Error())
	case errors.Is(err, flow.ErrUnknownFlowType), errors.Is(err, flow.ErrUnknownPhase):
		return writeProblem(c, http.StatusBadRequest, "Bad request", err.Error())
	case errors.As(err, &retryableErr):
		return writeProblem(c, http.StatusServiceUnavailable, "Temporarily unavailable",
			"the operation lost a persistence race repeatedly; retry shortly")
	}

	h.Logger.Error("unhandled API error", "path", c.Request().URL.Path, "error", err)
	return writeProblem(c, http.StatusInternalServerError, "Internal error", "unexpected failure")
}

// tenantKey extracts the tenant scope from request headers. The upstream
// gateway authenticates the caller; these headers are its assertion of scope.
func tenantKey(c echo.Context) models.TenantKey {
	return models.TenantKey{
		ClientAccountID: c.Request().Header.Get("X-Client-Account"),
		EngagementID:    c.Request().Header.Get("X-Engagement"),
	}
}
