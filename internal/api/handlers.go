package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/meridian/cohort-scheduler/internal/pkg/httputil"
	"github.com/meridian/cohort-scheduler/internal/provider"
	"github.com/meridian/cohort-scheduler/internal/service/catalog"
	"github.com/meridian/cohort-scheduler/internal/service/delivery"
	"github.com/meridian/cohort-scheduler/internal/service/scheduling"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	cat      *catalog.Service
	sched    *scheduling.Service
	del      *delivery.Service
	renderer *provider.Renderer
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(cat *catalog.Service, sched *scheduling.Service, del *delivery.Service, renderer *provider.Renderer) *Handlers {
	return &Handlers{
		cat:      cat,
		sched:    sched,
		del:      del,
		renderer: renderer,
	}
}

// writeServiceError maps service-layer sentinels onto HTTP statuses.
// Client-caused errors carry their message through; anything unmapped is a
// 500 whose detail is logged server-side and never leaked to the caller.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, scheduling.ErrNotFound),
		errors.Is(err, delivery.ErrNotFound):
		httputil.NotFound(w, err.Error())

	case errors.Is(err, catalog.ErrNameTaken),
		errors.Is(err, catalog.ErrOrderTaken),
		errors.Is(err, scheduling.ErrAlreadyEnrolled),
		errors.Is(err, scheduling.ErrEmailTaken),
		errors.Is(err, scheduling.ErrInvalidTransition),
		errors.Is(err, delivery.ErrInvalidTransition),
		errors.Is(err, delivery.ErrNotRedrivable):
		httputil.Conflict(w, err.Error())

	case errors.Is(err, catalog.ErrValidation),
		errors.Is(err, scheduling.ErrValidation),
		errors.Is(err, scheduling.ErrUnknownTimezone),
		errors.Is(err, delivery.ErrValidation):
		httputil.UnprocessableEntity(w, err.Error())

	default:
		httputil.InternalError(w, err)
	}
}

// parseLimit reads the limit query parameter with a default and a cap.
func parseLimit(r *http.Request, def, max int) int {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
