package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/pkg/httputil"
)

// =============================================================================
// OPERATOR HANDLERS (failed-delivery triage)
// =============================================================================

// ListFailedInstances lists instances stuck in a terminal failure status,
// oldest first, for triage ahead of a redrive.
//
//	GET /api/delivery/failed?status=failed_to_send&limit=50
func (h *Handlers) ListFailedInstances(w http.ResponseWriter, r *http.Request) {
	status := domain.ActionInstanceStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = domain.ActionFailedToSend
	}
	if status != domain.ActionFailedToEnqueue && status != domain.ActionFailedToSend {
		httputil.UnprocessableEntity(w, fmt.Sprintf("status %q is not a failure status", status))
		return
	}

	instances, err := h.del.FailedInstances(r.Context(), status, parseLimit(r, 50, 500))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if instances == nil {
		instances = []domain.ActionInstance{}
	}
	httputil.OK(w, map[string]any{"instances": instances})
}

// RedriveInstance retires a failed instance and mints a fresh pending one
// with a reset attempt counter. Only failed_to_enqueue and failed_to_send
// instances qualify.
//
//	POST /api/delivery/instances/{instanceID}/redrive
func (h *Handlers) RedriveInstance(w http.ResponseWriter, r *http.Request) {
	fresh, err := h.del.Redrive(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, fresh)
}

// CancelInstance cancels a single pending or enqueued instance. An already
// enqueued provider message is not recalled; its later events are ignored.
//
//	DELETE /api/delivery/instances/{instanceID}
func (h *Handlers) CancelInstance(w http.ResponseWriter, r *http.Request) {
	if err := h.del.CancelInstance(r.Context(), chi.URLParam(r, "instanceID")); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}
