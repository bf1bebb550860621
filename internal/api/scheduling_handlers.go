package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian/cohort-scheduler/internal/domain"
	"github.com/meridian/cohort-scheduler/internal/pkg/httputil"
	"github.com/meridian/cohort-scheduler/internal/service/scheduling"
)

// =============================================================================
// SCHEDULING HANDLERS (users, enrollments, timeline)
// =============================================================================

// CreateUser registers a new user.
//
//	POST /api/users
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var input scheduling.CreateUserInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	u, err := h.sched.CreateUser(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, u)
}

// GetUser returns one user.
//
//	GET /api/users/{userID}
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.sched.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, u)
}

// UpdateUserTimezone changes a user's IANA timezone. Already materialized
// instances keep their instants; only future materialization uses the new
// zone.
//
//	PATCH /api/users/{userID}/timezone
func (h *Handlers) UpdateUserTimezone(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Timezone string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	if err := h.sched.UpdateUserTimezone(r.Context(), chi.URLParam(r, "userID"), body.Timezone); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"timezone": body.Timezone})
}

// Enroll enrolls a user into the active version of a named group. The
// response carries the enrollment, the resolved stage chain, and the
// instances materialized for stages already due.
//
//	POST /api/enrollments
func (h *Handlers) Enroll(w http.ResponseWriter, r *http.Request) {
	var input scheduling.EnrollInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	res, err := h.sched.Enroll(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, res)
}

// ListEnrollments returns every enrollment of a user, newest first.
//
//	GET /api/users/{userID}/enrollments
func (h *Handlers) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	gas, err := h.sched.Assignments(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if gas == nil {
		gas = []domain.GroupAssignment{}
	}
	httputil.OK(w, map[string]any{"enrollments": gas})
}

// GetEnrollment returns one enrollment.
//
//	GET /api/enrollments/{assignmentID}
func (h *Handlers) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	ga, err := h.sched.GetAssignment(r.Context(), chi.URLParam(r, "assignmentID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, ga)
}

// ListStages returns an enrollment's resolved stage chain in order.
//
//	GET /api/enrollments/{assignmentID}/stages
func (h *Handlers) ListStages(w http.ResponseWriter, r *http.Request) {
	stages, err := h.sched.StageAssignments(r.Context(), chi.URLParam(r, "assignmentID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"stages": stages})
}

// PauseEnrollment freezes an active enrollment: sweeps skip it and its
// instances stop dispatching until resume.
//
//	POST /api/enrollments/{assignmentID}/pause
func (h *Handlers) PauseEnrollment(w http.ResponseWriter, r *http.Request) {
	ga, err := h.sched.Pause(r.Context(), chi.URLParam(r, "assignmentID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, ga)
}

// ResumeEnrollment reactivates a paused enrollment. Work that came due
// during the pause is picked up by the next sweep.
//
//	POST /api/enrollments/{assignmentID}/resume
func (h *Handlers) ResumeEnrollment(w http.ResponseWriter, r *http.Request) {
	ga, err := h.sched.Resume(r.Context(), chi.URLParam(r, "assignmentID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, ga)
}

// CancelEnrollment cancels an enrollment and cascades to its undone stages
// and instances.
//
//	DELETE /api/enrollments/{assignmentID}
func (h *Handlers) CancelEnrollment(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.Cancel(r.Context(), chi.URLParam(r, "assignmentID")); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// GetTimeline returns every action instance of a user in action datetime
// order, joined with delivery state where present.
//
//	GET /api/users/{userID}/timeline
func (h *Handlers) GetTimeline(w http.ResponseWriter, r *http.Request) {
	entries, err := h.sched.Timeline(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []scheduling.TimelineEntry{}
	}
	httputil.OK(w, map[string]any{"timeline": entries})
}

// GetDueDisplays returns the user's display actions whose time has arrived
// and marks them displayed, so a repeat poll does not surface them again.
//
//	GET /api/users/{userID}/due-displays
func (h *Handlers) GetDueDisplays(w http.ResponseWriter, r *http.Request) {
	displays, err := h.sched.DueDisplays(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if displays == nil {
		displays = []domain.ActionInstance{}
	}
	httputil.OK(w, map[string]any{"displays": displays})
}
