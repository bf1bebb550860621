package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/meridian/cohort-scheduler/internal/pkg/httputil"
	"github.com/meridian/cohort-scheduler/internal/service/catalog"
)

// =============================================================================
// CATALOG HANDLERS (groups, subgroups, action templates)
// =============================================================================

// CreateGroup creates version 1 of a new group.
//
//	POST /api/groups
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var input catalog.GroupInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	g, err := h.cat.CreateGroup(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, g)
}

// GetGroup returns one group version by id.
//
//	GET /api/groups/{groupID}
func (h *Handlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.cat.GetGroup(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, g)
}

// GetActiveGroupByName returns the live version of a named group.
//
//	GET /api/groups/by-name/{name}
func (h *Handlers) GetActiveGroupByName(w http.ResponseWriter, r *http.Request) {
	g, err := h.cat.ActiveGroupByName(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, g)
}

// SupersedeGroup retires the active version of a named group and installs
// the posted definition as its successor. Existing enrollments keep the
// version they enrolled under.
//
//	PUT /api/groups/by-name/{name}
func (h *Handlers) SupersedeGroup(w http.ResponseWriter, r *http.Request) {
	var input catalog.GroupInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	g, err := h.cat.SupersedeGroup(r.Context(), chi.URLParam(r, "name"), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, g)
}

// ListGroupVersions returns every version of a named group, newest first.
//
//	GET /api/groups/by-name/{name}/versions
func (h *Handlers) ListGroupVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.cat.ListGroupVersions(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"versions": versions})
}

// ListSubGroups returns the active stages of a group in assignment order.
//
//	GET /api/groups/{groupID}/subgroups
func (h *Handlers) ListSubGroups(w http.ResponseWriter, r *http.Request) {
	subgroups, err := h.cat.ListActiveSubGroups(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"subgroups": subgroups})
}

// AddSubGroup appends a stage to a group.
//
//	POST /api/subgroups
func (h *Handlers) AddSubGroup(w http.ResponseWriter, r *http.Request) {
	var input catalog.SubGroupInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	sg, err := h.cat.AddSubGroup(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, sg)
}

// DeactivateSubGroup retires a stage. Users already assigned to it are
// unaffected; future enrollments skip it.
//
//	DELETE /api/subgroups/{subgroupID}
func (h *Handlers) DeactivateSubGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.cat.DeactivateSubGroup(r.Context(), chi.URLParam(r, "subgroupID")); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}

// ListTemplates returns the active action templates of a subgroup.
//
//	GET /api/subgroups/{subgroupID}/templates
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.cat.ListActiveTemplates(r.Context(), chi.URLParam(r, "subgroupID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"templates": templates})
}

// AddTemplate adds an action template to a subgroup. Liquid content is
// validated here so authors hear about malformed templates at creation
// time, not at send time.
//
//	POST /api/templates
func (h *Handlers) AddTemplate(w http.ResponseWriter, r *http.Request) {
	var input catalog.TemplateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}

	if input.Subject != "" {
		if err := h.renderer.Validate(input.Subject); err != nil {
			httputil.UnprocessableEntity(w, fmt.Sprintf("subject template: %v", err))
			return
		}
	}
	if input.Body != "" {
		if err := h.renderer.Validate(input.Body); err != nil {
			httputil.UnprocessableEntity(w, fmt.Sprintf("body template: %v", err))
			return
		}
	}

	tpl, err := h.cat.AddActionTemplate(r.Context(), input)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.Created(w, tpl)
}

// DeactivateTemplate retires an action template.
//
//	DELETE /api/templates/{templateID}
func (h *Handlers) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.cat.DeactivateActionTemplate(r.Context(), chi.URLParam(r, "templateID")); err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.NoContent(w)
}
