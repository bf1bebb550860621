package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/meridian/cohort-scheduler/internal/worker"
)

// SetupRoutes wires all HTTP routes. The webhook receiver is optional; when
// nil the provider callback endpoint is not registered.
func SetupRoutes(h *Handlers, hc *HealthChecker, recv *worker.WebhookReceiver) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health endpoints stay outside /api so load balancers can reach them
	// without any prefix rewriting.
	r.Get("/health", hc.HandleHealth)
	r.Get("/health/live", hc.HandleLiveness)
	r.Get("/health/ready", hc.HandleReadiness)

	if recv != nil {
		r.Post("/webhooks/ses", recv.HandleSES)
	}

	r.Route("/api", func(r chi.Router) {
		// ============================================================================
		// CATALOG
		// ============================================================================
		r.Route("/groups", func(r chi.Router) {
			r.Post("/", h.CreateGroup)
			r.Get("/{groupID}", h.GetGroup)
			r.Get("/{groupID}/subgroups", h.ListSubGroups)

			// Name-keyed lookups live under a static segment so they do not
			// collide with the {groupID} parameter above.
			r.Route("/by-name/{name}", func(r chi.Router) {
				r.Get("/", h.GetActiveGroupByName)
				r.Put("/", h.SupersedeGroup)
				r.Get("/versions", h.ListGroupVersions)
			})
		})

		r.Route("/subgroups", func(r chi.Router) {
			r.Post("/", h.AddSubGroup)
			r.Delete("/{subgroupID}", h.DeactivateSubGroup)
			r.Get("/{subgroupID}/templates", h.ListTemplates)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", h.AddTemplate)
			r.Delete("/{templateID}", h.DeactivateTemplate)
		})

		// ============================================================================
		// USERS & ENROLLMENTS
		// ============================================================================
		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Get("/{userID}", h.GetUser)
			r.Patch("/{userID}/timezone", h.UpdateUserTimezone)
			r.Get("/{userID}/enrollments", h.ListEnrollments)
			r.Get("/{userID}/timeline", h.GetTimeline)
			r.Get("/{userID}/due-displays", h.GetDueDisplays)
		})

		r.Route("/enrollments", func(r chi.Router) {
			r.Post("/", h.Enroll)
			r.Get("/{assignmentID}", h.GetEnrollment)
			r.Get("/{assignmentID}/stages", h.ListStages)
			r.Post("/{assignmentID}/pause", h.PauseEnrollment)
			r.Post("/{assignmentID}/resume", h.ResumeEnrollment)
			r.Delete("/{assignmentID}", h.CancelEnrollment)
		})

		// ============================================================================
		// DELIVERY TRIAGE
		// ============================================================================
		r.Route("/delivery", func(r chi.Router) {
			r.Get("/failed", h.ListFailedInstances)
			r.Post("/instances/{instanceID}/redrive", h.RedriveInstance)
			r.Delete("/instances/{instanceID}", h.CancelInstance)
		})
	})

	return r
}
