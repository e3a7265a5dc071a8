package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/metrics", s.handleMetrics)

			r.Route("/backends", func(r chi.Router) {
				r.Get("/", s.handleListBackends)

				r.Route("/{backend}", func(r chi.Router) {
					r.Get("/", s.handleGetBackend)
					r.Get("/export", s.handleExportBackend)
					r.Post("/refresh", s.handleRefreshBackend)
					r.Get("/validate", s.handleValidateBackend)
					r.Get("/grammar", s.handleGetGrammar)

					r.Get("/devices", s.handleListDevices)
					r.Route("/devices/{id}", func(r chi.Router) {
						r.Get("/", s.handleGetDevice)
						r.Put("/enabled", s.handleSetDeviceEnabled)
						r.Put("/assignment", s.handleAssignDevice)
					})

					r.Route("/vocabulary/{kind}", func(r chi.Router) {
						r.Get("/", s.handleListVocabulary)
						r.Post("/", s.handleAddVocabulary)
						r.Delete("/{name}", s.handleRemoveVocabulary)
					})
				})
			})

			r.Route("/topics", func(r chi.Router) {
				r.Get("/", s.handleListTopics)
				r.Post("/", s.handleCreateTopic)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetTopic)
					r.Put("/", s.handleConfigureTopic)
					r.Delete("/", s.handleDeleteTopic)
					r.Post("/enable", s.handleEnableTopic)
					r.Post("/disable", s.handleDisableTopic)
					r.Post("/invoke", s.handleInvokeTopic)
				})
			})

			r.Get("/history", s.handleListHistory)
			r.Get("/history/{id}", s.handleGetHistory)
			r.Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"version":           s.version,
		"backends":          s.backendIDs(),
		"topics":            len(s.topics.List()),
		"history_total":     s.history.Total(),
		"websocket_clients": s.hub.ClientCount(),
	})
}
