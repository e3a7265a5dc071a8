package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-voice/internal/audit"
	"github.com/nerrad567/gray-logic-voice/internal/dispatch"
	"github.com/nerrad567/gray-logic-voice/internal/topic"
)

// handleListTopics returns all topics.
func (s *Server) handleListTopics(w http.ResponseWriter, _ *http.Request) {
	topics := s.topics.List()
	writeJSON(w, http.StatusOK, map[string]any{"topics": topics, "count": len(topics)})
}

// handleCreateTopic creates a topic, optionally configuring and enabling it
// in the same request.
func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx := r.Context()

	t, err := s.topics.Create(ctx, req.ID)
	if err != nil {
		s.writeTopicError(w, err)
		return
	}
	if req.Model != "" {
		if t, err = s.topics.Configure(ctx, req.ID, topic.Settings{Model: req.Model, Backend: req.Backend, Prompt: req.Prompt}); err != nil {
			s.writeTopicError(w, err)
			return
		}
		if req.Enabled {
			if t, err = s.topics.Enable(ctx, req.ID); err != nil {
				s.writeTopicError(w, err)
				return
			}
		}
	}
	s.auditLog(audit.ActionCreate, "topic", t.ID, t.Backend, subject(r), map[string]any{"state": t.State})
	writeJSON(w, http.StatusCreated, t)
}

// handleGetTopic returns a single topic.
func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	t, err := s.topics.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeTopicError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// handleConfigureTopic sets a topic's model, backend and prompt.
func (s *Server) handleConfigureTopic(w http.ResponseWriter, r *http.Request) {
	var req configureTopicRequest
	if !s.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	t, err := s.topics.Configure(r.Context(), id, topic.Settings(req))
	if err != nil {
		s.writeTopicError(w, err)
		return
	}
	s.auditLog(audit.ActionUpdate, "topic", id, t.Backend, subject(r), map[string]any{"model": t.Model, "state": t.State})
	writeJSON(w, http.StatusOK, t)
}

// handleEnableTopic allows invocations of a configured topic.
func (s *Server) handleEnableTopic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.topics.Enable(r.Context(), id)
	if err != nil {
		s.writeTopicError(w, err)
		return
	}
	s.auditLog(audit.ActionUpdate, "topic", id, t.Backend, subject(r), map[string]any{"state": t.State})
	writeJSON(w, http.StatusOK, t)
}

// handleDisableTopic refuses further invocations of a topic.
func (s *Server) handleDisableTopic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.topics.Disable(r.Context(), id)
	if err != nil {
		s.writeTopicError(w, err)
		return
	}
	s.auditLog(audit.ActionUpdate, "topic", id, t.Backend, subject(r), map[string]any{"state": t.State})
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTopic removes a topic.
func (s *Server) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.topics.Delete(r.Context(), id); err != nil {
		s.writeTopicError(w, err)
		return
	}
	s.auditLog(audit.ActionDelete, "topic", id, "", subject(r), nil)
	w.WriteHeader(http.StatusNoContent)
}

// handleInvokeTopic runs an utterance through a topic's pipeline.
//
// An accepted invocation always returns the result body; the status
// reflects its outcome. Refusals return a structured error.
func (s *Server) handleInvokeTopic(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.topics.Invoke(r.Context(), chi.URLParam(r, "id"), req.Text)
	if res == nil {
		s.writeTopicError(w, err)
		return
	}
	writeJSON(w, invokeStatus(res), res)
}

// invokeStatus maps an invocation outcome onto an HTTP status.
func invokeStatus(res *dispatch.Result) int {
	switch res.Outcome {
	case dispatch.OutcomeSuccess:
		return http.StatusOK
	case dispatch.OutcomeDispatchFailed:
		if res.Cause == dispatch.CauseTimeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case dispatch.OutcomeInferenceFailed:
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) writeTopicError(w http.ResponseWriter, err error) {
	if !errors.Is(err, topic.ErrTopicNotFound) && !errors.Is(err, topic.ErrTopicExists) &&
		!errors.Is(err, topic.ErrInvalidTopic) && !errors.Is(err, topic.ErrUnknownBackend) &&
		!errors.Is(err, topic.ErrTopicDisabled) && !errors.Is(err, topic.ErrTopicNotConfigured) &&
		!errors.Is(err, topic.ErrEmptyPrompt) {
		s.logger.Error("topic operation failed", "error", err)
	}
	writeDomainError(w, err)
}
