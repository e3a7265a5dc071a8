package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-voice/internal/audit"
	"github.com/nerrad567/gray-logic-voice/internal/dispatch"
)

// auditChanSize is the buffer size for the async audit log channel.
// Entries beyond this are dropped (best-effort) to avoid back-pressure on
// requests and invocations.
const auditChanSize = 256

// auditLog enqueues an administrative audit entry.
func (s *Server) auditLog(action, entityType, entityID, backendID, subject string, details map[string]any) {
	if subject != "" {
		if details == nil {
			details = make(map[string]any, 1)
		}
		details["subject"] = subject
	}
	s.enqueueAudit(&audit.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		BackendID:  backendID,
		Source:     "api",
		Details:    details,
	})
}

// auditDispatch enqueues the audit entry of a completed invocation.
func (s *Server) auditDispatch(res *dispatch.Result) {
	s.enqueueAudit(audit.FromResult(res))
}

func (s *Server) enqueueAudit(entry *audit.AuditLog) {
	if s.auditRepo == nil || s.auditCh == nil {
		return
	}
	select {
	case s.auditCh <- entry:
	default:
		s.logger.Warn("audit log channel full, dropping entry",
			"action", entry.Action,
			"entity_type", entry.EntityType,
		)
	}
}

// drainAuditLog writes queued entries serially until the context is
// cancelled, then drains what remains.
func (s *Server) drainAuditLog(ctx context.Context) {
	for {
		select {
		case entry := <-s.auditCh:
			s.writeAudit(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-s.auditCh:
					s.writeAudit(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Server) writeAudit(entry *audit.AuditLog) {
	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}

// handleListAuditLogs returns paginated audit log entries.
//
// Query parameters:
//   - action: create, update, delete, refresh, dispatch
//   - entity_type: device, device_type, location, topic, backend, command
//   - entity_id, backend_id, mapping_source
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeInternalError(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:        q.Get("action"),
		EntityType:    q.Get("entity_type"),
		EntityID:      q.Get("entity_id"),
		BackendID:     q.Get("backend_id"),
		MappingSource: q.Get("mapping_source"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list audit logs", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
