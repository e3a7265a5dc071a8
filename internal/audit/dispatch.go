package audit

import (
	"github.com/nerrad567/gray-logic-voice/internal/dispatch"
)

// FromResult builds the audit entry for a completed invocation. The entity
// is the resolved device when there is one, otherwise the topic.
func FromResult(res *dispatch.Result) *AuditLog {
	log := &AuditLog{
		Action:        ActionDispatch,
		EntityType:    "command",
		EntityID:      res.Topic,
		BackendID:     res.Backend,
		MappingSource: string(res.MappingSource),
		Source:        "voice",
		CreatedAt:     res.CompletedAt.UTC(),
		Details: map[string]any{
			"invocation_id":    res.ID,
			"topic":            res.Topic,
			"outcome":          string(res.Outcome),
			"grammar_revision": res.GrammarRevision,
			"total_ms":         res.Timings.Total.Milliseconds(),
		},
	}
	if res.DeviceID != "" {
		log.EntityType = "device"
		log.EntityID = res.DeviceID
	}
	if res.Command != nil {
		log.Details["command"] = res.Command.String()
	}
	if res.Cause != "" {
		log.Details["cause"] = string(res.Cause)
	}
	if res.Error != "" {
		log.Details["error"] = res.Error
	}
	return log
}
