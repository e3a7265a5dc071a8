package api

import (
	"context"

	"github.com/nerrad567/gray-logic-voice/internal/device"
	"github.com/nerrad567/gray-logic-voice/internal/dispatch"
	"github.com/nerrad567/gray-logic-voice/internal/grammar"
)

// mappingChangedEvent is the payload of EventMappingChanged.
type mappingChangedEvent struct {
	Backend   string            `json:"backend"`
	Revision  uint64            `json:"revision"`
	Eligible  int               `json:"eligible"`
	Conflicts []device.Conflict `json:"conflicts"`
}

// grammarUpdatedEvent is the payload of EventGrammarUpdated. The grammar
// text itself is fetched from /backends/{backend}/grammar.
type grammarUpdatedEvent struct {
	Backend  string         `json:"backend"`
	Revision uint64         `json:"revision"`
	Hash     string         `json:"hash"`
	Counts   grammar.Counts `json:"counts"`
}

// dispatchCompletedEvent is the payload of EventDispatchCompleted.
type dispatchCompletedEvent struct {
	ID              string                 `json:"id"`
	Topic           string                 `json:"topic"`
	Backend         string                 `json:"backend"`
	Outcome         dispatch.Outcome       `json:"outcome"`
	Cause           dispatch.Cause         `json:"cause,omitempty"`
	DeviceID        string                 `json:"device_id,omitempty"`
	MappingSource   dispatch.MappingSource `json:"mapping_source,omitempty"`
	GrammarRevision uint64                 `json:"grammar_revision"`
	Timings         dispatch.Timings       `json:"timings"`
}

// subscribeEvents relays registry, grammar and dispatch events to
// WebSocket clients and the audit log.
//
// A registry change also regenerates the backend's grammar so the next
// invocation does not pay for it.
func (s *Server) subscribeEvents() {
	s.grammars.OnUpdate(func(doc *grammar.Document) {
		s.hub.Broadcast(EventGrammarUpdated, doc.Backend, grammarUpdatedEvent{
			Backend:  doc.Backend,
			Revision: doc.Revision,
			Hash:     doc.Hash,
			Counts:   doc.Counts,
		})
	})

	for backendID, b := range s.backends {
		b.Registry.OnChange(func(snap *device.Snapshot) {
			conflicts := snap.Conflicts()
			if conflicts == nil {
				conflicts = []device.Conflict{}
			}
			s.hub.Broadcast(EventMappingChanged, backendID, mappingChangedEvent{
				Backend:   backendID,
				Revision:  snap.Revision(),
				Eligible:  len(snap.Eligible()),
				Conflicts: conflicts,
			})
			if _, err := s.grammars.Document(context.Background(), snap); err != nil {
				s.logger.Warn("grammar regeneration failed", "backend", backendID, "error", err)
			}
		})
	}

	s.topics.OnResult(func(res *dispatch.Result) {
		s.hub.Broadcast(EventDispatchCompleted, res.Backend, dispatchCompletedEvent{
			ID:              res.ID,
			Topic:           res.Topic,
			Backend:         res.Backend,
			Outcome:         res.Outcome,
			Cause:           res.Cause,
			DeviceID:        res.DeviceID,
			MappingSource:   res.MappingSource,
			GrammarRevision: res.GrammarRevision,
			Timings:         res.Timings,
		})
		s.auditDispatch(res)
	})
}
