package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string                    `json:"timestamp"`
	Version       string                    `json:"version"`
	UptimeSeconds int64                     `json:"uptime_seconds"`
	Runtime       RuntimeMetrics            `json:"runtime"`
	WebSocket     WSMetrics                 `json:"websocket"`
	Backends      map[string]BackendMetrics `json:"backends"`
	Commands      CommandMetrics            `json:"commands"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

// BackendMetrics contains per-backend registry and grammar statistics.
type BackendMetrics struct {
	Revision        uint64 `json:"revision"`
	Devices         int    `json:"devices"`
	Eligible        int    `json:"eligible"`
	Conflicts       int    `json:"conflicts"`
	GrammarRevision uint64 `json:"grammar_revision"`
	GrammarBytes    int    `json:"grammar_bytes"`
}

// CommandMetrics summarises the held command history.
type CommandMetrics struct {
	Total     uint64         `json:"total"`
	Held      int            `json:"held"`
	ByOutcome map[string]int `json:"by_outcome"`
	BySource  map[string]int `json:"by_mapping_source"`
}

// handleMetrics returns runtime, registry and command statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			DroppedEvents:    s.hub.Dropped(),
		},
		Backends: make(map[string]BackendMetrics, len(s.backends)),
		Commands: CommandMetrics{
			Total:     s.history.Total(),
			ByOutcome: make(map[string]int),
			BySource:  make(map[string]int),
		},
	}

	for id, b := range s.backends {
		snap := b.Registry.Snapshot()
		bm := BackendMetrics{
			Revision:  snap.Revision(),
			Devices:   len(snap.Devices()),
			Eligible:  len(snap.Eligible()),
			Conflicts: len(snap.Conflicts()),
		}
		if doc := s.grammars.Cached(id); doc != nil {
			bm.GrammarRevision = doc.Revision
			bm.GrammarBytes = len(doc.Text)
		}
		metrics.Backends[id] = bm
	}

	results := s.history.List(0)
	metrics.Commands.Held = len(results)
	for _, res := range results {
		metrics.Commands.ByOutcome[string(res.Outcome)]++
		if res.MappingSource != "" {
			metrics.Commands.BySource[string(res.MappingSource)]++
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
