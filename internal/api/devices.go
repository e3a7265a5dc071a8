package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-voice/internal/audit"
	"github.com/nerrad567/gray-logic-voice/internal/backend"
	"github.com/nerrad567/gray-logic-voice/internal/device"
)

var errBackendNotFound = errors.New("api: backend not found")

// backendFor resolves the {backend} URL parameter, writing 404 if unknown.
func (s *Server) backendFor(w http.ResponseWriter, r *http.Request) (string, Backend, bool) {
	id := chi.URLParam(r, "backend")
	b, ok := s.backends[id]
	if !ok {
		writeDomainError(w, fmt.Errorf("%w: %s", errBackendNotFound, id))
		return "", Backend{}, false
	}
	return id, b, true
}

// backendSummary is the list view of a backend.
type backendSummary struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Revision        uint64 `json:"revision"`
	Devices         int    `json:"devices"`
	Eligible        int    `json:"eligible"`
	Conflicts       int    `json:"conflicts"`
	GrammarRevision uint64 `json:"grammar_revision"`
}

func (s *Server) summarise(id string, b Backend) backendSummary {
	snap := b.Registry.Snapshot()
	sum := backendSummary{
		ID:        id,
		Revision:  snap.Revision(),
		Devices:   len(snap.Devices()),
		Eligible:  len(snap.Eligible()),
		Conflicts: len(snap.Conflicts()),
	}
	if b.Client != nil {
		sum.Type = b.Client.Type()
	}
	if doc := s.grammars.Cached(id); doc != nil {
		sum.GrammarRevision = doc.Revision
	}
	return sum
}

// handleListBackends returns every configured backend with registry counts.
func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	ids := s.backendIDs()
	out := make([]backendSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.summarise(id, s.backends[id]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"backends": out, "count": len(out)})
}

// handleGetBackend returns one backend's summary and vocabularies.
func (s *Server) handleGetBackend(w http.ResponseWriter, r *http.Request) {
	id, b, ok := s.backendFor(w, r)
	if !ok {
		return
	}
	snap := b.Registry.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"backend":      s.summarise(id, b),
		"device_types": snap.Vocabulary(device.KindDeviceType),
		"locations":    snap.Vocabulary(device.KindLocation),
	})
}

// handleExportBackend returns the full mapping record, suitable for backup.
func (s *Server) handleExportBackend(w http.ResponseWriter, r *http.Request) {
	_, b, ok := s.backendFor(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, b.Registry.Snapshot().Record())
}

// handleRefreshBackend fetches the backend's entities into the registry.
//
// Query parameters:
//   - prune: "true" removes devices the backend no longer reports
func (s *Server) handleRefreshBackend(w http.ResponseWriter, r *http.Request) {
	id, b, ok := s.backendFor(w, r)
	if !ok {
		return
	}
	if b.Client == nil {
		writeError(w, http.StatusBadGateway, ErrCodeUnavailable, "backend client not available")
		return
	}
	prune, _ := strconv.ParseBool(r.URL.Query().Get("prune")) //nolint:errcheck // absent or invalid means false

	res, err := backend.Sync(r.Context(), b.Client, b.Registry, prune)
	if err != nil {
		s.logger.Warn("backend refresh failed", "backend", id, "error", err)
		writeDomainError(w, err)
		return
	}
	s.auditLog(audit.ActionRefresh, "backend", id, id, subject(r), map[string]any{
		"added":  len(res.Added),
		"pruned": len(res.Pruned),
	})
	writeJSON(w, http.StatusOK, res)
}

// handleValidateBackend reports every mapping conflict.
func (s *Server) handleValidateBackend(w http.ResponseWriter, r *http.Request) {
	_, b, ok := s.backendFor(w, r)
	if !ok {
		return
	}
	conflicts := b.Registry.Validate()
	if conflicts == nil {
		conflicts = []device.Conflict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":     len(conflicts) == 0,
		"revision":  b.Registry.Snapshot().Revision(),
		"conflicts": conflicts,
	})
}

// handleGetGrammar returns the current grammar, regenerating if stale.
//
// Query parameters:
//   - format: "gbnf" returns the grammar text as text/plain
func (s *Server) handleGetGrammar(w http.ResponseWriter, r *http.Request) {
	_, b, ok := s.backendFor(w, r)
	if !ok {
		return
	}
	doc, err := s.grammars.Document(r.Context(), b.Registry.Snapshot())
	if err != nil {
		s.logger.Error("grammar generation failed", "error", err)
		writeInternalError(w, "failed to generate grammar")
		return
	}
	if r.URL.Query().Get("format") == "gbnf" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("ETag", strconv.Quote(doc.Hash))
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // Best-effort write to response
		w.Write([]byte(doc.Text))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleListDevices returns the backend's devices.
//
// Query parameters:
//   - enabled: "true" or "false" filters by enabled state
//   - unassigned: "true" returns devices missing a device type or location
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	_, b, ok := s.backendFor(w, r)
	if !ok {
		return
	}
	snap := b.Registry.Snapshot()
	q := r.URL.Query()

	devices := snap.Devices()
	out := devices[:0]
	for _, d := range devices {
		if v := q.Get("enabled"); v != "" {
			if want, err := strconv.ParseBool(v); err == nil && d.Enabled != want {
				continue
			}
		}
		if q.Get("unassigned") == "true" {
			if _, assigned := d.Pair(); assigned {
				continue
			}
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"revision": snap.Revision(),
		"devices":  out,
		"count":    len(out),
	})
}

// handleGetDevice returns a single device.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	_, b, ok := s.backendFor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	d, found := b.Registry.Snapshot().Device(id)
	if !found {
		writeDomainError(w, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleSetDeviceEnabled puts a device into or out of grammar scope.
func (s *Server) handleSetDeviceEnabled(w http.ResponseWriter, r *http.Request) {
	backendID, b, ok := s.backendFor(w, r)
	if !ok {
		return
	}
	var req setEnabledRequest
	if !s.decode(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	res, err := b.Registry.SetEnabled(r.Context(), id, *req.Enabled)
	if err != nil {
		s.writeMutationError(w, "set device enabled", err)
		return
	}
	s.auditLog(audit.ActionUpdate, "device", id, backendID, subject(r), map[string]any{
		"enabled":   *req.Enabled,
		"revision":  res.Revision,
		"conflicts": len(res.Conflicts),
	})
	writeJSON(w, http.StatusOK, res)
}

// handleAssignDevice updates a device's device type and location.
func (s *Server) handleAssignDevice(w http.ResponseWriter, r *http.Request) {
	backendID, b, ok := s.backendFor(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if !s.decode(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	res, err := b.Registry.Assign(r.Context(), id, req.DeviceType, req.Location)
	if err != nil {
		s.writeMutationError(w, "assign device", err)
		return
	}
	s.auditLog(audit.ActionUpdate, "device", id, backendID, subject(r), map[string]any{
		"device_type": req.DeviceType.String(),
		"location":    req.Location.String(),
		"revision":    res.Revision,
		"conflicts":   len(res.Conflicts),
	})
	writeJSON(w, http.StatusOK, res)
}

// handleListVocabulary returns the device types or locations of a backend.
func (s *Server) handleListVocabulary(w http.ResponseWriter, r *http.Request) {
	_, b, ok := s.backendFor(w, r)
	if !ok {
		return
	}
	kind, err := device.ParseVocabularyKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	names := b.Registry.Snapshot().Vocabulary(kind)
	writeJSON(w, http.StatusOK, map[string]any{"kind": kind, "names": names, "count": len(names)})
}

// handleAddVocabulary registers a device type or location.
func (s *Server) handleAddVocabulary(w http.ResponseWriter, r *http.Request) {
	backendID, b, ok := s.backendFor(w, r)
	if !ok {
		return
	}
	kind, err := device.ParseVocabularyKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req vocabularyRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := b.Registry.AddVocabulary(r.Context(), kind, req.Name)
	if err != nil {
		s.writeMutationError(w, "add vocabulary", err)
		return
	}
	s.auditLog(audit.ActionCreate, string(kind), device.NormalizeName(req.Name), backendID, subject(r), nil)
	writeJSON(w, http.StatusCreated, res)
}

// handleRemoveVocabulary removes an unreferenced device type or location.
func (s *Server) handleRemoveVocabulary(w http.ResponseWriter, r *http.Request) {
	backendID, b, ok := s.backendFor(w, r)
	if !ok {
		return
	}
	kind, err := device.ParseVocabularyKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	name := chi.URLParam(r, "name")

	res, err := b.Registry.RemoveVocabulary(r.Context(), kind, name)
	if err != nil {
		var inUse *device.InUseError
		if errors.As(err, &inUse) {
			writeJSON(w, http.StatusConflict, Error{
				Status:  http.StatusConflict,
				Code:    ErrCodeConflict,
				Message: err.Error(),
				Details: map[string]any{"device_ids": inUse.DeviceIDs},
			})
			return
		}
		s.writeMutationError(w, "remove vocabulary", err)
		return
	}
	s.auditLog(audit.ActionDelete, string(kind), device.NormalizeName(name), backendID, subject(r), nil)
	writeJSON(w, http.StatusOK, res)
}

// writeMutationError logs unexpected registry failures before mapping them.
func (s *Server) writeMutationError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, device.ErrUnknownVocabulary),
		errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrVocabularyExists),
		errors.Is(err, device.ErrInUse):
	default:
		s.logger.Error("registry mutation failed", "operation", op, "error", err)
	}
	writeDomainError(w, err)
}
