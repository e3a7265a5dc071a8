package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-voice/internal/audit"
	"github.com/nerrad567/gray-logic-voice/internal/backend"
	"github.com/nerrad567/gray-logic-voice/internal/device"
	"github.com/nerrad567/gray-logic-voice/internal/dispatch"
	"github.com/nerrad567/gray-logic-voice/internal/grammar"
	"github.com/nerrad567/gray-logic-voice/internal/inference"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-voice/internal/topic"
	_ "github.com/nerrad567/gray-logic-voice/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

var testJWT = config.JWTConfig{Secret: testSecret, Issuer: "graylogic", AccessTokenTTL: 15}

// fakeBackend reports a fixed entity set and accepts every action.
type fakeBackend struct {
	mu       sync.Mutex
	entities []backend.Entity
	actions  []backend.Action
}

func (b *fakeBackend) ID() string   { return "home" }
func (b *fakeBackend) Type() string { return "fake" }
func (b *fakeBackend) FetchEntities(context.Context) ([]backend.Entity, error) {
	return b.entities, nil
}
func (b *fakeBackend) TestConnection(context.Context) error { return nil }
func (b *fakeBackend) DispatchAction(_ context.Context, a backend.Action) (backend.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions = append(b.actions, a)
	return backend.Response{Status: http.StatusOK}, nil
}

// fixedEngine always answers with the same completion.
type fixedEngine struct{ output string }

func (e fixedEngine) Complete(context.Context, inference.Request) (string, error) {
	return e.output, nil
}

type testEnv struct {
	srv      *Server
	registry *device.Registry
	backend  *fakeBackend
	audit    *audit.SQLiteRepository
	token    string
}

func strPtr(s string) *string { return &s }

// newTestEnv builds a server over an in-memory database with two unmapped
// lights on the "home" backend.
func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	reg := device.NewRegistry("home", device.NewMemoryRepository())
	fb := &fakeBackend{entities: []backend.Entity{
		{ID: "light.kitchen", Domain: "light", Name: "Kitchen Ceiling", Area: strPtr("Kitchen")},
		{ID: "light.kitchen_2", Domain: "light", Name: "Kitchen Strip", Area: strPtr("Kitchen")},
	}}
	if _, err := backend.Sync(ctx, fb, reg, false); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	grammars := grammar.NewProvider(grammar.NewCache(), grammar.DefaultProfiles())
	history := dispatch.NewHistory(32)
	exec := dispatch.NewExecutor(fb, dispatch.NewBackendResolver(reg, config.BackendConfig{}, nil), dispatch.DefaultVerbs(), time.Second)
	topics := topic.NewManager(topic.NewSQLiteRepository(db.DB),
		map[string]topic.Pipeline{"home": {Registry: reg, Executor: exec}},
		grammars,
		fixedEngine{output: `{"action": "on", "device_type": "lights", "location": "kitchen"}`},
		history,
	)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	deps := Deps{
		Config:    config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:        config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Security:  config.SecurityConfig{JWT: testJWT},
		Logger:    logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Backends:  map[string]Backend{"home": {Client: fb, Registry: reg}},
		Topics:    topics,
		Grammars:  grammars,
		History:   history,
		AuditRepo: auditRepo,
		Version:   "test",
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	token, _, err := IssueToken(testJWT, "tester")
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	return &testEnv{srv: srv, registry: reg, backend: fb, audit: auditRepo, token: token}
}

// do sends an authenticated request through the router.
func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+e.token)
	w := httptest.NewRecorder()
	e.srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, w.Body.String())
	}
}

// ─── Health & Middleware ───────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}

	var resp map[string]any
	decodeBody(t, w, &resp)
	if resp["status"] != "ok" || resp["version"] != "test" {
		t.Errorf("health = %v", resp)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "tester",
		Issuer:    "graylogic",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}})
	expiredToken, _ := expired.SignedString([]byte(testSecret)) //nolint:errcheck // signing with a static key
	otherKey, _, _ := IssueToken(config.JWTConfig{Secret: strings.Repeat("x", 32), Issuer: "graylogic"}, "tester")
	otherIssuer, _, _ := IssueToken(config.JWTConfig{Secret: testSecret, Issuer: "elsewhere"}, "tester")

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic dGVzdDp0ZXN0", http.StatusUnauthorized},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"expired", "Bearer " + expiredToken, http.StatusUnauthorized},
		{"wrong key", "Bearer " + otherKey, http.StatusUnauthorized},
		{"wrong issuer", "Bearer " + otherIssuer, http.StatusUnauthorized},
		{"valid", "Bearer " + env.token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/backends", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.srv.buildRouter().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Security.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}
	})
	router := env.srv.buildRouter()

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
		req.RemoteAddr = "192.0.2.7:5000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("status codes = %v, want [200 200 429]", codes)
	}

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.RemoteAddr = "192.0.2.8:5000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("second client status = %d, want 200", w.Code)
	}
}

// ─── Mapping administration ────────────────────────────────────────

func TestMappingFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/backends/home/devices?enabled=false", "")
	var list struct {
		Devices []device.Device `json:"devices"`
		Count   int             `json:"count"`
	}
	decodeBody(t, w, &list)
	if list.Count != 2 {
		t.Fatalf("disabled devices = %d, want 2", list.Count)
	}

	if w := env.do(t, http.MethodPut, "/api/v1/backends/home/devices/light.kitchen/enabled", `{}`); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing enabled status = %d, want 422", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/v1/backends/home/devices/light.kitchen/assignment", `{"device_type": "lights", "location": "attic"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown location status = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/v1/backends/home/devices/nope/enabled", `{"enabled": true}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", w.Code)
	}

	for _, id := range []string{"light.kitchen", "light.kitchen_2"} {
		w := env.do(t, http.MethodPut, "/api/v1/backends/home/devices/"+id+"/assignment", `{"device_type": "Lights", "location": "Kitchen"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("assign %s status = %d: %s", id, w.Code, w.Body.String())
		}
	}

	w = env.do(t, http.MethodPut, "/api/v1/backends/home/devices/light.kitchen/enabled", `{"enabled": true}`)
	var res device.Result
	decodeBody(t, w, &res)
	if len(res.Conflicts) != 0 || !res.Device.Enabled {
		t.Errorf("enable result = %+v", res)
	}

	w = env.do(t, http.MethodGet, "/api/v1/backends/home/grammar?format=gbnf", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `\"kitchen\"`) {
		t.Errorf("grammar = %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("ETag") == "" {
		t.Error("grammar ETag missing")
	}

	// Enabling a second device into the same pair succeeds but reports it.
	w = env.do(t, http.MethodPut, "/api/v1/backends/home/devices/light.kitchen_2/enabled", `{"enabled": true}`)
	res = device.Result{}
	decodeBody(t, w, &res)
	if w.Code != http.StatusOK || len(res.Conflicts) != 1 {
		t.Fatalf("conflicting enable = %d %+v", w.Code, res)
	}

	w = env.do(t, http.MethodGet, "/api/v1/backends/home/validate", "")
	var report struct {
		Valid     bool              `json:"valid"`
		Conflicts []device.Conflict `json:"conflicts"`
	}
	decodeBody(t, w, &report)
	if report.Valid || len(report.Conflicts) != 1 || report.Conflicts[0].Pair.String() != "lights@kitchen" {
		t.Errorf("validate = %+v", report)
	}

	w = env.do(t, http.MethodGet, "/api/v1/backends/home/grammar", "")
	var doc grammar.Document
	decodeBody(t, w, &doc)
	if doc.Counts.Devices != 0 || doc.Revision != env.registry.Snapshot().Revision() {
		t.Errorf("grammar with conflict = %+v", doc.Counts)
	}

	// Clearing the location resolves the conflict.
	if w := env.do(t, http.MethodPut, "/api/v1/backends/home/devices/light.kitchen_2/assignment", `{"location": null}`); w.Code != http.StatusOK {
		t.Fatalf("clear location status = %d", w.Code)
	}
	if conflicts := env.registry.Validate(); len(conflicts) != 0 {
		t.Errorf("conflicts after clear = %+v", conflicts)
	}
	if d, _ := env.registry.Snapshot().Device("light.kitchen_2"); d.DeviceType == nil || *d.DeviceType != "lights" {
		t.Errorf("device type should be kept when absent: %+v", d)
	}
}

func TestVocabulary(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"add location", http.MethodPost, "/api/v1/backends/home/vocabulary/locations", `{"name": "Garage"}`, http.StatusCreated},
		{"duplicate", http.MethodPost, "/api/v1/backends/home/vocabulary/location", `{"name": "garage"}`, http.StatusConflict},
		{"empty name", http.MethodPost, "/api/v1/backends/home/vocabulary/location", `{"name": ""}`, http.StatusUnprocessableEntity},
		{"unknown field", http.MethodPost, "/api/v1/backends/home/vocabulary/location", `{"title": "x"}`, http.StatusBadRequest},
		{"unknown kind", http.MethodGet, "/api/v1/backends/home/vocabulary/colours", "", http.StatusBadRequest},
		{"unknown backend", http.MethodGet, "/api/v1/backends/away/vocabulary/location", "", http.StatusNotFound},
		{"list", http.MethodGet, "/api/v1/backends/home/vocabulary/device_types", "", http.StatusOK},
		{"remove unused", http.MethodDelete, "/api/v1/backends/home/vocabulary/location/garage", "", http.StatusOK},
		{"remove missing", http.MethodDelete, "/api/v1/backends/home/vocabulary/location/garage", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (body: %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}

	if _, err := env.registry.Assign(context.Background(), "light.kitchen", device.Keep(), device.Set("kitchen")); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	w := env.do(t, http.MethodDelete, "/api/v1/backends/home/vocabulary/location/kitchen", "")
	var body Error
	decodeBody(t, w, &body)
	details, _ := body.Details.(map[string]any)
	ids, _ := details["device_ids"].([]any)
	if w.Code != http.StatusConflict || len(ids) != 1 || ids[0] != "light.kitchen" {
		t.Errorf("remove in-use = %d %+v", w.Code, body)
	}
}

func TestRefreshBackend(t *testing.T) {
	env := newTestEnv(t)
	env.backend.entities = append(env.backend.entities, backend.Entity{ID: "light.hall", Domain: "light", Area: strPtr("Hall")})

	w := env.do(t, http.MethodPost, "/api/v1/backends/home/refresh", "")
	var res device.UpsertResult
	decodeBody(t, w, &res)
	if w.Code != http.StatusOK || len(res.Added) != 1 || res.Added[0] != "light.hall" {
		t.Errorf("refresh = %d %+v", w.Code, res)
	}
	if !env.registry.Snapshot().HasVocabulary(device.KindLocation, "hall") {
		t.Error("area of new device not seeded as location")
	}

	env.backend.entities = env.backend.entities[:1]
	w = env.do(t, http.MethodPost, "/api/v1/backends/home/refresh?prune=true", "")
	res = device.UpsertResult{}
	decodeBody(t, w, &res)
	if len(res.Pruned) != 2 {
		t.Errorf("pruned = %v, want 2 devices", res.Pruned)
	}
}

// ─── Topics & history ──────────────────────────────────────────────

func enableKitchenLight(t *testing.T, reg *device.Registry) {
	t.Helper()
	ctx := context.Background()
	if _, err := reg.Assign(ctx, "light.kitchen", device.Set("lights"), device.Set("kitchen")); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if _, err := reg.SetEnabled(ctx, "light.kitchen", true); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
}

func TestTopicFlow(t *testing.T) {
	env := newTestEnv(t)
	enableKitchenLight(t, env.registry)

	w := env.do(t, http.MethodPost, "/api/v1/topics", `{"id": "kitchen", "model": "qwen", "backend": "home", "enabled": true}`)
	var created topic.Topic
	decodeBody(t, w, &created)
	if w.Code != http.StatusCreated || created.State != topic.StateEnabled {
		t.Fatalf("create = %d %+v", w.Code, created)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/topics", `{"id": "kitchen"}`); w.Code != http.StatusConflict {
		t.Errorf("duplicate create status = %d, want 409", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/topics", `{"id": "bad", "model": "qwen"}`); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("model without backend status = %d, want 422", w.Code)
	}

	w = env.do(t, http.MethodPost, "/api/v1/topics/kitchen/invoke", `{"text": "turn on the kitchen lights"}`)
	var res dispatch.Result
	decodeBody(t, w, &res)
	if w.Code != http.StatusOK || !res.Success() || res.DeviceID != "light.kitchen" || res.MappingSource != dispatch.SourceExplicit {
		t.Fatalf("invoke = %d %+v", w.Code, res)
	}
	if len(env.backend.actions) != 1 || env.backend.actions[0].Verb.Service != "light.turn_on" {
		t.Errorf("backend actions = %+v", env.backend.actions)
	}

	w = env.do(t, http.MethodGet, "/api/v1/history/"+res.ID, "")
	if w.Code != http.StatusOK {
		t.Errorf("history get status = %d", w.Code)
	}
	w = env.do(t, http.MethodGet, "/api/v1/history?outcome=success", "")
	var hist struct {
		Count int    `json:"count"`
		Total uint64 `json:"total"`
	}
	decodeBody(t, w, &hist)
	if hist.Count != 1 || hist.Total != 1 {
		t.Errorf("history = %+v", hist)
	}

	if w := env.do(t, http.MethodPost, "/api/v1/topics/kitchen/disable", ""); w.Code != http.StatusOK {
		t.Fatalf("disable status = %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/topics/kitchen/invoke", `{"text": "lights on"}`); w.Code != http.StatusConflict {
		t.Errorf("invoke disabled status = %d, want 409", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/v1/topics/nope/invoke", `{"text": "lights on"}`); w.Code != http.StatusNotFound {
		t.Errorf("invoke unknown status = %d, want 404", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/v1/topics/kitchen", `{"model": "llama", "backend": "away"}`); w.Code != http.StatusBadRequest {
		t.Errorf("configure unknown backend status = %d, want 400", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/v1/topics/kitchen", ""); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d, want 204", w.Code)
	}
}

func TestInvoke_GrammarViolationStatus(t *testing.T) {
	env := newTestEnv(t)
	// No device is enabled, so the grammar admits only the noop sentence.
	if w := env.do(t, http.MethodPost, "/api/v1/topics", `{"id": "kitchen", "model": "qwen", "backend": "home", "enabled": true}`); w.Code != http.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/api/v1/topics/kitchen/invoke", `{"text": "lights on"}`)
	var res dispatch.Result
	decodeBody(t, w, &res)
	if w.Code != http.StatusUnprocessableEntity || res.Outcome != dispatch.OutcomeGrammarViolation {
		t.Errorf("invoke = %d %+v", w.Code, res)
	}
	if len(env.backend.actions) != 0 {
		t.Error("grammar violation reached the backend")
	}
}

func TestInvokeStatus(t *testing.T) {
	tests := []struct {
		outcome dispatch.Outcome
		cause   dispatch.Cause
		want    int
	}{
		{dispatch.OutcomeSuccess, "", http.StatusOK},
		{dispatch.OutcomeUnrecognized, "", http.StatusUnprocessableEntity},
		{dispatch.OutcomeMalformed, "", http.StatusUnprocessableEntity},
		{dispatch.OutcomeUnresolved, "", http.StatusUnprocessableEntity},
		{dispatch.OutcomeDispatchFailed, dispatch.CauseTimeout, http.StatusGatewayTimeout},
		{dispatch.OutcomeDispatchFailed, dispatch.CauseRejected, http.StatusBadGateway},
		{dispatch.OutcomeInferenceFailed, "", http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := invokeStatus(&dispatch.Result{Outcome: tt.outcome, Cause: tt.cause}); got != tt.want {
			t.Errorf("invokeStatus(%s/%s) = %d, want %d", tt.outcome, tt.cause, got, tt.want)
		}
	}
}

func TestAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	enableKitchenLight(t, env.registry)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.srv.drainAuditLog(ctx)
		close(done)
	}()

	env.do(t, http.MethodPut, "/api/v1/backends/home/devices/light.kitchen_2/enabled", `{"enabled": true}`)
	env.do(t, http.MethodPost, "/api/v1/topics", `{"id": "kitchen", "model": "qwen", "backend": "home", "enabled": true}`)
	env.do(t, http.MethodPost, "/api/v1/topics/kitchen/invoke", `{"text": "lights on"}`)

	cancel()
	<-done

	res, err := env.audit.List(context.Background(), audit.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 3 {
		t.Fatalf("audit entries = %d, want 3: %+v", res.Total, res.Logs)
	}

	dispatched, _ := env.audit.List(context.Background(), audit.Filter{Action: audit.ActionDispatch, MappingSource: "explicit_mapping"})
	if dispatched.Total != 1 || dispatched.Logs[0].EntityID != "light.kitchen" {
		t.Errorf("dispatch audit = %+v", dispatched.Logs)
	}
	updates, _ := env.audit.List(context.Background(), audit.Filter{Action: audit.ActionUpdate})
	if updates.Total != 1 || updates.Logs[0].Details["subject"] != "tester" {
		t.Errorf("update audit = %+v", updates.Logs)
	}

	w := env.do(t, http.MethodGet, "/api/v1/audit?backend_id=home&limit=10", "")
	var listed audit.ListResult
	decodeBody(t, w, &listed)
	if listed.Total != 3 || listed.Limit != 10 {
		t.Errorf("audit endpoint = %+v", listed)
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func TestTicketStore_SingleUse(t *testing.T) {
	ts := newTicketStore()
	ticket := ts.issue()

	if !ts.consume(ticket) {
		t.Fatal("first consume should succeed")
	}
	if ts.consume(ticket) {
		t.Error("second consume should fail")
	}

	expired := ts.issue()
	ts.clean(time.Now().Add(2 * ticketTTL))
	if ts.consume(expired) {
		t.Error("expired ticket should have been cleaned")
	}
}

func TestWebSocket_RequiresTicket(t *testing.T) {
	env := newTestEnv(t)
	hs := httptest.NewServer(env.srv.buildRouter())
	defer hs.Close()

	for _, q := range []string{"", "?ticket=invalid"} {
		_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http")+"/api/v1/ws"+q, nil)
		if err == nil {
			t.Fatalf("dial %q: expected error", q)
		}
		if resp != nil && resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("dial %q status = %d, want 401", q, resp.StatusCode)
		}
	}
}

func TestWebSocket_Events(t *testing.T) {
	env := newTestEnv(t)
	hs := httptest.NewServer(env.srv.buildRouter())
	defer hs.Close()

	req, _ := http.NewRequest(http.MethodPost, hs.URL+"/api/v1/auth/ws-ticket", nil)
	req.Header.Set("Authorization", "Bearer "+env.token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ticket request: %v", err)
	}
	var ticket struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	resp.Body.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http")+"/api/v1/ws?ticket="+ticket.Ticket, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline

	if err := ws.WriteJSON(ClientMessage{
		Type:         MsgSubscribe,
		ID:           "bad",
		Subscription: &Subscription{Channels: []string{EventMappingChanged}, Backends: []string{"cabin"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	var rejected ServerMessage
	if err := ws.ReadJSON(&rejected); err != nil || rejected.Type != MsgError || rejected.ID != "bad" {
		t.Fatalf("unknown backend reply = %+v, %v", rejected, err)
	}

	if err := ws.WriteJSON(ClientMessage{
		Type:         MsgSubscribe,
		ID:           "sub-1",
		Subscription: &Subscription{Channels: []string{EventMappingChanged, EventGrammarUpdated}, Backends: []string{"home"}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	var ack ServerMessage
	if err := ws.ReadJSON(&ack); err != nil || ack.Type != MsgAck || ack.ID != "sub-1" || len(ack.Subscriptions) != 2 {
		t.Fatalf("subscribe ack = %+v, %v", ack, err)
	}

	enableKitchenLight(t, env.registry)

	// Assign and enable each publish a mapping change, and each triggers a
	// grammar regeneration.
	seen := map[string]int{}
	var lastGrammar grammarUpdatedEvent
	for seen[EventMappingChanged] < 2 || seen[EventGrammarUpdated] < 2 {
		var msg ServerMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read event (seen %v): %v", seen, err)
		}
		if msg.Type != MsgEvent || msg.Backend != "home" {
			t.Fatalf("unexpected message %+v", msg)
		}
		seen[msg.Event]++
		if msg.Event == EventGrammarUpdated {
			if err := json.Unmarshal(msg.Payload, &lastGrammar); err != nil {
				t.Fatalf("decode grammar event: %v", err)
			}
		}
	}
	if lastGrammar.Backend != "home" || lastGrammar.Revision != env.registry.Snapshot().Revision() {
		t.Errorf("last grammar event = %+v", lastGrammar)
	}
}

// newQueueClient registers a connectionless client that only queues.
func newQueueClient(h *Hub, size int) *wsClient {
	c := &wsClient{
		hub:  h,
		send: make(chan []byte, size),
		done: make(chan struct{}),
		subs: make(map[string]map[string]bool),
	}
	h.add(c)
	return c
}

func drain(c *wsClient) []ServerMessage {
	var out []ServerMessage
	for {
		select {
		case data := <-c.send:
			var msg ServerMessage
			_ = json.Unmarshal(data, &msg)
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestHub_BackendScopedSubscriptions(t *testing.T) {
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{}, logger, []string{"home", "cabin"})

	invalid := []*Subscription{
		nil,
		{},
		{Channels: []string{"registry.dump"}},
		{Channels: []string{EventMappingChanged}, Backends: []string{"garage"}},
	}
	for _, sub := range invalid {
		if err := hub.checkSubscription(sub); err == nil {
			t.Errorf("checkSubscription(%+v) accepted", sub)
		}
	}

	every := newQueueClient(hub, 8)
	every.subscribe(Subscription{Channels: []string{EventMappingChanged}})
	home := newQueueClient(hub, 8)
	home.subscribe(Subscription{Channels: []string{EventMappingChanged, EventDispatchCompleted}, Backends: []string{"home"}})

	hub.Broadcast(EventMappingChanged, "cabin", mappingChangedEvent{Backend: "cabin", Revision: 4})
	hub.Broadcast(EventMappingChanged, "home", mappingChangedEvent{Backend: "home", Revision: 9})
	hub.Broadcast(EventGrammarUpdated, "home", grammarUpdatedEvent{Backend: "home"})

	got := drain(every)
	if len(got) != 2 || got[0].Backend != "cabin" || got[1].Backend != "home" {
		t.Fatalf("all-backend client got %+v", got)
	}
	var ev mappingChangedEvent
	if err := json.Unmarshal(got[0].Payload, &ev); err != nil || ev.Revision != 4 {
		t.Errorf("payload = %+v, %v", ev, err)
	}
	if got := drain(home); len(got) != 1 || got[0].Backend != "home" || got[0].Event != EventMappingChanged {
		t.Errorf("home client got %+v", got)
	}

	home.unsubscribe(Subscription{Channels: []string{EventMappingChanged}, Backends: []string{"home"}})
	if home.wants(EventMappingChanged, "home") || !home.wants(EventDispatchCompleted, "home") {
		t.Errorf("subscriptions after unsubscribe = %+v", home.subscriptions())
	}
	if subs := home.subscriptions(); len(subs) != 1 || subs[0].Channels[0] != EventDispatchCompleted || subs[0].Backends[0] != "home" {
		t.Errorf("subscriptions() = %+v", subs)
	}
}

func TestHub_FullQueueDropsEvents(t *testing.T) {
	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{}, logger, []string{"home"})

	slow := newQueueClient(hub, 1)
	slow.subscribe(Subscription{Channels: []string{EventDispatchCompleted}})

	for range 3 {
		hub.Broadcast(EventDispatchCompleted, "home", dispatchCompletedEvent{Backend: "home"})
	}
	if got := hub.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", hub.ClientCount())
	}
}
