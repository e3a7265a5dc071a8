package homeassistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-voice/internal/backend"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
)

// Type is the backend type this package registers.
const Type = "homeassistant"

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 8 << 20

// areaTemplate renders "entity_id=area" per line.
const areaTemplate = `{% for s in states %}{{ s.entity_id }}={{ area_name(s.entity_id) }}
{% endfor %}`

func init() {
	backend.Register(Type, New)
}

// Client talks to one Home Assistant instance.
type Client struct {
	id      string
	baseURL string
	token   string
	http    *http.Client
	logger  backend.Logger
}

// New builds a Client from backend configuration.
func New(cfg config.BackendConfig, deps backend.Deps) (backend.Backend, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("homeassistant backend %s: url is required", cfg.ID)
	}
	logger := deps.Logger
	if logger == nil {
		logger = backend.NoopLogger()
	}
	return &Client{
		id:      cfg.ID,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		logger:  logger,
	}, nil
}

func (c *Client) ID() string   { return c.id }
func (c *Client) Type() string { return Type }

// TestConnection checks that the API answers and accepts the token.
func (c *Client) TestConnection(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/", nil)
	return err
}

type haState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// FetchEntities lists controllable entities with their areas.
func (c *Client) FetchEntities(ctx context.Context) ([]backend.Entity, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/states", nil)
	if err != nil {
		return nil, err
	}
	var states []haState
	if err := json.Unmarshal(body, &states); err != nil {
		return nil, fmt.Errorf("decoding states: %w", err)
	}

	areas, err := c.fetchAreas(ctx)
	if err != nil {
		c.logger.Warn("area lookup failed, continuing without areas", "backend", c.id, "error", err)
	}

	entities := make([]backend.Entity, 0, len(states))
	skipped := 0
	for _, s := range states {
		e, ok := normalize(s)
		if !ok {
			skipped++
			continue
		}
		if area, ok := areas[e.ID]; ok {
			e.Area = &area
		}
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	c.logger.Debug("entities fetched", "backend", c.id, "entities", len(entities), "skipped", skipped)
	return entities, nil
}

// fetchAreas maps entity IDs to area names via the template endpoint.
func (c *Client) fetchAreas(ctx context.Context) (map[string]string, error) {
	payload, err := json.Marshal(map[string]string{"template": areaTemplate})
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodPost, "/api/template", payload)
	if err != nil {
		return nil, err
	}

	areas := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		id, area, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok || id == "" || area == "" || area == "None" {
			continue
		}
		areas[id] = area
	}
	return areas, sc.Err()
}

// DispatchAction calls the verb's service for the device.
func (c *Client) DispatchAction(ctx context.Context, action backend.Action) (backend.Response, error) {
	domain, service, ok := strings.Cut(action.Verb.Service, ".")
	if !ok {
		// Bare service names run in the entity's own domain.
		domain, _, _ = strings.Cut(action.DeviceID, ".")
		service = action.Verb.Service
	}
	if domain == "" || service == "" {
		return backend.Response{}, fmt.Errorf("%w: invalid service %q", backend.ErrRejected, action.Verb.Service)
	}

	data := map[string]any{"entity_id": action.DeviceID}
	if v, ok := action.ScaledValue(); ok {
		data[action.Verb.Param] = v
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return backend.Response{}, fmt.Errorf("encoding service data: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/api/services/"+domain+"/"+service, payload)
	if err != nil {
		return backend.Response{}, err
	}
	return backend.Response{Status: http.StatusOK, Payload: json.RawMessage(body)}, nil
}

// do performs one authenticated request and classifies failures.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s %s: %v", backend.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", backend.ErrUnavailable, path, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %s %s: status %d", backend.ErrUnavailable, method, path, resp.StatusCode)
	default:
		return nil, &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: truncate(string(data), 200)}
	}
}

// StatusError is a 4xx response. It unwraps to backend.ErrRejected.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("homeassistant: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error { return backend.ErrRejected }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
