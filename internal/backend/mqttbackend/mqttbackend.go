// Package mqttbackend implements backend.Backend over the MQTT bus.
//
// Devices announce themselves with retained JSON messages on
// graylogic/discovery/{protocol}/{id}. Discovery subscribes to the wildcard
// for a short window and collects what the broker replays. Actions are
// published to graylogic/command/{protocol}/{id}.
package mqttbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-voice/internal/backend"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/mqtt"
)

// Type is the backend type this package registers.
const Type = "mqtt"

const defaultDiscoveryWindow = 2 * time.Second

func init() {
	backend.Register(Type, New)
}

// Announcement is the retained discovery payload of one device.
type Announcement struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Area   string `json:"area,omitempty"`
}

// CommandMessage is published to a device's command topic.
type CommandMessage struct {
	Service string   `json:"service"`
	Param   string   `json:"param,omitempty"`
	Value   *float64 `json:"value,omitempty"`
	SentAt  string   `json:"sent_at"`
}

// Backend dispatches over MQTT.
type Backend struct {
	id       string
	protocol string
	window   time.Duration
	broker   backend.Broker
	logger   backend.Logger

	// discoveryMu serialises discovery rounds on the shared wildcard.
	discoveryMu sync.Mutex
}

// New builds an MQTT backend. deps.MQTT is required.
func New(cfg config.BackendConfig, deps backend.Deps) (backend.Backend, error) {
	if deps.MQTT == nil {
		return nil, fmt.Errorf("%w: mqtt backend %s needs an MQTT connection", backend.ErrMissingDependency, cfg.ID)
	}
	protocol := cfg.Protocol
	if protocol == "" {
		protocol = cfg.ID
	}
	window := time.Duration(cfg.DiscoveryWindow) * time.Millisecond
	if window <= 0 {
		window = defaultDiscoveryWindow
	}
	logger := deps.Logger
	if logger == nil {
		logger = backend.NoopLogger()
	}
	return &Backend{
		id:       cfg.ID,
		protocol: protocol,
		window:   window,
		broker:   deps.MQTT,
		logger:   logger,
	}, nil
}

func (b *Backend) ID() string   { return b.id }
func (b *Backend) Type() string { return Type }

// TestConnection reports whether the broker connection is up.
func (b *Backend) TestConnection(_ context.Context) error {
	if !b.broker.IsConnected() {
		return fmt.Errorf("%w: mqtt broker not connected", backend.ErrUnavailable)
	}
	return nil
}

// FetchEntities collects retained announcements for the discovery window.
func (b *Backend) FetchEntities(ctx context.Context) ([]backend.Entity, error) {
	b.discoveryMu.Lock()
	defer b.discoveryMu.Unlock()

	var (
		mu    sync.Mutex
		found = make(map[string]backend.Entity)
	)
	topic := mqtt.Topics{}.AllDiscovery(b.protocol)

	handler := func(topic string, payload []byte) error {
		if len(payload) == 0 {
			return nil // cleared retained message
		}
		var a Announcement
		if err := json.Unmarshal(payload, &a); err != nil {
			return fmt.Errorf("decoding announcement on %s: %w", topic, err)
		}
		if a.ID == "" {
			return fmt.Errorf("announcement on %s has no id", topic)
		}
		e := backend.Entity{ID: a.ID, Domain: a.Domain, Name: a.Name}
		if e.Name == "" {
			e.Name = a.ID
		}
		if a.Area != "" {
			area := a.Area
			e.Area = &area
		}
		mu.Lock()
		found[a.ID] = e
		mu.Unlock()
		return nil
	}

	if err := b.broker.Subscribe(topic, b.broker.QoS(), handler); err != nil {
		return nil, fmt.Errorf("%w: subscribing to %s: %v", backend.ErrUnavailable, topic, err)
	}
	defer func() {
		if err := b.broker.Unsubscribe(topic); err != nil {
			b.logger.Warn("unsubscribing discovery topic failed", "topic", topic, "error", err)
		}
	}()

	timer := time.NewTimer(b.window)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	entities := make([]backend.Entity, 0, len(found))
	for _, e := range found {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })

	b.logger.Debug("mqtt discovery complete", "backend", b.id, "entities", len(entities))
	return entities, nil
}

// DispatchAction publishes the command. Success means the broker accepted
// it; device-side acknowledgement is not awaited.
func (b *Backend) DispatchAction(ctx context.Context, action backend.Action) (backend.Response, error) {
	msg := CommandMessage{
		Service: action.Verb.Service,
		Param:   action.Verb.Param,
		SentAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if v, ok := action.ScaledValue(); ok {
		msg.Value = &v
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return backend.Response{}, fmt.Errorf("encoding command: %w", err)
	}

	topic := mqtt.Topics{}.Command(b.protocol, action.DeviceID)
	if err := b.broker.Publish(ctx, topic, payload, b.broker.QoS(), false); err != nil {
		if ctx.Err() != nil {
			return backend.Response{}, fmt.Errorf("publishing to %s: %w", topic, ctx.Err())
		}
		return backend.Response{}, fmt.Errorf("%w: publishing to %s: %v", backend.ErrUnavailable, topic, err)
	}
	return backend.Response{Payload: payload}, nil
}
