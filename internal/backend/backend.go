package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/mqtt"
)

// Entity is a device as the backend describes it.
type Entity struct {
	ID     string  `json:"id"`
	Domain string  `json:"domain"`
	Name   string  `json:"name"`
	Area   *string `json:"area,omitempty"`
}

// Verb is a backend-native operation with an optional value parameter.
// The value sent is the command value multiplied by Scale, or Fixed when
// the command carries no value.
type Verb struct {
	Service string  `json:"service"`
	Param   string  `json:"param,omitempty"`
	Scale   float64 `json:"scale,omitempty"`
	Fixed   float64 `json:"fixed,omitempty"`
}

// Action is one resolved call against a device.
type Action struct {
	DeviceID string
	Verb     Verb
	Value    *float64
}

// ScaledValue returns the value to send, applying the verb scale.
func (a Action) ScaledValue() (float64, bool) {
	if a.Verb.Param == "" {
		return 0, false
	}
	if a.Value == nil {
		return a.Verb.Fixed, a.Verb.Fixed != 0
	}
	v := *a.Value
	if a.Verb.Scale != 0 {
		v *= a.Verb.Scale
	}
	return v, true
}

// Response carries the backend's reply to an action.
type Response struct {
	Status  int             `json:"status,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Backend is the capability set of a smart-home backend.
type Backend interface {
	ID() string
	Type() string
	FetchEntities(ctx context.Context) ([]Entity, error)
	DispatchAction(ctx context.Context, action Action) (Response, error)
	TestConnection(ctx context.Context) error
}

// Logger defines the logging interface used by backends.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NoopLogger returns a Logger that discards everything.
func NoopLogger() Logger { return noopLogger{} }

// Broker is the MQTT surface a backend may use.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	QoS() byte
	IsConnected() bool
}

// Deps are the shared resources a factory may need.
type Deps struct {
	Logger Logger
	MQTT   Broker
}

// Factory builds a backend from its configuration.
type Factory func(cfg config.BackendConfig, deps Deps) (Backend, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a backend type available to New. It panics on a
// duplicate registration.
func Register(typ string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[typ]; dup {
		panic("backend: Register called twice for type " + typ)
	}
	factories[typ] = f
}

// Types lists the registered backend types.
func Types() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for t := range factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// New builds the backend declared by cfg.
func New(cfg config.BackendConfig, deps Deps) (Backend, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
	}
	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	return f(cfg, deps)
}
