package topic

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-voice/internal/command"
	"github.com/nerrad567/gray-logic-voice/internal/device"
	"github.com/nerrad567/gray-logic-voice/internal/dispatch"
	"github.com/nerrad567/gray-logic-voice/internal/grammar"
	"github.com/nerrad567/gray-logic-voice/internal/inference"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
)

// Logger defines the logging interface used by this package.
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

// Pipeline is the per-backend half of a topic: the registry the grammar
// comes from and the executor commands go to.
type Pipeline struct {
	Registry *device.Registry
	Executor *dispatch.Executor
}

// Manager owns the topics and runs invocations.
type Manager struct {
	repo      Repository
	pipelines map[string]Pipeline
	grammars  *grammar.Provider
	engine    inference.Engine
	history   *dispatch.History
	logger    Logger
	now       func() time.Time

	mu     sync.RWMutex
	topics map[string]Topic

	listenersMu sync.RWMutex
	listeners   []func(*dispatch.Result)
}

// NewManager creates a Manager. pipelines is keyed by backend ID.
func NewManager(repo Repository, pipelines map[string]Pipeline, grammars *grammar.Provider, engine inference.Engine, history *dispatch.History) *Manager {
	return &Manager{
		repo:      repo,
		pipelines: pipelines,
		grammars:  grammars,
		engine:    engine,
		history:   history,
		logger:    noopLogger{},
		now:       time.Now,
		topics:    make(map[string]Topic),
	}
}

// SetLogger sets the logger.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// OnResult registers a listener called after every invocation completes.
func (m *Manager) OnResult(fn func(*dispatch.Result)) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Load reads persisted topics into memory.
func (m *Manager) Load(ctx context.Context) error {
	topics, err := m.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading topics: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.topics = make(map[string]Topic, len(topics))
	for _, t := range topics {
		m.topics[t.ID] = t
	}
	m.logger.Info("topics loaded", "count", len(topics))
	return nil
}

// Seed creates configured topics from configuration. Topics that already
// exist are left alone so administrative changes survive restarts.
func (m *Manager) Seed(ctx context.Context, seeds []config.TopicConfig) error {
	for _, s := range seeds {
		if _, err := m.Get(s.ID); err == nil {
			continue
		}
		if _, err := m.Create(ctx, s.ID); err != nil {
			return err
		}
		if _, err := m.Configure(ctx, s.ID, Settings{Model: s.Model, Backend: s.Backend, Prompt: s.SystemPrompt}); err != nil {
			return err
		}
		if s.Enabled {
			if _, err := m.Enable(ctx, s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// List returns all topics ordered by ID.
func (m *Manager) List() []Topic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Topic, 0, len(m.topics))
	for _, t := range m.topics {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a topic by ID.
func (m *Manager) Get(id string) (Topic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.topics[id]
	if !ok {
		return Topic{}, fmt.Errorf("%w: %s", ErrTopicNotFound, id)
	}
	return t, nil
}

// Create adds an unconfigured topic.
func (m *Manager) Create(ctx context.Context, id string) (Topic, error) {
	if err := ValidateID(id); err != nil {
		return Topic{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.topics[id]; ok {
		return Topic{}, fmt.Errorf("%w: %s", ErrTopicExists, id)
	}
	now := m.now().UTC()
	t := Topic{ID: id, State: StateUnconfigured, CreatedAt: now, UpdatedAt: now}
	return t, m.commit(ctx, t)
}

// Configure sets a topic's model, backend and prompt. An unconfigured
// topic becomes configured; other states are kept.
func (m *Manager) Configure(ctx context.Context, id string, s Settings) (Topic, error) {
	s.Model = strings.TrimSpace(s.Model)
	if s.Model == "" {
		return Topic{}, fmt.Errorf("%w: model is required", ErrInvalidTopic)
	}
	if _, ok := m.pipelines[s.Backend]; !ok {
		return Topic{}, fmt.Errorf("%w: %q", ErrUnknownBackend, s.Backend)
	}

	return m.transition(ctx, id, func(t *Topic) error {
		t.Model, t.Backend, t.Prompt = s.Model, s.Backend, s.Prompt
		if t.State == StateUnconfigured {
			t.State = StateConfigured
		}
		return nil
	})
}

// Enable allows invocations.
func (m *Manager) Enable(ctx context.Context, id string) (Topic, error) {
	return m.transition(ctx, id, func(t *Topic) error {
		if t.State == StateUnconfigured {
			return fmt.Errorf("%w: %s", ErrTopicNotConfigured, id)
		}
		t.State = StateEnabled
		return nil
	})
}

// Disable refuses further invocations.
func (m *Manager) Disable(ctx context.Context, id string) (Topic, error) {
	return m.transition(ctx, id, func(t *Topic) error {
		if t.State == StateUnconfigured {
			return fmt.Errorf("%w: %s", ErrTopicNotConfigured, id)
		}
		t.State = StateDisabled
		return nil
	})
}

// Delete removes a topic.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.topics[id]; !ok {
		return fmt.Errorf("%w: %s", ErrTopicNotFound, id)
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	delete(m.topics, id)
	m.logger.Info("topic deleted", "topic", id)
	return nil
}

// transition applies fn to a copy of the topic and commits it.
func (m *Manager) transition(ctx context.Context, id string, fn func(*Topic) error) (Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topics[id]
	if !ok {
		return Topic{}, fmt.Errorf("%w: %s", ErrTopicNotFound, id)
	}
	prev := t.State
	if err := fn(&t); err != nil {
		return Topic{}, err
	}
	t.UpdatedAt = m.now().UTC()
	if err := m.commit(ctx, t); err != nil {
		return Topic{}, err
	}
	if prev != t.State {
		m.logger.Info("topic state changed", "topic", id, "from", prev, "to", t.State)
	}
	return t, nil
}

// commit persists then publishes t. Caller holds m.mu.
func (m *Manager) commit(ctx context.Context, t Topic) error {
	if err := m.repo.Save(ctx, &t); err != nil {
		return err
	}
	m.topics[t.ID] = t
	return nil
}

// Invoke runs one utterance through the topic's pipeline.
//
// The returned result is non-nil whenever the topic accepted the
// invocation, including pipeline failures, which are also returned as the
// error: command.ErrMalformedOutput, command.ErrUnrecognized,
// command.ErrGrammarViolation, dispatch.ErrUnresolved, dispatch.ErrNoVerb,
// dispatch.ErrDispatchFailed or an inference error.
//
// Refusals return a nil result: ErrTopicNotFound, ErrTopicNotConfigured,
// ErrTopicDisabled, ErrEmptyPrompt.
func (m *Manager) Invoke(ctx context.Context, id, text string) (*dispatch.Result, error) {
	t, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	switch t.State {
	case StateEnabled:
	case StateUnconfigured:
		return nil, fmt.Errorf("%w: %s", ErrTopicNotConfigured, id)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrTopicDisabled, id, t.State)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyPrompt
	}
	p, ok := m.pipelines[t.Backend]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, t.Backend)
	}

	// Runs to completion, success or timeout regardless of the caller.
	ctx = context.WithoutCancel(ctx)

	res := &dispatch.Result{
		ID:        dispatch.NewInvocationID(),
		Topic:     t.ID,
		Backend:   t.Backend,
		Prompt:    text,
		StartedAt: m.now(),
	}
	err = m.run(ctx, t, p, text, res)
	res.Finish(err, m.now())
	m.record(res)
	return res, err
}

func (m *Manager) run(ctx context.Context, t Topic, p Pipeline, text string, res *dispatch.Result) error {
	start := m.now()
	doc, err := m.grammars.Document(ctx, p.Registry.Snapshot())
	res.Timings.Grammar = m.now().Sub(start)
	if err != nil {
		return err
	}
	res.GrammarRevision = doc.Revision

	start = m.now()
	raw, err := m.engine.Complete(ctx, inference.Request{
		Model:   t.Model,
		Grammar: doc.Text,
		System:  t.Prompt,
		Prompt:  text,
	})
	res.Timings.Inference = m.now().Sub(start)
	if err != nil {
		return err
	}
	res.RawOutput = raw

	start = m.now()
	cmd, err := command.Parse(raw, doc)
	if err == nil {
		err = m.revalidate(ctx, p, cmd, doc)
	}
	res.Timings.Parse = m.now().Sub(start)
	if err != nil {
		return err
	}

	return p.Executor.Execute(ctx, cmd, res)
}

// revalidate checks cmd against the current grammar when the registry moved
// during inference. A pair that is no longer eligible must not fall through
// to the legacy or default resolvers.
func (m *Manager) revalidate(ctx context.Context, p Pipeline, cmd command.Command, doc *grammar.Document) error {
	snap := p.Registry.Snapshot()
	if snap.Revision() == doc.Revision {
		return nil
	}
	cur, err := m.grammars.Document(ctx, snap)
	if err != nil {
		return err
	}
	return command.Validate(cmd, cur)
}

func (m *Manager) record(res *dispatch.Result) {
	m.history.Add(res)

	args := []any{
		"id", res.ID,
		"topic", res.Topic,
		"backend", res.Backend,
		"outcome", res.Outcome,
		"grammar_revision", res.GrammarRevision,
		"total_ms", res.Timings.Total.Milliseconds(),
	}
	if res.MappingSource != "" {
		args = append(args, "device_id", res.DeviceID, "mapping_source", res.MappingSource)
	}
	switch res.Outcome {
	case dispatch.OutcomeSuccess:
		m.logger.Info("command executed", args...)
	case dispatch.OutcomeUnrecognized:
		m.logger.Info("command not recognized", args...)
	default:
		m.logger.Warn("command failed", append(args, "error", res.Error)...)
	}

	m.listenersMu.RLock()
	listeners := m.listeners
	m.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(res)
	}
}
