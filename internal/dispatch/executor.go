package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-voice/internal/backend"
	"github.com/nerrad567/gray-logic-voice/internal/command"
)

// defaultTimeout bounds backend calls when none is configured.
const defaultTimeout = 10 * time.Second

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

// Executor resolves and dispatches commands for one backend.
type Executor struct {
	backend  backend.Backend
	resolver *Resolver
	verbs    VerbTable
	timeout  time.Duration
	logger   Logger
	now      func() time.Time
}

// NewExecutor creates an Executor. A non-positive timeout uses the default.
func NewExecutor(b backend.Backend, resolver *Resolver, verbs VerbTable, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Executor{
		backend:  b,
		resolver: resolver,
		verbs:    verbs,
		timeout:  timeout,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger.
func (e *Executor) SetLogger(logger Logger) {
	e.logger = logger
}

// Backend returns the backend the executor dispatches to.
func (e *Executor) Backend() backend.Backend { return e.backend }

// Execute resolves cmd, maps its verb and calls the backend.
//
// The resolution, verb and timings are recorded on res even when a later
// step fails, so a failed dispatch still reports its mapping source.
//
// Returns:
//   - ErrUnresolved when no strategy matches
//   - ErrNoVerb when the action has no backend verb
//   - *DispatchError (ErrDispatchFailed) when the backend call fails
func (e *Executor) Execute(ctx context.Context, cmd command.Command, res *Result) error {
	res.Backend = e.backend.ID()
	res.Command = &cmd
	res.GrammarRevision = cmd.GrammarRevision

	start := e.now()
	resolution, err := e.resolver.Resolve(ctx, cmd)
	res.Timings.Resolve = e.now().Sub(start)
	if err != nil {
		return err
	}
	res.DeviceID = resolution.DeviceID
	res.MappingSource = resolution.Source

	verb, err := e.verbs.Lookup(cmd.DeviceType, cmd.Action)
	if err != nil {
		return err
	}
	res.Verb = &verb

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start = e.now()
	resp, err := e.backend.DispatchAction(callCtx, backend.Action{
		DeviceID: resolution.DeviceID,
		Verb:     verb,
		Value:    cmd.Value,
	})
	res.Timings.Backend = e.now().Sub(start)

	if err != nil {
		de := &DispatchError{
			Cause:         classify(callCtx, err),
			DeviceID:      resolution.DeviceID,
			MappingSource: resolution.Source,
			Err:           err,
		}
		e.logger.Warn("backend dispatch failed",
			"backend", res.Backend,
			"device_id", de.DeviceID,
			"mapping_source", de.MappingSource,
			"cause", de.Cause,
			"error", err,
		)
		return de
	}

	res.Response = resp.Payload
	e.logger.Debug("command dispatched",
		"backend", res.Backend,
		"device_id", resolution.DeviceID,
		"mapping_source", resolution.Source,
		"service", verb.Service,
		"backend_ms", res.Timings.Backend.Milliseconds(),
	)
	return nil
}

func classify(ctx context.Context, err error) Cause {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return CauseTimeout
	case errors.Is(err, backend.ErrRejected):
		return CauseRejected
	case errors.Is(err, backend.ErrUnavailable):
		return CauseConnectivity
	default:
		return CauseError
	}
}
