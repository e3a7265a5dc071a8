package api

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/nerrad567/gray-logic-voice/internal/audit"
	"github.com/nerrad567/gray-logic-voice/internal/backend"
	"github.com/nerrad567/gray-logic-voice/internal/device"
	"github.com/nerrad567/gray-logic-voice/internal/dispatch"
	"github.com/nerrad567/gray-logic-voice/internal/grammar"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-voice/internal/topic"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Backend is one configured backend as seen by the API: its client and
// the mapping registry for its devices.
type Backend struct {
	Client   backend.Backend
	Registry *device.Registry
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Backends  map[string]Backend
	Topics    *topic.Manager
	Grammars  *grammar.Provider
	History   *dispatch.History
	AuditRepo audit.Repository // optional
	Version   string
}

// Server is the admin HTTP API server.
type Server struct {
	cfg       config.APIConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	backends  map[string]Backend
	topics    *topic.Manager
	grammars  *grammar.Provider
	history   *dispatch.History
	auditRepo audit.Repository
	auditCh   chan *audit.AuditLog
	version   string
	validate  *validator.Validate
	limiter   *rateLimiter
	tickets   *ticketStore
	hub       *Hub
	startTime time.Time
	server    *http.Server
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server and subscribes it to registry, grammar and
// dispatch events. The server is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Topics == nil || deps.Grammars == nil || deps.History == nil {
		return nil, fmt.Errorf("topics, grammars and history are required")
	}

	s := &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		backends:  deps.Backends,
		topics:    deps.Topics,
		grammars:  deps.Grammars,
		history:   deps.History,
		auditRepo: deps.AuditRepo,
		version:   deps.Version,
		validate:  newValidator(),
		tickets:   newTicketStore(),
		hub:       NewHub(deps.WS, deps.Logger, slices.Collect(maps.Keys(deps.Backends))),
		startTime: time.Now(),
	}
	if deps.AuditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}
	if rl := deps.Security.RateLimit; rl.Enabled {
		s.limiter = newRateLimiter(rl.RequestsPerMinute, rl.Burst)
	}
	s.subscribeEvents()
	return s, nil
}

// Start begins listening for HTTP connections in a background goroutine.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)
	if s.auditCh != nil {
		go s.drainAuditLog(srvCtx)
	}
	if s.limiter != nil {
		go s.limiter.sweepLoop(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// backendIDs returns the configured backend IDs in order.
func (s *Server) backendIDs() []string {
	ids := make([]string, 0, len(s.backends))
	for id := range s.backends {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
