package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/biolock-core/internal/audit"
	"github.com/nerrad567/biolock-core/internal/auth"
	"github.com/nerrad567/biolock-core/internal/device"
	"github.com/nerrad567/biolock-core/internal/infrastructure/config"
	"github.com/nerrad567/biolock-core/internal/infrastructure/logging"
	"github.com/nerrad567/biolock-core/internal/orchestrator"
	"github.com/nerrad567/biolock-core/internal/slot"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Commands is the orchestrator surface the command and user handlers drive.
type Commands interface {
	Send(ctx context.Context, t orchestrator.Target, cmd string, payload any) orchestrator.Result
	Enroll(ctx context.Context, t orchestrator.Target, ownerID string) orchestrator.Result
	DeleteSlot(ctx context.Context, t orchestrator.Target, ownerID string, number int) orchestrator.Result
	EmergencyLock(ctx context.Context, caller orchestrator.Caller, t orchestrator.Target) orchestrator.Result
	DeleteOwner(ctx context.Context, ownerID string, t *orchestrator.Target) orchestrator.Result
}

// Devices is the device registry surface used by the onboarding endpoints.
type Devices interface {
	Register(ctx context.Context, deviceID, key string) error
	Describe() []device.Info
}

// Slots is the read and repair surface of the slot allocator.
type Slots interface {
	List(ctx context.Context) ([]slot.Slot, error)
	ListByOwner(ctx context.Context, ownerID string) ([]slot.Slot, error)
	Reconcile(ctx context.Context) (slot.Report, error)
}

// HealthCheckFunc reports whether a dependency is usable.
type HealthCheckFunc func(ctx context.Context) error

// ConnectionStatus reports transport connectivity for /metrics.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Commands Commands
	Users    auth.UserRepository
	Devices  Devices
	Slots    Slots

	// Optional.
	Audit        audit.Repository
	MQTT         ConnectionStatus
	HealthChecks map[string]HealthCheckFunc
	ExternalHub  *Hub // If set, the server uses this hub instead of creating its own
	Version      string
}

// Server is the HTTP API server for Biolock Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	secCfg       config.SecurityConfig
	logger       *logging.Logger
	commands     Commands
	users        auth.UserRepository
	devices      Devices
	slots        Slots
	auditRepo    audit.Repository
	auditCh      chan *audit.Entry
	mqtt         ConnectionStatus
	healthChecks map[string]HealthCheckFunc
	version      string
	startTime    time.Time
	tickets      *ticketStore
	limiter      *clientLimiter
	server       *http.Server
	hub          *Hub
	cancel       context.CancelFunc // cancels background goroutines on Close()
	done         chan struct{}      // closed when the audit drain has finished
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command orchestrator is required")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Slots == nil {
		return nil, fmt.Errorf("slot allocator is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		secCfg:       deps.Security,
		logger:       deps.Logger,
		commands:     deps.Commands,
		users:        deps.Users,
		devices:      deps.Devices,
		slots:        deps.Slots,
		auditRepo:    deps.Audit,
		mqtt:         deps.MQTT,
		healthChecks: deps.HealthChecks,
		version:      deps.Version,
		startTime:    time.Now(),
		tickets:      newTicketStore(),
		hub:          deps.ExternalHub,
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	if rl := deps.Security.RateLimit; rl.Enabled {
		s.limiter = newClientLimiter(rl.RequestsPerMinute, rl.Burst)
	}
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless one was injected), the ticket and
// rate-limiter cleanup loops and the audit writer, then launches the HTTP
// listener in a background goroutine. The server can be stopped with
// Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(srvCtx)
	}

	go s.cleanTicketsLoop(srvCtx)
	if s.limiter != nil {
		go s.limiter.cleanLoop(srvCtx)
	}

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if s.auditCh != nil {
			s.drainAuditLog(srvCtx)
		}
	}()

	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = s.server.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// flushes queued audit entries.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// Hub returns the WebSocket hub, or nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
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
