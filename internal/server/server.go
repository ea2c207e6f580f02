package server

// Package server wires the authorization subsystem together and exposes it
// over HTTP: operation checks, approval resolution, gate administration,
// PIN management, and the kill switch. Resuming from a kill is deliberately
// absent from this surface; it is reachable only through the CLI.

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aeonsage/aeonsage/internal/audit"
	"github.com/aeonsage/aeonsage/internal/auth"
	"github.com/aeonsage/aeonsage/internal/config"
	"github.com/aeonsage/aeonsage/internal/events"
	"github.com/aeonsage/aeonsage/internal/gate"
	"github.com/aeonsage/aeonsage/internal/killswitch"
	"github.com/aeonsage/aeonsage/internal/store"
)

// Server is the aeonsaged HTTP server and component container.
type Server struct {
	config *config.Config
	logger *zap.Logger

	// Core components
	gates   *gate.Manager
	pins    *auth.PinAuthenticator
	kill    *killswitch.Switch
	bus     *events.Bus
	auditor audit.Logger
	history *store.SQLiteHistory

	gateStore *store.FileGateStore

	// HTTP server
	httpServer *http.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// State
	mu      sync.RWMutex
	running bool
}

// NewServer builds the full component graph from configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	srv := &Server{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := srv.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return srv, nil
}

// initializeComponents initializes all server components
func (s *Server) initializeComponents() error {
	cfg := s.config
	dataDir := cfg.Storage.DataDir

	s.bus = events.NewBus()

	auditor, err := audit.NewLogger(&audit.Config{
		Path:       cfg.Audit.Path,
		MaxSize:    cfg.Audit.MaxSizeMB,
		MaxBackups: cfg.Audit.MaxBackups,
		MaxAge:     cfg.Audit.MaxAgeDays,
		Compress:   cfg.Audit.Compress,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	s.auditor = auditor

	history, err := store.NewSQLiteHistory(filepath.Join(dataDir, cfg.Storage.HistoryDB))
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	s.history = history

	killStore := store.NewFileKillStateStore(filepath.Join(dataDir, cfg.Storage.KillSwitchFile))
	kill, err := killswitch.New(s.ctx, killStore, nil, s.logger, s.bus)
	if err != nil {
		return fmt.Errorf("failed to initialize kill switch: %w", err)
	}
	s.kill = kill

	s.gateStore = store.NewFileGateStore(filepath.Join(dataDir, cfg.Storage.GatesFile), s.logger)
	gates, err := gate.NewManager(s.ctx, gate.Options{
		Store:           s.gateStore,
		Kill:            kill,
		History:         history,
		Bus:             s.bus,
		Logger:          s.logger,
		ApprovalTimeout: time.Duration(cfg.Approval.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize gate manager: %w", err)
	}
	s.gates = gates

	pinStore := store.NewFilePinStore(filepath.Join(dataDir, cfg.Storage.PinFile))
	s.pins = auth.NewPinAuthenticator(pinStore, nil, s.logger)

	return nil
}

// Start starts the server
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Background workers: audit trail from the event bus, gates-file watch.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.auditFromBus()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.gateStore.Watch(s.ctx, func() {
			if err := s.gates.ReloadFromStore(s.ctx); err != nil {
				s.logger.Warn("failed to reload gates after file change", zap.Error(err))
			}
		})
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("http server listening",
			zap.Int("port", s.config.Server.Port),
			zap.Bool("tls", s.config.Server.TLSEnabled),
		)
		var err error
		if s.config.Server.TLSEnabled {
			err = s.httpServer.ListenAndServeTLS(s.config.Server.TLSCertPath, s.config.Server.TLSKeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()

	_ = s.auditor.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
		WithResult(audit.ResultSuccess).
		WithDescription("aeonsaged started"))

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("stopping server")

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("error shutting down http server", zap.Error(err))
		}
	}

	_ = s.auditor.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown).
		WithResult(audit.ResultSuccess).
		WithDescription("aeonsaged stopped"))

	s.cancel()
	s.bus.Close()
	s.wg.Wait()

	if err := s.auditor.Close(); err != nil {
		s.logger.Warn("error closing audit logger", zap.Error(err))
	}
	if err := s.history.Close(); err != nil {
		s.logger.Warn("error closing history database", zap.Error(err))
	}

	s.logger.Info("server stopped")
	return nil
}

// Wait blocks until the server is stopped
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// auditFromBus translates bus events into append-only audit records. It runs
// until the bus closes.
func (s *Server) auditFromBus() {
	ch, cancel := s.bus.Subscribe(64)
	defer cancel()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			s.auditEvent(ev)
		}
	}
}

func (s *Server) auditEvent(ev events.Event) {
	ctx := s.ctx
	str := func(key string) string {
		v, _ := ev.Data[key].(string)
		return v
	}
	switch ev.Type {
	case events.ThreatDetected:
		score, _ := ev.Data["score"].(int)
		_ = s.auditor.LogThreatDetected(ctx, str("operation"), str("max_level"), score)
	case events.ApprovalRequested:
		_ = s.auditor.LogApprovalRequested(ctx, str("request_id"), str("operation"), str("gate_id"))
	case events.ApprovalGranted:
		_ = s.auditor.LogApprovalResolved(ctx, str("request_id"), str("operation"), "approved", str("by"))
	case events.ApprovalDenied:
		_ = s.auditor.LogApprovalResolved(ctx, str("request_id"), str("operation"), "denied", str("by"))
	case events.ApprovalExpired:
		_ = s.auditor.LogApprovalResolved(ctx, str("request_id"), str("operation"), "expired", "")
	case events.GateUpdated:
		_ = s.auditor.LogGateUpdated(ctx, str("gate_id"))
	case events.KillActivated:
		_ = s.auditor.LogKillActivated(ctx, str("reason"), str("by"))
	case events.KillCleared:
		_ = s.auditor.LogKillCleared(ctx)
	}
}

// registerHandlers registers HTTP handlers
func (s *Server) registerHandlers(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("/healthz", s.handleHealth)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	// Operation authorization
	mux.HandleFunc("/api/v1/operations/check", s.handleOperationCheck)

	// Approval lifecycle
	mux.HandleFunc("/api/v1/approvals", s.handleApprovals)
	mux.HandleFunc("/api/v1/approvals/", s.routeApproval)

	// Gate administration
	mux.HandleFunc("/api/v1/gates", s.handleGates)
	mux.HandleFunc("/api/v1/gates/export", s.handleGatesExport)
	mux.HandleFunc("/api/v1/gates/import", s.handleGatesImport)
	mux.HandleFunc("/api/v1/gates/", s.routeGate)

	// PIN credential
	mux.HandleFunc("/api/v1/auth/pin", s.handlePin)
	mux.HandleFunc("/api/v1/auth/pin/verify", s.handlePinVerify)
	mux.HandleFunc("/api/v1/auth/pin/change", s.handlePinChange)

	// Kill switch. No resume route: clearing the switch is CLI-only.
	mux.HandleFunc("/api/v1/killswitch", s.handleKillSwitchState)
	mux.HandleFunc("/api/v1/killswitch/kill", s.handleKill)

	// Decision history
	mux.HandleFunc("/api/v1/history/decisions", s.handleRecentDecisions)

	// Event stream
	mux.HandleFunc("/ws/events", s.handleWebSocket)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.history.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"kill_switch": s.kill.Killed(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}
