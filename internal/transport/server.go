// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Accountd Contributors

// Package transport exposes the command engine over a JSON HTTP
// endpoint. Each request carries one command envelope; the engine runs
// inside a single database transaction that commits only when the
// response is not error-shaped.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/accountd/accountd/internal/engine"
	"github.com/accountd/accountd/internal/fault"
	"github.com/accountd/accountd/internal/identity"
	"github.com/accountd/accountd/internal/observability"
	"github.com/accountd/accountd/internal/session"
	"github.com/accountd/accountd/internal/storage"
)

// maxBodyBytes bounds a command envelope.
const maxBodyBytes = 1 << 20

// SessionResolver resolves a bearer token to a live session.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*session.Session, error)
}

// Transactor runs a function inside one database transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Server serves the command endpoint.
type Server struct {
	engine   *engine.Engine
	sessions SessionResolver
	accounts identity.AccountRepository
	tx       Transactor
	metrics  *observability.Metrics
	logger   *slog.Logger

	addr       string
	listener   net.Listener
	httpServer *http.Server
	router     chi.Router
	running    atomic.Bool
}

// Config wires a Server.
type Config struct {
	Addr     string
	Engine   *engine.Engine
	Sessions SessionResolver
	Accounts identity.AccountRepository
	Tx       Transactor
	// Metrics is optional; nil disables request counting.
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewServer creates the command endpoint server.
func NewServer(cfg Config) (*Server, error) {
	switch {
	case cfg.Engine == nil:
		return nil, errors.New("transport: nil engine")
	case cfg.Sessions == nil:
		return nil, errors.New("transport: nil session resolver")
	case cfg.Accounts == nil:
		return nil, errors.New("transport: nil account repository")
	case cfg.Tx == nil:
		return nil, errors.New("transport: nil transactor")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		engine:   cfg.Engine,
		sessions: cfg.Sessions,
		accounts: cfg.Accounts,
		tx:       cfg.Tx,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		addr:     cfg.Addr,
	}

	r := chi.NewRouter()
	r.Post("/v1/command", s.handleCommand)
	s.router = r
	return s, nil
}

// ServeHTTP makes the server mountable in tests and larger muxes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins serving. The returned channel reports serve errors and
// closes on graceful shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("command server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("command server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("command server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_command_server").Wrap(err)
		}
	}
	s.logger.Info("command server stopped")
	return nil
}

// Addr returns the bound address, or empty when not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeFailure(w, "", fault.New(fault.CodeProtocolError).
			Wrapf(err, "unreadable request body"))
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.writeFailure(w, "", fault.New(fault.CodeProtocolError).
			Wrapf(err, "malformed envelope"))
		return
	}

	requestID := env.RequestID
	if requestID == "" {
		requestID = ulid.Make().String()
	}

	cmd, err := DecodeCommand(env.Command, env.Payload)
	if err != nil {
		s.writeFailure(w, requestID, err)
		return
	}

	ec := &engine.Context{
		RequestID:       requestID,
		RemoteHost:      remoteHost(r),
		UserAgent:       r.UserAgent(),
		ProtocolVersion: env.ProtocolVersion,
	}

	if token := bearerToken(r); token != "" {
		sess, err := s.sessions.Resolve(ctx, token)
		if err != nil {
			s.writeFailure(w, requestID, err)
			return
		}
		principal, err := s.accounts.GetByID(ctx, sess.AccountID)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				s.writeFailure(w, requestID, fault.New(fault.CodeAuthentication).
					Errorf("invalid session"))
				return
			}
			s.writeFailure(w, requestID, err)
			return
		}
		ec.Principal = principal
		ec.SessionID = sess.ID
	}

	var resp engine.Response
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		resp = s.engine.Execute(ctx, ec, cmd)
		if engine.IsError(resp) {
			return storage.ErrRollback
		}
		return nil
	})
	if err != nil {
		// Transaction infrastructure failed; the command outcome is
		// unknown and must read as a server fault.
		s.logger.ErrorContext(ctx, "transaction failed",
			"request_id", requestID, "command", cmd.Name(), "error", err)
		resp = engine.Failure(requestID, err)
	}

	status, reply := EncodeResponse(requestID, resp)
	s.writeReply(w, status, reply)
}

func (s *Server) writeFailure(w http.ResponseWriter, requestID string, err error) {
	status, reply := EncodeResponse(requestID, engine.Failure(requestID, err))
	s.writeReply(w, status, reply)
}

func (s *Server) writeReply(w http.ResponseWriter, status int, reply Reply) {
	if s.metrics != nil {
		s.metrics.RequestsTotal.WithLabelValues("command", strconv.Itoa(status)).Inc()
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

// bearerToken extracts the session token from the Authorization
// header. A missing or non-bearer header means an anonymous request.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return auth[len(prefix):]
	}
	return ""
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
