// Package httpapi is the HTTP boundary: request decoding, the
// validation gate, skip/take clamping, and error-to-status mapping all
// live here so the dispatch core never sees a malformed request.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"courier/internal/dispatch"
	"courier/internal/registry"
	logx "courier/pkg/logx"

	"github.com/go-playground/validator/v10"
)

const defaultMaxTake = 100

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// MaxTake caps the page size accepted on /emails. 0 means 100.
	MaxTake int
}

type Server struct {
	cfg        Config
	log        logx.Logger
	dispatcher *dispatch.Dispatcher
	history    *dispatch.History
	contacts   *registry.Service
	validate   *validator.Validate

	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, dispatcher *dispatch.Dispatcher, history *dispatch.History, contacts *registry.Service, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.MaxTake <= 0 {
		cfg.MaxTake = defaultMaxTake
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	// WriteTimeout must also cover the inline SMTP send, which blocks
	// the handler until the relay answers.
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 45 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{
		cfg:        cfg,
		log:        log.With(logx.String("comp", "http")),
		dispatcher: dispatcher,
		history:    history,
		contacts:   contacts,
		validate:   validator.New(),
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /contacts/{id}/email", s.handleEmailContact)
	mux.HandleFunc("GET /emails", s.handleFindEmails)
	mux.HandleFunc("POST /contacts", s.handleCreateContact)
	mux.HandleFunc("GET /contacts", s.handleListContacts)
	mux.HandleFunc("GET /contacts/{id}", s.handleGetContact)
	mux.HandleFunc("DELETE /contacts/{id}", s.handleDeleteContact)
	mux.HandleFunc("POST /admin/reset", s.handleReset)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http server exited", logx.Err(err))
		}
	}()
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address (useful when Addr had port 0).
func (s *Server) Addr() string {
	if s.ln == nil {
		return s.cfg.Addr
	}
	return s.ln.Addr().String()
}

func (s *Server) Stop(ctx context.Context) {
	if s.srv == nil {
		return
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
	}
	s.srv = nil
	s.ln = nil
}
