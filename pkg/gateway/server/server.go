// Package server assembles the HTTP mux and middleware chain.
package server

import (
	"log/slog"
	"net/http"

	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/tap"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/bridge/transport"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/gateway/config"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/gateway/handlers"
	"github.com/tlcmonkshawn/gemini-3-exploration/pkg/gateway/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	opener transport.DeepOpener
	dialer transport.DuplexDialer
	tap    tap.Tap
}

func New(cfg config.Config, logger *slog.Logger, opener transport.DeepOpener, dialer transport.DuplexDialer, t tap.Tap) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if t == nil {
		t = tap.Noop{}
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		opener: opener,
		dialer: dialer,
		tap:    t,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/", handlers.RootHandler{})
	s.mux.Handle("/health", handlers.HealthHandler{})

	s.mux.Handle("/api/deep/chat", handlers.DeepChatHandler{
		Config: s.cfg,
		Opener: s.opener,
		Tap:    s.tap,
		Logger: s.logger,
	})
	s.mux.Handle("/ws/live", handlers.LiveHandler{
		Config: s.cfg,
		Dialer: s.dialer,
		Tap:    s.tap,
		Logger: s.logger,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
