package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/splitpage/splitpage/internal/experiment"
	"github.com/splitpage/splitpage/internal/store"
	"go.uber.org/zap"
)

type Server struct {
	store     *store.SQLiteStore
	engine    *experiment.Engine
	port      int
	token     string
	tokenFile string
	router    *http.ServeMux
	log       *zap.Logger
	startTime time.Time
}

func New(s *store.SQLiteStore, engine *experiment.Engine, port int, tokenFile string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	srv := &Server{
		store:     s,
		engine:    engine,
		port:      port,
		token:     generateToken(),
		tokenFile: tokenFile,
		router:    http.NewServeMux(),
		log:       log,
		startTime: time.Now(),
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Public endpoints
	s.router.HandleFunc("/health", s.handleHealth)
	s.router.HandleFunc("/b", s.handleBeacon)
	s.router.HandleFunc("/resolve", s.handleResolve)
	s.router.HandleFunc("/apply", s.handleApply)
	s.router.HandleFunc("/api/assignments/", s.handleDismiss)

	// Dashboard endpoints (protected)
	s.router.Handle("/dashboard", s.requireToken(http.HandlerFunc(s.handleDashboard)))
	s.router.Handle("/dashboard/test/", s.requireToken(http.HandlerFunc(s.handleDashboardTest)))
}

func (s *Server) Start() error {
	// Write token to file so the CLI can print the dashboard URL later
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.log.Warn("failed to write token file", zap.Error(err))
		}
	}

	addr := fmt.Sprintf(":%d", s.port)
	s.log.Info("splitpage listening",
		zap.String("addr", addr),
		zap.String("dashboard", fmt.Sprintf("http://localhost:%d/dashboard?token=%s", s.port, s.token)),
	)

	return http.ListenAndServe(addr, s.router)
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a simple token if crypto/rand fails
		return "a1b2c3d4"
	}
	return hex.EncodeToString(bytes)
}
