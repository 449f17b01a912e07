// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	"github.com/pingcap/crashpocket/pkg/backend"
	"github.com/pingcap/crashpocket/pkg/harness"
	"github.com/pingcap/crashpocket/pkg/lifecycle"
	"github.com/pingcap/crashpocket/pkg/stats"
	"github.com/pingcap/crashpocket/pkg/timeout"
)

// Service is the harness behind the http front end
type Service interface {
	ExecuteWithTimeout(ctx context.Context, budget time.Duration, tool, experiment, kind, stmt string) (*harness.Outcome, error)
	Reset(ctx context.Context, tool, experiment, kind string) error
	Provision(ctx context.Context, tool, experiment, kind string) error
	Status(ctx context.Context, tool, experiment, kind string) (lifecycle.ContainerState, error)
	Kinds() []string
	Stats() []stats.Summary
}

// ExecuteRequest is the body of POST /api/execute
type ExecuteRequest struct {
	Tool       string `json:"tool"`
	Experiment string `json:"experiment"`
	Backend    string `json:"backend"`
	Statement  string `json:"statement"`
	// TimeoutSeconds bounds the execution, 0 uses the configured default
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// Server serves the harness over http
type Server struct {
	svc    Service
	addr   string
	logger *zap.Logger
	// MaxConns caps the concurrent connections, 0 means no cap
	MaxConns int
}

// New creates a server instance
func New(svc Service, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.L()
	}
	return &Server{svc: svc, addr: addr, logger: logger.Named("http")}
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods("GET")
	r.HandleFunc("/api/kinds", s.kinds).Methods("GET")
	r.HandleFunc("/api/stats", s.stats).Methods("GET")
	r.HandleFunc("/api/execute", s.execute).Methods("POST")
	r.HandleFunc("/api/reset/{tool}/{experiment}/{backend}", s.reset).Methods("POST")
	r.HandleFunc("/api/provision/{tool}/{experiment}/{backend}", s.provision).Methods("POST")
	r.HandleFunc("/api/status/{tool}/{experiment}/{backend}", s.status).Methods("GET")
	return r
}

// Run serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Trace(err)
	}
	if s.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.MaxConns)
	}
	srv := &http.Server{
		Handler: s.Handler(),
		// lifecycle operations wait out settle delays
		WriteTimeout: 15 * time.Minute,
		ReadTimeout:  time.Minute,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving", zap.String("addr", ln.Addr().String()), zap.Int("max-conns", s.MaxConns))
		errCh <- srv.Serve(ln)
	}()
	select {
	case err := <-errCh:
		return errors.Trace(err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Trace(srv.Shutdown(shutdownCtx))
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ok(w, "ok")
}

func (s *Server) kinds(w http.ResponseWriter, r *http.Request) {
	okJSON(w, s.svc.Kinds())
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	okJSON(w, s.svc.Stats())
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, errors.Annotate(err, "decode request"))
		return
	}
	if req.Statement == "" {
		s.fail(w, http.StatusBadRequest, errors.New("empty statement"))
		return
	}
	out, err := s.svc.ExecuteWithTimeout(r.Context(), timeout.Seconds(req.TimeoutSeconds),
		req.Tool, req.Experiment, req.Backend, req.Statement)
	if err != nil {
		s.fail(w, statusOf(err), err)
		return
	}
	okJSON(w, out)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if err := s.svc.Reset(r.Context(), v["tool"], v["experiment"], v["backend"]); err != nil {
		s.fail(w, statusOf(err), err)
		return
	}
	ok(w, fmt.Sprintf("%s reset", v["backend"]))
}

func (s *Server) provision(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	if err := s.svc.Provision(r.Context(), v["tool"], v["experiment"], v["backend"]); err != nil {
		s.fail(w, statusOf(err), err)
		return
	}
	ok(w, fmt.Sprintf("%s provisioned", v["backend"]))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	v := mux.Vars(r)
	state, err := s.svc.Status(r.Context(), v["tool"], v["experiment"], v["backend"])
	if err != nil {
		s.fail(w, statusOf(err), err)
		return
	}
	okJSON(w, map[string]lifecycle.ContainerState{"state": state})
}

func statusOf(err error) int {
	switch {
	case backend.IsConfigError(err):
		return http.StatusBadRequest
	case timeout.IsTimedOut(err):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func ok(w http.ResponseWriter, msg string) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, msg)
}

func okJSON(w http.ResponseWriter, a interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(a)
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	s.logger.Debug("request failed", zap.Int("code", code), zap.Error(err))
	http.Error(w, err.Error(), code)
}
