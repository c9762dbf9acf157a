// Copyright 2025 The Tenantd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/tenantd/internal/credentials"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/provisioner"
)

// RequestIDHeader echoes the per-request correlation id
const RequestIDHeader = "X-Request-ID"

// DefaultMaxBodyBytes bounds request bodies
const DefaultMaxBodyBytes int64 = 1 << 20

// Service is the orchestrator the HTTP layer drives.
type Service interface {
	CreateTenant(ctx context.Context, req provisioner.CreateRequest) (*provisioner.Result, error)
	DeleteTenant(ctx context.Context, name string) (*provisioner.DeleteResult, error)
	GetTenant(ctx context.Context, name string) (*provisioner.Tenant, error)
	ListTenants(ctx context.Context) ([]provisioner.TenantSummary, error)
	RestartTenant(ctx context.Context, name string) (*provisioner.RestartResult, error)
	ScaleTenant(ctx context.Context, name, component string, replicas int32) error
	UpdateQuota(ctx context.Context, name string, quota namespace.Quota) (*provisioner.QuotaResult, error)
	AddDatabaseSecret(ctx context.Context, name string, creds credentials.Credentials) (*provisioner.DatabaseSecretResult, error)
}

// Options configures a Server.
type Options struct {
	Addr string
	// SigningSecret enables request signature checks when set
	SigningSecret string
	// RateLimit is the number of requests allowed per tenant per RateWindow
	RateLimit    int
	RateWindow   time.Duration
	MaxBodyBytes int64
	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration
}

// Server serves the tenant API
type Server struct {
	opts        Options
	service     Service
	server      *http.Server
	rateLimiter *RateLimiter
	log         logr.Logger
}

// NewServer creates a new API server
func NewServer(service Service, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8082"
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 10
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return &Server{
		opts:        opts,
		service:     service,
		rateLimiter: NewRateLimiter(opts.RateLimit, opts.RateWindow),
		log:         logf.Log.WithName("api"),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("POST /api/tenants", s.guarded(s.handleCreate))
	mux.Handle("GET /api/tenants", s.guarded(s.handleList))
	mux.Handle("GET /api/tenants/{name}", s.guarded(s.handleGet))
	mux.Handle("DELETE /api/tenants/{name}", s.guarded(s.handleDelete))
	mux.Handle("POST /api/tenants/{name}/restart", s.guarded(s.handleRestart))
	mux.Handle("PUT /api/tenants/{name}/scale", s.guarded(s.handleScale))
	mux.Handle("PUT /api/tenants/{name}/quota", s.guarded(s.handleQuota))
	mux.Handle("POST /api/tenants/{name}/database", s.guarded(s.handleDatabase))

	return s.withRequestID(mux)
}

// Start serves until ctx is cancelled. It satisfies manager.Runnable.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		s.log.Info("Starting API server", "addr", s.server.Addr, "signed", s.opts.SigningSecret != "")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.pruneRateLimiter(ctx)

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("api server failed: %w", err)
	}
}

func (s *Server) pruneRateLimiter(ctx context.Context) {
	ticker := time.NewTicker(max(s.opts.RateWindow, time.Minute))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rateLimiter.Prune()
		}
	}
}

// NeedLeaderElection reports that every replica serves the API.
func (s *Server) NeedLeaderElection() bool {
	return false
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.log.Info("Shutting down API server")
	return s.server.Shutdown(ctx)
}

// withRequestID tags each request with an id and a logger carrying it.
func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		log := s.log.WithValues("requestID", id, "method", r.Method, "path", r.URL.Path)
		ctx := logf.IntoContext(r.Context(), log)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// guarded applies the body limit, signature check and per-tenant rate limit.
func (s *Server) guarded(next func(http.ResponseWriter, *http.Request, []byte)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logf.FromContext(r.Context())

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			logger.Error(err, "Failed to read request body")
			writeError(w, r, http.StatusBadRequest, "failed to read body")
			return
		}
		_ = r.Body.Close()

		if s.opts.SigningSecret != "" {
			if !ValidateSignature(payload, r.Header.Get(SignatureHeader), s.opts.SigningSecret) {
				logger.Info("Invalid request signature")
				writeError(w, r, http.StatusUnauthorized, "invalid signature")
				return
			}
		}

		key := rateKey(r, payload)
		if !s.rateLimiter.Allow(key) {
			logger.Info("Rate limit exceeded", "key", key)
			writeError(w, r, http.StatusTooManyRequests, "too many requests")
			return
		}

		next(w, r, payload)
	})
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// rateKey buckets requests by tenant name, taken from the path or, for
// creation, from the body.
func rateKey(r *http.Request, payload []byte) string {
	name := r.PathValue("name")
	if name == "" && len(payload) > 0 {
		var body struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(payload, &body) == nil {
			name = body.Name
		}
	}
	if name == "" {
		return r.Method + " " + r.URL.Path
	}
	return strings.ToLower(strings.TrimSpace(name))
}
