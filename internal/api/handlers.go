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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/tenantd/internal/errdefs"
)

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, payload []byte) {
	var req CreateTenantRequest
	if err := decodeStrict(payload, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.service.CreateTenant(r.Context(), req)
	if err != nil {
		logf.FromContext(r.Context()).Info("Tenant creation failed", "tenant", req.Name, "error", err.Error())
		status := statusFor(err)
		if result != nil && result.RolledBack {
			status = http.StatusInternalServerError
		}
		if result == nil {
			writeError(w, r, status, err.Error())
			return
		}
		writeJSON(w, status, result)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, _ []byte) {
	tenants, err := s.service.ListTenants(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Tenants: tenants})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, _ []byte) {
	tenant, err := s.service.GetTenant(r.Context(), r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tenant)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, _ []byte) {
	result, err := s.service.DeleteTenant(r.Context(), r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request, _ []byte) {
	result, err := s.service.RestartTenant(r.Context(), r.PathValue("name"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleScale(w http.ResponseWriter, r *http.Request, payload []byte) {
	var req ScaleRequest
	if err := decodeStrict(payload, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Replicas == nil {
		writeError(w, r, http.StatusBadRequest, "replicas is required")
		return
	}

	name := r.PathValue("name")
	if err := s.service.ScaleTenant(r.Context(), name, req.Component, *req.Replicas); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ScaleResponse{Tenant: name, Component: req.Component, Replicas: *req.Replicas})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request, payload []byte) {
	var req QuotaRequest
	if err := decodeStrict(payload, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.service.UpdateQuota(r.Context(), r.PathValue("name"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDatabase(w http.ResponseWriter, r *http.Request, payload []byte) {
	var req DatabaseRequest
	if err := decodeStrict(payload, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.service.AddDatabaseSecret(r.Context(), r.PathValue("name"), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logf.FromContext(r.Context()).Error(err, "Request failed")
	}
	writeError(w, r, status, err.Error())
}

// statusFor maps orchestrator errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errdefs.IsValidation(err):
		return http.StatusBadRequest
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsConflict(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decodeStrict rejects unknown fields and trailing data.
func decodeStrict(payload []byte, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON: unexpected data after the request object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, RequestID: w.Header().Get(RequestIDHeader)})
}
