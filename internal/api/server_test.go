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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/mikelane/tenantd/internal/credentials"
	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/provisioner"
	"github.com/mikelane/tenantd/internal/traefik"
)

// stubService records calls and returns canned answers.
type stubService struct {
	createResult *provisioner.Result
	createErr    error
	err          error

	created  []provisioner.CreateRequest
	scaled   []string
	replicas int32
	quota    namespace.Quota
	creds    credentials.Credentials
}

func (s *stubService) CreateTenant(_ context.Context, req provisioner.CreateRequest) (*provisioner.Result, error) {
	s.created = append(s.created, req)
	if s.createResult != nil {
		return s.createResult, s.createErr
	}
	return &provisioner.Result{Tenant: provisioner.TenantSummary{Name: req.Name}}, s.createErr
}

func (s *stubService) DeleteTenant(_ context.Context, name string) (*provisioner.DeleteResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &provisioner.DeleteResult{Tenant: name, Existed: true}, nil
}

func (s *stubService) GetTenant(_ context.Context, name string) (*provisioner.Tenant, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &provisioner.Tenant{TenantSummary: provisioner.TenantSummary{Name: name}}, nil
}

func (s *stubService) ListTenants(context.Context) ([]provisioner.TenantSummary, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []provisioner.TenantSummary{{Name: "demo-a"}, {Name: "demo-b"}}, nil
}

func (s *stubService) RestartTenant(_ context.Context, name string) (*provisioner.RestartResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &provisioner.RestartResult{Tenant: name, Restarted: []string{name + "-client"}}, nil
}

func (s *stubService) ScaleTenant(_ context.Context, name, component string, replicas int32) error {
	s.scaled = append(s.scaled, name+"/"+component)
	s.replicas = replicas
	return s.err
}

func (s *stubService) UpdateQuota(_ context.Context, name string, quota namespace.Quota) (*provisioner.QuotaResult, error) {
	s.quota = quota
	if s.err != nil {
		return nil, s.err
	}
	return &provisioner.QuotaResult{Tenant: name, Quota: quota}, nil
}

func (s *stubService) AddDatabaseSecret(_ context.Context, name string, creds credentials.Credentials) (*provisioner.DatabaseSecretResult, error) {
	s.creds = creds
	if s.err != nil {
		return nil, s.err
	}
	return &provisioner.DatabaseSecretResult{Tenant: name, SecretName: name + "-db"}, nil
}

func setupTest(t *testing.T, opts Options) (*stubService, http.Handler) {
	t.Helper()

	svc := &stubService{}
	return svc, NewServer(svc, opts).Handler()
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	_, h := setupTest(t, Options{})

	w := do(h, http.MethodGet, "/healthz", "")

	if w.Code != http.StatusOK {
		t.Errorf("healthz returns %d, expected %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != "OK" {
		t.Errorf("healthz body is %q, expected %q", w.Body.String(), "OK")
	}
}

func TestCreateTenant_Created(t *testing.T) {
	svc, h := setupTest(t, Options{})

	body := `{"name":"demo-a","appType":"app-x","quota":{"cpu":"2","memory":"4GB"}}`
	w := do(h, http.MethodPost, "/api/tenants", body)

	if w.Code != http.StatusCreated {
		t.Fatalf("create returns %d, expected %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	if len(svc.created) != 1 {
		t.Fatalf("CreateTenant called %d times, expected 1", len(svc.created))
	}
	got := svc.created[0]
	if got.Name != "demo-a" || got.AppType != "app-x" || got.Quota.Memory != "4GB" {
		t.Errorf("CreateTenant received %+v", got)
	}

	var result provisioner.Result
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("response is not a Result: %v", err)
	}
	if result.Tenant.Name != "demo-a" {
		t.Errorf("result tenant is %q", result.Tenant.Name)
	}
}

func TestCreateTenant_StatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		result   *provisioner.Result
		err      error
		expected int
	}{
		{
			name:     "validation",
			err:      &errdefs.ValidationError{Kind: "tenant", Value: "Bad!", Reason: "invalid"},
			expected: http.StatusBadRequest,
		},
		{
			name:     "conflict",
			err:      &errdefs.ConflictError{Kind: "tenant", Name: "demo-a"},
			expected: http.StatusConflict,
		},
		{
			name:     "unexpected",
			err:      errors.New("apiserver unavailable"),
			expected: http.StatusInternalServerError,
		},
		{
			name:   "rolled back validation",
			result: &provisioner.Result{FailedStep: provisioner.StepAppDeployed, RolledBack: true, RollbackSucceeded: true},
			err: &errdefs.FatalError{
				Step: string(provisioner.StepAppDeployed),
				Err:  &errdefs.ValidationError{Kind: "image", Value: "x", Reason: "rejected"},
			},
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, h := setupTest(t, Options{})
			svc.createResult = tt.result
			svc.createErr = tt.err

			w := do(h, http.MethodPost, "/api/tenants", `{"name":"demo-a","appType":"app-x"}`)

			if w.Code != tt.expected {
				t.Errorf("create returns %d, expected %d", w.Code, tt.expected)
			}
		})
	}
}

func TestCreateTenant_FailureCarriesRollbackFlag(t *testing.T) {
	svc, h := setupTest(t, Options{})
	svc.createResult = &provisioner.Result{
		FailedStep:    provisioner.StepAppDeployed,
		Error:         "boom",
		RolledBack:    true,
		RollbackError: "namespace stuck",
	}
	svc.createErr = &errdefs.FatalError{Step: string(provisioner.StepAppDeployed), Err: errors.New("boom")}

	w := do(h, http.MethodPost, "/api/tenants", `{"name":"demo-a","appType":"app-x"}`)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if body["rollback"] != true {
		t.Errorf("rollback flag is %v, expected true", body["rollback"])
	}
	if body["rollbackError"] != "namespace stuck" {
		t.Errorf("rollbackError is %v", body["rollbackError"])
	}
	if body["failedStep"] != string(provisioner.StepAppDeployed) {
		t.Errorf("failedStep is %v", body["failedStep"])
	}
}

func TestCreateTenant_RejectsMalformedBodies(t *testing.T) {
	tests := map[string]string{
		"invalid json":  `{invalid json}`,
		"unknown field": `{"name":"demo-a","appType":"app-x","owner":"me"}`,
		"trailing data": `{"name":"demo-a"} {"name":"demo-b"}`,
		"empty body":    ``,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			svc, h := setupTest(t, Options{})

			w := do(h, http.MethodPost, "/api/tenants", body)

			if w.Code != http.StatusBadRequest {
				t.Errorf("create returns %d, expected %d", w.Code, http.StatusBadRequest)
			}
			if len(svc.created) != 0 {
				t.Error("CreateTenant was called for a malformed body")
			}
		})
	}
}

func TestRequestBodyTooLarge(t *testing.T) {
	_, h := setupTest(t, Options{MaxBodyBytes: 16})

	w := do(h, http.MethodPost, "/api/tenants", `{"name":"demo-a","appType":"app-x"}`)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("create returns %d, expected %d", w.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestTenantRoutes(t *testing.T) {
	tests := []struct {
		method   string
		path     string
		body     string
		expected int
	}{
		{http.MethodGet, "/api/tenants", "", http.StatusOK},
		{http.MethodGet, "/api/tenants/demo-a", "", http.StatusOK},
		{http.MethodDelete, "/api/tenants/demo-a", "", http.StatusOK},
		{http.MethodPost, "/api/tenants/demo-a/restart", "", http.StatusOK},
		{http.MethodPut, "/api/tenants/demo-a/scale", `{"component":"server","replicas":3}`, http.StatusOK},
		{http.MethodPut, "/api/tenants/demo-a/quota", `{"cpu":"4","memory":"8GB"}`, http.StatusOK},
		{http.MethodPost, "/api/tenants/demo-a/database", `{"connectionString":"postgres://u:p@db/app"}`, http.StatusCreated},
		{http.MethodPatch, "/api/tenants/demo-a", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			_, h := setupTest(t, Options{})

			w := do(h, tt.method, tt.path, tt.body)

			if w.Code != tt.expected {
				t.Errorf("%s %s returns %d, expected %d: %s", tt.method, tt.path, w.Code, tt.expected, w.Body.String())
			}
		})
	}
}

func TestScaleTenant(t *testing.T) {
	svc, h := setupTest(t, Options{})

	w := do(h, http.MethodPut, "/api/tenants/demo-a/scale", `{"component":"client","replicas":0}`)

	if w.Code != http.StatusOK {
		t.Fatalf("scale returns %d, expected %d", w.Code, http.StatusOK)
	}
	if len(svc.scaled) != 1 || svc.scaled[0] != "demo-a/client" || svc.replicas != 0 {
		t.Errorf("ScaleTenant received %v with %d replicas", svc.scaled, svc.replicas)
	}

	w = do(h, http.MethodPut, "/api/tenants/demo-a/scale", `{"component":"client"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("scale without replicas returns %d, expected %d", w.Code, http.StatusBadRequest)
	}
}

func TestUpdateQuotaAndDatabase_PassBodies(t *testing.T) {
	svc, h := setupTest(t, Options{})

	do(h, http.MethodPut, "/api/tenants/demo-a/quota", `{"cpu":"4","memory":"8GB","pods":"20"}`)
	if svc.quota != (namespace.Quota{CPU: "4", Memory: "8GB", Pods: "20"}) {
		t.Errorf("UpdateQuota received %+v", svc.quota)
	}

	do(h, http.MethodPost, "/api/tenants/demo-a/database", `{"connectionString":"mongodb://db/app","username":"app"}`)
	if svc.creds.ConnectionString != "mongodb://db/app" || svc.creds.Username != "app" {
		t.Errorf("AddDatabaseSecret received %+v", svc.creds)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"not found", &errdefs.NotFoundError{Kind: "tenant", Name: "ghost"}, http.StatusNotFound},
		{"validation", &errdefs.ValidationError{Kind: "component", Value: "db", Reason: "unknown"}, http.StatusBadRequest},
		{"conflict", &errdefs.ConflictError{Kind: "secret", Name: "demo-a-db"}, http.StatusConflict},
		{"joined not found", errors.Join(errors.New("context"), &errdefs.NotFoundError{Kind: "tenant", Name: "ghost"}), http.StatusNotFound},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, h := setupTest(t, Options{})
			svc.err = tt.err

			w := do(h, http.MethodGet, "/api/tenants/ghost", "")

			if w.Code != tt.expected {
				t.Errorf("get returns %d, expected %d", w.Code, tt.expected)
			}
			var body ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid error body: %v", err)
			}
			if body.Error == "" || body.RequestID == "" {
				t.Errorf("error body is %+v", body)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	_, h := setupTest(t, Options{})

	w := do(h, http.MethodGet, "/api/tenants", "")
	if _, err := uuid.Parse(w.Header().Get(RequestIDHeader)); err != nil {
		t.Errorf("generated request id %q is not a uuid", w.Header().Get(RequestIDHeader))
	}

	id := uuid.NewString()
	w = do(h, http.MethodGet, "/api/tenants", "", RequestIDHeader, id)
	if got := w.Header().Get(RequestIDHeader); got != id {
		t.Errorf("request id is %q, expected the caller's %q", got, id)
	}

	w = do(h, http.MethodGet, "/api/tenants", "", RequestIDHeader, "not-a-uuid")
	if got := w.Header().Get(RequestIDHeader); got == "not-a-uuid" {
		t.Error("a malformed caller request id was echoed")
	}
}

func TestSignedRequests(t *testing.T) {
	svc, h := setupTest(t, Options{SigningSecret: testSecret})

	w := do(h, http.MethodPost, "/api/tenants", testPayload, SignatureHeader, "sha256=invalid")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad signature returns %d, expected %d", w.Code, http.StatusUnauthorized)
	}

	w = do(h, http.MethodGet, "/api/tenants", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unsigned request returns %d, expected %d", w.Code, http.StatusUnauthorized)
	}

	w = do(h, http.MethodPost, "/api/tenants", testPayload, SignatureHeader, testSignature)
	if w.Code != http.StatusCreated {
		t.Errorf("signed request returns %d, expected %d", w.Code, http.StatusCreated)
	}
	if len(svc.created) != 1 {
		t.Errorf("CreateTenant called %d times, expected 1", len(svc.created))
	}

	w = do(h, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("healthz requires a signature: %d", w.Code)
	}
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	if !rl.Allow("demo-a") || !rl.Allow("demo-a") {
		t.Fatal("first two requests should be allowed")
	}
	if rl.Allow("demo-a") {
		t.Error("third request within the window should be rejected")
	}
	if !rl.Allow("demo-b") {
		t.Error("a different tenant has its own bucket")
	}

	now = now.Add(time.Second)
	if !rl.Allow("demo-a") {
		t.Error("request after the window should be allowed")
	}

	now = now.Add(time.Second)
	rl.Prune()
	if len(rl.limiters) != 0 {
		t.Errorf("Prune left %d buckets", len(rl.limiters))
	}
}

func TestHandler_RateLimitedPerTenant(t *testing.T) {
	_, h := setupTest(t, Options{RateLimit: 1, RateWindow: time.Hour})

	if w := do(h, http.MethodGet, "/api/tenants/demo-a", ""); w.Code != http.StatusOK {
		t.Fatalf("first request returns %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/api/tenants/DEMO-A/restart", ""); w.Code != http.StatusTooManyRequests {
		t.Errorf("second request for the tenant returns %d, expected %d", w.Code, http.StatusTooManyRequests)
	}
	if w := do(h, http.MethodPost, "/api/tenants", `{"name":"demo-a","appType":"app-x"}`); w.Code != http.StatusTooManyRequests {
		t.Errorf("create for a limited tenant returns %d, expected %d", w.Code, http.StatusTooManyRequests)
	}
	if w := do(h, http.MethodGet, "/api/tenants/demo-b", ""); w.Code != http.StatusOK {
		t.Errorf("another tenant returns %d, expected %d", w.Code, http.StatusOK)
	}
}

func TestServer_AgainstProvisioner(t *testing.T) {
	scheme := runtime.NewScheme()
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		t.Fatalf("Failed to add scheme: %v", err)
	}
	if err := traefik.AddToScheme(scheme); err != nil {
		t.Fatalf("Failed to add scheme: %v", err)
	}
	c := fake.NewClientBuilder().WithScheme(scheme).Build()
	p := provisioner.New(c, nil, credentials.Static{}, provisioner.Config{BaseDomain: "example.test"})
	h := NewServer(p, Options{}).Handler()

	if w := do(h, http.MethodGet, "/api/tenants/ghost", ""); w.Code != http.StatusNotFound {
		t.Errorf("get of a missing tenant returns %d, expected %d", w.Code, http.StatusNotFound)
	}
	if w := do(h, http.MethodDelete, "/api/tenants/Bad_Name!", ""); w.Code != http.StatusBadRequest {
		t.Errorf("delete of an invalid name returns %d, expected %d", w.Code, http.StatusBadRequest)
	}

	w := do(h, http.MethodDelete, "/api/tenants/ghost", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete of a missing tenant returns %d, expected %d", w.Code, http.StatusOK)
	}
	var result provisioner.DeleteResult
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&result); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if result.Existed {
		t.Error("a missing tenant was reported as existing")
	}

	w = do(h, http.MethodGet, "/api/tenants", "")
	var list ListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list.Tenants) != 0 {
		t.Errorf("list returns %s (%v)", w.Body.String(), err)
	}
}
