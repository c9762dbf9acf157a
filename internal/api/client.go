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
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mikelane/tenantd/internal/credentials"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/provisioner"
)

// APIError is a non-2xx response.
type APIError struct {
	Status    int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%d %s (request %s)", e.Status, msg, e.RequestID)
	}
	return fmt.Sprintf("%d %s", e.Status, msg)
}

// Client calls the tenant API, signing bodies when a secret is set.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

// NewClient creates an API client. A nil httpClient uses a client with a
// generous timeout, since creation waits for readiness gates.
func NewClient(baseURL, secret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Minute}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), secret: secret, http: httpClient}
}

// CreateTenant creates a tenant. A failed creation still returns the Result
// when the server sent one, so callers can report the rollback outcome.
func (c *Client) CreateTenant(ctx context.Context, req CreateTenantRequest) (*provisioner.Result, error) {
	var result provisioner.Result
	err := c.do(ctx, http.MethodPost, "/api/tenants", req, &result, true)
	if err != nil && result.Tenant.Name == "" && len(result.Steps) == 0 {
		return nil, err
	}
	return &result, err
}

// ListTenants lists every tenant.
func (c *Client) ListTenants(ctx context.Context) ([]provisioner.TenantSummary, error) {
	var list ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tenants", nil, &list, false); err != nil {
		return nil, err
	}
	return list.Tenants, nil
}

// GetTenant returns tenant details.
func (c *Client) GetTenant(ctx context.Context, name string) (*provisioner.Tenant, error) {
	var tenant provisioner.Tenant
	if err := c.do(ctx, http.MethodGet, tenantPath(name), nil, &tenant, false); err != nil {
		return nil, err
	}
	return &tenant, nil
}

// DeleteTenant deletes a tenant.
func (c *Client) DeleteTenant(ctx context.Context, name string) (*provisioner.DeleteResult, error) {
	var result provisioner.DeleteResult
	if err := c.do(ctx, http.MethodDelete, tenantPath(name), nil, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// RestartTenant restarts every deployment of a tenant.
func (c *Client) RestartTenant(ctx context.Context, name string) (*provisioner.RestartResult, error) {
	var result provisioner.RestartResult
	if err := c.do(ctx, http.MethodPost, tenantPath(name)+"/restart", nil, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// ScaleTenant sets the replica count of one component.
func (c *Client) ScaleTenant(ctx context.Context, name, component string, replicas int32) (*ScaleResponse, error) {
	var result ScaleResponse
	req := ScaleRequest{Component: component, Replicas: &replicas}
	if err := c.do(ctx, http.MethodPut, tenantPath(name)+"/scale", req, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// UpdateQuota replaces a tenant's quota.
func (c *Client) UpdateQuota(ctx context.Context, name string, quota namespace.Quota) (*provisioner.QuotaResult, error) {
	var result provisioner.QuotaResult
	if err := c.do(ctx, http.MethodPut, tenantPath(name)+"/quota", quota, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

// AddDatabaseSecret stores caller-supplied database credentials for a tenant.
func (c *Client) AddDatabaseSecret(ctx context.Context, name string, creds credentials.Credentials) (*provisioner.DatabaseSecretResult, error) {
	var result provisioner.DatabaseSecretResult
	if err := c.do(ctx, http.MethodPost, tenantPath(name)+"/database", creds, &result, false); err != nil {
		return nil, err
	}
	return &result, nil
}

func tenantPath(name string) string {
	return "/api/tenants/" + url.PathEscape(name)
}

// do sends in as JSON and decodes the response into out. With keepOnError
// the body of a failed response is decoded into out as well.
func (c *Client) do(ctx context.Context, method, path string, in, out any, keepOnError bool) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.secret != "" {
		req.Header.Set(SignatureHeader, Sign(payload, c.secret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get(RequestIDHeader)}
		var body struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Error
		}
		if keepOnError && out != nil {
			_ = json.Unmarshal(data, out)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
