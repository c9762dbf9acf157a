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
	"github.com/mikelane/tenantd/internal/credentials"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/provisioner"
)

// CreateTenantRequest is the body of POST /api/tenants
type CreateTenantRequest = provisioner.CreateRequest

// ScaleRequest is the body of PUT /api/tenants/{name}/scale
type ScaleRequest struct {
	Component string `json:"component"`
	Replicas  *int32 `json:"replicas"`
}

// ScaleResponse confirms a scale operation
type ScaleResponse struct {
	Tenant    string `json:"tenant"`
	Component string `json:"component"`
	Replicas  int32  `json:"replicas"`
}

// QuotaRequest is the body of PUT /api/tenants/{name}/quota
type QuotaRequest = namespace.Quota

// DatabaseRequest is the body of POST /api/tenants/{name}/database
type DatabaseRequest = credentials.Credentials

// ListResponse wraps the tenant list
type ListResponse struct {
	Tenants []provisioner.TenantSummary `json:"tenants"`
}

// ErrorResponse is returned for every failed non-create request
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}
