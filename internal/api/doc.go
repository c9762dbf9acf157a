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

// Package api provides the HTTP request boundary of tenantd.
//
// This package implements an HTTP server that validates tenant requests and
// translates orchestrator results into status codes.
//
// Routes:
//   - POST   /api/tenants                  create a tenant
//   - GET    /api/tenants                  list tenants
//   - GET    /api/tenants/{name}           tenant details
//   - DELETE /api/tenants/{name}           delete a tenant
//   - POST   /api/tenants/{name}/restart   restart every deployment
//   - PUT    /api/tenants/{name}/scale     scale one component
//   - PUT    /api/tenants/{name}/quota     replace the quota
//   - POST   /api/tenants/{name}/database  add a database credential secret
//   - GET    /healthz                      liveness
//
// Status codes:
//
// 201 on a successful creation, 200 on other successes, 400 on validation or
// pre-flight failures, 404 when the tenant does not exist, 409 when it already
// exists, 429 when rate limited, 401 on a bad signature, and 500 otherwise.
// A failed creation always carries a rollback flag saying whether partially
// created resources were cleaned up.
//
// Request Signing:
//
// When a signing secret is configured, every /api request must include an
// X-Tenantd-Signature-256 header containing "sha256=" and the hex HMAC-SHA256
// of the request body.
//
// Rate Limiting:
//
// Requests are rate-limited per tenant name using a fixed-window token
// bucket. Requests exceeding the limit receive HTTP 429 Too Many Requests.
package api
