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

// Package ingress exposes a tenant's client and server behind one hostname.
//
// # Overview
//
// Every tenant is reachable at {tenant}.{baseDomain}. Two mechanisms share that
// host:
//
//   - a networking.k8s.io/v1 Ingress named {tenant}-client routing "/" to the
//     client service
//   - a Traefik IngressRoute named {tenant}-api matching
//     Host(`{host}`) && PathPrefix(`/api`), bound to a stripPrefix Middleware
//     named {tenant}-strip-api, routing to the server service
//
// Prefix stripping cannot be expressed with a plain Ingress, which is why the
// API route is a Traefik object. The API route carries a higher priority than
// the client's catch-all so the two never compete.
//
// # TLS
//
// When a TLS secret name is given, both objects terminate TLS on the websecure
// entry point using that secret. The secret must already exist in the tenant
// namespace (see package certs).
//
// # Readiness
//
// WaitForIngressReady polls status.loadBalancer.ingress until an IP or
// hostname appears. Expiry returns a not-ready result rather than an error.
//
// # Deletion
//
// DeleteTenantIngresses lists every Ingress, IngressRoute and Middleware with
// the tenant labels and deletes them concurrently, reporting each outcome.
package ingress
