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

// Package namespace manages the namespace that holds one tenant.
//
// The namespace is the tenant's state of record. There is no separate database:
// a tenant exists when a namespace carrying the platform label pair exists, and
// its lifecycle phase and application type live in labels on that namespace.
//
//	app.kubernetes.io/managed-by=tenantd
//	tenantd.io/tenant=<name>
//	tenantd.io/app-type=<type>
//	tenantd.io/phase=Provisioning|Ready|Degraded|Failed|Deleting
//
// # Resource Quotas
//
// Every tenant with a cpu or memory budget gets a ResourceQuota named
// tenant-quota. Requests and limits are both pinned to the budget, and pod and
// persistent volume claim counts default to 20 and 5. Memory accepts decimal
// suffixes ("4GB", "512MB") and stores them in binary units ("4Gi", "512Mi").
// Writes replace the whole hard-limit list.
//
// # Network Policies
//
// Four NetworkPolicies isolate the namespace:
//
//  1. default-deny-all: denies all ingress and egress
//  2. allow-ingress-controller: ingress from the ingress controller namespace
//  3. allow-same-namespace: ingress from pods in the same namespace
//  4. allow-egress: DNS, intra-namespace traffic, HTTPS and database ports
//
// # Deletion
//
// Deleting the namespace cascades to quota, secrets, deployments and services.
// Ingress objects are not guaranteed to cascade and are removed by the ingress
// package first.
package namespace
