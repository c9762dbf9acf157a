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

// Package workload reconciles the deployments and services of a tenant's
// client and server components.
//
// Every write is create-or-replace keyed by (namespace, name): the whole
// deployment spec is rebuilt from a DeploymentSpec on each call, so repeated
// calls converge on the latest description. Pods are selected by the
// tenant and component labels.
//
// Restarts bump the kubectl.kubernetes.io/restartedAt annotation, the same
// mechanism "kubectl rollout restart" uses. Restarting a deployment that does
// not exist yet succeeds without doing anything.
//
// # Readiness
//
// WaitForDeploymentReady polls until availableReplicas reaches the desired
// replica count. The wait ends only at its deadline; it returns a not-ready
// Readiness rather than an error when the deadline passes.
package workload
