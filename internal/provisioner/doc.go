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

// Package provisioner implements tenant workflows on top of the cluster
// reconcilers and the ingress routing manager.
//
// Creation is a linear state machine:
//
//	PRECHECK → TLS_READY → NAMESPACE_CREATED → NETWORK_POLICY_SET →
//	DATABASE_CONFIGURED → APP_DEPLOYED → DEPLOYMENT_READY →
//	INGRESS_CREATED → INGRESS_READY → COMPLETE
//
// Nothing is created before NAMESPACE_CREATED, so pre-check failures need no
// cleanup. From NAMESPACE_CREATED on, a fatal error deletes the tenant's
// ingress objects and namespace before the error is returned. TLS and the two
// readiness gates degrade to warnings; the tenant then ends in the Degraded
// phase instead of Ready.
package provisioner
