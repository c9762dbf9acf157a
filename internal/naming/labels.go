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

package naming

import (
	"maps"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Standard and platform label keys. The (managed-by, tenant) pair is what every
// listing and filtering operation uses to tell platform resources apart from
// unrelated objects in the same cluster.
const (
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelComponent = "app.kubernetes.io/component"
	LabelPartOf    = "app.kubernetes.io/part-of"

	LabelTenant  = "tenantd.io/tenant"
	LabelAppType = "tenantd.io/app-type"
	LabelPhase   = "tenantd.io/phase"

	ManagedBy = "tenantd"

	// AnnotationMonthlyCost holds the quota's estimated monthly cost
	AnnotationMonthlyCost = "tenantd.io/estimated-monthly-cost"
)

// Components deployed for every tenant.
const (
	ComponentServer = "server"
	ComponentClient = "client"
)

// Phase is the tenant lifecycle phase recorded on the namespace.
type Phase string

const (
	PhaseProvisioning Phase = "Provisioning"
	PhaseReady        Phase = "Ready"
	PhaseDegraded     Phase = "Degraded"
	PhaseFailed       Phase = "Failed"
	PhaseDeleting     Phase = "Deleting"
)

// TenantLabels returns the label pair identifying a tenant's resources.
func TenantLabels(tenant string) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedBy,
		LabelTenant:    tenant,
	}
}

// ComponentLabels returns TenantLabels plus the component label.
func ComponentLabels(tenant, component string) map[string]string {
	labels := TenantLabels(tenant)
	labels[LabelComponent] = component
	labels[LabelPartOf] = tenant
	return labels
}

// MergeLabels copies src into dst, allocating dst when nil.
func MergeLabels(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	maps.Copy(dst, src)
	return dst
}

// TenantSelector matches every platform resource of one tenant.
func TenantSelector(tenant string) client.MatchingLabels {
	return client.MatchingLabels(TenantLabels(tenant))
}

// ManagedSelector matches every platform-managed resource.
func ManagedSelector() client.MatchingLabels {
	return client.MatchingLabels{LabelManagedBy: ManagedBy}
}
