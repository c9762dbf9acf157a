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

package provisioner

import (
	"time"

	"github.com/mikelane/tenantd/internal/cost"
	"github.com/mikelane/tenantd/internal/credentials"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/naming"
	"github.com/mikelane/tenantd/internal/workload"
)

// Step is a state of the tenant creation workflow.
type Step string

// Workflow states, in order.
const (
	StepPrecheck           Step = "PRECHECK"
	StepTLSReady           Step = "TLS_READY"
	StepNamespaceCreated   Step = "NAMESPACE_CREATED"
	StepNetworkPolicySet   Step = "NETWORK_POLICY_SET"
	StepDatabaseConfigured Step = "DATABASE_CONFIGURED"
	StepAppDeployed        Step = "APP_DEPLOYED"
	StepDeploymentReady    Step = "DEPLOYMENT_READY"
	StepIngressCreated     Step = "INGRESS_CREATED"
	StepIngressReady       Step = "INGRESS_READY"
	StepComplete           Step = "COMPLETE"
)

// Steps lists the workflow states in execution order.
var Steps = []Step{
	StepPrecheck,
	StepTLSReady,
	StepNamespaceCreated,
	StepNetworkPolicySet,
	StepDatabaseConfigured,
	StepAppDeployed,
	StepDeploymentReady,
	StepIngressCreated,
	StepIngressReady,
	StepComplete,
}

// StepStatus is how a step ended.
type StepStatus string

const (
	StatusSucceeded StepStatus = "succeeded"
	StatusWarning   StepStatus = "warning"
	StatusSkipped   StepStatus = "skipped"
	StatusFailed    StepStatus = "failed"
)

// StepRecord is one entry of the provisioning attempt.
type StepRecord struct {
	Step     Step          `json:"step"`
	Status   StepStatus    `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"durationNanos"`
}

// CreateRequest asks for a new tenant.
type CreateRequest struct {
	Name    string          `json:"name"`
	Quota   namespace.Quota `json:"quota"`
	AppType string          `json:"appType"`

	// CredentialKey overrides the application type's shared credential key
	CredentialKey string `json:"credentialKey,omitempty"`
	// Database supplies tenant-specific credentials, taking precedence over
	// any shared credential key
	Database *credentials.Credentials `json:"database,omitempty"`
}

// TenantSummary identifies a tenant.
type TenantSummary struct {
	Name      string          `json:"name"`
	Namespace string          `json:"namespace"`
	AppType   string          `json:"appType,omitempty"`
	Phase     naming.Phase    `json:"phase,omitempty"`
	Quota     namespace.Quota `json:"quota"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Database source values.
const (
	DatabaseSourceNone   = "none"
	DatabaseSourceShared = "shared"
	DatabaseSourceTenant = "tenant"
)

// DatabaseSummary reports how the tenant's data store was wired.
type DatabaseSummary struct {
	Configured    bool   `json:"configured"`
	Source        string `json:"source"`
	Engine        string `json:"engine,omitempty"`
	CredentialKey string `json:"credentialKey,omitempty"`
	SecretName    string `json:"secretName,omitempty"`
}

// ComponentSummary reports one deployed component.
type ComponentSummary struct {
	Component string             `json:"component"`
	Name      string             `json:"name"`
	Image     string             `json:"image"`
	Service   string             `json:"service"`
	Port      int32              `json:"port"`
	Readiness workload.Readiness `json:"readiness"`
}

// DeploymentSummary reports the tenant's workloads.
type DeploymentSummary struct {
	Deployed   bool               `json:"deployed"`
	Ready      bool               `json:"ready"`
	Components []ComponentSummary `json:"components,omitempty"`
}

// IngressSummary reports where the tenant is reachable.
type IngressSummary struct {
	Created  bool   `json:"created"`
	Ready    bool   `json:"ready"`
	Name     string `json:"name,omitempty"`
	APIRoute string `json:"apiRoute,omitempty"`
	Host     string `json:"host,omitempty"`
	URL      string `json:"url,omitempty"`
	Address  string `json:"address,omitempty"`
	TLS      bool   `json:"tls"`
}

// Result is the terminal record of a creation workflow. It is returned on
// failure too, so callers can tell a clean failure from one that left state
// behind.
type Result struct {
	Tenant     TenantSummary     `json:"tenant"`
	Database   DatabaseSummary   `json:"database"`
	Deployment DeploymentSummary `json:"deployment"`
	Ingress    IngressSummary    `json:"ingress"`
	Cost       *cost.Estimate    `json:"cost,omitempty"`

	Steps    []StepRecord `json:"steps"`
	Warnings []string     `json:"warnings,omitempty"`

	// FailedStep is set when the workflow stopped on a fatal error
	FailedStep        Step   `json:"failedStep,omitempty"`
	Error             string `json:"error,omitempty"`
	RolledBack        bool   `json:"rollback"`
	RollbackSucceeded bool   `json:"rollbackSucceeded,omitempty"`
	RollbackError     string `json:"rollbackError,omitempty"`
}

// Degraded reports whether any step ended with a warning.
func (r *Result) Degraded() bool {
	for _, s := range r.Steps {
		if s.Status == StatusWarning {
			return true
		}
	}
	return false
}

// StepStatus returns the recorded status of step, or "" when it never ran.
func (r *Result) StepStatus(step Step) StepStatus {
	for _, s := range r.Steps {
		if s.Step == step {
			return s.Status
		}
	}
	return ""
}

// Tenant is the detail view of an existing tenant.
type Tenant struct {
	TenantSummary
	Host        string                     `json:"host"`
	URL         string                     `json:"url"`
	Deployments []workload.DeploymentState `json:"deployments"`
	Cost        *cost.Estimate             `json:"cost,omitempty"`
}

// DeleteResult reports a tenant deletion.
type DeleteResult struct {
	Tenant    string `json:"tenant"`
	Existed   bool   `json:"existed"`
	Ingresses int    `json:"ingressesDeleted"`
}

// RestartResult reports a best-effort restart of every tenant deployment.
type RestartResult struct {
	Tenant    string            `json:"tenant"`
	Restarted []string          `json:"restarted"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// QuotaResult reports a quota replacement.
type QuotaResult struct {
	Tenant string          `json:"tenant"`
	Quota  namespace.Quota `json:"quota"`
	Cost   *cost.Estimate  `json:"cost,omitempty"`
}

// DatabaseSecretResult reports an added credential secret.
type DatabaseSecretResult struct {
	Tenant     string   `json:"tenant"`
	SecretName string   `json:"secretName"`
	Engine     string   `json:"engine"`
	Keys       []string `json:"keys"`
	// AttachedTo lists deployments now reading the secret
	AttachedTo []string `json:"attachedTo,omitempty"`
}
