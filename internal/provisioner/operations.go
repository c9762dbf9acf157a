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
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	corev1 "k8s.io/api/core/v1"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/tenantd/internal/credentials"
	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/naming"
	"github.com/mikelane/tenantd/internal/workload"
)

// rollback removes a partially provisioned tenant. Ingress objects are not
// guaranteed to cascade with the namespace, so they go first and best
// effort; the namespace deletion decides success. When it fails the
// namespace is marked Failed so the janitor retries it.
func (p *Provisioner) rollback(ctx context.Context, name string) error {
	log := logf.FromContext(ctx)

	var errs []error
	if _, err := p.routes.DeleteTenantIngresses(ctx, name); err != nil {
		log.Error(err, "Failed to delete tenant ingresses during rollback")
		errs = append(errs, err)
	}

	if err := p.namespaces.DeleteNamespace(ctx, name); err != nil {
		errs = append(errs, err)
		if phaseErr := p.namespaces.SetPhase(ctx, name, naming.PhaseFailed); phaseErr != nil && !errdefs.IsNotFound(phaseErr) {
			log.Error(phaseErr, "Failed to mark tenant for cleanup")
		}
		return errors.Join(errs...)
	}

	// Ingress leftovers inside a deleted namespace go with it.
	return nil
}

// DeleteTenant removes a tenant: its ingress objects first, then the
// namespace. Deleting a tenant that does not exist is a success. Like
// creation, it runs to completion regardless of ctx cancellation.
func (p *Provisioner) DeleteTenant(ctx context.Context, name string) (*DeleteResult, error) {
	ctx = context.WithoutCancel(ctx)

	name, err := naming.ValidateName(name, naming.KindTenant)
	if err != nil {
		return nil, err
	}
	log := logf.FromContext(ctx).WithValues("tenant", name)
	ctx = logf.IntoContext(ctx, log)

	result := &DeleteResult{Tenant: name}

	_, err = p.namespaces.GetTenantNamespace(ctx, name)
	switch {
	case err == nil:
		result.Existed = true
		if err := p.namespaces.SetPhase(ctx, name, naming.PhaseDeleting); err != nil && !errdefs.IsNotFound(err) {
			log.Error(err, "Failed to mark tenant as deleting")
		}
	case errdefs.IsNotFound(err):
	default:
		return nil, err
	}

	report, err := p.routes.DeleteTenantIngresses(ctx, name)
	result.Ingresses = report.Deleted()
	if err != nil {
		return result, err
	}

	if result.Existed {
		if err := p.namespaces.DeleteNamespace(ctx, name); err != nil {
			return result, err
		}
	}

	log.Info("Deleted tenant", "existed", result.Existed, "ingresses", result.Ingresses)
	return result, nil
}

// GetTenant returns the tenant's details, or a NotFoundError.
func (p *Provisioner) GetTenant(ctx context.Context, name string) (*Tenant, error) {
	name, err := naming.ValidateName(name, naming.KindTenant)
	if err != nil {
		return nil, err
	}

	ns, err := p.namespaces.GetTenantNamespace(ctx, name)
	if err != nil {
		return nil, err
	}

	tenant := &Tenant{
		TenantSummary: summarize(ns),
		Host:          p.routes.Host(name),
		URL:           p.routes.URL(name, false),
	}

	rq, err := p.namespaces.GetResourceQuota(ctx, name)
	switch {
	case err == nil:
		tenant.Quota = quotaOf(rq.Spec.Hard)
		estimate, err := p.estimator.EstimateQuotaCost(tenant.Quota.CPU, tenant.Quota.Memory)
		if err == nil {
			tenant.Cost = &estimate
		}
	case errdefs.IsNotFound(err):
	default:
		return nil, err
	}

	deployments, err := p.workloads.ListTenantDeployments(ctx, name)
	if err != nil {
		return nil, err
	}
	tenant.Deployments = deployments

	route, err := p.routes.ClientRoute(ctx, name)
	switch {
	case err == nil:
		tenant.URL = route.URL
	case errdefs.IsNotFound(err):
	default:
		return nil, err
	}
	return tenant, nil
}

// ListTenants returns every platform-managed tenant, sorted by name.
func (p *Provisioner) ListTenants(ctx context.Context) ([]TenantSummary, error) {
	namespaces, err := p.namespaces.ListTenantNamespaces(ctx, "")
	if err != nil {
		return nil, err
	}

	tenants := make([]TenantSummary, 0, len(namespaces))
	for i := range namespaces {
		tenants = append(tenants, summarize(&namespaces[i]))
	}
	slices.SortFunc(tenants, func(a, b TenantSummary) int { return strings.Compare(a.Name, b.Name) })
	return tenants, nil
}

// ListFailedTenants returns the tenants whose rollback did not finish,
// sorted by name.
func (p *Provisioner) ListFailedTenants(ctx context.Context) ([]TenantSummary, error) {
	namespaces, err := p.namespaces.ListTenantNamespaces(ctx, naming.PhaseFailed)
	if err != nil {
		return nil, err
	}
	tenants := make([]TenantSummary, 0, len(namespaces))
	for i := range namespaces {
		tenants = append(tenants, summarize(&namespaces[i]))
	}
	slices.SortFunc(tenants, func(a, b TenantSummary) int { return strings.Compare(a.Name, b.Name) })
	return tenants, nil
}

// RestartTenant restarts every deployment of the tenant concurrently. Partial
// failure is reported in the result rather than as an error.
func (p *Provisioner) RestartTenant(ctx context.Context, name string) (*RestartResult, error) {
	name, err := p.requireTenant(ctx, name)
	if err != nil {
		return nil, err
	}

	deployments, err := p.workloads.ListTenantDeployments(ctx, name)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(deployments))
	for _, d := range deployments {
		names = append(names, d.Name)
	}

	result := &RestartResult{Tenant: name, Restarted: []string{}}
	for _, o := range p.workloads.RestartAll(ctx, name, names) {
		if o.Succeeded() {
			result.Restarted = append(result.Restarted, o.Name)
			continue
		}
		if result.Failed == nil {
			result.Failed = map[string]string{}
		}
		result.Failed[o.Name] = o.Err.Error()
	}
	return result, nil
}

// ScaleTenant sets the replica count of one tenant component.
func (p *Provisioner) ScaleTenant(ctx context.Context, name, component string, replicas int32) error {
	if component != naming.ComponentServer && component != naming.ComponentClient {
		return &errdefs.ValidationError{
			Kind:   "component",
			Value:  component,
			Reason: fmt.Sprintf("must be %q or %q", naming.ComponentServer, naming.ComponentClient),
		}
	}
	if err := workload.ValidateReplicas(replicas); err != nil {
		return err
	}

	name, err := p.requireTenant(ctx, name)
	if err != nil {
		return err
	}
	deployment, err := naming.ResourceName(name, component, naming.KindDeployment)
	if err != nil {
		return err
	}
	return p.workloads.ScaleDeployment(ctx, name, deployment, replicas)
}

// UpdateQuota replaces the tenant's quota.
func (p *Provisioner) UpdateQuota(ctx context.Context, name string, quota namespace.Quota) (*QuotaResult, error) {
	if err := namespace.ValidateQuota(quota); err != nil {
		return nil, err
	}
	name, err := p.requireTenant(ctx, name)
	if err != nil {
		return nil, err
	}

	if _, err := p.namespaces.EnsureResourceQuota(ctx, name, quota); err != nil {
		return nil, err
	}

	result := &QuotaResult{Tenant: name, Quota: quota}
	if estimate, err := p.estimator.EstimateQuotaCost(quota.CPU, quota.Memory); err == nil {
		result.Cost = &estimate
	}
	logf.FromContext(ctx).Info("Replaced tenant quota", "tenant", name, "cpu", quota.CPU, "memory", quota.Memory)
	return result, nil
}

// AddDatabaseSecret creates the tenant's database credential secret and
// wires it into the server deployment. A secret that already exists is a
// ConflictError.
func (p *Provisioner) AddDatabaseSecret(ctx context.Context, name string, creds credentials.Credentials) (*DatabaseSecretResult, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	name, err := p.requireTenant(ctx, name)
	if err != nil {
		return nil, err
	}

	secretName, err := credentials.SecretName(name, credentials.RoleDatabase)
	if err != nil {
		return nil, err
	}
	if _, err := p.secrets.CreateCredentialSecret(ctx, name, secretName, creds); err != nil {
		return nil, err
	}

	keys := make([]string, 0)
	for k := range credentials.Keys(creds) {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	result := &DatabaseSecretResult{
		Tenant:     name,
		SecretName: secretName,
		Engine:     creds.Engine().String(),
		Keys:       keys,
	}

	server, err := naming.ResourceName(name, naming.ComponentServer, naming.KindDeployment)
	if err != nil {
		return nil, err
	}
	attached, err := p.workloads.AttachSecret(ctx, name, server, secretName)
	if err != nil {
		return result, err
	}
	if attached {
		result.AttachedTo = append(result.AttachedTo, server)
	}
	return result, nil
}

func (p *Provisioner) requireTenant(ctx context.Context, name string) (string, error) {
	name, err := naming.ValidateName(name, naming.KindTenant)
	if err != nil {
		return "", err
	}
	if _, err := p.namespaces.GetTenantNamespace(ctx, name); err != nil {
		return "", err
	}
	return name, nil
}

func summarize(ns *corev1.Namespace) TenantSummary {
	return TenantSummary{
		Name:      ns.Labels[naming.LabelTenant],
		Namespace: ns.Name,
		AppType:   ns.Labels[naming.LabelAppType],
		Phase:     naming.Phase(ns.Labels[naming.LabelPhase]),
		CreatedAt: ns.CreationTimestamp.Time,
	}
}

func quotaOf(hard corev1.ResourceList) namespace.Quota {
	str := func(name corev1.ResourceName) string {
		if q, ok := hard[name]; ok {
			return q.String()
		}
		return ""
	}
	return namespace.Quota{
		CPU:                    str(corev1.ResourceRequestsCPU),
		Memory:                 str(corev1.ResourceRequestsMemory),
		Pods:                   str(corev1.ResourcePods),
		PersistentVolumeClaims: str(corev1.ResourcePersistentVolumeClaims),
	}
}
