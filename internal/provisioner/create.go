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
	"maps"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/utils/ptr"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/tenantd/internal/catalog"
	"github.com/mikelane/tenantd/internal/credentials"
	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/ingress"
	"github.com/mikelane/tenantd/internal/metrics"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/naming"
	"github.com/mikelane/tenantd/internal/workload"
)

// Environment variables injected into every server deployment.
const (
	EnvJWTSecret     = "JWT_SECRET"
	EnvSessionSecret = "SESSION_SECRET"
	EnvTenant        = "TENANT_NAME"
	EnvPublicURL     = "PUBLIC_URL"
	EnvAPIURL        = "API_URL"

	generatedSecretBytes = 32
)

// attempt is the in-memory record of one creation workflow. It only lives for
// the duration of CreateTenant.
type attempt struct {
	p      *Provisioner
	req    CreateRequest
	name   string
	log    logr.Logger
	result *Result

	app           catalog.AppType
	credentialKey string
	tlsSecret     string
	components    []componentPlan

	// armed is set once the namespace may exist; any later fatal error
	// rolls the tenant back
	armed bool
}

type componentPlan struct {
	spec    workload.DeploymentSpec
	service string
}

// stepFunc runs one step. A nil error with StatusWarning records a warning
// and continues; a non-nil error is fatal.
type stepFunc func(ctx context.Context) (StepStatus, string, error)

// CreateTenant runs the creation workflow. It runs to completion or rollback
// even if ctx is cancelled; only its values are used.
//
// The returned Result is never nil. On a fatal error after the namespace was
// created, Result.RolledBack is true and Result.RollbackSucceeded tells whether
// the cleanup finished.
func (p *Provisioner) CreateTenant(ctx context.Context, req CreateRequest) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	started := p.now()

	a := &attempt{
		p:   p,
		req: req,
		log: logf.FromContext(ctx),
		result: &Result{
			Tenant: TenantSummary{Name: req.Name, AppType: req.AppType, Quota: req.Quota},
		},
	}

	// Names are validated before anything else so an invalid request never
	// reaches the cluster, not even for the pre-check reads.
	name, err := naming.ValidateName(req.Name, naming.KindTenant)
	if err != nil {
		a.record(StepPrecheck, StatusFailed, err.Error(), 0)
		return a.fail(ctx, StepPrecheck, err)
	}
	a.name = name
	a.log = a.log.WithValues("tenant", name)
	ctx = logf.IntoContext(ctx, a.log)
	a.result.Tenant.Name = name
	a.result.Tenant.Namespace = name

	if !p.guard.acquire(name) {
		err := &errdefs.ConflictError{Kind: "tenant", Name: name, Err: errors.New("provisioning already in progress")}
		a.record(StepPrecheck, StatusFailed, err.Error(), 0)
		return a.fail(ctx, StepPrecheck, err)
	}
	defer p.guard.release(name)

	a.log.Info("Provisioning tenant", "appType", req.AppType)

	workflow := []struct {
		step Step
		fn   stepFunc
	}{
		{StepPrecheck, a.precheck},
		{StepTLSReady, a.ensureTLS},
		{StepNamespaceCreated, a.createNamespace},
		{StepNetworkPolicySet, a.setNetworkPolicy},
		{StepDatabaseConfigured, a.configureDatabase},
		{StepAppDeployed, a.deployApp},
		{StepDeploymentReady, a.waitForDeployments},
		{StepIngressCreated, a.createIngress},
		{StepIngressReady, a.waitForIngress},
		{StepComplete, a.complete},
	}

	for _, w := range workflow {
		if err := a.run(ctx, w.step, w.fn); err != nil {
			return a.fail(ctx, w.step, err)
		}
	}

	outcome := metrics.ResultSuccess
	if a.result.Degraded() {
		outcome = metrics.ResultDegraded
	}
	metrics.RecordProvisioning(outcome)
	a.log.Info("Provisioned tenant", "phase", a.result.Tenant.Phase,
		"warnings", len(a.result.Warnings), "duration", p.now().Sub(started))

	return a.result, nil
}

func (a *attempt) run(ctx context.Context, step Step, fn stepFunc) error {
	start := a.p.now()
	log := a.log.WithValues("step", step)

	status, message, err := fn(logf.IntoContext(ctx, log))
	elapsed := a.p.now().Sub(start)
	metrics.ObserveStep(string(step), elapsed)

	if err != nil {
		a.record(step, StatusFailed, err.Error(), elapsed)
		log.Error(err, "Provisioning step failed")
		return err
	}

	a.record(step, status, message, elapsed)
	if status == StatusWarning {
		a.result.Warnings = append(a.result.Warnings, fmt.Sprintf("%s: %s", step, message))
		log.Info("Provisioning step finished with a warning", "warning", message)
	} else {
		log.V(1).Info("Provisioning step finished", "status", status)
	}
	return nil
}

func (a *attempt) record(step Step, status StepStatus, message string, elapsed time.Duration) {
	a.result.Steps = append(a.result.Steps, StepRecord{
		Step:     step,
		Status:   status,
		Message:  message,
		Duration: elapsed,
	})
}

// fail finishes a workflow that hit a fatal error. Once the namespace may
// exist the tenant is rolled back before the error is returned; a rollback
// failure is reported alongside, never in place of, the original error.
func (a *attempt) fail(ctx context.Context, step Step, err error) (*Result, error) {
	a.result.FailedStep = step
	a.result.Error = err.Error()
	metrics.RecordProvisioning(metrics.ResultFailure)

	if !a.armed {
		return a.result, err
	}

	fatal := &errdefs.FatalError{Step: string(step), Err: err}
	rollbackErr := a.p.rollback(ctx, a.name)
	metrics.RecordRollback(rollbackErr)

	a.result.RolledBack = true
	a.result.RollbackSucceeded = rollbackErr == nil
	if rollbackErr != nil {
		a.result.RollbackError = rollbackErr.Error()
		a.log.Error(rollbackErr, "Rollback failed; tenant needs cleanup", "failedStep", step)
	} else {
		a.log.Info("Rolled back tenant", "failedStep", step)
	}
	return a.result, fatal
}

// precheck validates everything that can be validated without creating
// anything. Its failures never need a rollback.
func (a *attempt) precheck(ctx context.Context) (StepStatus, string, error) {
	p := a.p

	if err := namespace.ValidateQuota(a.req.Quota); err != nil {
		return StatusFailed, "", err
	}
	estimate, err := p.estimator.EstimateQuotaCost(a.req.Quota.CPU, a.req.Quota.Memory)
	if err != nil {
		return StatusFailed, "", err
	}
	a.result.Cost = &estimate

	if a.req.Database != nil {
		if err := a.req.Database.Validate(); err != nil {
			return StatusFailed, "", err
		}
	}

	exists, err := p.namespaces.Exists(ctx, a.name)
	if err != nil {
		return StatusFailed, "", err
	}
	if exists {
		return StatusFailed, "", &errdefs.ConflictError{Kind: "tenant", Name: a.name}
	}

	app, err := p.catalog.Lookup(ctx, a.req.AppType)
	if err != nil {
		return StatusFailed, "", err
	}
	a.app = app
	a.result.Tenant.AppType = app.Name

	for _, c := range a.appComponents() {
		if err := workload.ValidateReplicas(c.ReplicaCount()); err != nil {
			return StatusFailed, "", err
		}
	}

	if a.req.Database == nil {
		key := a.req.CredentialKey
		if key == "" {
			key = app.CredentialKey
		}
		if key != "" {
			if key, err = naming.ValidateName(key, naming.KindCredentialKey); err != nil {
				return StatusFailed, "", err
			}
			if err := a.checkCredentialKey(ctx, key); err != nil {
				return StatusFailed, "", err
			}
			a.credentialKey = key
		}
	}

	available, err := p.routes.IngressClassAvailable(ctx)
	if err != nil {
		return StatusFailed, "", err
	}
	if !available {
		return StatusFailed, "", &errdefs.ValidationError{
			Kind:   "ingress class",
			Value:  p.cfg.IngressClass,
			Reason: "not available in the cluster",
		}
	}

	return StatusSucceeded, "", nil
}

func (a *attempt) checkCredentialKey(ctx context.Context, key string) error {
	unknown := &errdefs.ValidationError{
		Kind:   string(naming.KindCredentialKey),
		Value:  key,
		Reason: "no configured credential source resolves this key",
	}
	if a.p.credentials == nil {
		return unknown
	}
	ok, err := credentials.Has(ctx, a.p.credentials, key)
	if err != nil {
		return fmt.Errorf("failed to check credential key %s: %w", key, err)
	}
	if !ok {
		return unknown
	}
	return nil
}

// ensureTLS never fails the workflow: without a certificate the tenant is
// served over plain HTTP.
func (a *attempt) ensureTLS(ctx context.Context) (StepStatus, string, error) {
	p := a.p
	if !p.cfg.TLS.Enabled {
		return StatusSkipped, "TLS disabled", nil
	}

	if _, err := p.certs.EnsureWildcardCertificate(ctx); err != nil {
		return StatusWarning, fmt.Sprintf("continuing without TLS: %v", err), nil
	}

	ready, err := p.certs.WaitForSecret(ctx, p.cfg.SecretTimeout, p.cfg.PollInterval)
	switch {
	case err != nil:
		return StatusWarning, fmt.Sprintf("continuing without TLS: %v", err), nil
	case !ready:
		metrics.RecordReadinessWarning("tls")
		timeout := &errdefs.ReadinessTimeoutError{Gate: "tls secret", Name: p.certs.SecretName()}
		return StatusWarning, "continuing without TLS: " + timeout.Error(), nil
	}

	// A present secret is served even while cert-manager is renewing it
	if issued, err := p.certs.CertificateReady(ctx); err == nil && !issued {
		logf.FromContext(ctx).Info("Wildcard certificate is not Ready, using the existing secret",
			"secret", p.certs.SecretName())
	}

	a.tlsSecret = p.certs.SecretName()
	return StatusSucceeded, "", nil
}

func (a *attempt) createNamespace(ctx context.Context) (StepStatus, string, error) {
	a.armed = true

	ns, err := a.p.namespaces.EnsureNamespace(ctx, a.name, a.req.Quota, a.app.Name)
	if err != nil {
		return StatusFailed, "", err
	}
	a.result.Tenant.CreatedAt = ns.CreationTimestamp.Time
	a.result.Tenant.Phase = naming.PhaseProvisioning
	return StatusSucceeded, "", nil
}

func (a *attempt) setNetworkPolicy(ctx context.Context) (StepStatus, string, error) {
	if err := a.p.namespaces.EnsureNetworkPolicies(ctx, a.name); err != nil {
		return StatusFailed, "", err
	}
	return StatusSucceeded, "", nil
}

// configureDatabase materializes the tenant's database credentials as a secret
// in its namespace, from the request or from the app type's shared key. The
// server deployment reads them through envFrom.
func (a *attempt) configureDatabase(ctx context.Context) (StepStatus, string, error) {
	db := &a.result.Database

	switch {
	case a.req.Database != nil:
		secretName, err := credentials.SecretName(a.name, credentials.RoleDatabase)
		if err != nil {
			return StatusFailed, "", err
		}
		if _, err := a.p.secrets.MaterializeCredentialSecret(ctx, a.name, secretName, *a.req.Database); err != nil {
			return StatusFailed, "", err
		}
		*db = DatabaseSummary{
			Configured: true,
			Source:     DatabaseSourceTenant,
			Engine:     a.req.Database.Engine().String(),
			SecretName: secretName,
		}
		return StatusSucceeded, "", nil

	case a.credentialKey != "":
		creds, err := a.p.credentials.Resolve(ctx, a.credentialKey)
		if err != nil {
			return StatusFailed, "", fmt.Errorf("failed to resolve credential key %s: %w", a.credentialKey, err)
		}
		// Shared values live in a tenant Secret so they never appear in the
		// Deployment spec
		secretName, err := credentials.SecretName(a.name, credentials.RoleSharedDatabase)
		if err != nil {
			return StatusFailed, "", err
		}
		if _, err := a.p.secrets.MaterializeCredentialSecret(ctx, a.name, secretName, creds); err != nil {
			return StatusFailed, "", err
		}
		*db = DatabaseSummary{
			Configured:    true,
			Source:        DatabaseSourceShared,
			CredentialKey: a.credentialKey,
			Engine:        creds.Engine().String(),
			SecretName:    secretName,
		}
		return StatusSucceeded, "", nil

	default:
		*db = DatabaseSummary{Source: DatabaseSourceNone}
		return StatusSkipped, "no database requested", nil
	}
}

func (a *attempt) appComponents() map[string]catalog.Component {
	components := map[string]catalog.Component{naming.ComponentClient: a.app.Client}
	if a.app.Server != nil {
		components[naming.ComponentServer] = *a.app.Server
	}
	return components
}

// deployApp writes the server (when the app type has one) and then the
// client. The server gets freshly generated JWT and session secrets as
// literal environment, separate from the database credential secret.
func (a *attempt) deployApp(ctx context.Context) (StepStatus, string, error) {
	p := a.p
	url := p.routes.URL(a.name, a.tlsSecret != "")

	if a.app.Server != nil {
		env := maps.Clone(a.app.Server.Env)
		if env == nil {
			env = map[string]string{}
		}
		env[EnvTenant] = a.name
		env[EnvPublicURL] = url

		for _, key := range []string{EnvJWTSecret, EnvSessionSecret} {
			secret, err := credentials.GenerateSecret(generatedSecretBytes)
			if err != nil {
				return StatusFailed, "", err
			}
			env[key] = secret
		}

		plan, err := a.plan(naming.ComponentServer, *a.app.Server, env)
		if err != nil {
			return StatusFailed, "", err
		}
		a.components = append(a.components, plan)
	}

	clientEnv := maps.Clone(a.app.Client.Env)
	if clientEnv == nil {
		clientEnv = map[string]string{}
	}
	clientEnv[EnvTenant] = a.name
	clientEnv[EnvPublicURL] = url
	if a.app.Server != nil {
		clientEnv[EnvAPIURL] = url + ingress.APIPrefix
	}
	plan, err := a.plan(naming.ComponentClient, a.app.Client, clientEnv)
	if err != nil {
		return StatusFailed, "", err
	}
	a.components = append(a.components, plan)

	for _, c := range a.components {
		if _, err := p.workloads.EnsureDeployment(ctx, c.spec); err != nil {
			return StatusFailed, "", err
		}
		if _, err := p.workloads.EnsureService(ctx, a.name, c.service, a.name, c.spec.Component, c.spec.Port); err != nil {
			return StatusFailed, "", err
		}
		a.result.Deployment.Components = append(a.result.Deployment.Components, ComponentSummary{
			Component: c.spec.Component,
			Name:      c.spec.Name,
			Image:     c.spec.Image,
			Service:   c.service,
			Port:      c.spec.Port,
		})
	}

	a.result.Deployment.Deployed = true
	return StatusSucceeded, "", nil
}

func (a *attempt) plan(component string, c catalog.Component, env map[string]string) (componentPlan, error) {
	name, err := naming.ResourceName(a.name, component, naming.KindDeployment)
	if err != nil {
		return componentPlan{}, err
	}

	spec := workload.DeploymentSpec{
		Namespace: a.name,
		Name:      name,
		Tenant:    a.name,
		Component: component,
		Image:     c.ImageRef(),
		Port:      c.Port,
		Replicas:  c.ReplicaCount(),
		Env:       env,
		Resources: c.Resources,
	}
	if component == naming.ComponentServer {
		spec.SecretRef = a.result.Database.SecretName
	}
	if a.p.cfg.RestrictedSecurityContext {
		spec.SecurityContext = restrictedSecurityContext()
	}
	return componentPlan{spec: spec, service: name}, nil
}

func restrictedSecurityContext() *corev1.SecurityContext {
	return &corev1.SecurityContext{
		RunAsNonRoot:             ptr.To(true),
		AllowPrivilegeEscalation: ptr.To(false),
		Capabilities:             &corev1.Capabilities{Drop: []corev1.Capability{"ALL"}},
		SeccompProfile:           &corev1.SeccompProfile{Type: corev1.SeccompProfileTypeRuntimeDefault},
	}
}

// waitForDeployments waits on every deployment at once. An expired gate is a
// warning unless FailOnReadinessTimeout is set; any other error is fatal.
func (a *attempt) waitForDeployments(ctx context.Context) (StepStatus, string, error) {
	p := a.p
	results := make([]workload.Readiness, len(a.components))
	errs := make([]error, len(a.components))

	var g errgroup.Group
	for i, c := range a.components {
		g.Go(func() error {
			results[i], errs[i] = p.workloads.WaitForDeploymentReady(ctx, a.name, c.spec.Name,
				p.cfg.DeploymentTimeout, p.cfg.PollInterval)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return StatusFailed, "", err
	}

	var timeouts []error
	for i, c := range a.components {
		a.result.Deployment.Components[i].Readiness = results[i]
		if !results[i].Ready {
			timeouts = append(timeouts, &errdefs.ReadinessTimeoutError{Gate: "deployment", Name: c.spec.Name})
		}
	}
	if len(timeouts) == 0 {
		a.result.Deployment.Ready = true
		return StatusSucceeded, "", nil
	}

	timeout := errors.Join(timeouts...)
	if p.cfg.FailOnReadinessTimeout {
		return StatusFailed, "", timeout
	}
	metrics.RecordReadinessWarning("deployment")
	return StatusWarning, timeout.Error(), nil
}

func (a *attempt) createIngress(ctx context.Context) (StepStatus, string, error) {
	p := a.p
	status, message := StatusSucceeded, ""

	var tlsSecret string
	if a.tlsSecret != "" {
		copied, err := p.certs.CopySecret(ctx, a.name)
		if err != nil {
			status, message = StatusWarning, fmt.Sprintf("serving over HTTP, TLS secret copy failed: %v", err)
		} else {
			tlsSecret = copied
		}
	}

	var clientTarget ingress.Target
	var serverTarget *ingress.Target
	for _, c := range a.components {
		target := ingress.Target{ServiceName: c.service, Port: c.spec.Port}
		if c.spec.Component == naming.ComponentServer {
			serverTarget = &target
		} else {
			clientTarget = target
		}
	}

	route, err := p.routes.CreateUnifiedIngress(ctx, a.name, clientTarget, serverTarget,
		ingress.UnifiedOptions{TLSSecretName: tlsSecret})
	if err != nil {
		return StatusFailed, "", err
	}

	a.result.Ingress = IngressSummary{
		Created:  true,
		Name:     route.Name,
		APIRoute: route.APIRoute,
		Host:     route.Host,
		URL:      route.URL,
		TLS:      tlsSecret != "",
	}
	return status, message, nil
}

// waitForIngress never fails on expiry: DNS-only exposure may still work.
func (a *attempt) waitForIngress(ctx context.Context) (StepStatus, string, error) {
	p := a.p
	ready, err := p.routes.WaitForIngressReady(ctx, a.name, a.result.Ingress.Name,
		p.cfg.IngressTimeout, p.cfg.PollInterval)
	if err != nil {
		return StatusFailed, "", err
	}

	a.result.Ingress.Ready = ready.Ready
	a.result.Ingress.Address = ready.IP
	if !ready.Ready {
		metrics.RecordReadinessWarning("ingress")
		timeout := &errdefs.ReadinessTimeoutError{Gate: "ingress", Name: a.result.Ingress.Name}
		return StatusWarning, timeout.Error(), nil
	}
	return StatusSucceeded, "", nil
}

func (a *attempt) complete(ctx context.Context) (StepStatus, string, error) {
	phase := naming.PhaseReady
	if a.result.Degraded() {
		phase = naming.PhaseDegraded
	}

	if err := a.p.namespaces.SetPhase(ctx, a.name, phase); err != nil {
		return StatusWarning, fmt.Sprintf("failed to record phase %s: %v", phase, err), nil
	}
	a.result.Tenant.Phase = phase
	return StatusSucceeded, "", nil
}
