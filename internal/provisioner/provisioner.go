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
	"sync"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/mikelane/tenantd/internal/catalog"
	"github.com/mikelane/tenantd/internal/certs"
	"github.com/mikelane/tenantd/internal/cost"
	"github.com/mikelane/tenantd/internal/credentials"
	"github.com/mikelane/tenantd/internal/ingress"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/workload"
)

// Catalog resolves application types.
type Catalog interface {
	Lookup(ctx context.Context, name string) (catalog.AppType, error)
}

// TLSConfig configures the wildcard certificate.
type TLSConfig struct {
	Enabled       bool
	ClusterIssuer string
	SecretName    string
}

// Config configures the provisioner.
type Config struct {
	BaseDomain        string
	IngressClass      string
	PlatformNamespace string
	Network           namespace.NetworkOptions
	TLS               TLSConfig

	// SecretTimeout bounds the wait for the wildcard TLS secret
	SecretTimeout time.Duration
	// DeploymentTimeout bounds the wait for replicas to become available
	DeploymentTimeout time.Duration
	// IngressTimeout bounds the wait for a load balancer address
	IngressTimeout time.Duration
	// PollInterval is the sleep between readiness checks
	PollInterval time.Duration

	// FailOnReadinessTimeout turns an expired deployment readiness gate into a
	// fatal error that rolls the tenant back
	FailOnReadinessTimeout bool

	// RestrictedSecurityContext runs tenant containers as non-root without
	// privilege escalation
	RestrictedSecurityContext bool

	Pricing *cost.Config
}

// DefaultConfig returns the readiness timeouts used when none are configured.
func DefaultConfig() Config {
	return Config{
		PlatformNamespace: "tenantd-system",
		SecretTimeout:     60 * time.Second,
		DeploymentTimeout: 5 * time.Minute,
		IngressTimeout:    2 * time.Minute,
		PollInterval:      5 * time.Second,
	}
}

// Provisioner sequences the reconcilers into tenant workflows. It is the only
// component that decides whether a failure rolls a tenant back.
type Provisioner struct {
	cfg Config

	namespaces  *namespace.Manager
	workloads   *workload.Manager
	secrets     *credentials.Manager
	certs       *certs.Manager
	routes      *ingress.Manager
	catalog     Catalog
	credentials credentials.Source
	estimator   *cost.Estimator

	guard *guard
	now   func() time.Time
}

// New wires a provisioner around one cluster client. creds may be nil when no
// application type uses a shared credential key.
func New(c client.Client, apps Catalog, creds credentials.Source, cfg Config) *Provisioner {
	defaults := DefaultConfig()
	if cfg.SecretTimeout <= 0 {
		cfg.SecretTimeout = defaults.SecretTimeout
	}
	if cfg.DeploymentTimeout <= 0 {
		cfg.DeploymentTimeout = defaults.DeploymentTimeout
	}
	if cfg.IngressTimeout <= 0 {
		cfg.IngressTimeout = defaults.IngressTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.PlatformNamespace == "" {
		cfg.PlatformNamespace = defaults.PlatformNamespace
	}

	return &Provisioner{
		cfg:        cfg,
		namespaces: namespace.NewManager(c, cfg.Network),
		workloads:  workload.NewManager(c),
		secrets:    credentials.NewManager(c),
		certs: certs.NewManager(c, certs.Config{
			BaseDomain:        cfg.BaseDomain,
			PlatformNamespace: cfg.PlatformNamespace,
			ClusterIssuer:     cfg.TLS.ClusterIssuer,
			SecretName:        cfg.TLS.SecretName,
		}),
		routes: ingress.NewManager(c, ingress.Config{
			BaseDomain:   cfg.BaseDomain,
			IngressClass: cfg.IngressClass,
		}),
		catalog:     apps,
		credentials: creds,
		estimator:   cost.NewEstimator(cfg.Pricing),
		guard:       &guard{active: map[string]struct{}{}},
		now:         time.Now,
	}
}

// guard admits one in-process workflow per tenant name.
type guard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func (g *guard) acquire(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[name]; busy {
		return false
	}
	g.active[name] = struct{}{}
	return true
}

func (g *guard) release(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, name)
}
