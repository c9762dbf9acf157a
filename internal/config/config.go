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

// Package config loads tenantd's settings.
//
// Values come from three layers, later ones winning: .env files loaded with
// godotenv ($ENV_FILE first, then ./.env, never overriding the process
// environment), TENANTD_* environment variables, and command-line flags
// registered by BindFlags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mikelane/tenantd/internal/api"
	"github.com/mikelane/tenantd/internal/cost"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/provisioner"
)

const envPrefix = "TENANTD_"

// TLSConfig selects the wildcard certificate setup.
type TLSConfig struct {
	Enabled       bool
	ClusterIssuer string
	SecretName    string
}

// APIConfig configures the HTTP request boundary.
type APIConfig struct {
	Addr          string
	SigningSecret string
	RateLimit     int
	RateWindow    time.Duration
}

// Config is the complete tenantd configuration.
type Config struct {
	BaseDomain        string
	IngressClass      string
	IngressNamespace  string
	PlatformNamespace string
	TLS               TLSConfig
	API               APIConfig

	CatalogPath     string
	CredentialsFile string
	GitHubToken     string
	GitHubAPIURL    string

	SecretTimeout             time.Duration
	DeploymentTimeout         time.Duration
	IngressTimeout            time.Duration
	PollInterval              time.Duration
	FailOnReadinessTimeout    bool
	RestrictedSecurityContext bool
	DatabaseEgressPorts       []int32

	JanitorInterval   time.Duration
	JanitorGrace      time.Duration
	ReconcileInterval time.Duration

	Pricing cost.Config

	MetricsAddr    string
	ProbeAddr      string
	LeaderElection bool
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	defaults := provisioner.DefaultConfig()
	return &Config{
		IngressClass:      "traefik",
		IngressNamespace:  "traefik",
		PlatformNamespace: defaults.PlatformNamespace,
		TLS: TLSConfig{
			ClusterIssuer: "letsencrypt-prod",
			SecretName:    "tenantd-wildcard-tls",
		},
		API: APIConfig{
			Addr:       ":8082",
			RateLimit:  10,
			RateWindow: time.Second,
		},
		CatalogPath:         "/etc/tenantd/catalog.yaml",
		SecretTimeout:       defaults.SecretTimeout,
		DeploymentTimeout:   defaults.DeploymentTimeout,
		IngressTimeout:      defaults.IngressTimeout,
		PollInterval:        defaults.PollInterval,
		DatabaseEgressPorts: []int32{5432, 27017, 3306},
		JanitorInterval:     5 * time.Minute,
		JanitorGrace:        15 * time.Minute,
		ReconcileInterval:   5 * time.Minute,
		Pricing:             *cost.DefaultConfig(),
		MetricsAddr:         ":8080",
		ProbeAddr:           ":8081",
	}
}

// Load reads .env files and the TENANTD_* environment on top of Default.
// Values that fail to parse are reported together.
func Load() (*Config, error) {
	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	// A missing ./.env is normal outside local development
	_ = godotenv.Load()

	l := &loader{lookup: os.LookupEnv}
	cfg := Default()
	l.apply(cfg)
	if err := errors.Join(l.errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

type loader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (l *loader) apply(c *Config) {
	l.str("BASE_DOMAIN", &c.BaseDomain)
	l.str("INGRESS_CLASS", &c.IngressClass)
	l.str("INGRESS_NAMESPACE", &c.IngressNamespace)
	l.str("PLATFORM_NAMESPACE", &c.PlatformNamespace)

	l.boolean("TLS_ENABLED", &c.TLS.Enabled)
	l.str("TLS_CLUSTER_ISSUER", &c.TLS.ClusterIssuer)
	l.str("TLS_SECRET_NAME", &c.TLS.SecretName)

	l.str("API_ADDR", &c.API.Addr)
	l.str("API_SIGNING_SECRET", &c.API.SigningSecret)
	l.integer("API_RATE_LIMIT", &c.API.RateLimit)
	l.duration("API_RATE_WINDOW", &c.API.RateWindow)

	l.str("CATALOG_PATH", &c.CatalogPath)
	l.str("CREDENTIALS_FILE", &c.CredentialsFile)
	l.str("GITHUB_TOKEN", &c.GitHubToken)
	l.str("GITHUB_API_URL", &c.GitHubAPIURL)

	l.duration("SECRET_TIMEOUT", &c.SecretTimeout)
	l.duration("DEPLOYMENT_TIMEOUT", &c.DeploymentTimeout)
	l.duration("INGRESS_TIMEOUT", &c.IngressTimeout)
	l.duration("POLL_INTERVAL", &c.PollInterval)
	l.boolean("FAIL_ON_READINESS_TIMEOUT", &c.FailOnReadinessTimeout)
	l.boolean("RESTRICTED_SECURITY_CONTEXT", &c.RestrictedSecurityContext)
	l.ports("DATABASE_EGRESS_PORTS", &c.DatabaseEgressPorts)

	l.duration("JANITOR_INTERVAL", &c.JanitorInterval)
	l.duration("JANITOR_GRACE", &c.JanitorGrace)
	l.duration("RECONCILE_INTERVAL", &c.ReconcileInterval)

	l.str("PRICING_CURRENCY", &c.Pricing.Currency)
	l.float("PRICING_CPU_PER_HOUR", &c.Pricing.CPUCostPerHour)
	l.float("PRICING_MEMORY_GB_PER_HOUR", &c.Pricing.MemoryCostPerHour)
	l.float("PRICING_SPOT_DISCOUNT", &c.Pricing.SpotDiscount)
	l.boolean("PRICING_USE_SPOT", &c.Pricing.UseSpot)

	l.str("METRICS_ADDR", &c.MetricsAddr)
	l.str("PROBE_ADDR", &c.ProbeAddr)
	l.boolean("LEADER_ELECTION", &c.LeaderElection)
}

func (l *loader) get(key string) (string, bool) {
	v, ok := l.lookup(envPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (l *loader) fail(key string, err error) {
	l.errs = append(l.errs, fmt.Errorf("invalid %s%s: %w", envPrefix, key, err))
}

func (l *loader) str(key string, dst *string) {
	if v, ok := l.get(key); ok {
		*dst = v
	}
}

func (l *loader) boolean(key string, dst *bool) {
	v, ok := l.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.fail(key, err)
		return
	}
	*dst = b
}

func (l *loader) integer(key string, dst *int) {
	v, ok := l.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(key, err)
		return
	}
	*dst = n
}

func (l *loader) float(key string, dst *float64) {
	v, ok := l.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.fail(key, err)
		return
	}
	*dst = f
}

func (l *loader) duration(key string, dst *time.Duration) {
	v, ok := l.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(key, err)
		return
	}
	*dst = d
}

func (l *loader) ports(key string, dst *[]int32) {
	v, ok := l.get(key)
	if !ok {
		return
	}
	ports, err := parsePorts(v)
	if err != nil {
		l.fail(key, err)
		return
	}
	*dst = ports
}

func parsePorts(raw string) ([]int32, error) {
	var ports []int32
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		n, err := strconv.ParseInt(field, 10, 32)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("port %q out of range", field)
		}
		ports = append(ports, int32(n))
	}
	return ports, nil
}

// BindFlags registers a flag for every commonly overridden setting, using the
// current values as defaults, so parsing the flag set overrides the
// environment.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.BaseDomain, "base-domain", c.BaseDomain, "Domain tenant hosts are created under.")
	fs.StringVar(&c.IngressClass, "ingress-class", c.IngressClass, "IngressClass used for tenant ingresses.")
	fs.StringVar(&c.IngressNamespace, "ingress-namespace", c.IngressNamespace,
		"Namespace of the ingress controller allowed to reach tenant pods.")
	fs.StringVar(&c.PlatformNamespace, "platform-namespace", c.PlatformNamespace,
		"Namespace holding shared credentials and the wildcard certificate.")
	fs.BoolVar(&c.TLS.Enabled, "tls", c.TLS.Enabled, "Issue a wildcard certificate and serve tenants over HTTPS.")
	fs.StringVar(&c.TLS.ClusterIssuer, "tls-cluster-issuer", c.TLS.ClusterIssuer, "cert-manager ClusterIssuer for the wildcard certificate.")
	fs.StringVar(&c.API.Addr, "api-bind-address", c.API.Addr, "The address the tenant API binds to.")
	fs.StringVar(&c.CatalogPath, "catalog", c.CatalogPath, "Path to the application type catalog.")
	fs.StringVar(&c.CredentialsFile, "credentials-file", c.CredentialsFile,
		"Optional YAML file of shared credentials, consulted before platform Secrets.")
	fs.DurationVar(&c.DeploymentTimeout, "deployment-timeout", c.DeploymentTimeout, "How long to wait for deployments to become available.")
	fs.DurationVar(&c.IngressTimeout, "ingress-timeout", c.IngressTimeout, "How long to wait for an ingress address.")
	fs.BoolVar(&c.FailOnReadinessTimeout, "fail-on-readiness-timeout", c.FailOnReadinessTimeout,
		"Roll back tenants whose deployments do not become available in time.")
	fs.DurationVar(&c.JanitorInterval, "janitor-interval", c.JanitorInterval, "How often failed tenants are cleaned up.")
	fs.StringVar(&c.MetricsAddr, "metrics-bind-address", c.MetricsAddr, "The address the metrics endpoint binds to. Use 0 to disable.")
	fs.StringVar(&c.ProbeAddr, "health-probe-bind-address", c.ProbeAddr, "The address the probe endpoint binds to.")
	fs.BoolVar(&c.LeaderElection, "leader-elect", c.LeaderElection,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active janitor and reconciler.")
}

// Validate rejects configurations tenantd cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.BaseDomain) == "" {
		errs = append(errs, errors.New("base domain is required"))
	}
	if c.PlatformNamespace == "" {
		errs = append(errs, errors.New("platform namespace is required"))
	}
	if c.TLS.Enabled && c.TLS.ClusterIssuer == "" {
		errs = append(errs, errors.New("TLS requires a cluster issuer"))
	}

	for name, d := range map[string]time.Duration{
		"secret timeout":     c.SecretTimeout,
		"deployment timeout": c.DeploymentTimeout,
		"ingress timeout":    c.IngressTimeout,
		"poll interval":      c.PollInterval,
		"janitor interval":   c.JanitorInterval,
		"reconcile interval": c.ReconcileInterval,
		"api rate window":    c.API.RateWindow,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.JanitorGrace < 0 {
		errs = append(errs, fmt.Errorf("janitor grace must not be negative, got %s", c.JanitorGrace))
	}
	if c.API.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("api rate limit must be positive, got %d", c.API.RateLimit))
	}

	if err := validateAddr(c.API.Addr); err != nil {
		errs = append(errs, fmt.Errorf("api address: %w", err))
	}
	if c.Pricing.CPUCostPerHour < 0 || c.Pricing.MemoryCostPerHour < 0 {
		errs = append(errs, errors.New("pricing must not be negative"))
	}
	if c.Pricing.SpotDiscount < 0 || c.Pricing.SpotDiscount >= 1 {
		errs = append(errs, fmt.Errorf("spot discount must be in [0, 1), got %v", c.Pricing.SpotDiscount))
	}

	return errors.Join(errs...)
}

func validateAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

// Provisioner returns the orchestrator settings.
func (c *Config) Provisioner() provisioner.Config {
	pricing := c.Pricing
	return provisioner.Config{
		BaseDomain:        c.BaseDomain,
		IngressClass:      c.IngressClass,
		PlatformNamespace: c.PlatformNamespace,
		Network: namespace.NetworkOptions{
			IngressControllerNamespace: c.IngressNamespace,
			DatabaseEgressPorts:        c.DatabaseEgressPorts,
		},
		TLS: provisioner.TLSConfig{
			Enabled:       c.TLS.Enabled,
			ClusterIssuer: c.TLS.ClusterIssuer,
			SecretName:    c.TLS.SecretName,
		},
		SecretTimeout:             c.SecretTimeout,
		DeploymentTimeout:         c.DeploymentTimeout,
		IngressTimeout:            c.IngressTimeout,
		PollInterval:              c.PollInterval,
		FailOnReadinessTimeout:    c.FailOnReadinessTimeout,
		RestrictedSecurityContext: c.RestrictedSecurityContext,
		Pricing:                   &pricing,
	}
}

// APIOptions returns the HTTP server settings.
func (c *Config) APIOptions() api.Options {
	return api.Options{
		Addr:          c.API.Addr,
		SigningSecret: c.API.SigningSecret,
		RateLimit:     c.API.RateLimit,
		RateWindow:    c.API.RateWindow,
	}
}
