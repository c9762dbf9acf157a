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

package ingress

import (
	"context"
	"fmt"
	"time"

	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/naming"
	"github.com/mikelane/tenantd/internal/readiness"
	"github.com/mikelane/tenantd/internal/traefik"
)

const (
	// APIPrefix is routed to the tenant's server and stripped before forwarding
	APIPrefix = "/api"

	// ExternalDNSHostnameAnnotation is the annotation key for external-dns hostname
	ExternalDNSHostnameAnnotation = "external-dns.alpha.kubernetes.io/hostname"

	// RouterEntrypointsAnnotation selects Traefik entry points for an Ingress
	RouterEntrypointsAnnotation = "traefik.ingress.kubernetes.io/router.entrypoints"

	// RouterTLSAnnotation enables TLS on the Traefik router for an Ingress
	RouterTLSAnnotation = "traefik.ingress.kubernetes.io/router.tls"

	entrypointWeb       = "web"
	entrypointWebSecure = "websecure"
	ruleKind            = "Rule"

	// API routes must win over the client's catch-all.
	apiRoutePriority = 100
)

// Config configures routing.
type Config struct {
	BaseDomain   string
	IngressClass string
}

// Target is a service backend.
type Target struct {
	ServiceName string
	Port        int32
}

// UnifiedOptions configures CreateUnifiedIngress.
type UnifiedOptions struct {
	// TLSSecretName enables TLS when set; the secret must exist in the tenant namespace
	TLSSecretName string
}

// Route describes where a tenant is reachable.
type Route struct {
	Name string `json:"name"`
	Host string `json:"host"`
	URL  string `json:"url"`
	// APIRoute is the IngressRoute serving /api, when a server is present
	APIRoute string `json:"apiRoute,omitempty"`
	// Address is the load balancer IP or hostname, once assigned
	Address string `json:"address,omitempty"`
}

// Readiness is the outcome of a bounded wait for address assignment.
type Readiness struct {
	Ready bool   `json:"ready"`
	IP    string `json:"ip,omitempty"`
	Host  string `json:"host"`
	URL   string `json:"url"`
}

// Manager handles ingress routing for tenants
type Manager struct {
	client client.Client
	cfg    Config
}

// NewManager creates a new ingress manager
func NewManager(c client.Client, cfg Config) *Manager {
	return &Manager{
		client: c,
		cfg:    cfg,
	}
}

// Host returns the tenant's hostname.
func (m *Manager) Host(tenant string) string {
	return fmt.Sprintf("%s.%s", tenant, m.cfg.BaseDomain)
}

// URL returns the tenant's public URL.
func (m *Manager) URL(tenant string, tls bool) string {
	if tls {
		return "https://" + m.Host(tenant)
	}
	return "http://" + m.Host(tenant)
}

// ClientIngressName returns the name of the tenant's client Ingress.
func ClientIngressName(tenant string) (string, error) {
	return naming.ResourceName(tenant, naming.ComponentClient, naming.KindIngress)
}

// CreateClientIngress routes the tenant host's "/" to the client service.
func (m *Manager) CreateClientIngress(ctx context.Context, tenant, serviceName string, port int32) (Route, error) {
	return m.ensureClientIngress(ctx, tenant, Target{ServiceName: serviceName, Port: port}, "")
}

// CreateUnifiedIngress exposes client and server on one host. With a server
// target, "/api" is routed to the server through a strip-prefix middleware by
// a separate IngressRoute, before the client's catch-all Ingress is written.
func (m *Manager) CreateUnifiedIngress(ctx context.Context, tenant string, clientTarget Target, serverTarget *Target, opts UnifiedOptions) (Route, error) {
	tenant, err := naming.ValidateName(tenant, naming.KindTenant)
	if err != nil {
		return Route{}, err
	}

	var apiRoute string
	if serverTarget != nil {
		apiRoute, err = m.ensureAPIRoute(ctx, tenant, *serverTarget, opts.TLSSecretName)
		if err != nil {
			return Route{}, err
		}
	}

	route, err := m.ensureClientIngress(ctx, tenant, clientTarget, opts.TLSSecretName)
	if err != nil {
		return Route{}, err
	}
	route.APIRoute = apiRoute
	return route, nil
}

func (m *Manager) ensureClientIngress(ctx context.Context, tenant string, target Target, tlsSecret string) (Route, error) {
	tenant, err := naming.ValidateName(tenant, naming.KindTenant)
	if err != nil {
		return Route{}, err
	}
	name, err := ClientIngressName(tenant)
	if err != nil {
		return Route{}, err
	}

	host := m.Host(tenant)
	ingress := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: tenant,
		},
	}

	_, err = controllerutil.CreateOrUpdate(ctx, m.client, ingress, func() error {
		ingress.Labels = naming.MergeLabels(ingress.Labels, naming.ComponentLabels(tenant, naming.ComponentClient))

		if ingress.Annotations == nil {
			ingress.Annotations = make(map[string]string)
		}
		ingress.Annotations[ExternalDNSHostnameAnnotation] = host
		if tlsSecret != "" {
			ingress.Annotations[RouterEntrypointsAnnotation] = entrypointWebSecure
			ingress.Annotations[RouterTLSAnnotation] = "true"
		} else {
			ingress.Annotations[RouterEntrypointsAnnotation] = entrypointWeb
			delete(ingress.Annotations, RouterTLSAnnotation)
		}

		ingress.Spec = networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: ptr.To(networkingv1.PathTypePrefix),
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: target.ServiceName,
									Port: networkingv1.ServiceBackendPort{Number: target.Port},
								},
							},
						}},
					},
				},
			}},
		}
		if m.cfg.IngressClass != "" {
			ingress.Spec.IngressClassName = ptr.To(m.cfg.IngressClass)
		}
		if tlsSecret != "" {
			ingress.Spec.TLS = []networkingv1.IngressTLS{{
				Hosts:      []string{host},
				SecretName: tlsSecret,
			}}
		}
		return nil
	})
	if err != nil {
		return Route{}, errdefs.FromAPI("ingress", tenant+"/"+name, err)
	}

	logf.FromContext(ctx).Info("Reconciled client ingress", "tenant", tenant, "name", name, "host", host)
	return Route{Name: name, Host: host, URL: m.URL(tenant, tlsSecret != "")}, nil
}

func (m *Manager) ensureAPIRoute(ctx context.Context, tenant string, target Target, tlsSecret string) (string, error) {
	middlewareName, err := naming.ResourceName(tenant, "strip-api", naming.KindIngress)
	if err != nil {
		return "", err
	}
	routeName, err := naming.ResourceName(tenant, "api", naming.KindIngress)
	if err != nil {
		return "", err
	}
	labels := naming.ComponentLabels(tenant, naming.ComponentServer)

	middleware := &traefik.Middleware{
		ObjectMeta: metav1.ObjectMeta{Name: middlewareName, Namespace: tenant},
	}
	_, err = controllerutil.CreateOrUpdate(ctx, m.client, middleware, func() error {
		middleware.Labels = naming.MergeLabels(middleware.Labels, labels)
		middleware.Spec = traefik.MiddlewareSpec{
			StripPrefix: &traefik.StripPrefix{Prefixes: []string{APIPrefix}},
		}
		return nil
	})
	if err != nil {
		return "", errdefs.FromAPI("middleware", tenant+"/"+middlewareName, err)
	}

	route := &traefik.IngressRoute{
		ObjectMeta: metav1.ObjectMeta{Name: routeName, Namespace: tenant},
	}
	_, err = controllerutil.CreateOrUpdate(ctx, m.client, route, func() error {
		route.Labels = naming.MergeLabels(route.Labels, labels)
		route.Spec = traefik.IngressRouteSpec{
			EntryPoints: []string{entrypointWeb},
			Routes: []traefik.Route{{
				Match:    APIMatch(m.Host(tenant)),
				Kind:     ruleKind,
				Priority: apiRoutePriority,
				Services: []traefik.Service{{
					Name: target.ServiceName,
					Port: intstr.FromInt32(target.Port),
				}},
				Middlewares: []traefik.MiddlewareRef{{Name: middlewareName}},
			}},
		}
		if tlsSecret != "" {
			route.Spec.EntryPoints = []string{entrypointWebSecure}
			route.Spec.TLS = &traefik.TLS{SecretName: tlsSecret}
		}
		return nil
	})
	if err != nil {
		return "", errdefs.FromAPI("ingress route", tenant+"/"+routeName, err)
	}

	logf.FromContext(ctx).Info("Reconciled API route", "tenant", tenant, "name", routeName, "middleware", middlewareName)
	return routeName, nil
}

// ClientRoute reads back the tenant's client Ingress.
func (m *Manager) ClientRoute(ctx context.Context, tenant string) (Route, error) {
	name, err := ClientIngressName(tenant)
	if err != nil {
		return Route{}, err
	}

	ingress := &networkingv1.Ingress{}
	if err := m.client.Get(ctx, types.NamespacedName{Namespace: tenant, Name: name}, ingress); err != nil {
		return Route{}, errdefs.FromAPI("ingress", tenant+"/"+name, err)
	}
	return Route{
		Name:    name,
		Host:    m.Host(tenant),
		URL:     m.URL(tenant, len(ingress.Spec.TLS) > 0),
		Address: addressOf(ingress),
	}, nil
}

func addressOf(ingress *networkingv1.Ingress) string {
	for _, lb := range ingress.Status.LoadBalancer.Ingress {
		switch {
		case lb.IP != "":
			return lb.IP
		case lb.Hostname != "":
			return lb.Hostname
		}
	}
	return ""
}

// APIMatch returns the Traefik rule selecting API traffic for host.
func APIMatch(host string) string {
	return fmt.Sprintf("Host(`%s`) && PathPrefix(`%s`)", host, APIPrefix)
}

// WaitForIngressReady polls the Ingress until the load balancer reports an
// address. Expiry yields a not-ready result, not an error; the host is still
// returned because DNS-only exposure may work.
func (m *Manager) WaitForIngressReady(ctx context.Context, tenant, name string, timeout, interval time.Duration) (Readiness, error) {
	result := Readiness{
		Host: m.Host(tenant),
		URL:  m.URL(tenant, false),
	}

	key := types.NamespacedName{Namespace: tenant, Name: name}
	ready, err := readiness.Poll(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		ingress := &networkingv1.Ingress{}
		if err := m.client.Get(ctx, key, ingress); err != nil {
			if apierrors.IsNotFound(err) {
				return false, nil
			}
			return false, errdefs.FromAPI("ingress", key.String(), err)
		}
		if len(ingress.Spec.TLS) > 0 {
			result.URL = m.URL(tenant, true)
		}
		result.IP = addressOf(ingress)
		return result.IP != "", nil
	})
	if err != nil {
		return result, err
	}

	result.Ready = ready
	return result, nil
}

// IngressClassAvailable reports whether the configured IngressClass exists.
// No configured class means the cluster default is used and is always
// available.
func (m *Manager) IngressClassAvailable(ctx context.Context) (bool, error) {
	if m.cfg.IngressClass == "" {
		return true, nil
	}

	class := &networkingv1.IngressClass{}
	if err := m.client.Get(ctx, types.NamespacedName{Name: m.cfg.IngressClass}, class); err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, errdefs.FromAPI("ingress class", m.cfg.IngressClass, err)
	}
	return true, nil
}
