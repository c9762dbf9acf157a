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

// Package certs maintains the platform's wildcard TLS certificate and copies
// its secret into tenant namespaces.
//
// The certificate is a cert-manager Certificate for "*.<baseDomain>" living in
// the platform namespace. Ingress objects can only reference secrets in their
// own namespace, so each tenant receives a copy of the issued secret.
package certs

import (
	"context"
	"fmt"
	"time"

	certmanagerv1 "github.com/cert-manager/cert-manager/pkg/apis/certmanager/v1"
	cmmeta "github.com/cert-manager/cert-manager/pkg/apis/meta/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/naming"
	"github.com/mikelane/tenantd/internal/readiness"
)

const (
	// CertificateName is the name of the wildcard Certificate
	CertificateName = "tenantd-wildcard"

	// DefaultSecretName is the default name of the issued TLS secret
	DefaultSecretName = "tenantd-wildcard-tls"

	clusterIssuerKind = "ClusterIssuer"
	copiedFromLabel   = "tenantd.io/copied-from"
)

// Config configures the wildcard certificate.
type Config struct {
	BaseDomain        string
	PlatformNamespace string
	ClusterIssuer     string
	SecretName        string
}

// Manager maintains the wildcard certificate
type Manager struct {
	client client.Client
	cfg    Config
}

// NewManager creates a new certificate manager
func NewManager(c client.Client, cfg Config) *Manager {
	if cfg.SecretName == "" {
		cfg.SecretName = DefaultSecretName
	}
	return &Manager{client: c, cfg: cfg}
}

// SecretName returns the name of the TLS secret, which is the same in the
// platform namespace and in every tenant namespace.
func (m *Manager) SecretName() string {
	return m.cfg.SecretName
}

// EnsureWildcardCertificate creates or updates the Certificate for
// "*.<baseDomain>" in the platform namespace.
func (m *Manager) EnsureWildcardCertificate(ctx context.Context) (*certmanagerv1.Certificate, error) {
	if m.cfg.ClusterIssuer == "" {
		return nil, &errdefs.ValidationError{Kind: "cluster issuer", Reason: "must be configured for TLS"}
	}

	cert := &certmanagerv1.Certificate{
		ObjectMeta: metav1.ObjectMeta{
			Name:      CertificateName,
			Namespace: m.cfg.PlatformNamespace,
		},
	}

	op, err := controllerutil.CreateOrUpdate(ctx, m.client, cert, func() error {
		cert.Labels = naming.MergeLabels(cert.Labels, map[string]string{naming.LabelManagedBy: naming.ManagedBy})
		cert.Spec.SecretName = m.cfg.SecretName
		cert.Spec.CommonName = "*." + m.cfg.BaseDomain
		cert.Spec.DNSNames = []string{"*." + m.cfg.BaseDomain, m.cfg.BaseDomain}
		cert.Spec.IssuerRef = cmmeta.ObjectReference{
			Name:  m.cfg.ClusterIssuer,
			Kind:  clusterIssuerKind,
			Group: certmanagerv1.SchemeGroupVersion.Group,
		}
		return nil
	})
	if err != nil {
		return nil, errdefs.FromAPI("certificate", m.cfg.PlatformNamespace+"/"+CertificateName, err)
	}

	logf.FromContext(ctx).V(1).Info("Reconciled wildcard certificate", "operation", op, "secret", m.cfg.SecretName)
	return cert, nil
}

// CertificateReady reports whether cert-manager marked the certificate Ready.
func (m *Manager) CertificateReady(ctx context.Context) (bool, error) {
	cert := &certmanagerv1.Certificate{}
	key := types.NamespacedName{Namespace: m.cfg.PlatformNamespace, Name: CertificateName}
	if err := m.client.Get(ctx, key, cert); err != nil {
		if apierrors.IsNotFound(err) {
			return false, nil
		}
		return false, errdefs.FromAPI("certificate", key.String(), err)
	}

	for _, cond := range cert.Status.Conditions {
		if cond.Type == certmanagerv1.CertificateConditionReady {
			return cond.Status == cmmeta.ConditionTrue, nil
		}
	}
	return false, nil
}

// WaitForSecret waits until the issued TLS secret exists and holds a
// certificate. Expiry yields false, not an error.
func (m *Manager) WaitForSecret(ctx context.Context, timeout, interval time.Duration) (bool, error) {
	key := types.NamespacedName{Namespace: m.cfg.PlatformNamespace, Name: m.cfg.SecretName}

	return readiness.Poll(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		secret := &corev1.Secret{}
		if err := m.client.Get(ctx, key, secret); err != nil {
			if apierrors.IsNotFound(err) {
				return false, nil
			}
			return false, errdefs.FromAPI("secret", key.String(), err)
		}
		return len(secret.Data[corev1.TLSCertKey]) > 0, nil
	})
}

// CopySecret copies the TLS secret into the tenant namespace, replacing any
// previous copy, and returns the secret name to reference from ingresses.
func (m *Manager) CopySecret(ctx context.Context, targetNamespace string) (string, error) {
	source := &corev1.Secret{}
	key := types.NamespacedName{Namespace: m.cfg.PlatformNamespace, Name: m.cfg.SecretName}
	if err := m.client.Get(ctx, key, source); err != nil {
		return "", errdefs.FromAPI("secret", key.String(), err)
	}

	target := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      m.cfg.SecretName,
			Namespace: targetNamespace,
		},
	}
	_, err := controllerutil.CreateOrUpdate(ctx, m.client, target, func() error {
		target.Labels = naming.MergeLabels(target.Labels, naming.TenantLabels(targetNamespace))
		target.Labels[copiedFromLabel] = m.cfg.PlatformNamespace
		target.Type = source.Type
		target.Data = source.Data
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to copy TLS secret into %s: %w", targetNamespace, err)
	}

	return m.cfg.SecretName, nil
}
