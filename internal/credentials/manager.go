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

package credentials

import (
	"context"
	"maps"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/naming"
)

const (
	// RoleDatabase is the credential role of the tenant's primary data store
	RoleDatabase = "db"

	// RoleSharedDatabase holds credentials resolved from a shared key
	RoleSharedDatabase = "shared-db"

	// ComponentDatabase labels credential secrets
	ComponentDatabase = "database"

	// EngineAnnotation records the detected engine on the secret
	EngineAnnotation = "tenantd.io/database-engine"
)

// SecretName returns the secret name for a tenant credential role.
func SecretName(tenant, role string) (string, error) {
	return naming.ResourceName(tenant, role+"-credentials", naming.KindSecret)
}

// Manager writes credential secrets into tenant namespaces
type Manager struct {
	client client.Client
}

// NewManager creates a new credentials manager
func NewManager(c client.Client) *Manager {
	return &Manager{client: c}
}

func (m *Manager) buildSecret(namespace, name string, creds Credentials) (*corev1.Secret, error) {
	name, err := naming.ValidateName(name, naming.KindSecret)
	if err != nil {
		return nil, err
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:        name,
			Namespace:   namespace,
			Labels:      naming.ComponentLabels(namespace, ComponentDatabase),
			Annotations: map[string]string{EngineAnnotation: creds.Engine().String()},
		},
		Type: corev1.SecretTypeOpaque,
		Data: toData(Keys(creds)),
	}, nil
}

// MaterializeCredentialSecret creates or replaces the credential secret.
func (m *Manager) MaterializeCredentialSecret(ctx context.Context, namespace, name string, creds Credentials) (*corev1.Secret, error) {
	desired, err := m.buildSecret(namespace, name, creds)
	if err != nil {
		return nil, err
	}

	secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: desired.Name, Namespace: namespace}}
	_, err = controllerutil.CreateOrUpdate(ctx, m.client, secret, func() error {
		secret.Labels = naming.MergeLabels(secret.Labels, desired.Labels)
		secret.Annotations = naming.MergeLabels(secret.Annotations, desired.Annotations)
		secret.Type = desired.Type
		secret.Data = desired.Data
		return nil
	})
	if err != nil {
		return nil, errdefs.FromAPI("secret", namespace+"/"+desired.Name, err)
	}

	logf.FromContext(ctx).Info("Materialized credential secret",
		"namespace", namespace, "name", desired.Name, "engine", creds.Engine().String())
	return secret, nil
}

// CreateCredentialSecret creates the credential secret and fails with a
// ConflictError when one already exists.
func (m *Manager) CreateCredentialSecret(ctx context.Context, namespace, name string, creds Credentials) (*corev1.Secret, error) {
	secret, err := m.buildSecret(namespace, name, creds)
	if err != nil {
		return nil, err
	}
	if err := m.client.Create(ctx, secret); err != nil {
		return nil, errdefs.FromAPI("secret", namespace+"/"+secret.Name, err)
	}
	return secret, nil
}

// DeleteSecret deletes a secret. A missing secret is a success.
func (m *Manager) DeleteSecret(ctx context.Context, namespace, name string) error {
	secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace}}
	if err := m.client.Delete(ctx, secret); err != nil && !apierrors.IsNotFound(err) {
		return errdefs.FromAPI("secret", namespace+"/"+name, err)
	}
	return nil
}

func toData(values map[string]string) map[string][]byte {
	data := make(map[string][]byte, len(values))
	for k, v := range maps.All(values) {
		data[k] = []byte(v)
	}
	return data
}
