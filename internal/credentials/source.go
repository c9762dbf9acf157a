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
	"errors"
	"fmt"
	"os"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"

	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/naming"
)

// Source resolves a shared credential key to connection information.
// Resolve returns a NotFoundError for keys the source does not know.
type Source interface {
	Resolve(ctx context.Context, key string) (Credentials, error)
}

// Has reports whether src can resolve key.
func Has(ctx context.Context, src Source, key string) (bool, error) {
	_, err := src.Resolve(ctx, key)
	switch {
	case err == nil:
		return true, nil
	case errdefs.IsNotFound(err):
		return false, nil
	default:
		return false, err
	}
}

// Data keys read from a shared credential Secret.
const (
	SecretKeyConnectionString = "connection-string"
	SecretKeyUsername         = "username"
	SecretKeyPassword         = "password"
	SecretKeyDatabase         = "database"
)

// SecretStore resolves keys to Secrets of the same name in the platform
// namespace.
type SecretStore struct {
	client    client.Reader
	namespace string
}

// NewSecretStore creates a SecretStore reading from namespace.
func NewSecretStore(c client.Reader, namespace string) *SecretStore {
	return &SecretStore{client: c, namespace: namespace}
}

// Resolve implements Source.
func (s *SecretStore) Resolve(ctx context.Context, key string) (Credentials, error) {
	name, err := naming.ValidateName(key, naming.KindCredentialKey)
	if err != nil {
		return Credentials{}, err
	}

	secret := &corev1.Secret{}
	if err := s.client.Get(ctx, types.NamespacedName{Namespace: s.namespace, Name: name}, secret); err != nil {
		return Credentials{}, errdefs.FromAPI("credential key", name, err)
	}

	creds := Credentials{
		ConnectionString: string(secret.Data[SecretKeyConnectionString]),
		Username:         string(secret.Data[SecretKeyUsername]),
		Password:         string(secret.Data[SecretKeyPassword]),
		DatabaseName:     string(secret.Data[SecretKeyDatabase]),
	}
	if creds.ConnectionString == "" {
		return Credentials{}, &errdefs.NotFoundError{Kind: "credential key", Name: name}
	}
	return creds, nil
}

// Static resolves keys from a fixed map.
type Static map[string]Credentials

// Resolve implements Source.
func (s Static) Resolve(_ context.Context, key string) (Credentials, error) {
	creds, ok := s[key]
	if !ok {
		return Credentials{}, &errdefs.NotFoundError{Kind: "credential key", Name: key}
	}
	return creds, nil
}

// LoadStatic reads a YAML or JSON map of credential key to credentials.
// Every key must be a valid credential key and every entry must validate.
func LoadStatic(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %s: %w", path, err)
	}

	var raw map[string]Credentials
	if err := yaml.UnmarshalStrict(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}

	static := make(Static, len(raw))
	for key, creds := range raw {
		name, err := naming.ValidateName(key, naming.KindCredentialKey)
		if err != nil {
			return nil, err
		}
		if err := creds.Validate(); err != nil {
			return nil, fmt.Errorf("credential key %s: %w", name, err)
		}
		static[name] = creds
	}
	return static, nil
}

// Chain tries each source in order and returns the first resolution. A
// source that does not know the key is skipped; any other error stops the
// chain.
type Chain []Source

// Resolve implements Source.
func (c Chain) Resolve(ctx context.Context, key string) (Credentials, error) {
	for _, src := range c {
		creds, err := src.Resolve(ctx, key)
		if err == nil {
			return creds, nil
		}
		if !errdefs.IsNotFound(err) {
			return Credentials{}, err
		}
	}
	return Credentials{}, &errdefs.NotFoundError{Kind: "credential key", Name: key, Err: errors.New("no source resolved the key")}
}
