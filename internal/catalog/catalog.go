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

// Package catalog loads the application types tenants can be provisioned
// with and resolves their image tags.
package catalog

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"

	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/github"
	"github.com/mikelane/tenantd/internal/naming"
)

const (
	// LatestRelease as a tag resolves to the newest GitHub release of the app type's repository
	LatestRelease = "latest-release"

	// DefaultTag is used when a component names no tag
	DefaultTag = "latest"

	// DefaultServerPort and DefaultClientPort apply when a component names no port
	DefaultServerPort int32 = 8080
	DefaultClientPort int32 = 3000
)

// Component describes one deployable half of an application.
type Component struct {
	Image     string                      `json:"image"`
	Tag       string                      `json:"tag,omitempty"`
	Port      int32                       `json:"port,omitempty"`
	Replicas  *int32                      `json:"replicas,omitempty"`
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`
	Env       map[string]string           `json:"env,omitempty"`
}

// ImageRef returns image:tag.
func (c Component) ImageRef() string {
	tag := c.Tag
	if tag == "" {
		tag = DefaultTag
	}
	return c.Image + ":" + tag
}

// ReplicaCount returns the configured replicas, defaulting to one.
func (c Component) ReplicaCount() int32 {
	if c.Replicas == nil {
		return 1
	}
	return *c.Replicas
}

// Repository locates the GitHub repository releases are read from.
type Repository struct {
	Owner string `json:"owner"`
	Repo  string `json:"repo"`
}

// AppType is one catalog entry.
type AppType struct {
	Name        string `json:"-"`
	Description string `json:"description,omitempty"`
	// Server is optional; without it the tenant only gets a client
	Server *Component `json:"server,omitempty"`
	Client Component  `json:"client"`
	// CredentialKey names a shared, pre-provisioned credential used when the
	// caller supplies no database of its own
	CredentialKey string      `json:"credentialKey,omitempty"`
	GitHub        *Repository `json:"github,omitempty"`
}

type file struct {
	AppTypes map[string]AppType `json:"appTypes"`
}

// Catalog is the set of known application types.
type Catalog struct {
	types    map[string]AppType
	releases github.Client
}

// New builds a catalog. releases may be nil when no entry uses LatestRelease.
func New(types map[string]AppType, releases github.Client) (*Catalog, error) {
	c := &Catalog{types: make(map[string]AppType, len(types)), releases: releases}
	for name, t := range types {
		canonical, err := naming.ValidateName(name, naming.KindAppType)
		if err != nil {
			return nil, err
		}
		t.Name = canonical
		if err := t.validate(releases != nil); err != nil {
			return nil, err
		}
		c.types[canonical] = t
	}
	return c, nil
}

// Parse builds a catalog from YAML.
func Parse(data []byte, releases github.Client) (*Catalog, error) {
	var f file
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return New(f.AppTypes, releases)
}

// Load reads and parses a catalog file.
func Load(path string, releases github.Client) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data, releases)
}

func (t AppType) validate(haveReleases bool) error {
	invalid := func(reason string) error {
		return &errdefs.ValidationError{Kind: string(naming.KindAppType), Value: t.Name, Reason: reason}
	}

	components := []*Component{&t.Client}
	if t.Server != nil {
		components = append(components, t.Server)
	}
	for _, c := range components {
		if c.Image == "" {
			return invalid("every component needs an image")
		}
		if c.Tag == LatestRelease {
			if t.GitHub == nil {
				return invalid("tag latest-release requires a github repository")
			}
			if !haveReleases {
				return invalid("tag latest-release requires a GitHub client")
			}
		}
	}
	return nil
}

// Names returns the sorted application type names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Lookup returns the application type with defaults applied and every
// latest-release tag resolved. An unknown type is a validation error.
func (c *Catalog) Lookup(ctx context.Context, name string) (AppType, error) {
	t, ok := c.types[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return AppType{}, &errdefs.ValidationError{
			Kind:   string(naming.KindAppType),
			Value:  name,
			Reason: "unknown application type; known types: " + strings.Join(c.Names(), ", "),
		}
	}

	t.Client = withDefaults(t.Client, DefaultClientPort)
	if t.Server != nil {
		server := withDefaults(*t.Server, DefaultServerPort)
		t.Server = &server
	}

	var latest string
	resolve := func(comp *Component) error {
		if comp.Tag != LatestRelease {
			return nil
		}
		if latest == "" {
			release, err := c.releases.LatestRelease(ctx, t.GitHub.Owner, t.GitHub.Repo)
			if err != nil {
				return fmt.Errorf("failed to resolve latest release for %s: %w", t.Name, err)
			}
			latest = release.TagName
		}
		comp.Tag = latest
		return nil
	}

	if err := resolve(&t.Client); err != nil {
		return AppType{}, err
	}
	if t.Server != nil {
		if err := resolve(t.Server); err != nil {
			return AppType{}, err
		}
	}
	return t, nil
}

func withDefaults(c Component, port int32) Component {
	if c.Port == 0 {
		c.Port = port
	}
	if c.Tag == "" {
		c.Tag = DefaultTag
	}
	c.Env = maps.Clone(c.Env)
	return c
}
