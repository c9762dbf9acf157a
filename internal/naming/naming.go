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

// Package naming normalizes and validates every tenant-supplied identifier
// against cluster naming constraints, and owns the label set that marks
// platform-managed resources.
package naming

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mikelane/tenantd/internal/errdefs"
)

// Kind names the resource an identifier is destined for. It only affects
// error messages; the rules are the same for every kind.
type Kind string

const (
	KindTenant        Kind = "tenant"
	KindNamespace     Kind = "namespace"
	KindSecret        Kind = "secret"
	KindDeployment    Kind = "deployment"
	KindService       Kind = "service"
	KindIngress       Kind = "ingress"
	KindCredentialKey Kind = "credential key"
	KindAppType       Kind = "application type"
)

// MaxNameLength is the DNS-1123 label limit.
const MaxNameLength = 63

var dns1123Label = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidateName canonicalizes raw (trim + lowercase) and checks it is a valid
// DNS-1123 label. It has no side effects and is idempotent on valid input.
func ValidateName(raw string, kind Kind) (string, error) {
	name := strings.ToLower(strings.TrimSpace(raw))

	switch {
	case name == "":
		return "", invalid(kind, raw, "must not be empty")
	case len(name) > MaxNameLength:
		return "", invalid(kind, raw, fmt.Sprintf("must be at most %d characters", MaxNameLength))
	case !dns1123Label.MatchString(name):
		return "", invalid(kind, raw,
			"must consist of lowercase alphanumerics or '-', and start and end with an alphanumeric")
	}

	return name, nil
}

// ResourceName derives "<tenant>-<suffix>" and validates the result, so a
// tenant name close to the length limit cannot produce an invalid child name.
func ResourceName(tenant, suffix string, kind Kind) (string, error) {
	return ValidateName(tenant+"-"+suffix, kind)
}

func invalid(kind Kind, value, reason string) error {
	return &errdefs.ValidationError{Kind: string(kind), Value: value, Reason: reason}
}
