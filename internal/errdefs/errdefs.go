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

// Package errdefs defines the error taxonomy shared by the reconcilers, the
// routing manager and the provisioning orchestrator.
//
// Errors coming back from the cluster API are translated with FromAPI so that
// callers can branch on IsNotFound/IsConflict without importing apimachinery.
package errdefs

import (
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// ValidationError reports malformed caller input. It is always raised before
// any call reaches the cluster.
type ValidationError struct {
	Kind   string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Value, e.Reason)
}

// ConflictError reports that a resource already exists.
type ConflictError struct {
	Kind string
	Name string
	Err  error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %q already exists: %v", e.Kind, e.Name, e.Err)
	}
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// NotFoundError reports that a resource is absent.
type NotFoundError struct {
	Kind string
	Name string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ReadinessTimeoutError reports that a readiness gate expired. Callers treat it
// as a warning unless configured otherwise.
type ReadinessTimeoutError struct {
	Gate string
	Name string
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("%s %q did not become ready before the deadline", e.Gate, e.Name)
}

// FatalError is any other failure during or after namespace creation. The
// orchestrator rolls back when it sees one.
type FatalError struct {
	Step string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsConflict reports whether err is a ConflictError or an AlreadyExists status.
func IsConflict(err error) bool {
	var target *ConflictError
	if errors.As(err, &target) {
		return true
	}
	return apierrors.IsAlreadyExists(err)
}

// IsNotFound reports whether err is a NotFoundError or a NotFound status.
func IsNotFound(err error) bool {
	var target *NotFoundError
	if errors.As(err, &target) {
		return true
	}
	return apierrors.IsNotFound(err)
}

// IsReadinessTimeout reports whether err is a ReadinessTimeoutError.
func IsReadinessTimeout(err error) bool {
	var target *ReadinessTimeoutError
	return errors.As(err, &target)
}

// FromAPI translates an error returned by the cluster API into the taxonomy,
// adding resource-kind and name context. nil stays nil.
func FromAPI(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case apierrors.IsNotFound(err):
		return &NotFoundError{Kind: kind, Name: name, Err: err}
	case apierrors.IsAlreadyExists(err):
		return &ConflictError{Kind: kind, Name: name, Err: err}
	case apierrors.IsInvalid(err):
		return &ValidationError{Kind: kind, Value: name, Reason: err.Error()}
	default:
		return fmt.Errorf("%s %q: %w", kind, name, err)
	}
}
