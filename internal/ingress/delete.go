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
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/tenantd/internal/naming"
	"github.com/mikelane/tenantd/internal/traefik"
)

// DeleteOutcome is the result of deleting one routing object.
type DeleteOutcome struct {
	Kind      string `json:"kind"`
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Error     string `json:"error,omitempty"`
}

// DeleteReport collects every per-object outcome of DeleteTenantIngresses.
type DeleteReport struct {
	Outcomes []DeleteOutcome `json:"outcomes"`
}

// Deleted counts successful deletions.
func (r DeleteReport) Deleted() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Error == "" {
			n++
		}
	}
	return n
}

// Failed counts failed deletions.
func (r DeleteReport) Failed() int {
	return len(r.Outcomes) - r.Deleted()
}

// DeleteTenantIngresses deletes every Ingress, IngressRoute and Middleware
// labeled with the tenant. Deletions run concurrently and all are attempted;
// the returned error joins the individual failures. Zero matches is a success.
func (m *Manager) DeleteTenantIngresses(ctx context.Context, tenant string) (DeleteReport, error) {
	log := logf.FromContext(ctx).WithValues("tenant", tenant)

	var objs []client.Object
	selector := naming.TenantSelector(tenant)

	var ingresses networkingv1.IngressList
	if err := m.list(ctx, &ingresses, selector); err != nil {
		return DeleteReport{}, fmt.Errorf("failed to list ingresses for tenant %s: %w", tenant, err)
	}
	for i := range ingresses.Items {
		objs = append(objs, &ingresses.Items[i])
	}

	var routes traefik.IngressRouteList
	if err := m.list(ctx, &routes, selector); err != nil {
		return DeleteReport{}, fmt.Errorf("failed to list ingress routes for tenant %s: %w", tenant, err)
	}
	for i := range routes.Items {
		objs = append(objs, &routes.Items[i])
	}

	var middlewares traefik.MiddlewareList
	if err := m.list(ctx, &middlewares, selector); err != nil {
		return DeleteReport{}, fmt.Errorf("failed to list middlewares for tenant %s: %w", tenant, err)
	}
	for i := range middlewares.Items {
		objs = append(objs, &middlewares.Items[i])
	}

	report := DeleteReport{Outcomes: make([]DeleteOutcome, len(objs))}
	errs := make([]error, len(objs))

	var g errgroup.Group
	for i, obj := range objs {
		g.Go(func() error {
			kind := kindOf(obj)
			report.Outcomes[i] = DeleteOutcome{Kind: kind, Namespace: obj.GetNamespace(), Name: obj.GetName()}
			if err := m.client.Delete(ctx, obj); err != nil && !apierrors.IsNotFound(err) {
				errs[i] = fmt.Errorf("failed to delete %s %s/%s: %w", kind, obj.GetNamespace(), obj.GetName(), err)
				report.Outcomes[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("Deleted tenant routing objects", "deleted", report.Deleted(), "failed", report.Failed())
	return report, errors.Join(errs...)
}

// list treats a routing CRD that is not installed as an empty list.
func (m *Manager) list(ctx context.Context, list client.ObjectList, selector client.MatchingLabels) error {
	err := m.client.List(ctx, list, selector)
	if err != nil && (meta.IsNoMatchError(err) || runtime.IsNotRegisteredError(err)) {
		return nil
	}
	return err
}

func kindOf(obj client.Object) string {
	switch obj.(type) {
	case *networkingv1.Ingress:
		return "Ingress"
	case *traefik.IngressRoute:
		return "IngressRoute"
	case *traefik.Middleware:
		return "Middleware"
	default:
		return fmt.Sprintf("%T", obj)
	}
}
