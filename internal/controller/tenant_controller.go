/*
Copyright (c) 2025 Mike Lane

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package controller

import (
	"context"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/mikelane/tenantd/internal/cost"
	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/ingress"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/naming"
	"github.com/mikelane/tenantd/internal/workload"
)

// DefaultRequeueAfter is how often a degraded tenant is re-checked when no
// watched object changes.
const DefaultRequeueAfter = 5 * time.Minute

// TenantReconciler keeps the phase and cost annotation of tenant namespaces
// current. A Degraded tenant is promoted to Ready once every deployment is
// available and the client Ingress has an address.
type TenantReconciler struct {
	client.Client
	Scheme        *runtime.Scheme
	CostEstimator *cost.Estimator
	Ingress       ingress.Config
	RequeueAfter  time.Duration
}

// +kubebuilder:rbac:groups="",resources=namespaces,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=resourcequotas,verbs=get;list;watch;create;update;patch
// +kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;create;update;patch
// +kubebuilder:rbac:groups=networking.k8s.io,resources=ingresses,verbs=get;list;watch;create;update;patch;delete

// Reconcile is part of the main kubernetes reconciliation loop which aims to
// move the current state of the cluster closer to the desired state.
func (r *TenantReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	var ns corev1.Namespace
	if err := r.Get(ctx, req.NamespacedName, &ns); err != nil {
		// Resource not found, return without error
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}

	if !isManaged(&ns) || !ns.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, nil
	}

	tenant := ns.Labels[naming.LabelTenant]
	if tenant == "" {
		tenant = ns.Name
	}
	log := logf.FromContext(ctx).WithValues("tenant", tenant)
	ctx = logf.IntoContext(ctx, log)

	// Provisioning belongs to the creation workflow and Failed to the janitor.
	phase := naming.Phase(ns.Labels[naming.LabelPhase])
	if phase != naming.PhaseReady && phase != naming.PhaseDegraded {
		return ctrl.Result{}, nil
	}

	if err := r.annotateCost(ctx, &ns); err != nil {
		log.Error(err, "Failed to update cost estimate")
		return ctrl.Result{}, err
	}

	if phase == naming.PhaseReady {
		return ctrl.Result{}, nil
	}

	ready, reason, err := r.tenantReady(ctx, tenant)
	if err != nil {
		return ctrl.Result{}, err
	}
	if !ready {
		log.V(1).Info("Tenant still degraded", "reason", reason)
		return ctrl.Result{RequeueAfter: r.requeueAfter()}, nil
	}

	if err := namespace.NewManager(r.Client, namespace.NetworkOptions{}).SetPhase(ctx, ns.Name, naming.PhaseReady); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}
	log.Info("Tenant recovered", "phase", naming.PhaseReady)
	return ctrl.Result{}, nil
}

func (r *TenantReconciler) tenantReady(ctx context.Context, tenant string) (bool, string, error) {
	deployments, err := workload.NewManager(r.Client).ListTenantDeployments(ctx, tenant)
	if err != nil {
		return false, "", err
	}
	if len(deployments) == 0 {
		return false, "no deployments", nil
	}
	for _, d := range deployments {
		if d.AvailableReplicas < d.Replicas {
			return false, "deployment " + d.Name + " unavailable", nil
		}
	}

	route, err := ingress.NewManager(r.Client, r.Ingress).ClientRoute(ctx, tenant)
	switch {
	case errdefs.IsNotFound(err):
		return false, "no client ingress", nil
	case err != nil:
		return false, "", err
	case route.Address == "":
		return false, "ingress has no address", nil
	}
	return true, "", nil
}

// annotateCost records the quota's monthly cost estimate on the namespace.
func (r *TenantReconciler) annotateCost(ctx context.Context, ns *corev1.Namespace) error {
	// Initialize cost estimator if not already done
	if r.CostEstimator == nil {
		r.CostEstimator = cost.NewEstimator(nil)
	}

	rq, err := namespace.NewManager(r.Client, namespace.NetworkOptions{}).GetResourceQuota(ctx, ns.Name)
	if errdefs.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	cpu := rq.Spec.Hard[corev1.ResourceRequestsCPU]
	memory := rq.Spec.Hard[corev1.ResourceRequestsMemory]
	estimate, err := r.CostEstimator.EstimateQuotaCost(cpu.String(), memory.String())
	if err != nil {
		return err
	}

	if ns.Annotations[naming.AnnotationMonthlyCost] == estimate.MonthlyCost {
		return nil
	}

	patch := client.MergeFrom(ns.DeepCopy())
	ns.Annotations = naming.MergeLabels(ns.Annotations, map[string]string{
		naming.AnnotationMonthlyCost: estimate.MonthlyCost,
	})
	if err := r.Patch(ctx, ns, patch); err != nil {
		return err
	}

	logf.FromContext(ctx).Info("Updated cost estimate",
		"hourlyCost", estimate.HourlyCost,
		"monthlyCost", estimate.MonthlyCost)
	return nil
}

func (r *TenantReconciler) requeueAfter() time.Duration {
	if r.RequeueAfter > 0 {
		return r.RequeueAfter
	}
	return DefaultRequeueAfter
}

// SetupWithManager sets up the controller with the Manager.
func (r *TenantReconciler) SetupWithManager(mgr ctrl.Manager) error {
	managed := builder.WithPredicates(predicate.NewPredicateFuncs(isManaged))
	toTenant := handler.EnqueueRequestsFromMapFunc(tenantRequest)

	return ctrl.NewControllerManagedBy(mgr).
		For(&corev1.Namespace{}, managed).
		Watches(&appsv1.Deployment{}, toTenant, managed).
		Watches(&networkingv1.Ingress{}, toTenant, managed).
		Named("tenant").
		Complete(r)
}

func isManaged(obj client.Object) bool {
	return obj.GetLabels()[naming.LabelManagedBy] == naming.ManagedBy
}

// tenantRequest maps an object inside a tenant namespace to that namespace.
func tenantRequest(_ context.Context, obj client.Object) []reconcile.Request {
	if obj.GetNamespace() == "" {
		return nil
	}
	return []reconcile.Request{{NamespacedName: types.NamespacedName{Name: obj.GetNamespace()}}}
}
