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

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	"github.com/mikelane/tenantd/internal/ingress"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/naming"
)

const tenantName = "demo-a"

func tenantNamespace(name string, phase naming.Phase) *corev1.Namespace {
	labels := naming.TenantLabels(name)
	labels[naming.LabelPhase] = string(phase)
	return &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels}}
}

func tenantQuota(name string) *corev1.ResourceQuota {
	return &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{Name: namespace.QuotaName, Namespace: name, Labels: naming.TenantLabels(name)},
		Spec: corev1.ResourceQuotaSpec{Hard: corev1.ResourceList{
			corev1.ResourceRequestsCPU:    resource.MustParse("2"),
			corev1.ResourceRequestsMemory: resource.MustParse("4Gi"),
		}},
	}
}

func tenantDeployment(name string, available int32) *appsv1.Deployment {
	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name + "-client",
			Namespace: name,
			Labels:    naming.ComponentLabels(name, naming.ComponentClient),
		},
		Spec:   appsv1.DeploymentSpec{Replicas: ptr.To[int32](1)},
		Status: appsv1.DeploymentStatus{ReadyReplicas: available, AvailableReplicas: available},
	}
}

func clientIngress(name, address string) *networkingv1.Ingress {
	ingressName, _ := ingress.ClientIngressName(name)

	ing := &networkingv1.Ingress{
		ObjectMeta: metav1.ObjectMeta{Name: ingressName, Namespace: name, Labels: naming.TenantLabels(name)},
	}
	if address != "" {
		ing.Status.LoadBalancer.Ingress = []networkingv1.IngressLoadBalancerIngress{{IP: address}}
	}
	return ing
}

var _ = Describe("Tenant Controller", func() {
	var (
		ctx context.Context
		req reconcile.Request
	)

	BeforeEach(func() {
		ctx = context.Background()
		req = reconcile.Request{NamespacedName: types.NamespacedName{Name: tenantName}}
	})

	reconcilerFor := func(objs ...client.Object) (*TenantReconciler, client.Client) {
		c := fake.NewClientBuilder().WithScheme(testScheme()).WithObjects(objs...).Build()
		return &TenantReconciler{
			Client:       c,
			Scheme:       c.Scheme(),
			Ingress:      ingress.Config{BaseDomain: "apps.example.com"},
			RequeueAfter: time.Minute,
		}, c
	}

	getNamespace := func(c client.Client) *corev1.Namespace {
		ns := &corev1.Namespace{}
		Expect(c.Get(ctx, types.NamespacedName{Name: tenantName}, ns)).To(Succeed())
		return ns
	}

	Describe("Scenario: a degraded tenant whose workloads became ready", func() {
		It("promotes the tenant to Ready and records the cost estimate", func() {
			r, c := reconcilerFor(
				tenantNamespace(tenantName, naming.PhaseDegraded),
				tenantQuota(tenantName),
				tenantDeployment(tenantName, 1),
				clientIngress(tenantName, "203.0.113.10"),
			)

			result, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(BeZero())

			ns := getNamespace(c)
			Expect(ns.Labels).To(HaveKeyWithValue(naming.LabelPhase, string(naming.PhaseReady)))
			Expect(ns.Annotations).To(HaveKeyWithValue(naming.AnnotationMonthlyCost, "73.0000"))
		})
	})

	Describe("Scenario: a degraded tenant that is still not ready", func() {
		DescribeTable("keeps the tenant degraded and requeues",
			func(objs []client.Object) {
				objs = append(objs, tenantNamespace(tenantName, naming.PhaseDegraded), tenantQuota(tenantName))
				r, c := reconcilerFor(objs...)

				result, err := r.Reconcile(ctx, req)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.RequeueAfter).To(Equal(time.Minute))
				Expect(getNamespace(c).Labels).To(HaveKeyWithValue(naming.LabelPhase, string(naming.PhaseDegraded)))
			},
			Entry("no deployments", []client.Object{clientIngress(tenantName, "203.0.113.10")}),
			Entry("deployment unavailable", []client.Object{tenantDeployment(tenantName, 0), clientIngress(tenantName, "203.0.113.10")}),
			Entry("no client ingress", []client.Object{tenantDeployment(tenantName, 1)}),
			Entry("ingress without an address", []client.Object{tenantDeployment(tenantName, 1), clientIngress(tenantName, "")}),
		)
	})

	Describe("Scenario: tenants the reconciler leaves alone", func() {
		It("ignores a namespace that does not exist", func() {
			r, _ := reconcilerFor()

			result, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(reconcile.Result{}))
		})

		It("ignores a namespace the platform does not manage", func() {
			r, c := reconcilerFor(
				&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: tenantName}},
				tenantQuota(tenantName),
			)

			_, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(getNamespace(c).Annotations).NotTo(HaveKey(naming.AnnotationMonthlyCost))
		})

		DescribeTable("does not touch tenants owned by another process",
			func(phase naming.Phase) {
				r, c := reconcilerFor(
					tenantNamespace(tenantName, phase),
					tenantQuota(tenantName),
					tenantDeployment(tenantName, 1),
					clientIngress(tenantName, "203.0.113.10"),
				)

				_, err := r.Reconcile(ctx, req)
				Expect(err).NotTo(HaveOccurred())

				ns := getNamespace(c)
				Expect(ns.Labels).To(HaveKeyWithValue(naming.LabelPhase, string(phase)))
				Expect(ns.Annotations).NotTo(HaveKey(naming.AnnotationMonthlyCost))
			},
			Entry("provisioning", naming.PhaseProvisioning),
			Entry("failed", naming.PhaseFailed),
			Entry("deleting", naming.PhaseDeleting),
		)
	})

	Describe("Scenario: a ready tenant", func() {
		It("refreshes the cost estimate without requeueing", func() {
			ns := tenantNamespace(tenantName, naming.PhaseReady)
			ns.Annotations = map[string]string{naming.AnnotationMonthlyCost: "1.0000"}
			r, c := reconcilerFor(ns, tenantQuota(tenantName))

			result, err := r.Reconcile(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RequeueAfter).To(BeZero())
			Expect(getNamespace(c).Annotations).To(HaveKeyWithValue(naming.AnnotationMonthlyCost, "73.0000"))
		})
	})

	Describe("Scenario: mapping tenant objects to their namespace", func() {
		It("enqueues the namespace of a namespaced object", func() {
			Expect(tenantRequest(ctx, tenantDeployment(tenantName, 1))).To(ConsistOf(req))
			Expect(tenantRequest(ctx, tenantNamespace(tenantName, naming.PhaseReady))).To(BeEmpty())
		})
	})
})
