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

package provisioner

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/mikelane/tenantd/internal/credentials"
	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/naming"
	"github.com/mikelane/tenantd/internal/traefik"
	"github.com/mikelane/tenantd/internal/workload"
)

var _ = Describe("Tenant operations", func() {
	var (
		ctx context.Context
		c   client.Client
		p   *Provisioner
	)

	BeforeEach(func() {
		ctx = context.Background()
		c = newTestClient(readyCluster())
		p = newTestProvisioner(c, testConfig())

		_, err := p.CreateTenant(ctx, demoRequest("demo-a"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("GetTenant", func() {
		It("returns details of an existing tenant", func() {
			tenant, err := p.GetTenant(ctx, "Demo-A")
			Expect(err).NotTo(HaveOccurred())
			Expect(tenant.Name).To(Equal("demo-a"))
			Expect(tenant.AppType).To(Equal("app-x"))
			Expect(tenant.Phase).To(Equal(naming.PhaseReady))
			Expect(tenant.Quota.CPU).To(Equal("2"))
			Expect(tenant.Quota.Memory).To(Equal("4Gi"))
			Expect(tenant.Host).To(Equal("demo-a." + baseDomain))
			Expect(tenant.URL).To(Equal("http://demo-a." + baseDomain))
			Expect(tenant.Cost).NotTo(BeNil())
			Expect(tenant.Deployments).To(HaveLen(2))
		})

		It("reports a missing tenant as not found", func() {
			_, err := p.GetTenant(ctx, "ghost")
			Expect(errdefs.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("ListTenants", func() {
		It("lists managed tenants only", func() {
			Expect(c.Create(ctx, &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "unmanaged"}})).To(Succeed())
			_, err := p.CreateTenant(ctx, CreateRequest{Name: "b-site", AppType: "static-site"})
			Expect(err).NotTo(HaveOccurred())

			tenants, err := p.ListTenants(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(tenants).To(HaveLen(2))
			Expect(tenants[0].Name).To(Equal("b-site"))
			Expect(tenants[1].Name).To(Equal("demo-a"))
		})
	})

	Describe("DeleteTenant", func() {
		It("removes routing objects and the namespace", func() {
			result, err := p.DeleteTenant(ctx, "demo-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Existed).To(BeTrue())
			Expect(result.Ingresses).To(Equal(3))

			_, err = getNamespace(c, "demo-a")
			Expect(apierrors.IsNotFound(err)).To(BeTrue())

			var ingresses networkingv1.IngressList
			Expect(c.List(ctx, &ingresses, naming.TenantSelector("demo-a"))).To(Succeed())
			Expect(ingresses.Items).To(BeEmpty())
			var routes traefik.IngressRouteList
			Expect(c.List(ctx, &routes, naming.TenantSelector("demo-a"))).To(Succeed())
			Expect(routes.Items).To(BeEmpty())
		})

		It("rejects an invalid name", func() {
			_, err := p.DeleteTenant(ctx, "-bad-")
			Expect(errdefs.IsValidation(err)).To(BeTrue())
		})
	})

	Describe("RestartTenant", func() {
		It("restarts every deployment", func() {
			result, err := p.RestartTenant(ctx, "demo-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Restarted).To(ConsistOf("demo-a-server", "demo-a-client"))
			Expect(result.Failed).To(BeEmpty())

			d := &appsv1.Deployment{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "demo-a", Name: "demo-a-client"}, d)).To(Succeed())
			Expect(d.Spec.Template.Annotations).To(HaveKey(workload.RestartedAtAnnotation))
		})

		It("reports a missing tenant as not found", func() {
			_, err := p.RestartTenant(ctx, "ghost")
			Expect(errdefs.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("ScaleTenant", func() {
		It("sets the replica count of a component", func() {
			Expect(p.ScaleTenant(ctx, "demo-a", naming.ComponentServer, 3)).To(Succeed())

			d := &appsv1.Deployment{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "demo-a", Name: "demo-a-server"}, d)).To(Succeed())
			Expect(*d.Spec.Replicas).To(Equal(int32(3)))
		})

		DescribeTable("rejects invalid input",
			func(component string, replicas int32) {
				err := p.ScaleTenant(ctx, "demo-a", component, replicas)
				Expect(errdefs.IsValidation(err)).To(BeTrue(), "got %v", err)
			},
			Entry("too many replicas", naming.ComponentClient, int32(11)),
			Entry("negative replicas", naming.ComponentClient, int32(-1)),
			Entry("unknown component", "database", int32(1)),
		)

		It("reports a missing tenant as not found", func() {
			Expect(errdefs.IsNotFound(p.ScaleTenant(ctx, "ghost", naming.ComponentClient, 1))).To(BeTrue())
		})
	})

	Describe("UpdateQuota", func() {
		It("replaces the quota", func() {
			result, err := p.UpdateQuota(ctx, "demo-a", namespace.Quota{CPU: "4", Memory: "8GB"})
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Cost).NotTo(BeNil())

			rq := &corev1.ResourceQuota{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "demo-a", Name: namespace.QuotaName}, rq)).To(Succeed())
			memory := rq.Spec.Hard[corev1.ResourceRequestsMemory]
			Expect(memory.String()).To(Equal("8Gi"))
			cpu := rq.Spec.Hard[corev1.ResourceLimitsCPU]
			Expect(cpu.String()).To(Equal("4"))
		})

		It("rejects an unparsable quota", func() {
			_, err := p.UpdateQuota(ctx, "demo-a", namespace.Quota{CPU: "four"})
			Expect(errdefs.IsValidation(err)).To(BeTrue())
		})
	})

	Describe("AddDatabaseSecret", func() {
		creds := credentials.Credentials{ConnectionString: "postgresql://a:b@pg:5432/demo", DatabaseName: "demo"}

		It("creates the secret once and wires it into the server", func() {
			result, err := p.AddDatabaseSecret(ctx, "demo-a", creds)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.SecretName).To(Equal("demo-a-db-credentials"))
			Expect(result.Engine).To(Equal("postgres"))
			Expect(result.Keys).To(ContainElements(credentials.KeyDatabaseURL, "POSTGRES_URL", "PGDATABASE"))
			Expect(result.AttachedTo).To(ConsistOf("demo-a-server"))

			server := &appsv1.Deployment{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "demo-a", Name: "demo-a-server"}, server)).To(Succeed())
			envFrom := server.Spec.Template.Spec.Containers[0].EnvFrom
			Expect(envFrom).To(HaveLen(2))
			// Later sources win, so the tenant's own database overrides the shared one
			Expect(envFrom[1].SecretRef.Name).To(Equal("demo-a-db-credentials"))

			_, err = p.AddDatabaseSecret(ctx, "demo-a", creds)
			Expect(errdefs.IsConflict(err)).To(BeTrue())
		})
	})
})
