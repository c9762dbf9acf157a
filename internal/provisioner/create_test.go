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
	"errors"
	"sync/atomic"

	certmanagerv1 "github.com/cert-manager/cert-manager/pkg/apis/certmanager/v1"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	"github.com/mikelane/tenantd/internal/credentials"
	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/namespace"
	"github.com/mikelane/tenantd/internal/naming"
	"github.com/mikelane/tenantd/internal/traefik"
)

func namespaceQuota(cpu, memory string) namespace.Quota {
	return namespace.Quota{CPU: cpu, Memory: memory}
}

var _ = Describe("Tenant provisioning", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("Scenario: create a tenant whose app type uses a shared Mongo key", func() {
		var (
			c      client.Client
			result *Result
		)

		BeforeEach(func() {
			c = newTestClient(readyCluster())
			var err error
			result, err = newTestProvisioner(c, testConfig()).CreateTenant(ctx, demoRequest("demo-a"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("reports a fully provisioned tenant", func() {
			Expect(result.Tenant.Name).To(Equal("demo-a"))
			Expect(result.Database.Configured).To(BeTrue())
			Expect(result.Database.Source).To(Equal(DatabaseSourceShared))
			Expect(result.Database.Engine).To(Equal("mongo"))
			Expect(result.Deployment.Deployed).To(BeTrue())
			Expect(result.Deployment.Ready).To(BeTrue())
			Expect(result.Ingress.Host).To(Equal("demo-a." + baseDomain))
			Expect(result.Ingress.Ready).To(BeTrue())
			Expect(result.Ingress.Address).To(Equal(loadBalancerIP))
			Expect(result.Tenant.Phase).To(Equal(naming.PhaseReady))
			Expect(result.RolledBack).To(BeFalse())
			Expect(result.Warnings).To(BeEmpty())
			Expect(result.Cost).NotTo(BeNil())
		})

		It("records every step in order", func() {
			Expect(result.Steps).To(HaveLen(len(Steps)))
			for i, s := range result.Steps {
				Expect(s.Step).To(Equal(Steps[i]))
			}
			Expect(result.StepStatus(StepTLSReady)).To(Equal(StatusSkipped))
			Expect(result.StepStatus(StepDeploymentReady)).To(Equal(StatusSucceeded))
		})

		It("labels the namespace and applies the quota", func() {
			ns, err := getNamespace(c, "demo-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(ns.Labels).To(HaveKeyWithValue(naming.LabelManagedBy, naming.ManagedBy))
			Expect(ns.Labels).To(HaveKeyWithValue(naming.LabelTenant, "demo-a"))
			Expect(ns.Labels).To(HaveKeyWithValue(naming.LabelAppType, "app-x"))
			Expect(ns.Labels).To(HaveKeyWithValue(naming.LabelPhase, string(naming.PhaseReady)))

			rq := &corev1.ResourceQuota{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "demo-a", Name: namespace.QuotaName}, rq)).To(Succeed())
			cpu := rq.Spec.Hard[corev1.ResourceRequestsCPU]
			Expect(cpu.String()).To(Equal("2"))
		})

		It("copies shared credentials into a tenant secret", func() {
			Expect(result.Database.SecretName).To(Equal("demo-a-shared-db-credentials"))

			secret := &corev1.Secret{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "demo-a", Name: "demo-a-shared-db-credentials"}, secret)).To(Succeed())
			Expect(string(secret.Data[credentials.KeyDatabaseURL])).To(Equal(mongoURI))
			Expect(string(secret.Data["MONGODB_URI"])).To(Equal(mongoURI))
			Expect(secret.Labels).To(HaveKeyWithValue(naming.LabelTenant, "demo-a"))
		})

		It("sources shared credentials from the secret and injects generated secrets into the server only", func() {
			server := &appsv1.Deployment{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "demo-a", Name: "demo-a-server"}, server)).To(Succeed())
			env := envOf(server)
			Expect(env).NotTo(HaveKey(credentials.KeyDatabaseURL))
			Expect(env).NotTo(HaveKey("MONGODB_URI"))
			envFrom := server.Spec.Template.Spec.Containers[0].EnvFrom
			Expect(envFrom).To(HaveLen(1))
			Expect(envFrom[0].SecretRef.Name).To(Equal("demo-a-shared-db-credentials"))
			Expect(env).To(HaveKeyWithValue("LOG_LEVEL", "info"))
			Expect(env[EnvJWTSecret]).To(HaveLen(64))
			Expect(env[EnvSessionSecret]).To(HaveLen(64))
			Expect(env[EnvJWTSecret]).NotTo(Equal(env[EnvSessionSecret]))
			Expect(*server.Spec.Replicas).To(Equal(int32(2)))

			clientDeployment := &appsv1.Deployment{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "demo-a", Name: "demo-a-client"}, clientDeployment)).To(Succeed())
			clientEnv := envOf(clientDeployment)
			Expect(clientEnv).NotTo(HaveKey(EnvJWTSecret))
			Expect(clientEnv).NotTo(HaveKey(credentials.KeyDatabaseURL))
			Expect(clientDeployment.Spec.Template.Spec.Containers[0].EnvFrom).To(BeEmpty())
			Expect(clientEnv).To(HaveKeyWithValue(EnvAPIURL, "http://demo-a."+baseDomain+"/api"))
		})

		It("routes the API through a strip-prefix middleware", func() {
			route := &traefik.IngressRoute{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "demo-a", Name: "demo-a-api"}, route)).To(Succeed())
			Expect(route.Spec.Routes).To(HaveLen(1))
			Expect(route.Spec.Routes[0].Services[0].Name).To(Equal("demo-a-server"))
			Expect(route.Spec.Routes[0].Middlewares[0].Name).To(Equal("demo-a-strip-api"))

			ing := &networkingv1.Ingress{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "demo-a", Name: "demo-a-client"}, ing)).To(Succeed())
			Expect(ing.Spec.Rules[0].Host).To(Equal("demo-a." + baseDomain))
		})
	})

	Describe("Scenario: create a tenant with an invalid name", func() {
		It("rejects the request before any cluster call", func() {
			var calls atomic.Int32
			count := func() { calls.Add(1) }
			c := newTestClient(&interceptor.Funcs{
				Get: func(ctx context.Context, c client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
					count()
					return c.Get(ctx, key, obj, opts...)
				},
				List: func(ctx context.Context, c client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
					count()
					return c.List(ctx, list, opts...)
				},
				Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
					count()
					return c.Create(ctx, obj, opts...)
				},
			})

			result, err := newTestProvisioner(c, testConfig()).CreateTenant(ctx, demoRequest("Bad_Name!"))
			Expect(errdefs.IsValidation(err)).To(BeTrue())
			Expect(calls.Load()).To(BeZero())
			Expect(result.RolledBack).To(BeFalse())
			Expect(result.FailedStep).To(Equal(StepPrecheck))

			var list corev1.NamespaceList
			Expect(c.List(ctx, &list, naming.ManagedSelector())).To(Succeed())
			Expect(list.Items).To(BeEmpty())
		})
	})

	Describe("Scenario: delete a tenant that was never created", func() {
		It("succeeds without error", func() {
			result, err := newTestProvisioner(newTestClient(nil), testConfig()).DeleteTenant(ctx, "ghost")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Existed).To(BeFalse())
		})
	})

	Describe("Scenario: the server deployment fails after the namespace exists", func() {
		failServer := func(deleteErr error) *interceptor.Funcs {
			return &interceptor.Funcs{
				Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
					if d, ok := obj.(*appsv1.Deployment); ok && d.Name == "demo-b-server" {
						return errors.New("admission webhook denied the request")
					}
					return c.Create(ctx, obj, opts...)
				},
				Delete: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
					if _, ok := obj.(*corev1.Namespace); ok && deleteErr != nil {
						return deleteErr
					}
					return c.Delete(ctx, obj, opts...)
				},
			}
		}

		It("rolls the tenant back and says so", func() {
			c := newTestClient(failServer(nil))
			result, err := newTestProvisioner(c, testConfig()).CreateTenant(ctx, demoRequest("demo-b"))

			var fatal *errdefs.FatalError
			Expect(errors.As(err, &fatal)).To(BeTrue())
			Expect(fatal.Step).To(Equal(string(StepAppDeployed)))
			Expect(result.RolledBack).To(BeTrue())
			Expect(result.RollbackSucceeded).To(BeTrue())
			Expect(result.FailedStep).To(Equal(StepAppDeployed))
			Expect(result.StepStatus(StepAppDeployed)).To(Equal(StatusFailed))

			_, err = getNamespace(c, "demo-b")
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})

		It("marks the tenant Failed when the rollback cannot delete the namespace", func() {
			c := newTestClient(failServer(errors.New("etcd unavailable")))
			p := newTestProvisioner(c, testConfig())
			result, err := p.CreateTenant(ctx, demoRequest("demo-b"))

			Expect(err).To(HaveOccurred())
			Expect(result.RolledBack).To(BeTrue())
			Expect(result.RollbackSucceeded).To(BeFalse())
			Expect(result.RollbackError).To(ContainSubstring("etcd unavailable"))

			ns, err := getNamespace(c, "demo-b")
			Expect(err).NotTo(HaveOccurred())
			Expect(ns.Labels).To(HaveKeyWithValue(naming.LabelPhase, string(naming.PhaseFailed)))

			failed, err := p.ListFailedTenants(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(failed).To(HaveLen(1))
			Expect(failed[0].Name).To(Equal("demo-b"))
			Expect(failed[0].Phase).To(Equal(naming.PhaseFailed))
		})
	})

	Describe("Scenario: readiness gates expire", func() {
		It("finishes degraded with warnings by default", func() {
			c := newTestClient(nil)
			result, err := newTestProvisioner(c, testConfig()).CreateTenant(ctx, demoRequest("slow"))
			Expect(err).NotTo(HaveOccurred())

			Expect(result.StepStatus(StepDeploymentReady)).To(Equal(StatusWarning))
			Expect(result.StepStatus(StepIngressReady)).To(Equal(StatusWarning))
			Expect(result.Warnings).To(HaveLen(2))
			Expect(result.Deployment.Ready).To(BeFalse())
			Expect(result.Ingress.Ready).To(BeFalse())
			Expect(result.Tenant.Phase).To(Equal(naming.PhaseDegraded))

			ns, err := getNamespace(c, "slow")
			Expect(err).NotTo(HaveOccurred())
			Expect(ns.Labels).To(HaveKeyWithValue(naming.LabelPhase, string(naming.PhaseDegraded)))
		})

		It("rolls back when deployment readiness is required", func() {
			cfg := testConfig()
			cfg.FailOnReadinessTimeout = true
			c := newTestClient(nil)

			result, err := newTestProvisioner(c, cfg).CreateTenant(ctx, demoRequest("strict"))
			Expect(errdefs.IsReadinessTimeout(err)).To(BeTrue())
			Expect(result.RolledBack).To(BeTrue())
			Expect(result.FailedStep).To(Equal(StepDeploymentReady))

			_, err = getNamespace(c, "strict")
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("Scenario: pre-flight checks fail", func() {
		It("rejects a tenant whose namespace already exists without touching it", func() {
			existing := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "taken", Labels: map[string]string{"owner": "someone-else"}}}
			c := newTestClient(nil, existing)

			result, err := newTestProvisioner(c, testConfig()).CreateTenant(ctx, demoRequest("taken"))
			Expect(errdefs.IsConflict(err)).To(BeTrue())
			Expect(result.RolledBack).To(BeFalse())

			ns, err := getNamespace(c, "taken")
			Expect(err).NotTo(HaveOccurred())
			Expect(ns.Labels).To(Equal(map[string]string{"owner": "someone-else"}))
		})

		DescribeTable("returns a validation error and creates nothing",
			func(mutate func(*CreateRequest, *Config)) {
				req, cfg := demoRequest("demo-v"), testConfig()
				mutate(&req, &cfg)
				c := newTestClient(nil)

				result, err := newTestProvisioner(c, cfg).CreateTenant(ctx, req)
				Expect(errdefs.IsValidation(err)).To(BeTrue(), "got %v", err)
				Expect(result.RolledBack).To(BeFalse())

				_, err = getNamespace(c, "demo-v")
				Expect(apierrors.IsNotFound(err)).To(BeTrue())
			},
			Entry("unknown application type", func(r *CreateRequest, _ *Config) { r.AppType = "nope" }),
			Entry("unresolvable credential key", func(r *CreateRequest, _ *Config) { r.AppType = "orphan-key" }),
			Entry("unknown credential key override", func(r *CreateRequest, _ *Config) { r.CredentialKey = "missing" }),
			Entry("unparsable memory quota", func(r *CreateRequest, _ *Config) { r.Quota.Memory = "lots" }),
			Entry("missing ingress class", func(_ *CreateRequest, c *Config) { c.IngressClass = "nginx" }),
			Entry("database without a connection string", func(r *CreateRequest, _ *Config) {
				r.Database = &credentials.Credentials{Username: "u"}
			}),
		)

		It("refuses a second concurrent workflow for the same tenant", func() {
			p := newTestProvisioner(newTestClient(nil), testConfig())
			Expect(p.guard.acquire("busy")).To(BeTrue())
			defer p.guard.release("busy")

			_, err := p.CreateTenant(ctx, demoRequest("busy"))
			Expect(errdefs.IsConflict(err)).To(BeTrue())
		})
	})

	Describe("Scenario: the caller supplies Postgres credentials", func() {
		It("materializes a tenant secret and wires it into the server", func() {
			c := newTestClient(readyCluster())
			req := demoRequest("demo-c")
			req.Database = &credentials.Credentials{
				ConnectionString: "postgres://demo:pw@db.internal:5432/democ",
				Username:         "demo",
				Password:         "pw",
				DatabaseName:     "democ",
			}

			result, err := newTestProvisioner(c, testConfig()).CreateTenant(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Database.Source).To(Equal(DatabaseSourceTenant))
			Expect(result.Database.Engine).To(Equal("postgres"))
			Expect(result.Database.SecretName).To(Equal("demo-c-db-credentials"))

			secret := &corev1.Secret{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "demo-c", Name: "demo-c-db-credentials"}, secret)).To(Succeed())
			Expect(secret.Data).To(HaveKey("POSTGRES_URL"))
			Expect(secret.Data).To(HaveKey(credentials.KeyDatabaseURL))

			server := &appsv1.Deployment{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "demo-c", Name: "demo-c-server"}, server)).To(Succeed())
			envFrom := server.Spec.Template.Spec.Containers[0].EnvFrom
			Expect(envFrom).To(HaveLen(1))
			Expect(envFrom[0].SecretRef.Name).To(Equal("demo-c-db-credentials"))
			Expect(envOf(server)).NotTo(HaveKey("MONGODB_URI"))
		})
	})

	Describe("Scenario: reads lag behind writes", func() {
		It("waits for the objects instead of rolling the tenant back", func() {
			var lagged int
			c := newTestClient(laggingCluster(&lagged))

			result, err := newTestProvisioner(c, testConfig()).CreateTenant(ctx, demoRequest("demo-a"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.RolledBack).To(BeFalse())
			Expect(result.Deployment.Ready).To(BeTrue())
			Expect(result.Ingress.Ready).To(BeTrue())
			Expect(result.Tenant.Phase).To(Equal(naming.PhaseReady))
			Expect(lagged).To(BeNumerically(">=", 3))

			_, err = getNamespace(c, "demo-a")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("Scenario: TLS is enabled", func() {
		tlsConfig := func() Config {
			cfg := testConfig()
			cfg.TLS = TLSConfig{Enabled: true, ClusterIssuer: "letsencrypt-prod"}
			return cfg
		}

		It("serves the tenant over HTTPS once the wildcard secret exists", func() {
			wildcard := &corev1.Secret{
				ObjectMeta: metav1.ObjectMeta{Name: "tenantd-wildcard-tls", Namespace: "tenantd-system"},
				Type:       corev1.SecretTypeTLS,
				Data: map[string][]byte{
					corev1.TLSCertKey:       []byte("cert"),
					corev1.TLSPrivateKeyKey: []byte("key"),
				},
			}
			c := newTestClient(readyCluster(), wildcard)

			result, err := newTestProvisioner(c, tlsConfig()).CreateTenant(ctx, demoRequest("secure"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.StepStatus(StepTLSReady)).To(Equal(StatusSucceeded))
			Expect(result.Ingress.TLS).To(BeTrue())
			Expect(result.Ingress.URL).To(Equal("https://secure." + baseDomain))

			cert := &certmanagerv1.Certificate{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "tenantd-system", Name: "tenantd-wildcard"}, cert)).To(Succeed())

			copied := &corev1.Secret{}
			Expect(c.Get(ctx, client.ObjectKey{Namespace: "secure", Name: "tenantd-wildcard-tls"}, copied)).To(Succeed())
		})

		It("continues over HTTP when the certificate never materializes", func() {
			c := newTestClient(readyCluster())

			result, err := newTestProvisioner(c, tlsConfig()).CreateTenant(ctx, demoRequest("plain"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.StepStatus(StepTLSReady)).To(Equal(StatusWarning))
			Expect(result.Ingress.TLS).To(BeFalse())
			Expect(result.Ingress.URL).To(Equal("http://plain." + baseDomain))
			Expect(result.Tenant.Phase).To(Equal(naming.PhaseDegraded))
		})
	})
})
