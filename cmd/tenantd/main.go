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


package main

import (
	"flag"
	"os"

	certmanagerv1 "github.com/cert-manager/cert-manager/pkg/apis/certmanager/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/mikelane/tenantd/internal/api"
	"github.com/mikelane/tenantd/internal/catalog"
	"github.com/mikelane/tenantd/internal/cleanup"
	"github.com/mikelane/tenantd/internal/config"
	"github.com/mikelane/tenantd/internal/controller"
	"github.com/mikelane/tenantd/internal/cost"
	"github.com/mikelane/tenantd/internal/credentials"
	"github.com/mikelane/tenantd/internal/github"
	"github.com/mikelane/tenantd/internal/ingress"
	"github.com/mikelane/tenantd/internal/provisioner"
	"github.com/mikelane/tenantd/internal/traefik"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(certmanagerv1.AddToScheme(scheme))
	utilruntime.Must(traefik.AddToScheme(scheme))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured before flags are parsed
		ctrl.SetLogger(zap.New())
		setupLog.Error(err, "unable to load configuration")
		os.Exit(1)
	}

	cfg.BindFlags(flag.CommandLine)
	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	if err := cfg.Validate(); err != nil {
		setupLog.Error(err, "invalid configuration")
		os.Exit(1)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: cfg.MetricsAddr},
		HealthProbeBindAddress: cfg.ProbeAddr,
		LeaderElection:         cfg.LeaderElection,
		LeaderElectionID:       "tenantd.tenantd.io",
		Client: client.Options{
			// Secrets are read directly so the cache never holds every
			// Secret in the cluster
			Cache: &client.CacheOptions{DisableFor: []client.Object{&corev1.Secret{}}},
		},
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	releases, err := github.NewClient(cfg.GitHubToken, github.WithBaseURL(cfg.GitHubAPIURL))
	if err != nil {
		setupLog.Error(err, "unable to create GitHub client")
		os.Exit(1)
	}
	apps, err := catalog.Load(cfg.CatalogPath, releases)
	if err != nil {
		setupLog.Error(err, "unable to load application catalog", "path", cfg.CatalogPath)
		os.Exit(1)
	}
	setupLog.Info("Loaded application catalog", "appTypes", apps.Names())

	var sources credentials.Chain
	if cfg.CredentialsFile != "" {
		static, err := credentials.LoadStatic(cfg.CredentialsFile)
		if err != nil {
			setupLog.Error(err, "unable to load shared credentials", "path", cfg.CredentialsFile)
			os.Exit(1)
		}
		sources = append(sources, static)
	}
	sources = append(sources, credentials.NewSecretStore(mgr.GetAPIReader(), cfg.PlatformNamespace))

	// Workflow steps read back objects they just wrote, so the orchestrator
	// talks to the API server directly instead of through the informer cache
	direct, err := client.New(mgr.GetConfig(), client.Options{
		Scheme: mgr.GetScheme(),
		Mapper: mgr.GetRESTMapper(),
	})
	if err != nil {
		setupLog.Error(err, "unable to create uncached client")
		os.Exit(1)
	}
	p := provisioner.New(direct, apps, sources, cfg.Provisioner())

	pricing := cfg.Pricing
	if err := (&controller.TenantReconciler{
		Client:        mgr.GetClient(),
		Scheme:        mgr.GetScheme(),
		CostEstimator: cost.NewEstimator(&pricing),
		Ingress:       ingress.Config{BaseDomain: cfg.BaseDomain, IngressClass: cfg.IngressClass},
		RequeueAfter:  cfg.ReconcileInterval,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "Tenant")
		os.Exit(1)
	}

	if err := mgr.Add(api.NewServer(p, cfg.APIOptions())); err != nil {
		setupLog.Error(err, "unable to add API server")
		os.Exit(1)
	}
	if err := mgr.Add(cleanup.NewScheduler(p, cfg.JanitorInterval, cfg.JanitorGrace)); err != nil {
		setupLog.Error(err, "unable to add cleanup scheduler")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager", "baseDomain", cfg.BaseDomain, "tls", cfg.TLS.Enabled)
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
