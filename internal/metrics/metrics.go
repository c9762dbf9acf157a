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

// Package metrics holds the provisioning collectors. They are registered with
// controller-runtime's registry and served by the manager's metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Result label values.
const (
	ResultSuccess  = "success"
	ResultDegraded = "degraded"
	ResultFailure  = "failure"
)

var (
	provisioningTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantd_provisioning_total",
			Help: "Tenant provisioning workflows by terminal result.",
		},
		[]string{"result"},
	)

	provisioningStepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tenantd_provisioning_step_duration_seconds",
			Help:    "Duration of each provisioning step in seconds.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"step"},
	)

	rollbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantd_rollback_total",
			Help: "Rollbacks of partially provisioned tenants by result.",
		},
		[]string{"result"},
	)

	readinessWarningsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantd_readiness_warnings_total",
			Help: "Readiness gates that expired without the resource becoming ready.",
		},
		[]string{"gate"},
	)

	janitorCleanupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tenantd_janitor_cleanups_total",
			Help: "Cleanup attempts of failed tenants made by the janitor, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	metrics.Registry.MustRegister(Collectors()...)
}

// Collectors returns all tenantd collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		provisioningTotal,
		provisioningStepDuration,
		rollbackTotal,
		readinessWarningsTotal,
		janitorCleanupsTotal,
	}
}
