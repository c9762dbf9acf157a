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

package workload

import (
	"context"

	"golang.org/x/sync/errgroup"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
)

// Outcome is the per-item result of a best-effort fan-out.
type Outcome struct {
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// Succeeded reports whether the item completed without error.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// RestartAll restarts every named deployment concurrently. It never fails
// fast: every deployment is attempted and each outcome is reported in input
// order.
func (m *Manager) RestartAll(ctx context.Context, namespace string, names []string) []Outcome {
	outcomes := make([]Outcome, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			outcomes[i] = Outcome{Name: name, Err: m.RestartDeployment(ctx, namespace, name)}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if !o.Succeeded() {
			failed++
		}
	}
	logf.FromContext(ctx).Info("Restarted deployments", "namespace", namespace, "total", len(names), "failed", failed)

	return outcomes
}
