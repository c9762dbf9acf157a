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

package metrics

import "time"

// RecordProvisioning counts a finished provisioning workflow.
func RecordProvisioning(result string) {
	provisioningTotal.WithLabelValues(result).Inc()
}

// ObserveStep records how long a provisioning step took.
func ObserveStep(step string, duration time.Duration) {
	provisioningStepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordRollback counts a rollback and whether it cleaned up everything.
func RecordRollback(err error) {
	rollbackTotal.WithLabelValues(result(err)).Inc()
}

// RecordReadinessWarning counts a readiness gate that timed out.
func RecordReadinessWarning(gate string) {
	readinessWarningsTotal.WithLabelValues(gate).Inc()
}

// RecordJanitorCleanup counts one janitor retry of a failed tenant.
func RecordJanitorCleanup(err error) {
	janitorCleanupsTotal.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
