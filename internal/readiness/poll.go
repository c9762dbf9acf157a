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

// Package readiness implements the bounded (check, sleep) loop behind every
// readiness gate.
package readiness

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// CheckFunc reports whether the awaited condition holds. A non-nil error stops
// the loop and is returned to the caller.
type CheckFunc func(ctx context.Context) (bool, error)

// Poll runs check immediately and then every interval until it reports true,
// returns an error, or timeout elapses. Expiry is not an error: Poll returns
// (false, nil) so callers can degrade to a warning.
//
// The deadline is derived from a context detached from ctx's cancellation, so
// only the deadline ends the wait. Values such as the logger are preserved.
func Poll(ctx context.Context, interval, timeout time.Duration, check CheckFunc) (bool, error) {
	if interval <= 0 {
		interval = time.Second
	}

	err := wait.PollUntilContextTimeout(context.WithoutCancel(ctx), interval, timeout, true,
		func(ctx context.Context) (bool, error) {
			return check(ctx)
		})
	switch {
	case err == nil:
		return true, nil
	case wait.Interrupted(err):
		return false, nil
	default:
		return false, err
	}
}
