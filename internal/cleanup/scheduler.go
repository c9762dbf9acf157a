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

package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/mikelane/tenantd/internal/metrics"
	"github.com/mikelane/tenantd/internal/provisioner"
)

// Tenants is the part of the orchestrator the scheduler drives.
type Tenants interface {
	ListFailedTenants(ctx context.Context) ([]provisioner.TenantSummary, error)
	DeleteTenant(ctx context.Context, name string) (*provisioner.DeleteResult, error)
}

// Scheduler retries the teardown of tenants whose rollback did not finish.
// It runs periodically, deleting every tenant in the Failed phase once it is
// older than the grace period.
type Scheduler struct {
	tenants  Tenants
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
}

// NewScheduler creates a new cleanup scheduler with the specified interval.
//
// Parameters:
//   - tenants: orchestrator used to list and delete failed tenants
//   - interval: Duration between cleanup runs (e.g., 5*time.Minute)
//   - grace: minimum tenant age before it is cleaned up, so operators can
//     inspect a fresh failure
//
// Returns a configured Scheduler ready to start.
func NewScheduler(tenants Tenants, interval, grace time.Duration) *Scheduler {
	return &Scheduler{
		tenants:  tenants,
		interval: interval,
		grace:    grace,
		now:      time.Now,
	}
}

// Start begins the cleanup scheduler, running periodically until the context is canceled.
//
// Returns nil on graceful shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logger := logf.FromContext(ctx).WithName("janitor")
	ctx = logf.IntoContext(ctx, logger)
	logger.Info("Starting failed tenant cleanup", "interval", s.interval, "grace", s.grace)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.cleanup(ctx); err != nil {
				logger.Error(err, "cleanup pass failed")
				// Continue to next tick - don't stop scheduler on transient errors
			}
		}
	}
}

// NeedLeaderElection keeps cleanup on the elected replica only.
func (s *Scheduler) NeedLeaderElection() bool {
	return true
}

// cleanup performs a single pass and returns the tenants it removed.
//
// The following rules apply:
//   - Only tenants in the Failed phase are considered
//   - Tenants created less than the grace period ago are skipped
//   - A failed deletion does not stop the pass; failures are joined
func (s *Scheduler) cleanup(ctx context.Context) ([]string, error) {
	logger := logf.FromContext(ctx)

	failed, err := s.tenants.ListFailedTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed tenants: %w", err)
	}

	now := s.now()
	var deleted []string
	var errs []error
	for _, tenant := range failed {
		if !tenant.CreatedAt.IsZero() && now.Sub(tenant.CreatedAt) < s.grace {
			logger.V(1).Info("Failed tenant within grace period", "tenant", tenant.Name)
			continue
		}

		_, err := s.tenants.DeleteTenant(ctx, tenant.Name)
		metrics.RecordJanitorCleanup(err)
		if err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tenant.Name, err))
			continue
		}
		logger.Info("Cleaned up failed tenant", "tenant", tenant.Name)
		deleted = append(deleted, tenant.Name)
	}

	return deleted, errors.Join(errs...)
}
