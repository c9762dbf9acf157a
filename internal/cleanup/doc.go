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

// Package cleanup retries the teardown of tenants whose rollback failed.
//
// A creation that fails after the namespace exists is rolled back at once.
// When that rollback cannot finish, the tenant namespace is labeled with the
// Failed phase and left for this package: a background scheduler periodically
// lists failed tenants and deletes them through the orchestrator, so the same
// ingress and namespace teardown runs as for an explicit delete.
//
// Key features:
//   - Periodic cleanup based on configurable interval (default: 5 minutes)
//   - A grace period leaves fresh failures in place for inspection
//   - Runs on the elected leader only
//   - Graceful shutdown via context cancellation
//   - Counts every attempt in tenantd_janitor_cleanups_total
//
// Example usage:
//
//	scheduler := cleanup.NewScheduler(
//		provisioner,
//		5*time.Minute, // Check every 5 minutes
//		15*time.Minute,
//	)
//	if err := mgr.Add(scheduler); err != nil {
//		return err
//	}
package cleanup
