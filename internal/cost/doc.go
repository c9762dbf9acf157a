/*
MIT License

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

// Package cost provides cost estimation for tenant resources.
//
// Tenants are priced by their resource quota: the CPU and memory ceiling a
// tenant may consume is the upper bound of what it can cost.
//
// Cost Calculation:
//
//	CPU Cost = (CPU Cores) × (CPU Price Per Hour)
//	Memory Cost = (Memory GB) × (Memory Price Per Hour)
//	Total Hourly Cost = CPU Cost + Memory Cost
//	Daily Cost = Hourly Cost × 24
//	Monthly Cost = Hourly Cost × 730 (average hours per month)
//
// Default Pricing:
//
//   - CPU: $0.04 per core per hour
//   - Memory: $0.005 per GB per hour
//   - Spot Discount: 30% (when enabled)
//
// Example usage:
//
//	estimator := cost.NewEstimator(cost.DefaultConfig())
//	estimate, err := estimator.EstimateQuotaCost("2", "4GB")
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("Daily cost: %s %s\n", estimate.DailyCost, estimate.Currency)
package cost
