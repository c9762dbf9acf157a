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

package cost

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/mikelane/tenantd/internal/errdefs"
	"github.com/mikelane/tenantd/internal/namespace"
)

const (
	hoursPerDay   = 24
	hoursPerMonth = 730

	bytesPerGiB = 1024 * 1024 * 1024
)

// Config defines the pricing configuration for cost estimation
type Config struct {
	Currency          string
	CPUCostPerHour    float64
	MemoryCostPerHour float64
	SpotDiscount      float64
	UseSpot           bool
}

// DefaultConfig returns the default pricing configuration
func DefaultConfig() *Config {
	return &Config{
		CPUCostPerHour:    0.04,  // $0.04 per vCPU-hour
		MemoryCostPerHour: 0.005, // $0.005 per GiB-hour
		SpotDiscount:      0.30,
		Currency:          "USD",
	}
}

// Estimate is the projected cost of running a tenant at its full quota.
type Estimate struct {
	Currency    string `json:"currency"`
	HourlyCost  string `json:"hourlyCost"`
	DailyCost   string `json:"dailyCost"`
	MonthlyCost string `json:"monthlyCost"`
}

// Estimator prices tenant quotas. The pricing is fixed at construction, so
// an Estimator is safe for concurrent use.
type Estimator struct {
	pricing Config
}

// NewEstimator creates a new cost estimator with the given configuration.
// If config is nil, default configuration is used.
func NewEstimator(config *Config) *Estimator {
	if config == nil {
		config = DefaultConfig()
	}
	return &Estimator{pricing: *config}
}

// EstimateQuotaCost prices a quota's CPU and memory ceiling. Either value may
// be empty, in which case it contributes nothing. Memory accepts the same
// "4GB" style input the namespace quota does.
func (e *Estimator) EstimateQuotaCost(cpu, memory string) (Estimate, error) {
	var cores, gib float64

	if cpu = strings.TrimSpace(cpu); cpu != "" {
		q, err := resource.ParseQuantity(cpu)
		if err != nil {
			return Estimate{}, &errdefs.ValidationError{Kind: "cpu quota", Value: cpu, Reason: err.Error()}
		}
		cores = float64(q.MilliValue()) / 1000
	}
	if memory = strings.TrimSpace(memory); memory != "" {
		q, err := resource.ParseQuantity(namespace.NormalizeMemory(memory))
		if err != nil {
			return Estimate{}, &errdefs.ValidationError{Kind: "memory quota", Value: memory, Reason: err.Error()}
		}
		gib = float64(q.Value()) / bytesPerGiB
	}

	return e.estimate(e.hourly(cores, gib)), nil
}

func (e *Estimator) hourly(cores, gib float64) float64 {
	cost := cores*e.pricing.CPUCostPerHour + gib*e.pricing.MemoryCostPerHour
	if e.pricing.UseSpot {
		cost *= 1 - e.pricing.SpotDiscount
	}
	return cost
}

func (e *Estimator) estimate(hourly float64) Estimate {
	return Estimate{
		Currency:    e.pricing.Currency,
		HourlyCost:  formatCost(hourly),
		DailyCost:   formatCost(hourly * hoursPerDay),
		MonthlyCost: formatCost(hourly * hoursPerMonth),
	}
}

// formatCost keeps four decimals so sub-cent hourly prices stay visible
func formatCost(cost float64) string {
	return fmt.Sprintf("%.4f", cost)
}
