// Package budget implements the Budget Tracker: accrues USD cost from model
// usage deltas and triggers stop conditions, per spec §4.3. Grounded on the
// teacher's internal/usage package for the price-table/cost-computation
// idiom (price per million tokens, usage delta -> cost delta).
package budget

import (
	"fmt"
	"sync"

	"github.com/haasonsaas/nexus/pkg/models"
)

// Exceeded is the fatal error returned once a tracker's limit is crossed.
type Exceeded struct {
	Used  float64
	Limit float64
}

func (e *Exceeded) Error() string {
	return fmt.Sprintf("budget exceeded: used $%.4f, limit $%.4f", e.Used, e.Limit)
}

// Tracker accrues cost for one scope (a run, or a tenant shared across
// concurrent runs) and reports whether it has crossed its configured limit.
// A Tracker is safe for concurrent use. A per-run Tracker may additionally
// hold a reference to a tenant-scoped Tracker, an external object shared by
// every run for that tenant; ShouldStop/Check then consult both scopes and
// stop on either exceeded limit (spec §4.3).
type Tracker struct {
	mu       sync.Mutex
	usedUSD  float64
	limitUSD float64
	prices   map[string]models.ModelPrice
	tenant   *Tracker
}

// NewTracker creates a Tracker with a fixed USD limit (zero means no limit)
// and a price table keyed by model id.
func NewTracker(limitUSD float64, prices map[string]models.ModelPrice) *Tracker {
	if prices == nil {
		prices = map[string]models.ModelPrice{}
	}
	return &Tracker{limitUSD: limitUSD, prices: prices}
}

// WithTenant returns a copy of t that additionally consults tenant's limit
// in ShouldStop/Check, for a per-run tracker scoped under a shared
// tenant-wide budget. tenant is never mutated by t; t.Record does not
// accrue into tenant — callers that want tenant-wide accrual record into
// tenant directly as well.
func (t *Tracker) WithTenant(tenant *Tracker) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	clone := &Tracker{usedUSD: t.usedUSD, limitUSD: t.limitUSD, prices: t.prices, tenant: tenant}
	return clone
}

// Record accrues a usage delta for model and returns the USD cost of that
// delta (not the running total), matching the per-iteration
// metrics.total_cost_usd accounting contract in spec §8 invariant 5.
func (t *Tracker) Record(model string, u models.Usage) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	price := t.prices[model]
	delta := price.CostUSD(u)
	t.usedUSD += delta
	return delta
}

// Used returns the cumulative USD cost recorded so far.
func (t *Tracker) Used() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usedUSD
}

// ShouldStop reports whether the tracker, or its tenant tracker if any, has
// crossed its limit, without erroring — used for a soft pre-check before
// starting expensive work.
func (t *Tracker) ShouldStop() bool {
	t.mu.Lock()
	tenant := t.tenant
	stop := t.limitUSD > 0 && t.usedUSD >= t.limitUSD
	t.mu.Unlock()
	if stop {
		return true
	}
	if tenant != nil {
		return tenant.ShouldStop()
	}
	return false
}

// Check returns a fatal Exceeded error if this tracker's limit, or its
// tenant tracker's limit, has been crossed, nil otherwise. The Streaming
// Executor calls this at every dispatch boundary.
func (t *Tracker) Check() error {
	t.mu.Lock()
	used, limit, tenant := t.usedUSD, t.limitUSD, t.tenant
	t.mu.Unlock()
	if limit > 0 && used >= limit {
		return &Exceeded{Used: used, Limit: limit}
	}
	if tenant != nil {
		if err := tenant.Check(); err != nil {
			return err
		}
	}
	return nil
}
