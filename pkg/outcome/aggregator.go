package outcome

import (
	"sync"
	"sync/atomic"
)

// Key identifies one (outcome kind, reason, category) bucket in the
// aggregator's counter map.
type Key struct {
	Kind     Kind
	Reason   string
	Category Category
}

// Aggregator accumulates outcome quantities for periodic client-report
// emission. Safe for concurrent use: Record may be called from any pipeline
// worker goroutine while TakeReport drains the current totals.
type Aggregator struct {
	mu     sync.Mutex
	counts map[Key]*atomic.Int64
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{counts: make(map[Key]*atomic.Int64)}
}

// Record adds quantity to the bucket the outcome belongs to. A non-positive
// quantity is a no-op.
func (a *Aggregator) Record(o Outcome) {
	if a == nil || o.Quantity <= 0 {
		return
	}
	key := Key{Kind: o.Kind, Reason: o.Reason(), Category: o.Category}

	a.mu.Lock()
	defer a.mu.Unlock()
	counter, ok := a.counts[key]
	if !ok {
		counter = &atomic.Int64{}
		a.counts[key] = counter
	}
	counter.Add(o.Quantity)
}

// Report is a single drained (kind, reason, category) -> quantity row.
type Report struct {
	Kind     Kind
	Reason   string
	Category Category
	Quantity int64
}

// TakeReport atomically zeroes every counter and returns the non-zero rows
// observed at that instant, along with true when there was anything to
// report. Entries left at zero are pruned so the map does not grow
// unbounded across long-lived aggregators.
func (a *Aggregator) TakeReport() ([]Report, bool) {
	if a == nil {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.counts) == 0 {
		return nil, false
	}

	var rows []Report
	for key, counter := range a.counts {
		quantity := counter.Swap(0)
		if quantity > 0 {
			rows = append(rows, Report{
				Kind:     key.Kind,
				Reason:   key.Reason,
				Category: key.Category,
				Quantity: quantity,
			})
		}
	}
	for key, counter := range a.counts {
		if counter.Load() == 0 {
			delete(a.counts, key)
		}
	}
	if len(rows) == 0 {
		return nil, false
	}
	return rows, true
}
