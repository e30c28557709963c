// Package limiter implements the envelope limiter (§4.1): it walks an
// envelope, classifies each item into a (category, quantity) pair, consults
// a quota oracle, and reports which categories were enforced so the caller
// can emit outcomes. The limiter itself never emits outcomes.
package limiter

import (
	"context"

	"github.com/coachpo/relaycore/internal/quota"
	"github.com/coachpo/relaycore/internal/scope"
	"github.com/coachpo/relaycore/pkg/envelope"
	"github.com/coachpo/relaycore/pkg/outcome"
)

// Enforcement records that a category was rate limited and, for event-like
// categories, that every item for which RequiresEvent is true must also be
// dropped.
type Enforcement struct {
	Category outcome.Category
	Reason   string
	Quantity int64
}

// Report is the outcome of one Apply call.
type Report struct {
	Enforcements []Enforcement
	// EventDropped is true when an event-implying category was limited,
	// meaning every requires_event item must be removed from the envelope.
	EventDropped bool
}

// Limited reports whether any category was enforced.
func (r Report) Limited() bool {
	return len(r.Enforcements) > 0
}

func isEventImplying(category outcome.Category) bool {
	return category == outcome.CategoryError || category == outcome.CategoryTransaction
}

// Apply walks env's items, classifies each into a billing category, and
// consults oracle. It mutates env by removing items belonging to any
// enforced category (and, if an event-implying category was enforced, every
// remaining requires_event item too), and returns a Report describing what
// happened.
//
// eventAssumed lets a caller whose event has already been extracted from
// the envelope (§4.1 "assume_event") still have that category considered,
// passing its own category/quantity explicitly.
func Apply(ctx context.Context, env *envelope.Envelope, s scope.Scoping, oracle quota.Oracle, eventAssumed *AssumedEvent) (Report, error) {
	var report Report
	eventPresent := env.HasEventLikeItem()

	seen := make(map[outcome.Category]int64)

	for _, it := range env.Items() {
		category, qty, ok := it.DataCategory(eventPresent)
		if !ok {
			continue
		}
		seen[category] += qty
	}
	if eventAssumed != nil {
		seen[eventAssumed.Category] += eventAssumed.Quantity
	}

	for category, qty := range seen {
		result, err := oracle.IsRateLimited(ctx, s, category, qty)
		if err != nil {
			return Report{}, err
		}
		if reason, limited := result.IsLimited(category); limited {
			report.Enforcements = append(report.Enforcements, Enforcement{
				Category: category,
				Reason:   reason,
				Quantity: qty,
			})
			if isEventImplying(category) {
				report.EventDropped = true
			}
		}
	}

	if len(report.Enforcements) == 0 {
		return report, nil
	}

	limitedCategories := make(map[outcome.Category]struct{}, len(report.Enforcements))
	for _, e := range report.Enforcements {
		limitedCategories[e.Category] = struct{}{}
	}

	env.Retain(func(it *envelope.Item) bool {
		category, _, ok := it.DataCategory(eventPresent)
		if ok {
			if _, limited := limitedCategories[category]; limited {
				return false
			}
		}
		if report.EventDropped && it.RequiresEvent() {
			return false
		}
		return true
	})

	return report, nil
}

// AssumedEvent lets the caller tell the limiter to consider the event
// category even though the event item has already been removed from the
// envelope by an earlier stage.
type AssumedEvent struct {
	Category outcome.Category
	Quantity int64
}
