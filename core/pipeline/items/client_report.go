package items

import (
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/relaycore/core/pipeline/clock"
	"github.com/coachpo/relaycore/pkg/envelope"
	"github.com/coachpo/relaycore/pkg/outcome"
)

// ClientReportConfig carries the per-project settings the client report
// processor needs.
type ClientReportConfig struct {
	MaxSecsInPast         int64
	MaxSecsInFuture       int64
	ClientOutcomesEnabled bool
	ProcessingMode        bool
}

// maxReasonBytes is the clamp applied to each event's reason string before
// merging (§4.5, boundary case: 201 bytes is dropped).
const maxReasonBytes = 200

// clientReportField identifies which of the four wire arrays an event came
// from; it is part of the merge key and decides how its reason string is
// interpreted, never the reason string's own content.
type clientReportField string

const (
	fieldClientDiscard   clientReportField = "client_discard"
	fieldFiltered        clientReportField = "filtered"
	fieldFilteredSampling clientReportField = "filtered_sampling"
	fieldRateLimited     clientReportField = "rate_limited"
)

type clientReportPayload struct {
	Timestamp              float64             `json:"timestamp"`
	DiscardedEvents        []rawDiscardedEvent `json:"discarded_events"`
	FilteredEvents         []rawDiscardedEvent `json:"filtered_events"`
	FilteredSamplingEvents []rawDiscardedEvent `json:"filtered_sampling_events"`
	RateLimitedEvents      []rawDiscardedEvent `json:"rate_limited_events"`
}

// rawDiscardedEvent decodes the wire tuple [reason, category, quantity].
type rawDiscardedEvent [3]interface{}

func (r rawDiscardedEvent) reason() string {
	s, _ := r[0].(string)
	return s
}

func (r rawDiscardedEvent) category() string {
	s, _ := r[1].(string)
	return s
}

func (r rawDiscardedEvent) quantity() int64 {
	switch v := r[2].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

type mergeKey struct {
	field    clientReportField
	reason   string
	category string
}

// outcomeFromParts reconstructs the outcome a (field, reason) pair encodes.
// field comes from which of the four wire arrays the event was read from,
// never from sniffing the reason string itself.
func outcomeFromParts(field clientReportField, reason string) (outcome.Outcome, bool) {
	switch field {
	case fieldFilteredSampling:
		ruleID, err := decodeSampled(reason)
		if err != nil {
			return outcome.Outcome{}, false
		}
		return outcome.FilteredSampling(ruleID), true
	case fieldClientDiscard:
		return outcome.ClientDiscard(reason), true
	case fieldFiltered:
		return outcome.Filtered(reason), true
	case fieldRateLimited:
		return outcome.Outcome{Kind: outcome.KindRateLimited, RateLimitReason: reason}, true
	default:
		return outcome.Outcome{}, false
	}
}

// decodeSampled parses the "Sampled:<u64>" convention used to encode a
// sampling rule id inside a filtered_sampling_events reason string.
func decodeSampled(reason string) (uint64, error) {
	const prefix = "Sampled:"
	if !strings.HasPrefix(reason, prefix) {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseUint(strings.TrimPrefix(reason, prefix), 10, 64)
}

// ProcessClientReports implements §4.5. It consumes every ClientReport item
// from items (they are always removed from the envelope regardless of
// outcome), merges their discarded/filtered/filtered_sampling/rate_limited
// events by (field, reason, category) summing quantities, and returns the
// outcomes to emit. The remote address is intentionally not attached to
// these outcomes, to improve cross-client aggregation.
func ProcessClientReports(reportItems []*envelope.Item, cfg ClientReportConfig, corrector clock.Corrector, receivedAt time.Time) []outcome.Outcome {
	if !cfg.ClientOutcomesEnabled {
		return nil
	}

	totals := make(map[mergeKey]int64)
	for _, it := range reportItems {
		var payload clientReportPayload
		if err := json.Unmarshal(it.Payload, &payload); err != nil {
			continue
		}
		ts := corrector.Correct(unixToTime(payload.Timestamp))
		past := receivedAt.Add(-time.Duration(cfg.MaxSecsInPast) * time.Second)
		future := receivedAt.Add(time.Duration(cfg.MaxSecsInFuture) * time.Second)
		if ts.Before(past) || ts.After(future) {
			continue
		}

		accumulate := func(field clientReportField, events []rawDiscardedEvent) {
			for _, de := range events {
				reason := de.reason()
				if len(reason) > maxReasonBytes {
					continue
				}
				key := mergeKey{field: field, reason: reason, category: de.category()}
				totals[key] += de.quantity()
			}
		}
		accumulate(fieldClientDiscard, payload.DiscardedEvents)
		accumulate(fieldFiltered, payload.FilteredEvents)
		accumulate(fieldFilteredSampling, payload.FilteredSamplingEvents)
		accumulate(fieldRateLimited, payload.RateLimitedEvents)
	}

	var outcomes []outcome.Outcome
	for key, qty := range totals {
		if qty <= 0 {
			continue
		}
		o, ok := outcomeFromParts(key.field, key.reason)
		if !ok {
			continue
		}
		o = o.WithCategory(outcome.Category(key.category), qty)
		outcomes = append(outcomes, o)
	}
	return outcomes
}
