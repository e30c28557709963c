// Package store implements the processing-mode-only stages (§4.11-4.12):
// store-normalize, the inbound filter, quota enforcement wrapping the
// envelope limiter, and transaction-metric extraction.
package store

import (
	"sort"

	"github.com/coachpo/relaycore/core/pipeline/extract"
)

// VitalRating is the closed set of web-vital quality buckets.
type VitalRating string

const (
	RatingGood VitalRating = "good"
	RatingMeh  VitalRating = "meh"
	RatingPoor VitalRating = "poor"
)

// vitalThresholds holds the (good-max, meh-max) boundaries for a named
// measurement; above meh-max is poor. Values are the unit each measurement
// is reported in (milliseconds for lcp/fcp/fid, unitless for cls).
var vitalThresholds = map[string][2]float64{
	"lcp": {2500, 4000},
	"fcp": {1800, 3000},
	"fid": {100, 300},
	"cls": {0.1, 0.25},
}

func rateVital(name string, value float64) (VitalRating, bool) {
	bounds, ok := vitalThresholds[name]
	if !ok {
		return "", false
	}
	switch {
	case value <= bounds[0]:
		return RatingGood, true
	case value <= bounds[1]:
		return RatingMeh, true
	default:
		return RatingPoor, true
	}
}

// Measurement is one extracted `measurements.<name>@none` derived metric.
type Measurement struct {
	Name   string
	Value  float64
	Rating VitalRating
	Rated  bool
}

// TransactionMetricsConfig carries the project's transaction-metrics
// settings: custom tags to copy onto every extracted metric, conditional
// tagging rules, and per-transaction satisfaction threshold overrides.
type TransactionMetricsConfig struct {
	CustomTags               map[string]string
	DefaultSatisfactionMs     float64
	SatisfactionOverridesMs   map[string]float64
	ConditionalTags           []ConditionalTag
}

// ConditionalTag adds Key=Value to the tag set of every extracted metric
// whenever Match(ev) is true.
type ConditionalTag struct {
	Key   string
	Value string
	Match func(ev *extract.Event) bool
}

// Satisfaction is the apdex-style bucket assigned from transaction duration
// against its (possibly overridden) threshold.
type Satisfaction string

const (
	SatisfactionSatisfied  Satisfaction = "satisfied"
	SatisfactionTolerating Satisfaction = "tolerating"
	SatisfactionFrustrated Satisfaction = "frustrated"
)

// TransactionMetrics is the full set of derived metrics §4.12 produces for
// one transaction event.
type TransactionMetrics struct {
	DurationMs   float64
	Measurements []Measurement
	Breakdowns   map[string]float64
	UserSetValue string
	Tags         map[string]string
	Satisfaction Satisfaction
}

func floatField(ev *extract.Event, key string) (float64, bool) {
	v, ok := ev.Fields[key].(float64)
	return v, ok
}

func stringField(ev *extract.Event, key string) string {
	s, _ := ev.Fields[key].(string)
	return s
}

// ExtractTransactionMetrics implements §4.12. It returns false when ev is
// not a transaction event or lacks the start/end timestamps required to
// compute duration.
func ExtractTransactionMetrics(ev *extract.Event, cfg TransactionMetricsConfig) (TransactionMetrics, bool) {
	if ev == nil || stringField(ev, "type") != "transaction" {
		return TransactionMetrics{}, false
	}
	start, hasStart := floatField(ev, "start_timestamp")
	end, hasEnd := floatField(ev, "timestamp")
	if !hasStart || !hasEnd || end < start {
		return TransactionMetrics{}, false
	}

	durationMs := (end - start) * 1000

	tags := map[string]string{
		"release":     stringField(ev, "release"),
		"dist":        stringField(ev, "dist"),
		"environment": stringField(ev, "environment"),
		"transaction": stringField(ev, "transaction"),
	}
	for k, v := range cfg.CustomTags {
		tags[k] = v
	}

	var measurements []Measurement
	if raw, ok := ev.Fields["measurements"].(map[string]any); ok {
		names := make([]string, 0, len(raw))
		for name := range raw {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			entry, ok := raw[name].(map[string]any)
			if !ok {
				continue
			}
			value, ok := entry["value"].(float64)
			if !ok {
				continue
			}
			m := Measurement{Name: name, Value: value}
			if rating, rated := rateVital(name, value); rated {
				m.Rating = rating
				m.Rated = true
			}
			measurements = append(measurements, m)
		}
	}

	breakdowns := extractSpanOpBreakdowns(ev)

	threshold := cfg.DefaultSatisfactionMs
	if override, ok := cfg.SatisfactionOverridesMs[tags["transaction"]]; ok {
		threshold = override
	}
	satisfaction := satisfactionFor(durationMs, threshold)

	for _, ct := range cfg.ConditionalTags {
		if ct.Match != nil && ct.Match(ev) {
			tags[ct.Key] = ct.Value
		}
	}

	userSet := ""
	if user, ok := ev.Fields["user"].(map[string]any); ok {
		if id, ok := user["id"].(string); ok {
			userSet = id
		}
	}

	return TransactionMetrics{
		DurationMs:   durationMs,
		Measurements: measurements,
		Breakdowns:   breakdowns,
		UserSetValue: userSet,
		Tags:         tags,
		Satisfaction: satisfaction,
	}, true
}

// transactionsNamespace is the metric namespace every derived transaction
// metric identifier is rendered under (§6).
const transactionsNamespace = "transactions"

// MetricPoint is one rendered `<kind>:<namespace>/<name>@<unit>` derived
// metric identifier, its value, and the tags it carries.
type MetricPoint struct {
	Identifier string
	Value      float64
	Tags       map[string]string
}

func cloneTags(base map[string]string, extra int) map[string]string {
	t := make(map[string]string, len(base)+extra)
	for k, v := range base {
		t[k] = v
	}
	return t
}

// Render flattens tm into the wire metric identifiers §6 describes:
// `d:transactions/duration@millisecond`, `d:transactions/measurements.<name>@none`
// (tagged measurement_rating when the measurement matches a known web
// vital), `d:transactions/breakdowns.span_ops.ops.<op>@millisecond` per span
// group, and an `s:transactions/user@none` set entry when a user id was
// captured. Every point also carries a satisfaction tag.
func (tm TransactionMetrics) Render() []MetricPoint {
	baseTags := cloneTags(tm.Tags, 1)
	baseTags["satisfaction"] = string(tm.Satisfaction)

	points := []MetricPoint{{
		Identifier: "d:" + transactionsNamespace + "/duration@millisecond",
		Value:      tm.DurationMs,
		Tags:       cloneTags(baseTags, 0),
	}}

	for _, m := range tm.Measurements {
		mTags := cloneTags(baseTags, 1)
		if m.Rated {
			mTags["measurement_rating"] = string(m.Rating)
		}
		points = append(points, MetricPoint{
			Identifier: "d:" + transactionsNamespace + "/measurements." + m.Name + "@none",
			Value:      m.Value,
			Tags:       mTags,
		})
	}

	if len(tm.Breakdowns) > 0 {
		names := make([]string, 0, len(tm.Breakdowns))
		for name := range tm.Breakdowns {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			points = append(points, MetricPoint{
				Identifier: "d:" + transactionsNamespace + "/breakdowns.span_ops." + name + "@millisecond",
				Value:      tm.Breakdowns[name],
				Tags:       cloneTags(baseTags, 0),
			})
		}
	}

	if tm.UserSetValue != "" {
		points = append(points, MetricPoint{
			Identifier: "s:" + transactionsNamespace + "/user@none",
			Value:      1,
			Tags:       cloneTags(baseTags, 0),
		})
	}

	return points
}

func satisfactionFor(durationMs, thresholdMs float64) Satisfaction {
	if thresholdMs <= 0 {
		return SatisfactionSatisfied
	}
	switch {
	case durationMs <= thresholdMs:
		return SatisfactionSatisfied
	case durationMs <= 4*thresholdMs:
		return SatisfactionTolerating
	default:
		return SatisfactionFrustrated
	}
}

// extractSpanOpBreakdowns sums span duration per "op" into the
// `breakdowns.span_ops.ops.<op>@millisecond` metric family.
func extractSpanOpBreakdowns(ev *extract.Event) map[string]float64 {
	spans, ok := ev.Fields["spans"].([]any)
	if !ok || len(spans) == 0 {
		return nil
	}
	totals := make(map[string]float64)
	for _, raw := range spans {
		span, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		op, _ := span["op"].(string)
		if op == "" {
			op = "default"
		}
		start, hasStart := span["start_timestamp"].(float64)
		end, hasEnd := span["timestamp"].(float64)
		if !hasStart || !hasEnd || end < start {
			continue
		}
		totals["ops."+op] += (end - start) * 1000
	}
	if len(totals) == 0 {
		return nil
	}
	return totals
}
