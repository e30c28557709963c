package store

import (
	"testing"

	"github.com/coachpo/relaycore/core/pipeline/extract"
)

func transactionFixture() *extract.Event {
	ev := extract.NewEvent()
	ev.Set("type", "transaction")
	ev.Set("transaction", "checkout")
	ev.Set("start_timestamp", 1619423941.0) // 2021-04-26T07:59:01Z
	ev.Set("timestamp", 1619424000.0)       // 2021-04-26T08:00:00Z
	ev.Set("tags", map[string]any{"fOO": "bar"})
	ev.Set("measurements", map[string]any{
		"lcp": map[string]any{"value": 3000.0},
	})
	ev.Set("user", map[string]any{"id": "u-1"})
	return ev
}

func TestExtractTransactionMetricsComputesDurationInMilliseconds(t *testing.T) {
	metrics, ok := ExtractTransactionMetrics(transactionFixture(), TransactionMetricsConfig{})
	if !ok {
		t.Fatal("expected metrics to be extracted")
	}
	if metrics.DurationMs != 59000 {
		t.Fatalf("expected duration 59000ms, got %v", metrics.DurationMs)
	}
}

func TestExtractTransactionMetricsRatesLCPAsMeh(t *testing.T) {
	metrics, ok := ExtractTransactionMetrics(transactionFixture(), TransactionMetricsConfig{})
	if !ok {
		t.Fatal("expected metrics to be extracted")
	}
	if len(metrics.Measurements) != 1 {
		t.Fatalf("expected 1 measurement, got %d", len(metrics.Measurements))
	}
	lcp := metrics.Measurements[0]
	if lcp.Name != "lcp" || lcp.Value != 3000 {
		t.Fatalf("unexpected measurement: %+v", lcp)
	}
	if !lcp.Rated || lcp.Rating != RatingMeh {
		t.Fatalf("expected lcp rated meh, got %+v", lcp)
	}
}

func TestExtractTransactionMetricsCapturesUserSetValue(t *testing.T) {
	metrics, ok := ExtractTransactionMetrics(transactionFixture(), TransactionMetricsConfig{})
	if !ok {
		t.Fatal("expected metrics to be extracted")
	}
	if metrics.UserSetValue != "u-1" {
		t.Fatalf("expected user set value u-1, got %q", metrics.UserSetValue)
	}
}

func TestExtractTransactionMetricsNotATransactionReturnsFalse(t *testing.T) {
	ev := extract.NewEvent()
	ev.Set("type", "event")
	if _, ok := ExtractTransactionMetrics(ev, TransactionMetricsConfig{}); ok {
		t.Fatal("expected no metrics for non-transaction event")
	}
}

func TestExtractTransactionMetricsMissingTimestampsReturnsFalse(t *testing.T) {
	ev := extract.NewEvent()
	ev.Set("type", "transaction")
	if _, ok := ExtractTransactionMetrics(ev, TransactionMetricsConfig{}); ok {
		t.Fatal("expected no metrics without start/end timestamps")
	}
}

func TestExtractTransactionMetricsSatisfactionOverride(t *testing.T) {
	ev := transactionFixture()
	cfg := TransactionMetricsConfig{
		DefaultSatisfactionMs:   300,
		SatisfactionOverridesMs: map[string]float64{"checkout": 60000},
	}
	metrics, ok := ExtractTransactionMetrics(ev, cfg)
	if !ok {
		t.Fatal("expected metrics to be extracted")
	}
	if metrics.Satisfaction != SatisfactionSatisfied {
		t.Fatalf("expected satisfied under override threshold, got %v", metrics.Satisfaction)
	}
}

func TestExtractTransactionMetricsSpanOpBreakdowns(t *testing.T) {
	ev := transactionFixture()
	ev.Set("spans", []any{
		map[string]any{"op": "db", "start_timestamp": 1619423941.0, "timestamp": 1619423951.0},
		map[string]any{"op": "db", "start_timestamp": 1619423951.0, "timestamp": 1619423956.0},
		map[string]any{"op": "http", "start_timestamp": 1619423941.0, "timestamp": 1619423942.0},
	})
	metrics, ok := ExtractTransactionMetrics(ev, TransactionMetricsConfig{})
	if !ok {
		t.Fatal("expected metrics to be extracted")
	}
	if metrics.Breakdowns["ops.db"] != 15000 {
		t.Fatalf("expected db op breakdown 15000ms, got %v", metrics.Breakdowns["ops.db"])
	}
	if metrics.Breakdowns["ops.http"] != 1000 {
		t.Fatalf("expected http op breakdown 1000ms, got %v", metrics.Breakdowns["ops.http"])
	}
}

func TestExtractTransactionMetricsConditionalTag(t *testing.T) {
	ev := transactionFixture()
	cfg := TransactionMetricsConfig{
		ConditionalTags: []ConditionalTag{
			{Key: "slow", Value: "true", Match: func(e *extract.Event) bool {
				start, _ := floatField(e, "start_timestamp")
				end, _ := floatField(e, "timestamp")
				return (end-start)*1000 > 1000
			}},
		},
	}
	metrics, ok := ExtractTransactionMetrics(ev, cfg)
	if !ok {
		t.Fatal("expected metrics to be extracted")
	}
	if metrics.Tags["slow"] != "true" {
		t.Fatalf("expected conditional tag slow=true, got %v", metrics.Tags)
	}
}
