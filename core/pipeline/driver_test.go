package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/coachpo/relaycore/core/pipeline/sampler"
	"github.com/coachpo/relaycore/core/pipeline/store"
	"github.com/coachpo/relaycore/core/pipeline/extract"
	"github.com/coachpo/relaycore/internal/quota"
	"github.com/coachpo/relaycore/internal/scope"
	"github.com/coachpo/relaycore/pkg/envelope"
	"github.com/coachpo/relaycore/pkg/outcome"
)

type captureSink struct {
	recorded []outcome.Outcome
}

func (s *captureSink) Record(o outcome.Outcome) {
	s.recorded = append(s.recorded, o)
}

func newTestEnvelope() *envelope.Envelope {
	env := envelope.New(envelope.RequestMeta{OriginAddr: "1.2.3.4"})
	env.Headers.EventID = uuid.New()
	return env
}

func TestRunForwardsEventThroughToSerializedItem(t *testing.T) {
	env := newTestEnvelope()
	env.AddItem(envelope.NewItem(envelope.KindEvent, []byte(`{"message":"hello"}`)))

	sink := &captureSink{}
	sc := scope.FromEnvelope(env, time.Now(), "1.2.3.4", scope.Scoping{ProjectID: 1}, sink)

	cfg := Config{
		ProcessingMode: false,
		Oracle:         quota.NewTokenBucketOracle(nil),
	}

	result := Run(context.Background(), env, sc, cfg)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if env.Len() != 1 {
		t.Fatalf("expected 1 item (re-serialized event), got %d", env.Len())
	}
	if env.Items()[0].Kind != envelope.KindEvent {
		t.Fatalf("expected event item, got %v", env.Items()[0].Kind)
	}
}

func TestRunDropsMalformedUserReportLeavingOnlyEvent(t *testing.T) {
	env := newTestEnvelope()
	env.AddItem(envelope.NewItem(envelope.KindUserReport, []byte(`{"foo":"bar"}`)))
	env.AddItem(envelope.NewItem(envelope.KindEvent, []byte(`{}`)))

	sink := &captureSink{}
	sc := scope.FromEnvelope(env, time.Now(), "1.2.3.4", scope.Scoping{ProjectID: 1}, sink)

	cfg := Config{
		ProcessingMode: false,
		Oracle:         quota.NewTokenBucketOracle(nil),
	}

	result := Run(context.Background(), env, sc, cfg)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if env.Len() != 1 {
		t.Fatalf("expected exactly 1 item, got %d", env.Len())
	}
	if env.Items()[0].Kind != envelope.KindEvent {
		t.Fatalf("expected the surviving item to be the event, got %v", env.Items()[0].Kind)
	}
}

func TestRunAppliesSessionDropWithoutAbortingEnvelope(t *testing.T) {
	env := newTestEnvelope()
	env.AddItem(envelope.NewItem(envelope.KindSession, []byte(`{"seq":18446744073709551615,"attrs":{"release":"a"}}`)))

	sc := scope.FromEnvelope(env, time.Now(), "1.2.3.4", scope.Scoping{ProjectID: 1}, nil)
	cfg := Config{Oracle: quota.NewTokenBucketOracle(nil)}

	result := Run(context.Background(), env, sc, cfg)
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if env.Len() != 0 {
		t.Fatalf("expected malformed session dropped, got %d items", env.Len())
	}
}

func TestRunFlushesTransactionMetricsOnSamplingDrop(t *testing.T) {
	env := newTestEnvelope()
	env.AddItem(envelope.NewItem(envelope.KindTransaction, []byte(
		`{"transaction":"checkout","start_timestamp":1619423941.0,"timestamp":1619424000.0}`)))

	sc := scope.FromEnvelope(env, time.Now(), "1.2.3.4", scope.Scoping{ProjectID: 1}, nil)

	cfg := Config{
		ProcessingMode: true,
		Oracle:         quota.NewTokenBucketOracle(nil),
		Sampler: sampler.Config{
			Rules: []sampler.Rule{{ID: 9, SampleRate: 0, Match: func(*extract.Event, string) bool { return true }}},
			Roll:  func(*extract.Event) float64 { return 0.5 },
		},
		TransactionMetrics: store.TransactionMetricsConfig{},
	}

	result := Run(context.Background(), env, sc, cfg)
	if result.Err == nil {
		t.Fatal("expected sampling to produce a terminal error")
	}
	if !result.HasFlushedMetrics {
		t.Fatal("expected transaction metrics to be flushed despite the sampling drop")
	}
	if result.FlushedMetrics.DurationMs != 59000 {
		t.Fatalf("expected flushed duration 59000ms, got %v", result.FlushedMetrics.DurationMs)
	}
	if env.Len() != 0 {
		t.Fatalf("expected the envelope to hold no items after the event was sampled out, got %d", env.Len())
	}
}

func TestRunEnforcesQuotasAndDropsRateLimitedTransaction(t *testing.T) {
	env := newTestEnvelope()
	env.AddItem(envelope.NewItem(envelope.KindTransaction, []byte(
		`{"transaction":"checkout","start_timestamp":1619423941.0,"timestamp":1619424000.0}`)))

	sc := scope.FromEnvelope(env, time.Now(), "1.2.3.4", scope.Scoping{ProjectID: 1}, &captureSink{})

	oracle := quota.NewTokenBucketOracle(quota.Quotas{
		outcome.CategoryTransaction: {RatePerSecond: decimal.Zero, Burst: 1, Reason: "over_quota"},
	})
	// Drain the bucket's initial burst token so the Run call below observes
	// an exhausted quota instead of the token bucket's implicit first-use grant.
	if _, err := oracle.IsRateLimited(context.Background(), scope.Scoping{ProjectID: 1}, outcome.CategoryTransaction, 1); err != nil {
		t.Fatalf("unexpected error priming the bucket: %v", err)
	}

	cfg := Config{
		ProcessingMode: false,
		Oracle:         oracle,
	}

	result := Run(context.Background(), env, sc, cfg)
	if result.Err != nil {
		t.Fatalf("unexpected terminal error: %v", result.Err)
	}
	if env.Len() != 0 {
		t.Fatalf("expected rate-limited transaction to be dropped, got %d items", env.Len())
	}
}
