package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/relaycore/internal/quota"
	"github.com/coachpo/relaycore/internal/scope"
	"github.com/coachpo/relaycore/pkg/envelope"
	"github.com/coachpo/relaycore/pkg/outcome"
)

type recordingSink struct {
	recorded []outcome.Outcome
}

func (s *recordingSink) Record(o outcome.Outcome) {
	s.recorded = append(s.recorded, o)
}

func TestEnforceQuotasRecordsRateLimitedOutcome(t *testing.T) {
	env := envelope.New(envelope.RequestMeta{})
	env.AddItem(envelope.NewItem(envelope.KindTransaction, []byte(`{}`)))

	oracle := quota.NewTokenBucketOracle(quota.Quotas{
		outcome.CategoryTransaction: {RatePerSecond: decimal.Zero, Burst: 0, Reason: "over_quota"},
	})

	sink := &recordingSink{}
	sc := scope.FromEnvelope(env, time.Now(), "1.2.3.4", scope.Scoping{ProjectID: 1}, sink)

	eventDropped, err := EnforceQuotas(context.Background(), env, sc, oracle, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !eventDropped {
		t.Fatal("expected transaction category to be event-implying and dropped")
	}
	if env.Len() != 0 {
		t.Fatalf("expected transaction item to be removed, got %d items", env.Len())
	}
	if len(sink.recorded) != 1 {
		t.Fatalf("expected 1 recorded outcome, got %d", len(sink.recorded))
	}
	if sink.recorded[0].Kind != outcome.KindRateLimited {
		t.Fatalf("expected rate limited outcome, got %+v", sink.recorded[0])
	}
}

func TestEnforceQuotasWithinLimitKeepsItems(t *testing.T) {
	env := envelope.New(envelope.RequestMeta{})
	env.AddItem(envelope.NewItem(envelope.KindTransaction, []byte(`{}`)))

	oracle := quota.NewTokenBucketOracle(quota.Quotas{
		outcome.CategoryTransaction: {RatePerSecond: decimal.NewFromInt(100), Burst: 100},
	})

	sc := scope.FromEnvelope(env, time.Now(), "1.2.3.4", scope.Scoping{ProjectID: 1}, nil)

	eventDropped, err := EnforceQuotas(context.Background(), env, sc, oracle, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eventDropped {
		t.Fatal("expected no enforcement within limit")
	}
	if env.Len() != 1 {
		t.Fatalf("expected item to survive, got %d items", env.Len())
	}
}
