package store

import (
	"context"

	"github.com/coachpo/relaycore/core/pipeline/limiter"
	"github.com/coachpo/relaycore/internal/observability"
	"github.com/coachpo/relaycore/internal/quota"
	"github.com/coachpo/relaycore/internal/scope"
	"github.com/coachpo/relaycore/pkg/envelope"
	"github.com/coachpo/relaycore/pkg/outcome"
)

// EnforceQuotas wraps limiter.Apply (§4.1) with outcome emission: every
// enforced category is reported as RateLimited through sc, and sc's summary
// is refreshed to match the envelope's item set after removal. Each
// enforcement is also published on bus (best-effort, backstopped by dlq; a
// nil bus disables publication) so operators can see which quota actually
// fired without parsing the outcome stream. Returns whether an
// event-implying category was dropped, so the caller can discard the event
// it already extracted instead of serializing it back into the envelope.
func EnforceQuotas(ctx context.Context, env *envelope.Envelope, sc *scope.Context, oracle quota.Oracle, eventAssumed *limiter.AssumedEvent, bus observability.TelemetryBus, dlq *observability.DeadLetterQueue) (bool, error) {
	report, err := limiter.Apply(ctx, env, sc.Scoping, oracle, eventAssumed)
	if err != nil {
		return false, err
	}
	for _, e := range report.Enforcements {
		sc.SendOutcomes(outcome.RateLimited(e.Category, e.Quantity, e.Reason), e.Category, e.Quantity)
		observability.PublishBestEffort(ctx, bus, dlq, observability.TelemetryEvent{
			Type:     observability.TelemetryEventRateLimited,
			Severity: observability.TelemetrySeverityWarn,
			Metadata: map[string]any{
				"category": string(e.Category),
				"quantity": e.Quantity,
				"reason":   e.Reason,
			},
		})
	}
	sc.Update(env)
	return report.EventDropped, nil
}
