// Package pipeline wires the per-stage packages (limiter, clock, items,
// extract, finalize, sampler, store, pii, unreal) into the fixed nine-step
// envelope driver (§4.14).
package pipeline

import (
	"context"

	"github.com/coachpo/relaycore/core/pipeline/finalize"
	"github.com/coachpo/relaycore/core/pipeline/items"
	"github.com/coachpo/relaycore/core/pipeline/pii"
	"github.com/coachpo/relaycore/core/pipeline/sampler"
	"github.com/coachpo/relaycore/core/pipeline/store"
	"github.com/coachpo/relaycore/internal/observability"
	"github.com/coachpo/relaycore/internal/quota"
)

// CorruptionRecorder receives a signal whenever store-normalization finds
// evidence that an event payload was corrupted upstream (§4.11), so the
// caller can back it with a counter independent of the outcome stream.
type CorruptionRecorder interface {
	IncrementEventCorrupted(ctx context.Context)
}

// Config is one project's fully compiled pipeline configuration: every
// per-project setting each stage package needs, gathered in one place so the
// driver does not have to thread a dozen separate config values through its
// call sites.
type Config struct {
	ProcessingMode bool

	MaxEventSize int

	Session      items.SessionConfig
	ClientReport items.ClientReportConfig

	HasProfilingFeature bool
	HasReplaysFeature   bool

	Normalize       store.NormalizeFunc
	NormalizeConfig store.NormalizeConfig
	InboundFilter   store.FilterFunc

	TransactionMetrics store.TransactionMetricsConfig

	Sampler sampler.Config

	PII pii.Config

	Relay finalize.RelayInfo

	Oracle quota.Oracle

	// Telemetry, when non-nil, receives ops-only events (clock drift
	// corrections, sampling decisions, silently-dropped items) the driver
	// publishes best-effort alongside the outcome stream. Nil disables
	// telemetry publication entirely.
	Telemetry observability.TelemetryBus
	// DLQ backstops Telemetry publish failures; nil drops the event instead.
	DLQ *observability.DeadLetterQueue
	// Corruption, when non-nil, is notified every time store-normalize's
	// corruption scan finds a hit.
	Corruption CorruptionRecorder
}
