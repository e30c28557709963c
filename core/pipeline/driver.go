package pipeline

import (
	"context"
	"time"

	"github.com/coachpo/relaycore/core/pipeline/clock"
	"github.com/coachpo/relaycore/core/pipeline/extract"
	"github.com/coachpo/relaycore/core/pipeline/finalize"
	"github.com/coachpo/relaycore/core/pipeline/items"
	"github.com/coachpo/relaycore/core/pipeline/limiter"
	"github.com/coachpo/relaycore/core/pipeline/pii"
	"github.com/coachpo/relaycore/core/pipeline/sampler"
	"github.com/coachpo/relaycore/core/pipeline/store"
	"github.com/coachpo/relaycore/core/pipeline/unreal"
	"github.com/coachpo/relaycore/errs"
	"github.com/coachpo/relaycore/internal/observability"
	"github.com/coachpo/relaycore/internal/scope"
	"github.com/coachpo/relaycore/pkg/envelope"
	"github.com/coachpo/relaycore/pkg/outcome"
)

// metricsAccumulator tallies the byte counters Finalize folds into the event
// in processing mode, gathered as the driver walks the envelope's items
// before any stage has a chance to remove them.
type metricsAccumulator struct {
	ingestedBytes   map[string]int64
	sampleRates     []float64
	attachmentBytes int64
}

func newMetricsAccumulator() *metricsAccumulator {
	return &metricsAccumulator{ingestedBytes: make(map[string]int64)}
}

func (m *metricsAccumulator) observe(it *envelope.Item) {
	m.ingestedBytes[string(it.Kind)] += int64(it.Len())
	if it.Kind == envelope.KindAttachment {
		m.attachmentBytes += int64(it.Len())
	}
	m.sampleRates = append(m.sampleRates, it.Headers.SampleRates...)
}

func (m *metricsAccumulator) toFinalizeMetrics() finalize.Metrics {
	return finalize.Metrics{
		IngestedBytes:   m.ingestedBytes,
		SampleRates:     m.sampleRates,
		AttachmentBytes: m.attachmentBytes,
	}
}

// Result is the outcome of one Run call: the terminal error, if any, and the
// transaction metrics computed before a sampling drop, which the caller must
// still forward to the (out-of-scope) metrics aggregator per §4.14's
// metrics-survive-sampling rule.
type Result struct {
	Err              *errs.E
	FlushedMetrics   store.TransactionMetrics
	HasFlushedMetrics bool
}

// Run executes the fixed nine-step pipeline (§4.14) over env, emitting
// outcomes through sc as items are dropped. Per-item drops in steps 1-5
// never abort the run; only the event-creation branch (step 6), quota
// enforcement (step 7) and event serialization (step 8) can produce a
// terminal error.
func Run(ctx context.Context, env *envelope.Envelope, sc *scope.Context, cfg Config) Result {
	receivedAt := sc.ReceivedAt
	corrector := buildCorrector(env, receivedAt)
	if corrector.Active() {
		publishTelemetry(ctx, cfg, observability.TelemetryEventClockDriftCorrected, map[string]any{
			"drift_ms": corrector.Drift().Milliseconds(),
		})
	}
	metrics := newMetricsAccumulator()
	for _, it := range env.Items() {
		metrics.observe(it)
	}

	processSessions(env, cfg, corrector, receivedAt)
	publishDroppedDiff(ctx, cfg, sc.Update(env), "sessions")

	processClientReports(env, cfg, corrector, receivedAt, sc)
	publishDroppedDiff(ctx, cfg, sc.Update(env), "client_reports")

	processUserReports(env)
	publishDroppedDiff(ctx, cfg, sc.Update(env), "user_reports")

	processProfiles(env, cfg, sc)
	publishDroppedDiff(ctx, cfg, sc.Update(env), "profiles")

	processReplayRecordings(env, cfg, sc)
	publishDroppedDiff(ctx, cfg, sc.Update(env), "replay_recordings")

	if !env.CreatesEvent() {
		return Result{}
	}

	branch := runEventBranch(ctx, env, cfg, corrector, receivedAt, metrics, sc)
	if branch.err != nil {
		return finishWithError(branch.err, branch, sc)
	}

	eventDropped, enforceErr := store.EnforceQuotas(ctx, env, sc, cfg.Oracle, branch.assumed, cfg.Telemetry, cfg.DLQ)
	if enforceErr != nil {
		return finishWithError(errs.New(errs.CodeInternal, errs.WithCause(enforceErr)), branch, sc)
	}
	ev := branch.event
	if eventDropped {
		ev = nil
	}
	publishDroppedDiff(ctx, cfg, sc.Update(env), "quota_enforcement")

	if ev != nil {
		pii.Scrub(ev.Fields, cfg.PII)
		if serErr := serializeEventIntoEnvelope(env, ev); serErr != nil {
			return finishWithError(serErr, branch, sc)
		}
	}

	scrubAttachments(env, cfg.PII)

	return Result{}
}

// publishTelemetry is a thin wrapper over observability.PublishBestEffort
// that reads the bus/DLQ off cfg, so call sites don't need to check cfg.Telemetry
// for nil themselves.
func publishTelemetry(ctx context.Context, cfg Config, eventType observability.TelemetryEventType, metadata map[string]any) {
	if cfg.Telemetry == nil {
		return
	}
	observability.PublishBestEffort(ctx, cfg.Telemetry, cfg.DLQ, observability.TelemetryEvent{
		Type:     eventType,
		Severity: observability.TelemetrySeverityInfo,
		Metadata: metadata,
	})
}

// publishDroppedDiff surfaces categories sc.Update found removed from the
// envelope, including removals an explicit outcome was already sent for.
// This is informational only: known-silent removals (exempt item kinds, or a
// disabled feature gating an otherwise-billed category, per §4.6/§4.7) are
// expected to show up here and are not converted into billed outcomes,
// since the original processor never outcomes them either.
func publishDroppedDiff(ctx context.Context, cfg Config, dropped map[outcome.Category]int64, stage string) {
	if len(dropped) == 0 {
		return
	}
	metadata := make(map[string]any, len(dropped)+1)
	metadata["stage"] = stage
	for category, quantity := range dropped {
		metadata[string(category)] = quantity
	}
	publishTelemetry(ctx, cfg, observability.TelemetryEventEnvelopeDropped, metadata)
}

func buildCorrector(env *envelope.Envelope, receivedAt time.Time) clock.Corrector {
	if !env.Headers.HasSentAt {
		return clock.Corrector{}
	}
	return clock.New(env.Headers.SentAt, receivedAt)
}

func processSessions(env *envelope.Envelope, cfg Config, corrector clock.Corrector, receivedAt time.Time) {
	env.Retain(func(it *envelope.Item) bool {
		switch it.Kind {
		case envelope.KindSession:
			processed, _, _ := items.ProcessSession(it, cfg.Session, corrector, receivedAt)
			return processed != nil
		case envelope.KindSessions:
			processed, _, _ := items.ProcessSessions(it, cfg.Session, corrector, receivedAt)
			return processed != nil
		default:
			return true
		}
	})
}

func processClientReports(env *envelope.Envelope, cfg Config, corrector clock.Corrector, receivedAt time.Time, sc *scope.Context) {
	reportItems := env.FindAll(func(it *envelope.Item) bool { return it.Kind == envelope.KindClientReport })
	if len(reportItems) == 0 {
		return
	}
	outcomes := items.ProcessClientReports(reportItems, cfg.ClientReport, corrector, receivedAt)
	for _, o := range outcomes {
		sc.SendOutcomes(o, o.Category, o.Quantity)
	}
	env.RemoveAll(envelope.KindClientReport)
}

func processUserReports(env *envelope.Envelope) {
	env.Retain(func(it *envelope.Item) bool {
		if it.Kind != envelope.KindUserReport {
			return true
		}
		return items.ProcessUserReport(it) != nil
	})
}

func processProfiles(env *envelope.Envelope, cfg Config, sc *scope.Context) {
	env.Retain(func(it *envelope.Item) bool {
		if it.Kind != envelope.KindProfile {
			return true
		}
		processed, err := items.ProcessProfile(it, cfg.HasProfilingFeature, cfg.ProcessingMode)
		if err != nil {
			if o, ok := err.Outcome(); ok {
				sc.SendOutcomes(o, outcome.CategoryProfile, 1)
			}
			return false
		}
		return processed != nil
	})
}

func processReplayRecordings(env *envelope.Envelope, cfg Config, sc *scope.Context) {
	env.Retain(func(it *envelope.Item) bool {
		if it.Kind != envelope.KindReplayRecording {
			return true
		}
		kept := items.ProcessReplayRecording(it, cfg.HasReplaysFeature)
		if kept == nil {
			return false
		}
		return true
	})
}

// eventBranchResult carries everything Run needs after the event-creation
// sub-pipeline: the finalized event (nil once sampling or the inbound
// filter dropped it), the assumed billing category for the limiter (since
// extraction already removed the event item from the envelope), and the
// transaction metrics computed before any drop, which must still be flushed
// if the eventual error is sampling-caused.
type eventBranchResult struct {
	event        *extract.Event
	assumed      *limiter.AssumedEvent
	txMetrics    store.TransactionMetrics
	hasTxMetrics bool
	err          *errs.E
}

// runEventBranch implements driver step 6: the conditional event-creation
// sub-pipeline (expand unreal, extract, process unreal, finalize, extract
// transaction metrics, sample, store-normalize/inbound-filter).
func runEventBranch(ctx context.Context, env *envelope.Envelope, cfg Config, corrector clock.Corrector, receivedAt time.Time, metrics *metricsAccumulator, sc *scope.Context) eventBranchResult {
	if cfg.ProcessingMode {
		if err := unreal.Expand(env); err != nil {
			return eventBranchResult{err: err}
		}
	}

	result, err := extract.Extract(env, extract.Config{MaxEventSize: cfg.MaxEventSize})
	if err != nil {
		return eventBranchResult{err: err}
	}
	ev := result.Event
	assumed := assumedEventFor(result.Source)

	if cfg.ProcessingMode {
		ev, err = unreal.Process(env, ev)
		if err != nil {
			return eventBranchResult{assumed: assumed, err: err}
		}
		unreal.CreatePlaceholders(env)
	}

	ev, err = finalize.Finalize(ev, finalize.Options{
		EnvelopeEventID: env.Headers.EventID,
		ProcessingMode:  cfg.ProcessingMode,
		Corrector:       corrector,
		Metrics:         metrics.toFinalizeMetrics(),
		Relay:           cfg.Relay,
		ReceivedAt:      receivedAt,
	})
	if err != nil {
		return eventBranchResult{assumed: assumed, err: err}
	}
	if ev == nil {
		return eventBranchResult{assumed: assumed}
	}

	var txMetrics store.TransactionMetrics
	hasTxMetrics := false
	if cfg.ProcessingMode {
		if computed, ok := store.ExtractTransactionMetrics(ev, cfg.TransactionMetrics); ok {
			txMetrics, hasTxMetrics = computed, true
		}
	}

	sampled := sampler.Evaluate(ev, sc.RemoteAddr, cfg.Sampler, cfg.ProcessingMode)
	if sampled.Decision == sampler.Drop {
		code := errs.CodeEventSampled
		scope := "event"
		if sampled.IsTrace {
			code = errs.CodeTraceSampled
			scope = "trace"
		}
		publishTelemetry(ctx, cfg, observability.TelemetryEventSamplingApplied, map[string]any{
			"rule_id": sampled.RuleID,
			"scope":   scope,
		})
		return eventBranchResult{
			assumed:      assumed,
			txMetrics:    txMetrics,
			hasTxMetrics: hasTxMetrics,
			err:          errs.New(code, errs.WithSamplingRule(sampled.RuleID)),
		}
	}

	if cfg.ProcessingMode {
		normalized, corrupted, normErr := store.Normalize(ev, cfg.NormalizeConfig, cfg.Normalize)
		if corrupted && cfg.Corruption != nil {
			cfg.Corruption.IncrementEventCorrupted(ctx)
		}
		if normErr != nil {
			return eventBranchResult{assumed: assumed, txMetrics: txMetrics, hasTxMetrics: hasTxMetrics, err: normErr}
		}
		ev = normalized
		if filterErr := store.ApplyInboundFilter(ev, cfg.InboundFilter); filterErr != nil {
			return eventBranchResult{assumed: assumed, txMetrics: txMetrics, hasTxMetrics: hasTxMetrics, err: filterErr}
		}
	}

	return eventBranchResult{event: ev, assumed: assumed, txMetrics: txMetrics, hasTxMetrics: hasTxMetrics}
}

func assumedEventFor(source string) *limiter.AssumedEvent {
	switch source {
	case "transaction":
		return &limiter.AssumedEvent{Category: outcome.CategoryTransaction, Quantity: 1}
	case "event_or_security", "raw_security", "attachments", "form_data":
		return &limiter.AssumedEvent{Category: outcome.CategoryError, Quantity: 1}
	default:
		return nil
	}
}

func serializeEventIntoEnvelope(env *envelope.Envelope, ev *extract.Event) *errs.E {
	payload, err := marshalEvent(ev)
	if err != nil {
		return errs.New(errs.CodeSerializeFailed, errs.WithCause(err))
	}
	env.AddItem(envelope.NewItem(envelope.KindEvent, payload))
	return nil
}

func scrubAttachments(env *envelope.Envelope, cfg pii.Config) {
	patterns := append(append([]pii.PatternRule{}, cfg.CustomPatterns...), cfg.DataScrubbingPatterns...)
	if len(patterns) == 0 {
		return
	}
	for _, it := range env.Items() {
		if it.Kind != envelope.KindAttachment || it.Headers.Attachment != envelope.AttachmentMinidump {
			continue
		}
		it.Payload = pii.ScrubMinidump(it.Payload, patterns)
	}
}

// finishWithError implements the driver's error-handling discipline
// (§4.14): emit the outcome the error carries (if any) against the billing
// category the event was assumed to occupy, surface the transaction
// metrics computed before the drop when the error indicates sampling (they
// remain valid even though the event itself was dropped), then return the
// error.
func finishWithError(err *errs.E, branch eventBranchResult, sc *scope.Context) Result {
	if o, ok := err.Outcome(); ok {
		category := outcome.CategoryError
		if branch.assumed != nil {
			category = branch.assumed.Category
		}
		sc.SendOutcomes(o, category, 1)
	}
	flush := branch.hasTxMetrics && err.CausesSamplingMetricsFlush()
	return Result{Err: err, FlushedMetrics: branch.txMetrics, HasFlushedMetrics: flush}
}
