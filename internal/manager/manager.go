// Package manager implements the EnvelopeManager (§5): a message-driven,
// single-threaded accept loop over a bounded worker pool. Each worker owns
// its own scope.Context for exactly one envelope at a time; the only shared
// mutable state is the quota-service client and the project-configuration
// cache, both safe for concurrent use.
package manager

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	concpool "github.com/sourcegraph/conc/pool"

	"github.com/coachpo/relaycore/core/pipeline"
	"github.com/coachpo/relaycore/errs"
	"github.com/coachpo/relaycore/internal/observability"
	"github.com/coachpo/relaycore/internal/project"
	"github.com/coachpo/relaycore/internal/quota"
	"github.com/coachpo/relaycore/internal/scope"
	"github.com/coachpo/relaycore/pkg/envelope"
	"github.com/coachpo/relaycore/pkg/outcome"
)

// ErrTooManyEnvelopes is returned by Submit when the envelope queue
// (envelope_buffer_size) is already full.
var ErrTooManyEnvelopes = errors.New("manager: too many envelopes")

// ErrManagerClosed is returned by Submit once Shutdown has been called.
var ErrManagerClosed = errors.New("manager: shutdown in progress")

// Result pairs the pipeline's verdict with the envelope it ran over, for the
// external collaborator waiting on it (upstream sender or store forwarder).
type Result struct {
	Envelope *envelope.Envelope
	pipeline.Result
}

type job struct {
	ctx        context.Context
	env        *envelope.Envelope
	key        project.Key
	scoping    scope.Scoping
	remoteAddr string
	receivedAt time.Time
	sink       scope.OutcomeSink
	resultCh   chan Result
}

// Manager owns the envelope queue and worker pool.
type Manager struct {
	cache        *project.Cache
	oracle       quota.Oracle
	bufferExpiry time.Duration
	metrics      *observability.RuntimeMetrics
	bus          observability.TelemetryBus
	dlq          *observability.DeadLetterQueue
	corruption   pipeline.CorruptionRecorder

	queue chan *job

	closeOnce sync.Once
	closed    chan struct{}
	workersWG sync.WaitGroup
}

// New constructs a Manager and starts its accept loop. bufferSize bounds the
// envelope queue; cpuConcurrency bounds the processing worker pool. bus and
// dlq are optional (a nil bus disables telemetry publication) and are
// threaded through to every pipeline.Run call so the driver can report
// clock-drift, sampling, and rate-limit events; corruption backs the
// per-event corruption counter (§4.11).
func New(cache *project.Cache, oracle quota.Oracle, bufferSize, cpuConcurrency int, bufferExpiry time.Duration, metrics *observability.RuntimeMetrics, bus observability.TelemetryBus, dlq *observability.DeadLetterQueue, corruption pipeline.CorruptionRecorder) *Manager {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if cpuConcurrency <= 0 {
		cpuConcurrency = 1
	}
	if bufferExpiry <= 0 {
		bufferExpiry = 30 * time.Second
	}
	m := &Manager{
		cache:        cache,
		oracle:       oracle,
		bufferExpiry: bufferExpiry,
		metrics:      metrics,
		bus:          bus,
		dlq:          dlq,
		corruption:   corruption,
		queue:        make(chan *job, bufferSize),
		closed:       make(chan struct{}),
	}
	m.workersWG.Add(1)
	go m.run(cpuConcurrency)
	return m
}

// Submit enqueues env for processing and returns a channel that receives
// exactly one Result. It never blocks: if the queue is at capacity it
// returns ErrTooManyEnvelopes immediately, matching §5's backpressure rule.
func (m *Manager) Submit(ctx context.Context, env *envelope.Envelope, key project.Key, scoping scope.Scoping, remoteAddr string, receivedAt time.Time, sink scope.OutcomeSink) (<-chan Result, error) {
	select {
	case <-m.closed:
		return nil, ErrManagerClosed
	default:
	}

	j := &job{
		ctx:        ctx,
		env:        env,
		key:        key,
		scoping:    scoping,
		remoteAddr: remoteAddr,
		receivedAt: receivedAt,
		sink:       sink,
		resultCh:   make(chan Result, 1),
	}

	projectKey := strconv.FormatUint(scoping.ProjectID, 10)
	select {
	case m.queue <- j:
		if m.metrics != nil {
			m.metrics.RecordQueueDepth(projectKey, len(m.queue))
		}
		return j.resultCh, nil
	default:
		if m.metrics != nil {
			m.metrics.IncrementDroppedEnvelopes(projectKey)
		}
		observability.PublishBestEffort(ctx, m.bus, m.dlq, observability.TelemetryEvent{
			Type:     observability.TelemetryEventBackpressureApplied,
			Severity: observability.TelemetrySeverityWarn,
			Metadata: map[string]any{"project_id": projectKey},
		})
		return nil, ErrTooManyEnvelopes
	}
}

// Shutdown stops accepting new envelopes and waits for in-flight ones to
// finish, or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closeOnce.Do(func() { close(m.closed) })
	done := make(chan struct{})
	go func() {
		m.workersWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(cpuConcurrency int) {
	defer m.workersWG.Done()
	workers := concpool.New().WithMaxGoroutines(cpuConcurrency)
	for {
		select {
		case <-m.closed:
			workers.Wait()
			return
		case j := <-m.queue:
			workers.Go(func() { m.process(j) })
		}
	}
}

func (m *Manager) process(j *job) {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.bufferExpiry)
	defer cancel()

	sc := scope.FromEnvelope(j.env, j.receivedAt, j.remoteAddr, j.scoping, j.sink)

	snap, err := m.cache.Fetch(ctx, j.key, false)
	if err != nil {
		j.resultCh <- Result{Envelope: j.env, Result: pipeline.Result{
			Err: errs.New(errs.CodeInternal, errs.WithCause(err)),
		}}
		close(j.resultCh)
		return
	}

	if snap.Stale {
		observability.PublishBestEffort(ctx, m.bus, m.dlq, observability.TelemetryEvent{
			Type:     observability.TelemetryEventProjectSnapshotStale,
			Severity: observability.TelemetrySeverityWarn,
			Metadata: map[string]any{"project_id": strconv.FormatUint(j.key.ProjectID, 10)},
		})
	}

	cfg := snap.Config
	cfg.Oracle = m.oracle
	cfg.Telemetry = m.bus
	cfg.DLQ = m.dlq
	cfg.Corruption = m.corruption

	runDone := make(chan pipeline.Result, 1)
	go func() { runDone <- pipeline.Run(ctx, j.env, sc, cfg) }()

	select {
	case res := <-runDone:
		j.resultCh <- Result{Envelope: j.env, Result: res}
	case <-ctx.Done():
		m.abandon(ctx, sc)
		j.resultCh <- Result{Envelope: j.env, Result: pipeline.Result{Err: errs.New(errs.CodeTimeout)}}
	}
	close(j.resultCh)
}

// abandon emits Invalid(Internal) for whatever the envelope still held when
// its lifetime budget expired (§5: "the envelope is abandoned with outcome
// Invalid(Internal); partial work is discarded").
func (m *Manager) abandon(ctx context.Context, sc *scope.Context) {
	for category, qty := range sc.Summary {
		if qty > 0 {
			sc.SendOutcomes(outcome.Invalid(outcome.DiscardReasonInternal), category, qty)
		}
	}
	observability.PublishBestEffort(ctx, m.bus, m.dlq, observability.TelemetryEvent{
		Type:     observability.TelemetryEventLifetimeExpired,
		Severity: observability.TelemetrySeverityError,
	})
}
