// Package finalize implements the event finalizer (§4.9): assigns identity,
// injects a relay-path entry (or folds accumulated metrics, in processing
// mode), applies clock-drift correction, and fills a transaction's missing
// sent_at from its timestamp. It does not record timestamp delays.
package finalize

import (
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/relaycore/core/pipeline/clock"
	"github.com/coachpo/relaycore/core/pipeline/extract"
	"github.com/coachpo/relaycore/errs"
)

// Metrics is the partial event metrics the driver has accumulated by the
// time finalization runs: ingested bytes per payload kind and sample rates.
type Metrics struct {
	IngestedBytes map[string]int64
	SampleRates   []float64
	AttachmentBytes int64
}

// RelayInfo identifies this relay instance for the non-processing-mode
// ingest_path breadcrumb.
type RelayInfo struct {
	Version   string
	PublicKey string
}

// Options carries everything Finalize needs beyond the event itself.
type Options struct {
	EnvelopeEventID uuid.UUID
	ProcessingMode  bool
	Corrector       clock.Corrector
	Metrics         Metrics
	Relay           RelayInfo
	ReceivedAt      time.Time
}

// Finalize implements §4.9. ev may be nil, meaning no event was extracted;
// that is only an error in processing mode.
func Finalize(ev *extract.Event, opts Options) (*extract.Event, *errs.E) {
	if ev == nil {
		if !opts.ProcessingMode {
			return nil, nil
		}
		return nil, errs.New(errs.CodeNoEventPayload)
	}

	ev.Set("event_id", opts.EnvelopeEventID.String())

	if !opts.ProcessingMode {
		appendIngestPathEntry(ev, opts.Relay, opts.ReceivedAt)
	} else {
		foldMetrics(ev, opts.Metrics)
	}

	applyClockDrift(ev, opts.Corrector)

	if ev.Get("type") == "transaction" {
		if _, hasSentAt := ev.Fields["sent_at"]; !hasSentAt {
			if ts, ok := ev.Fields["timestamp"]; ok {
				ev.Set("sent_at", ts)
			}
		}
	}

	return ev, nil
}

func appendIngestPathEntry(ev *extract.Event, relay RelayInfo, receivedAt time.Time) {
	entry := map[string]any{
		"version":     relay.Version,
		"public_key":  relay.PublicKey,
		"received_at": receivedAt.UTC().Format(time.RFC3339),
	}
	path, _ := ev.Fields["ingest_path"].([]any)
	path = append(path, entry)
	ev.Set("ingest_path", path)
}

func foldMetrics(ev *extract.Event, m Metrics) {
	if len(m.IngestedBytes) == 0 && m.AttachmentBytes == 0 && len(m.SampleRates) == 0 {
		return
	}
	metrics := map[string]any{}
	for kind, bytes := range m.IngestedBytes {
		metrics[kind+"_bytes"] = bytes
	}
	if m.AttachmentBytes > 0 {
		metrics["attachment_bytes"] = m.AttachmentBytes
	}
	if len(m.SampleRates) > 0 {
		metrics["sample_rates"] = m.SampleRates
	}
	ev.Set("_metrics", metrics)
}

func applyClockDrift(ev *extract.Event, corrector clock.Corrector) {
	if !corrector.Active() {
		return
	}
	if ts, ok := ev.Fields["timestamp"].(float64); ok {
		ev.Set("timestamp", float64(corrector.CorrectUnix(int64(ts))))
	}
	breadcrumbs := ev.Breadcrumbs()
	for _, raw := range breadcrumbs {
		bc, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if ts, ok := bc["timestamp"].(float64); ok {
			bc["timestamp"] = float64(corrector.CorrectUnix(int64(ts)))
		}
	}
	if len(breadcrumbs) > 0 {
		ev.SetBreadcrumbs(breadcrumbs)
	}
}
