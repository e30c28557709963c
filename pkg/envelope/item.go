// Package envelope defines the in-memory envelope/item model the pipeline
// operates on: an ordered sequence of heterogeneous telemetry items plus the
// request metadata and mutable headers that travel with them.
package envelope

import "github.com/coachpo/relaycore/pkg/outcome"

// Kind is the closed set of item tags. An unrecognized wire type decodes to
// KindUnknown with the raw type string preserved on the item, so forward
// compatibility does not require a schema change here.
type Kind string

const (
	KindEvent            Kind = "event"
	KindTransaction      Kind = "transaction"
	KindSecurity         Kind = "security"
	KindRawSecurity      Kind = "raw_security"
	KindFormData         Kind = "form_data"
	KindUnrealReport     Kind = "unreal_report"
	KindAttachment       Kind = "attachment"
	KindUserReport       Kind = "user_report"
	KindSession          Kind = "session"
	KindSessions         Kind = "sessions"
	KindMetrics          Kind = "metrics"
	KindMetricBuckets    Kind = "metric_buckets"
	KindClientReport     Kind = "client_report"
	KindProfile          Kind = "profile"
	KindReplayRecording  Kind = "replay_recording"
	KindUnknown          Kind = "unknown"
)

// AttachmentKind is the secondary kind carried on KindAttachment items,
// identifying what an attachment's bytes actually contain.
type AttachmentKind string

const (
	AttachmentEventPayload     AttachmentKind = "event.payload"
	AttachmentBreadcrumbs      AttachmentKind = "event.breadcrumbs"
	AttachmentMinidump         AttachmentKind = "event.minidump"
	AttachmentAppleCrashReport AttachmentKind = "event.applecrashreport"
	AttachmentGeneric          AttachmentKind = ""
)

// Headers carries the per-item metadata declared in the wire header,
// independent of the body payload.
type Headers struct {
	ContentType      string
	Filename         string
	SampleRates      []float64
	MetricsExtracted bool
	SentAt           int64 // unix seconds, 0 if absent
	RawType          string // original wire "type" string, set only for KindUnknown
	Attachment       AttachmentKind
	// Extra carries additional declared header fields not modeled above,
	// such as a raw-security item's sentry_release/sentry_environment.
	Extra map[string]string
}

// Item is a single tagged-union entry in an envelope: one of the closed set
// of Kind values, carrying a content type, optional filename, headers, and a
// raw payload buffer.
type Item struct {
	Kind    Kind
	Headers Headers
	Payload []byte
}

// NewItem constructs an item of the given kind with the supplied payload.
func NewItem(kind Kind, payload []byte) *Item {
	return &Item{Kind: kind, Payload: append([]byte(nil), payload...)}
}

// Len returns the payload's byte length, the quantity the envelope limiter
// uses for attachment categories.
func (it *Item) Len() int {
	if it == nil {
		return 0
	}
	return len(it.Payload)
}

// CreatesEvent reports whether this item kind is one of the candidate event
// sources the event extractor considers (§4.8 precedence list).
func (it *Item) CreatesEvent() bool {
	if it == nil {
		return false
	}
	switch it.Kind {
	case KindEvent, KindSecurity, KindTransaction, KindRawSecurity, KindFormData:
		return true
	case KindAttachment:
		return it.Headers.Attachment == AttachmentEventPayload || it.Headers.Attachment == AttachmentBreadcrumbs
	default:
		return false
	}
}

// RequiresEvent reports whether this item kind must be dropped whenever an
// event-implying category gets rate limited or sampling drops the event
// (§4.1 "requires_event" rule).
func (it *Item) RequiresEvent() bool {
	if it == nil {
		return false
	}
	switch it.Kind {
	case KindEvent, KindTransaction, KindSecurity, KindRawSecurity, KindFormData, KindUnrealReport:
		return true
	case KindAttachment:
		return it.Headers.Attachment == AttachmentEventPayload ||
			it.Headers.Attachment == AttachmentBreadcrumbs ||
			it.Headers.Attachment == AttachmentMinidump ||
			it.Headers.Attachment == AttachmentAppleCrashReport
	default:
		return false
	}
}

// AttachmentType returns the item's secondary attachment kind and whether
// the item is an attachment at all.
func (it *Item) AttachmentType() (AttachmentKind, bool) {
	if it == nil || it.Kind != KindAttachment {
		return "", false
	}
	return it.Headers.Attachment, true
}

// DataCategory returns the billing category and quantity the envelope
// limiter accounts this item's presence against, per §4.1. The second
// return value is false for item kinds exempt from envelope limiting.
func (it *Item) DataCategory(eventPresentInEnvelope bool) (outcome.Category, int64, bool) {
	if it == nil {
		return "", 0, false
	}
	switch it.Kind {
	case KindEvent:
		return outcome.CategoryError, 1, true
	case KindTransaction:
		return outcome.CategoryTransaction, 1, true
	case KindAttachment:
		return outcome.Category("attachment"), int64(it.Len()), true
	case KindProfile:
		return outcome.CategoryProfile, 1, true
	case KindSecurity, KindRawSecurity, KindFormData:
		if eventPresentInEnvelope {
			return outcome.CategoryError, 1, true
		}
		return "", 0, false
	default:
		// Session, Sessions, Metrics, MetricBuckets, ClientReport, Unknown: exempt.
		return "", 0, false
	}
}
