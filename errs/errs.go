// Package errs provides the pipeline's structured error taxonomy.
//
// Every stage in core/pipeline returns on first error; the driver maps the
// returned *E to an outcome (when one applies) and to a retry
// classification, then stops processing the envelope. There is no per-item
// retry inside the core.
package errs

import (
	"sort"
	"strconv"
	"strings"

	"github.com/coachpo/relaycore/pkg/outcome"
)

// Code identifies one of the closed set of pipeline failure categories.
type Code string

const (
	// CodeInvalidJSON indicates a malformed JSON item payload.
	CodeInvalidJSON Code = "invalid_json"
	// CodeInvalidMsgpack indicates a malformed MessagePack item payload.
	CodeInvalidMsgpack Code = "invalid_msgpack"
	// CodeInvalidUnrealReport indicates an UnrealReport item failed to expand.
	CodeInvalidUnrealReport Code = "invalid_unreal_report"
	// CodeProcessProfile indicates a profile item's platform could not be recognized.
	CodeProcessProfile Code = "process_profile"
	// CodePayloadTooLarge indicates an event-source candidate exceeded max_event_size.
	CodePayloadTooLarge Code = "payload_too_large"
	// CodeDuplicateItem indicates more than one event-implying item survived extraction.
	CodeDuplicateItem Code = "duplicate_item"
	// CodeNoEventPayload indicates processing mode requires an event but none was extracted.
	CodeNoEventPayload Code = "no_event_payload"
	// CodeInvalidTransaction indicates store-normalization rejected a transaction event.
	CodeInvalidTransaction Code = "invalid_transaction"
	// CodeInvalidSecurityReport indicates a security report failed type-specific validation.
	CodeInvalidSecurityReport Code = "invalid_security_report"
	// CodeRejected carries an upstream-supplied rejection reason.
	CodeRejected Code = "rejected"
	// CodeEventFiltered indicates the inbound filter blocked the event.
	CodeEventFiltered Code = "event_filtered"
	// CodeEventSampled indicates dynamic sampling dropped the event itself.
	CodeEventSampled Code = "event_sampled"
	// CodeTraceSampled indicates dynamic sampling dropped the event's whole trace.
	CodeTraceSampled Code = "trace_sampled"
	// CodeRateLimited indicates the envelope limiter already emitted the relevant outcome.
	CodeRateLimited Code = "rate_limited"
	// CodeMissingProjectID indicates scoping could not resolve a project identifier.
	CodeMissingProjectID Code = "missing_project_id"
	// CodeSerializeFailed indicates canonical re-serialization of an item failed.
	CodeSerializeFailed Code = "serialize_failed"
	// CodeInternal indicates an unexpected internal failure, logged at error level.
	CodeInternal Code = "internal"
	// CodeStoreFailed indicates the store forwarder rejected the envelope (send layer only).
	CodeStoreFailed Code = "store_failed"
	// CodeUpstreamRequestFailed indicates the upstream HTTP client failed (send layer only).
	CodeUpstreamRequestFailed Code = "upstream_request_failed"
	// CodeBodyEncodingFailed indicates envelope re-encoding failed (send layer only).
	CodeBodyEncodingFailed Code = "body_encoding_failed"
	// CodeEnvelopeBuildFailed indicates envelope construction failed (send layer only).
	CodeEnvelopeBuildFailed Code = "envelope_build_failed"
	// CodeTimeout indicates the envelope's lifetime budget expired.
	CodeTimeout Code = "timeout"
)

// E captures structured error information produced by the pipeline.
type E struct {
	Code    Code
	HTTP    int
	Message string

	// DiscardReason qualifies CodeDuplicateItem with the duplicate item's kind (e.g. "security" yields "duplicate_item:security").
	DiscardReason string
	// FilterReason qualifies CodeEventFiltered.
	FilterReason string
	// SamplingRule qualifies CodeEventSampled / CodeTraceSampled.
	SamplingRule uint64
	// RateLimitReason optionally qualifies CodeRateLimited.
	RateLimitReason string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs a pipeline error envelope for the given code.
func New(code Code, opts ...Option) *E {
	e := &E{Code: code}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) { e.Message = trimmed }
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) { e.HTTP = status }
}

// WithDiscardReason records the discard-reason qualifier for Invalid(...) outcomes.
func WithDiscardReason(reason string) Option {
	trimmed := strings.TrimSpace(reason)
	return func(e *E) { e.DiscardReason = trimmed }
}

// WithFilterReason records the filter-reason qualifier for Filtered(...) outcomes.
func WithFilterReason(reason string) Option {
	trimmed := strings.TrimSpace(reason)
	return func(e *E) { e.FilterReason = trimmed }
}

// WithSamplingRule records the rule id for a sampling decision.
func WithSamplingRule(ruleID uint64) Option {
	return func(e *E) { e.SamplingRule = ruleID }
}

// WithRateLimitReason records the optional reason code for a rate limit.
func WithRateLimitReason(reason string) Option {
	trimmed := strings.TrimSpace(reason)
	return func(e *E) { e.RateLimitReason = trimmed }
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) { e.cause = err }
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string
	parts = append(parts, "code="+string(e.Code))
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.DiscardReason != "" {
		parts = append(parts, "discard_reason="+e.DiscardReason)
	}
	if e.FilterReason != "" {
		parts = append(parts, "filter_reason="+e.FilterReason)
	}
	if e.SamplingRule != 0 {
		parts = append(parts, "rule="+strconv.FormatUint(e.SamplingRule, 10))
	}
	if e.RateLimitReason != "" {
		parts = append(parts, "rate_limit_reason="+e.RateLimitReason)
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}
	sort.Strings(parts[1:])
	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Retryable reports whether the caller may usefully retry the operation that
// produced this error. Nothing inside the core pipeline is retryable: retry,
// if any, happens at the transport layer above stages that return
// Code{Store,UpstreamRequest,BodyEncoding,EnvelopeBuild}Failed.
func (e *E) Retryable() bool {
	return false
}

// Outcome maps the error to the outcome it should produce. The second
// return value is false for error codes that never emit an outcome directly
// (send-layer errors, and RateLimited, whose outcome was already emitted by
// the envelope limiter before the error was returned).
func (e *E) Outcome() (outcome.Outcome, bool) {
	if e == nil {
		return outcome.Outcome{}, false
	}
	switch e.Code {
	case CodeInvalidJSON:
		return outcome.Invalid(outcome.DiscardReasonInvalidJSON), true
	case CodeInvalidMsgpack:
		return outcome.Invalid(outcome.DiscardReasonInvalidMsgpack), true
	case CodeInvalidUnrealReport:
		return outcome.Invalid(outcome.DiscardReasonProcessUnreal), true
	case CodeProcessProfile:
		return outcome.Invalid(outcome.DiscardReasonProcessProfile), true
	case CodePayloadTooLarge:
		return outcome.Invalid(outcome.DiscardReasonTooLarge), true
	case CodeDuplicateItem:
		reason := outcome.DiscardReasonDuplicateItem
		if e.DiscardReason != "" {
			reason = outcome.DiscardReason(string(outcome.DiscardReasonDuplicateItem) + ":" + e.DiscardReason)
		}
		return outcome.Invalid(reason), true
	case CodeNoEventPayload:
		return outcome.Invalid(outcome.DiscardReasonNoEventPayload), true
	case CodeInvalidTransaction:
		return outcome.Invalid(outcome.DiscardReasonInvalidTransaction), true
	case CodeInvalidSecurityReport:
		return outcome.Invalid(outcome.DiscardReasonSecurityReport), true
	case CodeEventFiltered:
		return outcome.Filtered(e.FilterReason), true
	case CodeEventSampled, CodeTraceSampled:
		return outcome.FilteredSampling(e.SamplingRule), true
	case CodeMissingProjectID, CodeSerializeFailed, CodeInternal, CodeTimeout:
		return outcome.Invalid(outcome.DiscardReasonInternal), true
	default:
		return outcome.Outcome{}, false
	}
}

// CausesSamplingMetricsFlush reports whether, despite the event being
// dropped, metrics derived earlier in the pipeline must still be delivered
// to the aggregator.
func (e *E) CausesSamplingMetricsFlush() bool {
	if e == nil {
		return false
	}
	return e.Code == CodeEventSampled || e.Code == CodeTraceSampled
}

// NotSupported returns a standardized internal error for unimplemented paths.
func NotSupported(msg string) *E {
	return New(CodeInternal, WithMessage(strings.TrimSpace(msg)))
}
