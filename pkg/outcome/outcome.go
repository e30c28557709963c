// Package outcome defines the closed set of dispositions a pipeline stage
// can assign to an item, and an Aggregator for accumulating them into
// periodic client reports.
package outcome

// Kind is the closed set of outcome dispositions.
type Kind string

const (
	// KindAccepted means the item was forwarded unchanged.
	KindAccepted Kind = "accepted"
	// KindFiltered means the item was intentionally dropped by an inbound
	// data filter rule.
	KindFiltered Kind = "filtered"
	// KindFilteredSampling means the item was dropped by a dynamic sampling
	// rule. Distinct from KindFiltered: sampling decisions carry a rule ID,
	// not a filter name.
	KindFilteredSampling Kind = "filtered_sampling"
	// KindRateLimited means the item was dropped by the envelope limiter's
	// quota enforcement.
	KindRateLimited Kind = "rate_limited"
	// KindInvalid means the item could not be processed: malformed payload,
	// missing required data, or an internal failure.
	KindInvalid Kind = "invalid"
	// KindAborted means processing stopped because the envelope's lifetime
	// budget expired before the item reached a terminal disposition.
	KindAborted Kind = "aborted"
	// KindClientDiscard means the client SDK itself already discarded the
	// item before sending, and is merely reporting the fact via a client
	// report (e.g. buffer overflow, before-send hook, rate limiting).
	KindClientDiscard Kind = "client_discard"
	// KindAbuse means the item was dropped as abusive/malicious traffic.
	KindAbuse Kind = "abuse"
)

// Category is the data category an outcome's quantity is counted against,
// mirroring the quota system's billing categories.
type Category string

const (
	CategoryError       Category = "error"
	CategoryTransaction Category = "transaction"
	CategorySpan        Category = "span"
	CategorySession     Category = "session"
	CategoryAttachment  Category = "attachment"
	CategoryProfile     Category = "profile"
	CategoryReplay      Category = "replay"
	CategoryUserReport  Category = "user_report_v2"
	CategoryClientReport Category = "client_report"
	CategoryDefault     Category = "default"
)

// DiscardReason enumerates the closed set of reasons an item was deemed
// invalid. Duplicate-item reasons are further qualified with a
// ":<candidate-kind>" suffix by errs.Outcome.
type DiscardReason string

const (
	DiscardReasonInvalidJSON           DiscardReason = "invalid_json"
	DiscardReasonInvalidMsgpack        DiscardReason = "invalid_msgpack"
	DiscardReasonTooLarge              DiscardReason = "too_large"
	DiscardReasonDuplicateItem         DiscardReason = "duplicate_item"
	DiscardReasonNoEventPayload        DiscardReason = "no_event_payload"
	DiscardReasonInvalidTransaction    DiscardReason = "invalid_transaction"
	DiscardReasonSecurityReport        DiscardReason = "security_report"
	DiscardReasonProcessUnreal         DiscardReason = "process_unreal"
	DiscardReasonProcessProfile        DiscardReason = "process_profile"
	DiscardReasonInternal              DiscardReason = "internal"
)

// Outcome is the disposition assigned to a single accounted quantity of a
// data category.
type Outcome struct {
	Kind          Kind
	Category      Category
	Quantity      int64
	DiscardReason DiscardReason
	FilterReason  string
	SamplingRule  uint64
	RateLimitReason string
}

// Accepted builds an accepted outcome for the given category and quantity.
func Accepted(category Category, quantity int64) Outcome {
	return Outcome{Kind: KindAccepted, Category: category, Quantity: quantity}
}

// Invalid builds an invalid outcome carrying the given discard reason.
// Category and Quantity default to the item's own category/1 and are filled
// in by the caller before recording, mirroring how the source's
// `Outcome::Invalid` variant only carries the reason at construction time.
func Invalid(reason DiscardReason) Outcome {
	return Outcome{Kind: KindInvalid, DiscardReason: reason, Quantity: 1}
}

// Filtered builds a filtered outcome for an inbound-filter rejection.
func Filtered(reason string) Outcome {
	return Outcome{Kind: KindFiltered, FilterReason: reason, Quantity: 1}
}

// FilteredSampling builds an outcome for a dynamic-sampling rejection,
// identified by the sampling rule ID that matched.
func FilteredSampling(ruleID uint64) Outcome {
	return Outcome{Kind: KindFilteredSampling, SamplingRule: ruleID, Quantity: 1}
}

// RateLimited builds a rate-limited outcome for the given category.
func RateLimited(category Category, quantity int64, reason string) Outcome {
	return Outcome{Kind: KindRateLimited, Category: category, Quantity: quantity, RateLimitReason: reason}
}

// ClientDiscard builds an outcome for an item the client SDK already
// discarded before sending, reported after the fact via a client report.
func ClientDiscard(reason string) Outcome {
	return Outcome{Kind: KindClientDiscard, FilterReason: reason, Quantity: 1}
}

// Abuse builds an outcome for an item dropped as abusive traffic.
func Abuse(reason string) Outcome {
	return Outcome{Kind: KindAbuse, FilterReason: reason, Quantity: 1}
}

// WithCategory returns a copy of the outcome bound to the given category and
// quantity, used once the pipeline knows which data category an Invalid/
// Filtered outcome (constructed without one) actually applies to.
func (o Outcome) WithCategory(category Category, quantity int64) Outcome {
	o.Category = category
	o.Quantity = quantity
	return o
}

// Reason returns the single human-readable reason string client reports
// group by, regardless of which outcome kind produced it.
func (o Outcome) Reason() string {
	switch o.Kind {
	case KindInvalid:
		return string(o.DiscardReason)
	case KindFiltered, KindClientDiscard, KindAbuse:
		return o.FilterReason
	case KindFilteredSampling:
		return "sampling_rule"
	case KindRateLimited:
		return o.RateLimitReason
	default:
		return ""
	}
}
