package store

import (
	"time"
	"unicode"

	"github.com/coachpo/relaycore/core/pipeline/extract"
	"github.com/coachpo/relaycore/errs"
)

// NormalizeConfig carries the context the pluggable normalization function
// needs: identity of the project/key, client metadata, grouping
// configuration handle, and time bounds used to reject stale events.
type NormalizeConfig struct {
	ProjectID       uint64
	ClientIP        string
	ClientString    string
	KeyID           uint64
	ProtocolVersion int
	UserAgent       string
	ReceivedAt      time.Time
	MaxSecsInPast   int64
	MaxSecsInFuture int64
}

// NormalizeFunc is the pluggable deep-normalization hook; the core does not
// implement schema validation itself (§1 Non-goals), it only provides the
// harness: pass the event and config in, get back an error when the event
// must be rejected outright.
type NormalizeFunc func(ev *extract.Event, cfg NormalizeConfig) error

// Normalize runs fn over ev (a no-op if fn is nil, so callers may wire the
// store-normalize stage in or out without branching), then scans every
// string field for byte sequences corruption detection cares about, and
// reports whether any was found, for the caller's event_corrupted counter.
func Normalize(ev *extract.Event, cfg NormalizeConfig, fn NormalizeFunc) (*extract.Event, bool, *errs.E) {
	if fn != nil {
		if err := fn(ev, cfg); err != nil {
			return nil, false, errs.New(errs.CodeInvalidTransaction, errs.WithCause(err))
		}
	}
	corrupted := scanForCorruption(ev.Fields)
	return ev, corrupted, nil
}

// scanForCorruption reports whether any string field contains the Unicode
// replacement character or a non-whitespace control character, both of
// which indicate upstream encoding damage.
func scanForCorruption(fields map[string]any) bool {
	for _, v := range fields {
		if isCorrupted(v) {
			return true
		}
	}
	return false
}

func isCorrupted(v any) bool {
	switch val := v.(type) {
	case string:
		return stringCorrupted(val)
	case map[string]any:
		return scanForCorruption(val)
	case []any:
		for _, item := range val {
			if isCorrupted(item) {
				return true
			}
		}
	}
	return false
}

func stringCorrupted(s string) bool {
	for _, r := range s {
		if r == unicode.ReplacementChar {
			return true
		}
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return true
		}
	}
	return false
}

// FilterFunc is the project's compiled inbound-filter predicate; it returns
// a non-empty block reason when the event must be filtered.
type FilterFunc func(ev *extract.Event) (reason string, blocked bool)

// ApplyInboundFilter runs fn (a no-op pass when fn is nil) and returns the
// block reason as a pipeline error when blocked.
func ApplyInboundFilter(ev *extract.Event, fn FilterFunc) *errs.E {
	if fn == nil {
		return nil
	}
	reason, blocked := fn(ev)
	if !blocked {
		return nil
	}
	return errs.New(errs.CodeEventFiltered, errs.WithFilterReason(reason))
}
