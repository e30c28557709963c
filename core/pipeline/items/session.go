// Package items implements the per-item-kind processors (§4.3-4.7):
// sessions, user reports, client reports, profiles, and replay recordings.
// Each processor validates and canonically re-serializes one item kind,
// matching the "sum type plus match in the driver" dispatch style rather
// than attaching virtual methods to the item type.
package items

import (
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/relaycore/core/pipeline/clock"
	"github.com/coachpo/relaycore/errs"
	"github.com/coachpo/relaycore/pkg/envelope"
)

// SessionConfig carries the per-project settings the session processor
// needs.
type SessionConfig struct {
	MaxSessionSecsInPast      int64
	MaxSecsInFuture           int64
	ExtractMetrics            bool
	DropAfterMetricExtraction bool
	RemoteAddr                string
}

type sessionAttributes struct {
	Release     string `json:"release"`
	Environment string `json:"environment,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
}

type sessionPayload struct {
	SID        string            `json:"sid,omitempty"`
	DID        string            `json:"did,omitempty"`
	Seq        uint64            `json:"seq"`
	Init       bool              `json:"init,omitempty"`
	Started    float64           `json:"started"`
	Timestamp  float64           `json:"timestamp"`
	Duration   *float64          `json:"duration,omitempty"`
	Status     string            `json:"status,omitempty"`
	Errors     int               `json:"errors,omitempty"`
	Attributes sessionAttributes `json:"attrs"`
}

// maxSeq mirrors the source's u64::MAX sentinel meaning "sequence never
// assigned"; a session arriving with this value is malformed and dropped.
const maxSeq = ^uint64(0)

func unixToTime(sec float64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	whole := int64(sec)
	frac := sec - float64(whole)
	return time.Unix(whole, int64(frac*1e9)).UTC()
}

func timeToUnix(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// ValidRelease reports whether s satisfies the release grammar: non-empty,
// at most 250 bytes, and free of path separators and control characters
// (the characters that would break release-scoped URLs and UI rendering).
func ValidRelease(s string) bool {
	if s == "" || len(s) > 250 {
		return false
	}
	if s == "." || s == ".." {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
		switch r {
		case '/', '\\', '\n', '\r', '\t':
			return false
		}
	}
	return true
}

// validEnvironment mirrors the release grammar's leniency for environment:
// invalid values are nulled out rather than rejecting the whole session.
func validEnvironment(s string) bool {
	if s == "" {
		return true
	}
	if len(s) > 64 {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}

// ProcessSession implements §4.3 for a single Session item. It returns the
// possibly-mutated item, or nil if the item must be dropped, and whether
// metric extraction ran on the item in this call.
func ProcessSession(it *envelope.Item, cfg SessionConfig, corrector clock.Corrector, receivedAt time.Time) (*envelope.Item, bool, *errs.E) {
	var p sessionPayload
	if err := json.Unmarshal(it.Payload, &p); err != nil {
		return nil, false, nil // malformed session: drop without an outcome-worthy error (non-billable)
	}

	if p.Seq == maxSeq {
		return nil, false, nil
	}

	started := corrector.Correct(unixToTime(p.Started))
	timestamp := corrector.Correct(unixToTime(p.Timestamp))
	if timestamp.Before(started) {
		timestamp = started
	}

	past := receivedAt.Add(-time.Duration(cfg.MaxSessionSecsInPast) * time.Second)
	future := receivedAt.Add(time.Duration(cfg.MaxSecsInFuture) * time.Second)
	if started.Before(past) || started.After(future) || timestamp.Before(past) || timestamp.After(future) {
		return nil, false, nil
	}

	if !ValidRelease(p.Attributes.Release) {
		return nil, false, nil
	}
	if !validEnvironment(p.Attributes.Environment) {
		p.Attributes.Environment = ""
	}
	if p.Attributes.IPAddress == "{{auto}}" {
		p.Attributes.IPAddress = cfg.RemoteAddr
	}

	p.Started = timeToUnix(started)
	p.Timestamp = timeToUnix(timestamp)

	metricsExtracted := false
	if cfg.ExtractMetrics && !it.Headers.MetricsExtracted {
		metricsExtracted = true
		it.Headers.MetricsExtracted = true
	}
	if cfg.DropAfterMetricExtraction && it.Headers.MetricsExtracted {
		return nil, metricsExtracted, nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, metricsExtracted, errs.New(errs.CodeSerializeFailed, errs.WithCause(err))
	}
	it.Payload = body
	return it, metricsExtracted, nil
}

// ProcessSessions implements §4.3's Sessions-aggregate variant: the same
// rules are applied per aggregate, and the whole item is dropped if none
// survive.
func ProcessSessions(it *envelope.Item, cfg SessionConfig, corrector clock.Corrector, receivedAt time.Time) (*envelope.Item, bool, *errs.E) {
	var aggregates []sessionAggregate
	if err := json.Unmarshal(it.Payload, &aggregates); err != nil {
		return nil, false, nil
	}

	past := receivedAt.Add(-time.Duration(cfg.MaxSessionSecsInPast) * time.Second)
	future := receivedAt.Add(time.Duration(cfg.MaxSecsInFuture) * time.Second)

	survivors := aggregates[:0:0]
	anyMetrics := false
	for _, agg := range aggregates {
		started := corrector.Correct(unixToTime(agg.Started))
		if started.Before(past) || started.After(future) {
			continue
		}
		agg.Started = timeToUnix(started)
		if cfg.ExtractMetrics && !it.Headers.MetricsExtracted {
			anyMetrics = true
		}
		survivors = append(survivors, agg)
	}
	if cfg.ExtractMetrics && anyMetrics {
		it.Headers.MetricsExtracted = true
	}
	if len(survivors) == 0 {
		return nil, anyMetrics, nil
	}
	if cfg.DropAfterMetricExtraction && it.Headers.MetricsExtracted {
		return nil, anyMetrics, nil
	}

	body, err := json.Marshal(survivors)
	if err != nil {
		return nil, anyMetrics, errs.New(errs.CodeSerializeFailed, errs.WithCause(err))
	}
	it.Payload = body
	return it, anyMetrics, nil
}

type sessionAggregate struct {
	Started float64 `json:"started"`
	Group   string  `json:"group,omitempty"`
	Exited  int     `json:"exited,omitempty"`
	Errored int     `json:"errored,omitempty"`
	Crashed int     `json:"crashed,omitempty"`
}
