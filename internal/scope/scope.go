// Package scope implements the Scoping tuple and EnvelopeContext carrier
// used for outcome reporting throughout the pipeline.
package scope

import (
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/relaycore/pkg/envelope"
	"github.com/coachpo/relaycore/pkg/outcome"
)

// Scoping identifies the organization/project/key an envelope belongs to.
// KeyID is optional (zero when unknown) because it is only resolved once
// the project-key lookup succeeds.
type Scoping struct {
	OrgID     uint64
	ProjectID uint64
	ProjectKey string
	KeyID     uint64
	HasKeyID  bool
}

// Widen merges other into s, preferring other's fields whenever they are
// non-zero. Used to fold project-configuration scoping over request-stated
// scoping once the project loads.
func (s Scoping) Widen(other Scoping) Scoping {
	out := s
	if other.OrgID != 0 {
		out.OrgID = other.OrgID
	}
	if other.ProjectID != 0 {
		out.ProjectID = other.ProjectID
	}
	if other.ProjectKey != "" {
		out.ProjectKey = other.ProjectKey
	}
	if other.HasKeyID {
		out.KeyID = other.KeyID
		out.HasKeyID = true
	}
	return out
}

// Summary holds per-category item counts, used to detect when the item set
// has mutated so outcome accounting can be kept in sync.
type Summary map[outcome.Category]int64

func newSummary() Summary { return make(Summary) }

func summarize(items []*envelope.Item) Summary {
	s := newSummary()
	eventPresent := false
	for _, it := range items {
		if it.Kind == envelope.KindEvent {
			eventPresent = true
			break
		}
	}
	for _, it := range items {
		category, qty, ok := it.DataCategory(eventPresent)
		if !ok {
			continue
		}
		s[category] += qty
	}
	return s
}

// Diff returns, for each category, how much the quantity decreased from s to
// other — i.e. what must be reported as dropped if no explicit outcome was
// recorded for the removal.
func (s Summary) Diff(other Summary) map[outcome.Category]int64 {
	out := make(map[outcome.Category]int64)
	for category, before := range s {
		after := other[category]
		if before > after {
			out[category] = before - after
		}
	}
	return out
}

// Context is the per-envelope outcome-reporting carrier: a category summary,
// receive time, current event id, remote address, and scoping. It must be
// refreshed via Update whenever the envelope's item set changes.
type Context struct {
	Summary    Summary
	ReceivedAt time.Time
	EventID    uuid.UUID
	HasEventID bool
	RemoteAddr string
	Scoping    Scoping

	sink OutcomeSink
}

// OutcomeSink receives outcomes emitted through a Context. Implementations
// are expected to be safe for concurrent use and must not block materially,
// since the driver calls SendOutcomes synchronously within a stage.
type OutcomeSink interface {
	Record(o outcome.Outcome)
}

// FromRequest builds a Context with partial scoping and an empty summary,
// used before the envelope's items have been parsed.
func FromRequest(receivedAt time.Time, remoteAddr string, scoping Scoping, sink OutcomeSink) *Context {
	return &Context{
		Summary:    newSummary(),
		ReceivedAt: receivedAt,
		RemoteAddr: remoteAddr,
		Scoping:    scoping,
		sink:       sink,
	}
}

// FromEnvelope builds a Context with a full summary derived from the
// envelope's current items.
func FromEnvelope(env *envelope.Envelope, receivedAt time.Time, remoteAddr string, scoping Scoping, sink OutcomeSink) *Context {
	c := FromRequest(receivedAt, remoteAddr, scoping, sink)
	c.Summary = summarize(env.Items())
	if env.Headers.EventID != uuid.Nil {
		c.EventID = env.Headers.EventID
		c.HasEventID = true
	}
	return c
}

// Update recomputes the summary from the envelope's current items and
// returns every category whose quantity decreased since the previous
// summary, whether or not a SendOutcomes call was made for the removal.
func (c *Context) Update(env *envelope.Envelope) map[outcome.Category]int64 {
	if c == nil {
		return nil
	}
	fresh := summarize(env.Items())
	dropped := c.Summary.Diff(fresh)
	c.Summary = fresh
	return dropped
}

// Scope widens the context's scoping tuple with the given scoping, used
// once project configuration has loaded.
func (c *Context) Scope(s Scoping) {
	if c == nil {
		return
	}
	c.Scoping = c.Scoping.Widen(s)
}

// SendOutcomes forwards an outcome for the given category/quantity to the
// context's sink. No-op if the context has no sink attached (e.g. in tests
// that only assert on Summary).
func (c *Context) SendOutcomes(o outcome.Outcome, category outcome.Category, quantity int64) {
	if c == nil || c.sink == nil || quantity <= 0 {
		return
	}
	c.sink.Record(o.WithCategory(category, quantity))
}
