package envelope

import (
	"time"

	"github.com/google/uuid"
)

// RequestMeta is immutable request-level metadata captured when the
// envelope first entered the relay.
type RequestMeta struct {
	OriginAddr        string
	UserAgent         string
	ClientID          string
	StatedProjectID   uint64
	StatedPublicKey   string
	StartInstant      time.Time
}

// MutableHeaders are the envelope-level header fields stages are allowed to
// rewrite, unlike RequestMeta.
type MutableHeaders struct {
	EventID  uuid.UUID
	SentAt   time.Time
	HasSentAt bool
	Retention string
}

// Envelope is the in-memory, ordered container of items that the pipeline
// operates on.
type Envelope struct {
	Request RequestMeta
	Headers MutableHeaders
	items   []*Item
}

// New creates an empty envelope carrying the given request metadata.
func New(meta RequestMeta) *Envelope {
	return &Envelope{Request: meta}
}

// AddItem appends an item to the envelope, preserving insertion order.
func (e *Envelope) AddItem(it *Item) {
	if e == nil || it == nil {
		return
	}
	e.items = append(e.items, it)
}

// Items returns the envelope's current items in insertion order. The
// returned slice must not be mutated by the caller; use RemoveAll/Retain
// or AddItem to change membership.
func (e *Envelope) Items() []*Item {
	if e == nil {
		return nil
	}
	return e.items
}

// Len reports the current item count.
func (e *Envelope) Len() int {
	if e == nil {
		return 0
	}
	return len(e.items)
}

// Find returns the first item matching predicate, or nil.
func (e *Envelope) Find(predicate func(*Item) bool) *Item {
	if e == nil {
		return nil
	}
	for _, it := range e.items {
		if predicate(it) {
			return it
		}
	}
	return nil
}

// FindAll returns every item matching predicate, in insertion order.
func (e *Envelope) FindAll(predicate func(*Item) bool) []*Item {
	if e == nil {
		return nil
	}
	var out []*Item
	for _, it := range e.items {
		if predicate(it) {
			out = append(out, it)
		}
	}
	return out
}

// Retain keeps only items for which keep returns true, preserving order.
// Returns the items that were removed, so callers can derive outcomes for
// them.
func (e *Envelope) Retain(keep func(*Item) bool) []*Item {
	if e == nil {
		return nil
	}
	kept := e.items[:0:0]
	var removed []*Item
	for _, it := range e.items {
		if keep(it) {
			kept = append(kept, it)
		} else {
			removed = append(removed, it)
		}
	}
	e.items = kept
	return removed
}

// RemoveAll removes every item of the given kind and returns the removed
// items.
func (e *Envelope) RemoveAll(kind Kind) []*Item {
	return e.Retain(func(it *Item) bool { return it.Kind != kind })
}

// HasEventLikeItem reports whether the envelope currently holds an item
// whose kind is one of the mutually-exclusive event-like kinds (§3
// invariant: at most one item per event-like type).
func (e *Envelope) HasEventLikeItem() bool {
	return e.Find(func(it *Item) bool {
		switch it.Kind {
		case KindEvent, KindTransaction, KindSecurity, KindRawSecurity, KindFormData:
			return true
		default:
			return false
		}
	}) != nil
}

// CreatesEvent reports whether any remaining item is a candidate event
// source (driver step 6 gate).
func (e *Envelope) CreatesEvent() bool {
	return e.Find(func(it *Item) bool { return it.CreatesEvent() }) != nil
}
