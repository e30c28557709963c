// Package sampler implements dynamic sampling (§4.10): a deterministic,
// envelope-non-mutating decision over whether to keep or drop an event.
package sampler

import (
	"github.com/coachpo/relaycore/core/pipeline/extract"
)

// Decision is the closed set of sampler outcomes.
type Decision int

const (
	// Keep means the event survives sampling.
	Keep Decision = iota
	// Drop means a rule matched and the event (or its whole trace) should
	// be dropped; RuleID identifies which rule decided.
	Drop
	// NoDecision means no rule matched; callers treat this the same as Keep.
	NoDecision
)

// Rule is one dynamic-sampling rule: a predicate over the event plus a
// sample rate in [0, 1]. A rule that matches and loses its sample roll
// drops the event; TraceRule additionally marks the whole trace as dropped.
type Rule struct {
	ID         uint64
	SampleRate float64
	TraceRule  bool
	Match      func(ev *extract.Event, clientAddr string) bool
}

// Config is the project's compiled set of dynamic-sampling rules plus a
// deterministic roll function.
type Config struct {
	Rules []Rule
	// Roll returns a value in [0, 1) for the given event; tests substitute
	// a fixed function for determinism. Must not depend on wall-clock time
	// or any other hidden state, matching the invariant that the sampler is
	// deterministic for identical inputs.
	Roll func(ev *extract.Event) float64
}

// Result carries the decision and, when it is a Drop, whether the whole
// trace (not just this event) should be considered dropped.
type Result struct {
	Decision Decision
	RuleID   uint64
	IsTrace  bool
}

// Evaluate implements §4.10. ev may be nil (no event extracted) or the
// event tree produced by extract.Extract; processingEnabled mirrors the
// driver's processing-mode flag and is accepted, but the decision does not
// depend on it.
func Evaluate(ev *extract.Event, clientAddr string, cfg Config, processingEnabled bool) Result {
	if ev == nil || cfg.Roll == nil || len(cfg.Rules) == 0 {
		return Result{Decision: NoDecision}
	}
	for _, rule := range cfg.Rules {
		if rule.Match == nil || !rule.Match(ev, clientAddr) {
			continue
		}
		roll := cfg.Roll(ev)
		if roll < rule.SampleRate {
			return Result{Decision: Keep}
		}
		return Result{Decision: Drop, RuleID: rule.ID, IsTrace: rule.TraceRule}
	}
	return Result{Decision: NoDecision}
}
