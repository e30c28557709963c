package errs

import (
	"errors"
	"strings"
	"testing"

	"github.com/coachpo/relaycore/pkg/outcome"
)

func TestErrorFormattingIncludesQualifiersAndCause(t *testing.T) {
	err := New(
		CodeDuplicateItem,
		WithHTTP(400),
		WithMessage("more than one event-implying item"),
		WithDiscardReason("security"),
		WithCause(errors.New("second candidate: security_report")),
	)

	out := err.Error()
	if !strings.Contains(out, "code=duplicate_item") {
		t.Fatalf("expected code marker in error string: %s", out)
	}
	if !strings.Contains(out, "http=400") {
		t.Fatalf("expected http marker in error string: %s", out)
	}
	if !strings.Contains(out, `message="more than one event-implying item"`) {
		t.Fatalf("expected message in error string: %s", out)
	}
	if !strings.Contains(out, "discard_reason=security") {
		t.Fatalf("expected discard reason in error string: %s", out)
	}
	if !strings.Contains(out, `cause="second candidate: security_report"`) {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestOutcomeMapsDuplicateItemWithQualifiedReason(t *testing.T) {
	err := New(CodeDuplicateItem, WithDiscardReason("security"))
	out, ok := err.Outcome()
	if !ok {
		t.Fatal("expected an outcome for duplicate item error")
	}
	if out.Kind != outcome.KindInvalid {
		t.Fatalf("expected invalid outcome, got %v", out.Kind)
	}
	if out.DiscardReason != "duplicate_item:security" {
		t.Fatalf("expected qualified discard reason, got %q", out.DiscardReason)
	}
}

func TestOutcomeMapsSamplingWithRuleID(t *testing.T) {
	err := New(CodeTraceSampled, WithSamplingRule(42))
	out, ok := err.Outcome()
	if !ok {
		t.Fatal("expected an outcome for trace-sampled error")
	}
	if out.Kind != outcome.KindFilteredSampling {
		t.Fatalf("expected filtered_sampling outcome, got %v", out.Kind)
	}
	if out.SamplingRule != 42 {
		t.Fatalf("expected rule id 42, got %d", out.SamplingRule)
	}
	if !err.CausesSamplingMetricsFlush() {
		t.Fatal("expected trace-sampled errors to flush derived metrics")
	}
}

func TestOutcomeAbsentForSendLayerErrors(t *testing.T) {
	err := New(CodeStoreFailed, WithMessage("store unavailable"))
	if _, ok := err.Outcome(); ok {
		t.Fatal("expected no outcome for a send-layer error")
	}
}

func TestRetryableIsAlwaysFalse(t *testing.T) {
	for _, code := range []Code{CodeInternal, CodeTimeout, CodeUpstreamRequestFailed} {
		if New(code).Retryable() {
			t.Fatalf("expected code %q to be non-retryable", code)
		}
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
	if _, ok := e.Outcome(); ok {
		t.Fatal("expected nil error to produce no outcome")
	}
}
