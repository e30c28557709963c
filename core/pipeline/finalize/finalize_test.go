package finalize

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/coachpo/relaycore/core/pipeline/clock"
	"github.com/coachpo/relaycore/core/pipeline/extract"
)

func TestFinalizeIngestPathUsesReceivedAt(t *testing.T) {
	receivedAt := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := extract.NewEvent()

	out, err := Finalize(ev, Options{
		EnvelopeEventID: uuid.New(),
		Relay:           RelayInfo{Version: "1.2.3", PublicKey: "pub"},
		ReceivedAt:      receivedAt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	path, ok := out.Fields["ingest_path"].([]any)
	if !ok || len(path) != 1 {
		t.Fatalf("expected a single ingest_path entry, got %v", out.Fields["ingest_path"])
	}
	entry, ok := path[0].(map[string]any)
	if !ok {
		t.Fatalf("expected ingest_path entry to be a map, got %T", path[0])
	}
	if got := entry["received_at"]; got != receivedAt.Format(time.RFC3339) {
		t.Fatalf("expected received_at %q, got %v", receivedAt.Format(time.RFC3339), got)
	}
}

func TestFinalizeRequiresEventPayloadInProcessingMode(t *testing.T) {
	_, err := Finalize(nil, Options{ProcessingMode: true})
	if err == nil {
		t.Fatal("expected an error when no event payload is present in processing mode")
	}
}

func TestFinalizeNilEventNonProcessingModeIsNoop(t *testing.T) {
	ev, err := Finalize(nil, Options{ProcessingMode: false})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != nil {
		t.Fatalf("expected nil event, got %v", ev)
	}
}

func TestFinalizeAppliesClockDrift(t *testing.T) {
	ev := extract.NewEvent()
	ev.Set("timestamp", float64(1000))

	corrector := clock.New(time.Unix(0, 0), time.Unix(4000, 0))

	out, err := Finalize(ev, Options{
		EnvelopeEventID: uuid.New(),
		ProcessingMode:  true,
		Corrector:       corrector,
		ReceivedAt:      time.Unix(4000, 0),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts, ok := out.Fields["timestamp"].(float64)
	if !ok {
		t.Fatalf("expected timestamp field, got %v", out.Fields["timestamp"])
	}
	if ts == 1000 {
		t.Fatal("expected clock drift correction to change the timestamp")
	}
}
