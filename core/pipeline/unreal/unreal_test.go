package unreal

import (
	"encoding/binary"
	"testing"

	"github.com/coachpo/relaycore/pkg/envelope"
)

func frame(payload []byte) []byte {
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	return append(header, payload...)
}

func TestExpandNoUnrealReportIsNoop(t *testing.T) {
	env := envelope.New(envelope.RequestMeta{})
	env.AddItem(envelope.NewItem(envelope.KindEvent, []byte(`{}`)))
	if err := Expand(env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Len() != 1 {
		t.Fatalf("expected envelope unchanged, got %d items", env.Len())
	}
}

func TestExpandSplitsFramesIntoAttachments(t *testing.T) {
	var payload []byte
	payload = append(payload, frame([]byte(`{"process_name":"Game"}`))...)
	payload = append(payload, frame([]byte("minidump-bytes"))...)

	env := envelope.New(envelope.RequestMeta{})
	env.AddItem(envelope.NewItem(envelope.KindUnrealReport, payload))

	if err := Expand(env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Len() != 2 {
		t.Fatalf("expected 2 expanded items, got %d", env.Len())
	}
	first := env.Items()[0]
	if first.Headers.Attachment != envelope.AttachmentEventPayload {
		t.Fatalf("expected first frame to be the event-payload attachment, got %v", first.Headers.Attachment)
	}
	second := env.Items()[1]
	if second.Headers.Attachment != envelope.AttachmentGeneric {
		t.Fatalf("expected second frame to be a generic attachment, got %v", second.Headers.Attachment)
	}
}

func TestExpandTruncatedFrameIsRejected(t *testing.T) {
	env := envelope.New(envelope.RequestMeta{})
	env.AddItem(envelope.NewItem(envelope.KindUnrealReport, []byte{0, 0, 0, 10, 1, 2}))
	if err := Expand(env); err == nil {
		t.Fatal("expected truncated frame to be rejected")
	}
}

func TestProcessFoldsContextIntoNewEvent(t *testing.T) {
	env := envelope.New(envelope.RequestMeta{})
	env.AddItem(envelope.NewItem(envelope.KindUnrealReport, frame([]byte(`{"process_name":"Game"}`))))
	if err := Expand(env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev, err := Process(env, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.Get("platform") != "native" {
		t.Fatalf("expected platform native, got %v", ev.Get("platform"))
	}
	if ev.Get("transaction") != "Game" {
		t.Fatalf("expected transaction Game, got %v", ev.Get("transaction"))
	}
}

func TestProcessNoContextIsNoop(t *testing.T) {
	env := envelope.New(envelope.RequestMeta{})
	ev, err := Process(env, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != nil {
		t.Fatal("expected no event created without a context item")
	}
}
