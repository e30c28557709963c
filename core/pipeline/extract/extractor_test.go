package extract

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/coachpo/relaycore/errs"
	"github.com/coachpo/relaycore/pkg/envelope"
)

func TestExtractPrefersExplicitEvent(t *testing.T) {
	env := envelope.New(envelope.RequestMeta{})
	env.AddItem(envelope.NewItem(envelope.KindEvent, []byte(`{"message":"hi"}`)))

	result, err := Extract(env, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Event == nil {
		t.Fatal("expected an extracted event")
	}
	if env.Len() != 0 {
		t.Fatalf("expected event item removed from envelope, got %d remaining", env.Len())
	}
}

func TestExtractDuplicateEventAndRawSecurity(t *testing.T) {
	env := envelope.New(envelope.RequestMeta{})
	env.AddItem(envelope.NewItem(envelope.KindEvent, []byte(`{}`)))
	env.AddItem(envelope.NewItem(envelope.KindRawSecurity, []byte(`{}`)))

	_, err := Extract(env, Config{})
	if err == nil {
		t.Fatal("expected DuplicateItem error")
	}
	if err.Code != errs.CodeDuplicateItem {
		t.Fatalf("expected duplicate item code, got %v", err.Code)
	}
	if err.DiscardReason != string(envelope.KindRawSecurity) {
		t.Fatalf("expected raw_security discard reason, got %q", err.DiscardReason)
	}
}

func TestExtractTransactionSetsEventType(t *testing.T) {
	env := envelope.New(envelope.RequestMeta{})
	env.AddItem(envelope.NewItem(envelope.KindTransaction, []byte(`{"spans":[]}`)))

	result, err := Extract(env, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Event.Get("type") != "transaction" {
		t.Fatalf("expected type=transaction, got %v", result.Event.Get("type"))
	}
}

func TestExtractPayloadTooLarge(t *testing.T) {
	env := envelope.New(envelope.RequestMeta{})
	env.AddItem(envelope.NewItem(envelope.KindEvent, make([]byte, 1024)))

	_, err := Extract(env, Config{MaxEventSize: 100})
	if err == nil {
		t.Fatal("expected PayloadTooLarge error")
	}
	if err.Code != errs.CodePayloadTooLarge {
		t.Fatalf("expected payload too large code, got %v", err.Code)
	}
}

func mustMsgpack(t *testing.T, v any) []byte {
	t.Helper()
	body, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("failed to encode msgpack fixture: %v", err)
	}
	return body
}

func TestExtractMergesInterleavedBreadcrumbs(t *testing.T) {
	env := envelope.New(envelope.RequestMeta{})

	eventPayload := envelope.NewItem(envelope.KindAttachment, []byte(`{"message":"hi"}`))
	eventPayload.Headers.Attachment = envelope.AttachmentEventPayload
	env.AddItem(eventPayload)

	seqA := mustMsgpack(t, []map[string]any{
		{"timestamp": 1.0, "message": "a1"},
		{"timestamp": 3.0, "message": "a2"},
	})
	seqB := mustMsgpack(t, []map[string]any{
		{"timestamp": 2.0, "message": "b1"},
		{"timestamp": 4.0, "message": "b2"},
	})
	bcA := envelope.NewItem(envelope.KindAttachment, seqA)
	bcA.Headers.Attachment = envelope.AttachmentBreadcrumbs
	bcB := envelope.NewItem(envelope.KindAttachment, seqB)
	bcB.Headers.Attachment = envelope.AttachmentBreadcrumbs
	env.AddItem(bcA)
	env.AddItem(bcB)

	result, err := Extract(env, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	values := result.Event.Breadcrumbs()
	if len(values) != 2 {
		t.Fatalf("expected truncation to max(len1,len2)=2, got %d", len(values))
	}
	if env.Len() != 0 {
		t.Fatalf("expected attachments consumed, got %d remaining", env.Len())
	}
}

func TestExtractFormDataSentryField(t *testing.T) {
	env := envelope.New(envelope.RequestMeta{})
	form := map[string]string{
		"sentry":       `{"message":"from form"}`,
		"custom_field": "value",
	}
	body, err := json.Marshal(form)
	if err != nil {
		t.Fatalf("failed to encode form fixture: %v", err)
	}
	env.AddItem(envelope.NewItem(envelope.KindFormData, body))

	result, err := Extract(env, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Event == nil {
		t.Fatal("expected event extracted from form data")
	}
	if result.Event.Get("message") != "from form" {
		t.Fatalf("expected message field from sentry form field, got %v", result.Event.Get("message"))
	}
	extra, _ := result.Event.Get("extra").(map[string]any)
	if extra["custom_field"] != "value" {
		t.Fatalf("expected custom_field under extra, got %v", extra)
	}
}

func TestExtractNoCandidatesYieldsNoEvent(t *testing.T) {
	env := envelope.New(envelope.RequestMeta{})
	env.AddItem(envelope.NewItem(envelope.KindSession, []byte(`{}`)))

	result, err := Extract(env, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Event != nil {
		t.Fatal("expected no event extracted")
	}
}
