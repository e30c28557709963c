package items

import (
	"testing"

	"github.com/coachpo/relaycore/pkg/envelope"
)

func TestProcessUserReportRoundTrip(t *testing.T) {
	it := envelope.NewItem(envelope.KindUserReport, []byte(`{"event_id":"abc","name":"Jane","email":"jane@example.com","comments":"broke","unknown_field":"x"}`))

	out := ProcessUserReport(it)
	if out == nil {
		t.Fatal("expected user report to survive")
	}
	if string(out.Payload) == string(it.Payload) {
		t.Fatal("expected unknown field to be stripped by re-serialization")
	}
}

func TestProcessUserReportDropsOnMalformedJSON(t *testing.T) {
	it := envelope.NewItem(envelope.KindUserReport, []byte(`not json`))
	if out := ProcessUserReport(it); out != nil {
		t.Fatal("expected malformed user report to be dropped")
	}
}

func TestProcessUserReportDropsWhenEventIDMissing(t *testing.T) {
	it := envelope.NewItem(envelope.KindUserReport, []byte(`{"foo":"bar"}`))
	if out := ProcessUserReport(it); out != nil {
		t.Fatal("expected user report without event_id to be dropped")
	}
}
