package items

import (
	json "github.com/goccy/go-json"

	"github.com/coachpo/relaycore/pkg/envelope"
)

// userReport is the typed shape re-serialization strips unknown fields
// against (§4.4).
type userReport struct {
	EventID string `json:"event_id"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Comments string `json:"comments,omitempty"`
}

// ProcessUserReport parses and canonically re-serializes a UserReport item.
// On parse or serialize failure the item is dropped; no outcome is emitted
// either way since user reports are not a billable category. event_id is
// mandatory: a payload missing it is treated as malformed, matching the
// typed schema the item is validated against.
func ProcessUserReport(it *envelope.Item) *envelope.Item {
	var r userReport
	if err := json.Unmarshal(it.Payload, &r); err != nil {
		return nil
	}
	if r.EventID == "" {
		return nil
	}
	body, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	it.Payload = body
	return it
}
