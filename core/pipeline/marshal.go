package pipeline

import (
	"github.com/coachpo/relaycore/core/pipeline/extract"
	"github.com/coachpo/relaycore/internal/pool"
)

// marshalEvent re-serializes the event's fields (step 8 of the driver) using
// a pooled encoder, since this runs once per surviving event on every
// worker and a fresh bytes.Buffer per call would otherwise be the hottest
// remaining allocation in the pipeline.
func marshalEvent(ev *extract.Event) ([]byte, error) {
	enc := pool.AcquireJSONEncoder()
	defer pool.ReleaseJSONEncoder(enc)
	return enc.Encode(ev.Fields)
}
