package manager

import (
	"github.com/coachpo/relaycore/internal/pool"
)

// RequestBufferPoolName is the pool name the HTTP front door registers and
// borrows from when reading submitted request bodies, mirroring the
// gateway's per-type pool registration for its own hot structs.
const RequestBufferPoolName = "EnvelopeRequestBuffer"

// RequestBuffer is a reusable scratch byte slice for reading one request
// body. It implements pool.PooledObject so a pool.PoolManager can track and
// bound how many are outstanding at once.
type RequestBuffer struct {
	Bytes    []byte
	returned bool
}

func newRequestBuffer(capacity int) func() any {
	return func() any {
		return &RequestBuffer{Bytes: make([]byte, 0, capacity)}
	}
}

// Reset implements pool.PooledObject.
func (b *RequestBuffer) Reset() {
	b.Bytes = b.Bytes[:0]
}

// SetReturned implements pool.PooledObject.
func (b *RequestBuffer) SetReturned(v bool) { b.returned = v }

// IsReturned implements pool.PooledObject.
func (b *RequestBuffer) IsReturned() bool { return b.returned }

// RegisterRequestBufferPool registers the request-buffer pool on mgr, sized
// to the envelope queue capacity so the HTTP front door never waits longer
// for a buffer than the manager would for a processing slot.
func RegisterRequestBufferPool(pm *pool.PoolManager, capacity, bufferBytes int) error {
	return pm.RegisterPool(RequestBufferPoolName, capacity, newRequestBuffer(bufferBytes))
}
