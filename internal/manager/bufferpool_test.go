package manager

import (
	"testing"

	"github.com/coachpo/relaycore/internal/pool"
)

func TestRegisterRequestBufferPoolRoundTrips(t *testing.T) {
	pm := pool.NewPoolManager()
	if err := RegisterRequestBufferPool(pm, 2, 64); err != nil {
		t.Fatalf("register pool: %v", err)
	}

	obj, ok, err := pm.TryGet(RequestBufferPoolName)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a buffer to be available")
	}

	buf, isBuf := obj.(*RequestBuffer)
	if !isBuf {
		t.Fatalf("expected *RequestBuffer, got %T", obj)
	}
	if cap(buf.Bytes) < 64 {
		t.Fatalf("expected buffer capacity >= 64, got %d", cap(buf.Bytes))
	}

	buf.Bytes = append(buf.Bytes, "hello"...)
	if ok, err := pm.TryPut(RequestBufferPoolName, buf); err != nil || !ok {
		t.Fatalf("expected successful put, got ok=%v err=%v", ok, err)
	}

	second, ok, err := pm.TryGet(RequestBufferPoolName)
	if err != nil || !ok {
		t.Fatalf("expected to reacquire a buffer, ok=%v err=%v", ok, err)
	}
	reused := second.(*RequestBuffer)
	if len(reused.Bytes) != 0 {
		t.Fatalf("expected Reset to clear the buffer, got len %d", len(reused.Bytes))
	}
}
