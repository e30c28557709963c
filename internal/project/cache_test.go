package project

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coachpo/relaycore/core/pipeline"
)

type stubFetcher struct {
	calls int
	snap  Snapshot
	err   error
}

func (f *stubFetcher) Fetch(context.Context, Key, bool) (Snapshot, error) {
	f.calls++
	if f.err != nil {
		return Snapshot{}, f.err
	}
	return f.snap, nil
}

func testKey() Key {
	return Key{ProjectID: 42, PublicKey: "abc123"}
}

func TestCacheFetchCallsFetcherOnFirstMiss(t *testing.T) {
	fetcher := &stubFetcher{snap: Snapshot{Key: testKey(), Config: pipeline.Config{ProcessingMode: true}}}
	cache := NewCache(fetcher, 0)

	snap, err := cache.Fetch(context.Background(), testKey(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected 1 fetcher call, got %d", fetcher.calls)
	}
	if snap.Version != 1 {
		t.Fatalf("expected version 1 on first fetch, got %d", snap.Version)
	}
}

func TestCacheFetchReusesCachedSnapshotWithinTTL(t *testing.T) {
	fetcher := &stubFetcher{snap: Snapshot{Key: testKey(), TTL: time.Minute}}
	cache := NewCache(fetcher, 0)

	if _, err := cache.Fetch(context.Background(), testKey(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cache.Fetch(context.Background(), testKey(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected second fetch to hit cache, got %d fetcher calls", fetcher.calls)
	}
}

func TestCacheFetchNoCacheForcesRefresh(t *testing.T) {
	fetcher := &stubFetcher{snap: Snapshot{Key: testKey()}}
	cache := NewCache(fetcher, 0)

	if _, err := cache.Fetch(context.Background(), testKey(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cache.Fetch(context.Background(), testKey(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected noCache to force a second fetch, got %d calls", fetcher.calls)
	}
}

func TestCacheFetchDegradesToStaleOnRefreshFailure(t *testing.T) {
	fetcher := &stubFetcher{snap: Snapshot{Key: testKey(), TTL: time.Nanosecond}}
	cache := NewCache(fetcher, 0)

	if _, err := cache.Fetch(context.Background(), testKey(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	fetcher.err = errors.New("store unavailable")

	snap, err := cache.Fetch(context.Background(), testKey(), false)
	if err != nil {
		t.Fatalf("expected stale fallback instead of error, got %v", err)
	}
	if !snap.Stale {
		t.Fatal("expected the degraded snapshot to be marked stale")
	}
}

func TestCacheFetchPropagatesErrorOnFirstMiss(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("store unavailable")}
	cache := NewCache(fetcher, 0)

	if _, err := cache.Fetch(context.Background(), testKey(), false); err == nil {
		t.Fatal("expected an error when there is no cached fallback")
	}
}

func TestCacheCompareAndSwapRejectsStaleVersion(t *testing.T) {
	fetcher := &stubFetcher{snap: Snapshot{Key: testKey()}}
	cache := NewCache(fetcher, 0)
	if _, err := cache.Fetch(context.Background(), testKey(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := cache.CompareAndSwap(0, Snapshot{Key: testKey()}); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if _, err := cache.CompareAndSwap(1, Snapshot{Key: testKey()}); err != nil {
		t.Fatalf("unexpected error on matching version: %v", err)
	}
}
