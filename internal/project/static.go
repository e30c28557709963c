package project

import (
	"context"
	"fmt"
	"sync"
)

// StaticFetcher serves project snapshots from a fixed, operator-supplied
// table. It stands in for the persistent project-configuration store,
// which is an external collaborator outside this module's scope; process
// entrypoints wire it (or a real store client satisfying Fetcher) into a
// Cache.
type StaticFetcher struct {
	mu        sync.RWMutex
	snapshots map[Key]Snapshot
}

// NewStaticFetcher builds a fetcher pre-populated with snapshots.
func NewStaticFetcher(snapshots map[Key]Snapshot) *StaticFetcher {
	f := &StaticFetcher{snapshots: make(map[Key]Snapshot, len(snapshots))}
	for k, v := range snapshots {
		f.snapshots[k] = v
	}
	return f
}

// Fetch implements Fetcher.
func (f *StaticFetcher) Fetch(_ context.Context, key Key, _ bool) (Snapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snap, ok := f.snapshots[key]
	if !ok {
		return Snapshot{}, fmt.Errorf("project: no static snapshot registered for %+v", key)
	}
	return snap, nil
}

// Put installs or replaces the snapshot served for key, for operator-driven
// configuration pushes outside of the normal fetch path.
func (f *StaticFetcher) Put(key Key, snap Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[key] = snap
}
