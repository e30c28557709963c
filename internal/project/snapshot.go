// Package project holds the project-configuration cache contract: the core
// pipeline treats project config as an immutable snapshot handed to it by
// value, and this package is the boundary that produces those snapshots.
// Fetching a snapshot from the persistent configuration store is out of
// scope here — Fetcher is satisfied by that external collaborator; this
// package owns only the caching and staleness behaviour around it.
package project

import (
	"fmt"
	"strings"
	"time"

	"github.com/coachpo/relaycore/core/pipeline"
)

// Key identifies one project's configuration snapshot.
type Key struct {
	ProjectID uint64
	PublicKey string
}

// Validate reports whether k is well-formed.
func (k Key) Validate() error {
	if k.ProjectID == 0 {
		return fmt.Errorf("project: key requires a non-zero project id")
	}
	if strings.TrimSpace(k.PublicKey) == "" {
		return fmt.Errorf("project: key requires a public key")
	}
	return nil
}

// Snapshot is one versioned configuration fetch, immutable once returned to
// a caller. Config is passed by value into the pipeline per envelope; a
// refresh installs a new Snapshot behind the cache rather than mutating this
// one in place.
//
// Config.Oracle is left unset by the fetch layer: the quota-service client
// is shared, process-wide, and safe for concurrent use (§5), so the
// EnvelopeManager overwrites it with the shared instance before every Run
// rather than having it flow through the per-project cache.
type Snapshot struct {
	Key       Key
	Config    pipeline.Config
	Version   uint64
	UpdatedAt time.Time
	TTL       time.Duration
	// Stale is set on read when TTL has elapsed and no refresh has landed
	// yet; the caller may still use the snapshot but should prefer a
	// forced refetch soon.
	Stale bool
}

// Expired reports whether s's TTL has elapsed as of now.
func (s Snapshot) Expired(now time.Time) bool {
	if s.TTL <= 0 {
		return false
	}
	return s.UpdatedAt.Add(s.TTL).Before(now)
}
