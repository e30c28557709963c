package manager

import (
	"context"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/relaycore/internal/project"
)

// RetryingFetcher wraps a project.Fetcher with bounded exponential-backoff
// retries. Project-state fetches are a blocking boundary the EnvelopeManager
// awaits before invoking the core pipeline (§6); a flaky store round trip
// should not fail an envelope outright when a short retry would succeed.
type RetryingFetcher struct {
	Underlying project.Fetcher
	MaxTries   uint
}

// Fetch retries the underlying fetch on error up to MaxTries times
// (default 3), honoring ctx cancellation between attempts.
func (f RetryingFetcher) Fetch(ctx context.Context, key project.Key, noCache bool) (project.Snapshot, error) {
	maxTries := f.MaxTries
	if maxTries == 0 {
		maxTries = 3
	}
	return backoff.Retry(ctx, func() (project.Snapshot, error) {
		return f.Underlying.Fetch(ctx, key, noCache)
	}, backoff.WithMaxTries(maxTries))
}
