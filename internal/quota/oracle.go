// Package quota implements the rate-limit oracle the envelope limiter
// consults: a pure "(scope, category, quantity) -> limited?" decision,
// backed here by an in-memory per-project token bucket.
package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/coachpo/relaycore/internal/scope"
	"github.com/coachpo/relaycore/pkg/outcome"
)

// Limit configures the token bucket enforced for one data category.
type Limit struct {
	// RatePerSecond is the sustained rate of quantity units allowed.
	RatePerSecond decimal.Decimal
	// Burst is the maximum instantaneous quantity allowed in one check.
	Burst int64
	// Reason is an optional machine-readable code surfaced on RateLimited outcomes.
	Reason string
}

// Quotas maps each enforced data category to its limit. Categories absent
// from the map are never limited.
type Quotas map[outcome.Category]Limit

// RateLimited is returned by the Oracle for a single (category, quantity)
// check that was rejected.
type RateLimited struct {
	Category outcome.Category
	Reason   string
}

// Result is the oracle's verdict across every category checked in one call
// to Limiter.Apply; an envelope can have more than one category limited at
// once (e.g. both Error and Attachment).
type Result struct {
	Limited []RateLimited
}

// IsLimited reports whether category appears in the result, along with its
// reason if so.
func (r Result) IsLimited(category outcome.Category) (string, bool) {
	for _, l := range r.Limited {
		if l.Category == category {
			return l.Reason, true
		}
	}
	return "", false
}

// Oracle is the pure decision interface the envelope limiter consults. It
// must be safe for concurrent invocation: in production this is backed by a
// distributed rate-limit store; here an in-memory token-bucket
// implementation is provided for single-process deployments and tests.
type Oracle interface {
	IsRateLimited(ctx context.Context, s scope.Scoping, category outcome.Category, quantity int64) (Result, error)
}

// ErrInvalidQuantity is returned when a check is attempted with a
// non-positive quantity.
var ErrInvalidQuantity = fmt.Errorf("quota: quantity must be positive")

// TokenBucketOracle enforces per-(project, category) token buckets using
// golang.org/x/time/rate, keyed by a limiter map guarded by a single mutex.
type TokenBucketOracle struct {
	quotas Quotas

	mu       sync.Mutex
	limiters map[bucketKey]*rate.Limiter
}

type bucketKey struct {
	projectID uint64
	category  outcome.Category
}

// NewTokenBucketOracle constructs an Oracle enforcing the given quotas
// uniformly across every project.
func NewTokenBucketOracle(quotas Quotas) *TokenBucketOracle {
	return &TokenBucketOracle{
		quotas:   quotas,
		limiters: make(map[bucketKey]*rate.Limiter),
	}
}

// IsRateLimited checks quantity units of category against the configured
// quota for s.ProjectID, lazily creating a token bucket on first use.
func (o *TokenBucketOracle) IsRateLimited(ctx context.Context, s scope.Scoping, category outcome.Category, quantity int64) (Result, error) {
	if quantity <= 0 {
		return Result{}, ErrInvalidQuantity
	}
	limit, ok := o.quotas[category]
	if !ok {
		return Result{}, nil
	}

	limiter := o.limiterFor(s.ProjectID, category, limit)
	if limiter.AllowN(time.Now(), int(quantity)) {
		return Result{}, nil
	}
	return Result{Limited: []RateLimited{{Category: category, Reason: limit.Reason}}}, nil
}

func (o *TokenBucketOracle) limiterFor(projectID uint64, category outcome.Category, limit Limit) *rate.Limiter {
	key := bucketKey{projectID: projectID, category: category}

	o.mu.Lock()
	defer o.mu.Unlock()

	if lim, ok := o.limiters[key]; ok {
		return lim
	}
	burst := limit.Burst
	perSecond, _ := limit.RatePerSecond.Float64()
	lim := rate.NewLimiter(rate.Limit(perSecond), int(burst))
	o.limiters[key] = lim
	return lim
}
