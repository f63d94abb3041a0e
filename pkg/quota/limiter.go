// Package quota enforces fixed-window request quotas per subject and
// operation. Counters live in a CounterStore (Redis in production, an
// in-process map in tests and single-node deployments); the limiter itself
// is stateless, so any number of instances can share one store.
//
// A store failure denies the request. Quota protects the expensive
// operations behind it (document generation, login attempts), so an outage
// of the counter backend must not turn into an unmetered free-for-all.
package quota

import (
	"context"
	"fmt"
	"time"
)

// Tier selects which rule applies to a request.
type Tier string

const (
	// TierAnonymous keys on client IP, for unauthenticated endpoints.
	TierAnonymous Tier = "anonymous"
	// TierAuthenticated keys on user ID, for the general API surface.
	TierAuthenticated Tier = "authenticated"
	// TierStrict keys on user ID with a much lower ceiling, for
	// expensive operations such as document generation.
	TierStrict Tier = "strict"
)

// Rule is one fixed-window quota: at most Limit requests per Window.
type Rule struct {
	Limit  int64
	Window time.Duration
}

// DefaultRules returns the shipped quota tiers. Deployments override them
// through configuration.
func DefaultRules() map[Tier]Rule {
	return map[Tier]Rule{
		TierAnonymous:     {Limit: 30, Window: time.Minute},
		TierAuthenticated: {Limit: 300, Window: time.Minute},
		TierStrict:        {Limit: 10, Window: time.Hour},
	}
}

// Decision is the outcome of a quota check, with everything an HTTP layer
// needs for the X-RateLimit-* response headers.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	// RetryAfter is non-zero only when the request was denied.
	RetryAfter time.Duration
}

// CounterStore atomically increments a window counter and reports its
// value. The check and the increment are a single operation; two callers
// racing on the same key each see a distinct count.
type CounterStore interface {
	// Incr bumps the counter for key in its current fixed window and
	// returns the post-increment count plus the instant the window ends.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// Limiter applies tiered fixed-window rules over a CounterStore.
type Limiter struct {
	store CounterStore
	rules map[Tier]Rule
	now   func() time.Time
}

// NewLimiter builds a limiter. Missing tiers in rules fall back to
// DefaultRules.
func NewLimiter(store CounterStore, rules map[Tier]Rule) *Limiter {
	merged := DefaultRules()
	for tier, rule := range rules {
		if rule.Limit > 0 && rule.Window > 0 {
			merged[tier] = rule
		}
	}
	return &Limiter{
		store: store,
		rules: merged,
		now:   time.Now,
	}
}

// Check consumes one unit of quota for (subject, operation) under the
// given tier. Counters for different operations never interfere; quota
// spent on logins does not reduce quota for document generation.
//
// A store error fails closed: the decision denies and the error is
// returned for logging.
func (l *Limiter) Check(ctx context.Context, tier Tier, subject, operation string) (Decision, error) {
	rule, ok := l.rules[tier]
	if !ok {
		rule = l.rules[TierAuthenticated]
	}

	key := fmt.Sprintf("quota:%s:%s:%s", tier, operation, subject)
	count, resetAt, err := l.store.Incr(ctx, key, rule.Window)
	if err != nil {
		return Decision{
			Allowed: false,
			Limit:   rule.Limit,
			ResetAt: l.now().Add(rule.Window),
		}, fmt.Errorf("quota counter unavailable: %w", err)
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Allowed:   count <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !decision.Allowed {
		retryAfter := resetAt.Sub(l.now())
		if retryAfter < 0 {
			retryAfter = 0
		}
		decision.RetryAfter = retryAfter
	}
	return decision, nil
}

// Rule exposes the effective rule for a tier, for surfaces that report
// limits without consuming quota.
func (l *Limiter) Rule(tier Tier) Rule {
	if rule, ok := l.rules[tier]; ok {
		return rule
	}
	return l.rules[TierAuthenticated]
}
