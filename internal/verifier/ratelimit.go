package verifier

import (
	"context"
	"sync"

	"swapbook/internal/domain"

	"golang.org/x/time/rate"
)

// RateLimited caps verifier calls per chain so a burst of Advance requests
// cannot flood a chain node.
type RateLimited struct {
	next  domain.SwapVerifier
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[domain.Chain]*rate.Limiter
}

// NewRateLimited wraps next with a per-chain token bucket.
func NewRateLimited(next domain.SwapVerifier, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:     next,
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[domain.Chain]*rate.Limiter),
	}
}

func (r *RateLimited) limiter(chain domain.Chain) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[chain]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[chain] = l
	}
	return l
}

func (r *RateLimited) wait(ctx context.Context, chain domain.Chain) error {
	if err := r.limiter(chain).Wait(ctx); err != nil {
		return domain.NewNetworkError("rate_limit "+chain.String(), err)
	}
	return nil
}

// ConfirmLock implements domain.SwapVerifier.
func (r *RateLimited) ConfirmLock(ctx context.Context, chain domain.Chain, hash domain.SecretHash, amount, deadline uint64) (domain.LockProof, domain.Verdict, error) {
	if err := r.wait(ctx, chain); err != nil {
		return domain.LockProof{}, domain.VerdictNotYet, err
	}
	return r.next.ConfirmLock(ctx, chain, hash, amount, deadline)
}

// ConfirmRedeem implements domain.SwapVerifier.
func (r *RateLimited) ConfirmRedeem(ctx context.Context, chain domain.Chain, hash domain.SecretHash, deadline uint64) (domain.RedeemProof, domain.Verdict, error) {
	if err := r.wait(ctx, chain); err != nil {
		return domain.RedeemProof{}, domain.VerdictNotYet, err
	}
	return r.next.ConfirmRedeem(ctx, chain, hash, deadline)
}

// ConfirmRefund implements domain.SwapVerifier.
func (r *RateLimited) ConfirmRefund(ctx context.Context, chain domain.Chain, hash domain.SecretHash, deadline uint64) (domain.RefundProof, domain.Verdict, error) {
	if err := r.wait(ctx, chain); err != nil {
		return domain.RefundProof{}, domain.VerdictNotYet, err
	}
	return r.next.ConfirmRefund(ctx, chain, hash, deadline)
}

// ConfirmElapsed implements domain.SwapVerifier.
func (r *RateLimited) ConfirmElapsed(ctx context.Context, chain domain.Chain, deadline uint64) (bool, error) {
	if err := r.wait(ctx, chain); err != nil {
		return false, err
	}
	return r.next.ConfirmElapsed(ctx, chain, deadline)
}
