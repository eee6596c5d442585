package engine

import (
	"context"
	"time"

	"swapbook/internal/domain"
)

// Verify runs the verification a step requires. The call is bounded by
// timeout; transport failures and timeouts surface as VerificationPending so
// the caller can retry, and never touch the order.
func Verify(ctx context.Context, v domain.SwapVerifier, o *domain.Order, step Step, timeout time.Duration) (Outcome, error) {
	if step.Check == CheckNone {
		return Outcome{Verdict: domain.VerdictConfirmed}, nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		out Outcome
		err error
	)
	switch step.Check {
	case CheckLock:
		out.Lock, out.Verdict, err = v.ConfirmLock(ctx, step.Chain, step.Hash, step.Amount, step.Deadline)
	case CheckRedeem:
		out.Redeem, out.Verdict, err = v.ConfirmRedeem(ctx, step.Chain, step.Hash, step.Deadline)
	case CheckRefund:
		out, err = verifyRefund(ctx, v, step)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return Outcome{}, &domain.OrderError{
			Kind:    domain.KindVerificationPending,
			OrderID: o.ID,
			Op:      op(step.Action),
			Reason:  domain.ErrNotObserved,
			Err:     err,
		}
	}
	return out, nil
}

// verifyRefund asks the chain, in order, whether the deadline passed, whether
// the leg was redeemed anyway and whether the refund itself confirmed.
func verifyRefund(ctx context.Context, v domain.SwapVerifier, step Step) (Outcome, error) {
	var out Outcome
	elapsed, err := v.ConfirmElapsed(ctx, step.Chain, step.Deadline)
	if err != nil || !elapsed {
		return out, err
	}
	out.Elapsed = true

	_, redeemed, err := v.ConfirmRedeem(ctx, step.Chain, step.Hash, step.Deadline)
	if err != nil {
		return out, err
	}
	if redeemed == domain.VerdictConfirmed {
		out.Redeemed = true
		return out, nil
	}

	out.Refund, out.Verdict, err = v.ConfirmRefund(ctx, step.Chain, step.Hash, step.Deadline)
	return out, err
}
