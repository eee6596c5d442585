// Package verifier contains SwapVerifier adapters. Real chain clients live
// outside this module; Simulated stands in for them in development and tests.
package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"swapbook/internal/domain"
)

type contractKey struct {
	chain domain.Chain
	hash  domain.SecretHash
}

// simContract is one HTLC. Both legs of a same-chain swap share a key, so
// each key holds its contracts in lock order.
type simContract struct {
	amount      uint64
	deadline    uint64
	confirmedAt uint64
	txRef       string
	address     string
	claimed     bool // a ConfirmLock already matched it to a leg
	redeem      *simTx
	refund      *simTx
}

type simTx struct {
	secret []byte
	at     uint64
	txRef  string
}

func (c *simContract) open() bool {
	return c.redeem == nil && c.refund == nil
}

// Simulated is an in-memory multi-chain ledger implementing domain.SwapVerifier.
// Each chain has its own clock (block height); nothing reads wall-clock time.
type Simulated struct {
	mu        sync.RWMutex
	clocks    map[domain.Chain]uint64
	contracts map[contractKey][]*simContract
	txSeq     uint64

	failures []error
	latency  time.Duration
}

// NewSimulated creates an empty ledger with every chain clock at 1.
func NewSimulated() *Simulated {
	return &Simulated{
		clocks:    make(map[domain.Chain]uint64),
		contracts: make(map[contractKey][]*simContract),
	}
}

// SetLatency delays every verifier call, honoring ctx.
func (s *Simulated) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// FailNext makes the next n verifier calls return err.
func (s *Simulated) FailNext(err error, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.failures = append(s.failures, err)
	}
}

// Now returns the current height of chain.
func (s *Simulated) Now(chain domain.Chain) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now(chain)
}

func (s *Simulated) now(chain domain.Chain) uint64 {
	if h, ok := s.clocks[chain]; ok {
		return h
	}
	return 1
}

// Mine advances chain time by n blocks and returns the new height.
func (s *Simulated) Mine(chain domain.Chain, n uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.now(chain) + n
	s.clocks[chain] = h
	return h
}

func (s *Simulated) nextTx(chain domain.Chain, kind string) string {
	s.txSeq++
	return fmt.Sprintf("%s-%s-%06d", chain, kind, s.txSeq)
}

// byDeadline finds the contract under key with the given deadline.
func (s *Simulated) byDeadline(key contractKey, deadline uint64) *simContract {
	for _, c := range s.contracts[key] {
		if c.deadline == deadline {
			return c
		}
	}
	return nil
}

// Lock records an HTLC funding transaction confirmed at the current height.
func (s *Simulated) Lock(chain domain.Chain, hash domain.SecretHash, amount, deadline uint64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := contractKey{chain, hash}
	txRef := s.nextTx(chain, "lock")
	s.contracts[key] = append(s.contracts[key], &simContract{
		amount:      amount,
		deadline:    deadline,
		confirmedAt: s.now(chain),
		txRef:       txRef,
		address:     fmt.Sprintf("%s-htlc-%x-%d", chain, hash[:6], len(s.contracts[key])),
	})
	slog.Debug("⛓️  [SimChain] HTLC locked", slog.String("chain", chain.String()), slog.String("hash", hash.String()), slog.Uint64("amount", amount))
	return txRef
}

// Redeem records a claim revealing secret on the oldest open contract for its
// hash. It fails when no such contract exists.
func (s *Simulated) Redeem(chain domain.Chain, secret []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := contractKey{chain, domain.HashSecret(secret)}
	contracts := s.contracts[key]
	if len(contracts) == 0 {
		return "", fmt.Errorf("no HTLC on %s for hash %s", chain, key.hash)
	}
	for _, c := range contracts {
		if !c.open() {
			continue
		}
		txRef := s.nextTx(chain, "redeem")
		c.redeem = &simTx{secret: append([]byte(nil), secret...), at: s.now(chain), txRef: txRef}
		slog.Debug("🧹 [SimChain] HTLC redeemed", slog.String("chain", chain.String()), slog.String("tx_id", txRef))
		return txRef, nil
	}
	return "", fmt.Errorf("HTLC on %s already redeemed", chain)
}

// Refund returns the funds of the contract with the given deadline to its
// locker. The deadline must have passed and the contract must still be open.
func (s *Simulated) Refund(chain domain.Chain, hash domain.SecretHash, deadline uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.byDeadline(contractKey{chain, hash}, deadline)
	switch {
	case c == nil:
		return "", fmt.Errorf("no HTLC on %s for hash %s with deadline %d", chain, hash, deadline)
	case c.redeem != nil:
		return "", fmt.Errorf("HTLC on %s already redeemed", chain)
	case c.refund != nil:
		return "", fmt.Errorf("HTLC on %s already refunded", chain)
	case s.now(chain) <= deadline:
		return "", fmt.Errorf("HTLC on %s still timelocked until %d", chain, deadline)
	}
	txRef := s.nextTx(chain, "refund")
	c.refund = &simTx{at: s.now(chain), txRef: txRef}
	slog.Debug("↩️  [SimChain] HTLC refunded", slog.String("chain", chain.String()), slog.String("tx_id", txRef))
	return txRef, nil
}

func (s *Simulated) enter(ctx context.Context) error {
	s.mu.Lock()
	latency := s.latency
	var injected error
	if len(s.failures) > 0 {
		injected = s.failures[0]
		s.failures = s.failures[1:]
	}
	s.mu.Unlock()

	if latency > 0 {
		timer := time.NewTimer(latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return injected
}

// ConfirmLock implements domain.SwapVerifier. Contracts already matched to
// another leg are ignored, so a same-chain swap sees only its own locks.
func (s *Simulated) ConfirmLock(ctx context.Context, chain domain.Chain, hash domain.SecretHash, amount, deadline uint64) (domain.LockProof, domain.Verdict, error) {
	if err := s.enter(ctx); err != nil {
		return domain.LockProof{}, domain.VerdictNotYet, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var mismatch bool
	for _, c := range s.contracts[contractKey{chain, hash}] {
		if c.amount == amount && c.deadline == deadline {
			if c.confirmedAt >= deadline {
				return domain.LockProof{}, domain.VerdictExpired, nil
			}
			c.claimed = true
			return domain.LockProof{TxRef: c.txRef, Address: c.address}, domain.VerdictConfirmed, nil
		}
		if !c.claimed {
			mismatch = true
		}
	}
	switch {
	case mismatch:
		return domain.LockProof{}, domain.VerdictRejected, nil
	case s.now(chain) >= deadline:
		return domain.LockProof{}, domain.VerdictExpired, nil
	default:
		return domain.LockProof{}, domain.VerdictNotYet, nil
	}
}

// ConfirmRedeem implements domain.SwapVerifier.
func (s *Simulated) ConfirmRedeem(ctx context.Context, chain domain.Chain, hash domain.SecretHash, deadline uint64) (domain.RedeemProof, domain.Verdict, error) {
	if err := s.enter(ctx); err != nil {
		return domain.RedeemProof{}, domain.VerdictNotYet, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.byDeadline(contractKey{chain, hash}, deadline)
	if c == nil {
		return domain.RedeemProof{}, domain.VerdictRejected, nil
	}
	if c.redeem == nil {
		if s.now(chain) >= deadline {
			return domain.RedeemProof{}, domain.VerdictExpired, nil
		}
		return domain.RedeemProof{}, domain.VerdictNotYet, nil
	}
	if c.redeem.at >= deadline {
		return domain.RedeemProof{}, domain.VerdictExpired, nil
	}
	return domain.RedeemProof{TxRef: c.redeem.txRef, Secret: append([]byte(nil), c.redeem.secret...)}, domain.VerdictConfirmed, nil
}

// ConfirmRefund implements domain.SwapVerifier.
func (s *Simulated) ConfirmRefund(ctx context.Context, chain domain.Chain, hash domain.SecretHash, deadline uint64) (domain.RefundProof, domain.Verdict, error) {
	if err := s.enter(ctx); err != nil {
		return domain.RefundProof{}, domain.VerdictNotYet, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.byDeadline(contractKey{chain, hash}, deadline)
	switch {
	case c == nil, c.redeem != nil:
		return domain.RefundProof{}, domain.VerdictRejected, nil
	case c.refund == nil:
		return domain.RefundProof{}, domain.VerdictNotYet, nil
	}
	return domain.RefundProof{TxRef: c.refund.txRef}, domain.VerdictConfirmed, nil
}

// ConfirmElapsed implements domain.SwapVerifier.
func (s *Simulated) ConfirmElapsed(ctx context.Context, chain domain.Chain, deadline uint64) (bool, error) {
	if err := s.enter(ctx); err != nil {
		return false, err
	}
	return s.Now(chain) > deadline, nil
}
