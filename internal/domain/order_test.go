package domain

import (
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func newTestOrder() Order {
	return NewOrder(0, "alice", 100, 50, ChainBitcoin, ChainEthereum, time.Unix(1700000000, 0))
}

func TestNewOrder(t *testing.T) {
	o := newTestOrder()

	if o.Status != StatusCreated {
		t.Errorf("Expected status CREATED, got %s", o.Status)
	}
	if !o.IsOpen() {
		t.Error("new order should be open")
	}
	if o.Initiator.Chain != ChainBitcoin || o.Follower.Chain != ChainEthereum {
		t.Errorf("unexpected chains %s/%s", o.Initiator.Chain, o.Follower.Chain)
	}
	if err := o.VerifyInvariants(); err != nil {
		t.Fatalf("VerifyInvariants failed: %v", err)
	}
}

func TestVerifyInvariants(t *testing.T) {
	t.Run("filled without filler", func(t *testing.T) {
		o := newTestOrder()
		o.Status = StatusFilled
		if err := o.VerifyInvariants(); err == nil {
			t.Error("expected error for filled order without filler")
		}
	})

	t.Run("filler before fill", func(t *testing.T) {
		o := newTestOrder()
		o.Filler = "bob"
		if err := o.VerifyInvariants(); err == nil {
			t.Error("expected error for created order with filler")
		}
	})

	t.Run("redeem and refund on one leg", func(t *testing.T) {
		o := newTestOrder()
		o.Filler = "bob"
		o.Status = StatusFollowerLocked
		o.Initiator.RedeemTx = "tx-r"
		o.Initiator.RefundTx = "tx-f"
		if err := o.VerifyInvariants(); err == nil {
			t.Error("expected error for leg with redeem and refund")
		}
	})
}

func TestVerifySuccessor(t *testing.T) {
	prev := newTestOrder()
	prev.Filler = "bob"
	prev.Status = StatusInitiatorLocked
	prev.SecretHash = HashSecret([]byte("s3cret"))

	t.Run("forward move", func(t *testing.T) {
		next := prev
		next.Status = StatusFollowerLocked
		if err := VerifySuccessor(&prev, &next); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("regression", func(t *testing.T) {
		next := prev
		next.Status = StatusFilled
		if err := VerifySuccessor(&prev, &next); err == nil {
			t.Error("expected regression to be rejected")
		}
	})

	t.Run("skip", func(t *testing.T) {
		next := prev
		next.Status = StatusInitiatorRedeemed
		if err := VerifySuccessor(&prev, &next); err == nil {
			t.Error("expected skipped step to be rejected")
		}
	})

	t.Run("amount change", func(t *testing.T) {
		next := prev
		next.Initiator.Amount = 101
		if err := VerifySuccessor(&prev, &next); err == nil {
			t.Error("expected amount change to be rejected")
		}
	})
}

func TestSecretHashImmutable(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		first := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "first")
		second := rapid.SliceOfN(rapid.Byte(), 1, 64).Draw(t, "second")

		prev := newTestOrder()
		prev.Filler = "bob"
		prev.Status = StatusInitiatorLocked
		prev.SecretHash = HashSecret(first)

		next := prev
		next.SecretHash = HashSecret(second)

		err := VerifySuccessor(&prev, &next)
		if prev.SecretHash == next.SecretHash {
			if err != nil {
				t.Fatalf("unchanged hash rejected: %v", err)
			}
			return
		}
		if !errors.Is(err, ErrSecretHashMismatch) {
			t.Fatalf("changed hash accepted or wrong error: %v", err)
		}
	})
}

func TestSecretHash(t *testing.T) {
	secret := []byte("correct horse battery staple")
	h := HashSecret(secret)

	if !h.Matches(secret) {
		t.Error("hash should match its preimage")
	}
	if h.Matches([]byte("wrong")) {
		t.Error("hash should not match another secret")
	}

	parsed, err := ParseSecretHash(h.String())
	if err != nil {
		t.Fatalf("ParseSecretHash failed: %v", err)
	}
	if parsed != h {
		t.Error("hex round trip changed the hash")
	}

	if _, err := ParseSecretHash("abcd"); err == nil {
		t.Error("expected error for short hash")
	}
	if zero, err := ParseSecretHash(""); err != nil || !zero.IsZero() {
		t.Error("empty string should decode to the zero hash")
	}
}

func TestStatusGraph(t *testing.T) {
	path := []Status{
		StatusCreated, StatusFilled, StatusInitiatorLocked, StatusFollowerLocked,
		StatusFollowerRedeemed, StatusInitiatorRedeemed, StatusExecuted,
	}
	for i := 0; i+1 < len(path); i++ {
		if !path[i].CanMoveTo(path[i+1]) {
			t.Errorf("%s -> %s should be allowed", path[i], path[i+1])
		}
		if path[i+1].CanMoveTo(path[i]) {
			t.Errorf("%s -> %s should be rejected", path[i+1], path[i])
		}
	}

	if StatusFollowerLocked.CanMoveTo(StatusInitiatorRedeemed) {
		t.Error("InitiatorRedeemed must only follow FollowerRedeemed")
	}
	for _, terminal := range []Status{StatusExecuted, StatusInitiatorRefunded, StatusFollowerRefunded, StatusFailedSoft, StatusFailedHard} {
		if !terminal.IsTerminal() {
			t.Errorf("%s should be terminal", terminal)
		}
		if terminal.CanMoveTo(StatusCreated) {
			t.Errorf("%s should not move anywhere", terminal)
		}
	}

	s, err := ParseStatus("FOLLOWER_REDEEMED")
	if err != nil || s != StatusFollowerRedeemed {
		t.Errorf("ParseStatus = %v, %v", s, err)
	}
}

func TestChainRegistry(t *testing.T) {
	infos := DefaultChains()
	infos[2].SameChainSwaps = true // ethereum
	r := NewChainRegistry(infos)

	if !r.Compatible(ChainBitcoin, ChainEthereum) {
		t.Error("bitcoin -> ethereum should be compatible")
	}
	if r.Compatible(ChainBitcoin, ChainBitcoin) {
		t.Error("bitcoin -> bitcoin should not be compatible")
	}
	if !r.Compatible(ChainEthereum, ChainEthereum) {
		t.Error("ethereum -> ethereum is explicitly compatible")
	}
	if r.Compatible(ChainUnknown, ChainEthereum) {
		t.Error("unknown chain should never be compatible")
	}

	btc, _ := r.Lookup(ChainBitcoin)
	if got := btc.FormatAmount(150_000_000).String(); got != "1.5" {
		t.Errorf("FormatAmount = %s, want 1.5", got)
	}

	c, err := ParseChain("Ethereum")
	if err != nil || c != ChainEthereum {
		t.Errorf("ParseChain = %v, %v", c, err)
	}
}
