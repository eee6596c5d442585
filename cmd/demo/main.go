// Demo runs one complete BTC -> ETH swap through the order book against the
// simulated chains.
package main

import (
	"context"
	"crypto/rand"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"swapbook/internal/app"
	"swapbook/internal/domain"
	"swapbook/internal/event"
	"swapbook/internal/infra"
	"swapbook/internal/infra/notify"
)

const (
	alice = domain.Actor("alice")
	bob   = domain.Actor("bob")

	btcAmount = 100_000               // 0.001 BTC in sats
	ethAmount = 2_000_000_000_000_000 // 0.002 ETH in wei
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := infra.DefaultConfig()
	cfg.Storage.Driver = "memory"
	cfg.Logging.Dir = ""
	cfg.Logging.Level = "debug"
	cfg.Verifier.RetryInitial = 100 * time.Millisecond
	slog.SetDefault(infra.NewLogger(cfg))

	b := app.NewBootstrap()
	if err := b.Wire(ctx, cfg); err != nil {
		slog.Error("❌ Wiring failed", slog.Any("error", err))
		os.Exit(1)
	}
	stop := b.StartBackground()
	defer stop()

	// Serve the API on a loopback port and follow the event feed like a client would.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		slog.Error("❌ Listen failed", slog.Any("error", err))
		os.Exit(1)
	}
	srv := &http.Server{Handler: b.Router, ReadHeaderTimeout: 5 * time.Second}
	go srv.Serve(ln)
	defer srv.Close()

	sub := notify.NewSubscriber("ws://"+ln.Addr().String()+"/v1/events", func(ev event.StatusChanged) {
		slog.Info("📬 Feed",
			slog.Uint64("order_id", uint64(ev.OrderID)),
			slog.String("old", ev.OldStatus.String()),
			slog.String("new", ev.NewStatus.String()),
			slog.String("actor", string(ev.Actor)))
	})
	sub.Connect(ctx)
	defer sub.Close()
	for wait := time.Now().Add(2 * time.Second); b.Hub.ClientCount() == 0 && time.Now().Before(wait); {
		time.Sleep(10 * time.Millisecond)
	}

	if err := run(ctx, b); err != nil {
		slog.Error("❌ Swap failed", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
	// Let the feed catch up before the deferred shutdown closes it.
	time.Sleep(200 * time.Millisecond)
}

func run(ctx context.Context, b *app.Bootstrap) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return err
	}
	hash := domain.HashSecret(secret)
	chain := b.Chain

	id, err := b.Book.CreateOrder(ctx, alice, btcAmount, ethAmount, domain.ChainBitcoin, domain.ChainEthereum)
	if err != nil {
		return err
	}
	if _, err := b.Book.FillOrder(ctx, id, bob); err != nil {
		return err
	}

	// Alice funds her HTLC a little later; the retrier waits for it.
	btcDeadline := chain.Now(domain.ChainBitcoin) + 144
	go func() {
		time.Sleep(300 * time.Millisecond)
		chain.Lock(domain.ChainBitcoin, hash, btcAmount, btcDeadline)
	}()
	if _, err := b.Retrier.Advance(ctx, id, domain.ActionInitiatorLock,
		domain.ProofContext{Actor: alice, SecretHash: hash, Deadline: btcDeadline}); err != nil {
		return err
	}

	// Bob locks on ethereum with a shorter timelock.
	ethDeadline := chain.Now(domain.ChainEthereum) + 72
	chain.Lock(domain.ChainEthereum, hash, ethAmount, ethDeadline)
	if _, err := b.Retrier.Advance(ctx, id, domain.ActionFollowerLock,
		domain.ProofContext{Actor: bob, Deadline: ethDeadline}); err != nil {
		return err
	}

	// Alice claims the ETH revealing the secret, Bob reuses it to claim the BTC.
	chain.Mine(domain.ChainEthereum, 3)
	if _, err := chain.Redeem(domain.ChainEthereum, secret); err != nil {
		return err
	}
	chain.Mine(domain.ChainBitcoin, 2)
	if _, err := chain.Redeem(domain.ChainBitcoin, secret); err != nil {
		return err
	}

	steps := []struct {
		action domain.Action
		actor  domain.Actor
	}{
		{domain.ActionFollowerRedeem, bob},
		{domain.ActionInitiatorRedeem, alice},
		{domain.ActionFinalize, alice},
	}
	var final domain.Order
	for _, s := range steps {
		if final, err = b.Retrier.Advance(ctx, id, s.action, domain.ProofContext{Actor: s.actor}); err != nil {
			return err
		}
	}

	btc, _ := b.Chains.Lookup(domain.ChainBitcoin)
	eth, _ := b.Chains.Lookup(domain.ChainEthereum)
	slog.Info("🎉 Swap executed",
		slog.Uint64("order_id", uint64(final.ID)),
		slog.String("status", final.Status.String()),
		slog.String("alice_sent", btc.FormatAmount(final.Initiator.Amount).String()+" "+btc.Symbol),
		slog.String("bob_sent", eth.FormatAmount(final.Follower.Amount).String()+" "+eth.Symbol),
		slog.String("btc_redeem_tx", final.Initiator.RedeemTx),
		slog.String("eth_redeem_tx", final.Follower.RedeemTx))

	snap := b.Metrics.Snapshot()
	slog.Info("📊 Metrics",
		slog.Uint64("orders_created", snap.OrdersCreated),
		slog.Uint64("verifications_pending", snap.VerificationsPending),
		slog.Int64("avg_verify_latency_ns", snap.AvgVerifyLatencyNs))
	return nil
}
