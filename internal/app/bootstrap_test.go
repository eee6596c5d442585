package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"swapbook/internal/domain"
	"swapbook/internal/infra"
)

func testConfig(t *testing.T, driver string) *infra.Config {
	t.Helper()
	cfg := infra.DefaultConfig()
	cfg.Storage.Driver = driver
	cfg.Storage.Path = filepath.Join(t.TempDir(), "swapbook.db")
	cfg.Logging.Dir = ""
	return cfg
}

func TestWire(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			b := NewBootstrap()
			if err := b.Wire(ctx, testConfig(t, driver)); err != nil {
				t.Fatalf("Wire failed: %v", err)
			}
			stop := b.StartBackground()
			defer stop()

			id, err := b.Book.CreateOrder(ctx, "alice", 10, 20, domain.ChainBitcoin, domain.ChainArbitrum)
			if err != nil {
				t.Fatalf("CreateOrder failed: %v", err)
			}

			req := httptest.NewRequest(http.MethodGet, "/v1/orders/0", nil)
			w := httptest.NewRecorder()
			b.Router.ServeHTTP(w, req)
			if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"creator":"alice"`) {
				t.Errorf("Expected order %d over HTTP, got %d: %s", id, w.Code, w.Body.String())
			}

			deadline := time.Now().Add(2 * time.Second)
			for b.Metrics.Snapshot().EventsDelivered == 0 {
				if time.Now().After(deadline) {
					t.Fatal("create event was never delivered")
				}
				time.Sleep(5 * time.Millisecond)
			}
		})
	}
}

func TestWireResumesIDsAfterRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, "sqlite")

	first := NewBootstrap()
	if err := first.Wire(ctx, cfg); err != nil {
		t.Fatalf("Wire failed: %v", err)
	}
	stop := first.StartBackground()
	for i := 0; i < 3; i++ {
		if _, err := first.Book.CreateOrder(ctx, "alice", 1, 1, domain.ChainBitcoin, domain.ChainEthereum); err != nil {
			t.Fatalf("CreateOrder failed: %v", err)
		}
	}
	if err := first.Book.CancelOrder(ctx, 2, "alice"); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	stop()

	second := NewBootstrap()
	if err := second.Wire(ctx, cfg); err != nil {
		t.Fatalf("Wire after restart failed: %v", err)
	}
	stop = second.StartBackground()
	defer stop()

	id, err := second.Book.CreateOrder(ctx, "alice", 1, 1, domain.ChainBitcoin, domain.ChainEthereum)
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if id != 3 {
		t.Errorf("Expected id 3 after restart, got %d", id)
	}
}

func TestInitializeRejectsBadConfig(t *testing.T) {
	t.Setenv("SWAPBOOK_LOG_LEVEL", "loud")
	if err := NewBootstrap().Initialize(context.Background(), filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Error("Expected invalid log level to fail bootstrapping")
	}
}
