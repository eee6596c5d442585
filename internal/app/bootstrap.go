package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"swapbook/internal/api"
	"swapbook/internal/domain"
	"swapbook/internal/engine"
	"swapbook/internal/event"
	"swapbook/internal/infra"
	"swapbook/internal/infra/notify"
	"swapbook/internal/infra/storage"
	"swapbook/internal/service"
	"swapbook/internal/verifier"

	"github.com/gin-gonic/gin"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Metrics    *infra.Metrics
	Chains     *domain.ChainRegistry
	Store      domain.OrderStore
	Chain      *verifier.Simulated
	Dispatcher *event.Dispatcher
	Hub        *notify.Hub
	Book       *service.OrderBook
	Retrier    *service.Retrier
	Router     *gin.Engine

	closeStore func() error
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads the config at path, installs the logger and wires every
// component.
func (b *Bootstrap) Initialize(ctx context.Context, path string) error {
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return err
	}
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("🚀 Bootstrapping swapbook...", slog.String("version", cfg.App.Version))

	return b.Wire(ctx, cfg)
}

// Wire builds the component graph from cfg without touching the default logger.
func (b *Bootstrap) Wire(ctx context.Context, cfg *infra.Config) error {
	b.Config = cfg
	b.Metrics = &infra.Metrics{}
	b.Chains = cfg.ChainRegistry()

	// 1. Storage
	switch cfg.Storage.Driver {
	case "memory":
		b.Store = storage.NewMemory()
		b.closeStore = func() error { return nil }
	default:
		db, err := storage.NewSQLite(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		b.Store = db
		b.closeStore = db.Close
	}
	slog.Info("✅ Order store ready", slog.String("driver", cfg.Storage.Driver))

	// 2. Id allocator resumes after the highest id ever issued
	ids, err := engine.NewAllocatorFromStore(ctx, b.Store)
	if err != nil {
		b.closeStore()
		return fmt.Errorf("restore id allocator: %w", err)
	}

	// 3. Chain verifier
	b.Chain = verifier.NewSimulated()
	swapVerifier := verifier.NewRateLimited(b.Chain, cfg.Verifier.RatePerSecond, cfg.Verifier.Burst)

	// 4. Events
	b.Hub = notify.NewHub(b.Metrics)
	b.Dispatcher = event.NewDispatcher(event.DispatcherConfig{
		Buffer:     cfg.Engine.EventBuffer,
		MaxRetries: cfg.Engine.EventRetries,
	}, b.Metrics, event.LogSink{Logger: slog.Default()}, b.Hub)

	// 5. Order book
	b.Book = service.NewOrderBook(b.Store, ids, engine.NewStateMachine(b.Chains), swapVerifier, b.Dispatcher, b.Metrics, service.Options{
		VerifyTimeout: cfg.Engine.VerifyTimeout,
		MaxCASRetries: cfg.Engine.MaxCASRetries,
	})
	b.Retrier = service.NewRetrier(b.Book, service.RetryConfig{
		InitialInterval: cfg.Verifier.RetryInitial,
		MaxInterval:     cfg.Verifier.RetryMax,
		MaxElapsedTime:  cfg.Verifier.RetryMaxElapsed,
	})

	// 6. HTTP
	gin.SetMode(gin.ReleaseMode)
	b.Router = api.NewRouter(api.NewHandler(b.Book, b.Retrier, b.Chains, b.Metrics, b.Hub))
	slog.Info("✅ Order book wired", slog.Int("chains", len(b.Chains.Chains())))
	return nil
}

// StartBackground runs the dispatcher and hub loops. The returned stop
// function drains pending events, stops the hub and closes the store.
func (b *Bootstrap) StartBackground() (stop func()) {
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	hubCtx, stopHub := context.WithCancel(context.Background())

	go b.Hub.Run(hubCtx)
	go b.Dispatcher.Run(dispatchCtx)

	return func() {
		stopDispatch()
		<-b.Dispatcher.Done()
		stopHub()
		if err := b.closeStore(); err != nil {
			slog.Error("Failed to close order store", slog.Any("error", err))
		}
	}
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (b *Bootstrap) Run(ctx context.Context) error {
	stop := b.StartBackground()
	defer stop()

	srv := &http.Server{
		Addr:              b.Config.HTTP.Addr,
		Handler:           b.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("🌐 HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("👋 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), b.Config.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
