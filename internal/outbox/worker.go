package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"colonybridge/internal/metrics"
)

// CargoSupplier delivers one cargo delta and returns the carrier's updated
// cargo as confirmed by the service.
type CargoSupplier interface {
	SupplyCarrier(ctx context.Context, marketID int64, diff map[string]int) (map[string]int, error)
}

// CacheApplier receives the confirmed cargo after a successful replay.
type CacheApplier interface {
	ApplyCargo(marketID int64, cargo map[string]int)
}

// Worker replays deferred deliveries on a ticker with exponential backoff.
type Worker struct {
	store       Store
	api         CargoSupplier
	cache       CacheApplier
	log         *zap.Logger
	interval    time.Duration
	maxAttempts int
}

func NewWorker(store Store, api CargoSupplier, cache CacheApplier, interval time.Duration, maxAttempts int, log *zap.Logger) *Worker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Worker{
		store:       store,
		api:         api,
		cache:       cache,
		log:         log.Named("outbox"),
		interval:    interval,
		maxAttempts: maxAttempts,
	}
}

// SetCache installs the cache applier after construction. The carrier
// handler and the worker reference each other, so one side is wired late.
// Must be called before Run.
func (w *Worker) SetCache(c CacheApplier) { w.cache = c }

// DeferDelta records a delta for later replay. Called from the dispatch
// worker when a live carrier update fails.
func (w *Worker) DeferDelta(marketID int64, diff map[string]int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := w.store.Enqueue(ctx, marketID, diff)
	if err != nil {
		w.log.Error("failed to defer carrier delta", zap.Int64("marketId", marketID), zap.Error(err))
		return
	}
	metrics.OutboxDeliveries.WithLabelValues("deferred").Inc()
	w.log.Info("deferred carrier delta", zap.String("id", id), zap.Int64("marketId", marketID), zap.Int("commodities", len(diff)))
}

// Run drives the replay loop until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	due, err := w.store.FetchDue(ctx, time.Now(), 50)
	if err != nil {
		w.log.Error("fetch due deliveries", zap.Error(err))
		return
	}
	for _, d := range due {
		w.attempt(ctx, d)
	}
}

func (w *Worker) attempt(ctx context.Context, d Delivery) {
	cargo, err := w.api.SupplyCarrier(ctx, d.MarketID, d.Diff)
	if err == nil {
		if w.cache != nil {
			w.cache.ApplyCargo(d.MarketID, cargo)
		}
		if err := w.store.Delete(ctx, d.ID); err != nil {
			w.log.Error("delete replayed delivery", zap.String("id", d.ID), zap.Error(err))
		}
		metrics.OutboxDeliveries.WithLabelValues("ok").Inc()
		w.log.Info("replayed carrier delta", zap.String("id", d.ID), zap.Int64("marketId", d.MarketID))
		return
	}

	attempts := d.Attempts + 1
	if attempts >= w.maxAttempts {
		metrics.OutboxDeliveries.WithLabelValues("dead").Inc()
		w.log.Error("giving up on carrier delta", zap.String("id", d.ID),
			zap.Int64("marketId", d.MarketID), zap.Int("attempts", attempts), zap.Error(err))
		if derr := w.store.Delete(ctx, d.ID); derr != nil {
			w.log.Error("delete exhausted delivery", zap.String("id", d.ID), zap.Error(derr))
		}
		return
	}
	next := time.Now().Add(nextBackoff(attempts))
	if ferr := w.store.Fail(ctx, d.ID, attempts, next, err.Error()); ferr != nil {
		w.log.Error("reschedule delivery", zap.String("id", d.ID), zap.Error(ferr))
	}
	metrics.OutboxDeliveries.WithLabelValues("retry").Inc()
	w.log.Warn("carrier delta replay failed", zap.String("id", d.ID),
		zap.Int("attempts", attempts), zap.Time("nextAttempt", next), zap.Error(err))
}

// nextBackoff doubles per attempt, capped at an hour.
func nextBackoff(attempts int) time.Duration {
	if attempts > 12 {
		attempts = 12
	}
	d := time.Duration(1<<attempts) * time.Second
	if d > time.Hour {
		d = time.Hour
	}
	return d
}
