// Package outbox persists fleet carrier cargo deltas that could not be
// delivered and replays them with backoff once the service is reachable
// again. Without it a dropped delta would silently skew the carrier's
// server-side cargo until the next full snapshot.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"colonybridge/internal/model"
)

// Delivery is one deferred cargo delta for one carrier.
type Delivery struct {
	ID            string
	MarketID      int64
	Diff          map[string]int
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
}

// Store is the persistence boundary. Memory for ephemeral runs, SQLite when
// deltas must survive a restart.
type Store interface {
	// Enqueue records a new delivery due immediately.
	Enqueue(ctx context.Context, marketID int64, diff map[string]int) (string, error)
	// FetchDue returns up to limit deliveries whose next attempt is due.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]Delivery, error)
	// Delete removes a delivery after success or exhaustion.
	Delete(ctx context.Context, id string) error
	// Fail reschedules a delivery after a failed attempt.
	Fail(ctx context.Context, id string, attempts int, nextAt time.Time, lastErr string) error
	// Pending counts deliveries still waiting.
	Pending(ctx context.Context) (int, error)
	Close() error
}

func newDelivery(marketID int64, diff map[string]int, now time.Time) Delivery {
	return Delivery{
		ID:            uuid.New().String(),
		MarketID:      marketID,
		Diff:          model.CloneCargo(diff),
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}
