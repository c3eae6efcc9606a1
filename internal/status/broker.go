// Package status is the bridge's operator surface: health, metrics, session
// state, carrier snapshots and a live notice feed replacing the host GUI the
// engine no longer has.
package status

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notice is one user-visible message from the engine.
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Broker fans notices out to feed subscribers.
type Broker interface {
	Publish(n Notice)
	// Subscribe returns a notice channel and a cancel func. The channel is
	// closed after cancel or when the broker shuts down.
	Subscribe(ctx context.Context) (<-chan Notice, func())
	Close() error
}

// MemoryBroker fans out in process. Slow subscribers drop notices rather
// than block the publisher.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[chan Notice]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: map[chan Notice]struct{}{}}
}

func (b *MemoryBroker) Publish(n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (b *MemoryBroker) Subscribe(ctx context.Context) (<-chan Notice, func()) {
	ch := make(chan Notice, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, cancel
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	return nil
}

const redisChannel = "colonybridge:status"

// RedisBroker mirrors notices through a Redis channel so several bridge
// frontends can share one feed.
type RedisBroker struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisBroker(redisURL string, log *zap.Logger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisBroker{rdb: redis.NewClient(opt), log: log.Named("redis")}, nil
}

func (b *RedisBroker) Publish(n Notice) {
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.rdb.Publish(ctx, redisChannel, data).Err(); err != nil {
		b.log.Warn("publish notice", zap.Error(err))
	}
}

func (b *RedisBroker) Subscribe(ctx context.Context) (<-chan Notice, func()) {
	sub := b.rdb.Subscribe(ctx, redisChannel)
	ch := make(chan Notice, 16)
	done := make(chan struct{})
	go func() {
		defer close(ch)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var n Notice
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					continue
				}
				select {
				case ch <- n:
				default:
				}
			}
		}
	}()
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			sub.Close()
		})
	}
	return ch, cancel
}

func (b *RedisBroker) Close() error { return b.rdb.Close() }
