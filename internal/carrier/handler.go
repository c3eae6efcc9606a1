// Package carrier tracks fleet carrier cargo and mirrors changes to the
// remote service as signed deltas.
package carrier

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"colonybridge/internal/dispatch"
	"colonybridge/internal/journal"
	"colonybridge/internal/model"
)

// API is the slice of the service client the carrier handler needs.
type API interface {
	ListCommanderCarriers(ctx context.Context, cmdr string) ([]model.Carrier, error)
	SupplyCarrier(ctx context.Context, marketID int64, diff map[string]int) (map[string]int, error)
	ReplaceCarrierCargo(ctx context.Context, marketID int64, cargo map[string]int) (map[string]int, error)
}

// Enqueuer defers a call onto the dispatch queue.
type Enqueuer interface {
	Enqueue(name string, fn dispatch.Task) bool
}

// Deferrer records a cargo delta that could not be delivered so it can be
// replayed later.
type Deferrer interface {
	DeferDelta(marketID int64, diff map[string]int)
}

// Handler reconciles carrier cargo. Dock state and the linked-carrier cache
// are mutated on the journal path; the cache is additionally updated from the
// worker after a successful call, so everything shared sits behind mu.
type Handler struct {
	api   API
	queue Enqueuer
	defr  Deferrer
	log   *zap.Logger

	stealth atomic.Bool
	inited  atomic.Bool

	mu          sync.Mutex
	linked      map[int64]*model.Carrier
	snapshotted map[int64]bool // one-shot latch per carrier per process
	stationType string
	marketID    int64
}

func NewHandler(api API, q Enqueuer, d Deferrer, log *zap.Logger) *Handler {
	return &Handler{
		api:         api,
		queue:       q,
		defr:        d,
		log:         log.Named("carrier"),
		linked:      map[int64]*model.Carrier{},
		snapshotted: map[int64]bool{},
	}
}

// SetStealth toggles suppression of outbound carrier calls. Dock tracking
// continues either way.
func (h *Handler) SetStealth(enabled bool) {
	h.stealth.Store(enabled)
	if enabled {
		h.log.Info("stealth mode enabled, carrier cargo will not be sent")
	} else {
		h.log.Info("stealth mode disabled")
	}
}

func (h *Handler) Stealth() bool { return h.stealth.Load() }

// Init loads the server-side cargo baseline for the commander's linked
// carriers. Runs once per process; later calls are no-ops.
func (h *Handler) Init(ctx context.Context, cmdr string) error {
	if h.inited.Swap(true) {
		return nil
	}
	fcs, err := h.api.ListCommanderCarriers(ctx, cmdr)
	if err != nil {
		h.inited.Store(false)
		return fmt.Errorf("list carriers: %w", err)
	}
	h.mu.Lock()
	for i := range fcs {
		fc := fcs[i]
		if fc.Cargo == nil {
			fc.Cargo = map[string]int{}
		}
		h.linked[fc.MarketID] = &fc
	}
	n := len(h.linked)
	h.mu.Unlock()
	if n == 0 {
		h.log.Info("no linked fleet carriers for commander", zap.String("cmdr", cmdr))
	} else {
		h.log.Info("loaded linked fleet carriers", zap.String("cmdr", cmdr), zap.Int("count", n))
	}
	return nil
}

// Initialized reports whether the baseline fetch has completed.
func (h *Handler) Initialized() bool { return h.inited.Load() }

// HandleDocked records the dock location. Returns true when the station is a
// fleet carrier.
func (h *Handler) HandleDocked(d journal.Docked) bool {
	h.mu.Lock()
	h.stationType = d.StationType
	h.marketID = d.MarketID
	_, isLinked := h.linked[d.MarketID]
	h.mu.Unlock()

	if d.StationType != journal.StationTypeCarrier {
		return false
	}
	if isLinked {
		h.log.Info("docked at linked fleet carrier", zap.String("station", d.StationName), zap.Int64("marketId", d.MarketID))
	} else {
		h.log.Info("docked at unlinked fleet carrier", zap.String("station", d.StationName), zap.Int64("marketId", d.MarketID))
	}
	return true
}

// HandleUndocked clears the dock location.
func (h *Handler) HandleUndocked() {
	h.mu.Lock()
	h.stationType = ""
	h.marketID = 0
	h.mu.Unlock()
}

// atLinkedCarrier returns the current market id when docked at a linked
// carrier and cleared to send.
func (h *Handler) atLinkedCarrier() (int64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stationType != journal.StationTypeCarrier {
		return 0, false
	}
	if _, ok := h.linked[h.marketID]; !ok {
		return 0, false
	}
	return h.marketID, true
}

// HandleMarketBuy mirrors a purchase from the carrier: its stock drops.
func (h *Handler) HandleMarketBuy(t journal.MarketTrade, live bool) {
	h.trade(t, -t.Count, live, "buy")
}

// HandleMarketSell mirrors a sale to the carrier: its stock grows.
func (h *Handler) HandleMarketSell(t journal.MarketTrade, live bool) {
	h.trade(t, t.Count, live, "sell")
}

func (h *Handler) trade(t journal.MarketTrade, delta int, live bool, kind string) {
	marketID, ok := h.atLinkedCarrier()
	if !ok || marketID != t.MarketID {
		return
	}
	if !live || h.stealth.Load() || delta == 0 {
		return
	}
	name := journal.CanonicalName(t.Type)
	if name == "" {
		return
	}
	h.log.Info("carrier trade", zap.String("kind", kind), zap.String("commodity", name),
		zap.Int("delta", delta), zap.Int64("marketId", marketID))
	h.supplyAsync(marketID, map[string]int{name: delta})
}

// HandleTransfer merges the line items of one transfer event into a single
// delta per commodity before sending: tocarrier adds, toship subtracts.
func (h *Handler) HandleTransfer(tr journal.CargoTransfer, live bool) {
	marketID, ok := h.atLinkedCarrier()
	if !ok || !live || h.stealth.Load() {
		return
	}
	diff := map[string]int{}
	for _, line := range tr.Transfers {
		name := journal.CanonicalName(line.Type)
		if name == "" || line.Count == 0 {
			continue
		}
		switch line.Direction {
		case "tocarrier":
			diff[name] += line.Count
		case "toship":
			diff[name] -= line.Count
		}
	}
	for name, d := range diff {
		if d == 0 {
			delete(diff, name)
		}
	}
	if len(diff) == 0 {
		return
	}
	h.log.Info("carrier cargo transfer", zap.Int64("marketId", marketID), zap.Int("commodities", len(diff)))
	h.supplyAsync(marketID, diff)
}

// ApplySnapshot applies a lagging out-of-band cargo snapshot with replace
// semantics, at most once per carrier per process. By the time a second one
// arrives, live deltas are the more accurate source and it is discarded.
func (h *Handler) ApplySnapshot(marketID int64, cargo map[string]int) bool {
	h.mu.Lock()
	if _, ok := h.linked[marketID]; !ok {
		h.mu.Unlock()
		h.log.Debug("snapshot for unlinked carrier ignored", zap.Int64("marketId", marketID))
		return false
	}
	if h.snapshotted[marketID] {
		h.mu.Unlock()
		h.log.Info("ignoring repeat cargo snapshot, live deltas take precedence", zap.Int64("marketId", marketID))
		return false
	}
	h.snapshotted[marketID] = true
	h.mu.Unlock()

	if h.stealth.Load() {
		return false
	}
	snap := model.CloneCargo(cargo)
	h.log.Info("applying initial cargo snapshot", zap.Int64("marketId", marketID), zap.Int("commodities", len(snap)))
	h.queue.Enqueue("carrier cargo snapshot", func(ctx context.Context) error {
		updated, err := h.api.ReplaceCarrierCargo(ctx, marketID, snap)
		if err != nil {
			return fmt.Errorf("replace carrier %d cargo: %w", marketID, err)
		}
		h.setCargo(marketID, updated)
		return nil
	})
	return true
}

// supplyAsync sends one incremental delta from the worker. The local cache
// changes only after the service confirms; a failed delta goes to the outbox
// so it is not lost.
func (h *Handler) supplyAsync(marketID int64, diff map[string]int) {
	diff = model.CloneCargo(diff)
	h.queue.Enqueue("carrier cargo update", func(ctx context.Context) error {
		updated, err := h.api.SupplyCarrier(ctx, marketID, diff)
		if err != nil {
			if h.defr != nil {
				h.defr.DeferDelta(marketID, diff)
			}
			return fmt.Errorf("supply carrier %d: %w", marketID, err)
		}
		h.setCargo(marketID, updated)
		return nil
	})
}

// setCargo installs the server's view of a carrier's cargo. Called from the
// dispatch worker and the outbox worker.
func (h *Handler) setCargo(marketID int64, cargo map[string]int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fc, ok := h.linked[marketID]; ok {
		fc.Cargo = model.CloneCargo(cargo)
	}
}

// ApplyCargo is the outbox worker's path into the cache after a successful
// replay.
func (h *Handler) ApplyCargo(marketID int64, cargo map[string]int) {
	h.setCargo(marketID, cargo)
}

// CargoOf returns a copy of the cached cargo for one carrier.
func (h *Handler) CargoOf(marketID int64) (map[string]int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fc, ok := h.linked[marketID]
	if !ok {
		return nil, false
	}
	return model.CloneCargo(fc.Cargo), true
}

// Summary describes the linked carriers for the status surface.
func (h *Handler) Summary() []map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]map[string]any, 0, len(h.linked))
	for id, fc := range h.linked {
		total := 0
		for _, n := range fc.Cargo {
			total += n
		}
		name := fc.DisplayName
		if name == "" {
			name = fc.Name
		}
		out = append(out, map[string]any{
			"marketId":    id,
			"name":        name,
			"commodities": len(fc.Cargo),
			"totalUnits":  total,
			"snapshotted": h.snapshotted[id],
		})
	}
	return out
}
