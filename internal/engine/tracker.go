// Package engine turns the journal record stream into idempotent,
// minimal-diff calls against the colonization service.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"colonybridge/internal/dispatch"
	"colonybridge/internal/journal"
	"colonybridge/internal/metrics"
	"colonybridge/internal/model"
)

// StationState is the explicit dock state machine. Transitions happen only
// inside the tracker; receiving a depot status record is definitive proof of
// being docked at a construction site and forces StateDockedConstruction.
type StationState int

const (
	StateUndocked StationState = iota
	StateDockedStation
	StateDockedCarrier
	StateDockedConstruction
)

func (s StationState) String() string {
	switch s {
	case StateDockedStation:
		return "docked"
	case StateDockedCarrier:
		return "docked-carrier"
	case StateDockedConstruction:
		return "docked-construction"
	default:
		return "undocked"
	}
}

// ProjectAPI is the slice of the service client the tracker needs.
type ProjectAPI interface {
	GetProject(ctx context.Context, systemAddress, marketID int64) (*model.Project, error)
	UpdateProjectSupply(ctx context.Context, buildID string, upd model.SupplyUpdate) error
	ContributeCargo(ctx context.Context, buildID, cmdr string, diff map[string]int) error
	MarkProjectComplete(ctx context.Context, buildID string) error
	RenameProject(ctx context.Context, buildID, name string) error
	SetCredentials(cmdr, key string)
}

// Enqueuer defers a call onto the dispatch queue.
type Enqueuer interface {
	Enqueue(name string, fn dispatch.Task) bool
}

// Notifier is the user-visible status sink.
type Notifier interface {
	Notify(level, message string)
}

// DockRecovery recovers dock state from historical journal files when the
// live session lacks a system address.
type DockRecovery interface {
	LatestDock() (journal.DockInfo, bool)
}

// CarrierHandler receives the carrier-relevant slice of the stream.
type CarrierHandler interface {
	Init(ctx context.Context, cmdr string) error
	HandleDocked(d journal.Docked) bool
	HandleUndocked()
	HandleMarketBuy(t journal.MarketTrade, live bool)
	HandleMarketSell(t journal.MarketTrade, live bool)
	HandleTransfer(tr journal.CargoTransfer, live bool)
	SetStealth(enabled bool)
}

// Tracker holds all session state and classifies inbound records. One
// instance per process, constructed at startup; there are no package
// globals. Handle is called from a single goroutine; the mutex exists for
// the status surface which reads snapshots concurrently.
type Tracker struct {
	api      ProjectAPI
	queue    Enqueuer
	notifier Notifier
	scanner  DockRecovery
	fc       CarrierHandler
	log      *zap.Logger

	apiKey  string
	stealth atomic.Bool

	mu            sync.Mutex
	cmdr          string
	system        string
	station       string
	marketID      int64
	systemAddress int64
	starPos       []float64
	bodyID        int
	bodyName      string
	stationType   string
	factionName   string
	state         StationState
	shipCargo     map[string]int
	lastDepot     map[string]int
	completed     map[int64]bool // market ids whose completion was already handled
	bootstrapped  bool
}

func NewTracker(api ProjectAPI, q Enqueuer, n Notifier, scan DockRecovery, fc CarrierHandler, apiKey string, log *zap.Logger) *Tracker {
	return &Tracker{
		api:       api,
		queue:     q,
		notifier:  n,
		scanner:   scan,
		fc:        fc,
		log:       log.Named("engine"),
		apiKey:    apiKey,
		shipCargo: map[string]int{},
		lastDepot: map[string]int{},
		completed: map[int64]bool{},
	}
}

// SetStealth gates all outbound colonization and carrier traffic.
func (t *Tracker) SetStealth(enabled bool) {
	t.stealth.Store(enabled)
	if t.fc != nil {
		t.fc.SetStealth(enabled)
	}
	t.log.Info("stealth mode", zap.Bool("enabled", enabled))
}

func (t *Tracker) Stealth() bool { return t.stealth.Load() }

// Handle classifies one journal record. Unknown events are ignored; a
// malformed record is logged and skipped, never fatal to the stream.
func (t *Tracker) Handle(rec journal.Record) {
	metrics.JournalEvents.WithLabelValues(rec.Event).Inc()
	live := !rec.Replay

	switch rec.Event {
	case journal.EventLoadGame:
		var lg journal.LoadGame
		if t.decode(rec, &lg) {
			t.onCommander(lg.Commander)
		}
	case journal.EventCommander:
		var c journal.Commander
		if t.decode(rec, &c) {
			t.onCommander(c.Name)
		}
	case journal.EventDocked:
		var d journal.Docked
		if t.decode(rec, &d) {
			t.onDocked(d, live)
		}
	case journal.EventUndocked:
		t.onUndocked(live)
	case journal.EventLocation:
		var l journal.Location
		if t.decode(rec, &l) {
			t.onLocation(l)
		}
	case journal.EventCargo:
		var c journal.Cargo
		if t.decode(rec, &c) {
			t.onCargo(c)
		}
	case journal.EventCargoDepot:
		var cd journal.CargoDepot
		if t.decode(rec, &cd) {
			t.onCargoDepot(cd, live)
		}
	case journal.EventMarket:
		// Market stock snapshots carry no delta information the live
		// buy/sell/transfer events do not already provide.
	case journal.EventMarketBuy:
		var tr journal.MarketTrade
		if t.decode(rec, &tr) {
			t.fc.HandleMarketBuy(tr, live)
		}
	case journal.EventMarketSell:
		var tr journal.MarketTrade
		if t.decode(rec, &tr) {
			t.fc.HandleMarketSell(tr, live)
		}
	case journal.EventTransfer:
		var tr journal.CargoTransfer
		if t.decode(rec, &tr) {
			t.fc.HandleTransfer(tr, live)
		}
	case journal.EventDepotStatus:
		if t.stealth.Load() {
			t.log.Debug("stealth mode, skipping depot status")
			return
		}
		var ds journal.DepotStatus
		if t.decode(rec, &ds) {
			t.onDepotStatus(ds, live)
		}
	case journal.EventContribution:
		if t.stealth.Load() {
			t.log.Debug("stealth mode, skipping contribution")
			return
		}
		var c journal.Contribution
		if t.decode(rec, &c) {
			t.onContribution(c, live)
		}
	}
}

func (t *Tracker) decode(rec journal.Record, v any) bool {
	if err := rec.Decode(v); err != nil {
		t.log.Warn("malformed journal record", zap.String("event", rec.Event), zap.Error(err))
		return false
	}
	return true
}

// Bootstrap seeds the commander identity before any journal record arrives,
// for deployments that configure it explicitly.
func (t *Tracker) Bootstrap(cmdr string) { t.onCommander(cmdr) }

// onCommander wires credentials and kicks off the carrier baseline fetch the
// first time the commander identity appears.
func (t *Tracker) onCommander(name string) {
	if name == "" {
		return
	}
	t.mu.Lock()
	t.cmdr = name
	first := !t.bootstrapped
	t.bootstrapped = true
	t.mu.Unlock()
	if !first {
		return
	}
	t.log.Info("commander identified", zap.String("cmdr", name))
	if t.apiKey != "" {
		t.api.SetCredentials(name, t.apiKey)
	}
	t.queue.Enqueue("carrier baseline", func(ctx context.Context) error {
		return t.fc.Init(ctx, name)
	})
}

func (t *Tracker) onDocked(d journal.Docked, live bool) {
	t.mu.Lock()
	t.marketID = d.MarketID
	t.systemAddress = d.SystemAddress
	if d.StarSystem != "" {
		t.system = d.StarSystem
	}
	if len(d.StarPos) > 0 {
		t.starPos = d.StarPos
	}
	t.station = d.StationName
	t.stationType = d.StationType
	t.bodyID = d.BodyID
	t.bodyName = d.Body
	t.factionName = d.StationFaction.Name
	switch {
	case strings.Contains(d.StationName, "ColonisationShip"):
		t.state = StateDockedConstruction
	case d.StationType == journal.StationTypeCarrier:
		t.state = StateDockedCarrier
	default:
		t.state = StateDockedStation
	}
	t.mu.Unlock()

	t.fc.HandleDocked(d)
	if live {
		t.notify("info", fmt.Sprintf("Docked at %s", d.StationName))
	}
}

func (t *Tracker) onUndocked(live bool) {
	t.mu.Lock()
	station := t.station
	t.state = StateUndocked
	t.marketID = 0
	t.lastDepot = map[string]int{}
	t.mu.Unlock()

	t.fc.HandleUndocked()
	if live {
		t.notify("info", fmt.Sprintf("Undocked from %s", station))
	}
}

func (t *Tracker) onLocation(l journal.Location) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.systemAddress = l.SystemAddress
	if l.StarSystem != "" {
		t.system = l.StarSystem
	}
	if len(l.StarPos) > 0 {
		t.starPos = l.StarPos
	}
	if l.Docked {
		t.marketID = l.MarketID
		t.station = l.StationName
		t.stationType = l.StationType
		t.bodyID = l.BodyID
		t.bodyName = l.Body
		switch {
		case strings.Contains(l.StationName, "ColonisationShip"):
			t.state = StateDockedConstruction
		case l.StationType == journal.StationTypeCarrier:
			t.state = StateDockedCarrier
		default:
			t.state = StateDockedStation
		}
	} else {
		t.state = StateUndocked
		t.marketID = 0
	}
}

func (t *Tracker) onCargo(c journal.Cargo) {
	cargo := make(map[string]int, len(c.Inventory))
	for _, item := range c.Inventory {
		name := journal.CanonicalName(item.Name)
		if name != "" {
			cargo[name] += item.Count
		}
	}
	t.mu.Lock()
	t.shipCargo = cargo
	t.mu.Unlock()
}

// onCargoDepot attributes a mission cargo delivery at a construction depot.
func (t *Tracker) onCargoDepot(cd journal.CargoDepot, live bool) {
	if cd.SubType != "Deliver" || cd.Count <= 0 {
		return
	}
	t.mu.Lock()
	cmdr, sysAddr, marketID := t.cmdr, t.systemAddress, t.marketID
	t.mu.Unlock()
	if cmdr == "" || sysAddr == 0 || marketID == 0 || !live {
		return
	}
	name := journal.CanonicalName(cd.CargoType)
	if name == "" {
		return
	}
	diff := map[string]int{name: cd.Count}
	t.queue.Enqueue("cargo delivery", func(ctx context.Context) error {
		return t.contribute(ctx, sysAddr, marketID, cmdr, diff)
	})
	t.notify("info", fmt.Sprintf("Delivered %dx %s", cd.Count, name))
}

// contribute resolves the project at a location and attributes a delivery.
// No project there yet is an expected outcome, not an error.
func (t *Tracker) contribute(ctx context.Context, sysAddr, marketID int64, cmdr string, diff map[string]int) error {
	p, err := t.api.GetProject(ctx, sysAddr, marketID)
	if err != nil {
		if isNotFound(err) {
			t.log.Debug("no project at location", zap.Int64("systemAddress", sysAddr), zap.Int64("marketId", marketID))
			return nil
		}
		return err
	}
	if p.BuildID == "" {
		return nil
	}
	return t.api.ContributeCargo(ctx, p.BuildID, cmdr, diff)
}

// recoverSystemAddress falls back to the historical journal scan. Caller
// must not hold t.mu.
func (t *Tracker) recoverSystemAddress() int64 {
	info, ok := t.scanner.LatestDock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.systemAddress == 0 {
		t.systemAddress = info.SystemAddress
		if t.system == "" {
			t.system = info.StarSystem
		}
		if t.starPos == nil {
			t.starPos = info.StarPos
		}
	}
	return t.systemAddress
}

func (t *Tracker) notify(level, msg string) {
	if t.notifier != nil {
		t.notifier.Notify(level, msg)
	}
}

// State returns the current dock state.
func (t *Tracker) State() StationState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Snapshot summarizes the session for the status surface.
func (t *Tracker) Snapshot() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]any{
		"cmdr":          t.cmdr,
		"system":        t.system,
		"station":       t.station,
		"body":          t.bodyName,
		"faction":       t.factionName,
		"stationType":   t.stationType,
		"marketId":      t.marketID,
		"systemAddress": t.systemAddress,
		"state":         t.state.String(),
		"stealth":       t.stealth.Load(),
		"depotTracked":  len(t.lastDepot),
		"shipCargo":     len(t.shipCargo),
	}
}
