package engine

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"go.uber.org/zap"

	"colonybridge/internal/journal"
	"colonybridge/internal/model"
)

// sitePrefixes are the generic construction site name prefixes stripped when
// a build completes and gets its final station name.
var sitePrefixes = []string{
	"Planetary Construction Site: ",
	"Orbital Construction Site: ",
}

// DepotNeeds reduces a depot status to the remaining need per commodity and
// the total required across all entries. Fully supplied commodities are kept
// at zero so the service can distinguish "done" from "never needed"; an
// over-delivered entry clamps to zero rather than going negative.
func DepotNeeds(resources []journal.Resource) (map[string]int, int) {
	needed := map[string]int{}
	maxNeed := 0
	for _, r := range resources {
		if r.RequiredAmount <= 0 {
			continue
		}
		name := journal.CanonicalName(r.Name)
		if name == "" {
			continue
		}
		remaining := r.RequiredAmount - r.ProvidedAmount
		if remaining < 0 {
			remaining = 0
		}
		needed[name] = remaining
		maxNeed += r.RequiredAmount
	}
	return needed, maxNeed
}

// StripSitePrefix returns the build's final name once construction finishes.
func StripSitePrefix(name string) string {
	for _, p := range sitePrefixes {
		if strings.HasPrefix(name, p) {
			return strings.TrimPrefix(name, p)
		}
	}
	return name
}

// onDepotStatus is the core reconciliation step: compare the depot's
// remaining needs against the last snapshot sent this session and push a
// full replacement only when something changed. Receiving the event at all
// proves we are docked at a construction site.
func (t *Tracker) onDepotStatus(ds journal.DepotStatus, live bool) {
	t.mu.Lock()
	if ds.MarketID != 0 {
		t.marketID = ds.MarketID
	}
	if ds.SystemAddress != 0 {
		t.systemAddress = ds.SystemAddress
	}
	t.state = StateDockedConstruction
	cmdr, sysAddr, marketID := t.cmdr, t.systemAddress, t.marketID
	t.mu.Unlock()

	if sysAddr == 0 {
		sysAddr = t.recoverSystemAddress()
	}
	if cmdr == "" {
		t.log.Warn("depot status before commander known, skipping")
		return
	}
	if ds.ConstructionComplete {
		t.onConstructionComplete(sysAddr, marketID, live)
		return
	}
	if ds.ConstructionFailed {
		t.log.Warn("construction failed at depot", zap.Int64("marketId", marketID))
		return
	}

	needed, maxNeed := DepotNeeds(ds.ResourcesRequired)

	t.mu.Lock()
	changed := !maps.Equal(t.lastDepot, needed)
	t.lastDepot = needed
	t.mu.Unlock()

	if !changed {
		t.log.Debug("depot unchanged, not sending", zap.Int64("marketId", marketID))
		return
	}
	if len(needed) == 0 || sysAddr == 0 || marketID == 0 || !live {
		return
	}

	t.log.Info("depot changed", zap.Int64("marketId", marketID),
		zap.Int("commodities", len(needed)), zap.Int("maxNeed", maxNeed),
		zap.Float64("progress", ds.ConstructionProgress))
	t.queue.Enqueue("supply update", func(ctx context.Context) error {
		p, err := t.api.GetProject(ctx, sysAddr, marketID)
		if err != nil {
			if isNotFound(err) {
				t.log.Debug("no project at depot", zap.Int64("marketId", marketID))
				return nil
			}
			return err
		}
		if p.BuildID == "" {
			return nil
		}
		return t.api.UpdateProjectSupply(ctx, p.BuildID, model.SupplyUpdate{
			BuildID:     p.BuildID,
			Commodities: needed,
			MaxNeed:     maxNeed,
		})
	})
}

// onConstructionComplete marks the project finished, once per market per
// session. The game keeps emitting completed depot records on every dock, so
// the latch holds even if the calls fail; a restart retries.
func (t *Tracker) onConstructionComplete(sysAddr, marketID int64, live bool) {
	t.mu.Lock()
	done := t.completed[marketID]
	t.completed[marketID] = true
	t.mu.Unlock()
	if done || sysAddr == 0 || marketID == 0 || !live {
		return
	}

	t.queue.Enqueue("mark complete", func(ctx context.Context) error {
		p, err := t.api.GetProject(ctx, sysAddr, marketID)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if p.BuildID == "" || p.Complete {
			return nil
		}
		finalName := StripSitePrefix(p.BuildName)
		if finalName != p.BuildName {
			if err := t.api.RenameProject(ctx, p.BuildID, finalName); err != nil {
				t.log.Warn("rename on completion failed", zap.String("buildId", p.BuildID), zap.Error(err))
			}
		}
		if err := t.api.MarkProjectComplete(ctx, p.BuildID); err != nil {
			return err
		}
		t.notify("info", fmt.Sprintf("Construction complete: %s", finalName))
		return nil
	})
}
