package engine

import (
	"context"
	"errors"
	"fmt"

	"colonybridge/internal/journal"
	"colonybridge/internal/rcapi"
)

// onContribution accumulates the line items of one colonization contribution
// event into a per-commodity total and attributes it to the commander. The
// service treats the amounts as monotonic increments, so only positive lines
// count; the depot snapshot path handles corrections.
func (t *Tracker) onContribution(c journal.Contribution, live bool) {
	t.mu.Lock()
	cmdr, sysAddr, marketID := t.cmdr, t.systemAddress, t.marketID
	t.mu.Unlock()

	if cmdr == "" {
		t.log.Warn("contribution before commander known, skipping")
		return
	}
	if sysAddr == 0 {
		sysAddr = t.recoverSystemAddress()
	}
	if sysAddr == 0 || marketID == 0 {
		t.log.Warn("contribution without dock location, skipping")
		return
	}

	diff := map[string]int{}
	total := 0
	for _, line := range c.Contributions {
		if line.Amount <= 0 {
			continue
		}
		name := journal.CanonicalName(line.Name)
		if name == "" {
			continue
		}
		diff[name] += line.Amount
		total += line.Amount
	}
	if len(diff) == 0 || !live {
		return
	}

	t.queue.Enqueue("contribution", func(ctx context.Context) error {
		return t.contribute(ctx, sysAddr, marketID, cmdr, diff)
	})
	t.notify("info", fmt.Sprintf("Contributed %d units across %d commodities", total, len(diff)))
}

func isNotFound(err error) bool {
	return errors.Is(err, rcapi.ErrNotFound)
}
