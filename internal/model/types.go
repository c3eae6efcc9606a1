package model

// Core domain types shared between the engine and the API client.

// Project is a colonization build tracked by the remote service. The bridge
// never creates projects, it only reads them and reports against them.
type Project struct {
	BuildID       string `json:"buildId"`
	BuildName     string `json:"buildName,omitempty"`
	SystemAddress int64  `json:"systemAddress,omitempty"`
	MarketID      int64  `json:"marketId,omitempty"`
	SystemName    string `json:"systemName,omitempty"`
	BodyName      string `json:"bodyName,omitempty"`
	BodyID        int    `json:"bodyId,omitempty"`
	Architect     string `json:"architect,omitempty"`
	BuildType     string `json:"buildType,omitempty"`
	IsPrimary     bool   `json:"isPrimary,omitempty"`
	Complete      bool   `json:"complete,omitempty"`
}

// Carrier mirrors the remote service's last known state for a linked fleet
// carrier. Cargo maps canonical commodity name to quantity.
type Carrier struct {
	MarketID    int64          `json:"marketId"`
	Name        string         `json:"name,omitempty"`
	DisplayName string         `json:"displayName,omitempty"`
	Cargo       map[string]int `json:"cargo,omitempty"`
}

// SupplyUpdate is the full remaining-need snapshot posted to a project when
// the depot state changes.
type SupplyUpdate struct {
	BuildID     string         `json:"buildId"`
	Commodities map[string]int `json:"commodities"`
	MaxNeed     int            `json:"maxNeed"`
}

// CloneCargo returns a copy of a commodity->quantity map. Deltas and
// snapshots cross goroutine boundaries, so callers copy at the edge.
func CloneCargo(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
