// Package journal parses the game's append-only JSON journal and recovers
// dock state from historical files when the live session is missing it.
package journal

import (
	"encoding/json"
	"strings"
)

// Event names the bridge reacts to. Anything else is ignored.
const (
	EventDocked       = "Docked"
	EventUndocked     = "Undocked"
	EventLocation     = "Location"
	EventLoadGame     = "LoadGame"
	EventCommander    = "Commander"
	EventCargo        = "Cargo"
	EventCargoDepot   = "CargoDepot"
	EventMarket       = "Market"
	EventMarketBuy    = "MarketBuy"
	EventMarketSell   = "MarketSell"
	EventTransfer     = "CargoTransfer"
	EventDepotStatus  = "ColonisationConstructionDepot"
	EventContribution = "ColonisationContribution"
)

// StationTypeCarrier is the StationType reported when docked at a fleet carrier.
const StationTypeCarrier = "FleetCarrier"

// Record is one journal line: the event discriminator plus the raw payload,
// decoded on demand into the event-specific struct.
type Record struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`

	// Replay marks records re-read from an existing journal file after a
	// bridge restart: state is rebuilt from them but no updates are sent.
	Replay bool `json:"-"`

	raw json.RawMessage
}

// Parse decodes a single journal line. Lines that are not JSON objects or
// lack an event field yield an error; the caller skips them.
func Parse(line []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return Record{}, err
	}
	r.raw = append(json.RawMessage(nil), line...)
	return r, nil
}

// Decode unmarshals the full record into an event-specific struct. Missing
// fields keep their zero values; the handlers treat those as absent.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.raw, v)
}

type Docked struct {
	StationName    string     `json:"StationName"`
	StationType    string     `json:"StationType"`
	MarketID       int64      `json:"MarketID"`
	SystemAddress  int64      `json:"SystemAddress"`
	StarSystem     string     `json:"StarSystem"`
	StarPos        []float64  `json:"StarPos"`
	BodyID         int        `json:"BodyID"`
	Body           string     `json:"Body"`
	StationFaction NamedThing `json:"StationFaction"`
}

type NamedThing struct {
	Name string `json:"Name"`
}

type Location struct {
	SystemAddress int64     `json:"SystemAddress"`
	StarSystem    string    `json:"StarSystem"`
	StarPos       []float64 `json:"StarPos"`
	Docked        bool      `json:"Docked"`
	MarketID      int64     `json:"MarketID"`
	StationName   string    `json:"StationName"`
	StationType   string    `json:"StationType"`
	BodyID        int       `json:"BodyID"`
	Body          string    `json:"Body"`
}

type LoadGame struct {
	Commander string `json:"Commander"`
}

type Commander struct {
	Name string `json:"Name"`
}

type Cargo struct {
	Inventory []CargoItem `json:"Inventory"`
}

type CargoItem struct {
	Name  string `json:"Name"`
	Count int    `json:"Count"`
}

type CargoDepot struct {
	MissionID int64  `json:"MissionID"`
	SubType   string `json:"SubType"`
	CargoType string `json:"Type"`
	Count     int    `json:"Count"`
}

type MarketTrade struct {
	MarketID int64  `json:"MarketID"`
	Type     string `json:"Type"`
	Count    int    `json:"Count"`
}

type CargoTransfer struct {
	Transfers []TransferLine `json:"Transfers"`
}

type TransferLine struct {
	Type      string `json:"Type"`
	Count     int    `json:"Count"`
	Direction string `json:"Direction"` // "tocarrier" or "toship"
}

type MarketInfo struct {
	MarketID    int64  `json:"MarketID"`
	StationType string `json:"StationType"`
}

type DepotStatus struct {
	MarketID             int64      `json:"MarketID"`
	SystemAddress        int64      `json:"SystemAddress"`
	ConstructionProgress float64    `json:"ConstructionProgress"`
	ConstructionComplete bool       `json:"ConstructionComplete"`
	ConstructionFailed   bool       `json:"ConstructionFailed"`
	ResourcesRequired    []Resource `json:"ResourcesRequired"`
}

type Resource struct {
	Name           string `json:"Name"`
	RequiredAmount int    `json:"RequiredAmount"`
	ProvidedAmount int    `json:"ProvidedAmount"`
}

type Contribution struct {
	Contributions []ContributionLine `json:"Contributions"`
}

type ContributionLine struct {
	Name   string `json:"Name"`
	Amount int    `json:"Amount"`
}

// CanonicalName strips the game's localization markup from a commodity
// identifier: "$gold_name;" -> "gold". Lower-casing gives a stable key
// regardless of which event variant produced the name.
func CanonicalName(name string) string {
	name = strings.TrimPrefix(name, "$")
	name = strings.TrimSuffix(name, "_name;")
	name = strings.TrimSuffix(name, "_name")
	return strings.ToLower(name)
}
