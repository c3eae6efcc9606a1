package engine

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"colonybridge/internal/journal"
	"colonybridge/internal/model"
)

func TestDepotNeeds(t *testing.T) {
	needed, maxNeed := DepotNeeds([]journal.Resource{
		{Name: "$steel_name;", RequiredAmount: 100, ProvidedAmount: 40},
		{Name: "$gold_name;", RequiredAmount: 50, ProvidedAmount: 50},
		{Name: "$titanium_name;", RequiredAmount: 20, ProvidedAmount: 35}, // over-delivered
		{Name: "$ceramiccomposites_name;", RequiredAmount: 0, ProvidedAmount: 0},
	})

	want := map[string]int{
		"steel":    60,
		"gold":     0, // fully supplied stays present at zero
		"titanium": 0, // clamped, never negative
	}
	if diff := cmp.Diff(want, needed); diff != "" {
		t.Fatalf("needs mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 170, maxNeed)
}

func TestStripSitePrefix(t *testing.T) {
	assert.Equal(t, "Foo Hub", StripSitePrefix("Planetary Construction Site: Foo Hub"))
	assert.Equal(t, "Bar Port", StripSitePrefix("Orbital Construction Site: Bar Port"))
	assert.Equal(t, "Already Named", StripSitePrefix("Already Named"))
}

const depotSteel40 = `{"event":"ColonisationConstructionDepot","MarketID":303,"SystemAddress":7,"ConstructionProgress":0.4,"ResourcesRequired":[{"Name":"$steel_name;","RequiredAmount":100,"ProvidedAmount":40}]}`
const depotSteel60 = `{"event":"ColonisationConstructionDepot","MarketID":303,"SystemAddress":7,"ConstructionProgress":0.6,"ResourcesRequired":[{"Name":"$steel_name;","RequiredAmount":100,"ProvidedAmount":60}]}`

func TestDepotDiffSendsOnlyOnChange(t *testing.T) {
	api := &fakeAPI{project: &model.Project{BuildID: "b1"}}
	tr, _, _, _ := newTestTracker(api)
	tr.Handle(rec(t, `{"event":"LoadGame","Commander":"Jameson"}`))

	tr.Handle(rec(t, depotSteel40))
	tr.Handle(rec(t, depotSteel40))
	tr.Handle(rec(t, depotSteel40))
	require.Len(t, api.supplies, 1, "identical depot records must send once")
	assert.Equal(t, map[string]int{"steel": 60}, api.supplies[0].Commodities)
	assert.Equal(t, 100, api.supplies[0].MaxNeed)
	assert.Equal(t, "b1", api.supplies[0].BuildID)

	tr.Handle(rec(t, depotSteel60))
	require.Len(t, api.supplies, 2)
	assert.Equal(t, map[string]int{"steel": 40}, api.supplies[1].Commodities)
}

func TestDepotForcesConstructionState(t *testing.T) {
	tr, _, _, _ := newTestTracker(&fakeAPI{})
	tr.Handle(rec(t, `{"event":"LoadGame","Commander":"Jameson"}`))
	tr.Handle(rec(t, `{"event":"Docked","StationName":"Somewhere","StationType":"Coriolis","MarketID":303,"SystemAddress":7}`))
	assert.Equal(t, StateDockedStation, tr.State())

	tr.Handle(rec(t, depotSteel40))
	assert.Equal(t, StateDockedConstruction, tr.State())
}

func TestDepotRecoversSystemAddressFromScan(t *testing.T) {
	api := &fakeAPI{project: &model.Project{BuildID: "b1"}}
	q := &fakeQueue{}
	scan := &fakeScanner{info: journal.DockInfo{SystemAddress: 7, StarSystem: "Col 285"}, ok: true}
	tr := NewTracker(api, q, &fakeNotifier{}, scan, &fakeCarrier{}, "", zap.NewNop())
	tr.Handle(rec(t, `{"event":"LoadGame","Commander":"Jameson"}`))

	// Depot record without a system address of its own.
	tr.Handle(rec(t, `{"event":"ColonisationConstructionDepot","MarketID":303,"ResourcesRequired":[{"Name":"$steel_name;","RequiredAmount":100,"ProvidedAmount":40}]}`))
	require.Len(t, api.supplies, 1)
}

func TestDepotWithoutProjectIsQuiet(t *testing.T) {
	api := &fakeAPI{} // GetProject yields not-found
	tr, _, _, nt := newTestTracker(api)
	tr.Handle(rec(t, `{"event":"LoadGame","Commander":"Jameson"}`))

	tr.Handle(rec(t, depotSteel40))
	assert.Empty(t, api.supplies)
	// A location without a tracked project is expected, never an error notice.
	for _, msg := range nt.notices {
		assert.NotContains(t, msg, "failed")
	}
}

func TestConstructionCompleteOncePerMarket(t *testing.T) {
	api := &fakeAPI{project: &model.Project{
		BuildID:   "b1",
		BuildName: "Orbital Construction Site: Liberty Port",
	}}
	tr, _, _, nt := newTestTracker(api)
	tr.Handle(rec(t, `{"event":"LoadGame","Commander":"Jameson"}`))

	complete := `{"event":"ColonisationConstructionDepot","MarketID":303,"SystemAddress":7,"ConstructionComplete":true,"ResourcesRequired":[]}`
	tr.Handle(rec(t, complete))
	tr.Handle(rec(t, complete))

	require.Equal(t, []string{"b1"}, api.completed, "completion must be latched per market")
	assert.Equal(t, "Liberty Port", api.renamed["b1"])
	require.NotEmpty(t, nt.notices)
	assert.Contains(t, nt.notices[len(nt.notices)-1], "Liberty Port")
}

func TestConstructionCompleteSkipsRenameWhenNamed(t *testing.T) {
	api := &fakeAPI{project: &model.Project{BuildID: "b1", BuildName: "Liberty Port"}}
	tr, _, _, _ := newTestTracker(api)
	tr.Handle(rec(t, `{"event":"LoadGame","Commander":"Jameson"}`))

	tr.Handle(rec(t, `{"event":"ColonisationConstructionDepot","MarketID":303,"SystemAddress":7,"ConstructionComplete":true}`))
	assert.Equal(t, []string{"b1"}, api.completed)
	assert.Empty(t, api.renamed)
}
