package journal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalName(t *testing.T) {
	cases := map[string]string{
		"$gold_name;":        "gold",
		"$Gold_name;":        "gold",
		"$steel_name":        "steel",
		"Tritium":            "tritium",
		"ceramiccomposites":  "ceramiccomposites",
		"$titanium_name;":    "titanium",
		"":                   "",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalName(in), "input %q", in)
	}
}

func TestParseAndDecode(t *testing.T) {
	line := `{"timestamp":"2026-08-23T10:00:00Z","event":"Docked","StationName":"Liberty Port","StationType":"Coriolis","MarketID":303,"SystemAddress":7,"StarSystem":"Sol","StarPos":[0,0,0]}`
	r, err := Parse([]byte(line))
	require.NoError(t, err)
	assert.Equal(t, EventDocked, r.Event)
	assert.False(t, r.Replay)

	var d Docked
	require.NoError(t, r.Decode(&d))
	assert.Equal(t, "Liberty Port", d.StationName)
	assert.Equal(t, int64(303), d.MarketID)
	assert.Equal(t, int64(7), d.SystemAddress)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("not json"))
	assert.Error(t, err)
}

func TestIsJournalFile(t *testing.T) {
	assert.True(t, IsJournalFile("Journal.2026-08-23T094231.01.log"))
	assert.False(t, IsJournalFile("Status.json"))
	assert.False(t, IsJournalFile("Journal.backup"))
	assert.False(t, IsJournalFile("NavRoute.log"))
}

func writeJournal(t *testing.T, dir, name string, lines []string, mod time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
	return path
}

func TestLatestDockPrefersNewestFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeJournal(t, dir, "Journal.2026-08-22T090000.01.log", []string{
		`{"event":"Docked","StationName":"Old Port","StationType":"Coriolis","MarketID":1,"SystemAddress":100,"StarSystem":"Old"}`,
	}, now.Add(-2*time.Hour))
	writeJournal(t, dir, "Journal.2026-08-23T090000.01.log", []string{
		`{"event":"LoadGame","Commander":"Jameson"}`,
		`{"event":"Docked","StationName":"First","StationType":"Coriolis","MarketID":2,"SystemAddress":200,"StarSystem":"Mid"}`,
		`{"event":"Docked","StationName":"Last","StationType":"Coriolis","MarketID":3,"SystemAddress":300,"StarSystem":"New"}`,
	}, now.Add(-time.Hour))

	s := &Scanner{Dir: dir}
	info, ok := s.LatestDock()
	require.True(t, ok)
	assert.Equal(t, int64(300), info.SystemAddress)
	assert.Equal(t, "Last", info.StationName)
}

func TestLatestDockFallsBackToOlderFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	writeJournal(t, dir, "Journal.2026-08-22T090000.01.log", []string{
		`{"event":"Docked","StationName":"Old Port","StationType":"Coriolis","MarketID":1,"SystemAddress":100,"StarSystem":"Old"}`,
	}, now.Add(-2*time.Hour))
	// Newest file has no dock record.
	writeJournal(t, dir, "Journal.2026-08-23T090000.01.log", []string{
		`{"event":"LoadGame","Commander":"Jameson"}`,
	}, now.Add(-time.Hour))

	s := &Scanner{Dir: dir}
	info, ok := s.LatestDock()
	require.True(t, ok)
	assert.Equal(t, int64(100), info.SystemAddress)
}

func TestLatestDockIgnoresDockWithoutAddress(t *testing.T) {
	dir := t.TempDir()
	writeJournal(t, dir, "Journal.2026-08-23T090000.01.log", []string{
		`{"event":"Docked","StationName":"Weird","MarketID":1}`,
	}, time.Now())

	s := &Scanner{Dir: dir}
	_, ok := s.LatestDock()
	assert.False(t, ok)
}

func TestLatestDockEmptyDir(t *testing.T) {
	s := &Scanner{Dir: t.TempDir()}
	_, ok := s.LatestDock()
	assert.False(t, ok)
}
