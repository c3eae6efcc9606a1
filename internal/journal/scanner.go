package journal

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// maxScanFiles bounds how many historical journal files the fallback reads.
const maxScanFiles = 3

// DockInfo is the state recovered from the most recent Docked record.
type DockInfo struct {
	SystemAddress int64
	StarSystem    string
	StarPos       []float64
	MarketID      int64
	StationName   string
	StationType   string
}

// Scanner recovers dock state from historical journal files. It is a pure
// read; nothing in the directory is mutated.
type Scanner struct {
	Dir string
	Log *zap.Logger
}

// LatestDock scans the newest journal files (most recent first) for the last
// Docked record carrying a system address. Returns false when none is found.
func (s *Scanner) LatestDock() (DockInfo, bool) {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	files, err := journalFiles(s.Dir)
	if err != nil {
		log.Debug("journal scan failed", zap.String("dir", s.Dir), zap.Error(err))
		return DockInfo{}, false
	}
	if len(files) > maxScanFiles {
		files = files[:maxScanFiles]
	}
	for _, path := range files {
		info, ok := lastDockInFile(path)
		if ok {
			log.Debug("recovered dock state from journal",
				zap.String("file", filepath.Base(path)),
				zap.Int64("systemAddress", info.SystemAddress))
			return info, true
		}
	}
	return DockInfo{}, false
}

// journalFiles lists Journal.*.log files sorted by modification time, newest
// first.
func journalFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type fileMod struct {
		path string
		mod  int64
	}
	var files []fileMod
	for _, e := range entries {
		if e.IsDir() || !IsJournalFile(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileMod{filepath.Join(dir, e.Name()), fi.ModTime().UnixNano()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod > files[j].mod })
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// IsJournalFile reports whether name looks like a game journal file.
func IsJournalFile(name string) bool {
	return strings.HasPrefix(name, "Journal.") && strings.HasSuffix(name, ".log")
}

// lastDockInFile reads one journal file and returns its final Docked record
// with a system address, searching from the end.
func lastDockInFile(path string) (DockInfo, bool) {
	f, err := os.Open(path)
	if err != nil {
		return DockInfo{}, false
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	for i := len(lines) - 1; i >= 0; i-- {
		rec, err := Parse([]byte(lines[i]))
		if err != nil || rec.Event != EventDocked {
			continue
		}
		var d Docked
		if err := rec.Decode(&d); err != nil {
			continue
		}
		if d.SystemAddress == 0 {
			continue
		}
		return DockInfo{
			SystemAddress: d.SystemAddress,
			StarSystem:    d.StarSystem,
			StarPos:       d.StarPos,
			MarketID:      d.MarketID,
			StationName:   d.StationName,
			StationType:   d.StationType,
		}, true
	}
	return DockInfo{}, false
}
