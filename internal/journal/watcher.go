package journal

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher tails the journal directory and emits parsed records on a channel.
// On startup the newest existing journal file is read from the beginning with
// records flagged as replay, so the engine can rebuild session state without
// re-sending updates the server already has. When the game rotates to a new
// journal file the watcher follows it.
type Watcher struct {
	dir string
	log *zap.Logger
	out chan Record

	fw      *fsnotify.Watcher
	file    *os.File
	reader  *bufio.Reader
	path    string
	partial []byte
	replay  bool
}

func NewWatcher(dir string, log *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{
		dir: dir,
		log: log.Named("journal"),
		out: make(chan Record, 64),
		fw:  fw,
	}, nil
}

// Records is the stream of parsed journal records. Closed when Run returns.
func (w *Watcher) Records() <-chan Record { return w.out }

// Run tails the directory until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.out)
	defer w.fw.Close()
	defer w.closeFile()

	// Replay the newest existing file so session state (commander, dock
	// state, depot snapshot) survives a bridge restart mid-session.
	if files, err := journalFiles(w.dir); err == nil && len(files) > 0 {
		w.openFile(files[0], true)
		w.drain(ctx)
		w.replay = false
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if !IsJournalFile(name) {
		return
	}
	switch {
	case ev.Op.Has(fsnotify.Create):
		// Rotation: finish the old file, then follow the new one from the top.
		w.drain(ctx)
		w.openFile(ev.Name, false)
		w.drain(ctx)
	case ev.Op.Has(fsnotify.Write):
		if w.file == nil {
			w.openFile(ev.Name, false)
		}
		if ev.Name == w.path {
			w.drain(ctx)
		}
	}
}

func (w *Watcher) openFile(path string, fromReplay bool) {
	w.closeFile()
	f, err := os.Open(path)
	if err != nil {
		w.log.Warn("open journal", zap.String("file", filepath.Base(path)), zap.Error(err))
		return
	}
	w.file = f
	w.reader = bufio.NewReader(f)
	w.path = path
	w.partial = nil
	w.replay = fromReplay
	w.log.Info("following journal file", zap.String("file", filepath.Base(path)), zap.Bool("replay", fromReplay))
}

func (w *Watcher) closeFile() {
	if w.file != nil {
		w.file.Close()
		w.file = nil
		w.reader = nil
	}
}

// drain reads every complete line currently available and emits it. A
// trailing fragment without a newline is kept until the next write.
func (w *Watcher) drain(ctx context.Context) {
	if w.reader == nil {
		return
	}
	for {
		chunk, err := w.reader.ReadBytes('\n')
		if err == nil {
			line := append(w.partial, chunk...)
			w.partial = nil
			w.emit(ctx, line)
			continue
		}
		if len(chunk) > 0 {
			w.partial = append(w.partial, chunk...)
		}
		if err != io.EOF {
			w.log.Warn("read journal", zap.Error(err))
		}
		return
	}
}

func (w *Watcher) emit(ctx context.Context, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	rec, err := Parse(line)
	if err != nil || rec.Event == "" {
		return
	}
	rec.Replay = w.replay
	select {
	case w.out <- rec:
	case <-ctx.Done():
	}
}
