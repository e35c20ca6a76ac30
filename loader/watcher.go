package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-kratos/kratos/v2/log"
)

// ChangeKind tells whether a module appeared or disappeared.
type ChangeKind int

const (
	// ModuleAdded is sent once a module file in the watched folder stopped
	// being written for the settle delay
	ModuleAdded ChangeKind = iota
	// ModuleRemoved is sent when a module file is removed or renamed away
	ModuleRemoved
)

func (k ChangeKind) String() string {
	if k == ModuleRemoved {
		return "removed"
	}
	return "added"
}

// Change is one module event of a watched folder.
type Change struct {
	Kind ChangeKind
	Path string
}

// DefaultSettleDelay is how long a new module file must stay unwritten
// before it is reported.
const DefaultSettleDelay = 500 * time.Millisecond

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// Watcher reports module files appearing in and disappearing from a plugin
// folder.
type Watcher struct {
	dir    string
	filter FolderLoader
	logger *log.Helper
	settle time.Duration

	fw      *fsnotify.Watcher
	changes chan Change
	once    sync.Once
	done    chan struct{}
}

// NewWatcher starts watching dir. Only files the folder loader would list
// are reported.
func NewWatcher(dir string, extensions []string, logger log.Logger, opts ...WatcherOption) (*Watcher, error) {
	if logger == nil {
		logger = log.DefaultLogger
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create folder watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch plugin folder %s: %w", dir, err)
	}
	w := &Watcher{
		dir:     dir,
		filter:  FolderLoader{Dir: dir, Extensions: extensions},
		logger:  log.NewHelper(log.With(logger, "module", "loader/watcher")),
		settle:  DefaultSettleDelay,
		fw:      fw,
		changes: make(chan Change, 16),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Changes returns the event stream. It is closed when Run returns.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Run pumps filesystem events until ctx is done or Close is called.
// Created or written modules are held back until no write arrived for
// the settle delay, so a module still being copied is never reported.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.changes)

	pending := make(map[string]time.Time)
	timer := time.NewTimer(w.settle)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	armed := false

	send := func(c Change) error {
		select {
		case w.changes <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return errWatcherClosed
		}
	}
	rearm := func(now time.Time) {
		if armed || len(pending) == 0 {
			return
		}
		next := time.Duration(-1)
		for _, last := range pending {
			if d := last.Add(w.settle).Sub(now); next < 0 || d < next {
				next = d
			}
		}
		if next < 0 {
			next = 0
		}
		timer.Reset(next)
		armed = true
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !w.accepts(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				pending[ev.Name] = time.Now()
				rearm(time.Now())
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				delete(pending, ev.Name)
				if err := send(Change{Kind: ModuleRemoved, Path: ev.Name}); err != nil {
					return ignoreClosed(err)
				}
			}
		case now := <-timer.C:
			armed = false
			var ready []string
			for path, last := range pending {
				if !now.Before(last.Add(w.settle)) {
					ready = append(ready, path)
				}
			}
			sort.Strings(ready)
			for _, path := range ready {
				delete(pending, path)
				if err := send(Change{Kind: ModuleAdded, Path: path}); err != nil {
					return ignoreClosed(err)
				}
			}
			rearm(now)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnf("plugin folder watch error: %v", err)
		}
	}
}

var errWatcherClosed = errors.New("watcher closed")

func ignoreClosed(err error) error {
	if errors.Is(err, errWatcherClosed) {
		return nil
	}
	return err
}

func (w *Watcher) accepts(path string) bool {
	name := filepath.Base(path)
	return !strings.HasPrefix(name, ".") && w.filter.accepts(name)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fw.Close()
	})
	return err
}
