// Package fswatch turns recursive filesystem notifications into ordered,
// debounced batches of change events.
package fswatch

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/openmined/syftbackup/internal/utils"
	"github.com/rjeczalik/notify"
)

const (
	DefaultDebounce = 500 * time.Millisecond
	DefaultMaxDelay = 5 * time.Second
	rawBufferSize   = 256
	batchBufferSize = 16
)

var ErrAlreadyStarted = errors.New("watcher already started")

type Kind string

const (
	KindCreate Kind = "create"
	KindWrite  Kind = "write"
	KindRemove Kind = "remove"
	KindRename Kind = "rename"
)

type Event struct {
	Path string
	Kind Kind
}

// Batch holds events in arrival order. A path appears once, at the position
// of its first event, with the kind of its latest one.
type Batch []Event

// FilterFunc returns true for paths that must be dropped before batching.
type FilterFunc func(path string) bool

type Options struct {
	// Debounce is the quiet period that closes a batch.
	Debounce time.Duration
	// MaxDelay caps how long a batch can stay open under a constant stream of events.
	MaxDelay time.Duration
	Filter   FilterFunc
}

type Watcher struct {
	root     string
	debounce time.Duration
	maxDelay time.Duration
	filter   FilterFunc

	raw     chan notify.EventInfo
	batches chan Batch
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once

	mu      sync.Mutex
	started bool
	closed  bool
	pending []Event
	index   map[string]int
	timer   *time.Timer
	firstAt time.Time
}

func New(root string, opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.MaxDelay < opts.Debounce {
		opts.MaxDelay = max(DefaultMaxDelay, opts.Debounce)
	}
	return &Watcher{
		root:     utils.RealPath(root),
		debounce: opts.Debounce,
		maxDelay: opts.MaxDelay,
		filter:   opts.Filter,
		batches:  make(chan Batch, batchBufferSize),
		done:     make(chan struct{}),
		index:    make(map[string]int),
	}
}

// Root is the watched directory with symlinks resolved.
func (w *Watcher) Root() string {
	return w.root
}

// Batches is closed once the watcher stops.
func (w *Watcher) Batches() <-chan Batch {
	return w.batches
}

func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.mu.Unlock()

	w.raw = make(chan notify.EventInfo, rawBufferSize)
	if err := notify.Watch(filepath.Join(w.root, "..."), w.raw, notify.All); err != nil {
		return err
	}

	slog.Info("watcher started", "dir", w.root, "debounce", w.debounce)

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Stop ends the subscription, flushes the open batch and closes Batches.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.done)
		if w.raw != nil {
			notify.Stop(w.raw)
		}
		w.wg.Wait()
		w.shutdown()
		slog.Info("watcher stopped", "dir", w.root)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.raw:
			if !ok {
				return
			}
			w.add(ev.Path(), kindOf(ev.Event()))
		}
	}
}

func (w *Watcher) add(path string, kind Kind) {
	if w.filter != nil && w.filter(path) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	if i, ok := w.index[path]; ok {
		w.pending[i].Kind = kind
	} else {
		w.index[path] = len(w.pending)
		w.pending = append(w.pending, Event{Path: path, Kind: kind})
	}

	now := time.Now()
	switch {
	case w.timer == nil:
		w.firstAt = now
		w.timer = time.AfterFunc(w.debounce, w.flush)
	case now.Sub(w.firstAt)+w.debounce <= w.maxDelay:
		w.timer.Reset(w.debounce)
	}
}

func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sendLocked()
}

func (w *Watcher) sendLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.closed || len(w.pending) == 0 {
		return
	}

	batch := w.pending
	w.pending = nil
	w.index = make(map[string]int)

	select {
	case w.batches <- batch:
		slog.Debug("watcher batch", "events", len(batch))
	default:
		slog.Warn("watcher dropped batch", "reason", "channel full", "events", len(batch))
	}
}

func (w *Watcher) shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sendLocked()
	w.closed = true
	close(w.batches)
}

func kindOf(e notify.Event) Kind {
	switch {
	case e&notify.Create != 0:
		return KindCreate
	case e&notify.Remove != 0:
		return KindRemove
	case e&notify.Rename != 0:
		return KindRename
	default:
		return KindWrite
	}
}
