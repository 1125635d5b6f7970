// Package monitor watches mailbox files for changes by other programs and
// reports new mail.
//
// The directories of the mailboxes are watched, mailbox files are often
// replaced by renaming a new file over them. Events for a mailbox are
// coalesced: its statistics are refreshed once the file has been quiet for
// the configured delay.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/muacore/mua/mailbox"
	"github.com/muacore/mua/metrics"
	"github.com/muacore/mua/mlog"
	"github.com/muacore/mua/mua-"
)

var pkglog = mlog.New("monitor", nil)

var ErrNotWatched = errors.New("monitor: mailbox not watched")

// Change is the state of a mailbox after a check.
type Change struct {
	Path    string
	NewMail bool
	// Counts differ from the previous check.
	Changed bool

	Total   int
	Unread  int
	New     int
	Flagged int
	Deleted int
}

// Monitor watches mailboxes. Mailboxes can be added and removed while Run
// is active.
type Monitor struct {
	Config *mua.Config
	// Events for a mailbox within this duration are handled with a single
	// check.
	Delay time.Duration
	// If > 0, all mailboxes are also checked at this interval, for file
	// systems without change notifications.
	Poll time.Duration

	watcher *fsnotify.Watcher

	sync.Mutex
	boxes map[string]*box
	dirs  map[string]int // Watched directories, with the number of mailboxes in them.
}

type box struct {
	sync.Mutex
	mb    *mailbox.Mailbox
	store mailbox.Store
	last  Change
}

// New returns a monitor for c. It must be closed after use.
func New(c *mua.Config) (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("starting file watcher: %w", err)
	}
	return &Monitor{
		Config:  c,
		Delay:   500 * time.Millisecond,
		watcher: w,
		boxes:   map[string]*box{},
		dirs:    map[string]int{},
	}, nil
}

// Add starts watching the mailbox at path, and returns its current state.
// The mailbox file does not have to exist yet, its directory does.
func (m *Monitor) Add(ctx context.Context, path string) (Change, error) {
	path = filepath.Clean(m.Config.ExpandMailbox(path))
	typ, err := mailbox.Probe(m.Config, path)
	if err != nil {
		return Change{}, err
	}
	store, err := mailbox.StoreFor(typ)
	if err != nil {
		return Change{}, err
	}

	m.Lock()
	if _, ok := m.boxes[path]; ok {
		m.Unlock()
		return m.Check(ctx, path)
	}
	dir := filepath.Dir(path)
	if m.dirs[dir] == 0 {
		if err := m.watcher.Add(dir); err != nil {
			m.Unlock()
			return Change{}, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	m.dirs[dir]++
	m.boxes[path] = &box{mb: mailbox.New(path, typ), store: store}
	m.Unlock()

	pkglog.WithContext(ctx).Debug("watching mailbox", slog.String("path", path), slog.Any("type", typ))
	return m.Check(ctx, path)
}

// Remove stops watching the mailbox at path.
func (m *Monitor) Remove(path string) error {
	path = filepath.Clean(m.Config.ExpandMailbox(path))
	m.Lock()
	defer m.Unlock()
	if _, ok := m.boxes[path]; !ok {
		return fmt.Errorf("%w: %s", ErrNotWatched, path)
	}
	delete(m.boxes, path)
	dir := filepath.Dir(path)
	m.dirs[dir]--
	if m.dirs[dir] > 0 {
		return nil
	}
	delete(m.dirs, dir)
	if err := m.watcher.Remove(dir); err != nil {
		return fmt.Errorf("removing watch for %s: %w", dir, err)
	}
	return nil
}

// Paths returns the watched mailboxes, sorted.
func (m *Monitor) Paths() []string {
	m.Lock()
	defer m.Unlock()
	l := make([]string, 0, len(m.boxes))
	for p := range m.boxes {
		l = append(l, p)
	}
	slices.Sort(l)
	return l
}

// Check refreshes the statistics of the watched mailbox at path.
func (m *Monitor) Check(ctx context.Context, path string) (Change, error) {
	m.Lock()
	b, ok := m.boxes[path]
	m.Unlock()
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrNotWatched, path)
	}

	// Stats are refreshed without holding the monitor lock, a check can take a
	// while for large mailboxes.
	b.Lock()
	defer b.Unlock()
	start := time.Now()
	hasNew, err := b.store.CheckStats(ctx, m.Config, b.mb)
	metrics.MailboxObserve(ctx, "stats", b.mb.Type, err, start)
	if err != nil {
		return Change{}, err
	}
	mb := b.mb
	ch := Change{
		Path:    path,
		NewMail: hasNew,
		Total:   mb.Total,
		Unread:  mb.Unread,
		New:     mb.New,
		Flagged: mb.Flagged,
		Deleted: mb.Deleted,
	}
	prev := b.last
	prev.Changed = false
	cmp := ch
	cmp.Changed = false
	ch.Changed = cmp != prev
	b.last = ch
	return ch, nil
}

// Run handles file events until ctx is canceled or the watcher fails,
// calling fn after checking each mailbox that changed. Errors checking
// mailboxes are logged.
func (m *Monitor) Run(ctx context.Context, fn func(Change)) error {
	log := pkglog.WithContext(ctx)

	pending := map[string]struct{}{}
	var timer *time.Timer
	var timerc <-chan time.Time
	var pollc <-chan time.Time
	if m.Poll > 0 {
		t := time.NewTicker(m.Poll)
		defer t.Stop()
		pollc = t.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			path := filepath.Clean(ev.Name)
			m.Lock()
			_, watched := m.boxes[path]
			m.Unlock()
			if !watched || ev.Op == fsnotify.Chmod {
				continue
			}
			log.Debug("mailbox file event", slog.String("path", path), slog.String("op", ev.Op.String()))
			pending[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(m.Delay)
				timerc = timer.C
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost, check everything.
				log.Info("file events lost, checking all mailboxes")
				for _, p := range m.Paths() {
					pending[p] = struct{}{}
				}
				if timer == nil {
					timer = time.NewTimer(m.Delay)
					timerc = timer.C
				}
				continue
			}
			return fmt.Errorf("watching mailboxes: %w", err)

		case <-timerc:
			timer, timerc = nil, nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			slices.Sort(paths)
			for _, p := range paths {
				m.check(ctx, p, "event", fn)
			}

		case <-pollc:
			for _, p := range m.Paths() {
				m.check(ctx, p, "poll", fn)
			}
		}
	}
}

func (m *Monitor) check(ctx context.Context, path, trigger string, fn func(Change)) {
	log := pkglog.WithContext(ctx)
	defer func() {
		x := recover()
		if x != nil {
			log.Error("checking mailbox", slog.Any("panic", x), slog.String("path", path))
			debug.PrintStack()
			metrics.PanicInc(metrics.Monitor)
		}
	}()

	ch, err := m.Check(ctx, path)
	metrics.MonitorCheckInc(trigger, ch.NewMail, err)
	if errors.Is(err, ErrNotWatched) {
		return
	} else if err != nil {
		log.Errorx("checking mailbox", err, slog.String("path", path))
		return
	}
	if trigger == "poll" && !ch.Changed {
		return
	}
	fn(ch)
}

// Close stops watching.
func (m *Monitor) Close() error {
	return m.watcher.Close()
}
