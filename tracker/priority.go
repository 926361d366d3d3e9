package tracker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/boxothing/TwitchLiveAlert/manifest"
	"github.com/boxothing/TwitchLiveAlert/twitchapi"
)

// PlaylistAPI is the unauthenticated playlist path a priority worker polls.
type PlaylistAPI interface {
	PlaylistToken(ctx context.Context, login string) (twitchapi.PlaylistToken, error)
	MasterPlaylist(ctx context.Context, login string, tok twitchapi.PlaylistToken) (string, error)
}

const (
	minPriorityInterval     = 3 * time.Second
	defaultPriorityInterval = 10 * time.Second
)

// manifestRetryBackoff is how long a worker waits when the playlist carries
// timing metadata but no renditions yet (stream just started).
var manifestRetryBackoff = 3 * time.Second

// PrioritySupervisor owns one concurrent worker per priority-tracked channel.
// Each worker polls the playlist path at a tighter interval than the batch
// loop and keeps its own broadcast-id history, so no locking is shared with
// the batch structures.
type PrioritySupervisor struct {
	playlist PlaylistAPI
	helix    API // optional; enriches events with stream metadata
	interval time.Duration

	// suppressFirst makes every fresh worker swallow its first detection, so
	// a broadcast already running at worker start does not alert.
	suppressFirst bool

	emit func(StreamEvent)

	mu      sync.Mutex
	workers map[string]*priorityWorker
}

// NewPrioritySupervisor builds a supervisor. The interval is clamped to a 3s
// floor; zero or below-floor values fall back to the 10s default.
func NewPrioritySupervisor(playlist PlaylistAPI, helix API, interval time.Duration, suppressFirst bool, emit func(StreamEvent)) *PrioritySupervisor {
	if interval < minPriorityInterval {
		interval = defaultPriorityInterval
	}
	return &PrioritySupervisor{
		playlist:      playlist,
		helix:         helix,
		interval:      interval,
		suppressFirst: suppressFirst,
		emit:          emit,
		workers:       map[string]*priorityWorker{},
	}
}

// Sync brings the worker set in line with the priority list: new names get a
// worker, delisted names have theirs stopped and joined.
func (s *PrioritySupervisor) Sync(ctx context.Context, logins []string) {
	listed := map[string]bool{}
	for _, l := range logins {
		listed[l] = true
	}
	s.mu.Lock()
	var stopped []*priorityWorker
	for login, w := range s.workers {
		if listed[login] {
			continue
		}
		w.cancel()
		stopped = append(stopped, w)
		delete(s.workers, login)
	}
	for _, login := range logins {
		if _, ok := s.workers[login]; ok {
			continue
		}
		s.workers[login] = s.startLocked(ctx, login)
	}
	s.mu.Unlock()
	for _, w := range stopped {
		<-w.done
		slog.Info("priority worker stopped", slog.String("login", w.login))
	}
}

// Rename stops the worker running under the old login and starts a fresh one
// under the new login, mirroring the upstream handle change.
func (s *PrioritySupervisor) Rename(ctx context.Context, oldLogin, newLogin string) {
	s.mu.Lock()
	w, ok := s.workers[oldLogin]
	if ok {
		w.cancel()
		delete(s.workers, oldLogin)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	<-w.done
	s.mu.Lock()
	if _, running := s.workers[newLogin]; !running {
		s.workers[newLogin] = s.startLocked(ctx, newLogin)
	}
	s.mu.Unlock()
	slog.Info("priority worker renamed", slog.String("old", oldLogin), slog.String("new", newLogin))
}

// Logins returns the currently supervised logins, sorted.
func (s *PrioritySupervisor) Logins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.workers))
	for login := range s.workers {
		out = append(out, login)
	}
	sort.Strings(out)
	return out
}

// StopAll cancels every worker and joins them; used on shutdown.
func (s *PrioritySupervisor) StopAll() {
	s.mu.Lock()
	workers := make([]*priorityWorker, 0, len(s.workers))
	for login, w := range s.workers {
		w.cancel()
		workers = append(workers, w)
		delete(s.workers, login)
	}
	s.mu.Unlock()
	for _, w := range workers {
		<-w.done
	}
}

func (s *PrioritySupervisor) startLocked(ctx context.Context, login string) *priorityWorker {
	wctx, cancel := context.WithCancel(ctx)
	w := &priorityWorker{
		login:  login,
		sup:    s,
		first:  true,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(wctx)
	slog.Info("priority worker started", slog.String("login", login), slog.Duration("interval", s.interval))
	return w
}

// priorityWorker is one per-channel polling unit. Its broadcast history is
// independent from the batch tracker's, so the two paths dedup separately.
type priorityWorker struct {
	login  string
	sup    *PrioritySupervisor
	recent RecentIDs
	first  bool
	cancel context.CancelFunc
	done   chan struct{}
}

func (w *priorityWorker) run(ctx context.Context) {
	defer close(w.done)
	for {
		w.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.sup.interval):
		}
	}
}

// pollOnce fetches and parses the master playlist. Any failure is "not live
// or not yet resolvable": the next tick retries. A playlist with timing
// metadata but no renditions means the stream just started; back off briefly
// and refetch instead of counting the poll as failed.
//
// The first poll consumes the initial-state gate whether or not it detects
// anything: only a broadcast already running when the worker starts is
// suppressed. A channel found offline on the first poll alerts normally when
// it later goes live.
func (w *priorityWorker) pollOnce(ctx context.Context) {
	defer func() { w.first = false }()
	tok, err := w.sup.playlist.PlaylistToken(ctx, w.login)
	if err != nil {
		slog.Debug("playlist token", slog.String("login", w.login), slog.Any("err", err))
		return
	}
	p := w.fetch(ctx, tok)
	id, ok := p.BroadcastID()
	if !ok {
		return
	}
	epoch, hasEpoch := p.StartEpoch()
	if hasEpoch && !p.HasVariants() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(manifestRetryBackoff):
		}
		if retry := w.fetch(ctx, tok); len(retry) > 0 {
			p = retry
			if rid, ok := retry.BroadcastID(); ok {
				id = rid
			}
			epoch, hasEpoch = retry.StartEpoch()
		}
	}
	if w.recent.Contains(id) {
		return // same ongoing broadcast
	}
	w.recent.Push(id)

	if w.first && w.sup.suppressFirst {
		slog.Debug("suppressing initial broadcast", slog.String("login", w.login), slog.String("broadcast_id", id))
		return
	}

	ev := StreamEvent{
		Login:    w.login,
		StreamID: id,
		Source:   SourcePriority,
	}
	if hasEpoch {
		ev.StartedAt = time.Unix(epoch, 0).UTC()
	}
	w.enrich(ctx, &ev)
	w.sup.emit(ev)
}

func (w *priorityWorker) fetch(ctx context.Context, tok twitchapi.PlaylistToken) manifest.Playlist {
	text, err := w.sup.playlist.MasterPlaylist(ctx, w.login, tok)
	if err != nil {
		slog.Debug("master playlist", slog.String("login", w.login), slog.Any("err", err))
		return manifest.Playlist{}
	}
	return manifest.Parse(text, 0, true)
}

// enrich fills title/viewers/category from Helix, best effort. The playlist
// start epoch stays authoritative when present.
func (w *priorityWorker) enrich(ctx context.Context, ev *StreamEvent) {
	if w.sup.helix == nil {
		return
	}
	streams, err := w.sup.helix.Streams(ctx, []string{w.login})
	if err != nil || len(streams) == 0 {
		return
	}
	s := streams[0]
	ev.UserID = s.UserID
	ev.DisplayName = s.UserName
	ev.Title = s.Title
	ev.GameID = s.GameID
	ev.ViewerCount = s.ViewerCount
	if ev.StartedAt.IsZero() {
		ev.StartedAt = s.StartedAt
	}
}
