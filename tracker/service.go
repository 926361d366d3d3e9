package tracker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/boxothing/TwitchLiveAlert/telemetry"
	"github.com/boxothing/TwitchLiveAlert/twitchapi"
)

// Notifier consumes detected events. Delivery failures are the notifier's
// problem; the engine never blocks on them beyond send pacing.
type Notifier interface {
	StreamStarted(ctx context.Context, events []StreamEvent)
	PriorityStream(ctx context.Context, ev StreamEvent)
	ChangesDetected(ctx context.Context, events []ChangeEvent)
}

// ServiceConfig carries the scheduler knobs.
type ServiceConfig struct {
	BatchListFile    string
	PriorityListFile string
	Interval         time.Duration // batch cycle period; default 30s
	PriorityInterval time.Duration // per-worker period; floor 3s, default 10s
	SkipInitial      bool          // suppress alerts for broadcasts live at startup
}

// Service drives the whole engine: one main loop running reconciliation,
// batch live polling and event dispatch on a fixed period, plus the priority
// supervisor synced from its own list file. Batch structures are touched only
// by the main loop; the only cross-cutting shared state is the credential
// flag and the snapshot read by the status server.
type Service struct {
	cfg      ServiceConfig
	tokens   *twitchapi.TokenSource
	notifier Notifier

	rec  *Reconciler
	live *LiveTracker
	prio *PrioritySupervisor

	snapMu sync.RWMutex
	snap   Snapshot
}

// NewService wires the engine. workerAPI is the gateway handed to priority
// workers; it must be one that does not raise the credential refresh flag on
// 401 (nil falls back to api).
func NewService(cfg ServiceConfig, tokens *twitchapi.TokenSource, api, workerAPI API, playlist PlaylistAPI, notifier Notifier) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if workerAPI == nil {
		workerAPI = api
	}
	s := &Service{
		cfg:      cfg,
		tokens:   tokens,
		notifier: notifier,
		rec:      NewReconciler(api),
		live:     NewLiveTracker(api),
	}
	s.prio = NewPrioritySupervisor(playlist, workerAPI, cfg.PriorityInterval, cfg.SkipInitial, nil)
	return s
}

// Run blocks until the context is cancelled, then stops and joins every
// priority worker.
func (s *Service) Run(ctx context.Context) {
	s.prio.emit = func(ev StreamEvent) { s.notifier.PriorityStream(ctx, ev) }

	if err := EnsureFile(s.cfg.BatchListFile); err != nil {
		slog.Warn("batch list file", slog.String("file", s.cfg.BatchListFile), slog.Any("err", err))
	}
	if err := EnsureFile(s.cfg.PriorityListFile); err != nil {
		slog.Warn("priority list file", slog.String("file", s.cfg.PriorityListFile), slog.Any("err", err))
	}
	nudge, err := WatchFiles(ctx, s.cfg.BatchListFile, s.cfg.PriorityListFile)
	if err != nil {
		slog.Warn("watch-list hot reload unavailable", slog.Any("err", err))
		nudge = make(chan struct{})
	}

	slog.Info("tracker started",
		slog.String("list", s.cfg.BatchListFile),
		slog.String("priority_list", s.cfg.PriorityListFile),
		slog.Duration("interval", s.cfg.Interval))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		s.runCycle(ctx)
		select {
		case <-ctx.Done():
			s.prio.StopAll()
			slog.Info("tracker stopped")
			return
		case <-ticker.C:
		case <-nudge:
			slog.Debug("watch list changed; reconciling early")
		}
	}
}

func (s *Service) runCycle(ctx context.Context) {
	cctx, span := telemetry.StartSpan(ctx, "tracker", "poll_cycle")
	defer span.End()
	start := time.Now()

	s.tokens.RefreshIfFlagged(cctx)

	names, err := ReadList(s.cfg.BatchListFile)
	if err != nil {
		// Keep the prior tracked set; the live poll below still runs.
		slog.Warn("batch list read failed; keeping prior state", slog.Any("err", err))
		telemetry.RecordError(span, err)
	} else {
		s.rec.Reconcile(cctx, names)
	}

	changes := s.rec.FlushChanges()
	for _, ch := range changes {
		if ch.Kind == LoginChange {
			s.prio.Rename(ctx, ch.Before, ch.After)
		}
	}

	events := s.live.Poll(cctx, s.rec.Entities())
	s.notifier.ChangesDetected(cctx, changes)
	s.notifier.StreamStarted(cctx, events)

	if plist, err := ReadList(s.cfg.PriorityListFile); err != nil {
		slog.Warn("priority list read failed; keeping workers", slog.Any("err", err))
	} else {
		s.prio.Sync(ctx, s.resolveLogins(plist))
	}

	liveCount := 0
	for _, ent := range s.rec.Entities() {
		if ent.Live {
			liveCount++
		}
	}
	telemetry.IncCycle()
	telemetry.SetTracked(len(s.rec.Entities()))
	telemetry.SetLive(liveCount)
	workers := s.prio.Logins()
	telemetry.SetPriorityWorkers(len(workers))
	if telemetry.CycleDuration != nil {
		telemetry.CycleDuration.Observe(time.Since(start).Seconds())
	}
	span.SetAttributes(
		attribute.Int("tracked", len(s.rec.Entities())),
		attribute.Int("live", liveCount),
		attribute.Int("events", len(events)),
	)
	s.updateSnapshot(workers, liveCount)
}

// resolveLogins maps listed names to current logins through the reconciler's
// rename aliases, collapsing duplicates. A file still carrying an old handle
// must keep its worker on the live login, not respawn one on the dead name.
// Names the reconciler does not know pass through as written.
func (s *Service) resolveLogins(names []string) []string {
	out := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, name := range names {
		login := name
		if ent, ok := s.rec.Lookup(name); ok {
			login = ent.Login
		}
		if seen[login] {
			continue
		}
		seen[login] = true
		out = append(out, login)
	}
	return out
}

// Snapshot is the status-server view of the engine.
type Snapshot struct {
	Tracked         []ChannelStatus `json:"tracked"`
	Live            int             `json:"live"`
	PriorityWorkers []string        `json:"priority_workers"`
	LastCycle       time.Time       `json:"last_cycle"`
}

// ChannelStatus is one tracked channel in the snapshot.
type ChannelStatus struct {
	Login       string    `json:"login"`
	DisplayName string    `json:"display_name"`
	Tier        string    `json:"tier"`
	Live        bool      `json:"live"`
	LastStart   time.Time `json:"last_start,omitzero"`
}

func (s *Service) updateSnapshot(workers []string, liveCount int) {
	tracked := make([]ChannelStatus, 0, len(s.rec.Entities()))
	for _, ent := range s.rec.Entities() {
		tracked = append(tracked, ChannelStatus{
			Login:       ent.Login,
			DisplayName: ent.DisplayName,
			Tier:        ent.Tier.String(),
			Live:        ent.Live,
			LastStart:   ent.LastStartedAt,
		})
	}
	sort.Slice(tracked, func(i, j int) bool { return tracked[i].Login < tracked[j].Login })
	s.snapMu.Lock()
	s.snap = Snapshot{
		Tracked:         tracked,
		Live:            liveCount,
		PriorityWorkers: workers,
		LastCycle:       time.Now().UTC(),
	}
	s.snapMu.Unlock()
}

// Snapshot returns the last completed cycle's view; safe for concurrent use.
func (s *Service) Snapshot() Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snap
}
