package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/boxothing/TwitchLiveAlert/twitchapi"
)

// fakePlaylist serves canned playlists per login.
type fakePlaylist struct {
	mu        sync.Mutex
	playlists map[string][]string // queue of responses; last entry repeats
	tokenErr  error
	fetches   map[string]int
}

func newFakePlaylist() *fakePlaylist {
	return &fakePlaylist{playlists: map[string][]string{}, fetches: map[string]int{}}
}

func (f *fakePlaylist) set(login string, bodies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists[login] = bodies
}

func (f *fakePlaylist) PlaylistToken(ctx context.Context, login string) (twitchapi.PlaylistToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tokenErr != nil {
		return twitchapi.PlaylistToken{}, f.tokenErr
	}
	return twitchapi.PlaylistToken{Token: "tok", Sig: "sig"}, nil
}

func (f *fakePlaylist) MasterPlaylist(ctx context.Context, login string, tok twitchapi.PlaylistToken) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q := f.playlists[login]
	if len(q) == 0 {
		return "", errors.New("404 offline")
	}
	f.fetches[login]++
	body := q[0]
	if len(q) > 1 {
		f.playlists[login] = q[1:]
	}
	return body, nil
}

func livePlaylist(broadcastID string, serverTime, streamTime float64) string {
	return fmt.Sprintf(`#EXTM3U
#EXT-X-TWITCH-INFO:NODE="video-edge",SERVER-TIME="%.3f",STREAM-TIME="%.3f",BROADCAST-ID="%s",USER-IP="10.0.0.1"
#EXT-X-MEDIA:TYPE=VIDEO,GROUP-ID="chunked",NAME="1080p60"
#EXT-X-STREAM-INF:BANDWIDTH=6000000,CODECS="avc1.64002A",VIDEO="chunked"
https://video-edge.example/hls/chunked.m3u8
`, serverTime, streamTime, broadcastID)
}

func headerOnlyPlaylist(broadcastID string) string {
	return fmt.Sprintf(`#EXTM3U
#EXT-X-TWITCH-INFO:NODE="video-edge",SERVER-TIME="100.000",STREAM-TIME="1.000",BROADCAST-ID="%s"
`, broadcastID)
}

func testWorker(sup *PrioritySupervisor, login string, first bool) *priorityWorker {
	return &priorityWorker{login: login, sup: sup, first: first, done: make(chan struct{})}
}

func collectEmit() (func(StreamEvent), func() []StreamEvent) {
	var mu sync.Mutex
	var events []StreamEvent
	emit := func(ev StreamEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	get := func() []StreamEvent {
		mu.Lock()
		defer mu.Unlock()
		return append([]StreamEvent(nil), events...)
	}
	return emit, get
}

func TestPollOnceEmitsNewBroadcast(t *testing.T) {
	pl := newFakePlaylist()
	pl.set("alice", livePlaylist("b-1", 1000.5, 60.5))
	emit, events := collectEmit()
	sup := NewPrioritySupervisor(pl, nil, 0, false, emit)
	w := testWorker(sup, "alice", false)

	w.pollOnce(context.Background())

	got := events()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	ev := got[0]
	if ev.Login != "alice" || ev.StreamID != "b-1" || ev.Source != SourcePriority {
		t.Errorf("event = %+v", ev)
	}
	if want := time.Unix(940, 0).UTC(); !ev.StartedAt.Equal(want) {
		t.Errorf("started at = %v, want %v", ev.StartedAt, want)
	}
}

func TestPollOnceDedupsOngoingBroadcast(t *testing.T) {
	pl := newFakePlaylist()
	pl.set("alice", livePlaylist("b-1", 1000, 60))
	emit, events := collectEmit()
	sup := NewPrioritySupervisor(pl, nil, 0, false, emit)
	w := testWorker(sup, "alice", false)

	w.pollOnce(context.Background())
	w.pollOnce(context.Background())
	if got := len(events()); got != 1 {
		t.Fatalf("got %d events for one broadcast, want 1", got)
	}

	pl.set("alice", livePlaylist("b-2", 2000, 5))
	w.pollOnce(context.Background())
	if got := len(events()); got != 2 {
		t.Fatalf("new broadcast id: got %d events, want 2", got)
	}
}

func TestPollOnceSuppressesFirstDetection(t *testing.T) {
	pl := newFakePlaylist()
	pl.set("alice", livePlaylist("b-1", 1000, 60))
	emit, events := collectEmit()
	sup := NewPrioritySupervisor(pl, nil, 0, true, emit)
	w := testWorker(sup, "alice", true)

	w.pollOnce(context.Background())
	if got := len(events()); got != 0 {
		t.Fatalf("first detection emitted %d events, want 0", got)
	}

	pl.set("alice", livePlaylist("b-2", 2000, 5))
	w.pollOnce(context.Background())
	if got := len(events()); got != 1 {
		t.Fatalf("second broadcast emitted %d events, want 1", got)
	}
}

func TestPollOnceOfflineFirstPollStillAlertsLater(t *testing.T) {
	pl := newFakePlaylist() // offline at startup
	emit, events := collectEmit()
	sup := NewPrioritySupervisor(pl, nil, 0, true, emit)
	w := testWorker(sup, "alice", true)

	// First poll finds nothing; the initial-state gate is still consumed.
	w.pollOnce(context.Background())
	if got := len(events()); got != 0 {
		t.Fatalf("offline first poll emitted %d events", got)
	}

	// The stream that starts afterwards is genuinely new and must alert.
	pl.set("alice", livePlaylist("b-new", 1000, 5))
	w.pollOnce(context.Background())
	if got := len(events()); got != 1 {
		t.Fatalf("broadcast after offline first poll emitted %d events, want 1", got)
	}
}

func TestPollOnceOfflineIsQuiet(t *testing.T) {
	pl := newFakePlaylist() // no playlist set: 404
	emit, events := collectEmit()
	sup := NewPrioritySupervisor(pl, nil, 0, false, emit)
	w := testWorker(sup, "alice", false)

	w.pollOnce(context.Background())
	if got := len(events()); got != 0 {
		t.Fatalf("offline poll emitted %d events", got)
	}
}

func TestPollOnceRetriesHeaderOnlyPlaylist(t *testing.T) {
	old := manifestRetryBackoff
	manifestRetryBackoff = 5 * time.Millisecond
	defer func() { manifestRetryBackoff = old }()

	pl := newFakePlaylist()
	pl.set("alice", headerOnlyPlaylist("b-1"), livePlaylist("b-1", 1000, 2))
	emit, events := collectEmit()
	sup := NewPrioritySupervisor(pl, nil, 0, false, emit)
	w := testWorker(sup, "alice", false)

	w.pollOnce(context.Background())

	got := events()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1 after retry", len(got))
	}
	pl.mu.Lock()
	fetches := pl.fetches["alice"]
	pl.mu.Unlock()
	if fetches != 2 {
		t.Errorf("fetched %d times, want 2 (initial + backoff retry)", fetches)
	}
}

func TestPollOnceEnrichesFromHelix(t *testing.T) {
	pl := newFakePlaylist()
	pl.set("alice", livePlaylist("b-1", 1000, 60))
	api := newFakeAPI()
	api.streams = []twitchapi.Stream{{
		ID: "b-1", UserID: "1", UserLogin: "alice", UserName: "Alice",
		Title: "speedrun", ViewerCount: 42,
		StartedAt: time.Date(2026, 9, 1, 7, 0, 0, 0, time.UTC),
	}}
	emit, events := collectEmit()
	sup := NewPrioritySupervisor(pl, api, 0, false, emit)
	w := testWorker(sup, "alice", false)

	w.pollOnce(context.Background())

	got := events()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	ev := got[0]
	if ev.Title != "speedrun" || ev.ViewerCount != 42 || ev.DisplayName != "Alice" {
		t.Errorf("enrichment missing: %+v", ev)
	}
	// Playlist-derived epoch wins over the Helix started_at.
	if want := time.Unix(940, 0).UTC(); !ev.StartedAt.Equal(want) {
		t.Errorf("started at = %v, want playlist-derived %v", ev.StartedAt, want)
	}
}

func TestSyncStartsAndStopsWorkers(t *testing.T) {
	pl := newFakePlaylist()
	emit, _ := collectEmit()
	sup := NewPrioritySupervisor(pl, nil, 0, true, emit)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup.Sync(ctx, []string{"alice", "bob"})
	if got := sup.Logins(); len(got) != 2 {
		t.Fatalf("logins = %v, want 2 workers", got)
	}

	done := make(chan struct{})
	go func() {
		sup.Sync(ctx, []string{"alice"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delisted worker did not stop promptly")
	}
	if got := sup.Logins(); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("logins after delist = %v, want [alice]", got)
	}

	sup.StopAll()
	if got := sup.Logins(); len(got) != 0 {
		t.Fatalf("logins after StopAll = %v, want none", got)
	}
}

func TestRenameMovesWorker(t *testing.T) {
	pl := newFakePlaylist()
	emit, _ := collectEmit()
	sup := NewPrioritySupervisor(pl, nil, 0, true, emit)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup.Sync(ctx, []string{"oldname"})
	done := make(chan struct{})
	go func() {
		sup.Rename(ctx, "oldname", "newname")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("rename did not complete promptly")
	}
	if got := sup.Logins(); len(got) != 1 || got[0] != "newname" {
		t.Fatalf("logins after rename = %v, want [newname]", got)
	}
	sup.StopAll()
}
