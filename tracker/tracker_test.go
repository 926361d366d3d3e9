package tracker

import (
	"context"
	"errors"
	"sync"

	"github.com/boxothing/TwitchLiveAlert/twitchapi"
)

// fakeAPI implements API against in-memory fixtures and counts calls.
type fakeAPI struct {
	mu sync.Mutex

	users   map[string]twitchapi.User // keyed by login
	streams []twitchapi.Stream
	games   []twitchapi.Game

	usersErr   error
	streamsErr error

	loginCalls  int
	idCalls     int
	streamCalls int
	gameCalls   int
}

func newFakeAPI(users ...twitchapi.User) *fakeAPI {
	f := &fakeAPI{users: map[string]twitchapi.User{}}
	for _, u := range users {
		f.users[u.Login] = u
	}
	return f
}

func (f *fakeAPI) UsersByLogin(ctx context.Context, logins []string) ([]twitchapi.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	var out []twitchapi.User
	for _, l := range logins {
		if u, ok := f.users[l]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeAPI) UsersByID(ctx context.Context, ids []string) ([]twitchapi.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idCalls++
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	var out []twitchapi.User
	for _, id := range ids {
		for _, u := range f.users {
			if u.ID == id {
				out = append(out, u)
			}
		}
	}
	return out, nil
}

func (f *fakeAPI) Streams(ctx context.Context, logins []string) ([]twitchapi.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamCalls++
	if f.streamsErr != nil {
		return nil, f.streamsErr
	}
	asked := map[string]bool{}
	for _, l := range logins {
		asked[l] = true
	}
	var out []twitchapi.Stream
	for _, s := range f.streams {
		if asked[s.UserLogin] {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeAPI) Games(ctx context.Context, ids []string) ([]twitchapi.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gameCalls++
	var out []twitchapi.Game
	for _, id := range ids {
		for _, g := range f.games {
			if g.ID == id {
				out = append(out, g)
			}
		}
	}
	return out, nil
}

var errUpstream = errors.New("upstream down")

// collectingNotifier records dispatched events for assertions.
type collectingNotifier struct {
	mu       sync.Mutex
	batch    [][]StreamEvent
	priority []StreamEvent
	changes  [][]ChangeEvent
}

func (n *collectingNotifier) StreamStarted(ctx context.Context, events []StreamEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(events) > 0 {
		n.batch = append(n.batch, events)
	}
}

func (n *collectingNotifier) PriorityStream(ctx context.Context, ev StreamEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.priority = append(n.priority, ev)
}

func (n *collectingNotifier) ChangesDetected(ctx context.Context, events []ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(events) > 0 {
		n.changes = append(n.changes, events)
	}
}
