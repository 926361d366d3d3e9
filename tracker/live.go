package tracker

import (
	"context"
	"log/slog"
	"sort"

	"github.com/boxothing/TwitchLiveAlert/telemetry"
)

// LiveTracker polls current live status for the batch set and derives
// newly-started-stream events. Category names are resolved through a batched
// lookup and cached for the process lifetime; categories rarely rename.
type LiveTracker struct {
	api   API
	games map[string]string // game id -> name
}

func NewLiveTracker(api API) *LiveTracker {
	return &LiveTracker{api: api, games: map[string]string{}}
}

// Poll refreshes liveness for every entity and returns the streams that
// started since the last cycle. Entities absent from the response are offline
// by construction: every Live flag is reset before results are applied. A
// failed call yields no events and leaves the previous liveness in place.
func (lt *LiveTracker) Poll(ctx context.Context, entities map[string]*Entity) []StreamEvent {
	if len(entities) == 0 {
		return nil
	}
	logins := make([]string, 0, len(entities))
	byID := make(map[string]*Entity, len(entities))
	for login, ent := range entities {
		logins = append(logins, login)
		byID[ent.ID] = ent
	}
	sort.Strings(logins)

	streams, err := lt.api.Streams(ctx, logins)
	if err != nil {
		telemetry.IncLookupFailure()
		slog.Warn("live status poll failed; treating as no change", slog.Any("err", err))
		return nil
	}

	for _, ent := range entities {
		ent.Live = false
	}

	var events []StreamEvent
	for _, s := range streams {
		ent, ok := byID[s.UserID]
		if !ok {
			continue
		}
		ent.Live = true
		if ent.Recent.Contains(s.ID) {
			continue // same ongoing broadcast
		}
		ent.Recent.Push(s.ID)
		ent.LastStartedAt = s.StartedAt
		events = append(events, StreamEvent{
			UserID:      s.UserID,
			Login:       ent.Login,
			DisplayName: s.UserName,
			StreamID:    s.ID,
			Title:       s.Title,
			GameID:      s.GameID,
			ViewerCount: s.ViewerCount,
			StartedAt:   s.StartedAt,
			Source:      SourceBatch,
		})
	}
	lt.fillGameNames(ctx, events)
	return events
}

// fillGameNames resolves category ids for the given events, fetching only the
// ids not already cached.
func (lt *LiveTracker) fillGameNames(ctx context.Context, events []StreamEvent) {
	var unknown []string
	seen := map[string]bool{}
	for _, ev := range events {
		if ev.GameID == "" || seen[ev.GameID] {
			continue
		}
		seen[ev.GameID] = true
		if _, ok := lt.games[ev.GameID]; !ok {
			unknown = append(unknown, ev.GameID)
		}
	}
	if len(unknown) > 0 {
		games, err := lt.api.Games(ctx, unknown)
		if err != nil {
			slog.Debug("category lookup failed", slog.Any("err", err))
		}
		for _, g := range games {
			lt.games[g.ID] = g.Name
		}
	}
	for i := range events {
		events[i].GameName = lt.games[events[i].GameID]
	}
}
