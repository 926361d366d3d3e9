// Package tracker implements the stream-state engine: watch-list
// reconciliation against Twitch identity, batch live-state diffing with
// broadcast-id dedup, per-channel priority workers with playlist-derived
// start times, and the scheduler loop that drives them.
package tracker

import (
	"time"

	"github.com/boxothing/TwitchLiveAlert/twitchapi"
)

// recentCap bounds the rolling broadcast-id history kept per entity.
const recentCap = 5

// Tier is the ordinal account classification derived from Helix
// broadcaster_type.
type Tier int

const (
	TierNone Tier = iota
	TierAffiliate
	TierPartner
)

func (t Tier) String() string {
	switch t {
	case TierAffiliate:
		return "affiliate"
	case TierPartner:
		return "partner"
	default:
		return "none"
	}
}

// ParseTier maps a Helix broadcaster_type value to a Tier.
func ParseTier(broadcasterType string) Tier {
	switch broadcasterType {
	case "affiliate":
		return TierAffiliate
	case "partner":
		return TierPartner
	default:
		return TierNone
	}
}

// Entity is one tracked channel. ID is the stable upstream identifier and the
// primary key across renames; Login is the current handle and the key into
// the tracked mapping.
type Entity struct {
	ID          string
	Login       string
	DisplayName string
	Tier        Tier

	Live          bool
	LastStartedAt time.Time
	Recent        RecentIDs
}

func newEntity(u twitchapi.User) *Entity {
	return &Entity{
		ID:          u.ID,
		Login:       u.Login,
		DisplayName: u.DisplayName,
		Tier:        ParseTier(u.BroadcasterType),
	}
}

// RecentIDs is an ordered bounded set of the last seen broadcast ids. Pushing
// past capacity evicts the oldest entry.
type RecentIDs struct {
	ids []string
}

// Contains reports whether id is in the history.
func (r *RecentIDs) Contains(id string) bool {
	for _, v := range r.ids {
		if v == id {
			return true
		}
	}
	return false
}

// Push appends id, evicting the oldest entry beyond capacity.
func (r *RecentIDs) Push(id string) {
	r.ids = append(r.ids, id)
	if len(r.ids) > recentCap {
		r.ids = r.ids[len(r.ids)-recentCap:]
	}
}

// Len returns the number of remembered ids.
func (r *RecentIDs) Len() int { return len(r.ids) }
