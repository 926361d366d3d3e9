package tracker

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"

	"github.com/boxothing/TwitchLiveAlert/telemetry"
	"github.com/boxothing/TwitchLiveAlert/twitchapi"
)

// API is the slice of the Twitch gateway the engine consumes.
type API interface {
	UsersByLogin(ctx context.Context, logins []string) ([]twitchapi.User, error)
	UsersByID(ctx context.Context, ids []string) ([]twitchapi.User, error)
	Streams(ctx context.Context, logins []string) ([]twitchapi.Stream, error)
	Games(ctx context.Context, ids []string) ([]twitchapi.Game, error)
}

// defaultForceEvery is how many cycles may ride the fingerprint fast-path
// before a full upstream refresh is forced to catch tier and display-name
// changes behind an unchanged file.
const defaultForceEvery = 6

// Reconciler maintains the authoritative mapping from watch-list names to
// upstream identity. Entities are keyed by their current login; a secondary
// id index backs the rename recovery, and an alias table keeps file names
// resolvable after the channel they point at renamed upstream.
//
// Not safe for concurrent use: only the scheduler loop touches it.
type Reconciler struct {
	api        API
	forceEvery int

	entities map[string]*Entity
	byID     map[string]string // user id -> current login
	aliases  map[string]string // listed name -> current login

	fingerprint    uint64
	hasFingerprint bool
	sinceFullSync  int

	pending []ChangeEvent
}

// Result summarizes one reconciliation pass.
type Result struct {
	Added   []string
	Removed []string
	Missing []string
}

func NewReconciler(api API) *Reconciler {
	return &Reconciler{
		api:        api,
		forceEvery: defaultForceEvery,
		entities:   map[string]*Entity{},
		byID:       map[string]string{},
		aliases:    map[string]string{},
	}
}

// Entities exposes the tracked mapping. Callers must not retain it across
// cycles.
func (r *Reconciler) Entities() map[string]*Entity { return r.entities }

// Lookup resolves a listed name to its entity, following rename aliases.
func (r *Reconciler) Lookup(name string) (*Entity, bool) {
	if e, ok := r.entities[name]; ok {
		return e, true
	}
	if cur, ok := r.aliases[name]; ok {
		if e, ok := r.entities[cur]; ok {
			return e, true
		}
	}
	return nil, false
}

// FlushChanges drains the accumulated identity-change events. Called once per
// cycle, independent of live/offline events.
func (r *Reconciler) FlushChanges() []ChangeEvent {
	out := r.pending
	r.pending = nil
	return out
}

// Reconcile brings the tracked mapping in line with the given name list
// (already case-folded and de-duplicated by ReadList). Upstream failures
// leave the prior mapping untouched.
func (r *Reconciler) Reconcile(ctx context.Context, names []string) Result {
	var res Result

	fp := fingerprintOf(names)
	forced := !r.hasFingerprint || r.sinceFullSync >= r.forceEvery
	if r.hasFingerprint && fp == r.fingerprint && !forced && r.allResolved(names) {
		r.sinceFullSync++
		return res
	}

	res.Removed = r.dropUnlisted(names)

	// Unresolved names always need a lookup; a forced refresh re-fetches
	// everything to diff tier and display-name.
	var lookup []string
	for _, name := range names {
		if _, ok := r.Lookup(name); !ok || forced {
			lookup = append(lookup, name)
		}
	}

	if len(lookup) > 0 {
		users, err := r.api.UsersByLogin(ctx, lookup)
		if err != nil {
			// Empty result by policy: keep prior state, try again next cycle.
			telemetry.IncLookupFailure()
			slog.Warn("user lookup failed; keeping prior mapping", slog.Any("err", err))
			r.fingerprint = fp
			r.hasFingerprint = true
			r.sinceFullSync++
			return res
		}
		res.Added, res.Missing = r.merge(ctx, lookup, users)
		r.sinceFullSync = 0
	} else {
		r.sinceFullSync++
	}

	r.fingerprint = fp
	r.hasFingerprint = true

	if len(res.Added) > 0 || len(res.Removed) > 0 {
		slog.Info("watch list updated",
			slog.Int("tracked", len(r.entities)),
			slog.Any("added", res.Added),
			slog.Any("removed", res.Removed))
	}
	if len(res.Missing) > 0 {
		slog.Warn("names not resolvable upstream", slog.Any("missing", res.Missing))
	}
	return res
}

// fingerprintOf hashes the name list order-insensitively.
func fingerprintOf(names []string) uint64 {
	sorted := make([]string, len(names))
	copy(sorted, names)
	sort.Strings(sorted)
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(sorted, "\x00")))
	return h.Sum64()
}

func (r *Reconciler) allResolved(names []string) bool {
	for _, name := range names {
		if _, ok := r.Lookup(name); !ok {
			return false
		}
	}
	return true
}

// dropUnlisted removes entities no longer referenced by any listed name and
// prunes stale aliases.
func (r *Reconciler) dropUnlisted(names []string) []string {
	listed := map[string]bool{}
	for _, name := range names {
		listed[name] = true
	}
	for alias := range r.aliases {
		if !listed[alias] {
			delete(r.aliases, alias)
		}
	}
	referenced := map[string]bool{}
	for _, name := range names {
		referenced[name] = true
		if cur, ok := r.aliases[name]; ok {
			referenced[cur] = true
		}
	}
	var removed []string
	for login, ent := range r.entities {
		if referenced[login] {
			continue
		}
		delete(r.entities, login)
		delete(r.byID, ent.ID)
		removed = append(removed, login)
	}
	sort.Strings(removed)
	return removed
}

// merge applies a fresh users response for the looked-up names: new entities
// are added, stable entities are field-diffed, and names that vanished from
// the response are recovered through the id-based reverse lookup before being
// declared missing.
func (r *Reconciler) merge(ctx context.Context, lookup []string, users []twitchapi.User) (added, missing []string) {
	byLogin := map[string]twitchapi.User{}
	for _, u := range users {
		byLogin[u.Login] = u
	}

	for _, u := range users {
		switch prior, ok := r.entities[u.Login]; {
		case ok:
			r.diff(prior, u)
		case r.byID[u.ID] != "":
			// Known id under a different login: the channel renamed and the
			// file already lists the new handle.
			r.rekey(r.byID[u.ID], u)
		default:
			r.entities[u.Login] = newEntity(u)
			r.byID[u.ID] = u.Login
			added = append(added, u.Login)
		}
	}

	// Names we asked for but did not get back. A tracked entity behind such a
	// name presumably renamed; confirm by id before dropping.
	var recoverIDs []string
	recoverName := map[string]string{} // id -> listed name
	for _, name := range lookup {
		if _, ok := byLogin[name]; ok {
			continue
		}
		ent, tracked := r.Lookup(name)
		if !tracked {
			missing = append(missing, name)
			continue
		}
		if _, refreshed := byLogin[ent.Login]; refreshed {
			// Alias already points at a login present in the response.
			continue
		}
		recoverIDs = append(recoverIDs, ent.ID)
		recoverName[ent.ID] = name
	}
	if len(recoverIDs) > 0 {
		found, err := r.api.UsersByID(ctx, recoverIDs)
		if err != nil {
			// Keep the entities; next cycle retries the recovery.
			telemetry.IncLookupFailure()
			slog.Warn("reverse id lookup failed; keeping prior mapping", slog.Any("err", err))
			return added, missing
		}
		seen := map[string]bool{}
		for _, u := range found {
			seen[u.ID] = true
			old := r.byID[u.ID]
			r.rekey(old, u)
			r.aliases[recoverName[u.ID]] = u.Login
		}
		for _, id := range recoverIDs {
			if seen[id] {
				continue
			}
			// Reverse lookup failed too: the channel is gone.
			old := r.byID[id]
			delete(r.entities, old)
			delete(r.byID, id)
			missing = append(missing, recoverName[id])
		}
	}
	sort.Strings(added)
	sort.Strings(missing)
	return added, missing
}

// diff reports tier and display-name changes on an otherwise-stable entity.
func (r *Reconciler) diff(ent *Entity, u twitchapi.User) {
	if tier := ParseTier(u.BroadcasterType); tier != ent.Tier {
		r.pending = append(r.pending, ChangeEvent{
			Kind: TierChange, UserID: ent.ID, Login: ent.Login,
			Before: ent.Tier.String(), After: tier.String(),
		})
		ent.Tier = tier
	}
	if u.DisplayName != ent.DisplayName {
		r.pending = append(r.pending, ChangeEvent{
			Kind: DisplayNameChange, UserID: ent.ID, Login: ent.Login,
			Before: ent.DisplayName, After: u.DisplayName,
		})
		ent.DisplayName = u.DisplayName
	}
}

// rekey moves an entity to its new login, preserving live state and broadcast
// history, and emits exactly one login-change event.
func (r *Reconciler) rekey(oldLogin string, u twitchapi.User) {
	ent, ok := r.entities[oldLogin]
	if !ok {
		return
	}
	if oldLogin == u.Login {
		r.diff(ent, u)
		return
	}
	delete(r.entities, oldLogin)
	r.pending = append(r.pending, ChangeEvent{
		Kind: LoginChange, UserID: ent.ID, Login: u.Login,
		Before: oldLogin, After: u.Login,
	})
	ent.Login = u.Login
	r.entities[u.Login] = ent
	r.byID[ent.ID] = u.Login
	for alias, cur := range r.aliases {
		if cur == oldLogin {
			r.aliases[alias] = u.Login
		}
	}
	r.diff(ent, u)
}
