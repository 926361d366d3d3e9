// Package twitchapi contains the Twitch API surface the alerter depends on:
// an app access token source with file persistence, batched Helix lookups for
// users, streams and games, and the unauthenticated usher playlist path used
// for sub-second start times.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// ErrUnauthorized marks a 401 response; callers on the batch path react by
// flagging a credential refresh.
var ErrUnauthorized = errors.New("twitch: unauthorized")

// pageSize is the Helix cap on identifiers per request; it also keeps the
// request URL within limits.
const pageSize = 99

// SentinelLogin is appended to every batched user lookup and stripped from
// the result. A response containing only the sentinel means "lookup worked,
// none of the requested names exist", which is otherwise indistinguishable
// from a failed call.
const SentinelLogin = "twitch"

// User is a Helix user record.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	BroadcasterType string `json:"broadcaster_type"`
}

// Stream is a live entry from the Helix streams endpoint.
type Stream struct {
	ID          string
	UserID      string
	UserLogin   string
	UserName    string
	GameID      string
	Title       string
	ViewerCount int
	StartedAt   time.Time
}

// Game is a Helix category record.
type Game struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HelixClient executes authenticated batched lookups. All methods page at 99
// identifiers per call and tolerate partially failing pages by returning what
// was decoded so far along with the error.
type HelixClient struct {
	Tokens     *TokenSource
	ClientID   string
	BaseURL    string // default https://api.twitch.tv/helix
	HTTPClient *http.Client
	Limiter    *rate.Limiter // optional; bounds request rate across callers

	// FromBatchPath controls whether a 401 raises the process-wide refresh
	// flag. Priority workers use a copy with this unset.
	FromBatchPath bool
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return "https://api.twitch.tv/helix"
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// UsersByLogin resolves login names to user records. The sentinel login is
// added to each page; a page answering with no rows at all is reported as an
// error rather than "all names unknown".
func (hc *HelixClient) UsersByLogin(ctx context.Context, logins []string) ([]User, error) {
	return hc.users(ctx, "login", logins)
}

// UsersByID resolves user ids to user records; used to recover entities whose
// login changed upstream.
func (hc *HelixClient) UsersByID(ctx context.Context, ids []string) ([]User, error) {
	return hc.users(ctx, "id", ids)
}

func (hc *HelixClient) users(ctx context.Context, param string, keys []string) ([]User, error) {
	var out []User
	for start := 0; start < len(keys); start += pageSize {
		end := min(start+pageSize, len(keys))
		q := url.Values{}
		for _, k := range keys[start:end] {
			q.Add(param, k)
		}
		q.Add("login", SentinelLogin)
		var body struct {
			Data []User `json:"data"`
		}
		if err := hc.get(ctx, "/users", q, &body); err != nil {
			return out, err
		}
		sentinelSeen := false
		for _, u := range body.Data {
			if u.Login == SentinelLogin {
				sentinelSeen = true
				continue
			}
			out = append(out, u)
		}
		if !sentinelSeen {
			return out, fmt.Errorf("users page missing sentinel %q: malformed response", SentinelLogin)
		}
	}
	return out, nil
}

// Streams returns the currently-live streams among the given logins. Logins
// absent from the result are offline.
func (hc *HelixClient) Streams(ctx context.Context, logins []string) ([]Stream, error) {
	var out []Stream
	for start := 0; start < len(logins); start += pageSize {
		end := min(start+pageSize, len(logins))
		q := url.Values{}
		for _, l := range logins[start:end] {
			q.Add("user_login", l)
		}
		var body struct {
			Data []struct {
				ID          string `json:"id"`
				UserID      string `json:"user_id"`
				UserLogin   string `json:"user_login"`
				UserName    string `json:"user_name"`
				GameID      string `json:"game_id"`
				Title       string `json:"title"`
				ViewerCount int    `json:"viewer_count"`
				StartedAt   string `json:"started_at"`
			} `json:"data"`
		}
		if err := hc.get(ctx, "/streams", q, &body); err != nil {
			return out, err
		}
		for _, s := range body.Data {
			out = append(out, Stream{
				ID:          s.ID,
				UserID:      s.UserID,
				UserLogin:   s.UserLogin,
				UserName:    s.UserName,
				GameID:      s.GameID,
				Title:       s.Title,
				ViewerCount: s.ViewerCount,
				StartedAt:   ParseStreamTime(s.StartedAt),
			})
		}
	}
	return out, nil
}

// Games resolves category ids to names.
func (hc *HelixClient) Games(ctx context.Context, ids []string) ([]Game, error) {
	var out []Game
	for start := 0; start < len(ids); start += pageSize {
		end := min(start+pageSize, len(ids))
		q := url.Values{}
		for _, id := range ids[start:end] {
			q.Add("id", id)
		}
		var body struct {
			Data []Game `json:"data"`
		}
		if err := hc.get(ctx, "/games", q, &body); err != nil {
			return out, err
		}
		out = append(out, body.Data...)
	}
	return out, nil
}

func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, dst any) error {
	if hc.Limiter != nil {
		if err := hc.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	tok, err := hc.Tokens.Token(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.base()+path, nil)
	if err != nil {
		return err
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)
	if resp.StatusCode == http.StatusUnauthorized {
		if hc.FromBatchPath {
			hc.Tokens.FlagRefresh()
		}
		return fmt.Errorf("%s: %w", path, ErrUnauthorized)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// ParseStreamTime parses the Helix started_at timestamp, tolerating both the
// Z-suffixed and bare ISO-8601 forms.
func ParseStreamTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
