package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/boxothing/TwitchLiveAlert/telemetry"
)

const (
	defaultTokenURL    = "https://id.twitch.tv/oauth2/token"
	defaultValidateURL = "https://id.twitch.tv/oauth2/validate"
)

// TokenSource obtains and caches a Twitch app access (client credentials)
// token. The token is persisted to a file named after the client id so a
// restart can reuse a still-valid token instead of burning a fresh exchange.
//
// A process-wide needs-refresh flag is raised when the batch polling path
// observes an unauthorized response; the scheduler refreshes at the top of
// the next cycle. Priority workers never raise the flag, so a single expiry
// triggers a single refresh.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	Dir          string // directory for the persisted token file; "" means cwd
	HTTPClient   *http.Client

	TokenURL    string // overridable for tests
	ValidateURL string

	mu     sync.Mutex
	token  string
	loaded bool

	needsRefresh atomic.Bool
}

// Token returns the cached app token, loading the persisted one on first use
// and validating it before trusting it. A missing or invalid persisted token
// triggers a client-credentials exchange.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != "" {
		return ts.token, nil
	}
	if !ts.loaded {
		ts.loaded = true
		if tok, err := os.ReadFile(ts.tokenFile()); err == nil {
			ts.token = strings.TrimSpace(string(tok))
			if ts.token != "" && ts.validateLocked(ctx) {
				slog.Info("reusing persisted app token", slog.String("file", ts.tokenFile()))
				return ts.token, nil
			}
			ts.token = ""
		}
	}
	if err := ts.refreshLocked(ctx); err != nil {
		return "", err
	}
	return ts.token, nil
}

// Validate checks the current token against the validation endpoint. It is
// true only when the endpoint accepts the token and reports it bound to this
// client id.
func (ts *TokenSource) Validate(ctx context.Context) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.validateLocked(ctx)
}

func (ts *TokenSource) validateLocked(ctx context.Context) bool {
	if ts.token == "" {
		return false
	}
	u := ts.ValidateURL
	if u == "" {
		u = defaultValidateURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "OAuth "+ts.token)
	resp, err := ts.http().Do(req)
	if err != nil {
		return false
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return false
	}
	var body struct {
		ClientID string `json:"client_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.ClientID == ts.ClientID
}

// Refresh forces a client-credentials exchange and persists the new token.
func (ts *TokenSource) Refresh(ctx context.Context) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.refreshLocked(ctx)
}

func (ts *TokenSource) refreshLocked(ctx context.Context) error {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return errors.New("missing client id/secret for twitch app token")
	}
	u := ts.TokenURL
	if u == "" {
		u = defaultTokenURL
	}
	cc := &clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     u,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cctx = context.WithValue(cctx, oauth2.HTTPClient, ts.http())
	tok, err := cc.Token(cctx)
	if err != nil {
		return fmt.Errorf("twitch token exchange: %w", err)
	}
	if tok.AccessToken == "" {
		return errors.New("empty access_token in twitch response")
	}
	ts.token = tok.AccessToken
	ts.persistLocked()
	telemetry.IncTokenRefresh()
	return nil
}

func (ts *TokenSource) persistLocked() {
	file := ts.tokenFile()
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("token dir create failed", slog.String("dir", dir), slog.Any("err", err))
			return
		}
	}
	if err := os.WriteFile(file, []byte(ts.token), 0o600); err != nil {
		slog.Warn("token persist failed", slog.String("file", file), slog.Any("err", err))
		return
	}
	slog.Info("app token refreshed", slog.String("file", file))
}

func (ts *TokenSource) tokenFile() string {
	return filepath.Join(ts.Dir, "token_"+ts.ClientID)
}

// FlagRefresh marks the token as known-invalid. Called by the gateway when
// the batch path sees a 401.
func (ts *TokenSource) FlagRefresh() { ts.needsRefresh.Store(true) }

// RefreshIfFlagged performs the pending refresh, if any, and clears the flag.
// The scheduler calls this at the top of every batch cycle.
func (ts *TokenSource) RefreshIfFlagged(ctx context.Context) {
	if !ts.needsRefresh.Swap(false) {
		return
	}
	if err := ts.Refresh(ctx); err != nil {
		slog.Warn("credential refresh failed", slog.Any("err", err))
		// Leave the flag down; the next 401 raises it again.
	}
}

func (ts *TokenSource) http() *http.Client {
	if ts.HTTPClient != nil {
		return ts.HTTPClient
	}
	return http.DefaultClient
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
