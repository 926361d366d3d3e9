package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// PlaylistToken is the signed token pair authorizing a master playlist fetch.
type PlaylistToken struct {
	Token string `json:"token"`
	Sig   string `json:"sig"`
}

// UsherClient fetches channel playlist access tokens and master playlists.
// Unlike Helix this path is unauthenticated: it never touches the app token
// and cannot raise the credential refresh flag.
type UsherClient struct {
	ClientID   string
	APIBase    string // default https://api.twitch.tv
	UsherBase  string // default https://usher.ttvnw.net
	HTTPClient *http.Client
}

func (uc *UsherClient) apiBase() string {
	if uc.APIBase != "" {
		return uc.APIBase
	}
	return "https://api.twitch.tv"
}

func (uc *UsherClient) usherBase() string {
	if uc.UsherBase != "" {
		return uc.UsherBase
	}
	return "https://usher.ttvnw.net"
}

func (uc *UsherClient) http() *http.Client {
	if uc.HTTPClient != nil {
		return uc.HTTPClient
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// PlaylistToken requests a signed access token for a channel's playlist.
func (uc *UsherClient) PlaylistToken(ctx context.Context, login string) (PlaylistToken, error) {
	u := fmt.Sprintf("%s/api/channels/%s/access_token?client_id=%s", uc.apiBase(), url.PathEscape(login), url.QueryEscape(uc.ClientID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return PlaylistToken{}, err
	}
	resp, err := uc.http().Do(req)
	if err != nil {
		return PlaylistToken{}, err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return PlaylistToken{}, fmt.Errorf("playlist token for %s: unexpected status %s", login, resp.Status)
	}
	var tok PlaylistToken
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return PlaylistToken{}, err
	}
	if tok.Token == "" || tok.Sig == "" {
		return PlaylistToken{}, fmt.Errorf("playlist token for %s: empty token or sig", login)
	}
	return tok, nil
}

// MasterPlaylist fetches the channel's master playlist text. A 404 simply
// means the channel is offline; that is reported as an error and treated by
// callers as "no change".
func (uc *UsherClient) MasterPlaylist(ctx context.Context, login string, tok PlaylistToken) (string, error) {
	q := url.Values{}
	q.Set("token", tok.Token)
	q.Set("sig", tok.Sig)
	q.Set("allow_source", "true")
	q.Set("type", "any")
	u := fmt.Sprintf("%s/api/channel/hls/%s.m3u8?%s", uc.usherBase(), url.PathEscape(login), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	resp, err := uc.http().Do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("master playlist for %s: unexpected status %s", login, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
