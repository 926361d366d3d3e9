// Package manifest parses HLS playlist text into a typed tag mapping and
// extracts the Twitch-specific timing metadata embedded in master playlists.
package manifest

import (
	"math"
	"strconv"
	"strings"
)

// header every playlist must start with; anything else is not a manifest.
const header = "#EXTM3U"

// Directives that legitimately appear more than once in a master playlist.
var repeating = map[string]bool{
	"#EXT-X-MEDIA":      true,
	"#EXT-X-STREAM-INF": true,
	"#EXTINF":           true,
}

// AttrMap holds the KEY=VALUE pairs carried by a single directive instance.
type AttrMap map[string]string

// Entry is the parsed payload of one directive name. Exactly one of the three
// shapes is populated: a scalar Value, a List for repeating directives, or
// Attrs for directives carrying attribute lists.
type Entry struct {
	Value string
	List  []string
	Attrs []AttrMap
}

// Playlist maps directive names to their parsed entries. Plain URI lines are
// collected under the synthetic "url" key.
type Playlist map[string]Entry

// Parse turns playlist text into a Playlist. Input that does not begin with
// #EXTM3U yields an empty Playlist; malformed lines are skipped, never an
// error. A positive limit stops parsing after that many lines. skipURLs
// leaves plain URI lines out of the result.
func Parse(src string, limit int, skipURLs bool) Playlist {
	out := Playlist{}
	if !strings.HasPrefix(strings.TrimLeft(src, "\uFEFF \t\r\n"), header) {
		return out
	}
	for i, line := range strings.Split(src, "\n") {
		if limit > 0 && i >= limit {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			if skipURLs || !hasScheme(line) {
				continue
			}
			e := out["url"]
			e.List = append(e.List, line)
			out["url"] = e
			continue
		}
		name, payload, hasPayload := strings.Cut(line, ":")
		if !hasPayload {
			if _, seen := out[name]; !seen {
				out[name] = Entry{}
			}
			continue
		}
		switch {
		case looksLikeAttrs(payload):
			e := out[name]
			e.Attrs = append(e.Attrs, parseAttrs(payload))
			out[name] = e
		case repeating[name]:
			e := out[name]
			e.List = append(e.List, payload)
			out[name] = e
		default:
			out[name] = Entry{Value: payload}
		}
	}
	return out
}

func hasScheme(line string) bool {
	return strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://")
}

// looksLikeAttrs reports whether the payload is a KEY=VALUE attribute list
// rather than a plain scalar. Attribute keys are upper-case with digits and
// dashes, e.g. SERVER-TIME or BANDWIDTH.
func looksLikeAttrs(payload string) bool {
	key, _, found := strings.Cut(payload, "=")
	if !found || key == "" {
		return false
	}
	for _, r := range key {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}

// parseAttrs splits a comma-separated KEY=VALUE list. Values may be quoted
// and may themselves contain commas, so the split only happens at a comma
// immediately followed by an upper-case letter.
func parseAttrs(payload string) AttrMap {
	attrs := AttrMap{}
	start := 0
	for i := 0; i < len(payload); i++ {
		if payload[i] != ',' || i+1 >= len(payload) {
			continue
		}
		if next := payload[i+1]; next >= 'A' && next <= 'Z' {
			putAttr(attrs, payload[start:i])
			start = i + 1
		}
	}
	putAttr(attrs, payload[start:])
	return attrs
}

func putAttr(attrs AttrMap, pair string) {
	key, val, found := strings.Cut(pair, "=")
	if !found || key == "" {
		return
	}
	attrs[key] = strings.Trim(val, `"`)
}

// Attr returns the named attribute from the first instance of a directive.
func (p Playlist) Attr(directive, key string) (string, bool) {
	e, ok := p[directive]
	if !ok || len(e.Attrs) == 0 {
		return "", false
	}
	v, ok := e.Attrs[0][key]
	return v, ok
}

// twitchInfo is the directive carrying server/stream timing on Twitch master
// playlists.
const twitchInfo = "#EXT-X-TWITCH-INFO"

// StartEpoch derives the broadcast start time, in unix seconds, from the
// SERVER-TIME and STREAM-TIME attributes: round(serverTime - streamTime).
// This is accurate to the second, unlike the coarser Helix started_at field.
func (p Playlist) StartEpoch() (int64, bool) {
	server, ok := p.Attr(twitchInfo, "SERVER-TIME")
	if !ok {
		return 0, false
	}
	stream, ok := p.Attr(twitchInfo, "STREAM-TIME")
	if !ok {
		return 0, false
	}
	st, err := strconv.ParseFloat(server, 64)
	if err != nil {
		return 0, false
	}
	el, err := strconv.ParseFloat(stream, 64)
	if err != nil {
		return 0, false
	}
	return int64(math.Round(st - el)), true
}

// BroadcastID returns the identifier of the live session the playlist
// describes.
func (p Playlist) BroadcastID() (string, bool) {
	id, ok := p.Attr(twitchInfo, "BROADCAST-ID")
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// HasVariants reports whether the playlist lists any renditions yet. A master
// playlist for a stream that just went live can carry timing metadata before
// any variant URL is published.
func (p Playlist) HasVariants() bool {
	if e, ok := p["url"]; ok && len(e.List) > 0 {
		return true
	}
	if e, ok := p["#EXT-X-STREAM-INF"]; ok && (len(e.Attrs) > 0 || len(e.List) > 0) {
		return true
	}
	return false
}
