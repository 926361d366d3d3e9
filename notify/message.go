package notify

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"github.com/boxothing/TwitchLiveAlert/tracker"
)

// StreamNotification renders a stream-start event as an HTML message with a
// thumbnail URL the sink may attach.
func StreamNotification(ev tracker.StreamEvent) Notification {
	name := ev.DisplayName
	if name == "" {
		name = ev.Login
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<a href='https://www.twitch.tv/%s'>%s (%s)</a>", ev.Login, html.EscapeString(name), ev.Login)
	if ev.ViewerCount > 0 {
		fmt.Fprintf(&b, " (\U0001F441 <i>%d</i>)", ev.ViewerCount)
	}
	if !ev.StartedAt.IsZero() {
		local := ev.StartedAt.Local()
		fmt.Fprintf(&b, "\nStarted: %s (<i>%s</i> elapsed)", local.Format("2006-01-02 03:04:05 PM"), elapsedSince(ev.StartedAt))
	}
	if ev.Title != "" {
		fmt.Fprintf(&b, "\nTitle: <b>%s</b>", html.EscapeString(strings.TrimSpace(ev.Title)))
	}
	if ev.GameName != "" {
		game := html.EscapeString(ev.GameName)
		fmt.Fprintf(&b, "\nCategory: <a href='https://www.twitch.tv/directory/game/%s'>%s</a>", url.PathEscape(ev.GameName), game)
	}
	fp := Fingerprint(ev.UserID, ev.StreamID, ev.StartedAt)
	fmt.Fprintf(&b, "\n<code>%s</code>", fp)
	return Notification{
		Body:         b.String(),
		ThumbnailURL: ThumbnailURL(ev.Login),
		Fingerprint:  fp,
	}
}

// ChangeNotification renders an identity-change event.
func ChangeNotification(ev tracker.ChangeEvent) Notification {
	var what string
	switch ev.Kind {
	case tracker.TierChange:
		what = "tier"
	case tracker.DisplayNameChange:
		what = "display name"
	default:
		what = "handle"
	}
	body := fmt.Sprintf("<a href='https://www.twitch.tv/%s'>%s</a> %s changed: <b>%s</b> → <b>%s</b>",
		ev.Login, ev.Login, what, html.EscapeString(ev.Before), html.EscapeString(ev.After))
	fp := Fingerprint(ev.UserID, ev.Kind.String(), time.Now())
	return Notification{Body: body, Fingerprint: fp}
}

// ThumbnailURL builds the live preview URL with a cache-busting query param.
func ThumbnailURL(login string) string {
	return fmt.Sprintf("https://static-cdn.jtvnw.net/previews-ttv/live_user_%s-640x360.jpg?a=%d", login, time.Now().Unix())
}

func elapsedSince(start time.Time) string {
	d := time.Since(start)
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
