// Package notify turns detected stream and identity events into outbound
// notifications: dedup fingerprinting, skip-initial-state suppression, send
// pacing, and the Telegram sink.
package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/boxothing/TwitchLiveAlert/telemetry"
	"github.com/boxothing/TwitchLiveAlert/tracker"
)

// fingerprintLen is the hex prefix length kept from the event hash.
const fingerprintLen = 12

// Notification is the payload handed to a sink. Delivery is best effort;
// failures are logged and the event is not retried until the channel's next
// broadcast.
type Notification struct {
	Body         string
	ThumbnailURL string
	Fingerprint  string
}

// Sink delivers a notification downstream.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// Dispatcher applies dedup fingerprints and pacing before handing events to
// the sink. The skip-initial gate covers the batch set only; each priority
// worker suppresses its own first detection independently.
type Dispatcher struct {
	sink        Sink
	limiter     *rate.Limiter
	skipInitial bool
}

// sendSpacing matches the upstream-friendly delay between consecutive alerts.
const sendSpacing = 2 * time.Second

func NewDispatcher(sink Sink, skipInitial bool) *Dispatcher {
	return &Dispatcher{
		sink:        sink,
		limiter:     rate.NewLimiter(rate.Every(sendSpacing), 1),
		skipInitial: skipInitial,
	}
}

// StreamStarted dispatches a batch-cycle event set. When skip-initial-state
// is active the first cycle's set is consumed silently, whether or not it is
// empty: the gate covers only broadcasts already running at startup, never a
// stream that starts later.
func (d *Dispatcher) StreamStarted(ctx context.Context, events []tracker.StreamEvent) {
	if d.skipInitial {
		d.skipInitial = false
		if len(events) > 0 {
			slog.Info("suppressing initial live set", slog.Int("count", len(events)))
		}
		return
	}
	for _, ev := range events {
		d.send(ctx, StreamNotification(ev))
	}
}

// PriorityStream dispatches a single priority-worker event. The worker has
// already applied its own initial-state gate.
func (d *Dispatcher) PriorityStream(ctx context.Context, ev tracker.StreamEvent) {
	d.send(ctx, StreamNotification(ev))
}

// ChangesDetected dispatches the identity-change events flushed once per
// reconciliation cycle.
func (d *Dispatcher) ChangesDetected(ctx context.Context, events []tracker.ChangeEvent) {
	for _, ev := range events {
		d.send(ctx, ChangeNotification(ev))
	}
}

func (d *Dispatcher) send(ctx context.Context, n Notification) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}
	if err := d.sink.Send(ctx, n); err != nil {
		telemetry.IncAlertFailed()
		slog.Warn("notification delivery failed", slog.String("fingerprint", n.Fingerprint), slog.Any("err", err))
		return
	}
	telemetry.IncAlertSent()
	slog.Info("notification sent", slog.String("fingerprint", n.Fingerprint))
}

// Fingerprint derives the dedup hash for one broadcast: entity id, broadcast
// id and start epoch, truncated to a fixed prefix. It rides along in the
// payload for downstream dedup and troubleshooting.
func Fingerprint(userID, streamID string, start time.Time) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%d", userID, streamID, start.Unix())))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
