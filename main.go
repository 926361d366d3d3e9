// Command TwitchLiveAlert watches two lists of Twitch channels and sends a
// Telegram notification when one goes live. It:
//   - Loads configuration and initializes structured logging.
//   - Acquires a Twitch app access token (persisted per client id).
//   - Runs the batch tracker loop and one priority worker per
//     priority-listed channel.
//   - Exposes a minimal HTTP server with /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/boxothing/TwitchLiveAlert/config"
	"github.com/boxothing/TwitchLiveAlert/notify"
	"github.com/boxothing/TwitchLiveAlert/server"
	"github.com/boxothing/TwitchLiveAlert/telemetry"
	"github.com/boxothing/TwitchLiveAlert/tracker"
	"github.com/boxothing/TwitchLiveAlert/twitchapi"
)

const version = "2.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production
	// relies on real env).
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateTwitchReady(); err != nil {
		slog.Error("twitch credentials missing", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("twitch-live-alert", version)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
		Dir:          cfg.TokenDir,
	}
	tctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if tok, err := tokens.Token(tctx); err != nil {
		slog.Warn("twitch app token fetch failed; will retry on demand", slog.Any("err", err))
	} else if len(tok) > 6 {
		slog.Info("twitch app token acquired", slog.String("tail", "***"+tok[len(tok)-6:]))
	}
	cancel()

	limiter := rate.NewLimiter(rate.Limit(5), 10)
	helix := &twitchapi.HelixClient{
		Tokens:        tokens,
		ClientID:      cfg.TwitchClientID,
		Limiter:       limiter,
		FromBatchPath: true,
	}
	// Priority workers get a gateway that never raises the refresh flag, so a
	// single expiry triggers a single refresh from the batch loop.
	workerHelix := &twitchapi.HelixClient{
		Tokens:   tokens,
		ClientID: cfg.TwitchClientID,
		Limiter:  limiter,
	}
	usher := &twitchapi.UsherClient{ClientID: cfg.TwitchClientID}

	sink, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, cfg.SendThumbnail)
	if err != nil {
		slog.Error("telegram sink unavailable", slog.Any("err", err))
		if err := cfg.ValidateTelegramReady(); err != nil {
			slog.Error("telegram credentials missing", slog.Any("err", err))
		}
		os.Exit(1)
	}
	banner := "TwitchLiveAlert " + version + " started"
	if err := sink.Announce(ctx, banner); err != nil {
		slog.Warn("startup banner failed", slog.Any("err", err))
	}

	dispatcher := notify.NewDispatcher(sink, cfg.NewAlertsOnly)
	svc := tracker.NewService(tracker.ServiceConfig{
		BatchListFile:    cfg.UserListFile,
		PriorityListFile: cfg.PriorityListFile,
		Interval:         cfg.RefreshInterval,
		PriorityInterval: cfg.PriorityInterval,
		SkipInitial:      cfg.NewAlertsOnly,
	}, tokens, helix, workerHelix, usher, dispatcher)

	if cfg.HTTPAddr != "" {
		go func() {
			if err := server.Start(ctx, svc, cfg.HTTPAddr); err != nil {
				slog.Error("status server exited with error", slog.Any("err", err))
			}
		}()
	}

	svc.Run(ctx)
}
