package chat

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/cliptgg/clipt-server/config"
	"github.com/cliptgg/clipt-server/stream"
)

// StartMirrorRelay polls for live streams with a linked Twitch channel and
// mirrors their Twitch chat into chat_messages. One IRC client per mirrored
// stream; a relay stops when its stream goes offline or drops the link.
func StartMirrorRelay(ctx context.Context, db *sql.DB, cfg *config.Config) {
	if err := cfg.ValidateMirrorReady(); err != nil {
		slog.Info("chat mirror disabled", slog.Any("reason", err))
		return
	}
	pollEvery := cfg.MirrorPollInterval
	if pollEvery <= 0 {
		pollEvery = 30 * time.Second
	}

	running := make(map[string]context.CancelFunc) // stream id -> relay cancel

	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	slog.Info("chat mirror: started poller", slog.Duration("interval", pollEvery))
	for {
		live, err := stream.ListLiveMirrored(ctx, db)
		if err != nil {
			slog.Debug("chat mirror: list live streams", slog.Any("err", err))
		} else {
			want := make(map[string]string, len(live))
			for _, s := range live {
				want[s.ID] = s.MirrorChannel
			}
			// Stop relays whose stream ended or unlinked.
			for id, cancel := range running {
				if _, ok := want[id]; !ok {
					cancel()
					delete(running, id)
					slog.Info("chat mirror: relay stopped", slog.String("stream_id", id))
				}
			}
			// Start relays for newly live mirrored streams.
			for id, channel := range want {
				if _, ok := running[id]; ok {
					continue
				}
				relayCtx, cancel := context.WithCancel(ctx)
				running[id] = cancel
				go runMirror(relayCtx, db, cfg, id, channel)
				slog.Info("chat mirror: relay started", slog.String("stream_id", id), slog.String("channel", channel))
			}
		}
		select {
		case <-ctx.Done():
			for _, cancel := range running {
				cancel()
			}
			return
		case <-ticker.C:
		}
	}
}

// ircAddr overrides the IRC server address in tests. Empty means the real
// Twitch chat endpoint.
var ircAddr string

// runMirror joins one Twitch channel and persists its messages under streamID.
// Connect failures and dropped sessions are retried with capped exponential
// backoff until ctx is cancelled, so a transient IRC outage does not
// permanently kill the mirror for a still-live stream.
func runMirror(ctx context.Context, db *sql.DB, cfg *config.Config, streamID, channel string) {
	backoff := time.Second
	for {
		started := time.Now()
		if err := mirrorOnce(ctx, db, cfg, streamID, channel); err != nil {
			slog.Error("chat mirror: twitch connect error", slog.Any("err", err), slog.String("channel", channel))
		}
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > time.Minute {
			backoff = time.Second
		}
		slog.Info("chat mirror: reconnecting", slog.String("channel", channel), slog.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

// nextBackoff doubles the delay up to a one-minute cap.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// mirrorOnce runs a single IRC session. It returns when the connection drops
// or ctx is cancelled.
func mirrorOnce(ctx context.Context, db *sql.DB, cfg *config.Config, streamID, channel string) error {
	client := twitch.NewClient(cfg.TwitchBotUsername, cfg.TwitchBotToken)
	if ircAddr != "" {
		client.IrcAddress = ircAddr
		client.TLS = false
	}

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		if _, err := db.ExecContext(ctx,
			`INSERT INTO chat_messages (stream_id, username, message, is_command, created_at) VALUES ($1,$2,$3,FALSE,NOW())`,
			streamID, "twitch:"+msg.User.Name, msg.Message); err != nil {
			slog.Error("chat mirror: failed to insert message", slog.Any("err", err), slog.String("stream_id", streamID))
		}
	})

	stop := context.AfterFunc(ctx, func() { client.Disconnect() })
	defer stop()

	client.Join(channel)
	return client.Connect()
}
