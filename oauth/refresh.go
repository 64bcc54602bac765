// Package oauth provides generic token refresh scheduling for providers whose
// tokens are persisted in the oauth_tokens table. It performs jittered checks
// and refreshes when expiry falls within a configured window.
package oauth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/cliptgg/clipt-server/db"
)

// RefreshFunc performs provider-specific refresh and returns (access, refresh, expiry, scope)
type RefreshFunc func(ctx context.Context, refreshToken string) (string, string, time.Time, string, error)

// refreshDue reports whether a token expiring at exp should be refreshed now.
func refreshDue(exp time.Time, window time.Duration) bool {
	return time.Until(exp) <= window
}

// StartRefresher launches a goroutine that periodically checks an oauth token row and refreshes it.
// provider: key in oauth_tokens table.
// interval: how often to wake up and check.
// window: refresh when remaining lifetime <= window.
func StartRefresher(ctx context.Context, dbx *sql.DB, provider string, interval, window time.Duration, fn RefreshFunc) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			// Per-iteration jitter (±20% of interval) for scheduling diversity.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
			_, rt, exp, scope, err := db.GetOAuthToken(ctx, dbx, provider)
			if err != nil || rt == "" {
				continue
			}
			if !refreshDue(exp, window) {
				continue
			}
			// Small pre-refresh jitter to avoid stampedes when many pods see same expiry
			//nolint:gosec // G404: math/rand is sufficient for jitter, not used for security
			pre := time.Duration(rand.Int63n(int64(5 * time.Second)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(pre):
			}
			ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
			newAT, newRT, newExp, newScope, err := fn(ctx2, rt)
			cancel()
			if err != nil {
				slog.Warn("token refresh failed", slog.String("provider", provider), slog.Any("err", err))
				continue
			}
			if newRT == "" {
				newRT = rt
			}
			if newScope == "" {
				newScope = scope
			}
			if err := db.UpsertOAuthToken(ctx, dbx, provider, newAT, newRT, newExp, strings.TrimSpace(newScope)); err != nil {
				slog.Warn("token persist failed", slog.String("provider", provider), slog.Any("err", err))
				continue
			}
			slog.Info("token refreshed", slog.String("provider", provider))
		}
	}()
}
