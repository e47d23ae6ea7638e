// Package perf flags gateway callbacks that hold up the event loop. Events
// are delivered synchronously, so a callback that blocks delays every event
// queued behind it.
package perf

import (
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/small-frappuccino/kokobot/pkg/log"
	"github.com/small-frappuccino/kokobot/pkg/util"
)

// EnvThresholdMs overrides the slow-callback threshold; 0 disables tracking.
const EnvThresholdMs = "KOKOBOT_GATEWAY_PERF_THRESHOLD_MS"

const defaultThresholdMs = int64(200)

var threshold atomic.Int64

func init() {
	ms := util.EnvInt64(EnvThresholdMs, defaultThresholdMs)
	threshold.Store(int64(time.Duration(max(ms, 0)) * time.Millisecond))
}

// SetThreshold replaces the threshold read from the environment.
func SetThreshold(d time.Duration) { threshold.Store(int64(max(d, 0))) }

// Threshold reports the current threshold.
func Threshold() time.Duration { return time.Duration(threshold.Load()) }

// StartGatewayEvent starts timing a gateway callback. The returned func logs
// a warning when the callback ran longer than the threshold.
func StartGatewayEvent(event string, attrs ...slog.Attr) func() {
	limit := Threshold()
	if limit <= 0 {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		if duration < limit {
			return
		}
		name := strings.TrimSpace(event)
		if name == "" {
			name = "unknown"
		}
		args := make([]any, 0, len(attrs)+3)
		args = append(args,
			slog.String("event", name),
			slog.Duration("duration", duration),
			slog.Int64("duration_ms", duration.Milliseconds()),
		)
		for _, a := range attrs {
			args = append(args, a)
		}
		log.DiscordLogger().Warn("Slow gateway event handler", args...)
	}
}
