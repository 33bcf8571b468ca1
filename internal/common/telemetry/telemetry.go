// File path: internal/common/telemetry/telemetry.go
package telemetry

import (
	"context"
	"expvar"
	"strings"
	"sync"
	"time"

	"github.com/meridianhq/opql/internal/common"
)

type spanKey struct{}

type span struct {
	name  string
	start time.Time
}

var (
	initOnce sync.Once

	queryTotal     *expvar.Int
	queryErrors    *expvar.Int
	queryLatencyMS *expvar.Int

	stageTotal     *expvar.Map
	stageLatencyMS *expvar.Map

	streamChunksTotal *expvar.Int
	streamRowsTotal   *expvar.Int

	throttledTotal    *expvar.Int
	blockedPrincipals *expvar.Int

	scheduleFallbacks *expvar.Int
)

func ensureInit() {
	initOnce.Do(func() {
		queryTotal = expvar.NewInt("opql_queries_total")
		queryErrors = expvar.NewInt("opql_query_errors_total")
		queryLatencyMS = expvar.NewInt("opql_query_latency_ms")

		stageTotal = expvar.NewMap("opql_stage_total")
		stageLatencyMS = expvar.NewMap("opql_stage_latency_ms")

		streamChunksTotal = expvar.NewInt("opql_stream_chunks_total")
		streamRowsTotal = expvar.NewInt("opql_stream_rows_total")

		throttledTotal = expvar.NewInt("opql_throttled_total")
		blockedPrincipals = expvar.NewInt("opql_blocked_principals")

		scheduleFallbacks = expvar.NewInt("opql_schedule_fallbacks_total")
	})
}

// StartSpan opens a named timing span and returns a completion callback that
// logs the duration at debug level.
func StartSpan(ctx context.Context, name string) (context.Context, func(attrs ...interface{})) {
	ensureInit()
	sp := &span{name: name, start: time.Now()}
	ctx = context.WithValue(ctx, spanKey{}, sp)
	logger := common.Logger()
	logger.Debug("trace: start", "span", name)
	return ctx, func(attrs ...interface{}) {
		if sp == nil {
			return
		}
		duration := time.Since(sp.start)
		logger.Debug("trace: end", append([]interface{}{"span", name, "dur", duration}, attrs...)...)
	}
}

// RecordQuery accounts one engine execution.
func RecordQuery(duration time.Duration, failed bool) {
	ensureInit()
	queryTotal.Add(1)
	if failed {
		queryErrors.Add(1)
	}
	if duration > 0 {
		queryLatencyMS.Add(duration.Milliseconds())
	}
}

// RecordStage accounts one plan stage execution.
func RecordStage(name string, duration time.Duration) {
	ensureInit()
	key := strings.TrimSpace(strings.ToLower(name))
	if key == "" {
		key = "unknown"
	}
	stageTotal.Add(key, 1)
	if duration > 0 {
		stageLatencyMS.Add(key, duration.Milliseconds())
	}
}

// RecordStreamChunk accounts one emitted stream chunk.
func RecordStreamChunk(rows int) {
	ensureInit()
	streamChunksTotal.Add(1)
	if rows > 0 {
		streamRowsTotal.Add(int64(rows))
	}
}

// RecordThrottle accounts one rate-limited call.
func RecordThrottle() {
	ensureInit()
	throttledTotal.Add(1)
}

// RecordBlockedPrincipal accounts a principal entering the blocked set.
func RecordBlockedPrincipal() {
	ensureInit()
	blockedPrincipals.Add(1)
}

// RecordScheduleFallback accounts one schedule store falling through the
// persistence chain.
func RecordScheduleFallback() {
	ensureInit()
	scheduleFallbacks.Add(1)
}

// SpanDuration reports how long the span attached to ctx has been running.
func SpanDuration(ctx context.Context) time.Duration {
	sp, _ := ctx.Value(spanKey{}).(*span)
	if sp == nil {
		return 0
	}
	return time.Since(sp.start)
}
