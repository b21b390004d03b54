// Package telemetry provides Prometheus metrics for the relay gateway.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	RelaysStarted  prometheus.Counter
	RelaysRejected prometheus.Counter
	RelaysComplete prometheus.Counter
	RelaysTimedOut prometheus.Counter
	RelaysFailed   prometheus.Counter

	ResponsesCollected prometheus.Counter
	ResponsesMirrored  prometheus.Counter

	EditsScheduled  prometheus.Counter
	EditFlushes     prometheus.Counter
	EditFlushErrors prometheus.Counter
	EditsSuppressed prometheus.Counter

	MappingsEvicted   prometheus.Counter
	RequestsRecovered prometheus.Counter
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RelaysStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "relayclaw_relays_started_total", Help: "Relay requests accepted"})
		RelaysRejected = promauto.NewCounter(prometheus.CounterOpts{Name: "relayclaw_relays_rejected_total", Help: "Relay requests rejected (already active, cooldown, not allowed)"})
		RelaysComplete = promauto.NewCounter(prometheus.CounterOpts{Name: "relayclaw_relays_completed_total", Help: "Relay requests completed with a mirrored batch"})
		RelaysTimedOut = promauto.NewCounter(prometheus.CounterOpts{Name: "relayclaw_relays_timed_out_total", Help: "Relay requests that timed out with no responses"})
		RelaysFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "relayclaw_relays_failed_total", Help: "Relay requests that failed on transport or storage errors"})
		ResponsesCollected = promauto.NewCounter(prometheus.CounterOpts{Name: "relayclaw_responses_collected_total", Help: "Inbound responses correlated to an active relay"})
		ResponsesMirrored = promauto.NewCounter(prometheus.CounterOpts{Name: "relayclaw_responses_mirrored_total", Help: "Responses mirrored back to the originating conversation"})
		EditsScheduled = promauto.NewCounter(prometheus.CounterOpts{Name: "relayclaw_edits_scheduled_total", Help: "Upstream edit events scheduled for debounced sync"})
		EditFlushes = promauto.NewCounter(prometheus.CounterOpts{Name: "relayclaw_edit_flushes_total", Help: "Coalesced edit flushes pushed to the transport"})
		EditFlushErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "relayclaw_edit_flush_errors_total", Help: "Edit flushes that failed and were left for the next burst"})
		EditsSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "relayclaw_edits_suppressed_total", Help: "Edit flushes skipped because the content hash was unchanged"})
		MappingsEvicted = promauto.NewCounter(prometheus.CounterOpts{Name: "relayclaw_mappings_evicted_total", Help: "Message mappings removed by the retention sweep"})
		RequestsRecovered = promauto.NewCounter(prometheus.CounterOpts{Name: "relayclaw_requests_recovered_total", Help: "Stale relay requests recovered at startup or by the sweep"})
	})
}

// inc is nil-safe so library code can count without requiring Init in tests.
func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func CountRelayStarted()      { inc(RelaysStarted) }
func CountRelayRejected()     { inc(RelaysRejected) }
func CountRelayCompleted()    { inc(RelaysComplete) }
func CountRelayTimedOut()     { inc(RelaysTimedOut) }
func CountRelayFailed()       { inc(RelaysFailed) }
func CountResponseCollected() { inc(ResponsesCollected) }
func CountResponseMirrored()  { inc(ResponsesMirrored) }
func CountEditScheduled()     { inc(EditsScheduled) }
func CountEditFlush()         { inc(EditFlushes) }
func CountEditFlushError()    { inc(EditFlushErrors) }
func CountEditSuppressed()    { inc(EditsSuppressed) }

func CountMappingsEvicted(n int) {
	if MappingsEvicted != nil {
		MappingsEvicted.Add(float64(n))
	}
}

func CountRequestsRecovered(n int) {
	if RequestsRecovered != nil {
		RequestsRecovered.Add(float64(n))
	}
}
