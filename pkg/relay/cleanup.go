package relay

import (
	"time"

	"github.com/tinyland-inc/relayclaw/pkg/config"
	"github.com/tinyland-inc/relayclaw/pkg/logger"
	"github.com/tinyland-inc/relayclaw/pkg/store"
	"github.com/tinyland-inc/relayclaw/pkg/telemetry"
)

// Cleanup evicts mappings past the retention window and recovers relay
// requests that outlived twice the collection ceiling. Run at startup and
// then on the configured cron schedule.
func Cleanup(cfg config.RelayConfig, mappings *store.MappingRegistry, tracker *store.RequestTracker) {
	evicted, err := mappings.EvictOlderThan(time.Now().UTC().Add(-cfg.RetentionWindow()))
	if err != nil {
		logger.ErrorCF("cleanup", "Mapping eviction failed", map[string]any{"error": err.Error()})
	} else if evicted > 0 {
		telemetry.CountMappingsEvicted(evicted)
		logger.InfoCF("cleanup", "Evicted old mappings", map[string]any{"count": evicted})
	}

	recovered, err := tracker.RecoverStale(cfg.StaleRequestAge())
	if err != nil {
		logger.ErrorCF("cleanup", "Stale request recovery failed", map[string]any{"error": err.Error()})
	} else if recovered > 0 {
		telemetry.CountRequestsRecovered(recovered)
		logger.InfoCF("cleanup", "Recovered stale requests", map[string]any{"count": recovered})
	}
}
