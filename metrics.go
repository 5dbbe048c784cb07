package gatehouse

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventMetrics tracks event-related metrics.
var EventMetrics = struct {
	EventsTotal    *prometheus.CounterVec
	EventsDropped  *prometheus.CounterVec
	GatewayLatency *prometheus.GaugeVec
	VoiceLatency   *prometheus.GaugeVec
}{
	EventsTotal: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_events_total",
			Help: "Total number of gateway events processed, split by identifier and event type",
		},
		[]string{"identifier", "event_type"},
	),
	EventsDropped: promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gatehouse_events_dropped_total",
			Help: "Events dropped because a referenced entity could not be resolved",
		},
		[]string{"identifier", "event_type"},
	),
	GatewayLatency: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatehouse_gateway_latency_seconds",
			Help: "Gateway latency measured by heartbeat round trip",
		},
		[]string{"identifier", "shard_id"},
	),
	VoiceLatency: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatehouse_voice_latency_seconds",
			Help: "Voice control-channel latency measured by heartbeat round trip",
		},
		[]string{"identifier", "guild_id"},
	),
}

// CacheMetrics tracks the sizes of the entity collections.
var CacheMetrics = struct {
	Entries    *prometheus.GaugeVec
	Tombstones *prometheus.GaugeVec
}{
	Entries: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatehouse_cache_entries",
			Help: "Active entries per entity collection",
		},
		[]string{"identifier", "collection"},
	),
	Tombstones: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatehouse_cache_tombstones",
			Help: "Tombstoned entries awaiting reuse per entity collection",
		},
		[]string{"identifier", "collection"},
	),
}

// ShardMetrics tracks shard lifecycle status.
var ShardMetrics = struct {
	Status *prometheus.GaugeVec
}{
	Status: promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gatehouse_shard_status",
			Help: "Lifecycle status of each shard",
		},
		[]string{"identifier", "shard_id"},
	),
}

func RecordEvent(identifier, eventType string) {
	EventMetrics.EventsTotal.WithLabelValues(identifier, eventType).Inc()
}

func RecordDroppedEvent(identifier, eventType string) {
	EventMetrics.EventsDropped.WithLabelValues(identifier, eventType).Inc()
}

func UpdateGatewayLatency(identifier string, shardID int32, latencySeconds float64) {
	EventMetrics.GatewayLatency.WithLabelValues(identifier, strconv.Itoa(int(shardID))).Set(latencySeconds)
}

func UpdateVoiceLatency(identifier, guildID string, latencySeconds float64) {
	EventMetrics.VoiceLatency.WithLabelValues(identifier, guildID).Set(latencySeconds)
}

func UpdateShardStatus(identifier string, shardID int32, status ShardStatus) {
	ShardMetrics.Status.WithLabelValues(identifier, strconv.Itoa(int(shardID))).Set(float64(status))
}

func UpdateCacheSize(identifier, collection string, entries, tombstones int) {
	CacheMetrics.Entries.WithLabelValues(identifier, collection).Set(float64(entries))
	CacheMetrics.Tombstones.WithLabelValues(identifier, collection).Set(float64(tombstones))
}
