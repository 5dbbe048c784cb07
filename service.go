package gatehouse

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatehouse-dev/gatehouse/discord"
	"github.com/gatehouse-dev/gatehouse/pkg/lru"
)

const (
	cacheGatherInterval   = 15 * time.Second
	tombstonePruneMaxAge  = 10 * time.Minute
	tombstonePruneMaxSize = 10_000
)

// WithPrometheusService exposes metrics over HTTP and starts the periodic
// cache gauge collection.
func (client *Client) WithPrometheusService(server *http.Server, registry *prometheus.Registry, opts promhttp.HandlerOpts) *Client {
	if registry == nil {
		registry = prometheus.NewPedanticRegistry()
	}

	registry.MustRegister(
		EventMetrics.EventsTotal,
		EventMetrics.EventsDropped,
		EventMetrics.GatewayLatency,
		EventMetrics.VoiceLatency,

		ShardMetrics.Status,

		CacheMetrics.Entries,
		CacheMetrics.Tombstones,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, opts))

	server.Handler = mux

	go func() {
		slog.Info("Starting Prometheus HTTP server", "host", server.Addr)

		var err error

		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			panic(fmt.Errorf("failed to start Prometheus HTTP server: %w", err))
		}
	}()

	return client
}

// StartBackgroundTasks runs the cache gauge gatherer and tombstone pruner
// until the context ends.
func (client *Client) StartBackgroundTasks(ctx context.Context) {
	go client.gatherCacheMetrics(ctx)
	go client.pruneTombstones(ctx)
}

func (client *Client) gatherCacheMetrics(ctx context.Context) {
	ticker := time.NewTicker(cacheGatherInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if client.Guilds == nil {
				continue
			}

			UpdateCacheSize(client.identifier, "guilds", client.Guilds.Len(), client.Guilds.TombstoneLen())
			UpdateCacheSize(client.identifier, "users", client.Users.Len(), client.Users.TombstoneLen())
			UpdateCacheSize(client.identifier, "dm_channels", client.DMChannels.Len(), client.DMChannels.TombstoneLen())

			var members, channels, roles, emojis int

			client.Guilds.Range(func(_ discord.Snowflake, guild *discord.Guild) bool {
				members += guild.Members.Len()
				channels += guild.Channels.Len()
				roles += guild.Roles.Len()
				emojis += guild.Emojis.Len()

				return true
			})

			UpdateCacheSize(client.identifier, "members", members, 0)
			UpdateCacheSize(client.identifier, "channels", channels, 0)
			UpdateCacheSize(client.identifier, "roles", roles, 0)
			UpdateCacheSize(client.identifier, "emojis", emojis, 0)
		}
	}
}

func pruneIfOversized[K comparable, V any](cache *lru.Cache[K, V]) {
	if cache.TombstoneLen() > tombstonePruneMaxSize {
		cache.PruneTombstones()
	}
}

// pruneTombstones discards tombstoned entries once the tombstone maps grow
// too large. Tombstones only save an allocation on resurrection, so shedding
// them under pressure is always safe.
func (client *Client) pruneTombstones(ctx context.Context) {
	ticker := time.NewTicker(tombstonePruneMaxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if client.Guilds == nil {
				continue
			}

			pruneIfOversized(client.Guilds)
			pruneIfOversized(client.Users)
			pruneIfOversized(client.DMChannels)

			client.Guilds.Range(func(_ discord.Snowflake, guild *discord.Guild) bool {
				pruneIfOversized(guild.Members)
				pruneIfOversized(guild.Channels)
				pruneIfOversized(guild.Roles)
				pruneIfOversized(guild.Emojis)

				return true
			})
		}
	}
}
