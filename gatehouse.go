package gatehouse

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/gatehouse-dev/gatehouse/discord"
	"github.com/gatehouse-dev/gatehouse/pkg/lru"
	"github.com/gatehouse-dev/gatehouse/pkg/syncmap"
)

var Version = "1.0.0"

type PanicHandler func(client *Client, r any)

// Client owns the gateway shards, the entity collections and the event
// pipeline for one bot.
type Client struct {
	logger *slog.Logger

	identifier string

	configProvider ConfigProvider
	configuration  *atomic.Pointer[Configuration]

	httpClient *http.Client

	rest             RESTClient
	identifyProvider IdentifyProvider
	dedupe           DedupeProvider
	producer         Producer
	emitter          *EventEmitter

	registry *GuildRegistry

	// Top-level entity collections. Guild-scoped entities live in
	// collections owned by their guild.
	Guilds     *lru.Cache[discord.Snowflake, *discord.Guild]
	Users      *lru.Cache[discord.Snowflake, *discord.User]
	DMChannels *lru.Cache[discord.Snowflake, *discord.Channel]

	user *atomic.Pointer[discord.User]

	Shards     *syncmap.Map[int32, *Shard]
	shardCount *atomic.Int32

	voiceConnections *syncmap.Map[discord.Snowflake, *VoiceConnection]
	pendingVoice     *syncmap.Map[discord.Snowflake, *pendingVoiceSession]

	allReadyFired atomic.Bool

	panicHandler PanicHandler
}

func NewClient(logger *slog.Logger, configProvider ConfigProvider) *Client {
	client := &Client{
		logger: logger,

		configProvider: configProvider,
		configuration:  &atomic.Pointer[Configuration]{},

		httpClient: http.DefaultClient,

		identifyProvider: NewIdentifyViaBuckets(),
		dedupe:           NewInMemoryDedupeProvider(),
		producer:         noopProducer{},

		registry: NewGuildRegistry(),

		user: &atomic.Pointer[discord.User]{},

		Shards:     &syncmap.Map[int32, *Shard]{},
		shardCount: &atomic.Int32{},

		voiceConnections: &syncmap.Map[discord.Snowflake, *VoiceConnection]{},
		pendingVoice:     &syncmap.Map[discord.Snowflake, *pendingVoiceSession]{},
	}

	client.emitter = NewEventEmitter(logger)

	return client
}

func (client *Client) WithHTTPClient(httpClient *http.Client) *Client {
	client.httpClient = httpClient

	return client
}

func (client *Client) WithRESTClient(rest RESTClient) *Client {
	client.rest = rest

	return client
}

func (client *Client) WithIdentifyProvider(identifyProvider IdentifyProvider) *Client {
	client.identifyProvider = identifyProvider

	return client
}

func (client *Client) WithDedupeProvider(dedupe DedupeProvider) *Client {
	client.dedupe = dedupe

	return client
}

func (client *Client) WithProducer(producer Producer) *Client {
	client.producer = producer

	return client
}

func (client *Client) WithPanicHandler(panicHandler PanicHandler) *Client {
	client.panicHandler = panicHandler

	return client
}

// On registers a listener for one event type.
func (client *Client) On(eventType EventType, listener EventListener) *Client {
	client.emitter.On(eventType, listener)

	return client
}

// OnAny registers a listener for every event.
func (client *Client) OnAny(listener EventListener) *Client {
	client.emitter.OnAny(listener)

	return client
}

// User returns the bot's own user once READY has been processed.
func (client *Client) User() *discord.User {
	return client.user.Load()
}

// VoiceConnection returns the live voice connection for a guild, if any.
func (client *Client) VoiceConnection(guildID discord.Snowflake) (*VoiceConnection, bool) {
	return client.voiceConnections.Load(guildID)
}

func (client *Client) Start(ctx context.Context) error {
	client.logger.Info("Starting Gatehouse")

	configuration, err := client.configProvider.GetConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to get config: %w", err)
	}

	err = validateConfiguration(configuration)
	if err != nil {
		return err
	}

	client.configuration.Store(configuration)
	client.identifier = configuration.Identifier
	client.logger = client.logger.With("identifier", configuration.Identifier)

	client.initState(configuration)

	if client.rest == nil {
		client.rest = NewHTTPRestClient(client.httpClient, configuration.BotToken)
	}

	if _, isNoop := client.producer.(noopProducer); isNoop && configuration.Producer.Type != "" {
		producer, err := NewProducer(ctx, configuration.Identifier, configuration.Producer)
		if err != nil {
			return fmt.Errorf("failed to create producer: %w", err)
		}

		client.producer = producer
	}

	shardCount := configuration.ShardCount
	if shardCount < 1 {
		shardCount = 1
	}

	client.shardCount.Store(shardCount)

	shardIDs := make([]int32, 0, shardCount)

	if configuration.ShardIDs != "" {
		shardIDs = returnRangeInt32(configuration.ShardIDs, shardCount)
	} else {
		for shardID := int32(0); shardID < shardCount; shardID++ {
			shardIDs = append(shardIDs, shardID)
		}
	}

	for _, shardID := range shardIDs {
		shard := NewShard(client, shardID)
		client.Shards.Store(shardID, shard)
	}

	var firstErr error

	client.Shards.Range(func(_ int32, shard *Shard) bool {
		err := shard.ConnectWithRetry(ctx)
		if err != nil {
			firstErr = err

			return false
		}

		go func() {
			err := shard.Start(ctx)
			if err != nil {
				shard.logger.Error("Shard stopped with error", "error", err)
			}
		}()

		return true
	})

	return firstErr
}

func (client *Client) Stop(ctx context.Context) {
	client.logger.Info("Stopping Gatehouse")

	client.voiceConnections.Range(func(_ discord.Snowflake, conn *VoiceConnection) bool {
		conn.disconnect(ctx)

		return true
	})

	client.Shards.Range(func(_ int32, shard *Shard) bool {
		shard.Stop(ctx, websocket.StatusNormalClosure)

		return true
	})

	err := client.producer.Close()
	if err != nil {
		client.logger.Error("Failed to close producer", "error", err)
	}
}

// initState builds the top-level entity collections from configured limits.
func (client *Client) initState(configuration *Configuration) {
	limits := configuration.CacheLimits()

	client.Guilds = lru.New(configuration.GuildLimit, lru.Options[discord.Snowflake, *discord.Guild]{
		Key: discord.SnowflakeKey,
		New: func() *discord.Guild {
			return discord.NewGuild(limits)
		},
		Load: func(guild *discord.Guild, data []byte) error {
			return guild.Load(data)
		},
	})

	client.Users = lru.New(configuration.UserLimit, lru.Options[discord.Snowflake, *discord.User]{
		Key: discord.SnowflakeKey,
		New: func() *discord.User {
			return &discord.User{}
		},
		Load: func(user *discord.User, data []byte) error {
			return user.Load(data)
		},
	})

	client.DMChannels = lru.New(configuration.DMChannelLimit, lru.Options[discord.Snowflake, *discord.Channel]{
		Key: discord.SnowflakeKey,
		New: func() *discord.Channel {
			return discord.NewChannel(nil, limits.Messages)
		},
		Load: func(channel *discord.Channel, data []byte) error {
			return channel.Load(data)
		},
	})
}

// emit delivers an event to in-process listeners and the producer.
func (client *Client) emit(ctx context.Context, event *Event) {
	client.emitter.Emit(ctx, event)

	err := client.producer.Publish(ctx, event)
	if err != nil {
		client.logger.Error("Failed to publish event", "eventType", event.Type, "error", err)
	}
}

// checkAllReady emits the global ready event the first time every shard has
// finished loading.
func (client *Client) checkAllReady(ctx context.Context) {
	if client.allReadyFired.Load() {
		return
	}

	allReady := true

	client.Shards.Range(func(_ int32, shard *Shard) bool {
		if !shard.loading.isReady() {
			allReady = false

			return false
		}

		return true
	})

	if !allReady {
		return
	}

	if client.allReadyFired.CompareAndSwap(false, true) {
		client.logger.Info("All shards ready")

		client.emit(ctx, &Event{
			Type: EventTypeReady,
		})
	}
}

func validateConfiguration(configuration *Configuration) error {
	if configuration.Identifier == "" {
		return ErrMissingIdentifier
	}

	if configuration.BotToken == "" {
		return ErrMissingBotToken
	}

	return nil
}
