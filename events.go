package gatehouse

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gatehouse-dev/gatehouse/discord"
)

// EventType names a domain-level event produced after reconciliation.
// These are distinct from the raw gateway dispatch names.
type EventType string

const (
	EventTypeReady        EventType = "ready"
	EventTypeShardReady   EventType = "shardReady"
	EventTypeShardResumed EventType = "shardResumed"
	EventTypeHeartbeat    EventType = "heartbeat"

	EventTypeGuildCreate    EventType = "guildCreate"
	EventTypeGuildAvailable EventType = "guildAvailable"
	EventTypeGuildUpdate    EventType = "guildUpdate"
	EventTypeGuildRemove    EventType = "guildRemove"

	EventTypeMemberJoin   EventType = "memberJoin"
	EventTypeMemberLeave  EventType = "memberLeave"
	EventTypeMemberUpdate EventType = "memberUpdate"

	EventTypeChannelCreate EventType = "channelCreate"
	EventTypeChannelUpdate EventType = "channelUpdate"
	EventTypeChannelDelete EventType = "channelDelete"

	EventTypeThreadCreate EventType = "threadCreate"
	EventTypeThreadUpdate EventType = "threadUpdate"
	EventTypeThreadDelete EventType = "threadDelete"

	EventTypeRoleCreate EventType = "roleCreate"
	EventTypeRoleUpdate EventType = "roleUpdate"
	EventTypeRoleDelete EventType = "roleDelete"

	EventTypeEmojisUpdate EventType = "emojisUpdate"

	EventTypeMessageCreate EventType = "messageCreate"
	EventTypeMessageUpdate EventType = "messageUpdate"
	EventTypeMessageDelete EventType = "messageDelete"

	EventTypeReactionAdd       EventType = "reactionAdd"
	EventTypeReactionRemove    EventType = "reactionRemove"
	EventTypeReactionRemoveAll EventType = "reactionRemoveAll"

	EventTypeTypingStart EventType = "typingStart"
	EventTypeUserUpdate  EventType = "userUpdate"

	EventTypeVoiceChannelJoin  EventType = "voiceChannelJoin"
	EventTypeVoiceChannelLeave EventType = "voiceChannelLeave"
	EventTypeVoiceUpdate       EventType = "voiceUpdate"
	EventTypeVoiceConnect      EventType = "voiceConnect"
	EventTypeVoiceDisconnect   EventType = "voiceDisconnect"
	EventTypeVoiceHeartbeat    EventType = "voiceHeartbeat"
)

// Event is the reconciled payload handed to listeners and producers.
// Only the fields relevant to the event type are populated.
type Event struct {
	Type    EventType `json:"type"`
	ShardID int32     `json:"shard_id"`

	Guild   *discord.Guild       `json:"guild,omitempty"`
	Channel *discord.Channel     `json:"channel,omitempty"`
	Member  *discord.GuildMember `json:"member,omitempty"`
	User    *discord.User        `json:"user,omitempty"`
	Message *discord.Message     `json:"message,omitempty"`
	Role    *discord.Role        `json:"role,omitempty"`
	Emoji   *discord.Emoji       `json:"emoji,omitempty"`

	UserID    discord.Snowflake `json:"user_id,omitempty"`
	ChannelID discord.Snowflake `json:"channel_id,omitempty"`
	MessageID discord.Snowflake `json:"message_id,omitempty"`

	LatencyMS int64 `json:"latency_ms,omitempty"`
}

type EventListener func(ctx context.Context, event *Event)

// EventEmitter fans reconciled events out to registered listeners.
// Listeners run synchronously in registration order. A panicking
// listener is recovered and logged without affecting the others.
type EventEmitter struct {
	logger *slog.Logger

	mu        sync.RWMutex
	listeners map[EventType][]EventListener
	anyAll    []EventListener
}

func NewEventEmitter(logger *slog.Logger) *EventEmitter {
	return &EventEmitter{
		logger:    logger,
		listeners: make(map[EventType][]EventListener),
	}
}

// On registers a listener for a single event type.
func (emitter *EventEmitter) On(eventType EventType, listener EventListener) {
	emitter.mu.Lock()
	defer emitter.mu.Unlock()

	emitter.listeners[eventType] = append(emitter.listeners[eventType], listener)
}

// OnAny registers a listener that receives every event.
func (emitter *EventEmitter) OnAny(listener EventListener) {
	emitter.mu.Lock()
	defer emitter.mu.Unlock()

	emitter.anyAll = append(emitter.anyAll, listener)
}

func (emitter *EventEmitter) Emit(ctx context.Context, event *Event) {
	emitter.mu.RLock()
	typed := emitter.listeners[event.Type]
	anyAll := emitter.anyAll
	emitter.mu.RUnlock()

	for _, listener := range typed {
		emitter.invoke(ctx, listener, event)
	}

	for _, listener := range anyAll {
		emitter.invoke(ctx, listener, event)
	}
}

func (emitter *EventEmitter) invoke(ctx context.Context, listener EventListener, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			emitter.logger.Error("Recovered panic in event listener",
				"eventType", event.Type,
				"panic", r)
		}
	}()

	listener(ctx, event)
}
