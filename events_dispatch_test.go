package gatehouse

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-dev/gatehouse/discord"
)

func TestOnReadyEmptyShardIsImmediatelyReady(t *testing.T) {
	t.Parallel()

	client, recorder := newTestClient(newFakeRESTClient(), nil)
	shard := newTestShard(client)

	payload := dispatchPayload(t, discord.EventReady, map[string]any{
		"v":                  10,
		"session_id":         "session",
		"resume_gateway_url": "wss://resume.example",
		"user":               map[string]any{"id": "99", "username": "gatehouse"},
		"guilds":             []any{},
	})

	err := shard.Dispatch(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, "session", *shard.sessionID.Load())
	assert.Equal(t, "wss://resume.example", *shard.resumeGatewayURL.Load())

	require.NotNil(t, client.User())
	assert.Equal(t, discord.Snowflake(99), client.User().ID)

	assert.True(t, shard.loading.isReady())
	assert.Len(t, recorder.ofType(EventTypeShardReady), 1)
	assert.Len(t, recorder.ofType(EventTypeReady), 1)
}

func TestOnReadyWaitsForGuilds(t *testing.T) {
	t.Parallel()

	client, recorder := newTestClient(newFakeRESTClient(), nil)
	shard := newTestShard(client)

	ctx := context.Background()

	ready := dispatchPayload(t, discord.EventReady, map[string]any{
		"session_id": "session",
		"user":       map[string]any{"id": "99"},
		"guilds": []any{
			map[string]any{"id": "1", "unavailable": true},
			map[string]any{"id": "2", "unavailable": true},
		},
	})

	require.NoError(t, shard.Dispatch(ctx, ready))

	assert.False(t, shard.loading.isReady())
	assert.Empty(t, recorder.ofType(EventTypeShardReady))

	// Guilds announced in READY are already known to the shard, so their
	// arrival is an availability notice rather than a join.
	guildOne := dispatchPayload(t, discord.EventGuildCreate, map[string]any{"id": "1", "name": "one"})
	require.NoError(t, shard.Dispatch(ctx, guildOne))

	assert.Len(t, recorder.ofType(EventTypeGuildAvailable), 1)
	assert.Empty(t, recorder.ofType(EventTypeGuildCreate))
	assert.False(t, shard.loading.isReady())

	guildTwo := dispatchPayload(t, discord.EventGuildCreate, map[string]any{"id": "2", "name": "two"})
	require.NoError(t, shard.Dispatch(ctx, guildTwo))

	assert.True(t, shard.loading.isReady())
	assert.Len(t, recorder.ofType(EventTypeShardReady), 1)

	// A guild joined after loading finished is a genuine create.
	guildThree := dispatchPayload(t, discord.EventGuildCreate, map[string]any{"id": "3", "name": "three"})
	require.NoError(t, shard.Dispatch(ctx, guildThree))

	assert.Len(t, recorder.ofType(EventTypeGuildCreate), 1)
	assert.Len(t, recorder.ofType(EventTypeShardReady), 1)
}

func TestOnGuildDelete(t *testing.T) {
	t.Parallel()

	client, recorder := newTestClient(newFakeRESTClient(), nil)
	shard := newTestShard(client)

	ctx := context.Background()

	create := dispatchPayload(t, discord.EventGuildCreate, map[string]any{"id": "1", "name": "one"})
	require.NoError(t, shard.Dispatch(ctx, create))

	// An outage marks the guild unavailable but keeps it cached.
	outage := dispatchPayload(t, discord.EventGuildDelete, map[string]any{"id": "1", "unavailable": true})
	require.NoError(t, shard.Dispatch(ctx, outage))

	guild, ok := client.Guilds.Get(1)
	require.True(t, ok)
	assert.True(t, guild.Unavailable)
	assert.Empty(t, recorder.ofType(EventTypeGuildRemove))

	// A removal evicts the guild.
	removal := dispatchPayload(t, discord.EventGuildDelete, map[string]any{"id": "1"})
	require.NoError(t, shard.Dispatch(ctx, removal))

	_, ok = client.Guilds.Get(1)
	assert.False(t, ok)
	assert.Len(t, recorder.ofType(EventTypeGuildRemove), 1)
}

func TestOnGuildMembersChunkCompletesLoading(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(newFakeRESTClient(), nil)
	shard := newTestShard(client)

	ctx := context.Background()

	create := dispatchPayload(t, discord.EventGuildCreate, map[string]any{"id": "1", "name": "one"})
	require.NoError(t, shard.Dispatch(ctx, create))

	shard.loading.addPendingChunk(1)

	first := dispatchPayload(t, discord.EventGuildMembersChunk, map[string]any{
		"guild_id":    "1",
		"chunk_index": 0,
		"chunk_count": 2,
		"members": []any{
			map[string]any{"user": map[string]any{"id": "10", "username": "a"}},
			map[string]any{"user": map[string]any{"id": "11", "username": "b"}},
		},
	})

	require.NoError(t, shard.Dispatch(ctx, first))
	assert.False(t, shard.loading.isReady())

	second := dispatchPayload(t, discord.EventGuildMembersChunk, map[string]any{
		"guild_id":    "1",
		"chunk_index": 1,
		"chunk_count": 2,
		"members": []any{
			map[string]any{"user": map[string]any{"id": "12", "username": "c"}},
		},
	})

	require.NoError(t, shard.Dispatch(ctx, second))
	assert.True(t, shard.loading.isReady())

	guild, ok := client.Guilds.Get(1)
	require.True(t, ok)
	assert.Equal(t, 3, guild.Members.Len())

	// Nested users land in the shared user collection.
	user, ok := client.Users.Get(10)
	require.True(t, ok)
	assert.Equal(t, "a", user.Username)
}

func TestOnGuildMemberAddRemove(t *testing.T) {
	t.Parallel()

	client, recorder := newTestClient(newFakeRESTClient(), nil)
	shard := newTestShard(client)

	ctx := context.Background()

	create := dispatchPayload(t, discord.EventGuildCreate, map[string]any{
		"id":           "1",
		"member_count": 1,
	})
	require.NoError(t, shard.Dispatch(ctx, create))

	add := dispatchPayload(t, discord.EventGuildMemberAdd, map[string]any{
		"guild_id": "1",
		"user":     map[string]any{"id": "10", "username": "a"},
	})
	require.NoError(t, shard.Dispatch(ctx, add))

	guild, _ := client.Guilds.Get(1)
	assert.Equal(t, int32(2), guild.MemberCount)
	assert.Equal(t, 1, guild.Members.Len())
	assert.Len(t, recorder.ofType(EventTypeMemberJoin), 1)

	remove := dispatchPayload(t, discord.EventGuildMemberRemove, map[string]any{
		"guild_id": "1",
		"user":     map[string]any{"id": "10", "username": "a"},
	})
	require.NoError(t, shard.Dispatch(ctx, remove))

	assert.Equal(t, int32(1), guild.MemberCount)
	assert.Equal(t, 0, guild.Members.Len())
	assert.Len(t, recorder.ofType(EventTypeMemberLeave), 1)
}

func TestOnGuildEmojisUpdateDropsStale(t *testing.T) {
	t.Parallel()

	client, recorder := newTestClient(newFakeRESTClient(), nil)
	shard := newTestShard(client)

	ctx := context.Background()

	create := dispatchPayload(t, discord.EventGuildCreate, map[string]any{
		"id": "1",
		"emojis": []any{
			map[string]any{"id": "100", "name": "old"},
			map[string]any{"id": "101", "name": "kept"},
		},
	})
	require.NoError(t, shard.Dispatch(ctx, create))

	update := dispatchPayload(t, discord.EventGuildEmojisUpdate, map[string]any{
		"guild_id": "1",
		"emojis": []any{
			map[string]any{"id": "101", "name": "kept"},
			map[string]any{"id": "102", "name": "new"},
		},
	})
	require.NoError(t, shard.Dispatch(ctx, update))

	guild, _ := client.Guilds.Get(1)

	_, ok := guild.Emojis.Get(100)
	assert.False(t, ok)

	_, ok = guild.Emojis.Get(101)
	assert.True(t, ok)

	_, ok = guild.Emojis.Get(102)
	assert.True(t, ok)

	assert.Len(t, recorder.ofType(EventTypeEmojisUpdate), 1)
}

func TestOnChannelCreateLinksThreadParent(t *testing.T) {
	t.Parallel()

	client, recorder := newTestClient(newFakeRESTClient(), nil)
	shard := newTestShard(client)

	ctx := context.Background()

	create := dispatchPayload(t, discord.EventGuildCreate, map[string]any{"id": "1"})
	require.NoError(t, shard.Dispatch(ctx, create))

	parent := dispatchPayload(t, discord.EventChannelCreate, map[string]any{
		"id":       "2",
		"guild_id": "1",
		"type":     0,
		"name":     "general",
	})
	require.NoError(t, shard.Dispatch(ctx, parent))

	thread := dispatchPayload(t, discord.EventThreadCreate, map[string]any{
		"id":        "3",
		"guild_id":  "1",
		"parent_id": "2",
		"type":      discord.ChannelTypePublicThread,
		"name":      "thread",
	})
	require.NoError(t, shard.Dispatch(ctx, thread))

	guild, _ := client.Guilds.Get(1)

	threadChannel, ok := guild.Channels.Get(3)
	require.True(t, ok)
	require.NotNil(t, threadChannel.Parent)
	assert.Equal(t, discord.Snowflake(2), threadChannel.Parent.ID)

	guildID, ok := client.registry.GuildForChannel(2)
	require.True(t, ok)
	assert.Equal(t, discord.Snowflake(1), guildID)

	assert.Len(t, recorder.ofType(EventTypeChannelCreate), 1)
	assert.Len(t, recorder.ofType(EventTypeThreadCreate), 1)
}

func TestOnMessageCreateFetchesUncachedEntities(t *testing.T) {
	t.Parallel()

	rest := newFakeRESTClient()
	rest.guilds[1] = json.RawMessage(`{"id":"1","name":"one"}`)
	rest.channels[2] = json.RawMessage(`{"id":"2","guild_id":"1","type":0,"name":"general"}`)
	rest.members[3] = json.RawMessage(`{"user":{"id":"3","username":"bob"}}`)

	client, recorder := newTestClient(rest, nil)
	shard := newTestShard(client)

	ctx := context.Background()

	message := dispatchPayload(t, discord.EventMessageCreate, map[string]any{
		"id":         "10",
		"channel_id": "2",
		"guild_id":   "1",
		"content":    "hello",
		"author":     map[string]any{"id": "3", "username": "bob"},
	})

	require.NoError(t, shard.Dispatch(ctx, message))

	assert.Equal(t, 1, rest.callCount("guild", 1))
	assert.Equal(t, 1, rest.callCount("channel", 2))
	assert.Equal(t, 1, rest.callCount("member", 3))

	guild, ok := client.Guilds.Get(1)
	require.True(t, ok)

	channel, ok := guild.Channels.Get(2)
	require.True(t, ok)
	assert.Equal(t, discord.Snowflake(10), channel.LastMessageID)

	cached, ok := channel.Messages.Get(10)
	require.True(t, ok)
	assert.Equal(t, "hello", cached.Content)
	require.NotNil(t, cached.Author)
	assert.Equal(t, "bob", cached.Author.Username)
	require.NotNil(t, cached.Member)

	events := recorder.ofType(EventTypeMessageCreate)
	require.Len(t, events, 1)
	assert.Equal(t, cached, events[0].Message)
}

func TestOnMessageCreateDeduplicates(t *testing.T) {
	t.Parallel()

	rest := newFakeRESTClient()
	rest.guilds[1] = json.RawMessage(`{"id":"1"}`)
	rest.channels[2] = json.RawMessage(`{"id":"2","guild_id":"1","type":0}`)
	rest.members[3] = json.RawMessage(`{"user":{"id":"3"}}`)

	client, recorder := newTestClient(rest, nil)
	shard := newTestShard(client)

	ctx := context.Background()

	message := dispatchPayload(t, discord.EventMessageCreate, map[string]any{
		"id":         "10",
		"channel_id": "2",
		"guild_id":   "1",
		"content":    "hello",
		"author":     map[string]any{"id": "3"},
	})

	require.NoError(t, shard.Dispatch(ctx, message))
	require.NoError(t, shard.Dispatch(ctx, message))

	assert.Len(t, recorder.ofType(EventTypeMessageCreate), 1)
}

func TestOnMessageCreateOpensDMChannel(t *testing.T) {
	t.Parallel()

	rest := newFakeRESTClient()
	rest.dms[9] = json.RawMessage(`{"id":"7","type":1,"recipients":[{"id":"9"}]}`)

	client, recorder := newTestClient(rest, nil)
	shard := newTestShard(client)

	message := dispatchPayload(t, discord.EventMessageCreate, map[string]any{
		"id":         "400",
		"channel_id": "7",
		"author":     map[string]any{"id": "9", "username": "dave"},
		"content":    "hello",
	})
	require.NoError(t, shard.Dispatch(context.Background(), message))

	assert.Equal(t, 1, rest.callCount("create-dm", 9))
	assert.Equal(t, 0, rest.callCount("channel", 7))

	dm, ok := client.DMChannels.Get(7)
	require.True(t, ok)

	_, ok = dm.Messages.Get(400)
	assert.True(t, ok)

	events := recorder.ofType(EventTypeMessageCreate)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].Message.Author)
	assert.Equal(t, "dave", events[0].Message.Author.Username)
}

func TestOnMessageCreateDroppedWhenGuildUnresolvable(t *testing.T) {
	t.Parallel()

	// The REST client has no guild 1, so reconciliation cannot complete
	// and the event is dropped without affecting anything else.
	client, recorder := newTestClient(newFakeRESTClient(), nil)
	shard := newTestShard(client)

	message := dispatchPayload(t, discord.EventMessageCreate, map[string]any{
		"id":         "10",
		"channel_id": "2",
		"guild_id":   "1",
		"author":     map[string]any{"id": "3"},
	})

	err := shard.Dispatch(context.Background(), message)
	require.NoError(t, err)

	assert.Empty(t, recorder.ofType(EventTypeMessageCreate))

	_, ok := client.Guilds.Get(1)
	assert.False(t, ok)
}

func TestOnMessageDelete(t *testing.T) {
	t.Parallel()

	rest := newFakeRESTClient()
	rest.members[3] = json.RawMessage(`{"user":{"id":"3"}}`)

	client, recorder := newTestClient(rest, nil)
	shard := newTestShard(client)

	ctx := context.Background()

	create := dispatchPayload(t, discord.EventGuildCreate, map[string]any{
		"id": "1",
		"channels": []any{
			map[string]any{"id": "2", "type": 0},
		},
	})
	require.NoError(t, shard.Dispatch(ctx, create))

	message := dispatchPayload(t, discord.EventMessageCreate, map[string]any{
		"id":         "10",
		"channel_id": "2",
		"guild_id":   "1",
		"author":     map[string]any{"id": "3"},
	})
	require.NoError(t, shard.Dispatch(ctx, message))

	deletion := dispatchPayload(t, discord.EventMessageDelete, map[string]any{
		"id":         "10",
		"channel_id": "2",
		"guild_id":   "1",
	})
	require.NoError(t, shard.Dispatch(ctx, deletion))

	guild, _ := client.Guilds.Get(1)
	channel, _ := guild.Channels.Get(2)

	_, ok := channel.Messages.Get(10)
	assert.False(t, ok)

	events := recorder.ofType(EventTypeMessageDelete)
	require.Len(t, events, 1)
	assert.Equal(t, discord.Snowflake(10), events[0].MessageID)
}

func TestReactionAddFetchesUncachedMessage(t *testing.T) {
	t.Parallel()

	rest := newFakeRESTClient()
	rest.guilds[1] = json.RawMessage(`{"id":"1"}`)
	rest.channels[2] = json.RawMessage(`{"id":"2","guild_id":"1","type":0}`)
	rest.messages[50] = json.RawMessage(`{"id":"50","channel_id":"2","content":"cached late"}`)

	client, recorder := newTestClient(rest, nil)
	shard := newTestShard(client)

	ctx := context.Background()

	add := dispatchPayload(t, discord.EventMessageReactionAdd, map[string]any{
		"user_id":    "3",
		"channel_id": "2",
		"message_id": "50",
		"guild_id":   "1",
		"emoji":      map[string]any{"id": nil, "name": "thumbsup"},
	})

	require.NoError(t, shard.Dispatch(ctx, add))
	assert.Equal(t, 1, rest.callCount("message", 50))

	guild, _ := client.Guilds.Get(1)
	channel, _ := guild.Channels.Get(2)

	message, ok := channel.Messages.Get(50)
	require.True(t, ok)
	require.Len(t, message.Reactions, 1)
	assert.Equal(t, int32(1), message.Reactions[0].Count)

	// A second reaction with the same emoji aggregates in place.
	require.NoError(t, shard.Dispatch(ctx, add))
	assert.Equal(t, 1, rest.callCount("message", 50))
	assert.Equal(t, int32(2), message.Reactions[0].Count)

	remove := dispatchPayload(t, discord.EventMessageReactionRemove, map[string]any{
		"user_id":    "3",
		"channel_id": "2",
		"message_id": "50",
		"guild_id":   "1",
		"emoji":      map[string]any{"id": nil, "name": "thumbsup"},
	})

	require.NoError(t, shard.Dispatch(ctx, remove))
	assert.Equal(t, int32(1), message.Reactions[0].Count)

	assert.Len(t, recorder.ofType(EventTypeReactionAdd), 2)
	assert.Len(t, recorder.ofType(EventTypeReactionRemove), 1)
}

func TestReactionRemoveOnUncachedMessageIsDropped(t *testing.T) {
	t.Parallel()

	rest := newFakeRESTClient()
	rest.guilds[1] = json.RawMessage(`{"id":"1"}`)
	rest.channels[2] = json.RawMessage(`{"id":"2","guild_id":"1","type":0}`)

	client, recorder := newTestClient(rest, nil)
	shard := newTestShard(client)

	remove := dispatchPayload(t, discord.EventMessageReactionRemove, map[string]any{
		"user_id":    "3",
		"channel_id": "2",
		"message_id": "999",
		"guild_id":   "1",
		"emoji":      map[string]any{"id": nil, "name": "thumbsup"},
	})

	require.NoError(t, shard.Dispatch(context.Background(), remove))

	// Removals never fetch: the fetched message would already reflect the
	// removal, so there is nothing to reconcile.
	assert.Equal(t, 0, rest.callCount("message", 999))
	assert.Empty(t, recorder.ofType(EventTypeReactionRemove))

	// The containing guild and channel were still resolved and cached.
	_, ok := client.Guilds.Get(1)
	assert.True(t, ok)
}

func TestReactionRemoveWithoutAggregateIsDropped(t *testing.T) {
	t.Parallel()

	client, recorder := newTestClient(newFakeRESTClient(), nil)
	shard := newTestShard(client)

	ctx := context.Background()

	create := dispatchPayload(t, discord.EventGuildCreate, map[string]any{
		"id": "1",
		"channels": []any{
			map[string]any{"id": "2", "type": 0},
		},
	})
	require.NoError(t, shard.Dispatch(ctx, create))

	message := dispatchPayload(t, discord.EventMessageCreate, map[string]any{
		"id":         "999",
		"channel_id": "2",
		"guild_id":   "1",
	})
	require.NoError(t, shard.Dispatch(ctx, message))

	add := dispatchPayload(t, discord.EventMessageReactionAdd, map[string]any{
		"user_id":    "3",
		"channel_id": "2",
		"message_id": "999",
		"guild_id":   "1",
		"emoji":      map[string]any{"id": nil, "name": "thumbsup"},
	})
	require.NoError(t, shard.Dispatch(ctx, add))

	// Removing a reaction the cache never saw has nothing to update.
	removeUnknown := dispatchPayload(t, discord.EventMessageReactionRemove, map[string]any{
		"user_id":    "3",
		"channel_id": "2",
		"message_id": "999",
		"guild_id":   "1",
		"emoji":      map[string]any{"id": nil, "name": "eyes"},
	})
	require.NoError(t, shard.Dispatch(ctx, removeUnknown))

	assert.Empty(t, recorder.ofType(EventTypeReactionRemove))

	removeKnown := dispatchPayload(t, discord.EventMessageReactionRemove, map[string]any{
		"user_id":    "3",
		"channel_id": "2",
		"message_id": "999",
		"guild_id":   "1",
		"emoji":      map[string]any{"id": nil, "name": "thumbsup"},
	})
	require.NoError(t, shard.Dispatch(ctx, removeKnown))

	assert.Len(t, recorder.ofType(EventTypeReactionRemove), 1)
}

func TestOnPresenceUpdateEvictsOfflineMembers(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(newFakeRESTClient(), nil)
	shard := newTestShard(client)

	ctx := context.Background()

	create := dispatchPayload(t, discord.EventGuildCreate, map[string]any{
		"id": "1",
		"members": []any{
			map[string]any{"user": map[string]any{"id": "10"}},
		},
	})
	require.NoError(t, shard.Dispatch(ctx, create))

	offline := dispatchPayload(t, discord.EventPresenceUpdate, map[string]any{
		"guild_id": "1",
		"status":   "offline",
		"user":     map[string]any{"id": "10"},
	})
	require.NoError(t, shard.Dispatch(ctx, offline))

	guild, _ := client.Guilds.Get(1)

	_, ok := guild.Members.Get(10)
	assert.False(t, ok)
}

func TestOnPresenceUpdateKeepsMembersWhenCachingAll(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(newFakeRESTClient(), func(configuration *Configuration) {
		configuration.CacheAllMembers = true
	})
	shard := newTestShard(client)

	ctx := context.Background()

	create := dispatchPayload(t, discord.EventGuildCreate, map[string]any{
		"id": "1",
		"members": []any{
			map[string]any{"user": map[string]any{"id": "10"}},
		},
	})
	require.NoError(t, shard.Dispatch(ctx, create))

	offline := dispatchPayload(t, discord.EventPresenceUpdate, map[string]any{
		"guild_id": "1",
		"status":   "offline",
		"user":     map[string]any{"id": "10"},
	})
	require.NoError(t, shard.Dispatch(ctx, offline))

	guild, _ := client.Guilds.Get(1)

	_, ok := guild.Members.Get(10)
	assert.True(t, ok)
}

func TestOnVoiceStateUpdateTransitions(t *testing.T) {
	t.Parallel()

	client, recorder := newTestClient(newFakeRESTClient(), nil)
	shard := newTestShard(client)

	ctx := context.Background()

	create := dispatchPayload(t, discord.EventGuildCreate, map[string]any{
		"id": "1",
		"channels": []any{
			map[string]any{"id": "100", "type": discord.ChannelTypeGuildVoice},
			map[string]any{"id": "101", "type": discord.ChannelTypeGuildVoice},
		},
	})
	require.NoError(t, shard.Dispatch(ctx, create))

	guild, _ := client.Guilds.Get(1)

	// Fresh connection: a connect paired with a join.
	join := dispatchPayload(t, discord.EventVoiceStateUpdate, map[string]any{
		"guild_id":   "1",
		"channel_id": "100",
		"user_id":    "5",
		"session_id": "abc",
		"member":     map[string]any{"user": map[string]any{"id": "5", "username": "carol"}},
	})
	require.NoError(t, shard.Dispatch(ctx, join))

	state, ok := guild.VoiceStates.Load(5)
	require.True(t, ok)
	assert.Equal(t, discord.Snowflake(100), *state.ChannelID)

	connects := recorder.ofType(EventTypeVoiceConnect)
	require.Len(t, connects, 1)
	require.NotNil(t, connects[0].Member)

	joins := recorder.ofType(EventTypeVoiceChannelJoin)
	require.Len(t, joins, 1)
	require.NotNil(t, joins[0].Channel)
	assert.Equal(t, discord.Snowflake(100), joins[0].Channel.ID)
	require.NotNil(t, joins[0].Member)
	assert.Empty(t, recorder.ofType(EventTypeVoiceChannelLeave))

	// Same channel, changed flags: an in-place update, no join or leave.
	mute := dispatchPayload(t, discord.EventVoiceStateUpdate, map[string]any{
		"guild_id":   "1",
		"channel_id": "100",
		"user_id":    "5",
		"session_id": "abc",
		"self_mute":  true,
	})
	require.NoError(t, shard.Dispatch(ctx, mute))

	state, _ = guild.VoiceStates.Load(5)
	assert.True(t, state.SelfMute)
	assert.Len(t, recorder.ofType(EventTypeVoiceUpdate), 1)
	assert.Len(t, recorder.ofType(EventTypeVoiceChannelJoin), 1)

	// Changed channel: a leave for the old channel paired with a join for
	// the new one.
	move := dispatchPayload(t, discord.EventVoiceStateUpdate, map[string]any{
		"guild_id":   "1",
		"channel_id": "101",
		"user_id":    "5",
		"session_id": "abc",
	})
	require.NoError(t, shard.Dispatch(ctx, move))

	leaves := recorder.ofType(EventTypeVoiceChannelLeave)
	require.Len(t, leaves, 1)
	require.NotNil(t, leaves[0].Channel)
	assert.Equal(t, discord.Snowflake(100), leaves[0].Channel.ID)

	joins = recorder.ofType(EventTypeVoiceChannelJoin)
	require.Len(t, joins, 2)
	require.NotNil(t, joins[1].Channel)
	assert.Equal(t, discord.Snowflake(101), joins[1].Channel.ID)
	assert.Empty(t, recorder.ofType(EventTypeVoiceDisconnect))

	// Null channel: a leave for the last channel paired with a disconnect.
	leave := dispatchPayload(t, discord.EventVoiceStateUpdate, map[string]any{
		"guild_id":   "1",
		"channel_id": nil,
		"user_id":    "5",
		"session_id": "abc",
	})
	require.NoError(t, shard.Dispatch(ctx, leave))

	_, ok = guild.VoiceStates.Load(5)
	assert.False(t, ok)

	leaves = recorder.ofType(EventTypeVoiceChannelLeave)
	require.Len(t, leaves, 2)
	require.NotNil(t, leaves[1].Channel)
	assert.Equal(t, discord.Snowflake(101), leaves[1].Channel.ID)
	assert.Len(t, recorder.ofType(EventTypeVoiceDisconnect), 1)
	assert.Len(t, recorder.ofType(EventTypeVoiceConnect), 1)
	assert.Len(t, recorder.ofType(EventTypeVoiceChannelJoin), 2)
}

func TestOnUserUpdateRefreshesOwnUser(t *testing.T) {
	t.Parallel()

	client, recorder := newTestClient(newFakeRESTClient(), nil)
	shard := newTestShard(client)

	ctx := context.Background()

	ready := dispatchPayload(t, discord.EventReady, map[string]any{
		"session_id": "session",
		"user":       map[string]any{"id": "99", "username": "before"},
		"guilds":     []any{},
	})
	require.NoError(t, shard.Dispatch(ctx, ready))

	update := dispatchPayload(t, discord.EventUserUpdate, map[string]any{
		"id":       "99",
		"username": "after",
	})
	require.NoError(t, shard.Dispatch(ctx, update))

	assert.Equal(t, "after", client.User().Username)
	assert.Len(t, recorder.ofType(EventTypeUserUpdate), 1)
}
