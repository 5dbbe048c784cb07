package gatehouse

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gatehouse-dev/gatehouse/discord"
	"github.com/gatehouse-dev/gatehouse/gatehousejson"
	"github.com/gatehouse-dev/gatehouse/pkg/batcher"
)

// maybeShardReady emits shardReady once the shard's loading state drains.
func (shard *Shard) maybeShardReady(ctx context.Context, became bool) {
	if !became {
		return
	}

	shard.SetStatus(ShardStatusReady)

	shard.client.emit(ctx, &Event{
		Type:    EventTypeShardReady,
		ShardID: shard.ShardID,
	})

	shard.client.checkAllReady(ctx)
}

// cacheMemberUser copies the user nested in a member payload into the
// global user collection so both views share one identity source.
func (client *Client) cacheMemberUser(raw json.RawMessage) {
	var nested struct {
		User json.RawMessage `json:"user"`
	}

	if err := gatehousejson.Unmarshal(raw, &nested); err != nil || len(nested.User) == 0 {
		return
	}

	_, _ = client.Users.Insert(nested.User)
}

func onReady(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var readyPayload discord.Ready

	err := unmarshalPayload(msg, &readyPayload)
	if err != nil {
		shard.logger.Error("Failed to unmarshal ready payload", "error", err)

		return err
	}

	shard.logger.Debug("Received READY payload", "guilds", len(readyPayload.Guilds))

	shard.sessionID.Store(&readyPayload.SessionID)
	shard.resumeGatewayURL.Store(&readyPayload.ResumeGatewayURL)

	if len(readyPayload.User) > 0 {
		user, err := shard.client.Users.Insert(readyPayload.User)
		if err != nil {
			shard.logger.Error("Failed to cache own user", "error", err)
		} else {
			shard.client.user.Store(user)
		}
	}

	shard.loading.reset()

	configuration := shard.client.configuration.Load()

	for _, guild := range readyPayload.Guilds {
		shard.Guilds.Store(guild.ID, true)
		shard.loading.addPendingGuild(guild.ID)
	}

	if configuration.SyncGuilds && len(readyPayload.Guilds) > 0 {
		guildIDs := make([]discord.Snowflake, 0, len(readyPayload.Guilds))

		for _, guild := range readyPayload.Guilds {
			shard.loading.addPendingSync(guild.ID)
			guildIDs = append(guildIDs, guild.ID)
		}

		err = shard.SendEvent(ctx, discord.GatewayOpSyncGuilds, guildIDs)
		if err != nil {
			shard.logger.Error("Failed to request guild sync", "error", err)
		}
	}

	// A shard with no guilds is immediately loaded.
	shard.maybeShardReady(ctx, shard.loading.check())

	return nil
}

func onResumed(ctx context.Context, shard *Shard, _ *discord.GatewayPayload) error {
	shard.logger.Debug("Shard has resumed")

	shard.SetStatus(ShardStatusReady)

	shard.client.emit(ctx, &Event{
		Type:    EventTypeShardResumed,
		ShardID: shard.ShardID,
	})

	return nil
}

func onGuildCreate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	guild, err := shard.client.Guilds.Insert(msg.Data)
	if err != nil {
		return fmt.Errorf("failed to load guild: %w", err)
	}

	client := shard.client

	client.registry.RegisterGuild(guild)

	_, known := shard.Guilds.Load(guild.ID)
	shard.Guilds.Store(guild.ID, true)

	configuration := client.configuration.Load()

	if configuration.CacheAllMembers && guild.Large {
		shard.loading.addPendingChunk(guild.ID)

		err = shard.SendEvent(ctx, discord.GatewayOpRequestGuildMembers, discord.RequestGuildMembers{
			GuildID: guild.ID,
			Nonce:   randomHex(16),
		})
		if err != nil {
			shard.logger.Error("Failed to request guild members", "error", err)

			shard.maybeShardReady(ctx, shard.loading.clearChunk(guild.ID))
		}
	}

	// A guild announced in READY arriving now is the lazy-load completing,
	// not the bot joining a new guild.
	eventType := EventTypeGuildCreate
	if known {
		eventType = EventTypeGuildAvailable
	}

	client.emit(ctx, &Event{
		Type:    eventType,
		ShardID: shard.ShardID,
		Guild:   guild,
	})

	shard.maybeShardReady(ctx, shard.loading.clearGuild(guild.ID))

	return nil
}

func onGuildUpdate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	guild, err := shard.client.Guilds.Insert(msg.Data)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	shard.client.registry.RegisterGuild(guild)

	shard.client.emit(ctx, &Event{
		Type:    EventTypeGuildUpdate,
		ShardID: shard.ShardID,
		Guild:   guild,
	})

	return nil
}

func onGuildDelete(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var unavailableGuild discord.UnavailableGuild

	err := unmarshalPayload(msg, &unavailableGuild)
	if err != nil {
		return err
	}

	client := shard.client

	if unavailableGuild.Unavailable {
		// An outage, not a removal. The guild stays cached and will come
		// back with a GUILD_CREATE.
		if guild, ok := client.Guilds.Get(unavailableGuild.ID); ok {
			guild.Unavailable = true
		}

		return nil
	}

	guild, _ := client.Guilds.Delete(unavailableGuild.ID)

	client.registry.UnregisterGuild(unavailableGuild.ID)
	shard.Guilds.Delete(unavailableGuild.ID)

	client.emit(ctx, &Event{
		Type:    EventTypeGuildRemove,
		ShardID: shard.ShardID,
		Guild:   guild,
	})

	return nil
}

func onGuildMembersChunk(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var chunk discord.GuildMembersChunk

	err := unmarshalPayload(msg, &chunk)
	if err != nil {
		return err
	}

	guild, err := shard.client.resolveGuild(ctx, chunk.GuildID)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	for _, err := range batcher.Process(chunk.Members, batcher.DefaultBatchSize, nil, func(raw json.RawMessage) error {
		_, err := guild.Members.Insert(raw)
		if err != nil {
			return err
		}

		shard.client.cacheMemberUser(raw)

		return nil
	}) {
		shard.logger.Warn("Discarded malformed member payload", "error", err)
	}

	if chunk.ChunkIndex+1 >= chunk.ChunkCount {
		shard.maybeShardReady(ctx, shard.loading.clearChunk(chunk.GuildID))
	}

	return nil
}

func onGuildSync(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var sync discord.GuildSync

	err := unmarshalPayload(msg, &sync)
	if err != nil {
		return err
	}

	guild, err := shard.client.resolveGuild(ctx, sync.ID)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	for _, err := range batcher.Process(sync.Members, batcher.DefaultBatchSize, nil, func(raw json.RawMessage) error {
		_, err := guild.Members.Insert(raw)
		if err != nil {
			return err
		}

		shard.client.cacheMemberUser(raw)

		return nil
	}) {
		shard.logger.Warn("Discarded malformed member payload", "error", err)
	}

	shard.maybeShardReady(ctx, shard.loading.clearSync(sync.ID))

	return nil
}

func onGuildMemberAdd(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var partial struct {
		GuildID discord.Snowflake `json:"guild_id"`
	}

	err := unmarshalPayload(msg, &partial)
	if err != nil {
		return err
	}

	guild, err := shard.client.resolveGuild(ctx, partial.GuildID)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	member, err := guild.Members.Insert(msg.Data)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	shard.client.cacheMemberUser(msg.Data)

	guild.MemberCount++

	shard.client.emit(ctx, &Event{
		Type:    EventTypeMemberJoin,
		ShardID: shard.ShardID,
		Guild:   guild,
		Member:  member,
	})

	return nil
}

func onGuildMemberUpdate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var partial struct {
		GuildID discord.Snowflake `json:"guild_id"`
	}

	err := unmarshalPayload(msg, &partial)
	if err != nil {
		return err
	}

	guild, err := shard.client.resolveGuild(ctx, partial.GuildID)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	member, err := guild.Members.Insert(msg.Data)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	shard.client.cacheMemberUser(msg.Data)

	shard.client.emit(ctx, &Event{
		Type:    EventTypeMemberUpdate,
		ShardID: shard.ShardID,
		Guild:   guild,
		Member:  member,
	})

	return nil
}

func onGuildMemberRemove(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var partial struct {
		GuildID discord.Snowflake `json:"guild_id"`
		User    json.RawMessage   `json:"user"`
	}

	err := unmarshalPayload(msg, &partial)
	if err != nil {
		return err
	}

	guild, err := shard.client.resolveGuild(ctx, partial.GuildID)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	user, err := shard.client.Users.Insert(partial.User)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	member, _ := guild.Members.Delete(user.ID)

	if guild.MemberCount > 0 {
		guild.MemberCount--
	}

	shard.client.emit(ctx, &Event{
		Type:    EventTypeMemberLeave,
		ShardID: shard.ShardID,
		Guild:   guild,
		Member:  member,
		User:    user,
	})

	return nil
}

func onGuildRoleCreate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	return shard.handleRoleUpsert(ctx, msg, EventTypeRoleCreate)
}

func onGuildRoleUpdate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	return shard.handleRoleUpsert(ctx, msg, EventTypeRoleUpdate)
}

func (shard *Shard) handleRoleUpsert(ctx context.Context, msg *discord.GatewayPayload, eventType EventType) error {
	var partial struct {
		GuildID discord.Snowflake `json:"guild_id"`
		Role    json.RawMessage   `json:"role"`
	}

	err := unmarshalPayload(msg, &partial)
	if err != nil {
		return err
	}

	guild, err := shard.client.resolveGuild(ctx, partial.GuildID)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	role, err := guild.Roles.Insert(partial.Role)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	shard.client.registry.RegisterRole(role.ID, guild.ID)

	shard.client.emit(ctx, &Event{
		Type:    eventType,
		ShardID: shard.ShardID,
		Guild:   guild,
		Role:    role,
	})

	return nil
}

func onGuildRoleDelete(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var partial struct {
		GuildID discord.Snowflake `json:"guild_id"`
		RoleID  discord.Snowflake `json:"role_id"`
	}

	err := unmarshalPayload(msg, &partial)
	if err != nil {
		return err
	}

	guild, err := shard.client.resolveGuild(ctx, partial.GuildID)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	role, _ := guild.Roles.Delete(partial.RoleID)
	shard.client.registry.UnregisterRole(partial.RoleID)

	shard.client.emit(ctx, &Event{
		Type:    EventTypeRoleDelete,
		ShardID: shard.ShardID,
		Guild:   guild,
		Role:    role,
	})

	return nil
}

func onGuildEmojisUpdate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var partial struct {
		GuildID discord.Snowflake `json:"guild_id"`
		Emojis  []json.RawMessage `json:"emojis"`
	}

	err := unmarshalPayload(msg, &partial)
	if err != nil {
		return err
	}

	guild, err := shard.client.resolveGuild(ctx, partial.GuildID)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	// The payload carries the complete new emoji set, anything cached but
	// absent from it has been deleted.
	next := make(map[discord.Snowflake]struct{}, len(partial.Emojis))

	for _, err := range batcher.Process(partial.Emojis, batcher.DefaultBatchSize, nil, func(raw json.RawMessage) error {
		emoji, err := guild.Emojis.Insert(raw)
		if err != nil {
			return err
		}

		next[emoji.ID] = struct{}{}

		return nil
	}) {
		shard.logger.Warn("Discarded malformed emoji payload", "error", err)
	}

	stale := make([]discord.Snowflake, 0)

	guild.Emojis.Range(func(id discord.Snowflake, _ *discord.Emoji) bool {
		if _, ok := next[id]; !ok {
			stale = append(stale, id)
		}

		return true
	})

	for _, id := range stale {
		guild.Emojis.Delete(id)
	}

	shard.client.emit(ctx, &Event{
		Type:    EventTypeEmojisUpdate,
		ShardID: shard.ShardID,
		Guild:   guild,
	})

	return nil
}

func channelGuildID(msg *discord.GatewayPayload) (discord.Snowflake, error) {
	var partial struct {
		GuildID discord.Snowflake `json:"guild_id"`
	}

	err := unmarshalPayload(msg, &partial)

	return partial.GuildID, err
}

func (shard *Shard) handleChannelUpsert(ctx context.Context, msg *discord.GatewayPayload, eventType EventType) error {
	guildID, err := channelGuildID(msg)
	if err != nil {
		return err
	}

	client := shard.client

	if guildID.IsNil() {
		channel, err := client.DMChannels.Insert(msg.Data)
		if err != nil {
			shard.dropEvent(msg.Type, err)

			return nil
		}

		client.emit(ctx, &Event{
			Type:    eventType,
			ShardID: shard.ShardID,
			Channel: channel,
		})

		return nil
	}

	guild, err := client.resolveGuild(ctx, guildID)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	channel, err := guild.Channels.Insert(msg.Data)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	client.registry.RegisterChannel(channel.ID, guild.ID)
	guild.LinkThreadParent(channel)

	client.emit(ctx, &Event{
		Type:    eventType,
		ShardID: shard.ShardID,
		Guild:   guild,
		Channel: channel,
	})

	return nil
}

func (shard *Shard) handleChannelDelete(ctx context.Context, msg *discord.GatewayPayload, eventType EventType) error {
	var partial struct {
		ID      discord.Snowflake `json:"id"`
		GuildID discord.Snowflake `json:"guild_id"`
	}

	err := unmarshalPayload(msg, &partial)
	if err != nil {
		return err
	}

	client := shard.client

	if partial.GuildID.IsNil() {
		channel, _ := client.DMChannels.Delete(partial.ID)

		client.emit(ctx, &Event{
			Type:      eventType,
			ShardID:   shard.ShardID,
			Channel:   channel,
			ChannelID: partial.ID,
		})

		return nil
	}

	guild, err := client.resolveGuild(ctx, partial.GuildID)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	channel, _ := guild.Channels.Delete(partial.ID)
	client.registry.UnregisterChannel(partial.ID)

	client.emit(ctx, &Event{
		Type:      eventType,
		ShardID:   shard.ShardID,
		Guild:     guild,
		Channel:   channel,
		ChannelID: partial.ID,
	})

	return nil
}

func onChannelCreate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	return shard.handleChannelUpsert(ctx, msg, EventTypeChannelCreate)
}

func onChannelUpdate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	return shard.handleChannelUpsert(ctx, msg, EventTypeChannelUpdate)
}

func onChannelDelete(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	return shard.handleChannelDelete(ctx, msg, EventTypeChannelDelete)
}

func onThreadCreate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	return shard.handleChannelUpsert(ctx, msg, EventTypeThreadCreate)
}

func onThreadUpdate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	return shard.handleChannelUpsert(ctx, msg, EventTypeThreadUpdate)
}

func onThreadDelete(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	return shard.handleChannelDelete(ctx, msg, EventTypeThreadDelete)
}

func onMessageCreate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var partial struct {
		ID        discord.Snowflake `json:"id"`
		ChannelID discord.Snowflake `json:"channel_id"`
		GuildID   discord.Snowflake `json:"guild_id"`
		Author    json.RawMessage   `json:"author"`
	}

	err := unmarshalPayload(msg, &partial)
	if err != nil {
		return err
	}

	client := shard.client

	if !client.dedupe.Deduplicate(ctx, dedupeKeyMessage(partial.ID), MessageDedupeTTL) {
		return nil
	}

	// Resolution runs outer to inner so each step can rely on its parent:
	// guild, then channel, then the author's member.
	var guild *discord.Guild

	if !partial.GuildID.IsNil() {
		guild, err = client.resolveGuild(ctx, partial.GuildID)
		if err != nil {
			shard.dropEvent(msg.Type, err)

			return nil
		}
	}

	// An uncached direct message channel can be opened through its author.
	var recipientID discord.Snowflake

	if partial.GuildID.IsNil() && len(partial.Author) > 0 {
		var author struct {
			ID discord.Snowflake `json:"id"`
		}

		if err := gatehousejson.Unmarshal(partial.Author, &author); err == nil && !shard.isOwnUser(author.ID) {
			recipientID = author.ID
		}
	}

	channel, err := client.resolveChannel(ctx, guild, partial.ChannelID, recipientID)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	message, err := channel.Messages.Insert(msg.Data)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	channel.LastMessageID = message.ID

	if len(partial.Author) > 0 {
		if user, err := client.Users.Insert(partial.Author); err == nil {
			message.Author = user

			if guild != nil {
				member, err := client.resolveMember(ctx, guild, user.ID)
				if err != nil {
					shard.dropEvent(msg.Type, err)

					return nil
				}

				message.Member = member
			}
		}
	}

	client.emit(ctx, &Event{
		Type:    EventTypeMessageCreate,
		ShardID: shard.ShardID,
		Guild:   guild,
		Channel: channel,
		Member:  message.Member,
		Message: message,
	})

	return nil
}

func onMessageUpdate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var partial struct {
		ChannelID discord.Snowflake `json:"channel_id"`
		GuildID   discord.Snowflake `json:"guild_id"`
	}

	err := unmarshalPayload(msg, &partial)
	if err != nil {
		return err
	}

	client := shard.client

	var guild *discord.Guild

	if !partial.GuildID.IsNil() {
		guild, err = client.resolveGuild(ctx, partial.GuildID)
		if err != nil {
			shard.dropEvent(msg.Type, err)

			return nil
		}
	}

	channel, err := client.resolveChannel(ctx, guild, partial.ChannelID, 0)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	message, err := channel.Messages.Insert(msg.Data)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	client.emit(ctx, &Event{
		Type:    EventTypeMessageUpdate,
		ShardID: shard.ShardID,
		Guild:   guild,
		Channel: channel,
		Message: message,
	})

	return nil
}

func onMessageDelete(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var partial struct {
		ID        discord.Snowflake `json:"id"`
		ChannelID discord.Snowflake `json:"channel_id"`
		GuildID   discord.Snowflake `json:"guild_id"`
	}

	err := unmarshalPayload(msg, &partial)
	if err != nil {
		return err
	}

	client := shard.client

	var guild *discord.Guild

	if !partial.GuildID.IsNil() {
		guild, err = client.resolveGuild(ctx, partial.GuildID)
		if err != nil {
			shard.dropEvent(msg.Type, err)

			return nil
		}
	}

	channel, err := client.resolveChannel(ctx, guild, partial.ChannelID, 0)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	message, _ := channel.Messages.Delete(partial.ID)

	client.emit(ctx, &Event{
		Type:      EventTypeMessageDelete,
		ShardID:   shard.ShardID,
		Guild:     guild,
		Channel:   channel,
		Message:   message,
		MessageID: partial.ID,
	})

	return nil
}

type reactionPayload struct {
	UserID    discord.Snowflake `json:"user_id"`
	ChannelID discord.Snowflake `json:"channel_id"`
	MessageID discord.Snowflake `json:"message_id"`
	GuildID   discord.Snowflake `json:"guild_id"`
	Emoji     discord.Emoji     `json:"emoji"`
}

func (shard *Shard) resolveReactionMessage(ctx context.Context, payload *reactionPayload, fetchMessage bool) (*discord.Channel, *discord.Message, error) {
	client := shard.client

	var guild *discord.Guild

	var err error

	if !payload.GuildID.IsNil() {
		guild, err = client.resolveGuild(ctx, payload.GuildID)
		if err != nil {
			return nil, nil, err
		}
	}

	channel, err := client.resolveChannel(ctx, guild, payload.ChannelID, 0)
	if err != nil {
		return nil, nil, err
	}

	if message, ok := channel.Messages.Get(payload.MessageID); ok {
		return channel, message, nil
	}

	if !fetchMessage {
		return channel, nil, nil
	}

	client.warnUncached("message", payload.MessageID)

	data, err := client.rest.FetchMessage(ctx, payload.ChannelID, payload.MessageID)
	if err != nil {
		return channel, nil, fmt.Errorf("message %d: %w: %v", payload.MessageID, ErrUncachedEntity, err)
	}

	message, err := channel.Messages.Insert(data)
	if err != nil {
		return channel, nil, fmt.Errorf("message %d: %w: %v", payload.MessageID, ErrUncachedEntity, err)
	}

	return channel, message, nil
}

func (shard *Shard) isOwnUser(userID discord.Snowflake) bool {
	user := shard.client.user.Load()

	return user != nil && user.ID == userID
}

func onMessageReactionAdd(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var payload reactionPayload

	err := unmarshalPayload(msg, &payload)
	if err != nil {
		return err
	}

	channel, message, err := shard.resolveReactionMessage(ctx, &payload, true)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	message.AddReaction(payload.Emoji, shard.isOwnUser(payload.UserID))

	shard.client.emit(ctx, &Event{
		Type:      EventTypeReactionAdd,
		ShardID:   shard.ShardID,
		Channel:   channel,
		Message:   message,
		Emoji:     &payload.Emoji,
		UserID:    payload.UserID,
		MessageID: payload.MessageID,
	})

	return nil
}

func onMessageReactionRemove(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var payload reactionPayload

	err := unmarshalPayload(msg, &payload)
	if err != nil {
		return err
	}

	channel, message, err := shard.resolveReactionMessage(ctx, &payload, false)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	// Removing a reaction from an uncached message has nothing to update,
	// the fetched message would already reflect the removal.
	if message == nil {
		shard.dropEvent(msg.Type, ErrUncachedEntity)

		return nil
	}

	// A remove for an aggregate we never saw has nothing to update.
	if _, found := message.RemoveReaction(payload.Emoji, shard.isOwnUser(payload.UserID)); !found {
		shard.dropEvent(msg.Type, ErrUncachedEntity)

		return nil
	}

	shard.client.emit(ctx, &Event{
		Type:      EventTypeReactionRemove,
		ShardID:   shard.ShardID,
		Channel:   channel,
		Message:   message,
		Emoji:     &payload.Emoji,
		UserID:    payload.UserID,
		MessageID: payload.MessageID,
	})

	return nil
}

func onMessageReactionRemoveAll(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var payload reactionPayload

	err := unmarshalPayload(msg, &payload)
	if err != nil {
		return err
	}

	channel, message, err := shard.resolveReactionMessage(ctx, &payload, false)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	if message == nil {
		shard.dropEvent(msg.Type, ErrUncachedEntity)

		return nil
	}

	message.ClearReactions()

	shard.client.emit(ctx, &Event{
		Type:      EventTypeReactionRemoveAll,
		ShardID:   shard.ShardID,
		Channel:   channel,
		Message:   message,
		MessageID: payload.MessageID,
	})

	return nil
}

func onPresenceUpdate(_ context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	configuration := shard.client.configuration.Load()

	// Presences only matter for cache pressure: when not caching every
	// member, an offline member is evicted to keep hot members resident.
	if configuration.CacheAllMembers {
		return nil
	}

	var partial struct {
		GuildID discord.Snowflake `json:"guild_id"`
		Status  string            `json:"status"`
		User    struct {
			ID discord.Snowflake `json:"id"`
		} `json:"user"`
	}

	err := unmarshalPayload(msg, &partial)
	if err != nil {
		return err
	}

	if partial.Status != "offline" || partial.GuildID.IsNil() {
		return nil
	}

	if guild, ok := shard.client.Guilds.Get(partial.GuildID); ok {
		guild.Members.Delete(partial.User.ID)
	}

	return nil
}

func onUserUpdate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	user, err := shard.client.Users.Insert(msg.Data)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	if own := shard.client.user.Load(); own != nil && own.ID == user.ID {
		shard.client.user.Store(user)
	}

	shard.client.emit(ctx, &Event{
		Type:    EventTypeUserUpdate,
		ShardID: shard.ShardID,
		User:    user,
	})

	return nil
}

func onTypingStart(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var partial struct {
		ChannelID discord.Snowflake `json:"channel_id"`
		GuildID   discord.Snowflake `json:"guild_id"`
		UserID    discord.Snowflake `json:"user_id"`
	}

	err := unmarshalPayload(msg, &partial)
	if err != nil {
		return err
	}

	client := shard.client

	var guild *discord.Guild

	var member *discord.GuildMember

	if !partial.GuildID.IsNil() {
		guild, err = client.resolveGuild(ctx, partial.GuildID)
		if err != nil {
			shard.dropEvent(msg.Type, err)

			return nil
		}

		member, err = client.resolveMember(ctx, guild, partial.UserID)
		if err != nil {
			shard.dropEvent(msg.Type, err)

			return nil
		}
	}

	channel, err := client.resolveChannel(ctx, guild, partial.ChannelID, partial.UserID)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	client.emit(ctx, &Event{
		Type:      EventTypeTypingStart,
		ShardID:   shard.ShardID,
		Guild:     guild,
		Channel:   channel,
		Member:    member,
		UserID:    partial.UserID,
		ChannelID: partial.ChannelID,
	})

	return nil
}

func onVoiceStateUpdate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var voiceState discord.VoiceState

	err := unmarshalPayload(msg, &voiceState)
	if err != nil {
		return err
	}

	client := shard.client

	if voiceState.GuildID.IsNil() {
		return nil
	}

	guild, err := client.resolveGuild(ctx, voiceState.GuildID)
	if err != nil {
		shard.dropEvent(msg.Type, err)

		return nil
	}

	if len(voiceState.Member) > 0 {
		if _, err := guild.Members.Insert(voiceState.Member); err == nil {
			client.cacheMemberUser(voiceState.Member)
		}
	}

	member, _ := guild.Members.Get(voiceState.UserID)

	// Capture the old channel before mutating the state so the leave half
	// of a transition can reference it.
	previous, hadPrevious := guild.VoiceStates.Load(voiceState.UserID)

	var previousChannel *discord.Channel

	var previousChannelID discord.Snowflake

	if hadPrevious && previous.ChannelID != nil {
		previousChannelID = *previous.ChannelID
		previousChannel, _ = guild.Channels.Get(previousChannelID)
	}

	var channel *discord.Channel

	var channelID discord.Snowflake

	if voiceState.ChannelID != nil {
		channelID = *voiceState.ChannelID
		channel, _ = guild.Channels.Get(channelID)
	}

	emit := func(eventType EventType, channel *discord.Channel, channelID discord.Snowflake) {
		client.emit(ctx, &Event{
			Type:      eventType,
			ShardID:   shard.ShardID,
			Guild:     guild,
			Channel:   channel,
			Member:    member,
			UserID:    voiceState.UserID,
			ChannelID: channelID,
		})
	}

	switch {
	case voiceState.ChannelID == nil:
		// Disconnected from voice entirely.
		guild.VoiceStates.Delete(voiceState.UserID)

		if hadPrevious {
			emit(EventTypeVoiceChannelLeave, previousChannel, previousChannelID)
			emit(EventTypeVoiceDisconnect, nil, 0)
		}
	case !hadPrevious:
		// First state for this user, a fresh connection.
		guild.VoiceStates.Store(voiceState.UserID, &voiceState)

		emit(EventTypeVoiceConnect, nil, 0)
		emit(EventTypeVoiceChannelJoin, channel, channelID)
	case previousChannelID != channelID:
		// Moved between channels.
		guild.VoiceStates.Store(voiceState.UserID, &voiceState)

		emit(EventTypeVoiceChannelLeave, previousChannel, previousChannelID)
		emit(EventTypeVoiceChannelJoin, channel, channelID)
	default:
		// Mute, deafen or stream flags changed in place.
		guild.VoiceStates.Store(voiceState.UserID, &voiceState)

		emit(EventTypeVoiceUpdate, channel, channelID)
	}

	if shard.isOwnUser(voiceState.UserID) {
		client.trackOwnVoiceState(ctx, shard, &voiceState)
	}

	return nil
}

func onVoiceServerUpdate(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error {
	var update discord.VoiceServerUpdate

	err := unmarshalPayload(msg, &update)
	if err != nil {
		return err
	}

	return shard.client.connectVoice(ctx, shard, update)
}

func init() {
	registerDispatchHandler(discord.EventReady, onReady)
	registerDispatchHandler(discord.EventResumed, onResumed)
	registerDispatchHandler(discord.EventGuildCreate, onGuildCreate)
	registerDispatchHandler(discord.EventGuildUpdate, onGuildUpdate)
	registerDispatchHandler(discord.EventGuildDelete, onGuildDelete)
	registerDispatchHandler(discord.EventGuildMembersChunk, onGuildMembersChunk)
	registerDispatchHandler(discord.EventGuildSync, onGuildSync)
	registerDispatchHandler(discord.EventGuildMemberAdd, onGuildMemberAdd)
	registerDispatchHandler(discord.EventGuildMemberUpdate, onGuildMemberUpdate)
	registerDispatchHandler(discord.EventGuildMemberRemove, onGuildMemberRemove)
	registerDispatchHandler(discord.EventGuildRoleCreate, onGuildRoleCreate)
	registerDispatchHandler(discord.EventGuildRoleUpdate, onGuildRoleUpdate)
	registerDispatchHandler(discord.EventGuildRoleDelete, onGuildRoleDelete)
	registerDispatchHandler(discord.EventGuildEmojisUpdate, onGuildEmojisUpdate)
	registerDispatchHandler(discord.EventChannelCreate, onChannelCreate)
	registerDispatchHandler(discord.EventChannelUpdate, onChannelUpdate)
	registerDispatchHandler(discord.EventChannelDelete, onChannelDelete)
	registerDispatchHandler(discord.EventThreadCreate, onThreadCreate)
	registerDispatchHandler(discord.EventThreadUpdate, onThreadUpdate)
	registerDispatchHandler(discord.EventThreadDelete, onThreadDelete)
	registerDispatchHandler(discord.EventMessageCreate, onMessageCreate)
	registerDispatchHandler(discord.EventMessageUpdate, onMessageUpdate)
	registerDispatchHandler(discord.EventMessageDelete, onMessageDelete)
	registerDispatchHandler(discord.EventMessageReactionAdd, onMessageReactionAdd)
	registerDispatchHandler(discord.EventMessageReactionRemove, onMessageReactionRemove)
	registerDispatchHandler(discord.EventMessageReactionRemoveAll, onMessageReactionRemoveAll)
	registerDispatchHandler(discord.EventPresenceUpdate, onPresenceUpdate)
	registerDispatchHandler(discord.EventUserUpdate, onUserUpdate)
	registerDispatchHandler(discord.EventTypingStart, onTypingStart)
	registerDispatchHandler(discord.EventVoiceStateUpdate, onVoiceStateUpdate)
	registerDispatchHandler(discord.EventVoiceServerUpdate, onVoiceServerUpdate)
}
