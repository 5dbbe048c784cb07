package gatehouse

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gatehouse-dev/gatehouse/discord"
)

// warnUncached logs a cache miss that required a fetch. The warning can be
// suppressed per application, misses are expected for member-heavy guilds
// running with small cache limits.
func (client *Client) warnUncached(entity string, id discord.Snowflake) {
	if client.configuration.Load().SuppressUncachedWarning {
		return
	}

	client.logger.Warn("Entity was not cached, fetching from REST",
		"entity", entity,
		"id", id)
}

// resolveGuild returns the cached guild or fetches and caches it.
func (client *Client) resolveGuild(ctx context.Context, guildID discord.Snowflake) (*discord.Guild, error) {
	if guild, ok := client.Guilds.Get(guildID); ok {
		return guild, nil
	}

	client.warnUncached("guild", guildID)

	data, err := client.rest.FetchGuild(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("guild %d: %w: %v", guildID, ErrUncachedEntity, err)
	}

	guild, err := client.Guilds.Insert(data)
	if err != nil {
		return nil, fmt.Errorf("guild %d: %w: %v", guildID, ErrUncachedEntity, err)
	}

	client.registry.RegisterGuild(guild)

	return guild, nil
}

// resolveChannel returns the cached channel, checking the owning guild first
// and falling back to the DM channel collection. On a miss the channel is
// fetched and cached in whichever collection matches its type. A non-nil
// recipientID opens the DM channel directly when no guild owns it.
func (client *Client) resolveChannel(ctx context.Context, guild *discord.Guild, channelID, recipientID discord.Snowflake) (*discord.Channel, error) {
	if guild != nil {
		if channel, ok := guild.Channels.Get(channelID); ok {
			return channel, nil
		}
	}

	if channel, ok := client.DMChannels.Get(channelID); ok {
		return channel, nil
	}

	client.warnUncached("channel", channelID)

	var data json.RawMessage

	var err error

	if guild == nil && !recipientID.IsNil() {
		data, err = client.rest.CreateDM(ctx, recipientID)
	}

	if len(data) == 0 {
		data, err = client.rest.FetchChannel(ctx, channelID)
	}

	if err != nil {
		return nil, fmt.Errorf("channel %d: %w: %v", channelID, ErrUncachedEntity, err)
	}

	if guild != nil {
		channel, err := guild.Channels.Insert(data)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w: %v", channelID, ErrUncachedEntity, err)
		}

		client.registry.RegisterChannel(channel.ID, guild.ID)

		return channel, nil
	}

	channel, err := client.DMChannels.Insert(data)
	if err != nil {
		return nil, fmt.Errorf("channel %d: %w: %v", channelID, ErrUncachedEntity, err)
	}

	return channel, nil
}

// resolveMember returns the cached guild member or fetches and caches it.
func (client *Client) resolveMember(ctx context.Context, guild *discord.Guild, userID discord.Snowflake) (*discord.GuildMember, error) {
	if member, ok := guild.Members.Get(userID); ok {
		return member, nil
	}

	client.warnUncached("member", userID)

	data, err := client.rest.FetchGuildMember(ctx, guild.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("member %d in guild %d: %w: %v", userID, guild.ID, ErrUncachedEntity, err)
	}

	member, err := guild.Members.Insert(data)
	if err != nil {
		return nil, fmt.Errorf("member %d in guild %d: %w: %v", userID, guild.ID, ErrUncachedEntity, err)
	}

	return member, nil
}

// resolveUser returns the cached user or fetches and caches it.
func (client *Client) resolveUser(ctx context.Context, userID discord.Snowflake) (*discord.User, error) {
	if user, ok := client.Users.Get(userID); ok {
		return user, nil
	}

	client.warnUncached("user", userID)

	data, err := client.rest.FetchUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w: %v", userID, ErrUncachedEntity, err)
	}

	user, err := client.Users.Insert(data)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w: %v", userID, ErrUncachedEntity, err)
	}

	return user, nil
}

// resolveGuildForChannel looks the owning guild up through the registry.
func (client *Client) resolveGuildForChannel(ctx context.Context, channelID discord.Snowflake) (*discord.Guild, error) {
	guildID, ok := client.registry.GuildForChannel(channelID)
	if !ok {
		return nil, nil
	}

	return client.resolveGuild(ctx, guildID)
}

// dropEvent records and logs an event that could not be reconciled. The
// event is discarded, shard state is unaffected.
func (shard *Shard) dropEvent(eventType string, err error) {
	RecordDroppedEvent(shard.client.identifier, eventType)

	if !shard.client.configuration.Load().SuppressUncachedWarning {
		shard.logger.Warn("Dropping event, referenced entity could not be resolved",
			"type", eventType,
			"error", err)
	}
}
