package gatehouse

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-dev/gatehouse/discord"
)

func TestResolveGuildFetchesOnce(t *testing.T) {
	t.Parallel()

	rest := newFakeRESTClient()
	rest.guilds[1] = json.RawMessage(`{"id":"1","name":"one"}`)

	client, _ := newTestClient(rest, nil)

	ctx := context.Background()

	guild, err := client.resolveGuild(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "one", guild.Name)

	again, err := client.resolveGuild(ctx, 1)
	require.NoError(t, err)

	// The second resolve hits the cache and returns the same instance.
	assert.Same(t, guild, again)
	assert.Equal(t, 1, rest.callCount("guild", 1))
}

func TestResolveGuildFetchFailure(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(newFakeRESTClient(), nil)

	_, err := client.resolveGuild(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUncachedEntity)
}

func TestResolveChannelGuildVersusDM(t *testing.T) {
	t.Parallel()

	rest := newFakeRESTClient()
	rest.guilds[1] = json.RawMessage(`{"id":"1"}`)
	rest.channels[2] = json.RawMessage(`{"id":"2","guild_id":"1","type":0}`)
	rest.channels[7] = json.RawMessage(`{"id":"7","type":1}`)

	client, _ := newTestClient(rest, nil)

	ctx := context.Background()

	guild, err := client.resolveGuild(ctx, 1)
	require.NoError(t, err)

	channel, err := client.resolveChannel(ctx, guild, 2, 0)
	require.NoError(t, err)

	_, ok := guild.Channels.Get(2)
	assert.True(t, ok)

	guildID, ok := client.registry.GuildForChannel(2)
	require.True(t, ok)
	assert.Equal(t, discord.Snowflake(1), guildID)

	// A guildless resolve lands in the DM collection.
	dm, err := client.resolveChannel(ctx, nil, 7, 0)
	require.NoError(t, err)
	assert.True(t, dm.Type.IsPrivate())

	_, ok = client.DMChannels.Get(7)
	assert.True(t, ok)

	_, ok = client.registry.GuildForChannel(7)
	assert.False(t, ok)

	assert.NotSame(t, channel, dm)
}

func TestResolveChannelOpensDMForRecipient(t *testing.T) {
	t.Parallel()

	rest := newFakeRESTClient()
	rest.dms[9] = json.RawMessage(`{"id":"7","type":1,"recipients":[{"id":"9"}]}`)

	client, _ := newTestClient(rest, nil)

	ctx := context.Background()

	dm, err := client.resolveChannel(ctx, nil, 7, 9)
	require.NoError(t, err)
	assert.True(t, dm.Type.IsPrivate())
	assert.Equal(t, 1, rest.callCount("create-dm", 9))
	assert.Equal(t, 0, rest.callCount("channel", 7))

	_, ok := client.DMChannels.Get(7)
	assert.True(t, ok)

	// A known recipient whose DM cannot be opened still falls back to a
	// plain channel fetch.
	rest.channels[8] = json.RawMessage(`{"id":"8","type":1}`)

	fallback, err := client.resolveChannel(ctx, nil, 8, 12)
	require.NoError(t, err)
	assert.True(t, fallback.Type.IsPrivate())
	assert.Equal(t, 1, rest.callCount("create-dm", 12))
	assert.Equal(t, 1, rest.callCount("channel", 8))
}

func TestResolveMemberFetchesOnce(t *testing.T) {
	t.Parallel()

	rest := newFakeRESTClient()
	rest.guilds[1] = json.RawMessage(`{"id":"1"}`)
	rest.members[3] = json.RawMessage(`{"user":{"id":"3","username":"bob"},"nick":"bobby"}`)

	client, _ := newTestClient(rest, nil)

	ctx := context.Background()

	guild, err := client.resolveGuild(ctx, 1)
	require.NoError(t, err)

	member, err := client.resolveMember(ctx, guild, 3)
	require.NoError(t, err)
	require.NotNil(t, member.User)
	assert.Equal(t, "bob", member.User.Username)

	again, err := client.resolveMember(ctx, guild, 3)
	require.NoError(t, err)
	assert.Same(t, member, again)
	assert.Equal(t, 1, rest.callCount("member", 3))
}

func TestResolveUserFetchFailureWrapsUncached(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(newFakeRESTClient(), nil)

	_, err := client.resolveUser(context.Background(), 3)
	assert.ErrorIs(t, err, ErrUncachedEntity)
}

func TestResolveGuildForChannelUnknown(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(newFakeRESTClient(), nil)

	guild, err := client.resolveGuildForChannel(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, guild)
}
