package discord

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuildLoadDistributesNestedEntities(t *testing.T) {
	t.Parallel()

	guild := NewGuild(DefaultCacheLimits())

	err := guild.Load([]byte(`{
		"id": "1",
		"name": "home",
		"member_count": 2,
		"roles": [{"id": "20", "name": "everyone"}],
		"emojis": [{"id": "30", "name": "blob"}],
		"channels": [{"id": "10", "type": 0, "name": "general"}],
		"threads": [{"id": "11", "type": 11, "parent_id": "10", "name": "thread"}],
		"members": [
			{"user": {"id": "40", "username": "a"}},
			{"user": {"id": "41", "username": "b"}}
		],
		"voice_states": [{"channel_id": "12", "user_id": "40", "session_id": "s"}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, Snowflake(1), guild.ID)
	assert.Equal(t, "home", guild.Name)

	role, ok := guild.Roles.Get(20)
	require.True(t, ok)
	assert.Equal(t, "everyone", role.Name)
	assert.Same(t, guild, role.Guild)

	emoji, ok := guild.Emojis.Get(30)
	require.True(t, ok)
	assert.Equal(t, "blob", emoji.Name)

	channel, ok := guild.Channels.Get(10)
	require.True(t, ok)
	assert.Same(t, guild, channel.Guild)

	// Threads land in the channel collection with their parent linked.
	thread, ok := guild.Channels.Get(11)
	require.True(t, ok)
	require.NotNil(t, thread.Parent)
	assert.Same(t, channel, thread.Parent)

	member, ok := guild.Members.Get(40)
	require.True(t, ok)
	require.NotNil(t, member.User)
	assert.Equal(t, "a", member.User.Username)
	assert.Same(t, guild, member.Guild)

	state, ok := guild.VoiceStates.Load(40)
	require.True(t, ok)
	assert.Equal(t, Snowflake(1), state.GuildID)
	assert.Equal(t, Snowflake(12), *state.ChannelID)
}

func TestGuildLoadPreservesIdentity(t *testing.T) {
	t.Parallel()

	guild := NewGuild(DefaultCacheLimits())

	require.NoError(t, guild.Load([]byte(`{"id": "1", "name": "before"}`)))

	channel, err := guild.Channels.Insert([]byte(`{"id": "10", "type": 0, "name": "old"}`))
	require.NoError(t, err)

	// Reloading updates entities in place so live references stay valid.
	require.NoError(t, guild.Load([]byte(`{
		"id": "1",
		"name": "after",
		"channels": [{"id": "10", "type": 0, "name": "new"}]
	}`)))

	assert.Equal(t, "after", guild.Name)

	reloaded, ok := guild.Channels.Get(10)
	require.True(t, ok)
	assert.Same(t, channel, reloaded)
	assert.Equal(t, "new", channel.Name)
}

// warnCounter counts warn-level records across goroutines.
type warnCounter struct {
	slog.Handler

	mu    sync.Mutex
	warns int
}

func (h *warnCounter) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= slog.LevelWarn {
		h.mu.Lock()
		h.warns++
		h.mu.Unlock()
	}

	return nil
}

func (h *warnCounter) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.warns
}

func TestGuildLoadIsolatesBadEntities(t *testing.T) {
	counter := &warnCounter{Handler: slog.NewTextHandler(io.Discard, nil)}

	previous := slog.Default()
	slog.SetDefault(slog.New(counter))

	t.Cleanup(func() {
		slog.SetDefault(previous)
	})

	guild := NewGuild(DefaultCacheLimits())

	// One malformed role must not prevent the others from loading.
	err := guild.Load([]byte(`{
		"id": "1",
		"roles": [
			{"id": "20", "name": "ok"},
			"not an object",
			{"id": "21", "name": "also ok"}
		]
	}`))
	require.NoError(t, err)

	_, ok := guild.Roles.Get(20)
	assert.True(t, ok)

	_, ok = guild.Roles.Get(21)
	assert.True(t, ok)

	assert.Equal(t, 2, guild.Roles.Len())

	// The discarded entity is surfaced rather than silently swallowed.
	assert.Equal(t, 1, counter.count())
}

func TestLinkThreadParentSkipsNonThreads(t *testing.T) {
	t.Parallel()

	guild := NewGuild(DefaultCacheLimits())

	channel, err := guild.Channels.Insert([]byte(`{"id": "10", "type": 0}`))
	require.NoError(t, err)

	other, err := guild.Channels.Insert([]byte(`{"id": "11", "type": 0, "parent_id": "10"}`))
	require.NoError(t, err)

	guild.LinkThreadParent(other)
	assert.Nil(t, other.Parent)

	thread, err := guild.Channels.Insert([]byte(`{"id": "12", "type": 11, "parent_id": "10"}`))
	require.NoError(t, err)

	guild.LinkThreadParent(thread)
	assert.Same(t, channel, thread.Parent)
}
