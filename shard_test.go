package gatehouse

import (
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
)

func TestShardLoadingState(t *testing.T) {
	t.Parallel()

	state := newShardLoadingState()

	state.addPendingGuild(1)
	state.addPendingSync(1)
	state.addPendingChunk(2)

	assert.False(t, state.isReady())

	// Readiness requires all three pending sets to drain.
	assert.False(t, state.clearGuild(1))
	assert.False(t, state.clearSync(1))
	assert.True(t, state.clearChunk(2))

	assert.True(t, state.isReady())

	// Completion is reported exactly once.
	assert.False(t, state.clearGuild(1))
	assert.False(t, state.check())
}

func TestShardLoadingStateEmpty(t *testing.T) {
	t.Parallel()

	state := newShardLoadingState()

	// A shard with no pending work is ready on the first check.
	assert.True(t, state.check())
	assert.True(t, state.isReady())
	assert.False(t, state.check())
}

func TestShardLoadingStateReset(t *testing.T) {
	t.Parallel()

	state := newShardLoadingState()

	assert.True(t, state.check())

	// A reconnect resets loading so readiness can fire again.
	state.reset()

	assert.False(t, state.isReady())

	state.addPendingGuild(1)

	assert.True(t, state.clearGuild(1))
}

func TestIsStatusCodeRecoverable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsStatusCodeRecoverable(websocket.StatusNormalClosure))
	assert.True(t, IsStatusCodeRecoverable(websocket.StatusCode(WebsocketReconnectCloseCode)))

	assert.False(t, IsStatusCodeRecoverable(websocket.StatusCode(4004)))
	assert.False(t, IsStatusCodeRecoverable(websocket.StatusCode(4014)))
}

func TestShardStatusString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ready", ShardStatusReady.String())
	assert.Equal(t, "failed", ShardStatusFailed.String())
}
