package gatehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/url"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/WelcomerTeam/czlib"
	"github.com/coder/websocket"

	"github.com/gatehouse-dev/gatehouse/discord"
	"github.com/gatehouse-dev/gatehouse/gatehousejson"
	"github.com/gatehouse-dev/gatehouse/pkg/limiter"
	"github.com/gatehouse-dev/gatehouse/pkg/syncmap"
)

var (
	// Number of retries to attempt before giving up on a shard
	ShardConnectRetries = int32(3)

	// Number of heartbeats that can fail before the shard is considered dead
	ShardMaxHeartbeatFailures = int32(5)

	GatewayLargeThreshold = int32(100)

	// Payloads at or above this size are decoded with cooperative chunking
	// so a huge guild payload cannot monopolize the read loop.
	ChunkedDecodeThreshold = 64 * 1024
)

var gatewayURL = url.URL{
	Scheme: "wss",
	Host:   "gateway.discord.gg",
}

type ShardStatus int32

const (
	ShardStatusIdle ShardStatus = iota
	ShardStatusConnecting
	ShardStatusConnected
	ShardStatusReady
	ShardStatusStopping
	ShardStatusStopped
	ShardStatusFailed
)

func (status ShardStatus) String() string {
	switch status {
	case ShardStatusIdle:
		return "idle"
	case ShardStatusConnecting:
		return "connecting"
	case ShardStatusConnected:
		return "connected"
	case ShardStatusReady:
		return "ready"
	case ShardStatusStopping:
		return "stopping"
	case ShardStatusStopped:
		return "stopped"
	case ShardStatusFailed:
		return "failed"
	}

	return "unknown"
}

// shardLoadingState tracks what a shard is still waiting on after READY.
// The shard is loaded once every pending set has drained. A set that was
// never populated counts as drained.
type shardLoadingState struct {
	mu sync.Mutex

	pendingGuilds map[discord.Snowflake]struct{}
	pendingSyncs  map[discord.Snowflake]struct{}
	pendingChunks map[discord.Snowflake]struct{}

	readyFired bool
}

func newShardLoadingState() *shardLoadingState {
	return &shardLoadingState{
		pendingGuilds: make(map[discord.Snowflake]struct{}),
		pendingSyncs:  make(map[discord.Snowflake]struct{}),
		pendingChunks: make(map[discord.Snowflake]struct{}),
	}
}

func (state *shardLoadingState) reset() {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.pendingGuilds = make(map[discord.Snowflake]struct{})
	state.pendingSyncs = make(map[discord.Snowflake]struct{})
	state.pendingChunks = make(map[discord.Snowflake]struct{})
	state.readyFired = false
}

func (state *shardLoadingState) addPendingGuild(guildID discord.Snowflake) {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.pendingGuilds[guildID] = struct{}{}
}

func (state *shardLoadingState) addPendingSync(guildID discord.Snowflake) {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.pendingSyncs[guildID] = struct{}{}
}

func (state *shardLoadingState) addPendingChunk(guildID discord.Snowflake) {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.pendingChunks[guildID] = struct{}{}
}

// clearGuild removes a guild from the pending guild set and reports whether
// the clear completed loading. Completion is reported at most once.
func (state *shardLoadingState) clearGuild(guildID discord.Snowflake) bool {
	state.mu.Lock()
	defer state.mu.Unlock()

	delete(state.pendingGuilds, guildID)

	return state.becameReadyLocked()
}

func (state *shardLoadingState) clearSync(guildID discord.Snowflake) bool {
	state.mu.Lock()
	defer state.mu.Unlock()

	delete(state.pendingSyncs, guildID)

	return state.becameReadyLocked()
}

func (state *shardLoadingState) clearChunk(guildID discord.Snowflake) bool {
	state.mu.Lock()
	defer state.mu.Unlock()

	delete(state.pendingChunks, guildID)

	return state.becameReadyLocked()
}

// check reports whether loading completed without clearing anything, for
// shards that never had pending work.
func (state *shardLoadingState) check() bool {
	state.mu.Lock()
	defer state.mu.Unlock()

	return state.becameReadyLocked()
}

func (state *shardLoadingState) becameReadyLocked() bool {
	if state.readyFired {
		return false
	}

	if len(state.pendingGuilds) > 0 || len(state.pendingSyncs) > 0 || len(state.pendingChunks) > 0 {
		return false
	}

	state.readyFired = true

	return true
}

func (state *shardLoadingState) isReady() bool {
	state.mu.Lock()
	defer state.mu.Unlock()

	return state.readyFired
}

type Shard struct {
	logger *slog.Logger

	client *Client

	ShardID int32

	retriesRemaining *atomic.Int32
	StartedAt        *atomic.Pointer[time.Time]

	HeartbeatActive   *atomic.Bool
	lastHeartbeatAck  *atomic.Pointer[time.Time]
	lastHeartbeatSent *atomic.Pointer[time.Time]

	heartbeater              *time.Ticker
	heartbeatInterval        *atomic.Pointer[time.Duration]
	heartbeatFailureInterval *atomic.Pointer[time.Duration]

	// Guilds assigned to this shard, keyed by guild ID.
	Guilds *syncmap.Map[discord.Snowflake, bool]

	loading *shardLoadingState

	sequence  *atomic.Int32
	sessionID *atomic.Pointer[string]

	websocketConn      *websocket.Conn
	websocketRatelimit *limiter.DurationLimiter

	resumeGatewayURL *atomic.Pointer[string]

	stop  chan struct{}
	error chan error

	Status *atomic.Int32

	gatewayPayloadPool *sync.Pool
}

func NewShard(client *Client, shardID int32) *Shard {
	shard := &Shard{
		logger: client.logger.With("shard_id", shardID),

		client: client,

		ShardID: shardID,

		retriesRemaining: &atomic.Int32{},
		StartedAt:        &atomic.Pointer[time.Time]{},

		HeartbeatActive:   &atomic.Bool{},
		lastHeartbeatAck:  &atomic.Pointer[time.Time]{},
		lastHeartbeatSent: &atomic.Pointer[time.Time]{},

		heartbeater:              nil,
		heartbeatInterval:        &atomic.Pointer[time.Duration]{},
		heartbeatFailureInterval: &atomic.Pointer[time.Duration]{},

		Guilds: &syncmap.Map[discord.Snowflake, bool]{},

		loading: newShardLoadingState(),

		sequence:  &atomic.Int32{},
		sessionID: &atomic.Pointer[string]{},

		websocketConn: nil,

		// We have a ratelimit of 120 messages per minute we can send to the
		// gateway. We use less than 120/minute to account for heartbeating.
		websocketRatelimit: limiter.NewDurationLimiter(110, time.Minute),

		resumeGatewayURL: &atomic.Pointer[string]{},

		stop:  make(chan struct{}, 1),
		error: make(chan error, 1),

		Status: &atomic.Int32{},

		gatewayPayloadPool: &sync.Pool{
			New: func() any {
				return &discord.GatewayPayload{}
			},
		},
	}

	shard.retriesRemaining.Store(ShardConnectRetries)

	return shard
}

func (shard *Shard) SetStatus(status ShardStatus) {
	UpdateShardStatus(shard.client.identifier, shard.ShardID, status)
	shard.Status.Store(int32(status))
	shard.logger.Info("Shard status updated", "status", status.String())
}

func (shard *Shard) ConnectWithRetry(ctx context.Context) error {
	for {
		err := shard.Connect(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			newValue := shard.retriesRemaining.Add(-1)
			if newValue <= 0 {
				shard.SetStatus(ShardStatusFailed)

				return fmt.Errorf("%w: %w", ErrShardConnectFailed, err)
			}

			shard.logger.Error("Failed to connect to shard", "error", err, "retries_remaining", newValue)
		} else if err == nil {
			break
		}
	}

	return nil
}

func (shard *Shard) Connect(ctx context.Context) error {
	shard.logger.Debug("Shard is connecting")

	shard.SetStatus(ShardStatusConnecting)

	var err error

	defer func() {
		if err != nil {
			if shard.websocketConn != nil {
				shard.closeWS(ctx, websocket.StatusNormalClosure)
			}
		}
	}()

	var websocketURL string

	resumeGatewayURL := shard.resumeGatewayURL.Load()
	if resumeGatewayURL == nil || *resumeGatewayURL == "" {
		websocketURL = gatewayURL.String()
	} else {
		websocketURL = *resumeGatewayURL
	}

	if shard.websocketConn != nil {
		err = shard.closeWS(ctx, websocket.StatusNormalClosure)
		if err != nil {
			shard.logger.Error("Failed to close websocket", "error", err)

			return fmt.Errorf("failed to close websocket: %w", err)
		}
	}

	websocketURL += "?v=10&encoding=json"

	shard.logger.Debug("Dialing websocket", "url", websocketURL)

	conn, _, err := websocket.Dial(ctx, websocketURL, nil)
	if err != nil {
		shard.logger.Error("Failed to dial websocket", "error", err)

		return fmt.Errorf("failed to dial websocket: %w", err)
	}

	conn.SetReadLimit(-1)

	shard.websocketConn = conn

	payload, err := shard.read(ctx, conn)
	if err != nil {
		shard.logger.Error("Failed to read initial payload", "error", err)

		return fmt.Errorf("failed to read initial payload: %w", err)
	}

	var hello discord.Hello

	err = unmarshalPayload(payload, &hello)
	if err != nil {
		shard.logger.Error("Failed to unmarshal hello", "error", err)

		return fmt.Errorf("failed to unmarshal hello: %w", err)
	}

	shard.gatewayPayloadPool.Put(payload)

	if hello.HeartbeatInterval <= 0 {
		return ErrShardInvalidHeartbeatInterval
	}

	now := time.Now()
	shard.StartedAt.Store(&now)
	shard.lastHeartbeatAck.Store(&now)
	shard.lastHeartbeatSent.Store(&now)

	heartbeatInterval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
	shard.heartbeatInterval.Store(&heartbeatInterval)

	heartbeatFailureInterval := heartbeatInterval * time.Duration(ShardMaxHeartbeatFailures)
	shard.heartbeatFailureInterval.Store(&heartbeatFailureInterval)

	go shard.heartbeat(ctx)

	sequence := shard.sequence.Load()
	sessionID := shard.sessionID.Load()

	if sequence == 0 || (sessionID == nil || *sessionID == "") {
		err = shard.identify(ctx)
		if err != nil {
			return fmt.Errorf("failed to identify: %w", err)
		}
	} else {
		err = shard.resume(ctx)
		if err != nil {
			return fmt.Errorf("failed to resume: %w", err)
		}
	}

	shard.SetStatus(ShardStatusConnected)

	return nil
}

func (shard *Shard) Start(ctx context.Context) error {
	shard.logger.Debug("Shard is starting")

	for {
		err := shard.Listen(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrShardStopping) {
				return nil
			}

			shard.SetStatus(ShardStatusFailed)

			select {
			case shard.error <- err:
			default:
			}

			var closeError websocket.CloseError

			if ok := errors.As(err, &closeError); ok {
				if !IsStatusCodeRecoverable(closeError.Code) {
					return err
				}
			}
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

func (shard *Shard) Stop(ctx context.Context, code websocket.StatusCode) {
	shard.logger.Debug("Shard is stopping")

	shard.SetStatus(ShardStatusStopping)

	select {
	case shard.stop <- struct{}{}:
	default:
	}

	shard.closeWS(ctx, code)

	shard.SetStatus(ShardStatusStopped)
}

func (shard *Shard) Listen(ctx context.Context) error {
	shard.logger.Debug("Shard is listening")

	websocketConn := shard.websocketConn

	for {
		msg, err := shard.read(ctx, websocketConn)

		select {
		case <-shard.stop:
			return ErrShardStopping
		case <-ctx.Done():
			return nil
		default:
		}

		if err == nil {
			err = shard.OnEvent(ctx, msg)
			if err != nil {
				shard.logger.Error("Failed to handle event", "error", err)
			}

			shard.gatewayPayloadPool.Put(msg)

			continue
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}

		var closeError websocket.CloseError

		if ok := errors.As(err, &closeError); ok {
			if !IsStatusCodeRecoverable(closeError.Code) {
				shard.logger.Error("Shard received close event", "error", closeError)

				return fmt.Errorf("shard %d received close event: %w", shard.ShardID, closeError)
			}
		}

		shard.logger.Error("Shard received error", "error", err)

		// If the websocket connection is the same as the one we're using,
		// we need to reconnect.
		if websocketConn == shard.websocketConn {
			err = shard.reconnect(ctx, websocket.StatusNormalClosure)
			if err != nil {
				shard.logger.Error("Failed to reconnect", "error", err)

				return err
			}
		}

		return nil
	}
}

func IsStatusCodeRecoverable(code websocket.StatusCode) bool {
	return code != discord.CloseNotAuthenticated &&
		code != discord.CloseAuthenticationFailed &&
		code != discord.CloseAlreadyAuthenticated &&
		code != discord.CloseInvalidShard &&
		code != discord.CloseShardingRequired &&
		code != discord.CloseInvalidAPIVersion &&
		code != discord.CloseInvalidIntents &&
		code != discord.CloseDisallowedIntents
}

func (shard *Shard) reconnect(ctx context.Context, code websocket.StatusCode) error {
	shard.logger.Debug("Shard is reconnecting")

	err := shard.closeWS(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to close websocket: %w", err)
	}

	wait := time.Second

	for {
		err := shard.Connect(ctx)
		if err == nil {
			shard.retriesRemaining.Store(ShardConnectRetries)

			return nil
		}

		retries := shard.retriesRemaining.Add(-1)
		if retries <= 0 {
			_ = shard.closeWS(ctx, code)

			err = shard.Connect(ctx)
			if err != nil {
				return fmt.Errorf("failed to reconnect: %w", err)
			}

			return nil
		}

		time.Sleep(wait)

		wait *= 2
		if wait > time.Minute {
			wait = time.Minute
		}
	}
}

func (shard *Shard) closeWS(_ context.Context, code websocket.StatusCode) error {
	shard.logger.Debug("Shard is closing websocket", "code", code)

	if shard.websocketConn == nil {
		return nil
	}

	err := shard.websocketConn.Close(code, "")
	if err != nil && !errors.Is(err, net.ErrClosed) {
		shard.logger.Error("Failed to close websocket", "error", err)
	}

	return nil
}

func (shard *Shard) heartbeat(ctx context.Context) {
	shard.HeartbeatActive.Store(true)
	defer shard.HeartbeatActive.Store(false)

	// Jitter keeps shards from heartbeating in lockstep.
	hasJitter := true
	heartbeatJitter := time.Millisecond * time.Duration(rand.Int63n(shard.heartbeatInterval.Load().Milliseconds()+1))

	if shard.heartbeater == nil {
		shard.heartbeater = time.NewTicker(heartbeatJitter)
	} else {
		shard.heartbeater.Reset(heartbeatJitter)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-shard.heartbeater.C:
			if hasJitter {
				hasJitter = false

				shard.heartbeater.Reset(*shard.heartbeatInterval.Load())
			}

			shard.logger.Debug("Sending heartbeat", "sequence", shard.sequence.Load())

			err := shard.SendEvent(ctx, discord.GatewayOpHeartbeat, shard.sequence.Load())

			now := time.Now()
			shard.lastHeartbeatSent.Store(&now)

			if err != nil || now.Sub(*shard.lastHeartbeatAck.Load()) > *shard.heartbeatFailureInterval.Load() {
				if err != nil {
					shard.logger.Error("Heartbeat failed", "error", err)
				} else {
					shard.logger.Error("Heartbeat failed", "error", "timeout")
				}

				return
			}
		}
	}
}

func (shard *Shard) identify(ctx context.Context) error {
	configuration := shard.client.configuration.Load()
	shardCount := shard.client.shardCount.Load()

	shard.logger.Debug("Shard is identifying", "shard_id", shard.ShardID, "shard_count", shardCount)

	err := shard.client.identifyProvider.Identify(ctx, shard)
	if err != nil {
		return fmt.Errorf("failed to wait for identify: %w", err)
	}

	return shard.SendEvent(ctx, discord.GatewayOpIdentify, discord.Identify{
		Properties: discord.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "Gatehouse " + Version,
			Device:  "Gatehouse " + Version,
		},
		Token:          configuration.BotToken,
		Shard:          [2]int32{shard.ShardID, shardCount},
		LargeThreshold: GatewayLargeThreshold,
		Intents:        configuration.Intents,
		Compress:       true,
	})
}

func (shard *Shard) resume(ctx context.Context) error {
	shard.logger.Debug("Shard is resuming")

	configuration := shard.client.configuration.Load()

	return shard.SendEvent(ctx, discord.GatewayOpResume, discord.Resume{
		Token:     configuration.BotToken,
		SessionID: *shard.sessionID.Load(),
		Sequence:  shard.sequence.Load(),
	})
}

func (shard *Shard) SendEvent(ctx context.Context, gatewayOp discord.GatewayOp, data any) error {
	packet := discord.SentPayload{
		Op:   gatewayOp,
		Data: data,
	}

	return shard.send(ctx, gatewayOp, packet)
}

func (shard *Shard) send(ctx context.Context, gatewayOp discord.GatewayOp, data any) error {
	defer func() {
		if r := recover(); r != nil {
			if shard.client.panicHandler != nil {
				shard.client.panicHandler(shard.client, r)
			}
		}
	}()

	payload, err := gatehousejson.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	// We don't need to ratelimit heartbeats.
	if gatewayOp != discord.GatewayOpHeartbeat {
		shard.websocketRatelimit.Lock()
	}

	err = shard.websocketConn.Write(ctx, websocket.MessageText, payload)
	if err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}

	return nil
}

func (shard *Shard) read(ctx context.Context, websocketConn *websocket.Conn) (*discord.GatewayPayload, error) {
	messageType, data, err := websocketConn.Read(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}

		return nil, fmt.Errorf("failed to read message: %w", err)
	}

	if messageType == websocket.MessageBinary {
		data, err = czlib.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress payload: %w", err)
		}
	}

	gatewayPayload := shard.gatewayPayloadPool.Get().(*discord.GatewayPayload)

	if len(data) >= ChunkedDecodeThreshold {
		err = gatehousejson.UnmarshalChunked(data, gatewayPayload, gatehousejson.DefaultChunkSize, nil)
	} else {
		err = gatehousejson.Unmarshal(data, gatewayPayload)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	return gatewayPayload, nil
}

func (shard *Shard) OnEvent(ctx context.Context, msg *discord.GatewayPayload) error {
	if f, ok := gatewayEvents[msg.Op]; ok {
		return f(ctx, shard, msg)
	}

	return nil
}
