package gatehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/gatehouse-dev/gatehouse/discord"
	"github.com/gatehouse-dev/gatehouse/gatehousejson"
)

const VoiceGatewayVersion = "8"

// VoiceConnectionState tracks the signalling handshake. Transitions only
// move forward until Established; any failure lands in Disconnected.
type VoiceConnectionState int32

const (
	VoiceStateInit VoiceConnectionState = iota
	VoiceStateIdentifySent
	VoiceStateAwaitReady
	VoiceStateNegotiatingMode
	VoiceStateUDPDiscovery
	VoiceStateAwaitDescription
	VoiceStateEstablished
	// VoiceStateResumeSent is reserved for session resumption, which is
	// not performed yet; failed connections are rebuilt from scratch.
	VoiceStateResumeSent
	VoiceStateDisconnected
)

func (state VoiceConnectionState) String() string {
	switch state {
	case VoiceStateInit:
		return "init"
	case VoiceStateIdentifySent:
		return "identifySent"
	case VoiceStateAwaitReady:
		return "awaitReady"
	case VoiceStateNegotiatingMode:
		return "negotiatingMode"
	case VoiceStateUDPDiscovery:
		return "udpDiscovery"
	case VoiceStateAwaitDescription:
		return "awaitDescription"
	case VoiceStateEstablished:
		return "established"
	case VoiceStateResumeSent:
		return "resumeSent"
	case VoiceStateDisconnected:
		return "disconnected"
	}

	return "unknown"
}

// pendingVoiceSession carries the session half of the voice handshake while
// waiting for the server half to arrive as VOICE_SERVER_UPDATE.
type pendingVoiceSession struct {
	SessionID string
	ChannelID discord.Snowflake
}

// VoiceConnection is an established or in-progress voice signalling session
// for one guild. Media transport is out of scope, the connection stops at
// UDP discovery and key receipt.
type VoiceConnection struct {
	logger *slog.Logger

	client *Client
	shard  *Shard

	GuildID   discord.Snowflake
	ChannelID *atomic.Pointer[discord.Snowflake]

	sessionID string
	token     string
	endpoint  string

	state *atomic.Int32

	websocketConn *websocket.Conn
	udpConn       *net.UDPConn

	ssrc          uint32
	mode          string
	externalIP    string
	externalPort  uint16
	secretKey     [32]byte
	haveSecretKey atomic.Bool

	// Last sequence number received on the control channel, echoed back in
	// every heartbeat.
	sequence *atomic.Int64

	heartbeatInterval *atomic.Pointer[time.Duration]
	lastHeartbeatSent *atomic.Pointer[time.Time]
	lastHeartbeatAck  *atomic.Pointer[time.Time]

	cancel context.CancelFunc
	done   chan struct{}
}

func newVoiceConnection(client *Client, shard *Shard, guildID discord.Snowflake, channelID discord.Snowflake, sessionID, token, endpoint string) *VoiceConnection {
	conn := &VoiceConnection{
		logger: client.logger.With("guild_id", guildID, "component", "voice"),

		client: client,
		shard:  shard,

		GuildID:   guildID,
		ChannelID: &atomic.Pointer[discord.Snowflake]{},

		sessionID: sessionID,
		token:     token,
		endpoint:  endpoint,

		state: &atomic.Int32{},

		sequence: &atomic.Int64{},

		heartbeatInterval: &atomic.Pointer[time.Duration]{},
		lastHeartbeatSent: &atomic.Pointer[time.Time]{},
		lastHeartbeatAck:  &atomic.Pointer[time.Time]{},

		done: make(chan struct{}),
	}

	conn.ChannelID.Store(&channelID)
	conn.sequence.Store(-1)

	return conn
}

func (conn *VoiceConnection) State() VoiceConnectionState {
	return VoiceConnectionState(conn.state.Load())
}

func (conn *VoiceConnection) setState(state VoiceConnectionState) {
	conn.state.Store(int32(state))
	conn.logger.Debug("Voice connection state updated", "state", state.String())
}

// SecretKey returns the negotiated media key once the session description
// has been received.
func (conn *VoiceConnection) SecretKey() ([32]byte, bool) {
	return conn.secretKey, conn.haveSecretKey.Load()
}

// Mode returns the negotiated encryption mode.
func (conn *VoiceConnection) Mode() string {
	return conn.mode
}

// ExternalAddress returns the publicly visible address found by UDP
// discovery.
func (conn *VoiceConnection) ExternalAddress() (string, uint16) {
	return conn.externalIP, conn.externalPort
}

func (conn *VoiceConnection) run(ctx context.Context) {
	ctx, conn.cancel = context.WithCancel(ctx)
	defer close(conn.done)
	defer conn.teardown()

	err := conn.connect(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			conn.logger.Error("Voice connection failed", "error", err)
		}

		conn.disconnect(ctx)

		return
	}

	for {
		payload, err := conn.read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				conn.logger.Error("Voice connection closed", "error", err)
			}

			conn.disconnect(ctx)

			return
		}

		err = conn.onPayload(ctx, payload)
		if err != nil {
			conn.logger.Error("Failed to handle voice payload", "error", err)

			conn.disconnect(ctx)

			return
		}
	}
}

func (conn *VoiceConnection) connect(ctx context.Context) error {
	websocketURL := "wss://" + conn.endpoint + "?v=" + VoiceGatewayVersion

	conn.logger.Debug("Dialing voice websocket", "url", websocketURL)

	websocketConn, _, err := websocket.Dial(ctx, websocketURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial voice websocket: %w", err)
	}

	websocketConn.SetReadLimit(-1)

	conn.websocketConn = websocketConn

	return nil
}

func (conn *VoiceConnection) onPayload(ctx context.Context, payload *discord.VoicePayload) error {
	if payload.Sequence > 0 {
		conn.sequence.Store(payload.Sequence)
	}

	switch payload.Op {
	case discord.VoiceOpHello:
		return conn.onHello(ctx, payload)
	case discord.VoiceOpReady:
		return conn.onReady(ctx, payload)
	case discord.VoiceOpSessionDescription:
		return conn.onSessionDescription(ctx, payload)
	case discord.VoiceOpHeartbeatACK:
		return conn.onHeartbeatAck(ctx)
	case discord.VoiceOpSpeaking:
		// Speaking notifications for other users carry no cache state.
		return nil
	case discord.VoiceOpSessionDisconnect, discord.VoiceOpClientDisconnect:
		conn.logger.Debug("Voice server sent disconnect notice", "op", payload.Op)

		return nil
	default:
		conn.logger.Debug("Received unhandled voice payload", "op", payload.Op)

		return nil
	}
}

func (conn *VoiceConnection) onHello(ctx context.Context, payload *discord.VoicePayload) error {
	var hello discord.VoiceHello

	err := gatehousejson.Unmarshal(payload.Data, &hello)
	if err != nil {
		return fmt.Errorf("failed to unmarshal voice hello: %w", err)
	}

	if hello.HeartbeatInterval <= 0 {
		return ErrShardInvalidHeartbeatInterval
	}

	now := time.Now()
	conn.lastHeartbeatSent.Store(&now)
	conn.lastHeartbeatAck.Store(&now)

	heartbeatInterval := time.Duration(hello.HeartbeatInterval * float64(time.Millisecond))
	conn.heartbeatInterval.Store(&heartbeatInterval)

	go conn.heartbeat(ctx, heartbeatInterval)

	user := conn.client.user.Load()
	if user == nil {
		return fmt.Errorf("%w: own user unknown", ErrShardConnectFailed)
	}

	conn.setState(VoiceStateIdentifySent)

	err = conn.send(ctx, discord.VoiceOpIdentify, discord.VoiceIdentify{
		ServerID:  conn.GuildID,
		UserID:    user.ID,
		SessionID: conn.sessionID,
		Token:     conn.token,
	})
	if err != nil {
		return fmt.Errorf("failed to send voice identify: %w", err)
	}

	conn.setState(VoiceStateAwaitReady)

	return nil
}

func (conn *VoiceConnection) onReady(ctx context.Context, payload *discord.VoicePayload) error {
	var ready discord.VoiceReady

	err := gatehousejson.Unmarshal(payload.Data, &ready)
	if err != nil {
		return fmt.Errorf("failed to unmarshal voice ready: %w", err)
	}

	conn.ssrc = ready.SSRC

	conn.setState(VoiceStateNegotiatingMode)

	mode, err := negotiateEncryptionMode(conn.client.configuration.Load().voiceEncryptionModes(), ready.Modes)
	if err != nil {
		return err
	}

	conn.mode = mode

	conn.setState(VoiceStateUDPDiscovery)

	ip, port, udpConn, err := discoverExternalAddress(ctx, ready.IP, ready.Port, ready.SSRC)
	if err != nil {
		return fmt.Errorf("failed UDP discovery: %w", err)
	}

	conn.udpConn = udpConn
	conn.externalIP = ip
	conn.externalPort = port

	err = conn.send(ctx, discord.VoiceOpSelectProtocol, discord.VoiceSelectProtocol{
		Protocol: "udp",
		Data: discord.VoiceProtocolData{
			Address: ip,
			Port:    port,
			Mode:    mode,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send select protocol: %w", err)
	}

	conn.setState(VoiceStateAwaitDescription)

	return nil
}

func (conn *VoiceConnection) onSessionDescription(ctx context.Context, payload *discord.VoicePayload) error {
	var description discord.VoiceSessionDescription

	err := gatehousejson.Unmarshal(payload.Data, &description)
	if err != nil {
		return fmt.Errorf("failed to unmarshal session description: %w", err)
	}

	if description.Mode != conn.mode {
		return fmt.Errorf("%w: selected %q, server confirmed %q", ErrVoiceModeMismatch, conn.mode, description.Mode)
	}

	conn.secretKey = description.SecretKey
	conn.haveSecretKey.Store(true)

	conn.setState(VoiceStateEstablished)

	conn.logger.Info("Voice connection established",
		"mode", conn.mode,
		"external_ip", conn.externalIP,
		"external_port", conn.externalPort)

	conn.client.emit(ctx, &Event{
		Type:    EventTypeVoiceConnect,
		ShardID: conn.shard.ShardID,
	})

	return nil
}

func (conn *VoiceConnection) onHeartbeatAck(ctx context.Context) error {
	now := time.Now()
	conn.lastHeartbeatAck.Store(&now)

	if lastHeartbeatSent := conn.lastHeartbeatSent.Load(); lastHeartbeatSent != nil {
		latency := now.Sub(*lastHeartbeatSent)

		UpdateVoiceLatency(conn.client.identifier, conn.GuildID.String(), latency.Seconds())

		conn.client.emit(ctx, &Event{
			Type:      EventTypeVoiceHeartbeat,
			ShardID:   conn.shard.ShardID,
			LatencyMS: latency.Milliseconds(),
		})
	}

	return nil
}

func (conn *VoiceConnection) heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failureInterval := interval * time.Duration(ShardMaxHeartbeatFailures)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			conn.lastHeartbeatSent.Store(&now)

			err := conn.send(ctx, discord.VoiceOpHeartbeat, discord.VoiceHeartbeat{
				T:      now.UnixMilli(),
				SeqAck: conn.sequence.Load(),
			})

			if err != nil || now.Sub(*conn.lastHeartbeatAck.Load()) > failureInterval {
				if err != nil {
					conn.logger.Error("Voice heartbeat failed", "error", err)
				} else {
					conn.logger.Error("Voice heartbeat failed", "error", "timeout")
				}

				conn.disconnect(ctx)

				return
			}
		}
	}
}

func (conn *VoiceConnection) send(ctx context.Context, voiceOp discord.VoiceOp, data any) error {
	payload, err := gatehousejson.Marshal(discord.VoiceSentPayload{
		Op:   voiceOp,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal voice payload: %w", err)
	}

	err = conn.websocketConn.Write(ctx, websocket.MessageText, payload)
	if err != nil {
		return fmt.Errorf("failed to write voice payload: %w", err)
	}

	return nil
}

func (conn *VoiceConnection) read(ctx context.Context) (*discord.VoicePayload, error) {
	_, data, err := conn.websocketConn.Read(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}

		return nil, fmt.Errorf("failed to read voice message: %w", err)
	}

	var payload discord.VoicePayload

	err = gatehousejson.Unmarshal(data, &payload)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal voice payload: %w", err)
	}

	return &payload, nil
}

// disconnect tears the connection down and emits voiceDisconnect exactly
// once. Voice sessions do not auto-reconnect; a fresh VOICE_SERVER_UPDATE
// starts a new connection.
func (conn *VoiceConnection) disconnect(ctx context.Context) {
	if VoiceConnectionState(conn.state.Swap(int32(VoiceStateDisconnected))) == VoiceStateDisconnected {
		return
	}

	conn.logger.Debug("Voice connection disconnecting")

	conn.client.voiceConnections.Delete(conn.GuildID)

	conn.teardown()

	conn.client.emit(ctx, &Event{
		Type:    EventTypeVoiceDisconnect,
		ShardID: conn.shard.ShardID,
	})
}

func (conn *VoiceConnection) teardown() {
	if conn.cancel != nil {
		conn.cancel()
	}

	if conn.websocketConn != nil {
		err := conn.websocketConn.Close(websocket.StatusNormalClosure, "")
		if err != nil && !errors.Is(err, net.ErrClosed) {
			conn.logger.Debug("Failed to close voice websocket", "error", err)
		}
	}

	if conn.udpConn != nil {
		_ = conn.udpConn.Close()
	}
}

// Disconnect closes the voice connection and waits for its run loop to
// finish.
func (conn *VoiceConnection) Disconnect(ctx context.Context) error {
	if conn.State() == VoiceStateDisconnected {
		return ErrVoiceAlreadyDisconnected
	}

	conn.disconnect(ctx)

	select {
	case <-conn.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// trackOwnVoiceState records the session half of the voice handshake and
// reconciles any live connection with channel moves and disconnects.
func (client *Client) trackOwnVoiceState(ctx context.Context, _ *Shard, voiceState *discord.VoiceState) {
	if voiceState.ChannelID == nil {
		client.pendingVoice.Delete(voiceState.GuildID)

		if conn, ok := client.voiceConnections.Load(voiceState.GuildID); ok {
			conn.disconnect(ctx)
		}

		return
	}

	client.pendingVoice.Store(voiceState.GuildID, &pendingVoiceSession{
		SessionID: voiceState.SessionID,
		ChannelID: *voiceState.ChannelID,
	})

	// A move between channels keeps the same voice session; only the
	// channel reference changes.
	if conn, ok := client.voiceConnections.Load(voiceState.GuildID); ok {
		conn.ChannelID.Store(voiceState.ChannelID)
	}
}

// connectVoice starts a voice signalling session from a VOICE_SERVER_UPDATE
// paired with the session recorded from the preceding VOICE_STATE_UPDATE.
func (client *Client) connectVoice(ctx context.Context, shard *Shard, update discord.VoiceServerUpdate) error {
	if update.Endpoint == "" {
		// A null endpoint means the current voice server is going away and
		// a follow-up update will carry the replacement.
		client.logger.Debug("Voice server update with no endpoint", "guild_id", update.GuildID)

		return nil
	}

	session, ok := client.pendingVoice.Load(update.GuildID)
	if !ok {
		client.logger.Warn("Voice server update without a tracked session", "guild_id", update.GuildID)

		return nil
	}

	if existing, ok := client.voiceConnections.Load(update.GuildID); ok {
		existing.disconnect(ctx)
	}

	conn := newVoiceConnection(client, shard, update.GuildID, session.ChannelID, session.SessionID, update.Token, update.Endpoint)

	client.voiceConnections.Store(update.GuildID, conn)

	go conn.run(ctx)

	return nil
}
