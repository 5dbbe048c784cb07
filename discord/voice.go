package discord

import "encoding/json"

// VoiceOp represents a voice control-channel operation code.
type VoiceOp int32

const (
	VoiceOpIdentify VoiceOp = iota
	VoiceOpSelectProtocol
	VoiceOpReady
	VoiceOpHeartbeat
	VoiceOpSessionDescription
	VoiceOpSpeaking
	VoiceOpHeartbeatACK
	VoiceOpResume
	VoiceOpHello
	VoiceOpResumed
	_
	_
	// Undocumented disconnect notices forwarded by the voice server.
	VoiceOpSessionDisconnect
	VoiceOpClientDisconnect
)

// Voice close codes.
const (
	_ = 4000 + iota
	VoiceCloseUnknownOpCode
	_
	VoiceCloseNotAuthenticated
	VoiceCloseAuthenticationFailed
	VoiceCloseAlreadyAuthenticated
	VoiceCloseSessionNoLongerValid
	_
	_
	VoiceCloseSessionTimeout
	_
	VoiceCloseServerNotFound
	VoiceCloseUnknownProtocol
	_
	VoiceCloseDisconnected
	VoiceCloseVoiceServerCrashed
	VoiceCloseUnknownEncryptionMode
)

// VoicePayload represents a received voice control-channel frame.
type VoicePayload struct {
	Op       VoiceOp         `json:"op"`
	Data     json.RawMessage `json:"d"`
	Sequence int64           `json:"seq,omitempty"`
}

// VoiceSentPayload represents a frame sent on the voice control channel.
type VoiceSentPayload struct {
	Op   VoiceOp `json:"op"`
	Data any     `json:"d"`
}

type VoiceIdentify struct {
	ServerID  Snowflake `json:"server_id"`
	UserID    Snowflake `json:"user_id"`
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
}

type VoiceReady struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  int32    `json:"port"`
	Modes []string `json:"modes"`
}

type VoiceHello struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

type VoiceHeartbeat struct {
	T      int64 `json:"t"`
	SeqAck int64 `json:"seq_ack"`
}

type VoiceSelectProtocol struct {
	Protocol string            `json:"protocol"`
	Data     VoiceProtocolData `json:"data"`
}

type VoiceProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

type VoiceSessionDescription struct {
	Mode      string   `json:"mode"`
	SecretKey [32]byte `json:"secret_key"`
}

type VoiceSpeaking struct {
	Speaking int32  `json:"speaking"`
	Delay    int32  `json:"delay"`
	SSRC     uint32 `json:"ssrc"`
}

// VoiceState is a user's presence in a guild's voice channels. A null
// channel ID signals a disconnect.
type VoiceState struct {
	GuildID    Snowflake       `json:"guild_id"`
	ChannelID  *Snowflake      `json:"channel_id"`
	UserID     Snowflake       `json:"user_id"`
	Member     json.RawMessage `json:"member,omitempty"`
	SessionID  string          `json:"session_id"`
	Deaf       bool            `json:"deaf"`
	Mute       bool            `json:"mute"`
	SelfDeaf   bool            `json:"self_deaf"`
	SelfMute   bool            `json:"self_mute"`
	SelfStream bool            `json:"self_stream"`
	SelfVideo  bool            `json:"self_video"`
	Suppress   bool            `json:"suppress"`
}

// VoiceServerUpdate carries the token and endpoint for a voice connection.
type VoiceServerUpdate struct {
	Token    string    `json:"token"`
	GuildID  Snowflake `json:"guild_id"`
	Endpoint string    `json:"endpoint"`
}
