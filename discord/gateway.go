package discord

import "encoding/json"

// GatewayOp represents a gateway operation code.
type GatewayOp int32

const (
	GatewayOpDispatch GatewayOp = iota
	GatewayOpHeartbeat
	GatewayOpIdentify
	GatewayOpPresenceUpdate
	GatewayOpVoiceStateUpdate
	_
	GatewayOpResume
	GatewayOpReconnect
	GatewayOpRequestGuildMembers
	GatewayOpInvalidSession
	GatewayOpHello
	GatewayOpHeartbeatACK
	GatewayOpSyncGuilds
)

// Gateway close codes that cannot be recovered from by reconnecting.
const (
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

// Dispatch event types handled by the reconciler.
const (
	EventReady                    = "READY"
	EventResumed                  = "RESUMED"
	EventGuildCreate              = "GUILD_CREATE"
	EventGuildUpdate              = "GUILD_UPDATE"
	EventGuildDelete              = "GUILD_DELETE"
	EventGuildSync                = "GUILD_SYNC"
	EventGuildMembersChunk        = "GUILD_MEMBERS_CHUNK"
	EventGuildMemberAdd           = "GUILD_MEMBER_ADD"
	EventGuildMemberUpdate        = "GUILD_MEMBER_UPDATE"
	EventGuildMemberRemove        = "GUILD_MEMBER_REMOVE"
	EventGuildRoleCreate          = "GUILD_ROLE_CREATE"
	EventGuildRoleUpdate          = "GUILD_ROLE_UPDATE"
	EventGuildRoleDelete          = "GUILD_ROLE_DELETE"
	EventGuildEmojisUpdate        = "GUILD_EMOJIS_UPDATE"
	EventChannelCreate            = "CHANNEL_CREATE"
	EventChannelUpdate            = "CHANNEL_UPDATE"
	EventChannelDelete            = "CHANNEL_DELETE"
	EventThreadCreate             = "THREAD_CREATE"
	EventThreadUpdate             = "THREAD_UPDATE"
	EventThreadDelete             = "THREAD_DELETE"
	EventMessageCreate            = "MESSAGE_CREATE"
	EventMessageUpdate            = "MESSAGE_UPDATE"
	EventMessageDelete            = "MESSAGE_DELETE"
	EventMessageReactionAdd       = "MESSAGE_REACTION_ADD"
	EventMessageReactionRemove    = "MESSAGE_REACTION_REMOVE"
	EventMessageReactionRemoveAll = "MESSAGE_REACTION_REMOVE_ALL"
	EventPresenceUpdate           = "PRESENCE_UPDATE"
	EventTypingStart              = "TYPING_START"
	EventUserUpdate               = "USER_UPDATE"
	EventVoiceStateUpdate         = "VOICE_STATE_UPDATE"
	EventVoiceServerUpdate        = "VOICE_SERVER_UPDATE"
)

// GatewayPayload represents a received gateway frame.
type GatewayPayload struct {
	Op       GatewayOp       `json:"op"`
	Data     json.RawMessage `json:"d"`
	Sequence int32           `json:"s"`
	Type     string          `json:"t"`
}

// SentPayload represents a frame sent to the gateway.
type SentPayload struct {
	Op   GatewayOp `json:"op"`
	Data any       `json:"d"`
}

type Hello struct {
	HeartbeatInterval int32 `json:"heartbeat_interval"`
}

type Identify struct {
	Token          string             `json:"token"`
	Properties     IdentifyProperties `json:"properties"`
	Compress       bool               `json:"compress"`
	LargeThreshold int32              `json:"large_threshold"`
	Shard          [2]int32           `json:"shard"`
	Intents        int32              `json:"intents"`
}

type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int32  `json:"seq"`
}

type RequestGuildMembers struct {
	GuildID Snowflake `json:"guild_id"`
	Query   string    `json:"query"`
	Limit   int32     `json:"limit"`
	Nonce   string    `json:"nonce"`
}

// Ready is the READY dispatch payload. Guild entries only carry IDs; the
// full guilds stream in afterwards as GUILD_CREATE events.
type Ready struct {
	Version          int32              `json:"v"`
	User             json.RawMessage    `json:"user"`
	SessionID        string             `json:"session_id"`
	ResumeGatewayURL string             `json:"resume_gateway_url"`
	Guilds           []UnavailableGuild `json:"guilds"`
}

type UnavailableGuild struct {
	ID          Snowflake `json:"id"`
	Unavailable bool      `json:"unavailable"`
}

// GuildMembersChunk is a page of a bulk member load.
type GuildMembersChunk struct {
	GuildID    Snowflake         `json:"guild_id"`
	Members    []json.RawMessage `json:"members"`
	ChunkIndex int32             `json:"chunk_index"`
	ChunkCount int32             `json:"chunk_count"`
	Nonce      string            `json:"nonce"`
}

// GuildSync is the alternate bulk-load payload used when guild syncing is
// enabled instead of member chunking.
type GuildSync struct {
	ID      Snowflake         `json:"id"`
	Large   bool              `json:"large"`
	Members []json.RawMessage `json:"members"`
}
