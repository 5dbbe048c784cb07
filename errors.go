package gatehouse

import "errors"

var (
	ErrMissingIdentifier = errors.New("configuration missing identifier")
	ErrMissingBotToken   = errors.New("configuration missing bot token")

	ErrShardConnectFailed            = errors.New("shard connect failed")
	ErrShardStopping                 = errors.New("shard stopping")
	ErrShardInvalidHeartbeatInterval = errors.New("shard invalid heartbeat interval")

	// ErrUncachedEntity marks a cache miss whose remote fetch also failed.
	// The event that required the entity is dropped; nothing else is.
	ErrUncachedEntity = errors.New("entity is not cached and could not be fetched")

	ErrVoiceNoEncryptionMode    = errors.New("no mutually supported voice encryption mode")
	ErrVoiceModeMismatch        = errors.New("voice server selected a different encryption mode")
	ErrVoiceDiscoveryMalformed  = errors.New("malformed voice discovery response")
	ErrVoiceAlreadyDisconnected = errors.New("voice connection already disconnected")

	ErrUnknownProducer = errors.New("unknown producer type")
)
