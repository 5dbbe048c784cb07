package gatehouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gatehouse-dev/gatehouse/discord"
	"github.com/gatehouse-dev/gatehouse/gatehousejson"
	"gopkg.in/yaml.v3"
)

// DefaultVoiceEncryptionModes is the local encryption-mode priority list used
// when the configuration does not provide one. Order matters: negotiation
// picks the first entry the server also offers.
var DefaultVoiceEncryptionModes = []string{
	"aead_aes256_gcm_rtpsize",
	"aead_xchacha20_poly1305_rtpsize",
}

type Configuration struct {
	// Identifier labels this client in logs, metrics and produced events.
	Identifier string `json:"identifier" yaml:"identifier"`

	BotToken string `json:"bot_token" yaml:"bot_token"`
	Intents  int32  `json:"intents" yaml:"intents"`

	ShardCount int32 `json:"shard_count" yaml:"shard_count"`
	// ShardIDs is a range string such as "0-4,6". Empty means all shards.
	ShardIDs string `json:"shard_ids" yaml:"shard_ids"`

	// SuppressUncachedWarning silences cache-miss warnings emitted when an
	// entity has to be fetched or cannot be resolved.
	SuppressUncachedWarning bool `json:"suppress_uncached_warning" yaml:"suppress_uncached_warning"`

	// CacheAllMembers keeps members cached when they go offline. When false,
	// an offline presence evicts the member from its guild collection.
	CacheAllMembers bool `json:"cache_all_members" yaml:"cache_all_members"`

	// SyncGuilds enables the guild-sync bulk load path instead of relying on
	// member chunking.
	SyncGuilds bool `json:"sync_guilds" yaml:"sync_guilds"`

	GuildLimit     int `json:"guild_limit" yaml:"guild_limit"`
	UserLimit      int `json:"user_limit" yaml:"user_limit"`
	DMChannelLimit int `json:"dm_channel_limit" yaml:"dm_channel_limit"`
	MemberLimit    int `json:"member_limit" yaml:"member_limit"`
	ChannelLimit   int `json:"channel_limit" yaml:"channel_limit"`
	RoleLimit      int `json:"role_limit" yaml:"role_limit"`
	EmojiLimit     int `json:"emoji_limit" yaml:"emoji_limit"`
	MessageLimit   int `json:"message_limit" yaml:"message_limit"`

	// VoiceEncryptionModes is the local priority list for encryption-mode
	// negotiation. Priority depends on the deployment's capabilities, so it
	// is configuration rather than a constant.
	VoiceEncryptionModes []string `json:"voice_encryption_modes" yaml:"voice_encryption_modes"`

	// EventBlacklist lists dispatch event types that are ignored entirely.
	EventBlacklist []string `json:"event_blacklist" yaml:"event_blacklist"`

	Producer ProducerConfiguration `json:"producer" yaml:"producer"`

	MetricsAddress string `json:"metrics_address" yaml:"metrics_address"`
}

type ProducerConfiguration struct {
	// Type selects the messaging backend: "jetstream", "kafka", "redis" or
	// empty for none.
	Type    string `json:"type" yaml:"type"`
	Address string `json:"address" yaml:"address"`
	Channel string `json:"channel" yaml:"channel"`
}

// CacheLimits translates the configured per-collection limits, falling back
// to defaults for unset values.
func (c *Configuration) CacheLimits() discord.CacheLimits {
	limits := discord.DefaultCacheLimits()

	if c.MemberLimit != 0 {
		limits.Members = c.MemberLimit
	}

	if c.ChannelLimit != 0 {
		limits.Channels = c.ChannelLimit
	}

	if c.RoleLimit != 0 {
		limits.Roles = c.RoleLimit
	}

	if c.EmojiLimit != 0 {
		limits.Emojis = c.EmojiLimit
	}

	if c.MessageLimit != 0 {
		limits.Messages = c.MessageLimit
	}

	return limits
}

func (c *Configuration) voiceEncryptionModes() []string {
	if len(c.VoiceEncryptionModes) > 0 {
		return c.VoiceEncryptionModes
	}

	return DefaultVoiceEncryptionModes
}

type ConfigProvider interface {
	GetConfig(ctx context.Context) (*Configuration, error)
	SaveConfig(ctx context.Context, config *Configuration) error
}

// ConfigProviderFromPath reads and writes the configuration as a JSON or
// YAML file, selected by extension.

type ConfigProviderFromPath struct {
	path string
}

func NewConfigProviderFromPath(path string) ConfigProviderFromPath {
	return ConfigProviderFromPath{path}
}

func (c ConfigProviderFromPath) isYAML() bool {
	ext := filepath.Ext(c.path)

	return ext == ".yaml" || ext == ".yml"
}

func (c ConfigProviderFromPath) GetConfig(_ context.Context) (*Configuration, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Configuration

	if c.isYAML() {
		err = yaml.Unmarshal(data, &config)
	} else {
		err = gatehousejson.Unmarshal(data, &config)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
	}

	return &config, nil
}

func (c ConfigProviderFromPath) SaveConfig(_ context.Context, config *Configuration) error {
	var (
		data []byte
		err  error
	)

	if c.isYAML() {
		data, err = yaml.Marshal(config)
	} else {
		data, err = gatehousejson.Marshal(config)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(c.path, data, 0o600)
}
