package discord

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gatehouse-dev/gatehouse/gatehousejson"
	"github.com/gatehouse-dev/gatehouse/pkg/batcher"
	"github.com/gatehouse-dev/gatehouse/pkg/lru"
	"github.com/gatehouse-dev/gatehouse/pkg/syncmap"
)

// CacheLimits bounds the per-guild entity collections. A non-positive limit
// disables eviction for that collection.
type CacheLimits struct {
	Members  int
	Channels int
	Roles    int
	Emojis   int
	Messages int
}

func DefaultCacheLimits() CacheLimits {
	return CacheLimits{
		Members:  250,
		Channels: 100,
		Roles:    100,
		Emojis:   50,
		Messages: 100,
	}
}

type Guild struct {
	ID                       Snowflake `json:"id"`
	Name                     string    `json:"name"`
	Icon                     string    `json:"icon"`
	Splash                   string    `json:"splash"`
	OwnerID                  Snowflake `json:"owner_id"`
	Region                   string    `json:"region"`
	AFKChannelID             Snowflake `json:"afk_channel_id"`
	AFKTimeout               int32     `json:"afk_timeout"`
	VerificationLevel        int32     `json:"verification_level"`
	Features                 []string  `json:"features"`
	MFALevel                 int32     `json:"mfa_level"`
	SystemChannelID          Snowflake `json:"system_channel_id"`
	RulesChannelID           Snowflake `json:"rules_channel_id"`
	JoinedAt                 time.Time `json:"joined_at"`
	Large                    bool      `json:"large"`
	Unavailable              bool      `json:"unavailable"`
	MemberCount              int32     `json:"member_count"`
	MaxMembers               int32     `json:"max_members"`
	VanityURLCode            string    `json:"vanity_url_code"`
	Description              string    `json:"description"`
	Banner                   string    `json:"banner"`
	PremiumTier              int32     `json:"premium_tier"`
	PremiumSubscriptionCount int32     `json:"premium_subscription_count"`
	PreferredLocale          string    `json:"preferred_locale"`
	NSFWLevel                int32     `json:"nsfw_level"`

	limits CacheLimits

	// Owned entity collections. Each entity is owned by exactly one of
	// these; everything else holds non-owning back-references.
	Members  *lru.Cache[Snowflake, *GuildMember] `json:"-"`
	Channels *lru.Cache[Snowflake, *Channel]     `json:"-"`
	Roles    *lru.Cache[Snowflake, *Role]        `json:"-"`
	Emojis   *lru.Cache[Snowflake, *Emoji]       `json:"-"`

	// VoiceStates is keyed by user ID. Entries have an explicit lifecycle:
	// created on the first voice state for a user, removed on disconnect.
	VoiceStates *syncmap.Map[Snowflake, *VoiceState] `json:"-"`
}

// NewGuild constructs an empty guild with its owned collections wired to
// load entities in place and carry back-references to the guild.
func NewGuild(limits CacheLimits) *Guild {
	guild := &Guild{
		limits:      limits,
		VoiceStates: &syncmap.Map[Snowflake, *VoiceState]{},
	}

	guild.Members = lru.New(limits.Members, lru.Options[Snowflake, *GuildMember]{
		Key: MemberKey,
		New: func() *GuildMember {
			return &GuildMember{Guild: guild}
		},
		Load: func(member *GuildMember, data []byte) error {
			return member.Load(data)
		},
	})

	guild.Channels = lru.New(limits.Channels, lru.Options[Snowflake, *Channel]{
		Key: SnowflakeKey,
		New: func() *Channel {
			return NewChannel(guild, limits.Messages)
		},
		Load: func(channel *Channel, data []byte) error {
			return channel.Load(data)
		},
	})

	guild.Roles = lru.New(limits.Roles, lru.Options[Snowflake, *Role]{
		Key: SnowflakeKey,
		New: func() *Role {
			return &Role{Guild: guild}
		},
		Load: func(role *Role, data []byte) error {
			return role.Load(data)
		},
	})

	guild.Emojis = lru.New(limits.Emojis, lru.Options[Snowflake, *Emoji]{
		Key: SnowflakeKey,
		New: func() *Emoji {
			return &Emoji{Guild: guild}
		},
		Load: func(emoji *Emoji, data []byte) error {
			return emoji.Load(data)
		},
	})

	return guild
}

// Load merges raw payload data into the guild in place. Nested entity arrays
// are distributed into the owned collections in batches; a single entity's
// construction failure is isolated and does not abort the rest of the load.
func (g *Guild) Load(data []byte) error {
	type guildJSON Guild

	if err := gatehousejson.Unmarshal(data, (*guildJSON)(g)); err != nil {
		return err
	}

	var nested struct {
		Roles       []json.RawMessage `json:"roles"`
		Emojis      []json.RawMessage `json:"emojis"`
		Channels    []json.RawMessage `json:"channels"`
		Threads     []json.RawMessage `json:"threads"`
		Members     []json.RawMessage `json:"members"`
		VoiceStates []json.RawMessage `json:"voice_states"`
	}

	if err := gatehousejson.Unmarshal(data, &nested); err != nil {
		return err
	}

	insertAll(g.Roles, nested.Roles)
	insertAll(g.Emojis, nested.Emojis)
	insertAll(g.Channels, nested.Channels)
	insertAll(g.Channels, nested.Threads)
	insertAll(g.Members, nested.Members)

	g.linkThreadParents()

	for _, err := range batcher.Process(nested.VoiceStates, batcher.DefaultBatchSize, nil, func(raw json.RawMessage) error {
		var voiceState VoiceState

		if err := gatehousejson.Unmarshal(raw, &voiceState); err != nil {
			return err
		}

		voiceState.GuildID = g.ID
		g.VoiceStates.Store(voiceState.UserID, &voiceState)

		return nil
	}) {
		slog.Warn("Discarded malformed voice state", "error", err)
	}

	return nil
}

// LinkThreadParent points a thread channel at its parent if the parent is
// currently cached. The reference is non-owning.
func (g *Guild) LinkThreadParent(thread *Channel) {
	if !thread.Type.IsThread() || thread.ParentID.IsNil() {
		return
	}

	if parent, ok := g.Channels.Get(thread.ParentID); ok {
		thread.Parent = parent
	}
}

func (g *Guild) linkThreadParents() {
	g.Channels.Range(func(_ Snowflake, channel *Channel) bool {
		g.LinkThreadParent(channel)

		return true
	})
}

func insertAll[V any](cache *lru.Cache[Snowflake, V], items []json.RawMessage) {
	for _, err := range batcher.Process(items, batcher.DefaultBatchSize, nil, func(raw json.RawMessage) error {
		_, err := cache.Insert(raw)

		return err
	}) {
		slog.Warn("Discarded malformed nested entity", "error", err)
	}
}
