package discord

import (
	"encoding/json"

	"github.com/gatehouse-dev/gatehouse/gatehousejson"
	"github.com/gatehouse-dev/gatehouse/pkg/lru"
	"github.com/gatehouse-dev/gatehouse/pkg/syncmap"
)

// ChannelType is the closed set of channel variants.
type ChannelType int32

const (
	ChannelTypeGuildText     ChannelType = 0
	ChannelTypePrivate       ChannelType = 1
	ChannelTypeGuildVoice    ChannelType = 2
	ChannelTypeGroup         ChannelType = 3
	ChannelTypeGuildCategory ChannelType = 4
	ChannelTypeGuildNews     ChannelType = 5
	ChannelTypeNewsThread    ChannelType = 10
	ChannelTypePublicThread  ChannelType = 11
	ChannelTypePrivateThread ChannelType = 12
	ChannelTypeStageVoice    ChannelType = 13
	ChannelTypeGuildForum    ChannelType = 15
)

// IsThread reports whether the variant is one of the thread types.
func (t ChannelType) IsThread() bool {
	return t == ChannelTypeNewsThread || t == ChannelTypePublicThread || t == ChannelTypePrivateThread
}

// IsVoice reports whether the variant carries voice connections.
func (t ChannelType) IsVoice() bool {
	return t == ChannelTypeGuildVoice || t == ChannelTypeStageVoice
}

// IsPrivate reports whether the variant lives outside a guild.
func (t ChannelType) IsPrivate() bool {
	return t == ChannelTypePrivate || t == ChannelTypeGroup
}

type Channel struct {
	ID               Snowflake   `json:"id"`
	Type             ChannelType `json:"type"`
	GuildID          Snowflake   `json:"guild_id"`
	Position         int32       `json:"position"`
	Name             string      `json:"name"`
	Topic            string      `json:"topic"`
	NSFW             bool        `json:"nsfw"`
	LastMessageID    Snowflake   `json:"last_message_id"`
	Bitrate          int32       `json:"bitrate"`
	UserLimit        int32       `json:"user_limit"`
	RateLimitPerUser int32       `json:"rate_limit_per_user"`
	Recipients       []User      `json:"recipients,omitempty"`
	Icon             string      `json:"icon"`
	OwnerID          Snowflake   `json:"owner_id"`
	ParentID         Snowflake   `json:"parent_id"`
	MessageCount     int32       `json:"message_count"`
	MemberCount      int32       `json:"member_count"`

	// Guild is a non-owning back-reference; nil for private channels.
	Guild *Guild `json:"-"`

	// Parent is the non-owning back-reference a thread carries to the
	// channel it was spawned from.
	Parent *Channel `json:"-"`

	// Messages is the channel-owned message collection.
	Messages *lru.Cache[Snowflake, *Message] `json:"-"`

	// ThreadMembers is only populated for thread variants.
	ThreadMembers *syncmap.Map[Snowflake, *ThreadMember] `json:"-"`
}

// NewChannel constructs an empty channel owned by guild (nil for private
// channels) with a message cache bounded to messageLimit.
func NewChannel(guild *Guild, messageLimit int) *Channel {
	channel := &Channel{
		Guild:         guild,
		ThreadMembers: &syncmap.Map[Snowflake, *ThreadMember]{},
	}

	channel.Messages = lru.New(messageLimit, lru.Options[Snowflake, *Message]{
		Key: SnowflakeKey,
		New: func() *Message {
			return &Message{Channel: channel}
		},
		Load: func(message *Message, data []byte) error {
			return message.Load(data)
		},
	})

	return channel
}

// Load merges raw payload data into the channel in place. Thread member
// payloads nested in thread channels are distributed into the owned
// sub-collection.
func (c *Channel) Load(data []byte) error {
	type channelJSON Channel

	if err := gatehousejson.Unmarshal(data, (*channelJSON)(c)); err != nil {
		return err
	}

	if !c.Type.IsThread() {
		return nil
	}

	var nested struct {
		Member *json.RawMessage `json:"member"`
	}

	if err := gatehousejson.Unmarshal(data, &nested); err == nil && nested.Member != nil {
		var threadMember ThreadMember
		if err := gatehousejson.Unmarshal(*nested.Member, &threadMember); err == nil {
			threadMember.ThreadID = c.ID
			c.ThreadMembers.Store(threadMember.UserID, &threadMember)
		}
	}

	return nil
}
