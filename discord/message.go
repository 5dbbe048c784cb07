package discord

import (
	"encoding/json"
	"time"

	"github.com/gatehouse-dev/gatehouse/gatehousejson"
)

type Message struct {
	ID              Snowflake         `json:"id"`
	ChannelID       Snowflake         `json:"channel_id"`
	GuildID         Snowflake         `json:"guild_id"`
	Author          *User             `json:"author"`
	Content         string            `json:"content"`
	Timestamp       time.Time         `json:"timestamp"`
	EditedTimestamp *time.Time        `json:"edited_timestamp"`
	TTS             bool              `json:"tts"`
	MentionEveryone bool              `json:"mention_everyone"`
	Mentions        []User            `json:"mentions"`
	MentionRoles    []Snowflake       `json:"mention_roles"`
	Attachments     []json.RawMessage `json:"attachments"`
	Embeds          []json.RawMessage `json:"embeds"`
	Reactions       []*Reaction       `json:"reactions"`
	Pinned          bool              `json:"pinned"`
	WebhookID       Snowflake         `json:"webhook_id"`
	Type            int32             `json:"type"`
	Flags           int32             `json:"flags"`

	// Channel is a non-owning back-reference to the owning channel.
	Channel *Channel `json:"-"`

	// Member is the author's guild member, resolved during reconciliation.
	Member *GuildMember `json:"-"`
}

func (m *Message) Load(data []byte) error {
	type messageJSON Message

	return gatehousejson.Unmarshal(data, (*messageJSON)(m))
}

// Reaction aggregates all reactions for one emoji on a message.
type Reaction struct {
	Count int32 `json:"count"`
	Me    bool  `json:"me"`
	Emoji Emoji `json:"emoji"`
}

// ReactionFor returns the aggregate for emoji, matched by aggregation key.
func (m *Message) ReactionFor(emoji Emoji) (*Reaction, bool) {
	key := emoji.Key()

	for _, reaction := range m.Reactions {
		if reaction.Emoji.Key() == key {
			return reaction, true
		}
	}

	return nil, false
}

// AddReaction increments the aggregate for emoji, creating it with count 1
// when absent. self marks the local user as a reactor.
func (m *Message) AddReaction(emoji Emoji, self bool) *Reaction {
	if reaction, ok := m.ReactionFor(emoji); ok {
		reaction.Count++

		if self {
			reaction.Me = true
		}

		return reaction
	}

	reaction := &Reaction{
		Count: 1,
		Me:    self,
		Emoji: emoji,
	}

	m.Reactions = append(m.Reactions, reaction)

	return reaction
}

// RemoveReaction decrements the aggregate for emoji, deleting it when the
// count reaches zero. Removing an unknown reaction returns false.
func (m *Message) RemoveReaction(emoji Emoji, self bool) (*Reaction, bool) {
	key := emoji.Key()

	for i, reaction := range m.Reactions {
		if reaction.Emoji.Key() != key {
			continue
		}

		reaction.Count--

		if self {
			reaction.Me = false
		}

		if reaction.Count <= 0 {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
		}

		return reaction, true
	}

	return nil, false
}

// ClearReactions drops every aggregate on the message.
func (m *Message) ClearReactions() {
	m.Reactions = nil
}
