package discord

import (
	"time"

	"github.com/gatehouse-dev/gatehouse/gatehousejson"
)

type GuildMember struct {
	User                       *User       `json:"user"`
	Nick                       string      `json:"nick"`
	Avatar                     string      `json:"avatar"`
	Roles                      []Snowflake `json:"roles"`
	JoinedAt                   time.Time   `json:"joined_at"`
	PremiumSince               *time.Time  `json:"premium_since"`
	Deaf                       bool        `json:"deaf"`
	Mute                       bool        `json:"mute"`
	Pending                    bool        `json:"pending"`
	CommunicationDisabledUntil *time.Time  `json:"communication_disabled_until"`

	// Guild is a non-owning back-reference to the owning guild.
	Guild *Guild `json:"-"`
}

func (m *GuildMember) Load(data []byte) error {
	type memberJSON GuildMember

	return gatehousejson.Unmarshal(data, (*memberJSON)(m))
}

// ThreadMember tracks a user's membership of a thread channel.
type ThreadMember struct {
	ThreadID      Snowflake `json:"id"`
	UserID        Snowflake `json:"user_id"`
	JoinTimestamp time.Time `json:"join_timestamp"`
	Flags         int32     `json:"flags"`
}
