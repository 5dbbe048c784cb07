package discord

import "github.com/gatehouse-dev/gatehouse/gatehousejson"

type Emoji struct {
	ID            Snowflake   `json:"id"`
	Name          string      `json:"name"`
	Roles         []Snowflake `json:"roles,omitempty"`
	RequireColons bool        `json:"require_colons"`
	Managed       bool        `json:"managed"`
	Animated      bool        `json:"animated"`
	Available     bool        `json:"available"`

	Guild *Guild `json:"-"`
}

func (e *Emoji) Load(data []byte) error {
	type emojiJSON Emoji

	return gatehousejson.Unmarshal(data, (*emojiJSON)(e))
}

// Key returns the reaction aggregation key: the custom emoji ID if present,
// otherwise the literal name.
func (e *Emoji) Key() string {
	if !e.ID.IsNil() {
		return e.ID.String()
	}

	return e.Name
}
