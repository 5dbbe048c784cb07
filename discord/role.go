package discord

import "github.com/gatehouse-dev/gatehouse/gatehousejson"

type Role struct {
	ID          Snowflake `json:"id"`
	Name        string    `json:"name"`
	Color       int32     `json:"color"`
	Hoist       bool      `json:"hoist"`
	Position    int32     `json:"position"`
	Permissions int64     `json:"permissions,string"`
	Managed     bool      `json:"managed"`
	Mentionable bool      `json:"mentionable"`

	// Guild is a non-owning back-reference to the owning guild.
	Guild *Guild `json:"-"`
}

func (r *Role) Load(data []byte) error {
	type roleJSON Role

	return gatehousejson.Unmarshal(data, (*roleJSON)(r))
}
