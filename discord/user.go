package discord

import "github.com/gatehouse-dev/gatehouse/gatehousejson"

type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	GlobalName    string    `json:"global_name"`
	Avatar        string    `json:"avatar"`
	Bot           bool      `json:"bot"`
	System        bool      `json:"system"`
	MFAEnabled    bool      `json:"mfa_enabled"`
	Locale        string    `json:"locale"`
	Flags         int64     `json:"flags"`
	PremiumType   int32     `json:"premium_type"`
	PublicFlags   int64     `json:"public_flags"`
}

// Load merges raw payload data into the user in place.
func (u *User) Load(data []byte) error {
	type userJSON User

	return gatehousejson.Unmarshal(data, (*userJSON)(u))
}

// SnowflakeKey extracts the top-level id field from raw entity data. It is
// the cache key function for every entity keyed by its own ID.
func SnowflakeKey(data []byte) (Snowflake, error) {
	var partial struct {
		ID Snowflake `json:"id"`
	}

	err := gatehousejson.Unmarshal(data, &partial)

	return partial.ID, err
}

// MemberKey extracts the nested user id from raw guild member data.
func MemberKey(data []byte) (Snowflake, error) {
	var partial struct {
		User struct {
			ID Snowflake `json:"id"`
		} `json:"user"`
	}

	err := gatehousejson.Unmarshal(data, &partial)

	return partial.User.ID, err
}
