package discord

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// DiscordEpoch is the first millisecond encodable in a snowflake.
const DiscordEpoch = 1420070400000

var null = []byte("null")

// Snowflake is a globally unique entity ID encoding its creation time.
type Snowflake int64

func (s Snowflake) IsNil() bool {
	return s == 0
}

func (s *Snowflake) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, null) {
		*s = 0

		return nil
	}

	if len(b) >= 2 && b[0] == '"' {
		b = b[1 : len(b)-1]
	}

	i, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("failed to unmarshal snowflake: %w", err)
	}

	*s = Snowflake(i)

	return nil
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.FormatInt(int64(s), 10) + `"`), nil
}

func (s Snowflake) String() string {
	return strconv.FormatInt(int64(s), 10)
}

// Time returns the creation time of the Snowflake.
func (s Snowflake) Time() time.Time {
	msec := (int64(s) >> 22) + DiscordEpoch

	return time.Unix(0, msec*int64(time.Millisecond))
}
