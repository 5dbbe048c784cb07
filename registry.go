package gatehouse

import (
	csmap "github.com/mhmtszr/concurrent-swiss-map"

	"github.com/gatehouse-dev/gatehouse/discord"
)

// GuildRegistry maps channel and role identifiers back to the guild that
// owns them. Dispatch payloads for channel and role events only carry the
// child identifier, so reverse lookups have to be maintained as guilds
// load and unload.
type GuildRegistry struct {
	channelGuilds *csmap.CsMap[discord.Snowflake, discord.Snowflake]
	roleGuilds    *csmap.CsMap[discord.Snowflake, discord.Snowflake]
}

func NewGuildRegistry() *GuildRegistry {
	return &GuildRegistry{
		channelGuilds: csmap.Create[discord.Snowflake, discord.Snowflake](),
		roleGuilds:    csmap.Create[discord.Snowflake, discord.Snowflake](),
	}
}

func (r *GuildRegistry) RegisterChannel(channelID, guildID discord.Snowflake) {
	r.channelGuilds.Store(channelID, guildID)
}

func (r *GuildRegistry) UnregisterChannel(channelID discord.Snowflake) {
	r.channelGuilds.Delete(channelID)
}

func (r *GuildRegistry) GuildForChannel(channelID discord.Snowflake) (discord.Snowflake, bool) {
	return r.channelGuilds.Load(channelID)
}

func (r *GuildRegistry) RegisterRole(roleID, guildID discord.Snowflake) {
	r.roleGuilds.Store(roleID, guildID)
}

func (r *GuildRegistry) UnregisterRole(roleID discord.Snowflake) {
	r.roleGuilds.Delete(roleID)
}

func (r *GuildRegistry) GuildForRole(roleID discord.Snowflake) (discord.Snowflake, bool) {
	return r.roleGuilds.Load(roleID)
}

// RegisterGuild indexes every channel and role the guild currently owns.
func (r *GuildRegistry) RegisterGuild(guild *discord.Guild) {
	guild.Channels.Range(func(id discord.Snowflake, _ *discord.Channel) bool {
		r.channelGuilds.Store(id, guild.ID)

		return true
	})

	guild.Roles.Range(func(id discord.Snowflake, _ *discord.Role) bool {
		r.roleGuilds.Store(id, guild.ID)

		return true
	})
}

// UnregisterGuild removes every reverse mapping pointing at the guild.
func (r *GuildRegistry) UnregisterGuild(guildID discord.Snowflake) {
	r.channelGuilds.Range(func(channelID, owner discord.Snowflake) bool {
		if owner == guildID {
			r.channelGuilds.Delete(channelID)
		}

		return false
	})

	r.roleGuilds.Range(func(roleID, owner discord.Snowflake) bool {
		if owner == guildID {
			r.roleGuilds.Delete(roleID)
		}

		return false
	})
}
