package discord

import (
	"github.com/bwmarrin/discordgo"
)

// Slash command names.
const (
	CommandCircle  = "circle"
	CommandRecache = "recache"
	CommandBeep    = "beep"

	SubcommandAdd    = "add"
	SubcommandRepost = "repost"
)

var manageRoles int64 = discordgo.PermissionManageRoles

// Commands returns the guild slash commands the bot registers on ready.
func Commands() []*discordgo.ApplicationCommand {
	str := func(name, desc string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        name,
			Description: desc,
			Required:    true,
		}
	}
	return []*discordgo.ApplicationCommand{
		{
			Name:                     CommandCircle,
			Description:              "Manage circles",
			DefaultMemberPermissions: &manageRoles,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        SubcommandAdd,
					Description: "Add a new circle",
					Options: []*discordgo.ApplicationCommandOption{
						str("name", "The name of the circle"),
						str("description", "The description of the circle"),
						str("color", "The color of the circle"),
						str("emoji", "The emoji of the circle"),
						str("graphic", "The graphic of the circle"),
						{
							Type:        discordgo.ApplicationCommandOptionUser,
							Name:        "owner",
							Description: "The owner of the circle",
							Required:    true,
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        SubcommandRepost,
					Description: "Repost the circle embeds",
				},
			},
		},
		{
			Name:                     CommandRecache,
			Description:              "Reload circles from the database",
			DefaultMemberPermissions: &manageRoles,
		},
		{
			Name:        CommandBeep,
			Description: "Check that the bot is alive",
		},
	}
}

type optionSet map[string]*discordgo.ApplicationCommandInteractionDataOption

func options(opts []*discordgo.ApplicationCommandInteractionDataOption) optionSet {
	set := make(optionSet, len(opts))
	for _, o := range opts {
		set[o.Name] = o
	}
	return set
}

// str returns the raw value of a string, user or snowflake option.
func (s optionSet) str(name string) string {
	o, ok := s[name]
	if !ok || o == nil {
		return ""
	}
	v, _ := o.Value.(string)
	return v
}

func createRequest(opts optionSet) CreateRequest {
	return CreateRequest{
		Name:        opts.str("name"),
		Description: opts.str("description"),
		Color:       opts.str("color"),
		Emoji:       opts.str("emoji"),
		Graphic:     opts.str("graphic"),
		OwnerID:     opts.str("owner"),
	}
}
