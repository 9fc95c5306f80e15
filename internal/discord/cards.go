package discord

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/discordgo"
	"github.com/stellarlinkco/circlebot/internal/circle"
)

const footerDateLayout = "January 02, 2006"

// CardInfo is what a card shows beyond the stored circle record.
type CardInfo struct {
	OwnerName string
	Members   int
	Color     int
}

// BuildCard renders the join card for c: an embed carrying the encoded
// payload plus a Join/Leave button and a disabled Learn More button.
func BuildCard(c circle.Circle, info CardInfo) (*discordgo.MessageSend, error) {
	description, err := circle.CardDescription(c)
	if err != nil {
		return nil, err
	}
	joinID, err := circle.EncodeID(circle.ActionNameJoin, c.ID)
	if err != nil {
		return nil, err
	}
	aboutID, err := circle.EncodeID(circle.ActionNameAbout, c.ID)
	if err != nil {
		return nil, err
	}

	members := "N/A"
	if info.Members > 0 {
		members = strconv.Itoa(info.Members)
	}

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("%s %s %s ", c.Emoji, c.Name, c.Emoji),
		Description: description,
		Color:       info.Color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "**Role**", Value: "<@&" + c.ID + ">", Inline: true},
			{Name: "**Members**", Value: members, Inline: true},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Created on %s﹒👑 Owner: %s", c.CreatedOn.Format(footerDateLayout), info.OwnerName),
		},
	}
	if c.HasImage() {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: c.ImageURL}
	}

	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{embed},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Join/Leave " + c.Name,
					Style:    discordgo.PrimaryButton,
					CustomID: joinID,
					Emoji:    &discordgo.ComponentEmoji{Name: c.Emoji},
				},
				discordgo.Button{
					Label:    "Learn More",
					Style:    discordgo.SecondaryButton,
					CustomID: aboutID,
					Disabled: true,
				},
			}},
		},
	}, nil
}
