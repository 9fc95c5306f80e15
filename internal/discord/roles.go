package discord

import (
	"context"
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"
	"github.com/stellarlinkco/circlebot/internal/membership"
)

// Roles reads and changes guild member roles.
type Roles struct {
	session Session
	guildID string
}

var _ membership.RoleGateway = (*Roles)(nil)

func NewRoles(s Session, guildID string) *Roles {
	return &Roles{session: s, guildID: guildID}
}

func (r *Roles) HasRole(ctx context.Context, userID, roleID string) (bool, error) {
	m, err := r.session.GuildMember(r.guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("get member %s: %w", userID, err)
	}
	return slices.Contains(m.Roles, roleID), nil
}

func (r *Roles) GrantRole(ctx context.Context, userID, roleID string) error {
	if err := r.session.GuildMemberRoleAdd(r.guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("add role %s to %s: %w", roleID, userID, err)
	}
	return nil
}

func (r *Roles) RevokeRole(ctx context.Context, userID, roleID string) error {
	if err := r.session.GuildMemberRoleRemove(r.guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("remove role %s from %s: %w", roleID, userID, err)
	}
	return nil
}

// Notifier posts plain messages to guild channels.
type Notifier struct {
	session Session
}

var _ membership.Notifier = (*Notifier)(nil)

func NewNotifier(s Session) *Notifier {
	return &Notifier{session: s}
}

func (n *Notifier) Notify(ctx context.Context, channelID, content string) error {
	if _, err := n.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send to channel %s: %w", channelID, err)
	}
	return nil
}
