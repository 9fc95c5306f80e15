package discord

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stellarlinkco/circlebot/internal/circle"
	"go.trai.ch/zerr"
)

// Registrar persists a new circle and caches it.
type Registrar interface {
	Create(ctx context.Context, c circle.Circle) error
}

// CreateRequest carries the /circle add options.
type CreateRequest struct {
	Name        string
	Description string
	Color       string
	Emoji       string
	Graphic     string
	OwnerID     string
}

// Creator runs the circle creation workflow: role, owner grant, private
// channel, then the directory record.
type Creator struct {
	session        Session
	directory      Registrar
	guildID        string
	parentCategory string
	now            func() time.Time
}

func NewCreator(s Session, directory Registrar, guildID, parentCategory string) *Creator {
	return &Creator{
		session:        s,
		directory:      directory,
		guildID:        guildID,
		parentCategory: parentCategory,
		now:            time.Now,
	}
}

// Create validates req and builds the circle. If the owner grant or the
// channel fails the new role is deleted again.
func (c *Creator) Create(ctx context.Context, req CreateRequest) (circle.Circle, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Emoji = strings.TrimSpace(req.Emoji)
	if req.Name == "" {
		return circle.Circle{}, zerr.Wrap(circle.ErrInvalidFormat, "circle name is empty")
	}
	if req.OwnerID == "" {
		return circle.Circle{}, zerr.Wrap(circle.ErrInvalidFormat, "circle owner is empty")
	}
	if err := circle.ValidateEmoji(req.Emoji); err != nil {
		return circle.Circle{}, err
	}
	color, err := ParseColor(req.Color)
	if err != nil {
		return circle.Circle{}, err
	}

	rec := circle.Circle{
		Name:        req.Name,
		Description: req.Description,
		ImageURL:    strings.TrimSpace(req.Graphic),
		Emoji:       req.Emoji,
		Owner:       req.OwnerID,
		CreatedOn:   c.now().UTC(),
		SubChannels: []string{},
	}

	mentionable := true
	role, err := c.session.GuildRoleCreate(c.guildID, &discordgo.RoleParams{
		Name:        rec.RoleName(),
		Color:       &color,
		Mentionable: &mentionable,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return circle.Circle{}, circle.Upstream(err, "create circle role")
	}
	rec.ID = role.ID

	if err := c.session.GuildMemberRoleAdd(c.guildID, req.OwnerID, role.ID, discordgo.WithContext(ctx)); err != nil {
		c.dropRole(role.ID)
		return circle.Circle{}, circle.Upstream(err, "grant role to owner")
	}

	ch, err := c.session.GuildChannelCreateComplex(c.guildID, discordgo.GuildChannelCreateData{
		Name:     rec.RoleName(),
		Type:     discordgo.ChannelTypeGuildText,
		Topic:    req.Description,
		ParentID: c.parentCategory,
		PermissionOverwrites: []*discordgo.PermissionOverwrite{
			{ID: role.ID, Type: discordgo.PermissionOverwriteTypeRole, Allow: discordgo.PermissionViewChannel},
			// @everyone shares the guild id.
			{ID: c.guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		c.dropRole(role.ID)
		return circle.Circle{}, circle.Upstream(err, "create circle channel")
	}
	rec.Channel = ch.ID

	if err := c.directory.Create(ctx, rec); err != nil {
		return circle.Circle{}, err
	}
	log.Printf("[discord] circle %s (%s) created, channel %s", rec.ID, rec.Name, rec.Channel)
	return rec, nil
}

func (c *Creator) dropRole(roleID string) {
	if err := c.session.GuildRoleDelete(c.guildID, roleID); err != nil {
		log.Printf("[discord] rollback of role %s failed: %v", roleID, err)
	}
}

// ParseColor accepts a decimal color or a hex color prefixed with '#' or 0x.
func ParseColor(s string) (int, error) {
	s = strings.TrimSpace(s)
	var (
		v   uint64
		err error
	)
	switch {
	case strings.HasPrefix(s, "#"):
		v, err = strconv.ParseUint(s[1:], 16, 32)
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		v, err = strconv.ParseUint(s[2:], 16, 32)
	default:
		v, err = strconv.ParseUint(s, 10, 32)
	}
	if err != nil || v > 0xffffff {
		return 0, zerr.With(zerr.Wrap(circle.ErrInvalidFormat, "invalid color"), "color", s)
	}
	return int(v), nil
}
