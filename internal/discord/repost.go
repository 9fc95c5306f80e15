package discord

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/stellarlinkco/circlebot/internal/circle"
	"go.trai.ch/zerr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	purgeLimit      = 50
	memberPageSize  = 1000
	prepareWorkers  = 4
	headerCircles   = "> :yellow_circle: Circles are interest groups made by the community!\n"
	headerJoin      = "> :door: Join one by pressing the button attached to each.\n"
	headerApplyTmpl = "> :crown: You can apply to make your own Circle by filling out this application: <%s>\n"
)

// Lister returns the cached circles in display order.
type Lister interface {
	List() []circle.Circle
}

// RepostConfig names where the circle list is posted.
type RepostConfig struct {
	GuildID     string
	JoinChannel string
	HeaderImage string
	ApplyURL    string
}

// Reposter rebuilds the join channel: old messages out, header and one card
// per cached circle in.
type Reposter struct {
	session Session
	circles Lister
	cfg     RepostConfig
	limiter *rate.Limiter

	mu sync.Mutex
}

// NewReposter creates a reposter. A nil limiter means unpaced sends.
func NewReposter(s Session, circles Lister, cfg RepostConfig, limiter *rate.Limiter) *Reposter {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Reposter{session: s, circles: circles, cfg: cfg, limiter: limiter}
}

// Repost replaces the join channel contents and returns the number of cards
// posted. Cards are prepared before anything is deleted so a failed lookup
// leaves the old list in place. Only one repost runs at a time.
func (r *Reposter) Repost(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.JoinChannel == "" {
		return 0, zerr.Wrap(circle.ErrInvalidFormat, "join channel is not configured")
	}

	cards, err := r.prepare(ctx, r.circles.List())
	if err != nil {
		return 0, err
	}
	if err := r.purge(ctx); err != nil {
		return 0, err
	}
	if err := r.sendHeader(ctx); err != nil {
		return 0, err
	}

	for _, card := range cards {
		if err := r.limiter.Wait(ctx); err != nil {
			return 0, err
		}
		if _, err := r.session.ChannelMessageSendComplex(r.cfg.JoinChannel, card, discordgo.WithContext(ctx)); err != nil {
			return 0, circle.Upstream(err, "send circle card")
		}
	}
	log.Printf("[discord] reposted %d circles to %s", len(cards), r.cfg.JoinChannel)
	return len(cards), nil
}

// prepare builds one card per circle in input order. Records that cannot be
// rendered are skipped with a log line.
func (r *Reposter) prepare(ctx context.Context, circles []circle.Circle) ([]*discordgo.MessageSend, error) {
	roles, err := r.session.GuildRoles(r.cfg.GuildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, circle.Upstream(err, "list guild roles")
	}
	counts, err := r.memberCounts(ctx)
	if err != nil {
		return nil, err
	}

	cards := make([]*discordgo.MessageSend, len(circles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prepareWorkers)
	for i, c := range circles {
		g.Go(func() error {
			owner, err := r.session.User(c.Owner, discordgo.WithContext(gctx))
			if err != nil {
				return zerr.With(circle.Upstream(err, "get circle owner"), "circle_id", c.ID)
			}
			card, err := BuildCard(c, CardInfo{
				OwnerName: owner.Username,
				Members:   counts[c.ID],
				Color:     roleColor(roles, c),
			})
			if err != nil {
				log.Printf("[discord] skipping card for %s (%s): %v", c.ID, c.Name, err)
				return nil
			}
			cards[i] = card
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := cards[:0]
	for _, card := range cards {
		if card != nil {
			out = append(out, card)
		}
	}
	return out, nil
}

// memberCounts walks the guild member list once and counts role holders.
func (r *Reposter) memberCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	after := ""
	for {
		page, err := r.session.GuildMembers(r.cfg.GuildID, after, memberPageSize, discordgo.WithContext(ctx))
		if err != nil {
			return nil, circle.Upstream(err, "list guild members")
		}
		for _, m := range page {
			for _, role := range m.Roles {
				counts[role]++
			}
		}
		if len(page) < memberPageSize || page[len(page)-1].User == nil {
			return counts, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (r *Reposter) purge(ctx context.Context) error {
	msgs, err := r.session.ChannelMessages(r.cfg.JoinChannel, purgeLimit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return circle.Upstream(err, "list join channel messages")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(prepareWorkers)
	for _, m := range msgs {
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				return err
			}
			if err := r.session.ChannelMessageDelete(r.cfg.JoinChannel, m.ID, discordgo.WithContext(gctx)); err != nil {
				return zerr.With(circle.Upstream(err, "delete message"), "message_id", m.ID)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Reposter) sendHeader(ctx context.Context) error {
	if r.cfg.HeaderImage != "" {
		if _, err := r.session.ChannelMessageSend(r.cfg.JoinChannel, r.cfg.HeaderImage, discordgo.WithContext(ctx)); err != nil {
			return circle.Upstream(err, "send header image")
		}
	}
	if _, err := r.session.ChannelMessageSend(r.cfg.JoinChannel, headerText(r.cfg.ApplyURL), discordgo.WithContext(ctx)); err != nil {
		return circle.Upstream(err, "send header text")
	}
	return nil
}

func headerText(applyURL string) string {
	text := headerCircles + headerJoin
	if applyURL != "" {
		text += fmt.Sprintf(headerApplyTmpl, applyURL)
	}
	return text
}

// roleColor finds the circle's role by id, then by its display name.
func roleColor(roles []*discordgo.Role, c circle.Circle) int {
	name := c.RoleName()
	for _, role := range roles {
		if role.ID == c.ID {
			return role.Color
		}
	}
	for _, role := range roles {
		if role.Name == name {
			return role.Color
		}
	}
	return 0
}
