package discord

import (
	"context"
	"fmt"
	"log"

	"github.com/bwmarrin/discordgo"
	"github.com/stellarlinkco/circlebot/internal/config"
	"github.com/stellarlinkco/circlebot/internal/directory"
	"github.com/stellarlinkco/circlebot/internal/membership"
	"golang.org/x/time/rate"
)

// Bot owns the gateway connection and everything hanging off it.
type Bot struct {
	cfg       *config.Config
	dg        *discordgo.Session
	session   Session
	directory *directory.Service
	router    *Router
	reposter  *Reposter
	removers  []func()
}

// NewBot creates a bot with a real discordgo session. The connection is not
// opened until Start.
func NewBot(cfg *config.Config, dir *directory.Service) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers
	b := NewBotWithSession(cfg, dir, dg)
	b.dg = dg
	return b, nil
}

// NewBotWithSession wires the bot around any Session (for testing).
func NewBotWithSession(cfg *config.Config, dir *directory.Service, s Session) *Bot {
	guild := cfg.Discord.GuildID
	toggler := membership.NewToggler(NewRoles(s, guild), NewNotifier(s))
	reposter := NewReposter(s, dir, RepostConfig{
		GuildID:     guild,
		JoinChannel: cfg.Circles.JoinChannel,
		HeaderImage: cfg.Circles.HeaderImage,
		ApplyURL:    cfg.Circles.ApplyURL,
	}, NewLimiter(cfg.DiscordRate))
	creator := NewCreator(s, dir, guild, cfg.Circles.ParentCategory)

	return &Bot{
		cfg:       cfg,
		session:   s,
		directory: dir,
		reposter:  reposter,
		router:    NewRouter(s, membership.NewButtonHandler(dir, toggler), dir, reposter, creator),
	}
}

// NewLimiter paces outgoing bulk calls. A non-positive rate disables pacing.
func NewLimiter(cfg config.RateConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

func (b *Bot) Start(ctx context.Context) error {
	if b.dg == nil {
		return fmt.Errorf("discord session not initialized")
	}
	b.removers = append(b.removers,
		b.dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			appID := ""
			if r.User != nil {
				appID = r.User.ID
			}
			go b.OnReady(ctx, appID)
		}),
		b.dg.AddHandler(func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
			b.router.Handle(ctx, ic.Interaction)
		}),
	)
	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	log.Printf("[discord] connected to guild %s", b.cfg.Discord.GuildID)
	return nil
}

// OnReady sets the presence, registers slash commands and fills the
// directory. It runs on every (re)connect.
func (b *Bot) OnReady(ctx context.Context, readyAppID string) {
	if activity := b.cfg.Circles.Activity; activity != "" {
		if err := b.session.UpdateWatchStatus(0, activity); err != nil {
			log.Printf("[discord] set activity failed: %v", err)
		}
	}
	appID := b.cfg.Discord.AppID
	if appID == "" {
		appID = readyAppID
	}
	if _, err := b.session.ApplicationCommandBulkOverwrite(appID, b.cfg.Discord.GuildID, Commands(), discordgo.WithContext(ctx)); err != nil {
		log.Printf("[discord] register commands failed: %v", err)
	}
	if _, err := b.directory.Recache(ctx); err != nil {
		log.Printf("[discord] initial recache failed: %v", err)
	}
}

// Repost rebuilds the join channel.
func (b *Bot) Repost(ctx context.Context) (int, error) {
	return b.reposter.Repost(ctx)
}

// Router exposes the interaction router.
func (b *Bot) Router() *Router {
	return b.router
}

func (b *Bot) Stop() error {
	for _, remove := range b.removers {
		remove()
	}
	b.removers = nil
	if b.dg == nil {
		return nil
	}
	if err := b.dg.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	log.Printf("[discord] disconnected")
	return nil
}
