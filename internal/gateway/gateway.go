package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/stellarlinkco/circlebot/internal/bus"
	"github.com/stellarlinkco/circlebot/internal/channel"
	"github.com/stellarlinkco/circlebot/internal/config"
	"github.com/stellarlinkco/circlebot/internal/cron"
	"github.com/stellarlinkco/circlebot/internal/directory"
	"github.com/stellarlinkco/circlebot/internal/discord"
	"github.com/stellarlinkco/circlebot/internal/httpapi"
	"github.com/stellarlinkco/circlebot/internal/store"
)

// Internal job ids.
const (
	RecacheJobID = "__internal:circles:recache"
	RepostJobID  = "__internal:circles:repost"
)

const shutdownTimeout = 10 * time.Second

// Bot is the chat bot the gateway runs (allows mocking in tests).
type Bot interface {
	Start(ctx context.Context) error
	Stop() error
	Repost(ctx context.Context) (int, error)
}

// BotFactory creates the Discord bot.
type BotFactory func(cfg *config.Config, dir *directory.Service) (Bot, error)

// StoreFactory opens the circle store.
type StoreFactory func(ctx context.Context, cfg config.StoreConfig) (store.Store, error)

// DefaultBotFactory connects a discordgo session.
func DefaultBotFactory(cfg *config.Config, dir *directory.Service) (Bot, error) {
	return discord.NewBot(cfg, dir)
}

// Options for creating a Gateway
type Options struct {
	BotFactory   BotFactory
	StoreFactory StoreFactory
	SignalChan   chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	store      store.Store
	directory  *directory.Service
	bot        Bot
	channels   *channel.ChannelManager
	cron       *cron.Service
	console    *Console
	http       *httpapi.Server
	signalChan chan os.Signal

	// in-flight console commands; draining is set once Shutdown waits on them
	cmdMu    sync.Mutex
	draining bool
	commands sync.WaitGroup
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.BotFactory == nil {
		opts.BotFactory = DefaultBotFactory
	}
	if opts.StoreFactory == nil {
		opts.StoreFactory = store.Open
	}

	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}
	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	openCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	st, err := opts.StoreFactory(openCtx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	g.store = st
	g.directory = directory.NewService(st, nil)

	bot, err := opts.BotFactory(cfg, g.directory)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create discord bot: %w", err)
	}
	g.bot = bot

	g.cron = cron.NewService(filepath.Join(config.ConfigDir(), "data", "cron", "jobs.json"))
	g.cron.OnJob = g.runJob
	g.cron.OnResult = g.reportJob

	g.console = NewConsole(g.directory, g.bot, g.cron)

	chMgr, err := channel.NewChannelManager(cfg.Telegram, g.bus)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	if cfg.HTTP.Enabled {
		g.http = httpapi.NewServer(cfg.HTTP.Addr, g.directory)
	}
	return g, nil
}

// Directory exposes the directory service.
func (g *Gateway) Directory() *directory.Service {
	return g.directory
}

func (g *Gateway) runJob(ctx context.Context, job cron.CronJob) (string, error) {
	switch job.Payload.Action {
	case cron.ActionRecache:
		n, err := g.directory.Recache(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("recached %d circles", n), nil
	case cron.ActionRepost:
		n, err := g.bot.Repost(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("posted %d circles", n), nil
	default:
		return "", fmt.Errorf("unknown job action %q", job.Payload.Action)
	}
}

// reportJob pushes failures to the operator chat and, when the job names a
// console target, its result as well.
func (g *Gateway) reportJob(job cron.CronJob, result string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if job.Payload.Channel != "" && job.Payload.ChatID != "" {
		content := result
		if err != nil {
			content = fmt.Sprintf("Job %s failed: %v", job.Name, err)
		}
		g.bus.PublishOutbound(ctx, bus.OutboundMessage{Channel: job.Payload.Channel, ChatID: job.Payload.ChatID, Content: content})
		return
	}
	if err != nil && g.cfg.Telegram.Enabled && g.cfg.Telegram.ChatID != 0 {
		g.bus.PublishOutbound(ctx, bus.OutboundMessage{
			Channel: "telegram",
			ChatID:  strconv.FormatInt(g.cfg.Telegram.ChatID, 10),
			Content: fmt.Sprintf("Job %s failed: %v", job.Name, err),
		})
	}
}

// ensureInternalJobs installs the recache and repost schedules from config.
// An empty expression removes the job.
func (g *Gateway) ensureInternalJobs() error {
	if _, err := g.cron.EnsureJob(RecacheJobID, "circles recache", g.cfg.Circles.RecacheCron,
		cron.Payload{Action: cron.ActionRecache}); err != nil {
		return fmt.Errorf("recache job: %w", err)
	}
	if _, err := g.cron.EnsureJob(RepostJobID, "circles repost", g.cfg.Circles.RepostCron,
		cron.Payload{Action: cron.ActionRepost}); err != nil {
		return fmt.Errorf("repost job: %w", err)
	}
	return nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.bot.Start(ctx); err != nil {
		_ = g.store.Close()
		return fmt.Errorf("start discord: %w", err)
	}

	if err := g.channels.StartAll(ctx); err != nil {
		log.Printf("[gateway] channel start warning: %v", err)
	}
	if ch, ok := g.channels.Get("telegram"); ok {
		if tg, ok := ch.(*channel.TelegramChannel); ok {
			if err := tg.RegisterCommands(ConsoleCommands); err != nil {
				log.Printf("[gateway] telegram command menu warning: %v", err)
			}
		}
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.ensureInternalJobs(); err != nil {
		log.Printf("[gateway] ensure internal jobs warning: %v", err)
	}

	if g.http != nil {
		if err := g.http.Start(); err != nil {
			log.Printf("[gateway] http start warning: %v", err)
			g.http = nil
		}
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running for guild %s (store %s)", g.cfg.Discord.GuildID, g.cfg.Store.Driver)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	cancel()
	return g.Shutdown()
}

// processLoop runs each console command in its own goroutine so a slow
// /repost does not hold up /jobs or /help.
func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] command from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			if !g.track() {
				return
			}
			go func() {
				defer g.commands.Done()
				g.handleCommand(ctx, msg)
			}()
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleCommand(ctx context.Context, msg bus.InboundMessage) {
	reply := g.console.Handle(ctx, msg)
	if reply == "" {
		return
	}
	g.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
	})
}

func (g *Gateway) track() bool {
	g.cmdMu.Lock()
	defer g.cmdMu.Unlock()
	if g.draining {
		return false
	}
	g.commands.Add(1)
	return true
}

// waitCommands waits for in-flight console commands, giving up after d.
func (g *Gateway) waitCommands(d time.Duration) {
	g.cmdMu.Lock()
	g.draining = true
	g.cmdMu.Unlock()

	done := make(chan struct{})
	go func() {
		g.commands.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		log.Printf("[gateway] console commands still running after %s", d)
	}
}

func (g *Gateway) Shutdown() error {
	g.cron.Stop()
	g.waitCommands(shutdownTimeout)
	_ = g.channels.StopAll()
	if g.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := g.http.Stop(ctx); err != nil {
			log.Printf("[gateway] http stop warning: %v", err)
		}
		cancel()
	}
	if err := g.bot.Stop(); err != nil {
		log.Printf("[gateway] discord stop warning: %v", err)
	}
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store warning: %v", err)
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
