package channel

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/circlebot/internal/bus"
	"github.com/stellarlinkco/circlebot/internal/config"
)

const (
	telegramChannelName = "telegram"
	// Telegram rejects messages over 4096 characters.
	maxMessageLen = 4000
)

var errNotConnected = errors.New("telegram bot not connected")

// TelegramBot is the slice of the Bot API the operator console uses.
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

type botAPI struct {
	*tgbotapi.BotAPI
}

func (b botAPI) GetSelf() tgbotapi.User { return b.Self }

// BotFactory connects to the Bot API (replaced in tests).
type BotFactory func(token string, client *http.Client) (TelegramBot, error)

func dialTelegram(token string, client *http.Client) (TelegramBot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	return botAPI{api}, nil
}

// TelegramChannel is the operator console: allowlisted users send slash
// commands and job notices are pushed back to a chat.
type TelegramChannel struct {
	BaseChannel
	cfg    config.TelegramConfig
	dial   BotFactory
	bot    TelegramBot
	cancel context.CancelFunc
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, dialTelegram)
}

func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, dial BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	return &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		cfg:         cfg,
		dial:        dial,
	}, nil
}

func proxyClient(proxy string) (*http.Client, error) {
	if proxy == "" {
		return http.DefaultClient, nil
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	return &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(u)}}, nil
}

func (t *TelegramChannel) connect() error {
	client, err := proxyClient(t.cfg.Proxy)
	if err != nil {
		return err
	}
	bot, err := t.dial(t.cfg.Token, client)
	if err != nil {
		return fmt.Errorf("connect telegram: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] console bot @%s", bot.GetSelf().UserName)
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.connect(); err != nil {
		return err
	}
	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}
	go t.poll(ctx, t.bot.GetUpdatesChan(u))

	log.Printf("[telegram] polling started")
	return nil
}

func (t *TelegramChannel) poll(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Message != nil {
				t.handleMessage(u.Message)
			}
		}
	}
}

// handleMessage forwards a console command to the bus. Group chats only
// forward slash commands so ordinary chatter is ignored.
func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected %s (@%s)", senderID, msg.From.UserName)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" || (!msg.Chat.IsPrivate() && !strings.HasPrefix(text, "/")) {
		return
	}

	in := bus.InboundMessage{
		Channel:   telegramChannelName,
		SenderID:  senderID,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Metadata: map[string]any{
			"username":   msg.From.UserName,
			"chat_type":  msg.Chat.Type,
			"message_id": msg.MessageID,
		},
	}
	select {
	case t.bus.Inbound <- in:
	default:
		log.Printf("[telegram] console busy, dropped %q from %s", text, senderID)
	}
}

// RegisterCommands publishes the console's command menu to Telegram.
func (t *TelegramChannel) RegisterCommands(cmds map[string]string) error {
	if t.bot == nil {
		return errNotConnected
	}
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	sort.Strings(names)

	menu := make([]tgbotapi.BotCommand, 0, len(names))
	for _, name := range names {
		menu = append(menu, tgbotapi.BotCommand{Command: name, Description: cmds[name]})
	}
	if _, err := t.bot.Request(tgbotapi.NewSetMyCommands(menu...)); err != nil {
		return fmt.Errorf("set telegram commands: %w", err)
	}
	return nil
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

// Send delivers a console reply, split on line boundaries to fit Telegram's
// message limit.
func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return errNotConnected
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}
	for _, part := range splitLines(msg.Content, maxMessageLen) {
		if err := t.sendPart(chatID, part); err != nil {
			return err
		}
	}
	return nil
}

// sendPart sends text as HTML and falls back to plain text when Telegram
// rejects the markup.
func (t *TelegramChannel) sendPart(chatID int64, text string) error {
	m := tgbotapi.NewMessage(chatID, consoleHTML(text))
	m.ParseMode = tgbotapi.ModeHTML
	m.DisableWebPagePreview = true
	if _, err := t.bot.Send(m); err == nil {
		return nil
	}

	m.ParseMode = ""
	m.Text = text
	if _, err := t.bot.Send(m); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// splitLines cuts s into parts of at most limit bytes, breaking after newlines
// where possible and never inside a UTF-8 sequence.
func splitLines(s string, limit int) []string {
	var parts []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	for _, line := range strings.SplitAfter(s, "\n") {
		for len(line) > limit {
			flush()
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			parts = append(parts, line[:cut])
			line = line[cut:]
		}
		if cur.Len()+len(line) > limit {
			flush()
		}
		cur.WriteString(line)
	}
	flush()
	return parts
}

// consoleHTML escapes s and turns the console's `code` and **bold** markers
// into Telegram HTML.
func consoleHTML(s string) string {
	s = html.EscapeString(s)
	s = wrapPairs(s, "`", "<code>", "</code>")
	return wrapPairs(s, "**", "<b>", "</b>")
}

func wrapPairs(s, marker, open, close string) string {
	for {
		start := strings.Index(s, marker)
		if start < 0 {
			return s
		}
		inner := start + len(marker)
		end := strings.Index(s[inner:], marker)
		if end < 0 {
			return s
		}
		end += inner
		s = s[:start] + open + s[inner:end] + close + s[end+len(marker):]
	}
}
