package channel

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/circlebot/internal/bus"
	"github.com/stellarlinkco/circlebot/internal/config"
)

func TestBaseChannel_Name(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, nil)
	if ch.Name() != "test" {
		t.Errorf("Name = %q, want test", ch.Name())
	}
}

func TestBaseChannel_IsAllowed_NoFilter(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, nil)
	if !ch.IsAllowed("anyone") {
		t.Error("empty allowlist should allow everyone")
	}
}

func TestBaseChannel_IsAllowed_WithFilter(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, []string{"user1", "user2"})

	if !ch.IsAllowed("user1") {
		t.Error("user1 should be allowed")
	}
	if !ch.IsAllowed("user2") {
		t.Error("user2 should be allowed")
	}
	if ch.IsAllowed("user3") {
		t.Error("user3 should not be allowed")
	}
}

func TestNewTelegramChannel_NoToken(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, err := NewTelegramChannel(config.TelegramConfig{}, b)
	if err == nil {
		t.Error("expected error for empty token")
	}
}

func TestNewTelegramChannel_Valid(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Name() != "telegram" {
		t.Errorf("Name = %q, want telegram", ch.Name())
	}
}

func TestConsoleHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Recached 3 circles", "Recached 3 circles"},
		{"bold", "**Chess Club**", "<b>Chess Club</b>"},
		{"code", "`r1`", "<code>r1</code>"},
		{"ampersand", "Arts & Crafts", "Arts &amp; Crafts"},
		{"role mention", "<@&123> joined", "&lt;@&amp;123&gt; joined"},
		{"quote", "it's", "it&#39;s"},
		{"circle line", "♟️ **Chess Club** `r1` owner u1", "♟️ <b>Chess Club</b> <code>r1</code> owner u1"},
		{"unclosed code", "`r1", "`r1"},
		{"unclosed bold", "**Chess", "**Chess"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := consoleHTML(tt.input); got != tt.want {
				t.Errorf("consoleHTML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitLines(t *testing.T) {
	if parts := splitLines("", 10); len(parts) != 0 {
		t.Errorf("empty input gave %d parts", len(parts))
	}

	parts := splitLines("aaaa\nbbbb\ncccc\n", 10)
	if len(parts) != 2 || parts[0] != "aaaa\nbbbb\n" || parts[1] != "cccc\n" {
		t.Errorf("parts = %q", parts)
	}

	// A line longer than the limit is cut without splitting a rune.
	parts = splitLines(strings.Repeat("♟", 5), 7)
	for _, p := range parts {
		if !utf8.ValidString(p) || len(p) > 7 {
			t.Errorf("bad part %q", p)
		}
	}
	if strings.Join(parts, "") != strings.Repeat("♟", 5) {
		t.Errorf("parts do not rejoin: %q", parts)
	}
}

func TestChannelManager_Empty(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, err := NewChannelManager(config.TelegramConfig{}, b)
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}
	if len(m.EnabledChannels()) != 0 {
		t.Errorf("expected 0 enabled channels, got %d", len(m.EnabledChannels()))
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
}

func TestChannelManager_TelegramEnabledWithoutToken(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, err := NewChannelManager(config.TelegramConfig{Enabled: true}, b)
	if err == nil {
		t.Error("expected error for enabled telegram without token")
	}
}

// mockChannel implements Channel interface for testing
type mockChannel struct {
	name     string
	started  bool
	stopped  bool
	startErr error
	stopErr  error
	sent     chan bus.OutboundMessage
}

func newMockChannel(name string) *mockChannel {
	return &mockChannel{name: name, sent: make(chan bus.OutboundMessage, 10)}
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Start(ctx context.Context) error {
	m.started = true
	return m.startErr
}

func (m *mockChannel) Stop() error {
	m.stopped = true
	return m.stopErr
}

func (m *mockChannel) Send(msg bus.OutboundMessage) error {
	m.sent <- msg
	return nil
}

func TestChannelManager_WithMockChannel(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, _ := NewChannelManager(config.TelegramConfig{}, b)

	mock := newMockChannel("mock")
	m.Register(mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.StartAll(ctx); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if !mock.started {
		t.Error("mock channel should be started")
	}

	channels := m.EnabledChannels()
	if len(channels) != 1 || channels[0] != "mock" {
		t.Errorf("EnabledChannels = %v, want [mock]", channels)
	}

	go b.DispatchOutbound(ctx)
	b.PublishOutbound(ctx, bus.OutboundMessage{Channel: "mock", ChatID: "1", Content: "Recached 3 circles"})
	select {
	case msg := <-mock.sent:
		if msg.Content != "Recached 3 circles" {
			t.Errorf("content = %q", msg.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("outbound message not routed to channel")
	}

	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
	if !mock.stopped {
		t.Error("mock channel should be stopped")
	}
}

func TestChannelManager_StartAll_Error(t *testing.T) {
	b := bus.NewMessageBus(10)

	mock := newMockChannel("mock")
	mock.startErr = fmt.Errorf("start failed")

	m := &ChannelManager{
		channels: map[string]Channel{"mock": mock},
		bus:      b,
	}

	if err := m.StartAll(context.Background()); err == nil {
		t.Error("expected error from StartAll")
	}
}

func TestChannelManager_StopAll_Error(t *testing.T) {
	b := bus.NewMessageBus(10)

	mock := newMockChannel("mock")
	mock.stopErr = fmt.Errorf("stop failed")

	m := &ChannelManager{
		channels: map[string]Channel{"mock": mock},
		bus:      b,
	}

	// Should not return error (errors are logged)
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll should not return error: %v", err)
	}
}

// mockTelegramBot implements TelegramBot interface for testing
type mockTelegramBot struct {
	updatesChan chan tgbotapi.Update
	stopped     bool
	sentMsgs    []tgbotapi.Chattable
	requests    []tgbotapi.Chattable
	sendErr     error
	failFirst   bool
	calls       int
	self        tgbotapi.User
}

func newMockBot() *mockTelegramBot {
	return &mockTelegramBot{
		updatesChan: make(chan tgbotapi.Update, 10),
		self:        tgbotapi.User{UserName: "testbot"},
	}
}

func (m *mockTelegramBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updatesChan
}

func (m *mockTelegramBot) StopReceivingUpdates() {
	m.stopped = true
}

func (m *mockTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.calls++
	m.sentMsgs = append(m.sentMsgs, c)
	if m.failFirst && m.calls == 1 {
		return tgbotapi.Message{}, fmt.Errorf("HTML parse error")
	}
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	return tgbotapi.Message{MessageID: 1}, nil
}

func (m *mockTelegramBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.requests = append(m.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockTelegramBot) GetSelf() tgbotapi.User {
	return m.self
}

func newTestTelegram(t *testing.T, b *bus.MessageBus, allow []string) (*TelegramChannel, *mockTelegramBot) {
	t.Helper()
	mockBot := newMockBot()
	factory := func(token string, client *http.Client) (TelegramBot, error) {
		return mockBot, nil
	}
	ch, err := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token", AllowFrom: allow}, b, factory)
	if err != nil {
		t.Fatalf("NewTelegramChannelWithFactory: %v", err)
	}
	return ch, mockBot
}

func TestTelegramChannel_HandleMessage_Allowed(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := newTestTelegram(t, b, []string{"123"})

	ch.handleMessage(&tgbotapi.Message{
		From: &tgbotapi.User{ID: 123, UserName: "moderator"},
		Chat: &tgbotapi.Chat{ID: 456},
		Text: "/recache",
		Date: 1234567890,
	})

	select {
	case inbound := <-b.Inbound:
		if inbound.Content != "/recache" {
			t.Errorf("content = %q, want /recache", inbound.Content)
		}
		if inbound.SenderID != "123" || inbound.ChatID != "456" {
			t.Errorf("sender/chat = %s/%s", inbound.SenderID, inbound.ChatID)
		}
		if name, _ := inbound.Command(); name != "recache" {
			t.Errorf("command = %q", name)
		}
	default:
		t.Error("expected inbound message")
	}
}

func TestTelegramChannel_HandleMessage_Rejected(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := newTestTelegram(t, b, []string{"999"})

	ch.handleMessage(&tgbotapi.Message{
		From: &tgbotapi.User{ID: 123},
		Chat: &tgbotapi.Chat{ID: 456},
		Text: "/recache",
	})

	select {
	case <-b.Inbound:
		t.Error("should not receive message from disallowed user")
	default:
	}
}

func TestTelegramChannel_HandleMessage_EmptyAndCaption(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := newTestTelegram(t, b, nil)

	ch.handleMessage(&tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 2}, Text: "   "})
	select {
	case <-b.Inbound:
		t.Error("blank message should be ignored")
	default:
	}

	ch.handleMessage(&tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 2}, Caption: "/circles"})
	select {
	case inbound := <-b.Inbound:
		if inbound.Content != "/circles" {
			t.Errorf("content = %q, want /circles", inbound.Content)
		}
	default:
		t.Error("caption should be forwarded")
	}

	ch.handleMessage(&tgbotapi.Message{Text: "no sender"})
	select {
	case <-b.Inbound:
		t.Error("message without sender should be ignored")
	default:
	}
}

func TestTelegramChannel_HandleMessage_GroupChatter(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := newTestTelegram(t, b, nil)
	group := &tgbotapi.Chat{ID: -100, Type: "supergroup"}

	ch.handleMessage(&tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: group, Text: "anyone around?"})
	select {
	case <-b.Inbound:
		t.Error("group chatter should be ignored")
	default:
	}

	ch.handleMessage(&tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: group, Text: "/circles@circlebot chess"})
	select {
	case inbound := <-b.Inbound:
		if name, args := inbound.Command(); name != "circles" || args != "chess" {
			t.Errorf("command = %q %q", name, args)
		}
	default:
		t.Error("group command should be forwarded")
	}

	ch.handleMessage(&tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 5, Type: "private"}, Text: "hello"})
	select {
	case <-b.Inbound:
	default:
		t.Error("private text should be forwarded for the help hint")
	}
}

func TestTelegramChannel_HandleMessage_BusFull(t *testing.T) {
	b := bus.NewMessageBus(1)
	ch, _ := newTestTelegram(t, b, nil)
	msg := &tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 2}, Text: "/recache"}

	ch.handleMessage(msg)
	done := make(chan struct{})
	go func() {
		ch.handleMessage(msg)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handleMessage blocked on a full bus")
	}
	if len(b.Inbound) != 1 {
		t.Errorf("inbound len = %d, want 1", len(b.Inbound))
	}
}

func TestTelegramChannel_Connect_Error(t *testing.T) {
	b := bus.NewMessageBus(10)
	factory := func(token string, client *http.Client) (TelegramBot, error) {
		return nil, fmt.Errorf("auth failed")
	}
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, factory)

	if err := ch.Start(context.Background()); err == nil {
		t.Error("expected error from Start")
	}
}

func TestTelegramChannel_Connect_InvalidProxy(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{
		Token: "fake-token",
		Proxy: "://invalid-url",
	}, b, dialTelegram)

	if err := ch.connect(); err == nil {
		t.Error("expected error for invalid proxy URL")
	}
}

func TestTelegramChannel_Start_Success(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, mockBot := newTestTelegram(t, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	mockBot.updatesChan <- tgbotapi.Update{Message: nil}
	mockBot.updatesChan <- tgbotapi.Update{
		Message: &tgbotapi.Message{
			From: &tgbotapi.User{ID: 123},
			Chat: &tgbotapi.Chat{ID: 456},
			Text: "/help",
		},
	}

	select {
	case inbound := <-b.Inbound:
		if inbound.Content != "/help" {
			t.Errorf("content = %q, want /help", inbound.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected inbound message")
	}

	ch.Stop()
	if !mockBot.stopped {
		t.Error("bot should be stopped")
	}
}

func TestTelegramChannel_RegisterCommands(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, mockBot := newTestTelegram(t, b, nil)

	if err := ch.RegisterCommands(map[string]string{"recache": "x"}); err == nil {
		t.Error("expected error before the bot is initialized")
	}

	ch.SetBot(mockBot)
	if err := ch.RegisterCommands(map[string]string{"recache": "Reload circles", "circles": "List circles"}); err != nil {
		t.Fatalf("RegisterCommands error: %v", err)
	}
	if len(mockBot.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(mockBot.requests))
	}
	cfg, ok := mockBot.requests[0].(tgbotapi.SetMyCommandsConfig)
	if !ok {
		t.Fatalf("request type = %T", mockBot.requests[0])
	}
	if len(cfg.Commands) != 2 || cfg.Commands[0].Command != "circles" {
		t.Errorf("commands = %+v", cfg.Commands)
	}
}

func TestTelegramChannel_Send(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "test"}); err == nil {
		t.Error("expected error when bot is nil")
	}

	mockBot := newMockBot()
	ch.SetBot(mockBot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "not-a-number", Content: "test"}); err == nil {
		t.Error("expected error for invalid chat ID")
	}

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "hello"}); err != nil {
		t.Errorf("Send error: %v", err)
	}
	if len(mockBot.sentMsgs) != 1 {
		t.Errorf("expected 1 sent message, got %d", len(mockBot.sentMsgs))
	}
}

func TestTelegramChannel_Send_LongMessage(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	ch.SetBot(mockBot)

	longContent := strings.Repeat("Chess Club (826695146250567681): 14 members\n", 120)
	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: longContent}); err != nil {
		t.Errorf("Send error: %v", err)
	}
	if len(mockBot.sentMsgs) < 2 {
		t.Errorf("expected multiple sent messages for long content, got %d", len(mockBot.sentMsgs))
	}
}

func TestTelegramChannel_Send_HTMLError_Retry(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()
	mockBot.failFirst = true
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	ch.SetBot(mockBot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "test"}); err != nil {
		t.Errorf("Send should succeed after retry: %v", err)
	}
	if mockBot.calls != 2 {
		t.Errorf("calls = %d, want 2", mockBot.calls)
	}
}

func TestTelegramChannel_Send_BothFail(t *testing.T) {
	b := bus.NewMessageBus(10)
	mockBot := newMockBot()
	mockBot.sendErr = fmt.Errorf("send failed")
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	ch.SetBot(mockBot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "test"}); err == nil {
		t.Error("expected error when both sends fail")
	}
}
