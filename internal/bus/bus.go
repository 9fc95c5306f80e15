package bus

import (
	"context"
	"log"
	"strings"
	"sync"
)

// MessageBus connects console channels to the command handler.
type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string][]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize <= 0 {
		bufSize = 1
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string][]func(OutboundMessage)),
	}
}

// SubscribeOutbound registers fn for messages addressed to channel.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	b.subscribers[channel] = append(b.subscribers[channel], fn)
	b.mu.Unlock()
}

// PublishOutbound queues msg, giving up when ctx is done.
func (b *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) bool {
	select {
	case b.Outbound <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// DispatchOutbound delivers queued outbound messages to subscribers until ctx
// is cancelled.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			b.deliver(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (b *MessageBus) deliver(msg OutboundMessage) {
	b.mu.RLock()
	subs := b.subscribers[msg.Channel]
	b.mu.RUnlock()

	if len(subs) == 0 {
		log.Printf("[bus] no subscriber for channel %q, dropping message", msg.Channel)
		return
	}
	for _, fn := range subs {
		fn(msg)
	}
}

// ParseCommand splits "/name@bot args" into ("name", "args"). Non-command
// text yields an empty name.
func ParseCommand(content string) (string, string) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "/") {
		return "", content
	}
	head, rest, _ := strings.Cut(content[1:], " ")
	name, _, _ := strings.Cut(head, "@")
	return strings.ToLower(name), strings.TrimSpace(rest)
}
