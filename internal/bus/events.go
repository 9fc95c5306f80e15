package bus

import (
	"time"
)

// InboundMessage is an operator command received on a console channel.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// Command splits a slash command into its name and argument text.
// "/circles@circlebot chess" yields ("circles", "chess").
func (m *InboundMessage) Command() (string, string) {
	return ParseCommand(m.Content)
}

// OutboundMessage is a reply or notice routed to a console channel.
type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Metadata map[string]any
}
