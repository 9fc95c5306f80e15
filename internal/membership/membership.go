// Package membership turns a circle button press into a role change. Holding
// the circle's role is the only membership record; nothing is cached here.
package membership

import (
	"context"
	"fmt"
	"log"

	"github.com/stellarlinkco/circlebot/internal/circle"
	"go.trai.ch/zerr"
)

// RoleGateway reads and mutates a member's roles on the chat server.
type RoleGateway interface {
	HasRole(ctx context.Context, userID, roleID string) (bool, error)
	GrantRole(ctx context.Context, userID, roleID string) error
	RevokeRole(ctx context.Context, userID, roleID string) error
}

// Notifier posts a public message to a channel.
type Notifier interface {
	Notify(ctx context.Context, channelID, content string) error
}

// State is a member's relation to one circle.
type State int

const (
	NotMember State = iota
	Member
)

func (s State) String() string {
	if s == Member {
		return "member"
	}
	return "not_member"
}

// Result is the outcome of a successful toggle.
type Result struct {
	State   State
	Message string
}

// Toggler flips membership using the role gateway as ground truth.
type Toggler struct {
	roles    RoleGateway
	notifier Notifier
}

// NewToggler creates a toggler. notifier may be nil to skip welcome notices.
func NewToggler(roles RoleGateway, notifier Notifier) *Toggler {
	return &Toggler{roles: roles, notifier: notifier}
}

// Toggle revokes the circle role from a holder and grants it to anyone else.
// On failure the role set is left as it was and no notice is sent.
func (t *Toggler) Toggle(ctx context.Context, userID string, c circle.Circle) (Result, error) {
	held, err := t.roles.HasRole(ctx, userID, c.ID)
	if err != nil {
		return Result{}, circle.Upstream(err, "read member roles")
	}

	if held {
		if err := t.roles.RevokeRole(ctx, userID, c.ID); err != nil {
			return Result{}, zerr.With(circle.Upstream(err, "revoke circle role"), "circle_id", c.ID)
		}
		log.Printf("[membership] %s left %s (%s)", userID, c.ID, c.Name)
		return Result{
			State:   NotMember,
			Message: fmt.Sprintf("You have left the %s circle. Thank you for using circles", c.Name),
		}, nil
	}

	if err := t.roles.GrantRole(ctx, userID, c.ID); err != nil {
		return Result{}, zerr.With(circle.Upstream(err, "grant circle role"), "circle_id", c.ID)
	}
	log.Printf("[membership] %s joined %s (%s)", userID, c.ID, c.Name)

	// The grant has committed; a failed notice only gets logged.
	if t.notifier != nil && c.Channel != "" {
		welcome := fmt.Sprintf("Welcome to the %s circle <@%s>!", c.Name, userID)
		if err := t.notifier.Notify(ctx, c.Channel, welcome); err != nil {
			log.Printf("[membership] welcome notice to %s failed: %v", c.Channel, err)
		}
	}

	return Result{
		State:   Member,
		Message: fmt.Sprintf("You have joined the %s circle. Thank you for using circles", c.Name),
	}, nil
}
