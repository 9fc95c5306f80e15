package membership

import (
	"context"
	"log"

	"github.com/stellarlinkco/circlebot/internal/circle"
)

// UnrecognizedActionMessage is the reply for actions without a handler.
const UnrecognizedActionMessage = "Unable to get action"

// Resolver looks up a cached circle.
type Resolver interface {
	Resolve(id string) (circle.Circle, error)
}

// ButtonHandler routes a pressed button's custom id to its action.
type ButtonHandler struct {
	circles Resolver
	toggler *Toggler
}

// NewButtonHandler creates a handler.
func NewButtonHandler(circles Resolver, toggler *Toggler) *ButtonHandler {
	return &ButtonHandler{circles: circles, toggler: toggler}
}

// Handle decodes customID, resolves the circle and runs the action. The
// returned string is the reply for the presser.
func (h *ButtonHandler) Handle(ctx context.Context, userID, customID string) (string, error) {
	id, err := circle.DecodeID(customID)
	if err != nil {
		return "", err
	}
	log.Printf("[membership] action=%s circle=%s user=%s", id.Action, id.CircleID, userID)

	c, err := h.circles.Resolve(id.CircleID)
	if err != nil {
		return "", err
	}

	switch id.Kind() {
	case circle.ActionJoin:
		res, err := h.toggler.Toggle(ctx, userID, c)
		if err != nil {
			return "", err
		}
		return res.Message, nil
	case circle.ActionAbout, circle.ActionUnrecognized:
		return UnrecognizedActionMessage, nil
	default:
		return UnrecognizedActionMessage, nil
	}
}
