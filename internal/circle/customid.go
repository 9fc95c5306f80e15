package circle

import (
	"strings"

	"go.trai.ch/zerr"
)

const (
	// CustomIDPrefix starts every circle button custom id.
	CustomIDPrefix = "circle"

	// MaxCustomIDLength is the chat platform's limit on button custom ids.
	MaxCustomIDLength = 100
)

// ActionKind is the routed form of a custom id's action segment.
type ActionKind int

const (
	// ActionUnrecognized is any action segment without a handler.
	ActionUnrecognized ActionKind = iota
	// ActionJoin toggles the presser's membership.
	ActionJoin
	// ActionAbout is rendered (disabled) on cards but has no handler yet.
	ActionAbout
)

// Action names as they appear on the wire.
const (
	ActionNameJoin  = "join"
	ActionNameAbout = "about"
)

func (k ActionKind) String() string {
	switch k {
	case ActionJoin:
		return ActionNameJoin
	case ActionAbout:
		return ActionNameAbout
	default:
		return "unrecognized"
	}
}

// CustomID is a decoded button identifier.
type CustomID struct {
	Action   string
	CircleID string
}

// Kind maps the raw action onto the routed action set.
func (id CustomID) Kind() ActionKind {
	switch id.Action {
	case ActionNameJoin:
		return ActionJoin
	case ActionNameAbout:
		return ActionAbout
	default:
		return ActionUnrecognized
	}
}

// String encodes id; invalid ids encode to their best-effort form, use EncodeID
// to get validation.
func (id CustomID) String() string {
	return CustomIDPrefix + "/" + id.Action + "/" + id.CircleID
}

// EncodeID formats the custom id for a circle button:
// "circle/" + action + "/" + circleID.
func EncodeID(action, circleID string) (string, error) {
	if err := checkSegment("action", action); err != nil {
		return "", err
	}
	if err := checkSegment("circle_id", circleID); err != nil {
		return "", err
	}
	raw := CustomID{Action: action, CircleID: circleID}.String()
	if len(raw) > MaxCustomIDLength {
		return "", zerr.With(zerr.Wrap(ErrInvalidFormat, "custom id too long"), "length", len(raw))
	}
	return raw, nil
}

// DecodeID parses a custom id produced by EncodeID. It does not check that the
// circle exists.
func DecodeID(raw string) (CustomID, error) {
	if len(raw) > MaxCustomIDLength {
		return CustomID{}, zerr.With(zerr.Wrap(ErrInvalidFormat, "custom id too long"), "length", len(raw))
	}
	rest, ok := strings.CutPrefix(raw, CustomIDPrefix+"/")
	if !ok {
		return CustomID{}, zerr.With(zerr.Wrap(ErrInvalidFormat, "custom id missing circle prefix"), "custom_id", raw)
	}
	action, circleID, ok := strings.Cut(rest, "/")
	if !ok || action == "" || circleID == "" || strings.Contains(circleID, "/") {
		return CustomID{}, zerr.With(zerr.Wrap(ErrInvalidFormat, "custom id must be circle/<action>/<id>"), "custom_id", raw)
	}
	return CustomID{Action: action, CircleID: circleID}, nil
}

func checkSegment(name, value string) error {
	if value == "" {
		return zerr.With(zerr.Wrap(ErrInvalidFormat, "empty custom id segment"), "segment", name)
	}
	if strings.Contains(value, "/") {
		return zerr.With(zerr.With(zerr.Wrap(ErrInvalidFormat, "custom id segment contains '/'"), "segment", name), "value", value)
	}
	return nil
}
