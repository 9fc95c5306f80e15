package circle

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"go.trai.ch/zerr"
)

// PayloadBaseURL is the placeholder link the card payload hangs off.
const PayloadBaseURL = "http://fake.fake"

// CardData is the structured payload hidden in a circle card's description so
// external tooling can recover the circle from a rendered message. Field names
// are consumed by other clients and must not change.
type CardData struct {
	Name      string            `json:"name"`
	Circle    string            `json:"circle"`
	Reactions map[string]string `json:"reactions"`
	Channel   string            `json:"channel"`
}

// NewCardData builds the payload for c. The channel id must be numeric.
func NewCardData(c Circle) (CardData, error) {
	if _, err := strconv.ParseUint(c.Channel, 10, 64); err != nil {
		return CardData{}, zerr.With(zerr.Wrap(ErrInvalidFormat, "circle channel is not a numeric id"), "channel", c.Channel)
	}
	return CardData{
		Name:      c.Name,
		Circle:    c.ID,
		Reactions: map[string]string{c.Emoji: c.ID},
		Channel:   c.Channel,
	}, nil
}

// Encode renders the payload as a zero-width-space markdown link whose data
// query parameter is the percent-encoded JSON object.
func (d CardData) Encode() (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return "", zerr.Wrap(err, "marshal card data")
	}
	raw := strings.TrimSuffix(buf.String(), "\n")
	return "[\u200b](" + PayloadBaseURL + "?data=" + percentEncode(raw) + ")", nil
}

// percentEncode escapes everything except RFC 3986 unreserved characters and
// encodes spaces as %20.
func percentEncode(s string) string {
	// QueryEscape only emits '+' for spaces; literal pluses become %2B.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// CardDescription prefixes the circle description with its encoded payload.
func CardDescription(c Circle) (string, error) {
	data, err := NewCardData(c)
	if err != nil {
		return "", err
	}
	link, err := data.Encode()
	if err != nil {
		return "", err
	}
	return link + " " + c.Description, nil
}
