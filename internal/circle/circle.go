// Package circle holds the circle entity and the wire formats that carry
// circle references through the chat client: button custom ids and the
// structured payload embedded in rendered cards.
package circle

import (
	"slices"
	"strings"
	"time"
)

// Circle is a community interest group backed by one role and one text
// channel. ID equals the backing role's id.
type Circle struct {
	ID          string    `json:"_id" bson:"_id" yaml:"id"`
	Name        string    `json:"name" bson:"name" yaml:"name"`
	Description string    `json:"description" bson:"description" yaml:"description"`
	ImageURL    string    `json:"imageUrl" bson:"imageUrl" yaml:"imageUrl"`
	Emoji       string    `json:"emoji" bson:"emoji" yaml:"emoji"`
	CreatedOn   time.Time `json:"createdOn" bson:"createdOn" yaml:"createdOn"`
	Channel     string    `json:"channel" bson:"channel" yaml:"channel"`
	Owner       string    `json:"owner" bson:"owner" yaml:"owner"`
	SubChannels []string  `json:"subChannels" bson:"subChannels" yaml:"subChannels"`
}

// Clone returns a deep copy so callers never share the SubChannels backing array.
func (c Circle) Clone() Circle {
	c.SubChannels = slices.Clone(c.SubChannels)
	if c.SubChannels == nil {
		c.SubChannels = []string{}
	}
	return c
}

// RoleName is the name given to the circle's backing role and channel.
func (c Circle) RoleName() string {
	return c.Emoji + " " + c.Name
}

// HasImage reports whether ImageURL is an absolute http(s) link.
func (c Circle) HasImage() bool {
	return strings.HasPrefix(c.ImageURL, "http://") || strings.HasPrefix(c.ImageURL, "https://")
}

// Patch carries the display fields an administrative update may change.
// Nil fields are left untouched.
type Patch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	ImageURL    *string `json:"imageUrl,omitempty"`
	Emoji       *string `json:"emoji,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Description == nil && p.ImageURL == nil && p.Emoji == nil
}

// Apply returns a copy of c with the patch's non-nil fields applied.
func (p Patch) Apply(c Circle) Circle {
	out := c.Clone()
	if p.Name != nil {
		out.Name = *p.Name
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.ImageURL != nil {
		out.ImageURL = *p.ImageURL
	}
	if p.Emoji != nil {
		out.Emoji = *p.Emoji
	}
	return out
}

// Fields returns the patch as document field names to new values.
func (p Patch) Fields() map[string]string {
	fields := make(map[string]string, 4)
	if p.Name != nil {
		fields["name"] = *p.Name
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.ImageURL != nil {
		fields["imageUrl"] = *p.ImageURL
	}
	if p.Emoji != nil {
		fields["emoji"] = *p.Emoji
	}
	return fields
}
