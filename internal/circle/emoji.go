package circle

import (
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
	"go.trai.ch/zerr"
)

// ValidateEmoji checks that s is exactly one grapheme cluster containing a
// character with the Extended_Pictographic property. Multi-character or empty
// input is ErrInvalidFormat; a single non-pictographic character (a flag, a
// lone skin tone modifier, a plain arrow) is ErrValidation.
func ValidateEmoji(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return zerr.Wrap(ErrInvalidFormat, "emoji is empty")
	}
	if n := uniseg.GraphemeClusterCount(s); n != 1 {
		return zerr.With(zerr.Wrap(ErrInvalidFormat, "emoji must be a single symbol"), "graphemes", n)
	}
	for _, r := range s {
		if unicode.Is(extendedPictographic, r) {
			return nil
		}
	}
	return zerr.With(zerr.Wrap(ErrValidation, "emoji is not a pictographic symbol"), "emoji", s)
}
