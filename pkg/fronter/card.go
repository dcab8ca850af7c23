package fronter

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is a 24-bit RGB value.
type Color uint32

// DefaultColor is the accent used when a member has no valid color.
const DefaultColor Color = 0x0000FF

// DefaultColorHex is DefaultColor in its stored string form.
const DefaultColorHex = "#0000FF"

// ParseColor parses a `#RRGGBB` or `RRGGBB` string.
func ParseColor(value string) (Color, error) {
	digits := strings.TrimPrefix(strings.TrimSpace(value), "#")
	if len(digits) != 6 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidColor, value)
	}
	parsed, err := strconv.ParseUint(digits, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidColor, value)
	}

	return Color(parsed), nil
}

// ParseColorOr parses value and returns fallback when it is malformed.
func ParseColorOr(value string, fallback Color) Color {
	parsed, err := ParseColor(value)
	if err != nil {
		return fallback
	}

	return parsed
}

// Hex renders the color as upper-case `#RRGGBB`.
func (c Color) Hex() string {
	return fmt.Sprintf("#%06X", uint32(c)&0xFFFFFF)
}

// RGB splits the color into its channels.
func (c Color) RGB() (r, g, b uint8) {
	return uint8(c >> 16), uint8(c >> 8), uint8(c)
}

// Card is a platform-neutral rich message block: an author line with icon,
// optional title, body text, accent color and thumbnail.
//
// Drivers render it with whatever the platform offers; platforms without rich
// blocks fall back to formatted text.
type Card struct {
	AuthorName    string
	AuthorIconURL string
	Title         string
	Description   string
	Color         Color
	ThumbnailURL  string
}

// Validate checks that the card carries something to render.
func (c *Card) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil card", ErrInvalidOutboundRequest)
	}
	if c.AuthorName == "" && c.Title == "" && c.Description == "" {
		return fmt.Errorf("%w: empty card", ErrInvalidOutboundRequest)
	}

	return nil
}
