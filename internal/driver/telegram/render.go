package telegram

import (
	"strings"
	"unicode/utf16"

	"github.com/gotd/td/telegram/message/entity"
	"github.com/gotd/td/tg"

	"ex-fronter/pkg/fronter"
)

// Telegram limits, counted in UTF-16 code units like entity offsets.
const (
	maxMessageLength = 4096
	maxCaptionLength = 1024
)

// colorSwatch is one square emoji and the color it approximates.
type colorSwatch struct {
	emoji   string
	r, g, b int
}

// Telegram has no accent bar, so the card color is shown as the closest
// colored square in front of the author line.
var colorSwatches = []colorSwatch{
	{emoji: "🟥", r: 255, g: 0, b: 0},
	{emoji: "🟧", r: 255, g: 140, b: 0},
	{emoji: "🟨", r: 255, g: 230, b: 0},
	{emoji: "🟩", r: 0, g: 200, b: 0},
	{emoji: "🟦", r: 0, g: 0, b: 255},
	{emoji: "🟪", r: 140, g: 0, b: 200},
	{emoji: "🟫", r: 140, g: 80, b: 20},
	{emoji: "⬛", r: 0, g: 0, b: 0},
	{emoji: "⬜", r: 255, g: 255, b: 255},
}

func colorSwatchFor(color fronter.Color) string {
	r, g, b := color.RGB()

	best := colorSwatches[0]
	bestDistance := -1
	for _, swatch := range colorSwatches {
		dr, dg, db := int(r)-swatch.r, int(g)-swatch.g, int(b)-swatch.b
		distance := dr*dr + dg*dg + db*db
		if bestDistance < 0 || distance < bestDistance {
			best, bestDistance = swatch, distance
		}
	}

	return best.emoji
}

// renderMessage formats plain text followed by an optional card into one
// Telegram message body with formatting entities.
//
// Card layout:
//
//	🟥 Author (linked to the author icon)
//	Title (bold)
//	Description
//	avatar (linked to the thumbnail)
func renderMessage(text string, card *fronter.Card) (string, []tg.MessageEntityClass) {
	var builder entity.Builder

	lines := 0
	newLine := func() {
		if lines > 0 {
			builder.Plain("\n")
		}
		lines++
	}

	if strings.TrimSpace(text) != "" {
		newLine()
		builder.Plain(text)
	}

	if card != nil {
		if card.AuthorName != "" {
			newLine()
			builder.Plain(colorSwatchFor(card.Color) + " ")
			if card.AuthorIconURL != "" {
				builder.Format(card.AuthorName, entity.Bold(), entity.TextURL(card.AuthorIconURL))
			} else {
				builder.Bold(card.AuthorName)
			}
		}
		if card.Title != "" {
			newLine()
			if card.AuthorName == "" {
				builder.Plain(colorSwatchFor(card.Color) + " ")
			}
			builder.Bold(card.Title)
		}
		if card.Description != "" {
			newLine()
			builder.Plain(card.Description)
		}
		if card.ThumbnailURL != "" {
			newLine()
			builder.TextURL("avatar", card.ThumbnailURL)
		}
	}

	return builder.Complete()
}

func utf16Len(text string) int {
	units := 0
	for _, r := range text {
		units += max(utf16.RuneLen(r), 1)
	}

	return units
}

// renderedPart is one Telegram-sized piece of a rendered body.
type renderedPart struct {
	text     string
	entities []tg.MessageEntityClass
}

// splitRendered cuts text into parts of at most limit UTF-16 code units. A
// part ends at the last line break that fits, which is dropped, or mid-line
// when a single line is too long. Entities are clipped to each part.
func splitRendered(text string, entities []tg.MessageEntityClass, limit int) []renderedPart {
	var parts []renderedPart
	emit := func(fromByte, toByte, fromUnit, toUnit int) {
		if fromByte < toByte {
			parts = append(parts, clipPart(text[fromByte:toByte], entities, fromUnit, toUnit))
		}
	}

	startByte, startUnit, pos := 0, 0, 0
	breakByte, breakUnit := -1, 0
	for idx, r := range text {
		width := max(utf16.RuneLen(r), 1)
		if limit > 0 && pos+width-startUnit > limit {
			if breakByte > startByte {
				emit(startByte, breakByte, startUnit, breakUnit)
				startByte, startUnit = breakByte+1, breakUnit+1
			} else {
				emit(startByte, idx, startUnit, pos)
				startByte, startUnit = idx, pos
			}
			breakByte = -1
		}
		if r == '\n' {
			breakByte, breakUnit = idx, pos
		}
		pos += width
	}
	emit(startByte, len(text), startUnit, pos)

	return parts
}

// clipPart keeps the entities overlapping [from, to) and rebases them.
func clipPart(text string, entities []tg.MessageEntityClass, from, to int) renderedPart {
	part := renderedPart{text: text}
	for _, item := range entities {
		start := max(item.GetOffset(), from)
		end := min(item.GetOffset()+item.GetLength(), to)
		if start >= end {
			continue
		}
		if clipped := entityRange(item, start-from, end-start); clipped != nil {
			part.entities = append(part.entities, clipped)
		}
	}

	return part
}

// entityRange copies the entity kinds renderMessage emits onto a new range.
func entityRange(item tg.MessageEntityClass, offset, length int) tg.MessageEntityClass {
	switch item := item.(type) {
	case *tg.MessageEntityBold:
		return &tg.MessageEntityBold{Offset: offset, Length: length}
	case *tg.MessageEntityTextURL:
		return &tg.MessageEntityTextURL{Offset: offset, Length: length, URL: item.URL}
	default:
		return nil
	}
}
