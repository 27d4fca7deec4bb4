package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// Template frames the composed announcement. Filler is the first line
// sacrificed when the assembled status runs past MaxLen.
type Template struct {
	Header string
	Footer string
	Filler string
	MaxLen int
}

// DefaultTemplate mirrors the production status framing.
var DefaultTemplate = Template{
	Header: "#BREAKING latest incident tracker update",
	Footer: "Visit the dashboard for the latest numbers",
	Filler: "Follow us and fill in the volunteer form to join the team",
	MaxLen: 240,
}

// Composer renders one delta record, plus its territory's running
// total, into an announcement string.
type Composer struct {
	tpl Template
}

func NewComposer(tpl Template) *Composer {
	if tpl.Header == "" {
		tpl.Header = DefaultTemplate.Header
	}
	if tpl.Footer == "" {
		tpl.Footer = DefaultTemplate.Footer
	}
	if tpl.Filler == "" {
		tpl.Filler = DefaultTemplate.Filler
	}
	if tpl.MaxLen <= 0 {
		tpl.MaxLen = DefaultTemplate.MaxLen
	}
	return &Composer{tpl: tpl}
}

// Compose builds the full status for a newly observed increment.
// value is the increment, total the post-increment running total.
func (c *Composer) Compose(territory string, value, total int64) string {
	msg := phrase(territory, value, total)

	full := c.assemble(msg, true)
	if utf8.RuneCountInString(full) <= c.tpl.MaxLen {
		return full
	}
	// Best effort: drop the filler line and hope that fits.
	return c.assemble(msg, false)
}

func (c *Composer) assemble(msg string, withFiller bool) string {
	var b strings.Builder
	b.WriteString(c.tpl.Header)
	b.WriteString("\n")
	b.WriteString(msg)
	b.WriteString("\n\n")
	b.WriteString(c.tpl.Footer)
	if withFiller {
		b.WriteString("\n")
		b.WriteString(c.tpl.Filler)
	}
	return b.String()
}

// phrase picks singular/plural wording and distinguishes a territory's
// first-ever report from a follow-up increment.
func phrase(territory string, value, total int64) string {
	if value == 1 {
		if total == 1 {
			return fmt.Sprintf("First incident reported for %s", territory)
		}
		return fmt.Sprintf("A new incident reported for %s. Raises total to %s.",
			territory, humanize.Comma(total))
	}
	if value == total {
		return fmt.Sprintf("First %s incidents reported for %s",
			humanize.Comma(value), territory)
	}
	return fmt.Sprintf("%s new incidents reported for %s. Raises total to %s.",
		humanize.Comma(value), territory, humanize.Comma(total))
}
