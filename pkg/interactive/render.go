package interactive

import (
	"fmt"
	"strings"
)

// Display is what gets written to an interactive message.
type Display struct {
	Title  string
	Body   string
	Footer string
	Color  int
	Author *Author
	// ImageURL is shown as the embed image, used by avatar replies.
	ImageURL string
	// Affordances are the reactions the message should carry, in order.
	Affordances []string
}

const (
	mixerPreamble = "React below to join.\nClick " + EmojiShuffle + " to shuffle, " + EmojiStop + " to stop.\n\n"
	stoppedNotice = "**Mixer stopped.**"
	quote         = "> "
)

// RenderList builds the display of a list page from the rows of that page.
func RenderList(l *ListState, page Page, lines []string) Display {
	var b strings.Builder
	b.WriteString(l.Preamble)
	b.WriteString(strings.Join(lines, "\n"))
	return Display{
		Title:       l.Title,
		Body:        b.String(),
		Footer:      page.Footer(),
		Color:       l.Color,
		Affordances: page.Affordances(),
	}
}

// RenderMixer builds the display of a mixer. Participants are shown as mentions.
func RenderMixer(m *MixerState) Display {
	var b strings.Builder
	b.WriteString(mixerPreamble)

	if len(m.Participants) > 0 {
		b.WriteString("**People in this mixer:**\n")
		for _, p := range m.Participants {
			b.WriteString(quote + mention(p) + "\n")
		}
		b.WriteString("\n")
	}

	for i, g := range m.Groups {
		if len(g) == 0 {
			continue
		}
		fmt.Fprintf(&b, "**Group %d**\n", i+1)
		for _, p := range g {
			b.WriteString(quote + mention(p) + "\n")
		}
		b.WriteString("\n")
	}

	d := Display{
		Title:  m.Title,
		Body:   strings.TrimRight(b.String(), "\n"),
		Footer: "Only the mixer owner can shuffle or stop.",
		Color:  m.Color,
	}
	if m.Author.Name != "" {
		author := m.Author
		d.Author = &author
	}
	if m.Stopped {
		d.Body += "\n\n" + stoppedNotice
		return d
	}
	d.Affordances = mixerAffordances()
	return d
}

func mention(userID string) string {
	return "<@" + userID + ">"
}
