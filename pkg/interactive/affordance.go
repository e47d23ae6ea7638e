package interactive

import "strings"

// Symbol is the normalized meaning of a reaction on an interactive message.
type Symbol int

const (
	SymbolNone Symbol = iota
	SymbolPrev
	SymbolNext
	SymbolShuffle
	SymbolStop
	SymbolJoin
)

func (s Symbol) String() string {
	switch s {
	case SymbolPrev:
		return "prev"
	case SymbolNext:
		return "next"
	case SymbolShuffle:
		return "shuffle"
	case SymbolStop:
		return "stop"
	case SymbolJoin:
		return "join"
	default:
		return "none"
	}
}

const (
	EmojiPrev    = "\u2B05"
	EmojiNext    = "\u27A1"
	EmojiShuffle = "\U0001F500"
	EmojiStop    = "\U0001F232"
)

// JoinEmojis are offered on a mixer. Any emoji that is not shuffle or stop
// also counts as joining.
var JoinEmojis = []string{"\u267F", "\U0001F198", "\U0001F6C2", "\U0001F234"}

// variation selector 16, which some clients append to the arrows.
const emojiPresentation = "\uFE0F"

// ReactionEvent is a reaction added to or removed from a message.
type ReactionEvent struct {
	MessageID string
	ChannelID string
	GuildID   string
	UserID    string
	Emoji     string
	Added     bool
}

// Normalize maps an emoji to the symbol it carries on a session of kind.
// List kinds only understand the arrows.
func Normalize(kind Kind, emoji string) Symbol {
	e := strings.ReplaceAll(strings.TrimSpace(emoji), emojiPresentation, "")
	if e == "" {
		return SymbolNone
	}
	if kind == KindMixer {
		switch e {
		case EmojiShuffle:
			return SymbolShuffle
		case EmojiStop:
			return SymbolStop
		default:
			return SymbolJoin
		}
	}
	switch e {
	case EmojiPrev:
		return SymbolPrev
	case EmojiNext:
		return SymbolNext
	default:
		return SymbolNone
	}
}

func mixerAffordances() []string {
	out := make([]string, 0, len(JoinEmojis)+2)
	out = append(out, JoinEmojis...)
	return append(out, EmojiShuffle, EmojiStop)
}
