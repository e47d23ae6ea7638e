package interactive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name  string
		kind  Kind
		emoji string
		want  Symbol
	}{
		{"list prev", KindNoteList, EmojiPrev, SymbolPrev},
		{"list next with presentation selector", KindNoteSearch, EmojiNext + "\uFE0F", SymbolNext},
		{"list ignores other emoji", KindUserRoster, "\U0001F600", SymbolNone},
		{"list ignores shuffle", KindNoteList, EmojiShuffle, SymbolNone},
		{"mixer shuffle", KindMixer, EmojiShuffle, SymbolShuffle},
		{"mixer stop", KindMixer, EmojiStop, SymbolStop},
		{"mixer offered join", KindMixer, JoinEmojis[1], SymbolJoin},
		{"mixer any emoji joins", KindMixer, "party:1234", SymbolJoin},
		{"empty", KindMixer, "", SymbolNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.kind, tc.emoji))
		})
	}
}

func TestSymbolString(t *testing.T) {
	assert.Equal(t, "shuffle", SymbolShuffle.String())
	assert.Equal(t, "none", Symbol(99).String())
}
