package notes

import (
	"context"
	"strings"
	"time"

	"github.com/small-frappuccino/kokobot/pkg/discord/commands/core"
	"github.com/small-frappuccino/kokobot/pkg/discord/events"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/files"
	"github.com/small-frappuccino/kokobot/pkg/log"
)

const (
	chainRefusal = "Cannot chain notes from Kokobot, sorry buddy!"
	emptyName    = "Empty name."
)

// Lookup answers lines starting with the lookup marker with the note value.
type Lookup struct {
	store  Store
	reply  *core.Responder
	config func() files.BotConfig
}

func NewLookup(store Store, reply *core.Responder, config func() files.BotConfig) *Lookup {
	return &Lookup{store: store, reply: reply, config: config}
}

// HandleMessage scans every line of ev. The first empty name or chained
// lookup ends the scan.
func (l *Lookup) HandleMessage(ctx context.Context, ev events.MessageEvent) error {
	if ev.AuthorBot && !ev.FromSelf {
		return nil
	}
	marker := l.config().Notes.LookupMarker

	for line := range strings.SplitSeq(ev.Content, "\n") {
		name, ok := strings.CutPrefix(line, marker)
		if !ok {
			continue
		}
		if ev.FromSelf {
			_, err := l.reply.Text(ctx, ev.ChannelID, chainRefusal)
			return err
		}
		if name == "" {
			return l.reply.Ephemeral(ctx, ev.Ref(), emptyName)
		}
		if err := l.answer(ctx, ev.ChannelID, name); err != nil {
			return err
		}
	}
	return nil
}

func (l *Lookup) answer(ctx context.Context, channelID, name string) error {
	started := time.Now()
	n, err := l.store.GetNote(ctx, name)
	text := n.Value
	switch {
	case errors.Is(err, errors.ErrNotFound):
		text = "`*" + name + "` does not exist."
	case err != nil:
		log.ErrorLoggerRaw().Error("Note lookup failed", "name", name, "channelID", channelID, "err", err)
		return nil
	}
	log.DatabaseLogger().Debug("Note looked up", "name", name, "found", err == nil, "took", time.Since(started))
	_, err = l.reply.Text(ctx, channelID, text)
	return err
}
