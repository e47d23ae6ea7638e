package cleanup

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// bulkDeleteMaxAge is the oldest message Discord accepts in a bulk delete.
const bulkDeleteMaxAge = 14 * 24 * time.Hour

// Deleter is the slice of the discordgo REST surface used to remove messages.
type Deleter interface {
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error
}

// DeleteMode controls how messages are removed.
type DeleteMode int

const (
	// DeleteModeBulkPreferred uses bulk deletion when possible.
	DeleteModeBulkPreferred DeleteMode = iota
	// DeleteModeSingleOnly deletes each message individually.
	DeleteModeSingleOnly
)

// DeleteOptions configures deletion behavior.
type DeleteOptions struct {
	Mode          DeleteMode
	OnDeleteError func(messageID string, err error)
}

// DeleteMessages removes messages from a channel, returning deleted and failed counts.
func DeleteMessages(d Deleter, channelID string, messageIDs []string, opts DeleteOptions) (int, int) {
	if d == nil || channelID == "" || len(messageIDs) == 0 {
		return 0, 0
	}
	if opts.Mode == DeleteModeSingleOnly {
		return deleteSingle(d, channelID, messageIDs, opts.OnDeleteError)
	}
	return deleteBulkPreferred(d, channelID, messageIDs, opts.OnDeleteError)
}

// SplitByAge separates messages that may be bulk deleted from those too old
// for it, preserving order. Messages with a zero timestamp count as recent.
func SplitByAge(msgs []*discordgo.Message, now time.Time) (recent, old []string) {
	for _, m := range msgs {
		if m == nil || m.ID == "" {
			continue
		}
		if !m.Timestamp.IsZero() && now.Sub(m.Timestamp) >= bulkDeleteMaxAge {
			old = append(old, m.ID)
			continue
		}
		recent = append(recent, m.ID)
	}
	return recent, old
}

func deleteSingle(d Deleter, channelID string, messageIDs []string, onError func(string, error)) (int, int) {
	deleted, failed := 0, 0
	for _, id := range messageIDs {
		if id == "" {
			continue
		}
		if err := d.ChannelMessageDelete(channelID, id); err != nil {
			failed++
			if onError != nil {
				onError(id, err)
			}
			continue
		}
		deleted++
	}
	return deleted, failed
}

func deleteBulkPreferred(d Deleter, channelID string, messageIDs []string, onError func(string, error)) (int, int) {
	deleted, failed := 0, 0
	for _, chunk := range chunkStrings(messageIDs, 100) {
		// Bulk delete needs at least two ids.
		if len(chunk) == 1 {
			dd, ff := deleteSingle(d, channelID, chunk, onError)
			deleted += dd
			failed += ff
			continue
		}
		if err := d.ChannelMessagesBulkDelete(channelID, chunk); err != nil {
			failed += len(chunk)
			if onError != nil {
				for _, id := range chunk {
					onError(id, err)
				}
			}
			continue
		}
		deleted += len(chunk)
	}
	return deleted, failed
}

func chunkStrings(values []string, size int) [][]string {
	if size <= 0 {
		return nil
	}
	var out [][]string
	for len(values) > 0 {
		n := min(size, len(values))
		out = append(out, values[:n])
		values = values[n:]
	}
	return out
}
