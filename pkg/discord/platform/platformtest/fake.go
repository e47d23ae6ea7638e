// Package platformtest provides an in-memory platform.Platform for tests of
// code that talks to Discord.
package platformtest

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/kokobot/pkg/discord/platform"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
)

// Sent is one message posted through the fake.
type Sent struct {
	Ref     interactive.MessageRef
	Text    string
	Display *interactive.Display
}

// Deleted is one deletion request.
type Deleted struct {
	Ref   interactive.MessageRef
	Delay time.Duration
}

// RoleChange is one grant or revoke.
type RoleChange struct {
	GuildID, UserID, RoleID string
	Granted                 bool
}

// Reaction is one reaction added by the bot.
type Reaction struct {
	Ref   interactive.MessageRef
	Emoji string
}

// Fake records every call. Zero-value maps are allocated by New.
type Fake struct {
	mu sync.Mutex
	id int

	Self string

	Sent      []Sent
	Edits     map[string][]interactive.Display
	TextEdits map[string][]string
	Deleted   []Deleted
	Reactions []Reaction
	Cleared   []string
	Removed   []Reaction
	Changes   []RoleChange
	Nicks     map[string]string
	Purges    map[string]int

	Users    map[string]*discordgo.User
	Members  map[string][]*discordgo.Member
	Roles    map[string][]*discordgo.Role
	Channels map[string][]*discordgo.Channel
	// History holds the message IDs PurgeChannel can see, per channel.
	History  map[string][]string
	Reactors map[string][]string

	SendErr  error
	EditErr  error
	GrantErr error
	NickErr  error
}

var _ platform.Platform = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		Self:      "bot",
		Edits:     make(map[string][]interactive.Display),
		TextEdits: make(map[string][]string),
		Nicks:     make(map[string]string),
		Purges:    make(map[string]int),
		Users:     make(map[string]*discordgo.User),
		Members:   make(map[string][]*discordgo.Member),
		Roles:     make(map[string][]*discordgo.Role),
		Channels:  make(map[string][]*discordgo.Channel),
		History:   make(map[string][]string),
		Reactors:  make(map[string][]string),
	}
}

// AddMember registers a member and its user.
func (f *Fake) AddMember(guildID string, m *discordgo.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Members[guildID] = append(f.Members[guildID], m)
	if m.User != nil {
		f.Users[m.User.ID] = m.User
	}
}

// AddRole registers a guild role.
func (f *Fake) AddRole(guildID string, r *discordgo.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Roles[guildID] = append(f.Roles[guildID], r)
}

// Texts returns the plain text messages sent so far.
func (f *Fake) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.Sent {
		if s.Display == nil {
			out = append(out, s.Text)
		}
	}
	return out
}

// Embeds returns the embeds sent so far.
func (f *Fake) Embeds() []interactive.Display {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []interactive.Display
	for _, s := range f.Sent {
		if s.Display != nil {
			out = append(out, *s.Display)
		}
	}
	return out
}

// LastEdit returns the latest embed written to messageID.
func (f *Fake) LastEdit(messageID string) (interactive.Display, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	edits := f.Edits[messageID]
	if len(edits) == 0 {
		return interactive.Display{}, false
	}
	return edits[len(edits)-1], true
}

// DeletedIDs returns the IDs of deleted messages in order.
func (f *Fake) DeletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.Deleted))
	for _, d := range f.Deleted {
		out = append(out, d.Ref.MessageID)
	}
	return out
}

// RoleChanges returns a copy of the grants and revokes.
func (f *Fake) RoleChanges() []RoleChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.Changes)
}

func (f *Fake) nextRef(channelID string) interactive.MessageRef {
	f.id++
	return interactive.MessageRef{ChannelID: channelID, MessageID: "m" + strconv.Itoa(f.id)}
}

func (f *Fake) SendText(_ context.Context, channelID, text string) (interactive.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return interactive.MessageRef{}, f.SendErr
	}
	ref := f.nextRef(channelID)
	f.Sent = append(f.Sent, Sent{Ref: ref, Text: text})
	f.History[channelID] = append(f.History[channelID], ref.MessageID)
	return ref, nil
}

func (f *Fake) SendEmbed(_ context.Context, channelID string, d interactive.Display) (interactive.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return interactive.MessageRef{}, f.SendErr
	}
	ref := f.nextRef(channelID)
	f.Sent = append(f.Sent, Sent{Ref: ref, Display: &d})
	f.History[channelID] = append(f.History[channelID], ref.MessageID)
	return ref, nil
}

func (f *Fake) EditEmbed(_ context.Context, ref interactive.MessageRef, d interactive.Display) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EditErr != nil {
		return f.EditErr
	}
	f.Edits[ref.MessageID] = append(f.Edits[ref.MessageID], d)
	return nil
}

func (f *Fake) EditText(_ context.Context, ref interactive.MessageRef, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EditErr != nil {
		return f.EditErr
	}
	f.TextEdits[ref.MessageID] = append(f.TextEdits[ref.MessageID], text)
	return nil
}

// DeleteMessage records the request; the delay is not waited for.
func (f *Fake) DeleteMessage(_ context.Context, ref interactive.MessageRef, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, Deleted{Ref: ref, Delay: delay})
	f.History[ref.ChannelID] = slices.DeleteFunc(f.History[ref.ChannelID], func(id string) bool {
		return id == ref.MessageID
	})
	return nil
}

// PurgeChannel removes the newest messages of History except keep.
func (f *Fake) PurgeChannel(_ context.Context, channelID string, limit int, keep ...string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []string
	n := 0
	hist := f.History[channelID]
	for i := len(hist) - 1; i >= 0; i-- {
		id := hist[i]
		if slices.Contains(keep, id) || (limit > 0 && n >= limit) {
			kept = append(kept, id)
			continue
		}
		n++
	}
	slices.Reverse(kept)
	f.History[channelID] = kept
	f.Purges[channelID] += n
	return n, nil
}

func (f *Fake) AddReaction(_ context.Context, ref interactive.MessageRef, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reactions = append(f.Reactions, Reaction{Ref: ref, Emoji: emoji})
	return nil
}

func (f *Fake) RemoveAllReactions(_ context.Context, ref interactive.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Cleared = append(f.Cleared, ref.MessageID)
	return nil
}

func (f *Fake) RemoveUserReaction(_ context.Context, ref interactive.MessageRef, emoji, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Removed = append(f.Removed, Reaction{Ref: ref, Emoji: emoji})
	return nil
}

func (f *Fake) CurrentReactors(_ context.Context, ref interactive.MessageRef) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.Reactors[ref.MessageID]), nil
}

func (f *Fake) User(_ context.Context, userID string) (*discordgo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.Users[userID]; ok {
		return u, nil
	}
	return nil, errors.Wrap(errors.ErrNotFound, "user", errors.New(userID))
}

func (f *Fake) Member(_ context.Context, guildID, userID string) (*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.Members[guildID] {
		if m.User != nil && m.User.ID == userID {
			return m, nil
		}
	}
	return nil, errors.Wrap(errors.ErrNotFound, "member", errors.New(userID))
}

func (f *Fake) GuildMembers(_ context.Context, guildID string, limit int) ([]*discordgo.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ms := f.Members[guildID]
	if limit > 0 && len(ms) > limit {
		ms = ms[:limit]
	}
	return slices.Clone(ms), nil
}

func (f *Fake) GuildRoles(_ context.Context, guildID string) ([]*discordgo.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.Roles[guildID]), nil
}

func (f *Fake) GuildChannels(_ context.Context, guildID string) ([]*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.Channels[guildID]), nil
}

func (f *Fake) MemberRoleNames(ctx context.Context, guildID, userID string) ([]string, error) {
	m, err := f.Member(ctx, guildID, userID)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, r := range f.Roles[guildID] {
		if slices.Contains(m.Roles, r.ID) {
			names = append(names, r.Name)
		}
	}
	return names, nil
}

func (f *Fake) GrantRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GrantErr != nil {
		return f.GrantErr
	}
	f.Changes = append(f.Changes, RoleChange{GuildID: guildID, UserID: userID, RoleID: roleID, Granted: true})
	return nil
}

func (f *Fake) RevokeRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.GrantErr != nil {
		return f.GrantErr
	}
	f.Changes = append(f.Changes, RoleChange{GuildID: guildID, UserID: userID, RoleID: roleID})
	return nil
}

func (f *Fake) SetNickname(_ context.Context, guildID, userID, nick string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NickErr != nil {
		return f.NickErr
	}
	f.Nicks[guildID+"/"+userID] = nick
	return nil
}

func (f *Fake) SelfID() string { return f.Self }

func (f *Fake) Latency() time.Duration { return 42 * time.Millisecond }
