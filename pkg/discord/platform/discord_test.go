package platform

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/kokobot/pkg/errors"
	"github.com/small-frappuccino/kokobot/pkg/interactive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAPI records calls and serves canned responses. Methods the tests
// never reach panic through the nil embedded interface.
type stubAPI struct {
	restAPI

	mu        sync.Mutex
	sent      []string
	edits     []*discordgo.MessageEdit
	deleted   []string
	bulk      [][]string
	deleteErr error

	message   *discordgo.Message
	reactions map[string][]*discordgo.User
	history   []*discordgo.Message
	members   []*discordgo.Member
	member    *discordgo.Member
	roles     []*discordgo.Role

	reactionAdds []string
	roleErr      error
	nick         string
}

func restErr(code int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: code}}
}

func (s *stubAPI) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.sent = append(s.sent, content)
	return &discordgo.Message{ID: "m1", ChannelID: channelID}, nil
}

func (s *stubAPI) ChannelMessageEditComplex(m *discordgo.MessageEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.edits = append(s.edits, m)
	return &discordgo.Message{ID: m.ID}, nil
}

func (s *stubAPI) ChannelMessageDelete(_, id string, _ ...discordgo.RequestOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return s.deleteErr
}

func (s *stubAPI) ChannelMessagesBulkDelete(_ string, ids []string, _ ...discordgo.RequestOption) error {
	s.bulk = append(s.bulk, ids)
	return nil
}

func (s *stubAPI) ChannelMessage(_, _ string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if s.message == nil {
		return nil, restErr(http.StatusNotFound)
	}
	return s.message, nil
}

func (s *stubAPI) ChannelMessages(_ string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	start := 0
	if beforeID != "" {
		for i, m := range s.history {
			if m.ID == beforeID {
				start = i + 1
			}
		}
	}
	end := min(start+limit, len(s.history))
	return slices.Clone(s.history[start:end]), nil
}

func (s *stubAPI) MessageReactions(_, _, emoji string, limit int, _, afterID string, _ ...discordgo.RequestOption) ([]*discordgo.User, error) {
	users := s.reactions[emoji]
	if afterID != "" {
		for i, u := range users {
			if u.ID == afterID {
				users = users[i+1:]
				break
			}
		}
	}
	return users[:min(limit, len(users))], nil
}

func (s *stubAPI) MessageReactionAdd(_, _, emoji string, _ ...discordgo.RequestOption) error {
	s.reactionAdds = append(s.reactionAdds, emoji)
	return nil
}

func (s *stubAPI) GuildMembers(_ string, after string, limit int, _ ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	start := 0
	if after != "" {
		for i, m := range s.members {
			if m.User.ID == after {
				start = i + 1
			}
		}
	}
	end := min(start+limit, len(s.members))
	return s.members[start:end], nil
}

func (s *stubAPI) GuildMember(_, _ string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	return s.member, nil
}

func (s *stubAPI) GuildRoles(_ string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	return s.roles, nil
}

func (s *stubAPI) GuildMemberRoleAdd(_, _, _ string, _ ...discordgo.RequestOption) error {
	return s.roleErr
}

func (s *stubAPI) GuildMemberNickname(_, userID, nickname string, _ ...discordgo.RequestOption) error {
	s.nick = userID + ":" + nickname
	return nil
}

var ref = interactive.MessageRef{ChannelID: "c1", MessageID: "m1"}

func TestSendTextReturnsRef(t *testing.T) {
	api := &stubAPI{}
	d := newDiscord(api, Options{})

	got, err := d.SendText(context.Background(), "c1", "hi")
	require.NoError(t, err)
	assert.Equal(t, ref, got)
	assert.Equal(t, []string{"hi"}, api.sent)
}

func TestEditEmbedClearsContent(t *testing.T) {
	api := &stubAPI{}
	d := newDiscord(api, Options{})

	require.NoError(t, d.EditEmbed(context.Background(), ref, interactive.Display{
		Title:  "List Results",
		Body:   "*a",
		Footer: "Page 1 of 2",
		Color:  2818026,
		Author: &interactive.Author{Name: "koko"},
	}))

	require.Len(t, api.edits, 1)
	edit := api.edits[0]
	require.NotNil(t, edit.Content)
	assert.Empty(t, *edit.Content)
	require.NotNil(t, edit.Embeds)
	e := (*edit.Embeds)[0]
	assert.Equal(t, "List Results", e.Title)
	assert.Equal(t, "Page 1 of 2", e.Footer.Text)
	assert.Equal(t, "koko", e.Author.Name)
}

func TestDeleteMessageIgnoresMissing(t *testing.T) {
	api := &stubAPI{deleteErr: restErr(http.StatusNotFound)}
	d := newDiscord(api, Options{})

	assert.NoError(t, d.DeleteMessage(context.Background(), ref, 0))

	api.deleteErr = restErr(http.StatusForbidden)
	assert.ErrorIs(t, d.DeleteMessage(context.Background(), ref, 0), errors.ErrForbidden)
}

func TestDeleteMessageDelayed(t *testing.T) {
	api := &stubAPI{}
	d := newDiscord(api, Options{})

	require.NoError(t, d.DeleteMessage(context.Background(), ref, 10*time.Millisecond))
	assert.Empty(t, api.deletedSnapshot())
	assert.Eventually(t, func() bool { return len(api.deletedSnapshot()) == 1 }, time.Second, 5*time.Millisecond)
}

func (s *stubAPI) deletedSnapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.deleted)
}

func TestCurrentReactorsUnionExcludesOnlySelf(t *testing.T) {
	shuffle := &discordgo.Emoji{Name: interactive.EmojiShuffle}
	join := &discordgo.Emoji{Name: interactive.JoinEmojis[0]}
	api := &stubAPI{
		message: &discordgo.Message{Reactions: []*discordgo.MessageReactions{
			{Emoji: join}, {Emoji: shuffle},
		}},
		reactions: map[string][]*discordgo.User{
			join.APIName():    {{ID: "self"}, {ID: "a"}, {ID: "b"}},
			shuffle.APIName(): {{ID: "b"}, {ID: "c"}, {ID: "other-bot", Bot: true}},
		},
	}
	d := newDiscord(api, Options{})
	d.state = discordgo.NewState()
	d.state.User = &discordgo.User{ID: "self"}

	got, err := d.CurrentReactors(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "other-bot"}, got)
}

func TestCurrentReactorsPages(t *testing.T) {
	join := &discordgo.Emoji{Name: interactive.JoinEmojis[1]}
	users := make([]*discordgo.User, 150)
	for i := range users {
		users[i] = &discordgo.User{ID: string(rune('A' + i/26)) + string(rune('a' + i%26))}
	}
	api := &stubAPI{
		message:   &discordgo.Message{Reactions: []*discordgo.MessageReactions{{Emoji: join}}},
		reactions: map[string][]*discordgo.User{join.APIName(): users},
	}
	d := newDiscord(api, Options{})

	got, err := d.CurrentReactors(context.Background(), ref)
	require.NoError(t, err)
	assert.Len(t, got, 150)
}

func TestCurrentReactorsMissingMessage(t *testing.T) {
	d := newDiscord(&stubAPI{}, Options{})
	_, err := d.CurrentReactors(context.Background(), ref)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestAddReactionHonorsContext(t *testing.T) {
	api := &stubAPI{}
	d := newDiscord(api, Options{ReactionRate: 0.001, ReactionBurst: 1})

	require.NoError(t, d.AddReaction(context.Background(), ref, interactive.EmojiNext))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, d.AddReaction(ctx, ref, interactive.EmojiPrev))
	assert.Equal(t, []string{interactive.EmojiNext}, api.reactionAdds)
}

func TestPurgeChannelKeepsAndSplitsByAge(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	api := &stubAPI{history: []*discordgo.Message{
		{ID: "5", Timestamp: now.Add(-time.Minute)},
		{ID: "4", Timestamp: now.Add(-time.Hour)},
		{ID: "3", Timestamp: now.Add(-2 * time.Hour)},
		{ID: "2", Timestamp: now.Add(-20 * 24 * time.Hour)},
		{ID: "1", Timestamp: now.Add(-30 * 24 * time.Hour)},
	}}
	d := newDiscord(api, Options{})
	d.now = func() time.Time { return now }

	n, err := d.PurgeChannel(context.Background(), "c1", 0, "4")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, [][]string{{"5", "3"}}, api.bulk)
	assert.Equal(t, []string{"2", "1"}, api.deleted)
}

func TestPurgeChannelLimit(t *testing.T) {
	api := &stubAPI{history: []*discordgo.Message{{ID: "3"}, {ID: "2"}, {ID: "1"}}}
	d := newDiscord(api, Options{})

	n, err := d.PurgeChannel(context.Background(), "c1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, [][]string{{"3", "2"}}, api.bulk)
}

func TestGuildMembersPages(t *testing.T) {
	members := make([]*discordgo.Member, 2500)
	for i := range members {
		members[i] = &discordgo.Member{User: &discordgo.User{ID: strconv.Itoa(i)}}
	}
	d := newDiscord(&stubAPI{members: members}, Options{})

	got, err := d.GuildMembers(context.Background(), "g", 0)
	require.NoError(t, err)
	assert.Len(t, got, 2500)

	got, err = d.GuildMembers(context.Background(), "g", 500)
	require.NoError(t, err)
	assert.Len(t, got, 500)
}

func TestMemberRoleNames(t *testing.T) {
	api := &stubAPI{
		member: &discordgo.Member{Roles: []string{"r1", "r3"}},
		roles:  []*discordgo.Role{{ID: "r1", Name: "Officers"}, {ID: "r2", Name: "Members"}, {ID: "r3", Name: "bot boi"}},
	}
	d := newDiscord(api, Options{})

	names, err := d.MemberRoleNames(context.Background(), "g", "u")
	require.NoError(t, err)
	assert.Equal(t, []string{"Officers", "bot boi"}, names)
}

func TestGrantRoleForbidden(t *testing.T) {
	d := newDiscord(&stubAPI{roleErr: restErr(http.StatusForbidden)}, Options{})
	assert.ErrorIs(t, d.GrantRole(context.Background(), "g", "u", "r"), errors.ErrForbidden)
}

func TestSetNicknameTargetsMember(t *testing.T) {
	api := &stubAPI{}
	d := newDiscord(api, Options{})
	require.NoError(t, d.SetNickname(context.Background(), "g", "u1", "  koko  "))
	assert.Equal(t, "u1:koko", api.nick)

	require.NoError(t, d.SetNickname(context.Background(), "g", "", ""))
	assert.Equal(t, "@me:", api.nick)
}
