// Package interactive turns posted messages into reaction-driven UIs:
// paginated lists and the random group mixer. Every live UI is a Session
// held in a Registry and expired by a Scheduler.
package interactive

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Kind selects the payload a Session carries.
type Kind int

const (
	KindNoteList Kind = iota + 1
	KindNoteSearch
	KindUserRoster
	KindMixer
)

func (k Kind) String() string {
	switch k {
	case KindNoteList:
		return "note_list"
	case KindNoteSearch:
		return "note_search"
	case KindUserRoster:
		return "user_roster"
	case KindMixer:
		return "mixer"
	default:
		return "unknown"
	}
}

// IsList reports whether sessions of this kind paginate.
func (k Kind) IsList() bool {
	return k == KindNoteList || k == KindNoteSearch || k == KindUserRoster
}

// MessageRef identifies a posted message.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// ListSource supplies the rows of a list session. Rows are re-read on every
// render so the display follows the backing data.
type ListSource interface {
	Count(ctx context.Context) (int, error)
	Lines(ctx context.Context, offset, limit int) ([]string, error)
}

// SliceSource is a ListSource over a fixed set of lines.
type SliceSource []string

func (s SliceSource) Count(context.Context) (int, error) { return len(s), nil }

func (s SliceSource) Lines(_ context.Context, offset, limit int) ([]string, error) {
	if offset >= len(s) || limit <= 0 {
		return nil, nil
	}
	return slices.Clone(s[offset:min(offset+limit, len(s))]), nil
}

// ListState is the payload of NoteList, NoteSearch and UserRoster sessions.
type ListState struct {
	Title    string
	Color    int
	Preamble string
	PageSize int
	Page     int
	// Total is the item count seen by the last render.
	Total int

	// Query narrows NoteSearch; FilterUser narrows NoteList.
	Query      string
	FilterUser string

	Source ListSource
}

// Author is shown above a mixer's title.
type Author struct {
	Name    string
	IconURL string
}

// Session is one live interactive message.
type Session struct {
	ID        string
	ChannelID string
	Kind      Kind
	// OwnerID may shuffle and stop a mixer. Lists have no owner.
	OwnerID   string
	CreatedAt time.Time
	ExpiresAt time.Time

	List  *ListState
	Mixer *MixerState

	expiry Handle
}

// Ref returns the message the session lives on.
func (s *Session) Ref() MessageRef {
	return MessageRef{ChannelID: s.ChannelID, MessageID: s.ID}
}

func (s *Session) validate() error {
	if s.ID == "" {
		return fmt.Errorf("session has no message id")
	}
	switch {
	case s.Kind.IsList():
		if s.List == nil || s.Mixer != nil {
			return fmt.Errorf("%s session needs a list payload only", s.Kind)
		}
		if s.List.Source == nil {
			return fmt.Errorf("%s session has no source", s.Kind)
		}
	case s.Kind == KindMixer:
		if s.Mixer == nil || s.List != nil {
			return fmt.Errorf("mixer session needs a mixer payload only")
		}
		if s.OwnerID == "" {
			return fmt.Errorf("mixer session has no owner")
		}
	default:
		return fmt.Errorf("unknown session kind %d", s.Kind)
	}
	return nil
}

// clone copies the session deeply enough that the caller can render it
// without holding the registry lock.
func (s *Session) clone() Session {
	cp := *s
	if s.List != nil {
		l := *s.List
		cp.List = &l
	}
	if s.Mixer != nil {
		cp.Mixer = s.Mixer.clone()
	}
	return cp
}

// Info is the JSON view of a session served by the control API.
type Info struct {
	MessageID    string     `json:"message_id"`
	ChannelID    string     `json:"channel_id"`
	Kind         string     `json:"kind"`
	OwnerID      string     `json:"owner_id,omitempty"`
	Page         int        `json:"page,omitempty"`
	PageCount    int        `json:"page_count,omitempty"`
	Query        string     `json:"query,omitempty"`
	FilterUser   string     `json:"filter_user,omitempty"`
	Participants []string   `json:"participants,omitempty"`
	Groups       [][]string `json:"groups,omitempty"`
	Phase        string     `json:"phase,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
}

func (s Session) Info() Info {
	info := Info{
		MessageID: s.ID,
		ChannelID: s.ChannelID,
		Kind:      s.Kind.String(),
		OwnerID:   s.OwnerID,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
	if s.List != nil {
		p := Paginate(s.List.Total, s.List.PageSize, s.List.Page)
		info.Page = p.Number()
		info.PageCount = p.Count
		info.Query = s.List.Query
		info.FilterUser = s.List.FilterUser
	}
	if s.Mixer != nil {
		info.Participants = slices.Clone(s.Mixer.Participants)
		info.Groups = cloneGroups(s.Mixer.Groups)
		info.Phase = s.Mixer.Phase().String()
	}
	return info
}
