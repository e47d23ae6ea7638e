package interactive

import (
	"fmt"
	"math/rand/v2"
	"slices"
)

// MixerPhase is the lifecycle position of a mixer.
type MixerPhase int

const (
	PhaseEmpty MixerPhase = iota
	PhasePopulated
	PhaseGrouped
	PhaseStopped
)

func (p MixerPhase) String() string {
	switch p {
	case PhaseEmpty:
		return "empty"
	case PhasePopulated:
		return "populated"
	case PhaseGrouped:
		return "grouped"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// GroupCountError rejects a mixer size outside the configured bounds.
type GroupCountError struct {
	Requested int
	Min, Max  int
}

func (e *GroupCountError) Error() string {
	if e.Requested > e.Max {
		return fmt.Sprintf("Cannot mix more than %d groups.", e.Max)
	}
	return "Invalid number of groups to mix."
}

// ValidateGroupCount returns a *GroupCountError when n is outside [lo, hi].
func ValidateGroupCount(n, lo, hi int) error {
	if n < lo || n > hi {
		return &GroupCountError{Requested: n, Min: lo, Max: hi}
	}
	return nil
}

// MixerState is the payload of a mixer session. Participants are user ids in
// join order. Groups, when set, always partition Participants.
type MixerState struct {
	GroupCount   int
	Participants []string
	Groups       [][]string
	Stopped      bool

	Title  string
	Color  int
	Author Author
}

func (m *MixerState) Phase() MixerPhase {
	switch {
	case m.Stopped:
		return PhaseStopped
	case m.Groups != nil:
		return PhaseGrouped
	case len(m.Participants) > 0:
		return PhasePopulated
	default:
		return PhaseEmpty
	}
}

func (m *MixerState) Has(user string) bool {
	return slices.Contains(m.Participants, user)
}

// Join adds user. With a grouping in place the newcomer is seated in the
// smallest group so the grouping stays a partition without a reshuffle.
func (m *MixerState) Join(user string) bool {
	if m.Stopped || user == "" || m.Has(user) {
		return false
	}
	m.Participants = append(m.Participants, user)
	if m.Groups != nil {
		smallest := 0
		for i := range m.Groups {
			if len(m.Groups[i]) < len(m.Groups[smallest]) {
				smallest = i
			}
		}
		m.Groups[smallest] = append(m.Groups[smallest], user)
	}
	return true
}

// Leave removes user from the participants and from their group.
func (m *MixerState) Leave(user string) bool {
	if m.Stopped {
		return false
	}
	i := slices.Index(m.Participants, user)
	if i < 0 {
		return false
	}
	m.Participants = slices.Delete(m.Participants, i, i+1)
	for g := range m.Groups {
		if j := slices.Index(m.Groups[g], user); j >= 0 {
			m.Groups[g] = slices.Delete(m.Groups[g], j, j+1)
		}
	}
	if len(m.Participants) == 0 {
		m.Groups = nil
	}
	return true
}

// Reconcile drops every participant missing from reactors, the full set of
// users currently reacting to the message. It returns who was dropped.
func (m *MixerState) Reconcile(reactors []string) []string {
	present := make(map[string]struct{}, len(reactors))
	for _, r := range reactors {
		present[r] = struct{}{}
	}
	var gone []string
	for _, p := range m.Participants {
		if _, ok := present[p]; !ok {
			gone = append(gone, p)
		}
	}
	for _, p := range gone {
		m.Leave(p)
	}
	return gone
}

// Shuffle deals a fresh uniform permutation of the participants round-robin
// into GroupCount groups. With no participants the grouping is cleared.
func (m *MixerState) Shuffle(rng *rand.Rand) {
	if m.Stopped {
		return
	}
	if len(m.Participants) == 0 {
		m.Groups = nil
		return
	}
	order := slices.Clone(m.Participants)
	rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

	groups := make([][]string, m.GroupCount)
	for i, p := range order {
		g := i % m.GroupCount
		groups[g] = append(groups[g], p)
	}
	m.Groups = groups
}

func (m *MixerState) clone() *MixerState {
	cp := *m
	cp.Participants = slices.Clone(m.Participants)
	cp.Groups = cloneGroups(m.Groups)
	return &cp
}

func cloneGroups(groups [][]string) [][]string {
	if groups == nil {
		return nil
	}
	out := make([][]string, len(groups))
	for i, g := range groups {
		out[i] = slices.Clone(g)
	}
	return out
}
