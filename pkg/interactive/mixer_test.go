package interactive

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertPartition(t *testing.T, m *MixerState) {
	t.Helper()
	if m.Groups == nil {
		return
	}
	require.Len(t, m.Groups, m.GroupCount)
	var all []string
	for _, g := range m.Groups {
		all = append(all, g...)
	}
	assert.ElementsMatch(t, m.Participants, all)
}

func TestShuffleThreeIntoTwo(t *testing.T) {
	m := &MixerState{GroupCount: 2}
	for _, u := range []string{"A", "B", "C"} {
		require.True(t, m.Join(u))
	}
	m.Shuffle(rand.New(rand.NewPCG(1, 2)))

	require.Len(t, m.Groups, 2)
	diff := len(m.Groups[0]) - len(m.Groups[1])
	assert.LessOrEqual(t, max(diff, -diff), 1)
	assertPartition(t, m)
	assert.Equal(t, PhaseGrouped, m.Phase())
}

func TestShuffleIsRepeatable(t *testing.T) {
	m := &MixerState{GroupCount: 2}
	for i := range 8 {
		m.Join(fmt.Sprintf("u%d", i))
	}
	rng := rand.New(rand.NewPCG(7, 7))
	seen := map[string]bool{}
	for range 20 {
		m.Shuffle(rng)
		assertPartition(t, m)
		seen[fmt.Sprint(m.Groups)] = true
	}
	assert.Greater(t, len(seen), 1, "each shuffle draws a fresh permutation")
}

func TestShuffleEmptyClearsGrouping(t *testing.T) {
	m := &MixerState{GroupCount: 3}
	m.Join("A")
	m.Shuffle(rand.New(rand.NewPCG(1, 1)))
	require.NotNil(t, m.Groups)

	m.Leave("A")
	assert.Nil(t, m.Groups)
	m.Shuffle(rand.New(rand.NewPCG(1, 1)))
	assert.Nil(t, m.Groups)
	assert.Equal(t, PhaseEmpty, m.Phase())
}

func TestJoinAfterShuffleSeatsInSmallestGroup(t *testing.T) {
	m := &MixerState{GroupCount: 2}
	m.Join("A")
	m.Join("B")
	m.Join("C")
	m.Shuffle(rand.New(rand.NewPCG(3, 4)))
	before := cloneGroups(m.Groups)

	require.True(t, m.Join("D"))
	assertPartition(t, m)
	assert.Len(t, m.Groups[0], 2)
	assert.Len(t, m.Groups[1], 2)
	for i := range before {
		assert.Subset(t, m.Groups[i], before[i], "existing seats are kept")
	}
	assert.False(t, m.Join("D"))
}

func TestPartitionHoldsUnderRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 99))
	users := []string{"a", "b", "c", "d", "e", "f", "g"}
	for groups := 2; groups <= 5; groups++ {
		m := &MixerState{GroupCount: groups}
		for range 300 {
			u := users[rng.IntN(len(users))]
			switch rng.IntN(4) {
			case 0:
				m.Join(u)
			case 1:
				m.Leave(u)
			case 2:
				m.Shuffle(rng)
			case 3:
				var present []string
				for _, p := range m.Participants {
					if rng.IntN(3) > 0 {
						present = append(present, p)
					}
				}
				m.Reconcile(present)
			}
			assertPartition(t, m)
		}
	}
}

func TestReconcileDropsMissing(t *testing.T) {
	m := &MixerState{GroupCount: 2}
	m.Join("A")
	m.Join("B")
	m.Join("C")

	gone := m.Reconcile([]string{"A", "C", "Z"})
	assert.Equal(t, []string{"B"}, gone)
	assert.Equal(t, []string{"A", "C"}, m.Participants)
	assert.False(t, slices.Contains(m.Participants, "Z"), "reconcile never adds")
}

func TestStoppedMixerIgnoresChanges(t *testing.T) {
	m := &MixerState{GroupCount: 2, Stopped: true}
	assert.False(t, m.Join("A"))
	m.Shuffle(rand.New(rand.NewPCG(1, 1)))
	assert.Nil(t, m.Groups)
	assert.Equal(t, PhaseStopped, m.Phase())
}

func TestValidateGroupCount(t *testing.T) {
	assert.NoError(t, ValidateGroupCount(2, 2, 5))
	assert.NoError(t, ValidateGroupCount(5, 2, 5))

	err := ValidateGroupCount(1, 2, 5)
	require.Error(t, err)
	assert.Equal(t, "Invalid number of groups to mix.", err.Error())

	err = ValidateGroupCount(6, 2, 5)
	require.Error(t, err)
	assert.Equal(t, "Cannot mix more than 5 groups.", err.Error())
}

func TestRenderMixer(t *testing.T) {
	m := &MixerState{GroupCount: 2, Title: "Random Mixer for 2 Groups", Author: Author{Name: "owner"}}
	m.Join("1")
	m.Join("2")
	m.Groups = [][]string{{"2"}, {"1"}}

	d := RenderMixer(m)
	assert.Contains(t, d.Body, "React below to join.")
	assert.Contains(t, d.Body, "**People in this mixer:**\n> <@1>\n> <@2>")
	assert.Contains(t, d.Body, "**Group 1**\n> <@2>")
	assert.Contains(t, d.Body, "**Group 2**\n> <@1>")
	assert.Len(t, d.Affordances, len(JoinEmojis)+2)
	require.NotNil(t, d.Author)

	m.Stopped = true
	d = RenderMixer(m)
	assert.Contains(t, d.Body, "**Mixer stopped.**")
	assert.Empty(t, d.Affordances)
}
