package tally

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quest_tally/pkg/text"
	"quest_tally/pkg/votes"
)

func newTestStorage(mode text.Mode) *VoteStorage {
	c := text.MustComparer(mode)
	return NewVoteStorage(c, NewVotingRecords(c))
}

func vote(content string) votes.VoteLineBlock {
	return votes.MustBlock(votes.NewVoteLine(0, votes.MarkerVote, "X", "", content))
}

func rankVote(rank, content string) votes.VoteLineBlock {
	return votes.MustBlock(votes.NewVoteLine(0, votes.MarkerRank, rank, "", content))
}

func voter(name string, number int) votes.Origin {
	return votes.NewVoterOrigin(name, name+"-"+string(rune('0'+number)), number, "thread")
}

func TestStorageAddFoldsAgnosticContent(t *testing.T) {
	loose := newTestStorage(text.ModeLoose)
	loose.Add(vote("Café Crème!"), voter("Alice", 1))
	loose.Add(vote("cafe creme"), voter("Bob", 2))
	assert.Equal(t, 1, loose.Len())

	strict := newTestStorage(text.ModeStrict)
	strict.Add(vote("Café Crème!"), voter("Alice", 1))
	strict.Add(vote("cafe creme"), voter("Bob", 2))
	assert.Equal(t, 2, strict.Len())
}

func TestStorageAddSupersedesOlderPost(t *testing.T) {
	s := newTestStorage(text.ModeLoose)

	require.True(t, s.Add(vote("Attack"), voter("Alice", 1)))
	require.True(t, s.Add(vote("Attack"), voter("Bob", 2)))
	require.True(t, s.Add(vote("Defend"), voter("Alice", 3)))

	attackers, err := s.Voters(vote("Attack"))
	require.NoError(t, err)
	require.Len(t, attackers, 1)
	assert.Equal(t, "Bob", attackers[0].Name)

	// An older post cannot displace a newer one
	assert.False(t, s.Add(vote("Retreat"), voter("Alice", 2)))
	_, err = s.Voters(vote("Retreat"))
	assert.ErrorIs(t, err, ErrBlockNotFound)

	// The same post may contribute several blocks
	assert.True(t, s.Add(vote("Rest"), voter("Alice", 3)))
	assert.Len(t, s.Blocks(votes.CategoryVote), 3)
}

func TestStorageMergeUndoRoundTrip(t *testing.T) {
	s := newTestStorage(text.ModeLoose)
	s.Add(vote("Attack"), voter("Alice", 1))
	s.Add(vote("Charge"), voter("Bob", 2))
	s.Add(vote("Attack"), voter("Carol", 3))
	s.Add(vote("Rest"), voter("Dave", 4))

	before := s.Snapshot()

	action, err := s.Merge(vote("Charge"), vote("Attack"))
	require.NoError(t, err)
	assert.Equal(t, UndoMerge, action.Kind)
	assert.Equal(t, 2, s.Len())

	chargers, err := s.Voters(vote("Charge"))
	require.NoError(t, err)
	assert.Len(t, chargers, 3)
	assert.True(t, s.CanUndo())

	undone, err := s.Undo()
	require.NoError(t, err)
	assert.Equal(t, UndoMerge, undone.Kind)
	assert.Equal(t, before, s.Snapshot())
	assert.False(t, s.CanUndo())
}

func TestStorageMergeErrors(t *testing.T) {
	s := newTestStorage(text.ModeLoose)
	s.Add(vote("Attack"), voter("Alice", 1))
	s.Add(rankVote("1", "Option A"), voter("Bob", 2))

	_, err := s.Merge(vote("Attack"), vote("Missing"))
	assert.ErrorIs(t, err, ErrBlockNotFound)

	_, err = s.Merge(vote("Attack"), vote("attack"))
	assert.ErrorIs(t, err, ErrSameBlock)

	_, err = s.Merge(vote("Attack"), rankVote("1", "Option A"))
	assert.ErrorIs(t, err, ErrCategoryMismatch)

	assert.Equal(t, 0, s.UndoCount())
}

func TestStorageJoin(t *testing.T) {
	s := newTestStorage(text.ModeLoose)
	s.Add(vote("Attack"), voter("Alice", 1))
	s.Add(vote("Charge"), voter("Bob", 2))
	s.Add(vote("Charge"), voter("Eve", 3))
	s.Add(vote("Rest"), voter("Carol", 4))

	before := s.Snapshot()

	action, err := s.Join([]string{"Alice", "Bob"}, vote("Rest"))
	require.NoError(t, err)
	assert.Equal(t, UndoJoin, action.Kind)
	assert.Len(t, action.Sources, 2)

	rest, err := s.Voters(vote("Rest"))
	require.NoError(t, err)
	assert.Len(t, rest, 3)

	// Attack lost its only voter; Charge keeps Eve
	_, err = s.Voters(vote("Attack"))
	assert.ErrorIs(t, err, ErrBlockNotFound)
	chargers, err := s.Voters(vote("Charge"))
	require.NoError(t, err)
	require.Len(t, chargers, 1)
	assert.Equal(t, "Eve", chargers[0].Name)

	_, err = s.Undo()
	require.NoError(t, err)
	assert.Equal(t, before, s.Snapshot())

	_, err = s.Join([]string{"Nobody"}, vote("Rest"))
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestStorageJoinMatchesRecordedVoterNames(t *testing.T) {
	s := newTestStorage(text.ModeLoose)
	alice := voter("Alice", 1)
	s.records.Record(alice)
	s.Add(vote("Attack"), alice)
	s.Add(vote("Rest"), voter("Carol", 2))

	_, err := s.Join([]string{"alice"}, vote("Rest"))
	require.NoError(t, err)

	rest, err := s.Voters(vote("Rest"))
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, []string{"Alice", "Carol"}, []string{rest[0].Name, rest[1].Name})

	_, err = s.Voters(vote("Attack"))
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestStorageJoinKeepsVoterRank(t *testing.T) {
	s := newTestStorage(text.ModeLoose)
	s.Add(rankVote("2", "Option A"), voter("Alice", 1))
	s.Add(rankVote("1", "Option B"), voter("Bob", 2))

	_, err := s.Join([]string{"Alice"}, rankVote("1", "Option B"))
	require.NoError(t, err)

	entries := s.Entries(votes.CategoryRank)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Voters, 2)
	alice := entries[0].Voters[0]
	assert.Equal(t, "Alice", alice.Origin.Name)
	assert.Equal(t, "2", alice.Block.First().MarkerValue)
	assert.Equal(t, "Option B", alice.Block.Content())
}

func TestStorageDeleteAndLIFOUndo(t *testing.T) {
	s := newTestStorage(text.ModeLoose)
	s.Add(vote("Attack"), voter("Alice", 1))
	s.Add(vote("Charge"), voter("Bob", 2))
	s.Add(vote("Rest"), voter("Carol", 3))
	s.Add(vote("Scout"), voter("Dave", 4))

	original := s.Snapshot()

	_, err := s.Merge(vote("Rest"), vote("Charge"))
	require.NoError(t, err)
	afterMerge := s.Snapshot()

	action, err := s.Delete(vote("Attack"), vote("Scout"), vote("attack"))
	require.NoError(t, err)
	assert.Len(t, action.Deleted, 2)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, s.UndoCount())

	_, err = s.Undo()
	require.NoError(t, err)
	assert.Equal(t, afterMerge, s.Snapshot())

	_, err = s.Undo()
	require.NoError(t, err)
	assert.Equal(t, original, s.Snapshot())

	_, err = s.Undo()
	assert.ErrorIs(t, err, ErrNothingToUndo)
	assert.Equal(t, original, s.Snapshot())

	_, err = s.Delete(vote("Missing"))
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestStorageResetClearsUndo(t *testing.T) {
	s := newTestStorage(text.ModeLoose)
	s.Add(vote("Attack"), voter("Alice", 1))
	s.Add(vote("Charge"), voter("Bob", 2))
	_, err := s.Merge(vote("Attack"), vote("Charge"))
	require.NoError(t, err)

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.CanUndo())
	assert.Empty(t, s.Snapshot().Categories)
}

func TestUndoActionConstructorsRejectInvalidPayload(t *testing.T) {
	valid := EntrySnapshot{
		Key:    "k",
		Block:  vote("Attack"),
		Voters: map[string]VoterSupport{},
	}
	ids := map[string]votes.Origin{}

	assert.Panics(t, func() { NewMergeAction(EntrySnapshot{}, valid, ids) })
	assert.Panics(t, func() { NewMergeAction(valid, valid, nil) })
	assert.Panics(t, func() { NewJoinAction(nil, valid, []EntrySnapshot{valid}, ids) })
	assert.Panics(t, func() { NewJoinAction([]string{"Alice"}, valid, nil, ids) })
	assert.Panics(t, func() { NewDeleteAction(nil, ids) })

	assert.NotPanics(t, func() {
		a := NewDeleteAction([]EntrySnapshot{valid}, ids)
		assert.Equal(t, `delete "Attack"`, a.Description())
	})
}

func TestBallotsFromScoresAndApprovals(t *testing.T) {
	s := newTestStorage(text.ModeLoose)
	score := func(v, content string) votes.VoteLineBlock {
		return votes.MustBlock(votes.NewVoteLine(0, votes.MarkerScore, v, "", content))
	}
	approval := func(v, content string) votes.VoteLineBlock {
		return votes.MustBlock(votes.NewVoteLine(0, votes.MarkerApproval, v, "", content))
	}

	s.Add(score("9", "Option A"), voter("Alice", 1))
	s.Add(score("4", "Option B"), voter("Alice", 1))
	s.Add(score("9", "Option C"), voter("Alice", 1))

	byTask := Ballots(s.Entries(votes.CategoryScore))
	require.Len(t, byTask[""], 1)
	assert.Equal(t, map[string]int{"Option A": 1, "Option C": 1, "Option B": 3}, byTask[""][0].Ranks)

	s.Add(approval("+", "Option A"), voter("Bob", 2))
	s.Add(approval("-", "Option B"), voter("Bob", 2))

	approvals := Ballots(s.Entries(votes.CategoryApproval))
	require.Len(t, approvals[""], 1)
	assert.Equal(t, map[string]int{"Option A": 1}, approvals[""][0].Ranks)
	assert.Equal(t, []string{"Option B"}, approvals[""][0].Disapproved)
}
