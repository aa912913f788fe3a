package tally

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quest_tally/pkg/text"
	"quest_tally/pkg/votes"
)

func newTestPipeline(t *testing.T, raw ...votes.RawPost) *Pipeline {
	t.Helper()
	rc, err := NewRunContext("quest", DefaultOptions())
	require.NoError(t, err)
	p := NewPipeline(rc, zaptest.NewLogger(t))
	p.Parse(raw)
	return p
}

func TestVotingRecords(t *testing.T) {
	c := text.MustComparer(text.ModeLoose)
	r := NewVotingRecords(c)

	r.Record(voter("Alice", 3))
	r.Record(voter("alice", 1))
	r.Record(voter("Bob", 2))
	r.Record(votes.Origin{Name: "  "})

	latest, ok := r.Latest("ALICE")
	require.True(t, ok)
	assert.Equal(t, 3, latest.PostNumber)
	assert.True(t, r.IsLatest(voter("Alice", 3)))
	assert.False(t, r.IsLatest(voter("Alice", 1)))
	assert.Equal(t, []string{"Alice", "Bob"}, r.Voters())
	assert.Equal(t, 2, r.Len())

	snap := r.Snapshot()
	r.Reset()
	assert.False(t, r.Known("Bob"))
	r.Restore(snap)
	assert.True(t, r.Known("Bob"))
	assert.Equal(t, map[string]string{"Alice": "Alice-3", "Bob": "Bob-2"}, r.PostIDs())
}

func TestPlanRegistryFirstDefinitionWins(t *testing.T) {
	r := NewPlanRegistry(text.MustComparer(text.ModeLoose))
	assert.True(t, r.Register(&Plan{Name: "Blue Sky", Kind: votes.PlanContent}))
	assert.False(t, r.Register(&Plan{Name: "blue sky", Kind: votes.PlanLabel}))

	p, ok := r.Lookup("BLUE SKY")
	require.True(t, ok)
	assert.Equal(t, votes.PlanContent, p.Kind)
	assert.Equal(t, 1, r.Len())
}

func TestPipelinePhases(t *testing.T) {
	p := newTestPipeline(t,
		post(1, "Alice", "[X] Plan Rush\n[X] Charge\n[X] Burn the gate"),
		post(2, "Bob", "[X] Plan Rush"),
		post(3, "Carol", "[X] Plan Careful\n-[X] Scout\n[X] Plan Quick\n[X] Run"),
		post(4, "Dave", "[X] Plan Careful"),
		post(5, "Eve", "Just lurking"),
	)

	assert.Len(t, p.Posts(), 4)
	assert.Equal(t, 1, p.ExtractContentPlans())
	assert.Equal(t, 1, p.ExtractLabelPlans(true))
	assert.Equal(t, 0, p.ExtractLabelPlans(false))

	rush, ok := p.rc.Plans.Lookup("Rush")
	require.True(t, ok)
	assert.Equal(t, votes.PlanLabel, rush.Kind)
	assert.Equal(t, "Rush", p.Posts()[0].LabelPlan)

	careful, ok := p.rc.Plans.Lookup("Careful")
	require.True(t, ok)
	assert.Equal(t, "[X] Plan Careful\n-[X] Scout", careful.Block.String())

	// Everything resolves in the first pass: definers precede referrers
	assert.Equal(t, 4, p.AssignWorkingVotes())
	assert.Empty(t, p.Pending())

	alice := p.Posts()[0]
	bob := p.Posts()[1]
	assert.Len(t, alice.WorkingLines(), 2)
	require.Len(t, bob.WorkingVote, 1)
	assert.Equal(t, votes.PlanLabel, bob.WorkingVote[0].Kind())
	assert.Equal(t, "[X] Charge\n[X] Burn the gate", bob.WorkingVote[0].String())

	// Label plans split by block under the default mode
	blocks := votes.Partition(bob.WorkingVote, votes.PartitionNone)
	assert.Len(t, blocks, 2)

	dave := p.Posts()[3]
	require.Len(t, dave.WorkingVote, 1)
	assert.Equal(t, votes.PlanContent, dave.WorkingVote[0].Kind())
}

func TestPipelineResolveMakesProgressBeforeForcing(t *testing.T) {
	p := newTestPipeline(t,
		post(1, "Alice", "[X] Bob"),
		post(2, "Bob", "[X] Carol"),
		post(3, "Carol", "[X] Head home"),
	)
	p.ExtractContentPlans()
	p.ExtractLabelPlans(true)
	p.ExtractLabelPlans(false)

	// Only Carol resolves in the first pass; the chain unwinds one link per pass
	assert.Equal(t, 1, p.AssignWorkingVotes())
	require.Len(t, p.Pending(), 2)
	assert.Equal(t, []string{"Voter Bob"}, p.Pending()[0].Pending)

	passes, forced := p.Resolve()
	assert.Equal(t, 2, passes)
	assert.Equal(t, 0, forced)
	for _, post := range p.Posts() {
		assert.True(t, post.Processed)
		assert.False(t, post.ForceProcess)
		assert.Equal(t, "[X] Head home", post.WorkingVote[0].String())
	}
}

func TestPipelineVoterCycleIsForced(t *testing.T) {
	p := newTestPipeline(t,
		post(1, "Alice", "[X] Bob"),
		post(2, "Bob", "[X] Alice"),
		post(3, "Carol", "[X] User Alice"),
	)
	p.AssignWorkingVotes()
	require.Len(t, p.Pending(), 3)

	passes, forced := p.Resolve()
	assert.Equal(t, 1, passes)
	assert.Equal(t, 3, forced)

	for _, post := range p.Posts() {
		assert.True(t, post.ForceProcess)
		assert.True(t, post.Processed)
		assert.Len(t, post.Degraded, 1)
	}
	assert.Equal(t, "[X] User Alice", p.Posts()[2].WorkingVote[0].String())
	assert.Contains(t, p.Posts()[2].Status(), "unresolved")
}
