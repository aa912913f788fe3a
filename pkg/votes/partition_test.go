package votes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quest_tally/pkg/text"
)

func parseBlock(t *testing.T, body string) VoteLineBlock {
	t.Helper()
	lines := NewParser(nil).ParsePost(body, 1)
	require.NotEmpty(t, lines)
	return MustBlock(lines...)
}

func contents(blocks []VoteLineBlock) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.String()
	}
	return out
}

func TestPartitionNone(t *testing.T) {
	working := []VoteLineBlock{parseBlock(t, "[X] Plan One\n-[X] Scout\n-[X] Report")}

	blocks := Partition(working, PartitionNone)
	require.Len(t, blocks, 1)
	assert.Equal(t, 3, blocks[0].Len())
}

func TestPartitionByLineDropsPlanHeaders(t *testing.T) {
	working := []VoteLineBlock{parseBlock(t, "[X] Plan One\n-[X] Scout\n-[X] Report")}

	blocks := Partition(working, PartitionByLine)
	require.Len(t, blocks, 2)
	for _, b := range blocks {
		assert.Equal(t, 1, b.Len())
		assert.Equal(t, 0, b.First().Depth)
	}
	assert.Equal(t, []string{"[X] Scout", "[X] Report"}, contents(blocks))
}

func TestPartitionTaskInheritance(t *testing.T) {
	working := []VoteLineBlock{parseBlock(t, "[X][Travel] Go north\n-[X] Pack food\n--[X] Buy bread")}

	t.Run("ByLineUsesParentTask", func(t *testing.T) {
		blocks := Partition(working, PartitionByLine)
		require.Len(t, blocks, 3)
		assert.Equal(t, "Travel", blocks[0].Task())
		assert.Equal(t, "Travel", blocks[1].Task())
		// The grandchild's direct parent carries no task of its own
		assert.Equal(t, "", blocks[2].Task())
	})

	t.Run("ByLineTaskUsesTopLevelTask", func(t *testing.T) {
		blocks := Partition(working, PartitionByLineTask)
		require.Len(t, blocks, 3)
		for _, b := range blocks {
			assert.Equal(t, "Travel", b.Task())
		}
	})

	t.Run("ByLineTaskSkipsIntermediateTasks", func(t *testing.T) {
		w := []VoteLineBlock{parseBlock(t, "[X][A] Lead\n-[X][B] Middle\n--[X] Leaf")}

		byLine := Partition(w, PartitionByLine)
		require.Len(t, byLine, 3)
		assert.Equal(t, "B", byLine[2].Task())

		forced := Partition(w, PartitionByLineTask)
		require.Len(t, forced, 3)
		assert.Equal(t, []string{"A", "B", "A"}, []string{forced[0].Task(), forced[1].Task(), forced[2].Task()})
	})

	t.Run("ByLineTaskFallsBackToNearestTask", func(t *testing.T) {
		w := []VoteLineBlock{parseBlock(t, "[X] Lead\n-[X][B] Middle\n--[X] Leaf")}
		blocks := Partition(w, PartitionByLineTask)
		require.Len(t, blocks, 3)
		assert.Equal(t, "", blocks[0].Task())
		assert.Equal(t, "B", blocks[2].Task())
	})

	t.Run("OwnTaskWins", func(t *testing.T) {
		w := []VoteLineBlock{parseBlock(t, "[X][Travel] Go north\n-[X][Camp] Pitch tents")}
		blocks := Partition(w, PartitionByLineTask)
		require.Len(t, blocks, 2)
		assert.Equal(t, "Camp", blocks[1].Task())
	})
}

func TestPartitionByBlock(t *testing.T) {
	working := []VoteLineBlock{parseBlock(t, "[X] Go north\n-[X] Pack food\n[X] Rest\n[X] Plan Scout\n-[X] Look around")}

	blocks := Partition(working, PartitionByBlock)
	require.Len(t, blocks, 3)
	assert.Equal(t, 2, blocks[0].Len())
	assert.Equal(t, 1, blocks[1].Len())
	assert.Equal(t, 2, blocks[2].Len())
	assert.Equal(t, MarkerPlan, blocks[2].First().Marker)
}

func TestPartitionByBlockAllSplitsPlanContent(t *testing.T) {
	working := []VoteLineBlock{
		parseBlock(t, "[X] Plan Scout\n-[X] Look around\n--[X] Carefully\n-[X] Report").WithKind(PlanContent),
	}

	blocks := Partition(working, PartitionByBlockAll)
	require.Len(t, blocks, 2)
	assert.Equal(t, "[X] Look around\n-[X] Carefully", blocks[0].String())
	assert.Equal(t, "[X] Report", blocks[1].String())
}

func TestPartitionLabelPlanUsesBlocksUnderNone(t *testing.T) {
	working := []VoteLineBlock{
		parseBlock(t, "[X] Go north\n-[X] Pack food\n[X] Rest").WithKind(PlanLabel),
	}

	blocks := Partition(working, PartitionNone)
	require.Len(t, blocks, 2)
}

func TestPartitionRankedLinesAlwaysSplit(t *testing.T) {
	working := []VoteLineBlock{parseBlock(t, "[1][Leader] Alice\n[2][Leader] Bob\n[X] Also this")}

	for _, mode := range []PartitionMode{PartitionNone, PartitionByBlock, PartitionByLine} {
		t.Run(mode.String(), func(t *testing.T) {
			blocks := Partition(working, mode)
			require.Len(t, blocks, 3)
			assert.Equal(t, CategoryRank, blocks[0].Category())
			assert.Equal(t, CategoryRank, blocks[1].Category())
			assert.Equal(t, CategoryVote, blocks[2].Category())
		})
	}
}

func TestPartitionIsIdempotent(t *testing.T) {
	c := text.MustComparer(text.ModeLoose)
	working := []VoteLineBlock{parseBlock(t, "[X] Plan One\n-[X] Scout\n-[X] Report\n[X] Rest")}

	first := Partition(working, PartitionNone)
	_ = Partition(working, PartitionByLine)
	again := Partition(working, PartitionNone)

	require.Len(t, again, len(first))
	for i := range first {
		assert.True(t, first[i].Equal(again[i], c))
	}
}

func TestParsePartitionMode(t *testing.T) {
	for _, mode := range []PartitionMode{PartitionNone, PartitionByLine, PartitionByLineTask, PartitionByBlock, PartitionByBlockAll} {
		parsed, err := ParsePartitionMode(mode.String())
		require.NoError(t, err)
		assert.Equal(t, mode, parsed)
	}

	_, err := ParsePartitionMode("by_word")
	assert.Error(t, err)
}

func TestBlockKeyIgnoresMarkerValue(t *testing.T) {
	c := text.MustComparer(text.ModeLoose)
	a := MustBlock(NewVoteLine(0, MarkerRank, "1", "", "Option A"))
	b := MustBlock(NewVoteLine(0, MarkerRank, "3", "", "option a"))
	assert.True(t, a.Equal(b, c))

	_, err := NewBlock()
	assert.ErrorIs(t, err, ErrEmptyBlock)
}
