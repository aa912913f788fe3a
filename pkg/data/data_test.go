package data

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quest_tally/pkg/ranking"
	"quest_tally/pkg/tally"
	"quest_tally/pkg/votes"
)

func rawPost(n int, author, body string) votes.RawPost {
	return votes.RawPost{
		Author:     author,
		PostID:     author + "-" + string(rune('0'+n)),
		PostNumber: n,
		ThreadURI:  "https://forum.example/threads/quest.1",
		Text:       body,
	}
}

func runTally(t *testing.T, quest string) *tally.Result {
	t.Helper()
	opts := tally.DefaultOptions()
	opts.RankedMethod = ranking.MethodSchulze

	tl, err := tally.New(opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(tl.Close)

	res, err := tl.Run(context.Background(), quest, []votes.RawPost{
		rawPost(1, "Alice", "[X] Attack the gate\n[1] Sword\n[2] Bow"),
		rawPost(2, "Bob", "[X] Attack the gate\n[1] Bow\n[2] Sword"),
		rawPost(3, "Carol", "[X] Sneak in\n[1] Sword\n[2] Bow"),
	})
	require.NoError(t, err)
	return res
}

func TestNewSnapshot(t *testing.T) {
	res := runTally(t, "dragon-quest")

	s, err := NewSnapshot(res)
	require.NoError(t, err)

	assert.Equal(t, "dragon-quest", s.Quest)
	assert.Equal(t, res.RunID.String(), s.RunID)
	assert.Equal(t, "schulze", s.Method)
	assert.Equal(t, 3, s.Voters)
	assert.NotEmpty(t, s.Hash)

	var attack *SnapshotEntry
	for i := range s.Entries {
		if s.Entries[i].Content == "[X] Attack the gate" {
			attack = &s.Entries[i]
		}
	}
	require.NotNil(t, attack)
	assert.Equal(t, "vote", attack.Category)
	assert.Equal(t, []string{"Alice", "Bob"}, attack.Voters)

	winner, ok := s.Winner(votes.CategoryRank, "")
	require.True(t, ok)
	assert.Equal(t, "Sword", winner)

	_, ok = s.Winner(votes.CategoryScore, "")
	assert.False(t, ok)

	_, err = NewSnapshot(nil)
	assert.Error(t, err)
}

func TestSnapshotHashTracksContent(t *testing.T) {
	first, err := NewSnapshot(runTally(t, "dragon-quest"))
	require.NoError(t, err)
	second, err := NewSnapshot(runTally(t, "dragon-quest"))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Hash, second.Hash)

	second.Entries[0].Voters = append(second.Entries[0].Voters, "Mallory")
	second.UpdateHash()
	assert.NotEqual(t, first.Hash, second.Hash)
}

func TestSnapshotValidate(t *testing.T) {
	now := time.Now().UTC()
	valid := func() *Snapshot {
		return &Snapshot{
			ID:          "0b7f0d7e-5a55-4f7e-8a43-1c1f8a3f8d10",
			Quest:       "q",
			StartedAt:   now.Add(-time.Second),
			CompletedAt: now,
		}
	}

	assert.NoError(t, valid().Validate())

	s := valid()
	s.ID = "not-a-uuid"
	assert.ErrorIs(t, s.Validate(), ErrInvalidID)

	s = valid()
	s.Quest = ""
	assert.ErrorIs(t, s.Validate(), ErrInvalidQuest)

	s = valid()
	s.CompletedAt = s.StartedAt.Add(-time.Minute)
	assert.ErrorIs(t, s.Validate(), ErrInvalidTime)
}

func testRepository(t *testing.T, repo Repository) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	var ids []string
	for i := 0; i < 3; i++ {
		s, err := NewSnapshot(runTally(t, "space-quest"))
		require.NoError(t, err)
		s.StartedAt = base.Add(time.Duration(i) * time.Minute)
		s.CompletedAt = s.StartedAt.Add(time.Second)
		require.NoError(t, repo.SaveSnapshot(ctx, s))
		ids = append(ids, s.ID)

		if i == 0 {
			assert.ErrorIs(t, repo.SaveSnapshot(ctx, s), ErrDuplicate)
		}
	}

	got, err := repo.GetSnapshot(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "space-quest", got.Quest)
	assert.NotEmpty(t, got.Entries)
	assert.NotEmpty(t, got.Rankings)

	latest, err := repo.LatestSnapshot(ctx, "space-quest")
	require.NoError(t, err)
	assert.Equal(t, ids[2], latest.ID)

	list, err := repo.ListSnapshots(ctx, "space-quest", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)

	all, err := repo.ListSnapshots(ctx, "space-quest", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = repo.ListSnapshots(ctx, "space-quest", -1)
	assert.ErrorIs(t, err, ErrInvalidFilter)

	require.NoError(t, repo.DeleteSnapshot(ctx, ids[2]))
	assert.ErrorIs(t, repo.DeleteSnapshot(ctx, ids[2]), ErrNotFound)
	_, err = repo.GetSnapshot(ctx, ids[2])
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.LatestSnapshot(ctx, "unknown-quest")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository(t *testing.T) {
	repo := NewMemoryRepository()
	testRepository(t, repo)
	assert.Equal(t, 2, repo.Len())
}

func TestPostgresRepository(t *testing.T) {
	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	logger := zaptest.NewLogger(t)
	require.NoError(t, NewSchemaManager(pool, logger).InitializeSchema(ctx))
	// Applying twice is a no-op
	require.NoError(t, NewSchemaManager(pool, logger).InitializeSchema(ctx))

	_, err = pool.Exec(ctx, "DELETE FROM tally_snapshots")
	require.NoError(t, err)

	testRepository(t, NewPostgresRepository(pool, logger))
}

func TestSchemaFiles(t *testing.T) {
	sm := NewSchemaManager(nil, zaptest.NewLogger(t))
	names, err := SchemaFiles(sm.files)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_tally_snapshots.sql"}, names)
}
