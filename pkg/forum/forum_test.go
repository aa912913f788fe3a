package forum

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quest_tally/pkg/votes"
)

func TestParseKind(t *testing.T) {
	for k, name := range kindNames {
		parsed, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
		assert.True(t, parsed.Valid())
	}

	parsed, err := ParseKind(" XenForo2 ")
	require.NoError(t, err)
	assert.Equal(t, KindXenForo2, parsed)

	_, err = ParseKind("myspace")
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.False(t, KindUnknown.Valid())
	assert.Equal(t, "unknown", KindUnknown.String())
}

func TestStripQuotes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		tags  []string
		want  string
	}{
		{"NoQuotes", "[X] Attack", nil, "[X] Attack"},
		{"Simple", "[quote=Bob][X] Defend[/quote]\n[X] Attack", nil, "\n[X] Attack"},
		{"Nested", "[QUOTE][quote]inner[/quote]outer[/QUOTE]after", nil, "after"},
		{"AttributeWithSpace", "[quote name=\"Bob\"]x[/quote]y", nil, "y"},
		{"Unbalanced", "before[quote]never closed", nil, "before"},
		{"StrayClose", "a[/quote]b", nil, "ab"},
		{"LookalikeTag", "[quoted] text", nil, "[quoted] text"},
		{"CustomTag", "[blockquote]x[/blockquote]y", []string{"blockquote"}, "y"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripQuotes(tt.input, tt.tags...))
		})
	}
}

func TestJSONFileSource(t *testing.T) {
	dir := t.TempDir()

	t.Run("ExportObject", func(t *testing.T) {
		path := filepath.Join(dir, "export.json")
		content := `{
			"kind": "xenforo2",
			"thread_uri": "https://forum.example/threads/quest.1",
			"posts": [
				{"author": "Bob", "post_id": "p2", "post_number": 2, "text": "[X] Defend"},
				{"author": "Alice", "post_number": 1, "text": "[quote][X] Old[/quote][X] Attack"}
			]
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		src := NewJSONFileSource(path, KindUnknown)
		posts, err := src.FetchPosts(context.Background())
		require.NoError(t, err)
		require.Len(t, posts, 2)

		assert.Equal(t, KindXenForo2, src.Kind())
		assert.Equal(t, "Alice", posts[0].Author)
		assert.Equal(t, "1", posts[0].PostID)
		assert.Equal(t, "[X] Attack", posts[0].Text)
		assert.Equal(t, "https://forum.example/threads/quest.1", posts[1].ThreadURI)
	})

	t.Run("BareArray", func(t *testing.T) {
		path := filepath.Join(dir, "array.json")
		content := `[{"author": "Alice", "post_id": "a", "post_number": 7, "thread_uri": "t", "text": "[X] Rest"}]`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		posts, err := NewJSONFileSource(path, KindPhpBB).FetchPosts(context.Background())
		require.NoError(t, err)
		require.Len(t, posts, 1)
		assert.Equal(t, 7, posts[0].PostNumber)
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := NewJSONFileSource(filepath.Join(dir, "missing.json"), KindPhpBB).FetchPosts(context.Background())
		assert.Error(t, err)

		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{"posts": [{"post_number": 1}]}`), 0o644))
		_, err = NewJSONFileSource(bad, KindPhpBB).FetchPosts(context.Background())
		assert.Error(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = NewJSONFileSource(bad, KindPhpBB).FetchPosts(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestStaticSource(t *testing.T) {
	src := StaticSource{
		ForumKind: KindNodeBB,
		Posts: []votes.RawPost{
			{Author: "Bob", PostID: "2", PostNumber: 2, Text: "[blockquote]x[/blockquote][X] B"},
			{Author: "Alice", PostID: "1", PostNumber: 1, Text: "[X] A"},
		},
	}

	posts, err := src.FetchPosts(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "Alice", posts[0].Author)
	assert.Equal(t, "[X] B", posts[1].Text)
	// The source's own slice is untouched
	assert.Equal(t, "Bob", src.Posts[0].Author)
}
