package forum

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"quest_tally/pkg/votes"
)

// Export is the on-disk shape of an exported thread
type Export struct {
	Kind      string          `json:"kind"`
	ThreadURI string          `json:"thread_uri"`
	Posts     []votes.RawPost `json:"posts"`
}

// JSONFileSource reads posts from an exported thread file. The file holds
// either an Export object or a bare array of posts.
type JSONFileSource struct {
	Path      string
	ForumKind Kind
	ThreadURI string
}

// NewJSONFileSource creates a source for path
func NewJSONFileSource(path string, kind Kind) *JSONFileSource {
	return &JSONFileSource{Path: path, ForumKind: kind}
}

// Kind implements PostSource
func (s *JSONFileSource) Kind() Kind {
	return s.ForumKind
}

// FetchPosts implements PostSource
func (s *JSONFileSource) FetchPosts(ctx context.Context) ([]votes.RawPost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("reading post export: %w", err)
	}

	export, err := decodeExport(content)
	if err != nil {
		return nil, fmt.Errorf("decoding post export %s: %w", s.Path, err)
	}

	kind := s.ForumKind
	if export.Kind != "" {
		parsed, err := ParseKind(export.Kind)
		if err != nil {
			return nil, err
		}
		if kind == KindUnknown {
			kind = parsed
			s.ForumKind = parsed
		}
	}

	threadURI := s.ThreadURI
	if threadURI == "" {
		threadURI = export.ThreadURI
	}

	for i, p := range export.Posts {
		if strings.TrimSpace(p.Author) == "" {
			return nil, fmt.Errorf("post %d has no author", i)
		}
		if p.PostID == "" {
			export.Posts[i].PostID = fmt.Sprintf("%d", p.PostNumber)
		}
	}
	return Prepare(kind, threadURI, export.Posts), nil
}

func decodeExport(content []byte) (Export, error) {
	trimmed := strings.TrimSpace(string(content))
	if strings.HasPrefix(trimmed, "[") {
		var posts []votes.RawPost
		if err := json.Unmarshal(content, &posts); err != nil {
			return Export{}, err
		}
		return Export{Posts: posts}, nil
	}

	var export Export
	if err := json.Unmarshal(content, &export); err != nil {
		return Export{}, err
	}
	return export, nil
}

// StaticSource serves a fixed list of posts
type StaticSource struct {
	ForumKind Kind
	Posts     []votes.RawPost
}

// Kind implements PostSource
func (s StaticSource) Kind() Kind {
	return s.ForumKind
}

// FetchPosts implements PostSource
func (s StaticSource) FetchPosts(ctx context.Context) ([]votes.RawPost, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Prepare(s.ForumKind, "", s.Posts), nil
}

func sortPosts(posts []votes.RawPost) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].PostNumber < posts[j].PostNumber
	})
}
