package forum

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"quest_tally/pkg/votes"
)

// ErrUnknownKind is returned for forum software names that are not supported
var ErrUnknownKind = errors.New("unknown forum kind")

// Kind identifies the forum software a thread is hosted on
type Kind int

const (
	KindUnknown Kind = iota
	KindXenForo1
	KindXenForo2
	KindVBulletin3
	KindVBulletin4
	KindVBulletin5
	KindPhpBB
	KindNodeBB
)

var kindNames = map[Kind]string{
	KindXenForo1:   "xenforo1",
	KindXenForo2:   "xenforo2",
	KindVBulletin3: "vbulletin3",
	KindVBulletin4: "vbulletin4",
	KindVBulletin5: "vbulletin5",
	KindPhpBB:      "phpbb",
	KindNodeBB:     "nodebb",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind converts a configuration value into a Kind
func ParseKind(s string) (Kind, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == want {
			return k, nil
		}
	}
	return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Valid reports whether k names supported forum software
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// QuoteTags returns the tag names the forum uses to embed quoted posts
func (k Kind) QuoteTags() []string {
	switch k {
	case KindNodeBB:
		return []string{"quote", "blockquote"}
	default:
		return []string{"quote"}
	}
}

// PostSource delivers a thread's posts, already extracted to plain text
// and ordered by post number
type PostSource interface {
	Kind() Kind
	FetchPosts(ctx context.Context) ([]votes.RawPost, error)
}

// Prepare orders posts by number, fills a missing thread URI and strips
// quoted content so quoted votes are not counted twice
func Prepare(kind Kind, threadURI string, posts []votes.RawPost) []votes.RawPost {
	out := make([]votes.RawPost, len(posts))
	copy(out, posts)

	for i := range out {
		if out[i].ThreadURI == "" {
			out[i].ThreadURI = threadURI
		}
		out[i].Text = StripQuotes(out[i].Text, kind.QuoteTags()...)
	}
	sortPosts(out)
	return out
}

// StripQuotes removes quoted blocks, including nested ones, for the given
// tag names. Unbalanced opening tags remove everything after them.
func StripQuotes(body string, tags ...string) string {
	if len(tags) == 0 {
		tags = []string{"quote"}
	}

	var b strings.Builder
	depth := 0
	for i := 0; i < len(body); {
		if body[i] == '[' {
			if n := matchTag(body[i:], tags, false); n > 0 {
				depth++
				i += n
				continue
			}
			if n := matchTag(body[i:], tags, true); n > 0 {
				if depth > 0 {
					depth--
				}
				i += n
				continue
			}
		}
		if depth == 0 {
			b.WriteByte(body[i])
		}
		i++
	}
	return b.String()
}

// matchTag returns the byte length of an opening or closing tag at the
// start of s, or 0
func matchTag(s string, tags []string, closing bool) int {
	prefix := "["
	if closing {
		prefix = "[/"
	}
	if !strings.HasPrefix(s, prefix) {
		return 0
	}
	rest := s[len(prefix):]
	for _, tag := range tags {
		if len(rest) < len(tag) || !strings.EqualFold(rest[:len(tag)], tag) {
			continue
		}
		after := rest[len(tag):]
		if closing {
			if strings.HasPrefix(after, "]") {
				return len(prefix) + len(tag) + 1
			}
			continue
		}
		if strings.HasPrefix(after, "]") || strings.HasPrefix(after, "=") || strings.HasPrefix(after, " ") {
			end := strings.IndexByte(after, ']')
			if end < 0 {
				return 0
			}
			return len(prefix) + len(tag) + end + 1
		}
	}
	return 0
}
