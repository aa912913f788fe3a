package text

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Mode selects how much of a string participates in comparison
type Mode int

const (
	// ModeLoose ignores whitespace, punctuation and symbols
	ModeLoose Mode = iota
	// ModeStrict keeps whitespace, punctuation and symbols significant
	ModeStrict
)

// DefaultCacheSize is the number of normalized keys kept per comparer
const DefaultCacheSize = 4096

var (
	markupTags = regexp.MustCompile(`(?i)\[/?(?:b|i|u|s|color|size|url|font|quote|spoiler)(?:=[^\]]*)?\]`)
	markupBody = regexp.MustCompile(`(?i)^/?(?:b|i|u|s|color|size|url|font|quote|spoiler)(?:=[^\]]*)?$`)
)

// String returns the configuration name of the mode
func (m Mode) String() string {
	switch m {
	case ModeStrict:
		return "strict"
	default:
		return "loose"
	}
}

// ParseMode converts a configuration value into a Mode
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "loose":
		return ModeLoose, nil
	case "strict":
		return ModeStrict, nil
	default:
		return ModeLoose, fmt.Errorf("unknown comparison mode: %q", s)
	}
}

// Comparer provides culture, diacritic, case and width insensitive equality.
// Every comparison goes through Key, so two strings are equal exactly when
// their keys are equal. A Comparer is safe for concurrent use.
type Comparer struct {
	mode  Mode
	cache *lru.Cache[string, string]
}

// NewComparer creates a comparer for the given mode
func NewComparer(mode Mode, cacheSize int) (*Comparer, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating key cache: %w", err)
	}
	return &Comparer{mode: mode, cache: cache}, nil
}

// MustComparer is NewComparer for callers with a fixed, valid cache size
func MustComparer(mode Mode) *Comparer {
	c, err := NewComparer(mode, DefaultCacheSize)
	if err != nil {
		panic(err)
	}
	return c
}

// Mode returns the comparison mode
func (c *Comparer) Mode() Mode {
	return c.mode
}

// Key returns the normalized form of s used for equality and hashing
func (c *Comparer) Key(s string) string {
	if key, ok := c.cache.Get(s); ok {
		return key
	}
	key := c.normalize(s)
	c.cache.Add(s, key)
	return key
}

// Equal reports whether a and b are agnostically equal
func (c *Comparer) Equal(a, b string) bool {
	return c.Key(a) == c.Key(b)
}

// Compare orders strings by key, falling back to the raw text so the
// ordering is total
func (c *Comparer) Compare(a, b string) int {
	if r := strings.Compare(c.Key(a), c.Key(b)); r != 0 {
		return r
	}
	return strings.Compare(a, b)
}

func (c *Comparer) normalize(s string) string {
	s = StripMarkup(s)

	steps := []transform.Transformer{
		norm.NFKD,
		runes.Remove(runes.In(unicode.Mn)),
		width.Fold,
		cases.Fold(),
	}
	if c.mode == ModeLoose {
		steps = append(steps, runes.Remove(runes.Predicate(isIgnorable)))
	}
	steps = append(steps, norm.NFC)

	out, _, err := transform.String(transform.Chain(steps...), s)
	if err != nil {
		// Fall back to a plain fold; transform only fails on invalid state
		return strings.ToLower(s)
	}
	return out
}

func isIgnorable(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// StripMarkup removes formatting wrapper tags from s. It is used for
// comparison only; stored content keeps its markup.
func StripMarkup(s string) string {
	return markupTags.ReplaceAllString(s, "")
}

// IsMarkupTag reports whether a bracket body such as "b" or "url=x" is a
// formatting tag rather than a label
func IsMarkupTag(body string) bool {
	return markupBody.MatchString(body)
}
