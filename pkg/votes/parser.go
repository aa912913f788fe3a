package votes

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"quest_tally/pkg/text"
)

const lineSpace = " \t\r\n\v\f"

var (
	numericMarker = regexp.MustCompile(`^#?([0-9]+)$`)
	scoreMarker   = regexp.MustCompile(`^(?:\+[0-9]+(?:\.[0-9]+)?%?|[0-9]*\.[0-9]+%?|[0-9]+%)$`)
	digitRun      = regexp.MustCompile(`[0-9]+`)

	voteGlyphs = map[string]bool{
		"x": true, "✓": true, "✔": true, "✗": true, "✘": true,
		"☑": true, "☒": true, "√": true,
	}
)

// CategoryResolver decides how numeric and ambiguous markers are read.
// Quests that tally by score configure a resolver that forces numbers to
// scores; ambiguous markers mix letters and digits, such as "x1".
type CategoryResolver interface {
	ResolveMarker(marker string, ambiguous bool) MarkerType
}

// ForcedCategory is the standard resolver. With Force unset, bare numbers
// are ranks and ambiguous markers are plain votes.
type ForcedCategory struct {
	Force MarkerType
}

// ResolveMarker implements CategoryResolver
func (f ForcedCategory) ResolveMarker(_ string, ambiguous bool) MarkerType {
	switch f.Force {
	case MarkerRank, MarkerScore:
		return f.Force
	}
	if ambiguous {
		return MarkerVote
	}
	return MarkerRank
}

// Parser turns raw post lines into vote lines
type Parser struct {
	resolver CategoryResolver
}

// NewParser creates a parser. A nil resolver means ForcedCategory{}.
func NewParser(resolver CategoryResolver) *Parser {
	if resolver == nil {
		resolver = ForcedCategory{}
	}
	return &Parser{resolver: resolver}
}

// ParsePost parses every line of a post, keeping only recognized vote lines
func (p *Parser) ParsePost(body string, postNumber int) []VoteLine {
	var lines []VoteLine
	for _, raw := range strings.Split(body, "\n") {
		if line, ok := p.ParseLine(raw); ok {
			lines = append(lines, line.WithPostNumber(postNumber))
		}
	}
	return lines
}

// ParseLine parses a single line. It returns false for anything that is not
// a vote line; that is a filtering outcome, not an error.
func (p *Parser) ParseLine(raw string) (VoteLine, bool) {
	s := trimLine(SafeString(raw))

	depth := 0
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r == '-' || r == '–' || r == '—' {
			depth++
		} else if r != ' ' {
			break
		}
		s = s[size:]
	}

	s = stripLeadingMarkup(s)
	if !strings.HasPrefix(s, "[") {
		return VoteLine{}, false
	}
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return VoteLine{}, false
	}
	marker := strings.TrimSpace(s[1:end])
	if strings.Contains(marker, "[") {
		return VoteLine{}, false
	}
	rest := s[end+1:]

	task := ""
	if strings.HasPrefix(rest, "[") {
		closing := strings.IndexByte(rest, ']')
		if closing < 0 {
			return VoteLine{}, false
		}
		body := rest[1:closing]
		if !strings.Contains(body, "[") && !text.IsMarkupTag(body) {
			task = strings.TrimSpace(body)
			rest = rest[closing+1:]
		}
	}

	content := trimLine(rest)
	if content == "" {
		return VoteLine{}, false
	}

	markerType, value, ok := p.classify(marker)
	if !ok {
		return VoteLine{}, false
	}
	if markerType == MarkerVote {
		if _, isPlan := extractPlanName(content); isPlan {
			markerType = MarkerPlan
		}
	}

	return VoteLine{
		Depth:       depth,
		Marker:      markerType,
		MarkerValue: value,
		Task:        task,
		Content:     content,
	}, true
}

func (p *Parser) classify(marker string) (MarkerType, string, bool) {
	if marker == "" {
		return MarkerNone, "", false
	}
	lower := strings.ToLower(marker)

	switch {
	case voteGlyphs[lower]:
		return MarkerVote, marker, true
	case marker == "+" || marker == "-":
		return MarkerApproval, marker, true
	case numericMarker.MatchString(marker):
		n := numericMarker.FindStringSubmatch(marker)[1]
		if strings.TrimLeft(n, "0") == "" {
			return MarkerNone, "", false
		}
		return p.resolver.ResolveMarker(marker, false), n, true
	case scoreMarker.MatchString(marker):
		return MarkerScore, marker, true
	}

	if hasLetter(marker) && hasDigit(marker) {
		switch t := p.resolver.ResolveMarker(marker, true); t {
		case MarkerRank, MarkerScore:
			return t, digitRun.FindString(marker), true
		default:
			return MarkerVote, marker, true
		}
	}

	return MarkerNone, "", false
}

// trimLine trims ASCII whitespace only. Other Unicode spaces such as U+00A0
// are content and are left to the comparer.
func trimLine(s string) string {
	return strings.Trim(s, lineSpace)
}

// SafeString strips control characters other than CR and LF
func SafeString(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\r' || r == '\n' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

func stripLeadingMarkup(s string) string {
	for strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 || !text.IsMarkupTag(s[1:end]) {
			return s
		}
		s = trimLine(s[end+1:])
	}
	return s
}

func hasLetter(s string) bool {
	return strings.IndexFunc(s, unicode.IsLetter) >= 0
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
