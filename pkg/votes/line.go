package votes

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"quest_tally/pkg/text"
)

// MarkerType identifies what a vote line's marker bracket means
type MarkerType int

const (
	MarkerNone MarkerType = iota
	MarkerPlan
	MarkerVote
	MarkerRank
	MarkerScore
	MarkerApproval
)

// Category groups vote lines that are tallied together
type Category string

const (
	CategoryVote     Category = "vote"
	CategoryRank     Category = "rank"
	CategoryScore    Category = "score"
	CategoryApproval Category = "approval"
)

// Categories lists every category in display order
var Categories = []Category{CategoryVote, CategoryRank, CategoryScore, CategoryApproval}

var planContent = regexp.MustCompile(`(?i)^(?:base\s*)?plan\b\s*:?\s*(.*?)\s*:?\s*$`)

func (m MarkerType) String() string {
	switch m {
	case MarkerPlan:
		return "plan"
	case MarkerVote:
		return "vote"
	case MarkerRank:
		return "rank"
	case MarkerScore:
		return "score"
	case MarkerApproval:
		return "approval"
	default:
		return "none"
	}
}

// Category returns the tally category for the marker. Plan lines are
// counted as ordinary votes.
func (m MarkerType) Category() Category {
	switch m {
	case MarkerRank:
		return CategoryRank
	case MarkerScore:
		return CategoryScore
	case MarkerApproval:
		return CategoryApproval
	default:
		return CategoryVote
	}
}

// IsRanked reports whether lines of this category are always counted one
// line at a time
func (c Category) IsRanked() bool {
	return c == CategoryRank || c == CategoryScore || c == CategoryApproval
}

// VoteLine is one parsed statement from a post. It is an immutable value;
// the With methods return modified copies.
type VoteLine struct {
	Depth       int
	Marker      MarkerType
	MarkerValue string
	Task        string
	Content     string
	PostNumber  int
}

// NewVoteLine builds a line directly, bypassing the parser
func NewVoteLine(depth int, marker MarkerType, markerValue, task, content string) VoteLine {
	return VoteLine{
		Depth:       depth,
		Marker:      marker,
		MarkerValue: markerValue,
		Task:        strings.TrimSpace(task),
		Content:     trimLine(content),
	}
}

// WithTask returns a copy of the line carrying task
func (l VoteLine) WithTask(task string) VoteLine {
	l.Task = strings.TrimSpace(task)
	return l
}

// WithDepth returns a copy of the line at the given nesting depth
func (l VoteLine) WithDepth(depth int) VoteLine {
	if depth < 0 {
		depth = 0
	}
	l.Depth = depth
	return l
}

// WithPostNumber returns a copy of the line stamped with its originating post
func (l VoteLine) WithPostNumber(n int) VoteLine {
	l.PostNumber = n
	return l
}

// Category returns the tally category of the line
func (l VoteLine) Category() Category {
	return l.Marker.Category()
}

// PlanName returns the plan name for Plan lines
func (l VoteLine) PlanName() (string, bool) {
	if l.Marker != MarkerPlan {
		return "", false
	}
	return extractPlanName(l.Content)
}

// Rank returns the numeric rank for Rank lines
func (l VoteLine) Rank() (int, bool) {
	if l.Marker != MarkerRank {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(l.MarkerValue, "#"))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Score returns the numeric score for Score lines. Percentages are returned
// as their numeric value.
func (l VoteLine) Score() (float64, bool) {
	if l.Marker != MarkerScore {
		return 0, false
	}
	v := strings.TrimSuffix(strings.TrimPrefix(l.MarkerValue, "+"), "%")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Approves reports the approval direction for Approval lines
func (l VoteLine) Approves() (approve bool, ok bool) {
	if l.Marker != MarkerApproval {
		return false, false
	}
	return l.MarkerValue == "+", true
}

// Key is the single-line equality key: agnostic content combined with the
// exact task and marker type. Depth does not participate.
func (l VoteLine) Key(c *text.Comparer) string {
	return fmt.Sprintf("%d|%s|%s", l.Marker, l.Task, c.Key(l.Content))
}

// Equal reports single-line equality under the comparer
func (l VoteLine) Equal(other VoteLine, c *text.Comparer) bool {
	return l.Key(c) == other.Key(c)
}

// String renders the line the way it would appear in a post
func (l VoteLine) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("-", l.Depth))
	b.WriteString("[")
	b.WriteString(l.MarkerValue)
	b.WriteString("]")
	if l.Task != "" {
		b.WriteString("[")
		b.WriteString(l.Task)
		b.WriteString("]")
	}
	b.WriteString(" ")
	b.WriteString(l.Content)
	return b.String()
}

func extractPlanName(content string) (string, bool) {
	m := planContent.FindStringSubmatch(text.StripMarkup(content))
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}
