package votes

import (
	"errors"
	"strconv"
	"strings"

	"quest_tally/pkg/text"
)

// ErrEmptyBlock is returned when a block is built from no lines
var ErrEmptyBlock = errors.New("vote block must contain at least one line")

// PlanKind records where a block of a working vote came from
type PlanKind int

const (
	// PlanNone marks lines written directly in the post
	PlanNone PlanKind = iota
	// PlanContent marks a plan header followed by its nested content
	PlanContent
	// PlanLabel marks lines registered under a label-only plan
	PlanLabel
)

// VoteLineBlock is an ordered, non-empty run of vote lines forming one
// semantic vote. The first line determines category and task.
type VoteLineBlock struct {
	lines []VoteLine
	kind  PlanKind
}

// NewBlock creates a block from lines
func NewBlock(lines ...VoteLine) (VoteLineBlock, error) {
	if len(lines) == 0 {
		return VoteLineBlock{}, ErrEmptyBlock
	}
	cp := make([]VoteLine, len(lines))
	copy(cp, lines)
	return VoteLineBlock{lines: cp}, nil
}

// MustBlock is NewBlock for callers that guarantee at least one line
func MustBlock(lines ...VoteLine) VoteLineBlock {
	b, err := NewBlock(lines...)
	if err != nil {
		panic(err)
	}
	return b
}

// WithKind returns a copy of the block tagged with its plan origin
func (b VoteLineBlock) WithKind(kind PlanKind) VoteLineBlock {
	b.kind = kind
	return b
}

// Kind returns where the block came from
func (b VoteLineBlock) Kind() PlanKind {
	return b.kind
}

// IsZero reports whether the block was never built
func (b VoteLineBlock) IsZero() bool {
	return len(b.lines) == 0
}

// Lines returns a copy of the block's lines
func (b VoteLineBlock) Lines() []VoteLine {
	cp := make([]VoteLine, len(b.lines))
	copy(cp, b.lines)
	return cp
}

// Len returns the number of lines
func (b VoteLineBlock) Len() int {
	return len(b.lines)
}

// First returns the line that determines category and task
func (b VoteLineBlock) First() VoteLine {
	return b.lines[0]
}

// Category returns the block's tally category
func (b VoteLineBlock) Category() Category {
	return b.lines[0].Category()
}

// Task returns the block's task label
func (b VoteLineBlock) Task() string {
	return b.lines[0].Task
}

// Content returns the first line's content, used as the candidate label
// for ranked categories
func (b VoteLineBlock) Content() string {
	return b.lines[0].Content
}

// WithTask returns a copy whose first line carries task
func (b VoteLineBlock) WithTask(task string) VoteLineBlock {
	lines := b.Lines()
	lines[0] = lines[0].WithTask(task)
	return VoteLineBlock{lines: lines, kind: b.kind}
}

// WithDefaultTask returns a copy where top-level lines without a task
// carry task
func (b VoteLineBlock) WithDefaultTask(task string) VoteLineBlock {
	if task == "" {
		return b
	}
	lines := b.Lines()
	for i, l := range lines {
		if l.Depth == 0 && l.Task == "" {
			lines[i] = l.WithTask(task)
		}
	}
	return VoteLineBlock{lines: lines, kind: b.kind}
}

// Key is the structural equality key: every line's depth and single-line
// key in order. Ranked blocks ignore the marker value so that voters who
// rank the same option differently land on the same canonical entry.
func (b VoteLineBlock) Key(c *text.Comparer) string {
	var sb strings.Builder
	sb.WriteString(string(b.Category()))
	for _, l := range b.lines {
		sb.WriteString("\n")
		sb.WriteString(strconv.Itoa(l.Depth))
		sb.WriteString(":")
		sb.WriteString(l.Key(c))
	}
	return sb.String()
}

// Equal reports structural equality under the comparer
func (b VoteLineBlock) Equal(other VoteLineBlock, c *text.Comparer) bool {
	return b.Key(c) == other.Key(c)
}

// String renders the block as post text
func (b VoteLineBlock) String() string {
	parts := make([]string, len(b.lines))
	for i, l := range b.lines {
		parts[i] = l.String()
	}
	return strings.Join(parts, "\n")
}

// OriginRole distinguishes voters from plans
type OriginRole int

const (
	RoleVoter OriginRole = iota
	RolePlan
)

func (r OriginRole) String() string {
	if r == RolePlan {
		return "plan"
	}
	return "voter"
}

// Origin identifies the source of a contribution
type Origin struct {
	Name       string
	Role       OriginRole
	PostID     string
	PostNumber int
	ThreadURI  string
}

// NewVoterOrigin creates an origin for a forum user
func NewVoterOrigin(author, postID string, postNumber int, threadURI string) Origin {
	return Origin{
		Name:       strings.TrimSpace(author),
		Role:       RoleVoter,
		PostID:     postID,
		PostNumber: postNumber,
		ThreadURI:  threadURI,
	}
}

// NewPlanOrigin creates an origin for a named plan defined in a post
func NewPlanOrigin(name, postID string, postNumber int, threadURI string) Origin {
	return Origin{
		Name:       strings.TrimSpace(name),
		Role:       RolePlan,
		PostID:     postID,
		PostNumber: postNumber,
		ThreadURI:  threadURI,
	}
}

// IsPlan reports whether the origin is a plan
func (o Origin) IsPlan() bool {
	return o.Role == RolePlan
}

// Identity is the key used to match the same voter across posts
func (o Origin) Identity() string {
	return o.Role.String() + ":" + o.Name
}

// Less orders origins by post number, then name
func (o Origin) Less(other Origin) bool {
	if o.PostNumber != other.PostNumber {
		return o.PostNumber < other.PostNumber
	}
	return o.Name < other.Name
}
