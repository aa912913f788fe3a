package votes

import (
	"strings"
)

// RawPost is a post as delivered by a forum adapter: already extracted
// plain text plus identifying metadata
type RawPost struct {
	Author     string `json:"author"`
	PostID     string `json:"post_id"`
	PostNumber int    `json:"post_number"`
	ThreadURI  string `json:"thread_uri"`
	Text       string `json:"text"`
}

// Post is a forum post being processed by a tally run
type Post struct {
	Origin Origin
	Text   string

	// Lines holds every recognized vote line in post order
	Lines []VoteLine

	// WorkingVote is the post's final vote once references are resolved
	WorkingVote []VoteLineBlock

	// ForceProcess is set when the post was finalized after reference
	// resolution stopped making progress
	ForceProcess bool

	// Pending lists references not yet resolvable
	Pending []string

	// Degraded lists references that fell back to literal text
	Degraded []string

	// Processed is set once WorkingVote is final
	Processed bool

	// LabelPlan names the label-only plan this post defines, if any
	LabelPlan string
}

// NewPost parses raw into a post
func NewPost(raw RawPost, parser *Parser) *Post {
	return &Post{
		Origin: NewVoterOrigin(raw.Author, raw.PostID, raw.PostNumber, raw.ThreadURI),
		Text:   raw.Text,
		Lines:  parser.ParsePost(raw.Text, raw.PostNumber),
	}
}

// IsVote reports whether the post contains any vote lines
func (p *Post) IsVote() bool {
	return len(p.Lines) > 0
}

// Reset clears everything derived during a previous tally run
func (p *Post) Reset() {
	p.WorkingVote = nil
	p.ForceProcess = false
	p.Pending = nil
	p.Degraded = nil
	p.Processed = false
	p.LabelPlan = ""
}

// WorkingLines flattens the working vote into its lines
func (p *Post) WorkingLines() []VoteLine {
	var lines []VoteLine
	for _, b := range p.WorkingVote {
		lines = append(lines, b.Lines()...)
	}
	return lines
}

// Flagged reports whether the caller should surface the post's status
func (p *Post) Flagged() bool {
	return p.ForceProcess || len(p.Degraded) > 0
}

// Status summarizes the post's processing state for display
func (p *Post) Status() string {
	switch {
	case !p.Processed:
		return "pending: " + strings.Join(p.Pending, ", ")
	case len(p.Degraded) > 0:
		return "unresolved: " + strings.Join(p.Degraded, ", ")
	case p.ForceProcess:
		return "forced"
	default:
		return "ok"
	}
}
