package tally

import (
	"regexp"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"quest_tally/pkg/text"
	"quest_tally/pkg/votes"
)

var voterPrefix = regexp.MustCompile(`(?i)^(?:voter|user|proxy)\s*:?\s+(.+?)\s*$`)

// Pipeline runs the preprocessing phases over one batch of posts. Each
// phase covers every post before the next one starts.
type Pipeline struct {
	rc      *RunContext
	logger  *zap.Logger
	posts   []*votes.Post
	byID    map[string]*votes.Post
	pending []*votes.Post
}

// reference is a proxy line's target: a plan or another voter's post
type reference struct {
	label string
	plan  *Plan
	voter *votes.Post
}

// target is the post the reference waits on, or nil for content plans
func (r reference) target() *votes.Post {
	if r.plan != nil {
		return r.plan.Definer
	}
	return r.voter
}

// NewPipeline creates a pipeline bound to a run context
func NewPipeline(rc *RunContext, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		rc:     rc,
		logger: logger.With(zap.String("quest", rc.Quest), zap.String("runID", rc.ID.String())),
		byID:   make(map[string]*votes.Post),
	}
}

// Parse turns raw posts into vote posts and records each voter's latest
// post. Posts without vote lines are dropped.
func (p *Pipeline) Parse(raw []votes.RawPost) int {
	p.rc.Records.Reset()
	p.rc.Plans.Reset()
	p.posts = p.posts[:0]
	p.byID = make(map[string]*votes.Post, len(raw))
	p.pending = nil

	for _, r := range raw {
		post := votes.NewPost(r, p.rc.Parser)
		if !post.IsVote() {
			continue
		}
		p.posts = append(p.posts, post)
		p.byID[post.Origin.PostID] = post
		p.rc.Records.Record(post.Origin)
	}
	return len(p.posts)
}

// Posts returns every vote post in thread order
func (p *Pipeline) Posts() []*votes.Post {
	return p.posts
}

// Tallied returns each voter's latest post in thread order
func (p *Pipeline) Tallied() []*votes.Post {
	var out []*votes.Post
	for _, post := range p.posts {
		if p.rc.Records.IsLatest(post.Origin) {
			out = append(out, post)
		}
	}
	return out
}

// ExtractContentPlans registers every plan line followed by nested lines
// as a named plan holding the header and its children
func (p *Pipeline) ExtractContentPlans() int {
	registered := 0
	for _, post := range p.posts {
		lines := post.Lines
		for i := 0; i < len(lines); i++ {
			name, ok := lines[i].PlanName()
			if !ok {
				continue
			}
			end := i + 1
			for end < len(lines) && lines[end].Depth > lines[i].Depth {
				end++
			}
			if end == i+1 {
				continue
			}

			base := lines[i].Depth
			body := make([]votes.VoteLine, 0, end-i)
			for _, l := range lines[i:end] {
				body = append(body, l.WithDepth(l.Depth-base))
			}

			plan := &Plan{
				Name:   name,
				Kind:   votes.PlanContent,
				Origin: votes.NewPlanOrigin(name, post.Origin.PostID, post.Origin.PostNumber, post.Origin.ThreadURI),
				Block:  votes.MustBlock(body...).WithKind(votes.PlanContent),
			}
			if p.rc.Plans.Register(plan) {
				registered++
				p.logger.Debug("Registered content plan",
					zap.String("plan", name),
					zap.Int("postNumber", post.Origin.PostNumber))
			}
			i = end - 1
		}
	}
	return registered
}

// ExtractLabelPlans registers posts that open with a bare plan label. With
// multiLine set it takes posts whose remaining vote spans several lines,
// otherwise posts with exactly one remaining line.
func (p *Pipeline) ExtractLabelPlans(multiLine bool) int {
	registered := 0
	for _, post := range p.posts {
		lines := post.Lines
		if len(lines) < 2 || post.LabelPlan != "" {
			continue
		}
		name, ok := lines[0].PlanName()
		if !ok || lines[0].Depth != 0 || lines[1].Depth > 0 {
			continue
		}
		if multiLine != (len(lines)-1 > 1) {
			continue
		}
		if _, exists := p.rc.Plans.Lookup(name); exists {
			continue
		}

		p.rc.Plans.Register(&Plan{
			Name:    name,
			Kind:    votes.PlanLabel,
			Origin:  votes.NewPlanOrigin(name, post.Origin.PostID, post.Origin.PostNumber, post.Origin.ThreadURI),
			Definer: post,
		})
		post.LabelPlan = name
		registered++
		p.logger.Debug("Registered label plan",
			zap.String("plan", name),
			zap.Int("postNumber", post.Origin.PostNumber),
			zap.Bool("multiLine", multiLine))
	}
	return registered
}

// AssignWorkingVotes makes one pass over every post, finalizing those
// whose references are already resolvable. The rest stay pending.
func (p *Pipeline) AssignWorkingVotes() int {
	p.pending = nil
	done := 0
	for _, post := range p.posts {
		if p.tryResolve(post, nil) {
			done++
			continue
		}
		p.pending = append(p.pending, post)
	}
	return done
}

// Pending returns the posts still waiting on references
func (p *Pipeline) Pending() []*votes.Post {
	return p.pending
}

// Resolve repeats passes over the pending posts until none remain. A pass
// that finalizes nothing triggers the forced pass: every remaining post is
// finalized, and references into the remaining set fall back to literal
// text. Each unforced pass finalizes at least one post, so the loop runs at
// most len(pending)+1 passes.
func (p *Pipeline) Resolve() (passes, forced int) {
	maxPasses := len(p.pending) + 1
	for ; len(p.pending) > 0; passes++ {
		var still []*votes.Post
		for _, post := range p.pending {
			if !p.tryResolve(post, nil) {
				still = append(still, post)
			}
		}

		if len(still) > 0 && (len(still) == len(p.pending) || passes+1 >= maxPasses) {
			frozen := mapset.NewThreadUnsafeSet(still...)
			for _, post := range still {
				post.ForceProcess = true
				p.tryResolve(post, frozen)
				p.logger.Warn("Force-processed post with unresolved references",
					zap.String("author", post.Origin.Name),
					zap.Int("postNumber", post.Origin.PostNumber),
					zap.Strings("degraded", post.Degraded))
			}
			forced += len(still)
			still = nil
		}
		p.pending = still
	}
	return passes, forced
}

// tryResolve computes a post's working vote. Without a frozen set it fails
// while any reference target is unfinished. With one, references into the
// frozen set stay as literal lines.
func (p *Pipeline) tryResolve(post *votes.Post, frozen mapset.Set[*votes.Post]) bool {
	lines := post.Lines
	kind := votes.PlanNone
	if post.LabelPlan != "" {
		lines = lines[1:]
		kind = votes.PlanLabel
	}

	var blocks []votes.VoteLineBlock
	var literal []votes.VoteLine
	var pending, degraded []string

	flush := func() {
		if len(literal) > 0 {
			blocks = append(blocks, votes.MustBlock(literal...).WithKind(kind))
			literal = nil
		}
	}

	for i, line := range lines {
		ref, ok := p.reference(post, lines, i)
		if !ok {
			literal = append(literal, line)
			continue
		}

		target := ref.target()
		ready := target == nil || target.Processed
		if frozen != nil && target != nil && frozen.Contains(target) {
			ready = false
		}
		if !ready {
			if frozen == nil {
				pending = append(pending, ref.label)
				continue
			}
			degraded = append(degraded, ref.label)
			literal = append(literal, line)
			continue
		}

		flush()
		for _, b := range p.substitute(ref) {
			b = b.WithDefaultTask(line.Task)
			if kind == votes.PlanLabel {
				b = b.WithKind(votes.PlanLabel)
			}
			blocks = append(blocks, b)
		}
	}

	if len(pending) > 0 {
		post.Pending = pending
		return false
	}
	flush()

	post.WorkingVote = blocks
	post.Pending = nil
	post.Degraded = degraded
	post.Processed = true
	return true
}

func (p *Pipeline) substitute(ref reference) []votes.VoteLineBlock {
	switch {
	case ref.plan != nil && ref.plan.Kind == votes.PlanContent:
		return []votes.VoteLineBlock{ref.plan.Block}
	case ref.plan != nil:
		return ref.plan.Definer.WorkingVote
	default:
		return ref.voter.WorkingVote
	}
}

// reference reports whether lines[i] is a pure proxy reference: a plain
// top-level vote line with no children naming a plan or a known voter
func (p *Pipeline) reference(post *votes.Post, lines []votes.VoteLine, i int) (reference, bool) {
	line := lines[i]
	if line.Depth != 0 || line.Category() != votes.CategoryVote {
		return reference{}, false
	}
	if i+1 < len(lines) && lines[i+1].Depth > 0 {
		return reference{}, false
	}

	if name, ok := line.PlanName(); ok {
		if plan, found := p.rc.Plans.Lookup(name); found {
			if plan.Definer == post {
				return reference{}, false
			}
			return reference{label: "Plan " + plan.Name, plan: plan}, true
		}
		return p.voterReference(post, name)
	}

	content := strings.TrimSpace(text.StripMarkup(line.Content))
	if m := voterPrefix.FindStringSubmatch(content); m != nil {
		if ref, ok := p.voterReference(post, m[1]); ok {
			return ref, true
		}
	}
	return p.voterReference(post, content)
}

func (p *Pipeline) voterReference(post *votes.Post, name string) (reference, bool) {
	latest, ok := p.rc.Records.Latest(name)
	if !ok || p.rc.Comparer.Equal(latest.Name, post.Origin.Name) {
		return reference{}, false
	}
	target, ok := p.byID[latest.PostID]
	if !ok || target == post {
		return reference{}, false
	}
	return reference{label: "Voter " + latest.Name, voter: target}, true
}
