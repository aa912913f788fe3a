package tally

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"

	"quest_tally/pkg/text"
	"quest_tally/pkg/votes"
)

// VoterSupport is one voter's backing of a canonical entry, together with
// the voter's own version of the block
type VoterSupport struct {
	Origin votes.Origin
	Block  votes.VoteLineBlock
}

// EntryView is a read-only copy of a canonical entry
type EntryView struct {
	Key    string
	Block  votes.VoteLineBlock
	Voters []VoterSupport
}

// VoterNames returns the supporting voter names in display order
func (e EntryView) VoterNames() []string {
	return lo.Map(e.Voters, func(v VoterSupport, _ int) string { return v.Origin.Name })
}

// StorageSnapshot is a deep copy of storage for concurrent readers
type StorageSnapshot struct {
	Categories map[votes.Category][]EntryView
}

// Entries returns the snapshot's entries for a category
func (s StorageSnapshot) Entries(cat votes.Category) []EntryView {
	return s.Categories[cat]
}

// Len returns the number of canonical entries across categories
func (s StorageSnapshot) Len() int {
	n := 0
	for _, entries := range s.Categories {
		n += len(entries)
	}
	return n
}

type entry struct {
	key    string
	block  votes.VoteLineBlock
	voters map[string]VoterSupport
}

// VoteStorage maps canonical vote blocks to the voters supporting them.
// One tally run writes it; readers may call any read method concurrently.
type VoteStorage struct {
	mu       sync.RWMutex
	comparer *text.Comparer
	records  *VotingRecords
	entries  map[votes.Category][]*entry
	index    map[string]*entry
	undo     []UndoAction
}

// NewVoteStorage creates empty storage matching blocks with c
func NewVoteStorage(c *text.Comparer, records *VotingRecords) *VoteStorage {
	return &VoteStorage{
		comparer: c,
		records:  records,
		entries:  make(map[votes.Category][]*entry),
		index:    make(map[string]*entry),
	}
}

// Rebind resets storage and switches it to a new run's comparer and records
func (s *VoteStorage) Rebind(c *text.Comparer, records *VotingRecords) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comparer = c
	s.records = records
	s.clear()
}

// Reset drops every canonical entry and the undo stack
func (s *VoteStorage) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
}

func (s *VoteStorage) clear() {
	s.entries = make(map[votes.Category][]*entry)
	s.index = make(map[string]*entry)
	s.undo = nil
}

// Add records origin's support for block. Any support the same voter gave
// from an older post in the block's category is dropped first. Support
// from a post older than one already counted is ignored and Add returns
// false.
func (s *VoteStorage) Add(block votes.VoteLineBlock, origin votes.Origin) bool {
	if block.IsZero() {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cat := block.Category()
	id := origin.Identity()

	for _, e := range s.entries[cat] {
		if sup, ok := e.voters[id]; ok && sup.Origin.PostID != origin.PostID && sup.Origin.PostNumber > origin.PostNumber {
			return false
		}
	}
	for _, e := range append([]*entry(nil), s.entries[cat]...) {
		if sup, ok := e.voters[id]; ok && sup.Origin.PostID != origin.PostID {
			delete(e.voters, id)
			if len(e.voters) == 0 {
				s.remove(e)
			}
		}
	}

	key := block.Key(s.comparer)
	e, ok := s.index[key]
	if !ok {
		e = &entry{key: key, block: block, voters: make(map[string]VoterSupport)}
		s.index[key] = e
		s.entries[cat] = append(s.entries[cat], e)
	}
	e.voters[id] = VoterSupport{Origin: origin, Block: block}
	return true
}

// Merge moves every voter of other onto keep, whose canonical text is
// retained, and removes other
func (s *VoteStorage) Merge(keep, other votes.VoteLineBlock) (UndoAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ke, err := s.lookup(keep)
	if err != nil {
		return UndoAction{}, err
	}
	oe, err := s.lookup(other)
	if err != nil {
		return UndoAction{}, err
	}
	if ke == oe {
		return UndoAction{}, ErrSameBlock
	}
	if ke.block.Category() != oe.block.Category() {
		return UndoAction{}, ErrCategoryMismatch
	}

	action := NewMergeAction(s.capture(ke), s.capture(oe), s.records.Snapshot())

	for id, sup := range oe.voters {
		if _, ok := ke.voters[id]; !ok {
			ke.voters[id] = sup
		}
	}
	s.remove(oe)

	s.undo = append(s.undo, action)
	return action, nil
}

// Join moves each named voter's support in into's category onto into.
// A voter supports at most one block in the category afterwards.
func (s *VoteStorage) Join(voters []string, into votes.VoteLineBlock) (UndoAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ie, err := s.lookup(into)
	if err != nil {
		return UndoAction{}, err
	}
	cat := ie.block.Category()

	ids := lo.Uniq(lo.Map(voters, func(v string, _ int) string { return s.voterIdentity(v) }))

	var sources []*entry
	for _, e := range s.entries[cat] {
		if e == ie {
			continue
		}
		if lo.SomeBy(ids, func(id string) bool { _, ok := e.voters[id]; return ok }) {
			sources = append(sources, e)
		}
	}
	if len(sources) == 0 {
		return UndoAction{}, fmt.Errorf("%w: none of the voters support another block", ErrBlockNotFound)
	}

	snaps := lo.Map(sources, func(e *entry, _ int) EntrySnapshot { return s.capture(e) })
	action := NewJoinAction(voters, s.capture(ie), snaps, s.records.Snapshot())

	for _, e := range sources {
		for _, id := range ids {
			sup, ok := e.voters[id]
			if !ok {
				continue
			}
			delete(e.voters, id)
			if _, has := ie.voters[id]; !has {
				ie.voters[id] = VoterSupport{Origin: sup.Origin, Block: supportFor(ie.block, sup.Block)}
			}
		}
	}
	for _, e := range sources {
		if len(e.voters) == 0 {
			s.remove(e)
		}
	}

	s.undo = append(s.undo, action)
	return action, nil
}

// Delete removes one or more canonical entries with all their support
func (s *VoteStorage) Delete(blocks ...votes.VoteLineBlock) (UndoAction, error) {
	if len(blocks) == 0 {
		return UndoAction{}, fmt.Errorf("%w: no blocks given", ErrBlockNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var targets []*entry
	for _, b := range blocks {
		e, err := s.lookup(b)
		if err != nil {
			return UndoAction{}, err
		}
		if !lo.Contains(targets, e) {
			targets = append(targets, e)
		}
	}

	snaps := lo.Map(targets, func(e *entry, _ int) EntrySnapshot { return s.capture(e) })
	action := NewDeleteAction(snaps, s.records.Snapshot())
	for _, e := range targets {
		s.remove(e)
	}

	s.undo = append(s.undo, action)
	return action, nil
}

// Undo reverses the most recent mutation. An empty stack reports
// ErrNothingToUndo and changes nothing.
func (s *VoteStorage) Undo() (UndoAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.undo) == 0 {
		return UndoAction{}, ErrNothingToUndo
	}
	action := s.undo[len(s.undo)-1]
	s.undo = s.undo[:len(s.undo)-1]

	s.restore(action.snapshots())
	s.records.Restore(action.PostIDs)
	return action, nil
}

// CanUndo reports whether Undo has anything to reverse
func (s *VoteStorage) CanUndo() bool {
	return s.UndoCount() > 0
}

// UndoCount returns the depth of the undo stack
func (s *VoteStorage) UndoCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.undo)
}

// Blocks returns the canonical blocks of a category in display order
func (s *VoteStorage) Blocks(cat votes.Category) []votes.VoteLineBlock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.entries[cat], func(e *entry, _ int) votes.VoteLineBlock { return e.block })
}

// Voters returns the origins supporting block, ordered by post
func (s *VoteStorage) Voters(block votes.VoteLineBlock) ([]votes.Origin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, err := s.lookup(block)
	if err != nil {
		return nil, err
	}
	return lo.Map(view(e).Voters, func(v VoterSupport, _ int) votes.Origin { return v.Origin }), nil
}

// Entries returns copies of a category's entries in display order
func (s *VoteStorage) Entries(cat votes.Category) []EntryView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Map(s.entries[cat], func(e *entry, _ int) EntryView { return view(e) })
}

// Len returns the number of canonical entries across categories
func (s *VoteStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// Snapshot returns a deep copy of every category
func (s *VoteStorage) Snapshot() StorageSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := StorageSnapshot{Categories: make(map[votes.Category][]EntryView)}
	for cat, entries := range s.entries {
		if len(entries) == 0 {
			continue
		}
		snap.Categories[cat] = lo.Map(entries, func(e *entry, _ int) EntryView { return view(e) })
	}
	return snap
}

// voterIdentity matches name against the recorded voters with the run's
// comparer, falling back to the literal name for unrecorded voters
func (s *VoteStorage) voterIdentity(name string) string {
	if s.records != nil {
		if o, ok := s.records.Latest(name); ok {
			return o.Identity()
		}
	}
	return votes.NewVoterOrigin(name, "", 0, "").Identity()
}

func (s *VoteStorage) lookup(block votes.VoteLineBlock) (*entry, error) {
	if block.IsZero() {
		return nil, fmt.Errorf("%w: empty block", ErrBlockNotFound)
	}
	e, ok := s.index[block.Key(s.comparer)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrBlockNotFound, block.Content())
	}
	return e, nil
}

func (s *VoteStorage) position(e *entry) int {
	return lo.IndexOf(s.entries[e.block.Category()], e)
}

func (s *VoteStorage) capture(e *entry) EntrySnapshot {
	return EntrySnapshot{
		Key:      e.key,
		Category: e.block.Category(),
		Block:    e.block,
		Voters:   copyVoters(e.voters),
		Position: s.position(e),
	}
}

func (s *VoteStorage) remove(e *entry) {
	cat := e.block.Category()
	if i := s.position(e); i >= 0 {
		s.entries[cat] = append(s.entries[cat][:i], s.entries[cat][i+1:]...)
	}
	delete(s.index, e.key)
}

// restore puts entries back as captured. Missing entries are reinserted in
// ascending original position so display order matches the capture.
func (s *VoteStorage) restore(snaps []EntrySnapshot) {
	ordered := append([]EntrySnapshot(nil), snaps...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Category != ordered[j].Category {
			return ordered[i].Category < ordered[j].Category
		}
		return ordered[i].Position < ordered[j].Position
	})

	for _, snap := range ordered {
		if e, ok := s.index[snap.Key]; ok {
			e.block = snap.Block
			e.voters = copyVoters(snap.Voters)
			continue
		}
		e := &entry{key: snap.Key, block: snap.Block, voters: copyVoters(snap.Voters)}
		list := s.entries[snap.Category]
		pos := min(max(snap.Position, 0), len(list))
		list = append(list, nil)
		copy(list[pos+1:], list[pos:])
		list[pos] = e
		s.entries[snap.Category] = list
		s.index[snap.Key] = e
	}
}

func view(e *entry) EntryView {
	voters := lo.Values(e.voters)
	sort.Slice(voters, func(i, j int) bool {
		a, b := voters[i].Origin, voters[j].Origin
		if a.Less(b) != b.Less(a) {
			return a.Less(b)
		}
		return a.Identity() < b.Identity()
	})
	return EntryView{Key: e.key, Block: e.block, Voters: voters}
}

func copyVoters(in map[string]VoterSupport) map[string]VoterSupport {
	out := make(map[string]VoterSupport, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// supportFor is the block a joined voter supports: the canonical block,
// keeping the voter's own rank or score for ranked categories
func supportFor(canonical, own votes.VoteLineBlock) votes.VoteLineBlock {
	if !canonical.Category().IsRanked() {
		return canonical
	}
	line := canonical.First()
	line.MarkerValue = own.First().MarkerValue
	return votes.MustBlock(line)
}
