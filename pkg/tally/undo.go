package tally

import (
	"fmt"
	"strings"

	"quest_tally/pkg/votes"
)

// UndoKind tags an UndoAction
type UndoKind int

const (
	UndoMerge UndoKind = iota + 1
	UndoJoin
	UndoDelete
)

func (k UndoKind) String() string {
	switch k {
	case UndoMerge:
		return "merge"
	case UndoJoin:
		return "join"
	case UndoDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// EntrySnapshot captures a canonical entry and its position in display
// order at the moment before a mutation
type EntrySnapshot struct {
	Key      string
	Category votes.Category
	Block    votes.VoteLineBlock
	Voters   map[string]VoterSupport
	Position int
}

// UndoAction holds the prior state needed to reverse one storage mutation.
// Only the fields for its Kind are set.
type UndoAction struct {
	Kind UndoKind

	// Merge
	Kept   *EntrySnapshot
	Merged *EntrySnapshot

	// Join
	Voters  []string
	Into    *EntrySnapshot
	Sources []EntrySnapshot

	// Delete
	Deleted []EntrySnapshot

	// PostIDs is the voting records state when the action was taken
	PostIDs map[string]votes.Origin
}

// NewMergeAction records a merge of merged into kept
func NewMergeAction(kept, merged EntrySnapshot, postIDs map[string]votes.Origin) UndoAction {
	mustValid(kept, "merge target")
	mustValid(merged, "merge source")
	mustPostIDs(postIDs)
	return UndoAction{Kind: UndoMerge, Kept: &kept, Merged: &merged, PostIDs: postIDs}
}

// NewJoinAction records voters moving from sources into into
func NewJoinAction(voters []string, into EntrySnapshot, sources []EntrySnapshot, postIDs map[string]votes.Origin) UndoAction {
	if len(voters) == 0 {
		panic("invalid undo action: join without voters")
	}
	if len(sources) == 0 {
		panic("invalid undo action: join without source entries")
	}
	mustValid(into, "join target")
	for _, s := range sources {
		mustValid(s, "join source")
	}
	mustPostIDs(postIDs)
	return UndoAction{
		Kind:    UndoJoin,
		Voters:  append([]string(nil), voters...),
		Into:    &into,
		Sources: sources,
		PostIDs: postIDs,
	}
}

// NewDeleteAction records the removal of one or more entries
func NewDeleteAction(deleted []EntrySnapshot, postIDs map[string]votes.Origin) UndoAction {
	if len(deleted) == 0 {
		panic("invalid undo action: delete without entries")
	}
	for _, d := range deleted {
		mustValid(d, "deleted entry")
	}
	mustPostIDs(postIDs)
	return UndoAction{Kind: UndoDelete, Deleted: deleted, PostIDs: postIDs}
}

func mustValid(e EntrySnapshot, what string) {
	if e.Key == "" || e.Block.IsZero() || e.Voters == nil {
		panic(fmt.Sprintf("invalid undo action: %s has no key or voter set", what))
	}
}

func mustPostIDs(postIDs map[string]votes.Origin) {
	if postIDs == nil {
		panic("invalid undo action: missing post id map")
	}
}

// snapshots returns every entry state the action restores
func (a UndoAction) snapshots() []EntrySnapshot {
	switch a.Kind {
	case UndoMerge:
		return []EntrySnapshot{*a.Kept, *a.Merged}
	case UndoJoin:
		return append([]EntrySnapshot{*a.Into}, a.Sources...)
	case UndoDelete:
		return a.Deleted
	default:
		panic(fmt.Sprintf("invalid undo action kind %d", a.Kind))
	}
}

// Description summarizes the action for display
func (a UndoAction) Description() string {
	switch a.Kind {
	case UndoMerge:
		return fmt.Sprintf("merge %q into %q", a.Merged.Block.Content(), a.Kept.Block.Content())
	case UndoJoin:
		return fmt.Sprintf("join %s into %q", strings.Join(a.Voters, ", "), a.Into.Block.Content())
	case UndoDelete:
		names := make([]string, len(a.Deleted))
		for i, d := range a.Deleted {
			names[i] = fmt.Sprintf("%q", d.Block.Content())
		}
		return "delete " + strings.Join(names, ", ")
	default:
		return a.Kind.String()
	}
}
