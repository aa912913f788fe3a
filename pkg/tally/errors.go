package tally

import "errors"

var (
	// ErrCancelled is returned when a run stops at a phase boundary because
	// its context was cancelled. The context error is wrapped alongside it.
	ErrCancelled = errors.New("tally cancelled")

	// ErrBlockNotFound is returned when a storage operation names a block
	// that has no canonical entry
	ErrBlockNotFound = errors.New("vote block not found")

	// ErrSameBlock is returned when a block is merged into itself
	ErrSameBlock = errors.New("cannot merge a block into itself")

	// ErrCategoryMismatch is returned when blocks from different categories
	// are combined
	ErrCategoryMismatch = errors.New("vote blocks belong to different categories")

	// ErrNothingToUndo is reported when the undo stack is empty
	ErrNothingToUndo = errors.New("nothing to undo")

	// ErrNoRun is returned by operations that need a completed run
	ErrNoRun = errors.New("no tally has been run")
)
