package tally

import (
	"fmt"

	"quest_tally/pkg/ranking"
	"quest_tally/pkg/text"
	"quest_tally/pkg/votes"
)

// Options configures a tally run
type Options struct {
	PartitionMode  votes.PartitionMode
	RankedMethod   ranking.Method
	ComparisonMode text.Mode

	// ForcedCategory makes numeric markers read as ranks or scores.
	// MarkerNone leaves the parser's default reading.
	ForcedCategory votes.MarkerType

	Ranking ranking.Options

	// Filters are passed through to results unchanged
	CustomTaskFilters       []string
	CustomThreadmarkFilters []string

	// CacheSize bounds the comparer's normalized key cache
	CacheSize int
}

// DefaultOptions returns the standard configuration
func DefaultOptions() Options {
	return Options{
		PartitionMode:  votes.PartitionNone,
		RankedMethod:   ranking.DefaultMethod,
		ComparisonMode: text.ModeLoose,
		ForcedCategory: votes.MarkerNone,
		Ranking:        ranking.DefaultOptions(),
		CacheSize:      text.DefaultCacheSize,
	}
}

// Validate checks the options for values no run could use
func (o Options) Validate() error {
	switch o.ForcedCategory {
	case votes.MarkerNone, votes.MarkerRank, votes.MarkerScore:
	default:
		return fmt.Errorf("forced category must be rank or score, got %s", o.ForcedCategory)
	}
	if o.Ranking.TopRanks < 0 {
		return fmt.Errorf("wilson top ranks must not be negative")
	}
	if o.Ranking.Confidence < 0 || o.Ranking.Confidence >= 1 {
		return fmt.Errorf("wilson confidence must be in [0, 1)")
	}
	return nil
}
