package ranking

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// RIRV is rated instant runoff. Each voter's compacted ranks over the
// remaining candidates become ratings (k-r+1)/k, where k is how many
// remaining candidates the voter ranked. The lowest total is eliminated
// and ratings are recomputed over the survivors. Among tied lowest
// totals the lexically greatest candidate goes first.
func RIRV(ballots []Ballot) Ranking {
	cands := candidates(ballots)
	if len(cands) == 0 {
		return Ranking{}
	}

	remaining := mapset.NewThreadUnsafeSet(cands...)
	scores := make(map[string]float64, len(cands))
	var rounds [][]string

	for remaining.Cardinality() > 1 {
		round := ratingTotals(ballots, remaining)
		for c, s := range round {
			scores[c] = s
		}

		low := lowest(round)
		loser := low[len(low)-1]
		remaining.Remove(loser)
		rounds = append(rounds, []string{loser})
	}

	return fromEliminations(remaining.ToSlice(), rounds, scores)
}

func ratingTotals(ballots []Ballot, remaining mapset.Set[string]) map[string]float64 {
	live := remaining.ToSlice()
	sort.Strings(live)

	totals := make(map[string]float64, len(live))
	for _, c := range live {
		totals[c] = 0
	}

	for _, b := range ballots {
		var ranked []string
		for _, c := range live {
			if _, ok := b.rank(c); ok {
				ranked = append(ranked, c)
			}
		}
		k := len(ranked)
		if k == 0 {
			continue
		}
		for _, c := range ranked {
			rc, _ := b.rank(c)
			compact := 1
			for _, other := range ranked {
				if ro, _ := b.rank(other); ro < rc {
					compact++
				}
			}
			totals[c] += float64(k-compact+1) / float64(k)
		}
	}
	return totals
}
