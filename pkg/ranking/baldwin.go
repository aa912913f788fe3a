package ranking

import (
	mapset "github.com/deckarep/golang-set/v2"
)

// Baldwin repeatedly computes Borda scores over the remaining candidates
// and eliminates the lowest scorer. Candidates tied for lowest leave in
// the same round and are ordered by name.
func Baldwin(ballots []Ballot) Ranking {
	cands := candidates(ballots)
	if len(cands) == 0 {
		return Ranking{}
	}

	remaining := mapset.NewThreadUnsafeSet(cands...)
	scores := make(map[string]float64, len(cands))
	var rounds [][]string

	for remaining.Cardinality() > 1 {
		round := bordaScores(ballots, remaining)
		for c, s := range round {
			scores[c] = s
		}

		low := lowest(round)
		if len(low) == remaining.Cardinality() {
			break
		}
		remaining.RemoveAll(low...)
		rounds = append(rounds, low)
	}

	return fromEliminations(remaining.ToSlice(), rounds, scores)
}

// bordaScores gives each ranked candidate one point per remaining
// candidate the voter placed below it. Unranked candidates sit below every
// ranked one, which compacts rankings as candidates drop out.
func bordaScores(ballots []Ballot, remaining mapset.Set[string]) map[string]float64 {
	scores := make(map[string]float64, remaining.Cardinality())
	live := remaining.ToSlice()
	for _, c := range live {
		scores[c] = 0
	}

	for _, b := range ballots {
		for _, c := range live {
			rc, ok := b.rank(c)
			if !ok {
				continue
			}
			for _, other := range live {
				if other == c {
					continue
				}
				ro, ook := b.rank(other)
				if !ook || ro > rc {
					scores[c]++
				}
			}
		}
	}
	return scores
}

func lowest(scores map[string]float64) []string {
	var low []string
	first := true
	var floor float64
	for c, s := range scores {
		switch {
		case first || s < floor:
			floor, low, first = s, []string{c}, false
		case s == floor:
			low = append(low, c)
		}
	}
	return sortedCopy(low)
}
