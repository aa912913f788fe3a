package ranking

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// Wilson scores each candidate by the lower bound of the Wilson score
// interval, treating a top-N rank as approval and any other rank or an
// explicit disapproval as rejection
func Wilson(ballots []Ballot, topRanks int, confidence float64) Ranking {
	cands := candidates(ballots)
	if len(cands) == 0 {
		return Ranking{}
	}

	z := distuv.UnitNormal.Quantile(1 - (1-confidence)/2)

	type tallied struct {
		name  string
		score float64
		n     int
	}

	rows := make([]tallied, 0, len(cands))
	for _, c := range cands {
		pos, n := 0, 0
		for _, b := range ballots {
			if r, ok := b.rank(c); ok {
				n++
				if r <= topRanks {
					pos++
				}
				continue
			}
			for _, d := range b.Disapproved {
				if d == c {
					n++
					break
				}
			}
		}
		rows = append(rows, tallied{name: c, score: WilsonLowerBound(pos, n, z), n: n})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		if rows[i].n != rows[j].n {
			return rows[i].n > rows[j].n
		}
		return rows[i].name < rows[j].name
	})

	out := make(Ranking, len(rows))
	for i, r := range rows {
		out[i] = Placement{Candidate: r.name, Position: i + 1, Score: r.score}
	}
	return out
}

// WilsonLowerBound returns the lower bound of the Wilson score interval
// for pos approvals out of n at normal quantile z
func WilsonLowerBound(pos, n int, z float64) float64 {
	if n == 0 {
		return 0
	}
	fn := float64(n)
	phat := float64(pos) / fn
	z2 := z * z
	return (phat + z2/(2*fn) - z*math.Sqrt((phat*(1-phat)+z2/(4*fn))/fn)) / (1 + z2/fn)
}
