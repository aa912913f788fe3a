package ranking

import (
	"sort"
)

// Schulze ranks candidates by beatpath strength. Candidates with equal
// beatpath wins are ordered by raw pairwise victories, then by name.
func Schulze(ballots []Ballot) Ranking {
	cands := candidates(ballots)
	n := len(cands)
	if n == 0 {
		return Ranking{}
	}

	// d[i][j] counts voters preferring i over j
	d := make([][]int, n)
	for i := range d {
		d[i] = make([]int, n)
	}
	for _, b := range ballots {
		for i, ci := range cands {
			ri, iok := b.rank(ci)
			if !iok {
				continue
			}
			for j, cj := range cands {
				if i == j {
					continue
				}
				rj, jok := b.rank(cj)
				if !jok || ri < rj {
					d[i][j]++
				}
			}
		}
	}

	p := make([][]int, n)
	for i := range p {
		p[i] = make([]int, n)
		for j := range p[i] {
			if i != j && d[i][j] > d[j][i] {
				p[i][j] = d[i][j]
			}
		}
	}
	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			if i == k {
				continue
			}
			for j := 0; j < n; j++ {
				if j == i || j == k {
					continue
				}
				p[i][j] = max(p[i][j], min(p[i][k], p[k][j]))
			}
		}
	}

	beat := make([]int, n)
	pairwise := make([]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if p[i][j] > p[j][i] {
				beat[i]++
			}
			if d[i][j] > d[j][i] {
				pairwise[i]++
			}
		}
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		i, j := order[a], order[b]
		if beat[i] != beat[j] {
			return beat[i] > beat[j]
		}
		if pairwise[i] != pairwise[j] {
			return pairwise[i] > pairwise[j]
		}
		return cands[i] < cands[j]
	})

	out := make(Ranking, n)
	for pos, i := range order {
		out[pos] = Placement{Candidate: cands[i], Position: pos + 1, Score: float64(beat[i])}
	}
	return out
}
