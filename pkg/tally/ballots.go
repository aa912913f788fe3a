package tally

import (
	"sort"

	"quest_tally/pkg/ranking"
	"quest_tally/pkg/votes"
)

// Ballots groups a ranked category's entries into per-task ballots.
// Candidates are canonical block contents. Scores become ranks by
// descending score, approvals rank first and disapprovals are recorded as
// such.
func Ballots(entries []EntryView) map[string][]ranking.Ballot {
	type building struct {
		ballot ranking.Ballot
		scores map[string]float64
	}
	byTask := make(map[string]map[string]*building)

	for _, e := range entries {
		task := e.Block.Task()
		candidate := e.Block.Content()
		if byTask[task] == nil {
			byTask[task] = make(map[string]*building)
		}

		for _, sup := range e.Voters {
			b, ok := byTask[task][sup.Origin.Name]
			if !ok {
				b = &building{
					ballot: ranking.Ballot{Voter: sup.Origin.Name, Ranks: make(map[string]int)},
					scores: make(map[string]float64),
				}
				byTask[task][sup.Origin.Name] = b
			}

			line := sup.Block.First()
			switch line.Marker {
			case votes.MarkerRank:
				if r, ok := line.Rank(); ok {
					if prev, seen := b.ballot.Ranks[candidate]; !seen || r < prev {
						b.ballot.Ranks[candidate] = r
					}
				}
			case votes.MarkerScore:
				if s, ok := line.Score(); ok {
					b.scores[candidate] = s
				}
			case votes.MarkerApproval:
				if approve, _ := line.Approves(); approve {
					b.ballot.Ranks[candidate] = 1
				} else {
					b.ballot.Disapproved = append(b.ballot.Disapproved, candidate)
				}
			}
		}
	}

	out := make(map[string][]ranking.Ballot, len(byTask))
	for task, voters := range byTask {
		names := make([]string, 0, len(voters))
		for name := range voters {
			names = append(names, name)
		}
		sort.Strings(names)

		ballots := make([]ranking.Ballot, 0, len(names))
		for _, name := range names {
			b := voters[name]
			for c, r := range scoreRanks(b.scores) {
				b.ballot.Ranks[c] = r
			}
			sort.Strings(b.ballot.Disapproved)
			ballots = append(ballots, b.ballot)
		}
		out[task] = ballots
	}
	return out
}

// scoreRanks converts scores to competition ranks, highest score first
func scoreRanks(scores map[string]float64) map[string]int {
	if len(scores) == 0 {
		return nil
	}
	names := make([]string, 0, len(scores))
	for c := range scores {
		names = append(names, c)
	}
	sort.Slice(names, func(i, j int) bool {
		if scores[names[i]] != scores[names[j]] {
			return scores[names[i]] > scores[names[j]]
		}
		return names[i] < names[j]
	})

	ranks := make(map[string]int, len(names))
	for i, c := range names {
		if i > 0 && scores[c] == scores[names[i-1]] {
			ranks[c] = ranks[names[i-1]]
			continue
		}
		ranks[c] = i + 1
	}
	return ranks
}
