package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"quest_tally/pkg/tally"
	"quest_tally/pkg/votes"
)

// printReport writes a plain text tally: supporters per vote, then the
// ranked results and any posts that needed forced resolution
func printReport(w io.Writer, res *tally.Result) {
	fmt.Fprintf(w, "Tally for %s (%d voters, %d posts, method %s)\n",
		res.Quest, res.Voters, res.Posts, res.Options.RankedMethod)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, cat := range votes.Categories {
		entries := res.Storage.Entries(cat)
		if len(entries) == 0 {
			continue
		}

		sorted := make([]tally.EntryView, len(entries))
		copy(sorted, entries)
		sort.SliceStable(sorted, func(i, j int) bool {
			return len(sorted[i].Voters) > len(sorted[j].Voters)
		})

		fmt.Fprintf(tw, "\n== %s ==\n", strings.ToUpper(string(cat)))
		for _, e := range sorted {
			content := strings.ReplaceAll(e.Block.String(), "\n", " / ")
			fmt.Fprintf(tw, "%d\t%s\t%s\n", len(e.Voters), content, strings.Join(e.VoterNames(), ", "))
		}

		ranked := res.Rankings[cat]
		tasks := make([]string, 0, len(ranked))
		for task := range ranked {
			tasks = append(tasks, task)
		}
		sort.Strings(tasks)
		for _, task := range tasks {
			label := "Ranking"
			if task != "" {
				label = fmt.Sprintf("Ranking [%s]", task)
			}
			fmt.Fprintf(tw, "\n%s\n", label)
			for _, p := range ranked[task] {
				fmt.Fprintf(tw, "#%d\t%s\t%.3f\n", p.Position, p.Candidate, p.Score)
			}
		}
	}

	if len(res.Flagged) > 0 {
		fmt.Fprintf(tw, "\n== FLAGGED ==\n")
		for _, p := range res.Flagged {
			fmt.Fprintf(tw, "#%d\t%s\t%s\n", p.PostNumber, p.Author, p.Status)
		}
	}
	tw.Flush()
}

func questFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
