package votes

import (
	"fmt"
	"sort"
	"strings"
)

// PartitionMode controls how a multi-line vote splits into independently
// counted units
type PartitionMode int

const (
	PartitionNone PartitionMode = iota
	PartitionByLine
	PartitionByLineTask
	PartitionByBlock
	PartitionByBlockAll
)

func (m PartitionMode) String() string {
	switch m {
	case PartitionByLine:
		return "by_line"
	case PartitionByLineTask:
		return "by_line_task"
	case PartitionByBlock:
		return "by_block"
	case PartitionByBlockAll:
		return "by_block_all"
	default:
		return "none"
	}
}

// ParsePartitionMode converts a configuration value into a PartitionMode
func ParsePartitionMode(s string) (PartitionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PartitionNone, nil
	case "by_line", "line":
		return PartitionByLine, nil
	case "by_line_task", "line_task":
		return PartitionByLineTask, nil
	case "by_block", "block":
		return PartitionByBlock, nil
	case "by_block_all", "block_all":
		return PartitionByBlockAll, nil
	default:
		return PartitionNone, fmt.Errorf("unknown partition mode: %q", s)
	}
}

type flatLine struct {
	index    int
	line     VoteLine
	kind     PlanKind
	header   bool
	parent   int
	effTask  string
	parentTk string
	topTask  string
}

// forcedTask is the top-level line's task, or the nearest inherited task
// when the top-level line has none
func (f flatLine) forcedTask() string {
	if f.topTask != "" {
		return f.topTask
	}
	return f.effTask
}

type indexedBlock struct {
	index int
	block VoteLineBlock
}

// Partition splits a working vote into canonical blocks. Rank, score and
// approval lines always become one block each; mode governs plain votes.
// The result depends only on the input, so re-partitioning is idempotent.
func Partition(working []VoteLineBlock, mode PartitionMode) []VoteLineBlock {
	flat := flatten(working)
	if len(flat) == 0 {
		return nil
	}

	var out []indexedBlock
	var plain []flatLine
	for _, f := range flat {
		if f.line.Category().IsRanked() {
			line := f.line.WithDepth(0)
			if line.Task == "" {
				line = line.WithTask(f.effTask)
			}
			out = append(out, indexedBlock{f.index, MustBlock(line)})
			continue
		}
		plain = append(plain, f)
	}

	if len(plain) > 0 {
		switch mode {
		case PartitionByLine, PartitionByLineTask:
			for _, f := range plain {
				if f.header {
					continue
				}
				line := f.line.WithDepth(0)
				if line.Task == "" {
					if mode == PartitionByLineTask {
						line = line.WithTask(f.forcedTask())
					} else {
						line = line.WithTask(f.parentTk)
					}
				}
				out = append(out, indexedBlock{f.index, MustBlock(line)})
			}
		case PartitionByBlock:
			out = append(out, splitByBlock(plain)...)
		case PartitionByBlockAll:
			out = append(out, splitByBlock(promotePlanContent(plain))...)
		default:
			if allLabel(plain) {
				out = append(out, splitByBlock(plain)...)
			} else {
				lines := make([]VoteLine, len(plain))
				for i, f := range plain {
					lines[i] = f.line
				}
				out = append(out, indexedBlock{plain[0].index, MustBlock(lines...)})
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].index < out[j].index
	})

	blocks := make([]VoteLineBlock, len(out))
	for i, ib := range out {
		blocks[i] = ib.block
	}
	return blocks
}

func flatten(working []VoteLineBlock) []flatLine {
	var flat []flatLine
	for _, b := range working {
		for _, l := range b.Lines() {
			flat = append(flat, flatLine{index: len(flat), line: l, kind: b.Kind(), parent: -1})
		}
	}

	var stack []int
	for i := range flat {
		depth := flat[i].line.Depth
		for len(stack) > 0 && flat[stack[len(stack)-1]].line.Depth >= depth {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			p := stack[len(stack)-1]
			flat[i].parent = p
			flat[i].parentTk = flat[p].line.Task
			flat[i].effTask = flat[p].effTask
			flat[i].topTask = flat[stack[0]].line.Task
		}
		if flat[i].line.Task != "" {
			flat[i].effTask = flat[i].line.Task
		}
		flat[i].header = flat[i].line.Marker == MarkerPlan &&
			i+1 < len(flat) && flat[i+1].line.Depth > depth
		stack = append(stack, i)
	}
	return flat
}

func splitByBlock(lines []flatLine) []indexedBlock {
	var out []indexedBlock
	var cur []VoteLine
	start, base := 0, 0

	flush := func() {
		if len(cur) > 0 {
			out = append(out, indexedBlock{start, MustBlock(cur...)})
			cur = nil
		}
	}

	for _, f := range lines {
		if len(cur) == 0 || f.line.Depth <= base {
			flush()
			start, base = f.index, f.line.Depth
		}
		cur = append(cur, f.line.WithDepth(f.line.Depth-base))
	}
	flush()
	return out
}

// promotePlanContent drops plan header lines that carry nested content and
// lifts their children one level
func promotePlanContent(lines []flatLine) []flatLine {
	var out []flatLine
	headerDepth := -1
	for _, f := range lines {
		if headerDepth >= 0 && f.line.Depth <= headerDepth {
			headerDepth = -1
		}
		if f.header && headerDepth < 0 {
			headerDepth = f.line.Depth
			continue
		}
		if headerDepth >= 0 {
			f.line = f.line.WithDepth(f.line.Depth - 1)
		}
		out = append(out, f)
	}
	return out
}

func allLabel(lines []flatLine) bool {
	for _, f := range lines {
		if f.kind != PlanLabel {
			return false
		}
	}
	return true
}
