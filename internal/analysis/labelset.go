package analysis

import (
	"sort"
	"strings"
)

type labelCount struct {
	label string
	count int
}

// labelSet accumulates the known vocabulary of a run (codes or themes) with
// occurrence counts. Not safe for concurrent use; each run owns its set.
type labelSet struct {
	counts map[string]int
}

func newLabelSet() *labelSet {
	return &labelSet{counts: make(map[string]int)}
}

func (s *labelSet) add(labels ...string) {
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		s.counts[l]++
	}
}

func (s *labelSet) len() int {
	return len(s.counts)
}

// sorted returns all labels in lexical order.
func (s *labelSet) sorted() []string {
	out := make([]string, 0, len(s.counts))
	for l := range s.counts {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// counted returns all labels ordered by descending occurrence count, ties
// broken lexically.
func (s *labelSet) counted() []labelCount {
	out := make([]labelCount, 0, len(s.counts))
	for l, n := range s.counts {
		out = append(out, labelCount{label: l, count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].label < out[j].label
	})
	return out
}

// top returns the n most frequent labels, lexically sorted for stable
// prompts.
func (s *labelSet) top(n int) []string {
	counted := s.counted()
	if len(counted) > n {
		counted = counted[:n]
	}
	out := make([]string, len(counted))
	for i, c := range counted {
		out[i] = c.label
	}
	sort.Strings(out)
	return out
}
