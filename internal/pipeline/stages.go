// Package pipeline provides the pure stage, terminal-state and status
// normalization logic shared by the run orchestrator and its poller.
package pipeline

import "strings"

// StageIndex is a fixed ordered list of named pipeline stages with a
// lookup from stage name to ordinal position.
type StageIndex struct {
	names    []string
	ordinals map[string]int
}

// NewStageIndex builds an index over the given ordered stage names.
// Names are matched case-insensitively.
func NewStageIndex(names []string) *StageIndex {
	idx := &StageIndex{
		names:    make([]string, 0, len(names)),
		ordinals: make(map[string]int, len(names)),
	}
	for _, name := range names {
		key := normalizeStage(name)
		if key == "" {
			continue
		}
		if _, exists := idx.ordinals[key]; exists {
			continue
		}
		idx.ordinals[key] = len(idx.names)
		idx.names = append(idx.names, strings.ToUpper(strings.TrimSpace(name)))
	}
	return idx
}

// IndexOf returns the ordinal position of a stage name. Unknown names
// report ok=false and must not alter the caller's tracked progress.
func (s *StageIndex) IndexOf(name string) (int, bool) {
	ordinal, ok := s.ordinals[normalizeStage(name)]
	return ordinal, ok
}

// Names returns the ordered stage names
func (s *StageIndex) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of stages
func (s *StageIndex) Len() int {
	return len(s.names)
}

func normalizeStage(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
