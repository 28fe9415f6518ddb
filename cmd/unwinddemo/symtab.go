package main

import (
	"fmt"
	"sort"

	"github.com/derekparker/trie"

	"github.com/nbdd0121/unwinding/pkg/scenario"
)

// symtab resolves a synthetic frame's PC to the name given it in a
// scenario script through a PC-keyed map, and indexes the same names in a
// prefix trie the way delve indexes its own function table, used here
// only to complete a partially typed name in the script shell.
type symtab struct {
	t        *trie.Trie
	byName   map[string]uint64
	byPC     map[uint64]string
}

func newSymtab(sc *scenario.Scenario) *symtab {
	s := &symtab{t: trie.New(), byName: map[string]uint64{}, byPC: map[uint64]string{}}
	for i, f := range sc.Frames {
		name := f.Personality
		if name == "" {
			name = fmt.Sprintf("frame%d", i)
		}
		s.t.Add(name, f.PC)
		s.byName[name] = f.PC
		s.byPC[f.PC] = name
	}
	return s
}

// NameForPC returns the name a frame at pc was registered under, or a
// hex fallback if none matches exactly.
func (s *symtab) NameForPC(pc uint64) string {
	if name, ok := s.byPC[pc]; ok {
		return name
	}
	return fmt.Sprintf("%#x", pc)
}

// Complete returns every registered name with the given prefix, sorted,
// the same shape liner's autocomplete callback needs.
func (s *symtab) Complete(prefix string) []string {
	matches := s.t.PrefixSearch(prefix)
	sort.Strings(matches)
	return matches
}
