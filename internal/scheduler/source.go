package scheduler

import (
	"sync"

	"fetchledger/internal/catalog"
)

// Source hands out pending units in catalog order.
type Source struct {
	mu    sync.Mutex
	units []*Unit
	next  int
}

// NewSource builds units for every artifact that recorded does not report as
// already in the ledger. A nil recorded keeps every artifact.
func NewSource(artifacts []catalog.Artifact, recorded func(key string) bool) *Source {
	units := make([]*Unit, 0, len(artifacts))
	for _, a := range artifacts {
		if recorded != nil && recorded(a.Key) {
			continue
		}
		units = append(units, NewUnit(a))
	}
	return &Source{units: units}
}

// Next returns the next pending unit, or false once the source is exhausted.
func (s *Source) Next() (*Unit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.units) {
		return nil, false
	}
	u := s.units[s.next]
	s.next++
	return u, true
}

// Remaining counts units not handed out yet.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units) - s.next
}

// Len is the total number of units.
func (s *Source) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}
