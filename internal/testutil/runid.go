package testutil

import (
	"fmt"
	"sync"
)

// RunID returns the well-formed run id whose 12 hex digits encode n.
//
//	RunID(1)   == "run_000000000001"
//	RunID(255) == "run_0000000000ff"
func RunID(n int) string {
	return fmt.Sprintf("run_%012x", n)
}

// RunIDSequence hands out RunID(1), RunID(2), ... in order.
//
// This keeps golden output stable where production code would draw a random
// id. Thread-safety: Next is safe for concurrent use.
type RunIDSequence struct {
	mu   sync.Mutex
	next int
}

// NewRunIDSequence creates a sequence whose first id is RunID(1).
func NewRunIDSequence() *RunIDSequence {
	return &RunIDSequence{next: 1}
}

// Next returns the next run id.
func (s *RunIDSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := RunID(s.next)
	s.next++
	return id
}
