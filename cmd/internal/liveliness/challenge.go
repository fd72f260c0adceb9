package liveliness

import (
	"math/rand/v2"
	"sync"
)

// Challenge is a displayed instruction the student is asked to perform.
type Challenge struct {
	ID          string `json:"id"`
	Instruction string `json:"instruction"`
}

// DefaultCatalog is the fixed action catalog.
var DefaultCatalog = []Challenge{
	{ID: "blink", Instruction: "Blink your eyes"},
	{ID: "smile", Instruction: "Smile"},
	{ID: "turn_left", Instruction: "Turn your head slightly to the left"},
	{ID: "turn_right", Instruction: "Turn your head slightly to the right"},
}

// Selector draws challenges uniformly at random. Repeats across sessions are allowed.
type Selector struct {
	mu      sync.Mutex
	catalog []Challenge
	rng     *rand.Rand
}

// NewSelector returns a Selector over catalog (DefaultCatalog when empty).
// src may be nil to use a randomly seeded source.
func NewSelector(catalog []Challenge, src rand.Source) *Selector {
	if len(catalog) == 0 {
		catalog = DefaultCatalog
	}
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Selector{
		catalog: append([]Challenge(nil), catalog...),
		rng:     rand.New(src),
	}
}

// Select returns one challenge.
func (s *Selector) Select() Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog[s.rng.IntN(len(s.catalog))]
}
