package testutil

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// idNamespace seeds the name-based UUIDs handed out by IDSequence.
var idNamespace = uuid.MustParse("6f1c1a52-3a43-4d7e-9d0b-2f5f7c1e9a10")

// IDSequence generates the same message ids every run.
//
// The n-th id of a sequence named "orders" is identical across test runs, so
// a test can rebuild a batch to resubmit it, or compare ids against golden
// output.
//
// Thread-safety: IDSequence is safe for concurrent use.
type IDSequence struct {
	mu   sync.Mutex
	name string
	n    int
}

// NewIDSequence creates a sequence. If name is empty, "default" is used.
func NewIDSequence(name string) *IDSequence {
	if name == "" {
		name = "default"
	}
	return &IDSequence{name: name}
}

// Next returns the next id of the sequence.
func (s *IDSequence) Next() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return ID(s.name, s.n)
}

// ID returns the n-th id of the sequence called name without any state.
func ID(name string, n int) uuid.UUID {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s/%d", name, n)))
}
