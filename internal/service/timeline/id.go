package timeline

import (
	"fmt"
	"sync/atomic"
)

// Generator issues creation-ordered entry identifiers.
type Generator struct {
	counter uint64
}

func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns the next sequence number and its identifier.
func (g *Generator) Next(kind Kind) (uint64, string) {
	n := atomic.AddUint64(&g.counter, 1)
	return n, fmt.Sprintf("%s-%d", kind, n)
}
