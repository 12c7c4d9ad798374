package sim

import (
	"context"
	"strings"
	"sync"
)

// Neighbors is a simulated neighbour table. It implements discovery.Lookup.
type Neighbors struct {
	mu      sync.Mutex
	entries map[string]neighbor
	lookups map[string]int
}

type neighbor struct {
	address string
	// after is how many lookups miss before the entry appears.
	after int
}

// NewNeighbors returns an empty table.
func NewNeighbors() *Neighbors {
	return &Neighbors{entries: make(map[string]neighbor), lookups: make(map[string]int)}
}

// Add makes hardwareID resolve to address from the (after+1)th lookup on.
func (n *Neighbors) Add(hardwareID, address string, after int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries[strings.ToLower(hardwareID)] = neighbor{address: address, after: after}
}

// Lookups returns how many times hardwareID was looked up.
func (n *Neighbors) Lookups(hardwareID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lookups[strings.ToLower(hardwareID)]
}

func (n *Neighbors) Lookup(ctx context.Context, hardwareID string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	key := strings.ToLower(hardwareID)
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lookups[key]++
	e, ok := n.entries[key]
	if !ok || n.lookups[key] <= e.after {
		return "", false, nil
	}
	return e.address, true, nil
}
