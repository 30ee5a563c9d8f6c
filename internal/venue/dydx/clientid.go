package dydx

import (
	"hash/fnv"
	"sync"
)

// ClientIDs maps client order ids onto the uint32 client ids the chain
// accepts, in both directions.
type ClientIDs struct {
	mu      sync.RWMutex
	forward map[string]uint32
	reverse map[uint32]string
}

func NewClientIDs() *ClientIDs {
	return &ClientIDs{
		forward: make(map[string]uint32),
		reverse: make(map[uint32]string),
	}
}

// Assign returns the chain id for clientOrderID, hashing it on first use and
// probing forward on collisions.
func (c *ClientIDs) Assign(clientOrderID string) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if id, ok := c.forward[clientOrderID]; ok {
		return id
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(clientOrderID))
	id := h.Sum32()
	for {
		if _, taken := c.reverse[id]; !taken {
			break
		}
		id++
	}
	c.forward[clientOrderID] = id
	c.reverse[id] = clientOrderID
	return id
}

// Lookup returns the client order id assigned to id, if any.
func (c *ClientIDs) Lookup(id uint32) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.reverse[id]
	return s, ok
}
