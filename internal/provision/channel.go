package provision

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// Channel collects configuration fragments and hands the first complete
// payload to its single consumer through a one-slot channel.
type Channel struct {
	mu        sync.Mutex
	pending   Payload
	delivered bool
	slot      chan Payload
}

// NewChannel creates an empty configuration channel
func NewChannel() *Channel {
	return &Channel{slot: make(chan Payload, 1)}
}

// Deliver merges a raw JSON fragment. It reports whether the merged payload
// is complete and has been handed off.
func (c *Channel) Deliver(data []byte) (bool, error) {
	p, err := Parse(data)
	if err != nil {
		return false, err
	}
	return c.DeliverPayload(p)
}

// DeliverPayload merges an already decoded fragment
func (c *Channel) DeliverPayload(p Payload) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.delivered {
		return false, ErrAlreadyConfigured
	}

	c.pending = c.pending.Merge(p)
	if err := c.pending.Validate(); err != nil {
		return false, err
	}

	c.delivered = true
	c.slot <- c.pending
	return true, nil
}

// C returns the channel the configuring state waits on
func (c *Channel) C() <-chan Payload {
	return c.slot
}

// Pending returns the fields merged so far
func (c *Channel) Pending() Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Delivered reports whether a complete payload has been handed off
func (c *Channel) Delivered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}

// LoadFile delivers a payload stored on disk. A missing file is not an error.
func (c *Channel) LoadFile(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read configuration payload: %w", err)
	}
	return c.Deliver(data)
}
