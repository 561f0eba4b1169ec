// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package routing

import (
	"sync"

	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
)

// Occupancy counts pending placements per slot: reservations awaiting their
// response plus routes awaiting their acknowledgement. Slot selection adds
// these to the backend-reported player counts so concurrent requests never
// overshoot a slot's capacity.
type Occupancy struct {
	mirror *registry.Mirror

	mu      sync.Mutex
	pending map[string]int
}

// NewOccupancy returns an empty counter set.
func NewOccupancy(mirror *registry.Mirror) *Occupancy {
	return &Occupancy{
		mirror:  mirror,
		pending: map[string]int{},
	}
}

// Restore loads the mirrored counters.
func (o *Occupancy) Restore() error {
	counts, err := o.mirror.LoadOccupancy()
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for slotID, n := range counts {
		o.pending[slotID] = n
	}
	return nil
}

// Pending returns the slot's pending count.
func (o *Occupancy) Pending(slotID string) int {
	key := registry.NormalizeSlotID(slotID)
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pending[key]
}

// Increment adds one pending placement.
func (o *Occupancy) Increment(slotID string) {
	key := registry.NormalizeSlotID(slotID)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[key]++
	o.mirror.SaveOccupancy(key, o.pending[key])
}

// Decrement releases one pending placement. The counter never goes negative.
func (o *Occupancy) Decrement(slotID string) {
	key := registry.NormalizeSlotID(slotID)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending[key] <= 1 {
		delete(o.pending, key)
		o.mirror.SaveOccupancy(key, 0)
		return
	}
	o.pending[key]--
	o.mirror.SaveOccupancy(key, o.pending[key])
}

// Reset zeroes a slot's counter, used when the slot fails and every pending
// placement on it is cancelled.
func (o *Occupancy) Reset(slotID string) {
	key := registry.NormalizeSlotID(slotID)
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.pending, key)
	o.mirror.SaveOccupancy(key, 0)
}
