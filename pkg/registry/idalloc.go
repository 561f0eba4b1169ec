// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package registry

import (
	"fmt"
	"sync"
	"time"
)

// IDAllocator hands out contiguous node identifiers of one kind. Allocation
// returns the lowest instance number that is neither active nor reserved.
// Released identifiers stay reserved for the recycle window so a rejoining
// node can reclaim its identity without a newcomer stealing it.
type IDAllocator struct {
	base   string
	kind   NodeKind
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	active   map[int]bool
	reserved map[int]time.Time
}

// NewIDAllocator returns an allocator for one identifier kind.
func NewIDAllocator(base string, kind NodeKind, window time.Duration) *IDAllocator {
	return &IDAllocator{
		base:     base,
		kind:     kind,
		window:   window,
		now:      time.Now,
		active:   map[int]bool{},
		reserved: map[int]time.Time{},
	}
}

// SetClock overrides the allocator's time source. Intended for tests.
func (a *IDAllocator) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// Allocate returns the lowest free identifier and marks it active.
func (a *IDAllocator) Allocate() Identifier {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.purgeExpired()
	for instance := 1; ; instance++ {
		if a.active[instance] {
			continue
		}
		if _, held := a.reserved[instance]; held {
			continue
		}
		a.active[instance] = true
		return Identifier{Base: a.base, Kind: a.kind, Instance: instance}
	}
}

// MarkActive claims a specific identifier, e.g. while restoring the registry
// from its mirror or when a node announces with an id it already holds. A
// collision with an already-active id is an integrity bug and fatal.
func (a *IDAllocator) MarkActive(id Identifier) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active[id.Instance] {
		panic(fmt.Sprintf("identifier collision: %s is already active", id))
	}
	delete(a.reserved, id.Instance)
	a.active[id.Instance] = true
}

// IsActive reports whether the identifier is currently held.
func (a *IDAllocator) IsActive(id Identifier) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active[id.Instance]
}

// Release frees an identifier. Unless forced, the id stays reserved until the
// recycle window has passed.
func (a *IDAllocator) Release(id Identifier, forced bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.active, id.Instance)
	if forced {
		delete(a.reserved, id.Instance)
		return
	}
	a.reserved[id.Instance] = a.now().Add(a.window)
}

// purgeExpired drops reservations whose window has passed. Caller holds the lock.
func (a *IDAllocator) purgeExpired() {
	now := a.now()
	for instance, deadline := range a.reserved {
		if now.After(deadline) {
			delete(a.reserved, instance)
		}
	}
}
