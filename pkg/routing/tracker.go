// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package routing

import (
	"sync"
	"time"

	"github.com/maypok86/otter"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
)

// recentSlotCap bounds the per-player recent-slot memory.
const recentSlotCap = 3

// trackerCacheSize bounds the recent-slot cache across all players.
const trackerCacheSize = 100_000

// Tracker remembers where each player currently is and where they recently
// were. The recent list feeds the blocked-slot set so a player is never
// bounced straight back into a slot they just left.
type Tracker struct {
	mirror    *registry.Mirror
	recentTTL time.Duration

	mu     sync.Mutex
	active *xsync.Map[string, string]
	recent otter.Cache[string, []string]
}

// NewTracker returns an empty tracker.
func NewTracker(mirror *registry.Mirror, recentTTL time.Duration) *Tracker {
	cache, err := otter.MustBuilder[string, []string](trackerCacheSize).
		WithTTL(recentTTL).
		Build()
	if err != nil {
		panic("routing: recent-slot cache: " + err.Error())
	}
	return &Tracker{
		mirror:    mirror,
		recentTTL: recentTTL,
		active:    xsync.NewMap[string, string](),
		recent:    cache,
	}
}

// Restore loads the mirrored player→slot table. The recent lists are
// TTL-bounded and start empty.
func (t *Tracker) Restore() error {
	players, err := t.mirror.LoadActivePlayers()
	if err != nil {
		return err
	}
	for playerID, slotID := range players {
		t.active.Store(playerID, slotID)
	}
	return nil
}

// ActiveSlot returns the player's current slot.
func (t *Tracker) ActiveSlot(playerID string) (string, bool) {
	return t.active.Load(playerID)
}

// SetActive records the player's new slot, pushing the previous one into the
// recent list.
func (t *Tracker) SetActive(playerID, slotID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if previous, ok := t.active.Load(playerID); ok && previous != slotID {
		t.pushRecent(playerID, previous)
	}
	t.active.Store(playerID, slotID)
	t.mirror.SaveActivePlayer(playerID, slotID)
}

// ClearActive forgets the player's current slot, remembering it as recent.
func (t *Tracker) ClearActive(playerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if previous, ok := t.active.LoadAndDelete(playerID); ok {
		t.pushRecent(playerID, previous)
	}
	t.mirror.DeleteActivePlayer(playerID)
}

// RecentSlots returns the player's recent slots, newest first.
func (t *Tracker) RecentSlots(playerID string) []string {
	slots, _ := t.recent.Get(playerID)
	return slots
}

// pushRecent prepends a slot to the player's recent list. Caller holds the
// lock.
func (t *Tracker) pushRecent(playerID, slotID string) {
	normalized := registry.NormalizeSlotID(slotID)
	existing, _ := t.recent.Get(playerID)
	updated := []string{normalized}
	for _, s := range existing {
		if s != normalized && len(updated) < recentSlotCap {
			updated = append(updated, s)
		}
	}
	t.recent.Set(playerID, updated)
	t.mirror.SaveRecentSlots(playerID, updated, t.recentTTL)
}

// Close releases the recent-slot cache.
func (t *Tracker) Close() {
	t.recent.Close()
}
