// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package routing

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
)

// MatchRoster locks a slot to an explicit allow-list while a match runs.
type MatchRoster struct {
	MatchID   string    `json:"matchId"`
	SlotID    string    `json:"slotId"`
	ServerID  string    `json:"serverId"`
	Players   []string  `json:"players"`
	CreatedAt time.Time `json:"createdAt"`
}

// Allows reports whether the player is on the roster.
func (r *MatchRoster) Allows(playerID string) bool {
	for _, member := range r.Players {
		if member == playerID {
			return true
		}
	}
	return false
}

// Rosters is the store of active roster locks, keyed by normalized slot id.
// At most one roster holds a slot at a time.
type Rosters struct {
	mirror *registry.Mirror

	mu     sync.Mutex
	bySlot map[string]*MatchRoster
}

// NewRosters returns an empty store.
func NewRosters(mirror *registry.Mirror) *Rosters {
	return &Rosters{
		mirror: mirror,
		bySlot: map[string]*MatchRoster{},
	}
}

// Restore loads the mirrored rosters.
func (s *Rosters) Restore() error {
	raw, err := s.mirror.LoadMatchRosters()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, payload := range raw {
		var roster MatchRoster
		if err := json.Unmarshal(payload, &roster); err != nil {
			return fmt.Errorf("restore roster %s: %w", key, err)
		}
		s.bySlot[registry.NormalizeSlotID(roster.SlotID)] = &roster
	}
	return nil
}

// Create installs a roster lock, replacing any previous lock on the slot.
func (s *Rosters) Create(msg *message.MatchRosterCreated, now time.Time) *MatchRoster {
	roster := &MatchRoster{
		MatchID:   msg.MatchID,
		SlotID:    msg.SlotID,
		ServerID:  msg.ServerID,
		Players:   msg.Players,
		CreatedAt: now,
	}
	if msg.CreatedAt > 0 {
		roster.CreatedAt = time.UnixMilli(msg.CreatedAt)
	}
	key := registry.NormalizeSlotID(msg.SlotID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySlot[key] = roster
	s.mirror.SaveMatchRoster(key, roster)
	return roster
}

// End releases the lock if the slot is still held by the given match.
func (s *Rosters) End(matchID, slotID string) bool {
	key := registry.NormalizeSlotID(slotID)
	s.mu.Lock()
	defer s.mu.Unlock()
	roster, ok := s.bySlot[key]
	if !ok || roster.MatchID != matchID {
		return false
	}
	delete(s.bySlot, key)
	s.mirror.DeleteMatchRoster(key)
	return true
}

// ClearSlot releases whatever lock holds the slot, e.g. when the slot fails.
func (s *Rosters) ClearSlot(slotID string) {
	key := registry.NormalizeSlotID(slotID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bySlot[key]; ok {
		delete(s.bySlot, key)
		s.mirror.DeleteMatchRoster(key)
	}
}

// Check reports whether the slot is roster-locked and, if so, whether the
// player is allowed in.
func (s *Rosters) Check(slotID, playerID string) (locked, allowed bool) {
	key := registry.NormalizeSlotID(slotID)
	s.mu.Lock()
	defer s.mu.Unlock()
	roster, ok := s.bySlot[key]
	if !ok {
		return false, true
	}
	return true, roster.Allows(playerID)
}
