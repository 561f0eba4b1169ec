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
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// PartyReservation is a slot pre-allocation for a whole party. Members routed
// under it present the shared token and bypass the per-player reservation
// handshake.
type PartyReservation struct {
	ReservationID string                      `json:"reservationId"`
	PartyID       string                      `json:"partyId"`
	FamilyID      string                      `json:"familyId"`
	VariantID     string                      `json:"variantId,omitempty"`
	ServerID      string                      `json:"serverId,omitempty"`
	SlotID        string                      `json:"slotId,omitempty"`
	Token         string                      `json:"reservationToken,omitempty"`
	State         types.PartyReservationState `json:"state"`
	Players       []string                    `json:"players"`
	TeamIndex     map[string]int              `json:"teamIndex,omitempty"`
	Claimed       map[string]bool             `json:"claimed,omitempty"`
	ExpiresAt     time.Time                   `json:"expiresAt,omitempty"`
}

// Includes reports whether the player belongs to the party.
func (p *PartyReservation) Includes(playerID string) bool {
	for _, member := range p.Players {
		if member == playerID {
			return true
		}
	}
	return false
}

// Expired reports whether the reservation's deadline has passed.
func (p *PartyReservation) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

// PartyReservations is the store of live party reservations, keyed by
// reservation id.
type PartyReservations struct {
	mirror *registry.Mirror

	mu   sync.Mutex
	byID map[string]*PartyReservation
}

// NewPartyReservations returns an empty store.
func NewPartyReservations(mirror *registry.Mirror) *PartyReservations {
	return &PartyReservations{
		mirror: mirror,
		byID:   map[string]*PartyReservation{},
	}
}

// Restore loads the mirrored reservations.
func (s *PartyReservations) Restore() error {
	raw, err := s.mirror.LoadPartyReservations()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, payload := range raw {
		var reservation PartyReservation
		if err := json.Unmarshal(payload, &reservation); err != nil {
			return fmt.Errorf("restore party reservation %s: %w", id, err)
		}
		s.byID[reservation.ReservationID] = &reservation
	}
	return nil
}

// Upsert records a reservation announced on the bus. A reservation that
// already names a slot is ALLOCATED; one still waiting for its slot is
// PENDING.
func (s *PartyReservations) Upsert(msg *message.PartyReservationCreated, now time.Time) *PartyReservation {
	reservation := &PartyReservation{
		ReservationID: msg.ReservationID,
		PartyID:       msg.PartyID,
		FamilyID:      msg.FamilyID,
		VariantID:     msg.VariantID,
		ServerID:      msg.TargetServerID,
		SlotID:        msg.SlotID,
		Token:         msg.ReservationToken,
		State:         msg.State,
		Players:       msg.Players,
		Claimed:       map[string]bool{},
	}
	if reservation.State == "" {
		if reservation.SlotID != "" {
			reservation.State = types.PartyAllocated
		} else {
			reservation.State = types.PartyPending
		}
	}
	if len(msg.Teams) > 0 {
		reservation.TeamIndex = map[string]int{}
		for _, team := range msg.Teams {
			for _, member := range team.Players {
				reservation.TeamIndex[member] = team.Index
			}
		}
	}
	if msg.ExpiresAt > 0 {
		reservation.ExpiresAt = time.UnixMilli(msg.ExpiresAt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[reservation.ReservationID]; ok {
		// Re-announcements keep the claims already made.
		reservation.Claimed = existing.Claimed
	}
	s.byID[reservation.ReservationID] = reservation
	s.mirror.SavePartyReservation(reservation.ReservationID, reservation)
	return reservation
}

// Lookup returns a reservation by id, marking it EXPIRED when its deadline
// has passed.
func (s *PartyReservations) Lookup(reservationID string, now time.Time) (*PartyReservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reservation, ok := s.byID[reservationID]
	if !ok {
		return nil, false
	}
	if reservation.State != types.PartyClaimed && reservation.Expired(now) {
		reservation.State = types.PartyExpired
		s.mirror.SavePartyReservation(reservation.ReservationID, reservation)
	}
	return reservation, true
}

// ForPlayer finds a live reservation covering the player in the family, used
// when the request does not name one explicitly.
func (s *PartyReservations) ForPlayer(playerID, family string, now time.Time) (*PartyReservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reservation := range s.byID {
		if reservation.FamilyID != family || !reservation.Includes(playerID) {
			continue
		}
		if reservation.Claimed[playerID] || reservation.Expired(now) {
			continue
		}
		if reservation.State == types.PartyPending || reservation.State == types.PartyAllocated {
			return reservation, true
		}
	}
	return nil, false
}

// Claim marks one member as routed. Once every member has claimed, the
// reservation moves to CLAIMED.
func (s *PartyReservations) Claim(reservationID, playerID string) (*PartyReservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reservation, ok := s.byID[reservationID]
	if !ok {
		return nil, false
	}
	if reservation.Claimed == nil {
		reservation.Claimed = map[string]bool{}
	}
	reservation.Claimed[playerID] = true
	complete := true
	for _, member := range reservation.Players {
		if !reservation.Claimed[member] {
			complete = false
			break
		}
	}
	if complete {
		reservation.State = types.PartyClaimed
	}
	s.mirror.SavePartyReservation(reservation.ReservationID, reservation)
	return reservation, true
}

// Allocate binds a pending reservation to a slot.
func (s *PartyReservations) Allocate(reservationID, serverID, slotID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reservation, ok := s.byID[reservationID]
	if !ok {
		return
	}
	reservation.ServerID = serverID
	reservation.SlotID = slotID
	reservation.Token = token
	reservation.State = types.PartyAllocated
	s.mirror.SavePartyReservation(reservation.ReservationID, reservation)
}

// ResetForSlot knocks reservations allocated to a failed slot back to
// PENDING so their members get re-placed.
func (s *PartyReservations) ResetForSlot(slotID string) []*PartyReservation {
	normalized := registry.NormalizeSlotID(slotID)
	s.mu.Lock()
	defer s.mu.Unlock()
	var reset []*PartyReservation
	for _, reservation := range s.byID {
		if reservation.State != types.PartyAllocated {
			continue
		}
		if registry.NormalizeSlotID(reservation.SlotID) != normalized {
			continue
		}
		reservation.ServerID = ""
		reservation.SlotID = ""
		reservation.Token = ""
		reservation.State = types.PartyPending
		s.mirror.SavePartyReservation(reservation.ReservationID, reservation)
		reset = append(reset, reservation)
	}
	return reset
}

// Remove drops a reservation, claimed or expired.
func (s *PartyReservations) Remove(reservationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, reservationID)
	s.mirror.DeletePartyReservation(reservationID)
}
