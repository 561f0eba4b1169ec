// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package message

import (
	"fmt"

	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// PartyTeam is one team of a party snapshot.
type PartyTeam struct {
	Index   int      `json:"index"`
	Players []string `json:"players"`
}

// PartyReservationCreated announces a slot pre-allocation for a whole party.
// When the reservation already names a slot the state is ALLOCATED; a PENDING
// reservation waits for its slot to come up.
type PartyReservationCreated struct {
	ReservationID    string                      `json:"reservationId"`
	PartyID          string                      `json:"partyId"`
	FamilyID         string                      `json:"familyId"`
	VariantID        string                      `json:"variantId,omitempty"`
	TargetServerID   string                      `json:"targetServerId,omitempty"`
	SlotID           string                      `json:"slotId,omitempty"`
	ReservationToken string                      `json:"reservationToken,omitempty"`
	State            types.PartyReservationState `json:"state,omitempty"`
	Teams            []PartyTeam                 `json:"teams,omitempty"`
	Players          []string                    `json:"players"`
	ExpiresAt        int64                       `json:"expiresAt,omitempty"`
}

func (m *PartyReservationCreated) Type() string { return types.ChannelPartyReservationCreated }

func (m *PartyReservationCreated) Validate() error {
	if err := requireFields(
		"reservationId", m.ReservationID,
		"partyId", m.PartyID,
		"familyId", m.FamilyID,
	); err != nil {
		return err
	}
	if len(m.Players) == 0 {
		return fmt.Errorf("%w: players", ErrMissingField)
	}
	return nil
}

// PartyReservationClaimed closes the per-player portion of a party
// reservation once that member has been routed.
type PartyReservationClaimed struct {
	ReservationID string `json:"reservationId"`
	PlayerID      string `json:"playerId"`
	SlotID        string `json:"slotId,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

func (m *PartyReservationClaimed) Type() string { return types.ChannelPartyReservationClaimed }

func (m *PartyReservationClaimed) Validate() error {
	return requireFields("reservationId", m.ReservationID, "playerId", m.PlayerID)
}

// MatchRosterCreated locks a slot to an explicit player allow-list.
type MatchRosterCreated struct {
	MatchID   string   `json:"matchId"`
	SlotID    string   `json:"slotId"`
	ServerID  string   `json:"serverId"`
	Players   []string `json:"players"`
	CreatedAt int64    `json:"createdAt"`
}

func (m *MatchRosterCreated) Type() string { return types.ChannelMatchRosterCreated }

func (m *MatchRosterCreated) Validate() error {
	if err := requireFields(
		"matchId", m.MatchID,
		"slotId", m.SlotID,
		"serverId", m.ServerID,
	); err != nil {
		return err
	}
	if len(m.Players) == 0 {
		return fmt.Errorf("%w: players", ErrMissingField)
	}
	return nil
}

// MatchRosterEnded releases a roster lock.
type MatchRosterEnded struct {
	MatchID string `json:"matchId"`
	SlotID  string `json:"slotId"`
	EndedAt int64  `json:"endedAt"`
}

func (m *MatchRosterEnded) Type() string { return types.ChannelMatchRosterEnded }

func (m *MatchRosterEnded) Validate() error {
	return requireFields("matchId", m.MatchID, "slotId", m.SlotID)
}
