// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package registry

import (
	"strings"
	"time"

	"github.com/fulcrumnetwork/fulcrum/pkg/fsm"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// RegisteredProxy is one edge proxy known to the registry. The JSON shape is
// what the mirror persists; the state machine is runtime-only and rebuilt on
// restore.
type RegisteredProxy struct {
	ID            string           `json:"id"`
	Address       string           `json:"address"`
	Port          int              `json:"port"`
	Status        types.NodeStatus `json:"status"`
	LastHeartbeat time.Time        `json:"lastHeartbeat"`
	RegisteredAt  time.Time        `json:"registeredAt"`
	PlayerCount   int              `json:"playerCount"`

	Machine *fsm.Machine `json:"-"`
}

// RegisteredServer is one backend known to the registry, together with the
// logical slots it hosts and the slot families it advertises.
type RegisteredServer struct {
	ID            string                  `json:"id"`
	TempID        string                  `json:"tempId,omitempty"`
	ServerType    string                  `json:"serverType"`
	Role          string                  `json:"role,omitempty"`
	Address       string                  `json:"address"`
	Port          int                     `json:"port"`
	MaxCapacity   int                     `json:"maxCapacity"`
	PlayerCount   int                     `json:"playerCount"`
	TPS           float64                 `json:"tps,omitempty"`
	Status        types.NodeStatus        `json:"status"`
	LastHeartbeat time.Time               `json:"lastHeartbeat"`
	RegisteredAt  time.Time               `json:"registeredAt"`
	Evacuating    bool                    `json:"evacuating,omitempty"`
	Slots         map[string]*LogicalSlot `json:"slots,omitempty"`
	// FamilyCapacities and FamilyVariants come from the backend's
	// slot.family.advertisement.
	FamilyCapacities map[string]int      `json:"familyCapacities,omitempty"`
	FamilyVariants   map[string][]string `json:"familyVariants,omitempty"`

	Machine *fsm.Machine `json:"-"`
}

// SlotCountForFamily counts this server's slots of one family.
func (s *RegisteredServer) SlotCountForFamily(family string) int {
	count := 0
	for _, slot := range s.Slots {
		if slot.Family() == family {
			count++
		}
	}
	return count
}

// AdvertisesVariant reports whether the server offers the variant for the
// family.
func (s *RegisteredServer) AdvertisesVariant(family, variant string) bool {
	for _, v := range s.FamilyVariants[family] {
		if v == variant {
			return true
		}
	}
	return false
}

// LogicalSlot is a routable unit of capacity on a backend.
type LogicalSlot struct {
	SlotID        string            `json:"slotId"`
	SlotSuffix    string            `json:"slotSuffix,omitempty"`
	ServerID      string            `json:"serverId"`
	Status        types.SlotStatus  `json:"status"`
	OnlinePlayers int               `json:"onlinePlayers"`
	MaxPlayers    int               `json:"maxPlayers"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	// FirstSeen is a registry-assigned ordinal used as the stable tiebreaker
	// in slot selection.
	FirstSeen int64 `json:"firstSeen"`
}

// Family returns the family metadata of the slot. Routable slots always
// carry one.
func (s *LogicalSlot) Family() string {
	return s.Metadata[types.MetaFamily]
}

// Variant returns the variant metadata of the slot, if any.
func (s *LogicalSlot) Variant() string {
	return s.Metadata[types.MetaVariant]
}

// Remaining is the slot's free capacity, ignoring pending reservations.
func (s *LogicalSlot) Remaining() int {
	return s.MaxPlayers - s.OnlinePlayers
}

// SuffixOf derives a slot suffix from its id, e.g. "main" for "lobby:1:main".
func SuffixOf(slotID string) string {
	if idx := strings.LastIndex(slotID, ":"); idx >= 0 {
		return slotID[idx+1:]
	}
	return slotID
}

// NormalizeSlotID canonicalises a slot id for blocked-set comparisons.
func NormalizeSlotID(slotID string) string {
	return strings.ToLower(strings.TrimSpace(slotID))
}
