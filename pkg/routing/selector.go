// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package routing

import (
	"sort"

	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// Selector picks the slot a request lands on. It packs players into the
// fullest acceptable slot to keep fragmentation down; pending reservations
// count toward occupancy.
type Selector struct {
	servers *registry.ServerRegistry
	// pending returns the in-flight reservation count of a slot.
	pending func(slotID string) int
}

// NewSelector returns a selector over the server registry.
func NewSelector(servers *registry.ServerRegistry, pending func(slotID string) int) *Selector {
	return &Selector{servers: servers, pending: pending}
}

type candidate struct {
	server *registry.RegisteredServer
	slot   *registry.LogicalSlot

	fill      float64
	occupancy int
	remaining int
}

// FindAvailableSlot returns the best eligible slot for the family and
// variant, skipping the blocked set. The boolean reports a hit.
func (s *Selector) FindAvailableSlot(family, variant string, blocked func(slotID string) bool) (*registry.RegisteredServer, *registry.LogicalSlot, bool) {
	var candidates []candidate
	for _, server := range s.servers.All() {
		if server.Evacuating {
			continue
		}
		for _, slot := range server.Slots {
			if !s.eligible(server, slot, family, variant, blocked) {
				continue
			}
			occupancy := slot.OnlinePlayers + s.pending(slot.SlotID)
			remaining := slot.MaxPlayers - occupancy
			if remaining <= 0 {
				continue
			}
			candidates = append(candidates, candidate{
				server:    server,
				slot:      slot,
				fill:      float64(occupancy) / float64(slot.MaxPlayers),
				occupancy: occupancy,
				remaining: remaining,
			})
		}
	}
	if len(candidates) == 0 {
		return nil, nil, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.fill != b.fill {
			return a.fill > b.fill
		}
		if a.occupancy != b.occupancy {
			return a.occupancy > b.occupancy
		}
		if a.remaining != b.remaining {
			return a.remaining < b.remaining
		}
		return a.slot.FirstSeen < b.slot.FirstSeen
	})
	best := candidates[0]
	return best.server, best.slot, true
}

func (s *Selector) eligible(server *registry.RegisteredServer, slot *registry.LogicalSlot, family, variant string, blocked func(slotID string) bool) bool {
	if slot.Status != types.SlotAvailable && slot.Status != types.SlotAllocated {
		return false
	}
	if slot.Family() != family {
		return false
	}
	if !VariantMatches(server, slot, variant) {
		return false
	}
	if blocked != nil && blocked(slot.SlotID) {
		return false
	}
	return true
}

// VariantMatches applies the variant rule: a request without a variant takes
// any slot; a slot declaring its own variant must match exactly; only slots
// without one fall back to the server's advertised variants for the family.
func VariantMatches(server *registry.RegisteredServer, slot *registry.LogicalSlot, variant string) bool {
	if variant == "" {
		return true
	}
	if own := slot.Variant(); own != "" {
		return own == variant
	}
	return server.AdvertisesVariant(slot.Family(), variant)
}
