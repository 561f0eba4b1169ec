// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package routing

import (
	"time"

	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
)

// RequestContext is a player slot request enriched with the routing state it
// accumulates while queued and retried. The JSON shape is what the queue and
// in-flight mirrors persist.
type RequestContext struct {
	Request        *message.PlayerSlotRequest `json:"request"`
	CreatedAt      time.Time                  `json:"createdAt"`
	LastEnqueuedAt time.Time                  `json:"lastEnqueuedAt"`
	Retries        int                        `json:"retries"`
	// BlockedSlots holds normalized slot ids this request must not land on:
	// the player's current slot, previous slot and recent assignments.
	BlockedSlots    []string `json:"blockedSlots,omitempty"`
	VariantID       string   `json:"variantId,omitempty"`
	PreferredSlotID string   `json:"preferredSlotId,omitempty"`
	IsRejoin        bool     `json:"isRejoin,omitempty"`
}

// FamilyID returns the request's target family.
func (c *RequestContext) FamilyID() string {
	return c.Request.FamilyID
}

// Blocks reports whether the slot is in the request's blocked set.
func (c *RequestContext) Blocks(slotID string) bool {
	normalized := registry.NormalizeSlotID(slotID)
	for _, blocked := range c.BlockedSlots {
		if blocked == normalized {
			return true
		}
	}
	return false
}

// Block adds a slot to the blocked set.
func (c *RequestContext) Block(slotID string) {
	if slotID == "" || c.Blocks(slotID) {
		return
	}
	c.BlockedSlots = append(c.BlockedSlots, registry.NormalizeSlotID(slotID))
}

// InFlightRoute is one dispatched route command awaiting its acknowledgement.
// At most one exists per request id.
type InFlightRoute struct {
	RequestID    string          `json:"requestId"`
	ServerID     string          `json:"serverId"`
	SlotID       string          `json:"slotId"`
	Context      *RequestContext `json:"context"`
	DispatchedAt time.Time       `json:"dispatchedAt"`

	timeout *TimerHandle
}
