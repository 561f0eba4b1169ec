// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package message

import (
	"fmt"

	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// SlotFamilyAdvertisement declares which slot families a backend can host,
// how many slots of each it will take, and which variants it offers.
type SlotFamilyAdvertisement struct {
	ServerID         string              `json:"serverId"`
	FamilyCapacities map[string]int      `json:"familyCapacities"`
	FamilyVariants   map[string][]string `json:"familyVariants,omitempty"`
}

func (m *SlotFamilyAdvertisement) Type() string { return types.ChannelSlotFamilyAdvertisement }

func (m *SlotFamilyAdvertisement) Validate() error {
	if err := requireFields("serverId", m.ServerID); err != nil {
		return err
	}
	if len(m.FamilyCapacities) == 0 {
		return fmt.Errorf("%w: familyCapacities", ErrMissingField)
	}
	return nil
}

// SlotStatusUpdate reports a slot transition from the hosting backend.
type SlotStatusUpdate struct {
	ServerID      string            `json:"serverId"`
	SlotID        string            `json:"slotId"`
	Status        types.SlotStatus  `json:"status"`
	OnlinePlayers int               `json:"onlinePlayers"`
	MaxPlayers    int               `json:"maxPlayers"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (m *SlotStatusUpdate) Type() string { return types.ChannelSlotStatus }

func (m *SlotStatusUpdate) Validate() error {
	if err := requireFields("serverId", m.ServerID, "slotId", m.SlotID); err != nil {
		return err
	}
	switch m.Status {
	case types.SlotProvisioning, types.SlotAvailable, types.SlotAllocated,
		types.SlotFaulted, types.SlotCooldown:
		return nil
	case "":
		return fmt.Errorf("%w: status", ErrMissingField)
	default:
		return fmt.Errorf("unknown slot status %q", m.Status)
	}
}

// SlotProvisionRequest orders a backend to bring up a new slot of a family.
type SlotProvisionRequest struct {
	ServerID string            `json:"serverId"`
	FamilyID string            `json:"familyId"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (m *SlotProvisionRequest) Type() string { return types.ChannelSlotProvisionRequest }

func (m *SlotProvisionRequest) Validate() error {
	return requireFields("serverId", m.ServerID, "familyId", m.FamilyID)
}
