// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package message

import (
	"fmt"

	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// PlayerSlotRequest asks the core to place a player into a slot of familyId.
// Optional metadata keys steer the placement: variant, partyReservationId,
// rejoinSlotId, currentSlotId, previousSlotId, shutdownIntentId.
type PlayerSlotRequest struct {
	RequestID  string            `json:"requestId"`
	PlayerID   string            `json:"playerId"`
	PlayerName string            `json:"playerName"`
	ProxyID    string            `json:"proxyId"`
	FamilyID   string            `json:"familyId"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (m *PlayerSlotRequest) Type() string { return types.ChannelPlayerRequest }

func (m *PlayerSlotRequest) Validate() error {
	return requireFields(
		"requestId", m.RequestID,
		"playerId", m.PlayerID,
		"playerName", m.PlayerName,
		"proxyId", m.ProxyID,
		"familyId", m.FamilyID,
	)
}

// PlayerRequestAck carries soft, non-disconnecting outcomes of a slot request
// back to the originating proxy, e.g. rejoin-slot-unavailable.
type PlayerRequestAck struct {
	RequestID string          `json:"requestId"`
	PlayerID  string          `json:"playerId"`
	Status    types.AckStatus `json:"status"`
	Reason    string          `json:"reason,omitempty"`
}

func (m *PlayerRequestAck) Type() string { return types.ChannelPlayerRequestAck }

func (m *PlayerRequestAck) Validate() error {
	return requireFields(
		"requestId", m.RequestID,
		"playerId", m.PlayerID,
		"status", string(m.Status),
	)
}

// PlayerReservationRequest asks a backend to hold a place for one player.
// Its requestId is minted per reservation attempt and is distinct from the
// player's original request id.
type PlayerReservationRequest struct {
	RequestID  string            `json:"requestId"`
	PlayerID   string            `json:"playerId"`
	PlayerName string            `json:"playerName,omitempty"`
	ProxyID    string            `json:"proxyId"`
	ServerID   string            `json:"serverId"`
	SlotID     string            `json:"slotId"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (m *PlayerReservationRequest) Type() string { return types.ChannelPlayerReservationRequest }

func (m *PlayerReservationRequest) Validate() error {
	return requireFields(
		"requestId", m.RequestID,
		"playerId", m.PlayerID,
		"proxyId", m.ProxyID,
		"serverId", m.ServerID,
		"slotId", m.SlotID,
	)
}

// PlayerReservationResponse answers a reservation request. Accepted responses
// carry the token the route command must present to the backend.
type PlayerReservationResponse struct {
	RequestID        string `json:"requestId"`
	ServerID         string `json:"serverId"`
	Accepted         bool   `json:"accepted"`
	ReservationToken string `json:"reservationToken,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

func (m *PlayerReservationResponse) Type() string { return types.ChannelPlayerReservationResponse }

func (m *PlayerReservationResponse) Validate() error {
	return requireFields("requestId", m.RequestID, "serverId", m.ServerID)
}

// PlayerRouteCommand instructs the proxy (and informs the target backend)
// to move a player, or to disconnect them with a reason.
type PlayerRouteCommand struct {
	Action      types.RouteAction `json:"action"`
	RequestID   string            `json:"requestId"`
	PlayerID    string            `json:"playerId"`
	PlayerName  string            `json:"playerName,omitempty"`
	ProxyID     string            `json:"proxyId"`
	ServerID    string            `json:"serverId,omitempty"`
	SlotID      string            `json:"slotId,omitempty"`
	SlotSuffix  string            `json:"slotSuffix,omitempty"`
	TargetWorld string            `json:"targetWorld,omitempty"`
	SpawnX      float64           `json:"spawnX"`
	SpawnY      float64           `json:"spawnY"`
	SpawnZ      float64           `json:"spawnZ"`
	SpawnYaw    float64           `json:"spawnYaw"`
	SpawnPitch  float64           `json:"spawnPitch"`
	Reason      string            `json:"reason,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (m *PlayerRouteCommand) Type() string { return types.ChannelPlayerRouteCommand }

func (m *PlayerRouteCommand) Version() int { return 1 }

func (m *PlayerRouteCommand) Validate() error {
	if err := requireFields(
		"requestId", m.RequestID,
		"playerId", m.PlayerID,
		"proxyId", m.ProxyID,
	); err != nil {
		return err
	}
	switch m.Action {
	case types.ActionRoute:
		return requireFields("serverId", m.ServerID, "slotId", m.SlotID)
	case types.ActionDisconnect:
		return requireFields("reason", m.Reason)
	case "":
		return fmt.Errorf("%w: action", ErrMissingField)
	default:
		return fmt.Errorf("unknown route action %q", m.Action)
	}
}

// PlayerRouteAck closes a dispatched route from the proxy side.
type PlayerRouteAck struct {
	RequestID string          `json:"requestId"`
	PlayerID  string          `json:"playerId"`
	ProxyID   string          `json:"proxyId"`
	Status    types.AckStatus `json:"status"`
	Reason    string          `json:"reason,omitempty"`
	SlotID    string          `json:"slotId,omitempty"`
}

func (m *PlayerRouteAck) Type() string { return types.ChannelPlayerRouteAck }

func (m *PlayerRouteAck) Validate() error {
	if err := requireFields(
		"requestId", m.RequestID,
		"playerId", m.PlayerID,
		"proxyId", m.ProxyID,
	); err != nil {
		return err
	}
	switch m.Status {
	case types.AckSuccess, types.AckFailed:
		return nil
	case "":
		return fmt.Errorf("%w: status", ErrMissingField)
	default:
		return fmt.Errorf("unknown ack status %q", m.Status)
	}
}

// EnvironmentRouteRequest moves a player across environments (e.g. into a
// build server) by server role, bypassing the reservation handshake.
type EnvironmentRouteRequest struct {
	RequestID           string            `json:"requestId"`
	PlayerID            string            `json:"playerId"`
	PlayerName          string            `json:"playerName,omitempty"`
	ProxyID             string            `json:"proxyId"`
	OriginServerID      string            `json:"originServerId,omitempty"`
	TargetEnvironmentID string            `json:"targetEnvironmentId"`
	TargetServerID      string            `json:"targetServerId,omitempty"`
	WorldName           string            `json:"worldName,omitempty"`
	SpawnX              float64           `json:"spawnX"`
	SpawnY              float64           `json:"spawnY"`
	SpawnZ              float64           `json:"spawnZ"`
	SpawnYaw            float64           `json:"spawnYaw"`
	SpawnPitch          float64           `json:"spawnPitch"`
	FailureMode         types.FailureMode `json:"failureMode,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

func (m *EnvironmentRouteRequest) Type() string { return types.ChannelEnvironmentRouteRequest }

func (m *EnvironmentRouteRequest) Validate() error {
	return requireFields(
		"requestId", m.RequestID,
		"playerId", m.PlayerID,
		"proxyId", m.ProxyID,
		"targetEnvironmentId", m.TargetEnvironmentID,
	)
}
