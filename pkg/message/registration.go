// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package message

import (
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// ServerRegistrationRequest is sent by a backend that wants to join the fleet.
// The tempId correlates the eventual response with this request.
type ServerRegistrationRequest struct {
	TempID          string `json:"tempId"`
	ServerType      string `json:"serverType"`
	MaxCapacity     int    `json:"maxCapacity"`
	Address         string `json:"address"`
	Port            int    `json:"port"`
	Role            string `json:"role,omitempty"`
	SoftwareVersion string `json:"version,omitempty"`
}

func (m *ServerRegistrationRequest) Type() string { return types.ChannelServerRegistrationRequest }

func (m *ServerRegistrationRequest) Validate() error {
	if err := requireFields(
		"tempId", m.TempID,
		"serverType", m.ServerType,
		"address", m.Address,
	); err != nil {
		return err
	}
	if err := requirePositive("port", m.Port); err != nil {
		return err
	}
	return requirePositive("maxCapacity", m.MaxCapacity)
}

// ServerRegistrationResponse carries the assigned identifier back to the
// registering node. For proxies the assignment lands in proxyId, for backends
// in assignedServerId.
type ServerRegistrationResponse struct {
	TempID           string `json:"tempId,omitempty"`
	AssignedServerID string `json:"assignedServerId,omitempty"`
	Success          bool   `json:"success"`
	Message          string `json:"message,omitempty"`
	ServerType       string `json:"serverType,omitempty"`
	Address          string `json:"address,omitempty"`
	Port             int    `json:"port,omitempty"`
	ProxyID          string `json:"proxyId,omitempty"`
}

func (m *ServerRegistrationResponse) Type() string { return types.ChannelServerRegistrationResponse }

func (m *ServerRegistrationResponse) Validate() error {
	if m.Success && m.AssignedServerID == "" && m.ProxyID == "" {
		return requireFields("assignedServerId", m.AssignedServerID)
	}
	if !m.Success {
		return requireFields("message", m.Message)
	}
	return nil
}

// ServerRemoval tells the proxies that a backend left the fleet.
type ServerRemoval struct {
	ServerID   string `json:"serverId"`
	ServerType string `json:"serverType,omitempty"`
	Reason     string `json:"reason"`
	Timestamp  int64  `json:"timestamp"`
}

func (m *ServerRemoval) Type() string { return types.ChannelServerRemoval }

func (m *ServerRemoval) Validate() error {
	return requireFields("serverId", m.ServerID, "reason", m.Reason)
}

// Heartbeat is the liveness beacon every node emits periodically.
type Heartbeat struct {
	NodeID      string  `json:"nodeId"`
	PlayerCount int     `json:"playerCount"`
	TPS         float64 `json:"tps,omitempty"`
	Timestamp   int64   `json:"timestamp"`
}

func (m *Heartbeat) Type() string { return types.ChannelHeartbeat }

func (m *Heartbeat) Validate() error {
	return requireFields("nodeId", m.NodeID)
}

// ReregistrationRequest asks one node (targetId set) or the whole fleet
// (targetId empty) to run its registration handshake again.
type ReregistrationRequest struct {
	Timestamp           int64  `json:"timestamp"`
	Reason              string `json:"reason"`
	ForceReregistration bool   `json:"forceReregistration"`
	TargetID            string `json:"targetId,omitempty"`
}

func (m *ReregistrationRequest) Type() string { return types.ChannelReregistrationRequest }

func (m *ReregistrationRequest) Validate() error {
	return requireFields("reason", m.Reason)
}

// ProxyAnnouncement is an edge proxy introducing itself. A blank proxyId asks
// the registry for a fresh allocation.
type ProxyAnnouncement struct {
	ProxyID            string `json:"proxyId,omitempty"`
	ProxyIndex         int    `json:"proxyIndex,omitempty"`
	HardCap            int    `json:"hardCap,omitempty"`
	SoftCap            int    `json:"softCap,omitempty"`
	CurrentPlayerCount int    `json:"currentPlayerCount,omitempty"`
	Address            string `json:"address"`
	Port               int    `json:"port"`
	Timestamp          int64  `json:"timestamp"`
}

func (m *ProxyAnnouncement) Type() string { return types.ChannelProxyAnnouncement }

func (m *ProxyAnnouncement) Validate() error {
	if err := requireFields("address", m.Address); err != nil {
		return err
	}
	return requirePositive("port", m.Port)
}

// StatusChange is broadcast whenever the heartbeat monitor flips a node's
// liveness classification.
type StatusChange struct {
	NodeID         string           `json:"nodeId"`
	PreviousStatus types.NodeStatus `json:"previousStatus,omitempty"`
	NewStatus      types.NodeStatus `json:"newStatus"`
	Timestamp      int64            `json:"timestamp"`
}

func (m *StatusChange) Type() string { return types.ChannelStatusChange }

func (m *StatusChange) Validate() error {
	return requireFields("nodeId", m.NodeID, "newStatus", string(m.NewStatus))
}
