// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package message

import (
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// Scoreboard is the sidebar skin carried by a network profile.
type Scoreboard struct {
	Title  string `json:"title,omitempty"`
	Footer string `json:"footer,omitempty"`
}

// NetworkProfile is the tagged, immutable network-wide presentation snapshot.
// Ranks maps rank id to its visual (prefix/color string).
type NetworkProfile struct {
	ProfileID  string            `json:"profileId"`
	Tag        string            `json:"tag,omitempty"`
	ServerIP   string            `json:"serverIp,omitempty"`
	MOTD       []string          `json:"motd,omitempty"`
	Scoreboard Scoreboard        `json:"scoreboard"`
	Ranks      map[string]string `json:"ranks,omitempty"`
	UpdatedAt  int64             `json:"updatedAt"`
}

// NetworkConfigRequest asks the core for the active network profile. The
// answer is sent directed to the requesting node.
type NetworkConfigRequest struct {
	RequestID string `json:"requestId"`
	NodeID    string `json:"nodeId"`
}

func (m *NetworkConfigRequest) Type() string { return types.ChannelNetworkConfigRequest }

func (m *NetworkConfigRequest) Validate() error {
	return requireFields("requestId", m.RequestID, "nodeId", m.NodeID)
}

// NetworkConfigUpdated carries the active profile, either as a broadcast on
// change or as the directed answer to a NetworkConfigRequest.
type NetworkConfigUpdated struct {
	RequestID string         `json:"requestId,omitempty"`
	Profile   NetworkProfile `json:"profile"`
}

func (m *NetworkConfigUpdated) Type() string { return types.ChannelNetworkConfigUpdated }

func (m *NetworkConfigUpdated) Validate() error {
	return requireFields("profile.profileId", m.Profile.ProfileID)
}

// RankMutation is an inbound change of one player's rank assignment.
type RankMutation struct {
	PlayerID      string   `json:"playerId"`
	PrimaryRankID string   `json:"primaryRankId"`
	RankIDs       []string `json:"rankIds,omitempty"`
}

func (m *RankMutation) Type() string { return types.ChannelRankMutation }

func (m *RankMutation) Validate() error {
	return requireFields("playerId", m.PlayerID, "primaryRankId", m.PrimaryRankID)
}

// RankSync is the broadcast every runtime consumes to refresh a player's
// rank visuals.
type RankSync struct {
	PlayerID      string   `json:"playerId"`
	PrimaryRankID string   `json:"primaryRankId"`
	RankIDs       []string `json:"rankIds,omitempty"`
}

func (m *RankSync) Type() string { return types.ChannelRankUpdate }

func (m *RankSync) Validate() error {
	return requireFields("playerId", m.PlayerID, "primaryRankId", m.PrimaryRankID)
}
