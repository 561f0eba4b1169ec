// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0

// Package network serves the network-wide presentation profile (MOTD,
// scoreboard skin, rank visuals) and fans out per-player rank changes.
package network

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/bus"
	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// Service holds the active network profile. Profiles are immutable snapshots
// tagged by id; a newer snapshot replaces the active one wholesale.
type Service struct {
	bus    bus.MessageBus
	mirror *registry.Mirror
	logger *zap.SugaredLogger

	mu      sync.Mutex
	profile *message.NetworkProfile
}

// NewService returns the network profile service.
func NewService(b bus.MessageBus, mirror *registry.Mirror, logger *zap.SugaredLogger) *Service {
	return &Service{bus: b, mirror: mirror, logger: logger}
}

// Start restores the active profile and subscribes the inbound channels.
func (s *Service) Start() error {
	var profile message.NetworkProfile
	found, err := s.mirror.LoadNetworkProfile(&profile)
	if err != nil {
		return fmt.Errorf("network boot: %w", err)
	}
	if found {
		s.profile = &profile
	}

	subscriptions := map[string]bus.Handler{
		types.ChannelNetworkConfigRequest: s.onConfigRequest,
		types.ChannelNetworkConfigUpdated: s.onConfigUpdated,
		types.ChannelRankMutation:         s.onRankMutation,
	}
	for channel, handler := range subscriptions {
		if err := s.bus.Subscribe(channel, handler); err != nil {
			return fmt.Errorf("network boot: %w", err)
		}
	}
	s.logger.Info("Network service started")
	return nil
}

// Profile returns the active profile, if any.
func (s *Service) Profile() (*message.NetworkProfile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile, s.profile != nil
}

// SetProfile activates a profile and broadcasts it to the fleet. Snapshots
// older than the active one are ignored.
func (s *Service) SetProfile(profile *message.NetworkProfile) bool {
	s.mu.Lock()
	if s.profile != nil && profile.UpdatedAt <= s.profile.UpdatedAt &&
		profile.ProfileID == s.profile.ProfileID {
		s.mu.Unlock()
		return false
	}
	s.profile = profile
	s.mirror.SaveNetworkProfile(profile)
	s.mu.Unlock()

	if err := s.bus.Broadcast(types.ChannelNetworkConfigUpdated, &message.NetworkConfigUpdated{
		Profile: *profile,
	}); err != nil {
		s.logger.Warnf("Profile broadcast: %v", err)
	}
	s.logger.Infof("Activated network profile %s", profile.ProfileID)
	return true
}

// onConfigRequest answers a node's pull with the active profile, directed.
func (s *Service) onConfigRequest(msg message.Message) {
	req, ok := msg.(*message.NetworkConfigRequest)
	if !ok {
		return
	}
	profile, have := s.Profile()
	if !have {
		s.logger.Debugf("Config request %s from %s before any profile is active", req.RequestID, req.NodeID)
		return
	}
	if err := s.bus.Send(req.NodeID, types.ChannelNetworkConfigUpdated, &message.NetworkConfigUpdated{
		RequestID: req.RequestID,
		Profile:   *profile,
	}); err != nil {
		s.logger.Warnf("Config answer to %s: %v", req.NodeID, err)
	}
}

// onConfigUpdated adopts profile snapshots published by operators elsewhere
// on the bus. Directed answers and our own re-broadcasts carry nothing new
// and are dropped.
func (s *Service) onConfigUpdated(msg message.Message) {
	updated, ok := msg.(*message.NetworkConfigUpdated)
	if !ok || updated.RequestID != "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile != nil && updated.Profile.UpdatedAt <= s.profile.UpdatedAt {
		return
	}
	profile := updated.Profile
	s.profile = &profile
	s.mirror.SaveNetworkProfile(&profile)
	s.logger.Infof("Adopted network profile %s", profile.ProfileID)
}

// onRankMutation fans a rank change out as a RankSync every runtime consumes.
func (s *Service) onRankMutation(msg message.Message) {
	mutation, ok := msg.(*message.RankMutation)
	if !ok {
		return
	}
	if err := s.bus.Broadcast(types.ChannelRankUpdate, &message.RankSync{
		PlayerID:      mutation.PlayerID,
		PrimaryRankID: mutation.PrimaryRankID,
		RankIDs:       mutation.RankIDs,
	}); err != nil {
		s.logger.Warnf("Rank sync for %s: %v", mutation.PlayerID, err)
	}
}
