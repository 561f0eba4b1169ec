// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package routing

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/bus"
	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// Service wires the router onto the bus. Restore always completes before the
// first subscription goes live.
type Service struct {
	bus     bus.MessageBus
	router  *Router
	servers *registry.ServerRegistry
	logger  *zap.SugaredLogger
}

// NewService returns the routing bus service.
func NewService(b bus.MessageBus, router *Router, servers *registry.ServerRegistry, logger *zap.SugaredLogger) *Service {
	return &Service{bus: b, router: router, servers: servers, logger: logger}
}

// Start restores the routing state, subscribes the inbound channels and
// launches the queue sweep.
func (s *Service) Start() error {
	if err := s.router.Restore(); err != nil {
		return fmt.Errorf("routing boot: %w", err)
	}

	subscriptions := map[string]bus.Handler{
		types.ChannelSlotStatus:                s.onSlotStatus,
		types.ChannelPlayerRequest:             s.onPlayerRequest,
		types.ChannelPlayerReservationResponse: s.onReservationResponse,
		types.ChannelPlayerRouteAck:            s.onRouteAck,
		types.ChannelEnvironmentRouteRequest:   s.onEnvironmentRoute,
		types.ChannelPartyReservationCreated:   s.onPartyCreated,
		types.ChannelPartyReservationClaimed:   s.onPartyClaimed,
		types.ChannelMatchRosterCreated:        s.onRosterCreated,
		types.ChannelMatchRosterEnded:          s.onRosterEnded,
	}
	for channel, handler := range subscriptions {
		if err := s.bus.Subscribe(channel, handler); err != nil {
			return fmt.Errorf("routing boot: %w", err)
		}
	}

	s.router.Start()
	s.logger.Info("Routing service started")
	return nil
}

// Stop halts the router.
func (s *Service) Stop() {
	s.router.Stop()
	s.logger.Info("Routing service stopped")
}

func (s *Service) onSlotStatus(msg message.Message) {
	update, ok := msg.(*message.SlotStatusUpdate)
	if !ok {
		return
	}
	slot, previous, err := s.servers.UpdateSlot(update.ServerID, registry.SlotUpdate{
		SlotID:        update.SlotID,
		Status:        update.Status,
		OnlinePlayers: update.OnlinePlayers,
		MaxPlayers:    update.MaxPlayers,
		Metadata:      update.Metadata,
	})
	if err != nil {
		s.logger.Warnf("Slot update %s from %s: %v", update.SlotID, update.ServerID, err)
		return
	}
	s.router.OnSlotTransition(slot, previous)
}

func (s *Service) onPlayerRequest(msg message.Message) {
	if req, ok := msg.(*message.PlayerSlotRequest); ok {
		s.router.HandlePlayerRequest(req)
	}
}

func (s *Service) onReservationResponse(msg message.Message) {
	if resp, ok := msg.(*message.PlayerReservationResponse); ok {
		s.router.OnReservationResponse(resp)
	}
}

func (s *Service) onRouteAck(msg message.Message) {
	if ack, ok := msg.(*message.PlayerRouteAck); ok {
		s.router.OnRouteAck(ack)
	}
}

func (s *Service) onEnvironmentRoute(msg message.Message) {
	if req, ok := msg.(*message.EnvironmentRouteRequest); ok {
		s.router.HandleEnvironmentRoute(req)
	}
}

func (s *Service) onPartyCreated(msg message.Message) {
	if created, ok := msg.(*message.PartyReservationCreated); ok {
		s.router.OnPartyReservationCreated(created)
	}
}

func (s *Service) onPartyClaimed(msg message.Message) {
	if claimed, ok := msg.(*message.PartyReservationClaimed); ok {
		s.router.OnPartyReservationClaimed(claimed)
	}
}

func (s *Service) onRosterCreated(msg message.Message) {
	if created, ok := msg.(*message.MatchRosterCreated); ok {
		s.router.OnRosterCreated(created)
	}
}

func (s *Service) onRosterEnded(msg message.Message) {
	if ended, ok := msg.(*message.MatchRosterEnded); ok {
		s.router.OnRosterEnded(ended)
	}
}
