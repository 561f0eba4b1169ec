// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package registry

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/bus"
	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// Service wires the registries, the heartbeat monitor and the shutdown
// coordinator onto the bus. Restore always completes before the first
// subscription goes live.
type Service struct {
	bus      bus.MessageBus
	proxies  *ProxyRegistry
	servers  *ServerRegistry
	monitor  *Monitor
	shutdown *ShutdownCoordinator
	logger   *zap.SugaredLogger
}

// NewService returns the registry bus service.
func NewService(b bus.MessageBus, proxies *ProxyRegistry, servers *ServerRegistry, monitor *Monitor, shutdown *ShutdownCoordinator, logger *zap.SugaredLogger) *Service {
	return &Service{
		bus:      b,
		proxies:  proxies,
		servers:  servers,
		monitor:  monitor,
		shutdown: shutdown,
		logger:   logger,
	}
}

// Start restores every component from the mirror, subscribes the inbound
// channels, launches the periodic loops and asks the fleet to re-announce.
func (s *Service) Start() error {
	if err := s.proxies.Restore(); err != nil {
		return fmt.Errorf("registry boot: %w", err)
	}
	if err := s.servers.Restore(); err != nil {
		return fmt.Errorf("registry boot: %w", err)
	}
	if err := s.monitor.Restore(); err != nil {
		return fmt.Errorf("registry boot: %w", err)
	}
	if err := s.shutdown.Restore(); err != nil {
		return fmt.Errorf("registry boot: %w", err)
	}

	subscriptions := map[string]bus.Handler{
		types.ChannelProxyAnnouncement:         s.onProxyAnnouncement,
		types.ChannelServerRegistrationRequest: s.onServerRegistration,
		types.ChannelHeartbeat:                 s.onHeartbeat,
		types.ChannelSlotFamilyAdvertisement:   s.onAdvertisement,
		types.ChannelShutdownIntent:            s.onShutdownIntent,
		types.ChannelShutdownUpdate:            s.onShutdownUpdate,
		types.ChannelShutdownCancel:            s.onShutdownCancel,
		types.ChannelServerEvacuationResponse:  s.onEvacuationResponse,
	}
	for channel, handler := range subscriptions {
		if err := s.bus.Subscribe(channel, handler); err != nil {
			return fmt.Errorf("registry boot: %w", err)
		}
	}

	s.proxies.StartCleanup()
	s.servers.StartCleanup()
	s.monitor.Start()

	// Anything alive before this incarnation should announce itself again.
	if err := s.bus.Broadcast(types.ChannelReregistrationRequest, &message.ReregistrationRequest{
		Timestamp:           message.NowMillis(),
		Reason:              "registry started",
		ForceReregistration: true,
	}); err != nil {
		s.logger.Warnf("Re-registration broadcast: %v", err)
	}
	s.logger.Info("Registry service started")
	return nil
}

// Stop halts the periodic loops and the per-node state machines.
func (s *Service) Stop() {
	s.monitor.Stop()
	s.proxies.Stop()
	s.servers.Stop()
	s.logger.Info("Registry service stopped")
}

func (s *Service) onProxyAnnouncement(msg message.Message) {
	announcement, ok := msg.(*message.ProxyAnnouncement)
	if !ok {
		return
	}
	proxy, err := s.proxies.Register(announcement.ProxyID, announcement.Address, announcement.Port)
	if err != nil {
		s.logger.Warnf("Proxy announcement from %s:%d rejected: %v", announcement.Address, announcement.Port, err)
		return
	}
	if err := s.bus.Broadcast(types.ChannelServerRegistrationResponse, &message.ServerRegistrationResponse{
		Success: true,
		ProxyID: proxy.ID,
		Address: proxy.Address,
		Port:    proxy.Port,
	}); err != nil {
		s.logger.Warnf("Registration response for %s: %v", proxy.ID, err)
	}
}

func (s *Service) onServerRegistration(msg message.Message) {
	req, ok := msg.(*message.ServerRegistrationRequest)
	if !ok {
		return
	}
	server, err := s.servers.Register(ServerRegistration{
		TempID:      req.TempID,
		ServerType:  req.ServerType,
		Role:        req.Role,
		Address:     req.Address,
		Port:        req.Port,
		MaxCapacity: req.MaxCapacity,
	})
	response := &message.ServerRegistrationResponse{
		TempID:     req.TempID,
		Success:    err == nil,
		ServerType: req.ServerType,
		Address:    req.Address,
		Port:       req.Port,
	}
	if err != nil {
		response.Message = err.Error()
		s.logger.Warnf("Server registration for temp id %s rejected: %v", req.TempID, err)
	} else {
		response.AssignedServerID = server.ID
	}
	if err := s.bus.Broadcast(types.ChannelServerRegistrationResponse, response); err != nil {
		s.logger.Warnf("Registration response for temp id %s: %v", req.TempID, err)
	}
}

func (s *Service) onHeartbeat(msg message.Message) {
	if hb, ok := msg.(*message.Heartbeat); ok {
		s.monitor.OnHeartbeat(hb)
	}
}

func (s *Service) onAdvertisement(msg message.Message) {
	ad, ok := msg.(*message.SlotFamilyAdvertisement)
	if !ok {
		return
	}
	if !s.servers.SetAdvertisement(ad.ServerID, ad.FamilyCapacities, ad.FamilyVariants) {
		s.logger.Warnf("Family advertisement from unknown server %s", ad.ServerID)
	}
}

func (s *Service) onShutdownIntent(msg message.Message) {
	if intent, ok := msg.(*message.ShutdownIntent); ok {
		s.shutdown.HandleIntent(intent)
	}
}

func (s *Service) onShutdownUpdate(msg message.Message) {
	if update, ok := msg.(*message.ShutdownIntentUpdate); ok {
		s.shutdown.HandleUpdate(update)
	}
}

func (s *Service) onShutdownCancel(msg message.Message) {
	if cancel, ok := msg.(*message.ShutdownCancel); ok {
		s.shutdown.Cancel(cancel.IntentID)
	}
}

func (s *Service) onEvacuationResponse(msg message.Message) {
	if resp, ok := msg.(*message.ServerEvacuationResponse); ok {
		s.shutdown.HandleEvacuationResponse(resp)
	}
}
