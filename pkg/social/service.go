// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package social

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/bus"
	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// Service applies friend mutations from the proxies against the relation
// graph and broadcasts the resulting events. Failed mutations answer the
// originating proxy with a negative ack on the same request id.
type Service struct {
	bus       bus.MessageBus
	relations *Relations
	logger    *zap.SugaredLogger
}

// NewService returns the social bus service.
func NewService(b bus.MessageBus, relations *Relations, logger *zap.SugaredLogger) *Service {
	return &Service{bus: b, relations: relations, logger: logger}
}

// Relations exposes the graph.
func (s *Service) Relations() *Relations { return s.relations }

// Start subscribes the mutation channel.
func (s *Service) Start() error {
	if err := s.bus.Subscribe(types.ChannelFriendMutationRequest, s.onMutation); err != nil {
		return fmt.Errorf("social boot: %w", err)
	}
	s.logger.Info("Social service started")
	return nil
}

func (s *Service) onMutation(msg message.Message) {
	cmd, ok := msg.(*message.FriendMutationCommand)
	if !ok {
		return
	}
	var err error
	switch cmd.MutationType {
	case message.MutationRequest:
		err = s.request(cmd)
	case message.MutationAccept:
		err = s.accept(cmd)
	case message.MutationDecline:
		err = s.decline(cmd)
	case message.MutationRemove:
		err = s.remove(cmd)
	case message.MutationBlock:
		err = s.block(cmd)
	case message.MutationUnblock:
		err = s.unblock(cmd)
	}
	if err != nil {
		s.logger.Debugf("Friend mutation %s (%s) by %s failed: %v",
			cmd.RequestID, cmd.MutationType, cmd.ActorID, err)
		s.nack(cmd, err)
	}
}

func (s *Service) request(cmd *message.FriendMutationCommand) error {
	var expiresAt time.Time
	if cmd.ExpiresAt > 0 {
		expiresAt = time.UnixMilli(cmd.ExpiresAt)
	}
	invite, err := s.relations.Request(cmd.ActorID, cmd.TargetID, expiresAt)
	if err != nil {
		return err
	}
	s.requestEvent(cmd, message.EventInviteCreated, invite.ExpiresAt)
	return nil
}

func (s *Service) accept(cmd *message.FriendMutationCommand) error {
	if err := s.relations.Accept(cmd.ActorID, cmd.TargetID); err != nil {
		return err
	}
	s.requestEvent(cmd, message.EventInviteAccepted, time.Time{})
	s.relationEvent(cmd, message.EventFriendAdded)
	return nil
}

func (s *Service) decline(cmd *message.FriendMutationCommand) error {
	if err := s.relations.Decline(cmd.ActorID, cmd.TargetID); err != nil {
		return err
	}
	s.requestEvent(cmd, message.EventInviteDeclined, time.Time{})
	return nil
}

func (s *Service) remove(cmd *message.FriendMutationCommand) error {
	if err := s.relations.Remove(cmd.ActorID, cmd.TargetID); err != nil {
		return err
	}
	s.relationEvent(cmd, message.EventFriendRemoved)
	return nil
}

func (s *Service) block(cmd *message.FriendMutationCommand) error {
	wereFriends, err := s.relations.Block(cmd.ActorID, cmd.TargetID)
	if err != nil {
		return err
	}
	if wereFriends {
		s.relationEvent(cmd, message.EventFriendRemoved)
	}
	s.relationEvent(cmd, message.EventPlayerBlocked)
	return nil
}

func (s *Service) unblock(cmd *message.FriendMutationCommand) error {
	if err := s.relations.Unblock(cmd.ActorID, cmd.TargetID); err != nil {
		return err
	}
	s.relationEvent(cmd, message.EventPlayerUnblocked)
	return nil
}

func (s *Service) relationEvent(cmd *message.FriendMutationCommand, eventType string) {
	if err := s.bus.Broadcast(types.ChannelFriendRelationEvent, &message.FriendRelationEvent{
		RequestID: cmd.RequestID,
		EventType: eventType,
		ActorID:   cmd.ActorID,
		TargetID:  cmd.TargetID,
		Timestamp: message.NowMillis(),
	}); err != nil {
		s.logger.Warnf("Relation event %s: %v", eventType, err)
	}
}

func (s *Service) requestEvent(cmd *message.FriendMutationCommand, eventType string, expiresAt time.Time) {
	event := &message.FriendRequestEvent{
		RequestID: cmd.RequestID,
		EventType: eventType,
		ActorID:   cmd.ActorID,
		TargetID:  cmd.TargetID,
		Timestamp: message.NowMillis(),
	}
	if !expiresAt.IsZero() {
		event.ExpiresAt = expiresAt.UnixMilli()
	}
	if err := s.bus.Broadcast(types.ChannelFriendRequestEvent, event); err != nil {
		s.logger.Warnf("Request event %s: %v", eventType, err)
	}
}

func (s *Service) nack(cmd *message.FriendMutationCommand, cause error) {
	if err := s.bus.Send(cmd.ProxyID, types.ChannelFriendMutationAck, &message.FriendMutationAck{
		RequestID: cmd.RequestID,
		Success:   false,
		Reason:    cause.Error(),
	}); err != nil {
		s.logger.Warnf("Mutation ack to %s: %v", cmd.ProxyID, err)
	}
}
