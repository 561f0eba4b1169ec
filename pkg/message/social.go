// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package message

import (
	"fmt"

	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// Friend mutation kinds accepted on the social channel.
const (
	MutationRequest = "request"
	MutationAccept  = "accept"
	MutationDecline = "decline"
	MutationRemove  = "remove"
	MutationBlock   = "block"
	MutationUnblock = "unblock"
)

// Friend event kinds emitted after a successful mutation.
const (
	EventFriendAdded     = "friend-added"
	EventFriendRemoved   = "friend-removed"
	EventPlayerBlocked   = "blocked"
	EventPlayerUnblocked = "unblocked"
	EventInviteCreated   = "invite-created"
	EventInviteAccepted  = "invite-accepted"
	EventInviteDeclined  = "invite-declined"
)

// FriendMutationCommand is a directed social mutation from a proxy. Failures
// are answered with a FriendMutationAck on the same requestId.
type FriendMutationCommand struct {
	RequestID    string            `json:"requestId"`
	MutationType string            `json:"mutationType"`
	ActorID      string            `json:"actorId"`
	TargetID     string            `json:"targetId"`
	ProxyID      string            `json:"proxyId"`
	Scope        string            `json:"scope,omitempty"`
	ExpiresAt    int64             `json:"expiresAt,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (m *FriendMutationCommand) Type() string { return types.ChannelFriendMutationRequest }

func (m *FriendMutationCommand) Validate() error {
	if err := requireFields(
		"requestId", m.RequestID,
		"actorId", m.ActorID,
		"targetId", m.TargetID,
		"proxyId", m.ProxyID,
	); err != nil {
		return err
	}
	switch m.MutationType {
	case MutationRequest, MutationAccept, MutationDecline,
		MutationRemove, MutationBlock, MutationUnblock:
		return nil
	case "":
		return fmt.Errorf("%w: mutationType", ErrMissingField)
	default:
		return fmt.Errorf("unknown mutation type %q", m.MutationType)
	}
}

// FriendMutationAck reports a failed mutation back to the originating proxy.
type FriendMutationAck struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
}

func (m *FriendMutationAck) Type() string { return types.ChannelFriendMutationAck }

func (m *FriendMutationAck) Validate() error {
	return requireFields("requestId", m.RequestID)
}

// FriendRelationEvent is broadcast after a relation changed (add, remove,
// block, unblock).
type FriendRelationEvent struct {
	RequestID string `json:"requestId,omitempty"`
	EventType string `json:"eventType"`
	ActorID   string `json:"actorId"`
	TargetID  string `json:"targetId"`
	Timestamp int64  `json:"timestamp"`
}

func (m *FriendRelationEvent) Type() string { return types.ChannelFriendRelationEvent }

func (m *FriendRelationEvent) Validate() error {
	return requireFields(
		"eventType", m.EventType,
		"actorId", m.ActorID,
		"targetId", m.TargetID,
	)
}

// FriendRequestEvent is broadcast across the invite lifecycle.
type FriendRequestEvent struct {
	RequestID string `json:"requestId,omitempty"`
	EventType string `json:"eventType"`
	ActorID   string `json:"actorId"`
	TargetID  string `json:"targetId"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func (m *FriendRequestEvent) Type() string { return types.ChannelFriendRequestEvent }

func (m *FriendRequestEvent) Validate() error {
	return requireFields(
		"eventType", m.EventType,
		"actorId", m.ActorID,
		"targetId", m.TargetID,
	)
}
