// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0

// Package message defines the payloads exchanged over the bus and the
// envelope codec that tags each of them with its messageType.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

var (
	// ErrUnknownType is returned when a payload carries a messageType no
	// factory is registered for.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingField is returned by Validate when a required field is
	// absent or blank.
	ErrMissingField = errors.New("missing required field")
)

// Message is a typed bus payload.
type Message interface {
	Type() string
	Validate() error
}

// Versioned is implemented by messages whose envelope carries a version field.
type Versioned interface {
	Version() int
}

// factories maps messageType to a constructor for the matching struct.
// Deserialization dispatch is by messageType; unknown types surface as
// ErrUnknownType and are dropped by the bus.
var factories = map[string]func() Message{
	types.ChannelServerRegistrationRequest:  func() Message { return &ServerRegistrationRequest{} },
	types.ChannelServerRegistrationResponse: func() Message { return &ServerRegistrationResponse{} },
	types.ChannelServerRemoval:              func() Message { return &ServerRemoval{} },
	types.ChannelServerEvacuationRequest:    func() Message { return &ServerEvacuationRequest{} },
	types.ChannelServerEvacuationResponse:   func() Message { return &ServerEvacuationResponse{} },
	types.ChannelHeartbeat:                  func() Message { return &Heartbeat{} },
	types.ChannelReregistrationRequest:      func() Message { return &ReregistrationRequest{} },
	types.ChannelProxyAnnouncement:          func() Message { return &ProxyAnnouncement{} },
	types.ChannelStatusChange:               func() Message { return &StatusChange{} },
	types.ChannelSlotFamilyAdvertisement:    func() Message { return &SlotFamilyAdvertisement{} },
	types.ChannelSlotStatus:                 func() Message { return &SlotStatusUpdate{} },
	types.ChannelSlotProvisionRequest:       func() Message { return &SlotProvisionRequest{} },
	types.ChannelPlayerRequest:              func() Message { return &PlayerSlotRequest{} },
	types.ChannelPlayerRequestAck:           func() Message { return &PlayerRequestAck{} },
	types.ChannelPlayerReservationRequest:   func() Message { return &PlayerReservationRequest{} },
	types.ChannelPlayerReservationResponse:  func() Message { return &PlayerReservationResponse{} },
	types.ChannelPlayerRouteCommand:         func() Message { return &PlayerRouteCommand{} },
	types.ChannelPlayerRouteAck:             func() Message { return &PlayerRouteAck{} },
	types.ChannelEnvironmentRouteRequest:    func() Message { return &EnvironmentRouteRequest{} },
	types.ChannelPartyReservationCreated:    func() Message { return &PartyReservationCreated{} },
	types.ChannelPartyReservationClaimed:    func() Message { return &PartyReservationClaimed{} },
	types.ChannelMatchRosterCreated:         func() Message { return &MatchRosterCreated{} },
	types.ChannelMatchRosterEnded:           func() Message { return &MatchRosterEnded{} },
	types.ChannelShutdownIntent:             func() Message { return &ShutdownIntent{} },
	types.ChannelShutdownUpdate:             func() Message { return &ShutdownIntentUpdate{} },
	types.ChannelShutdownCancel:             func() Message { return &ShutdownCancel{} },
	types.ChannelNetworkConfigRequest:       func() Message { return &NetworkConfigRequest{} },
	types.ChannelNetworkConfigUpdated:       func() Message { return &NetworkConfigUpdated{} },
	types.ChannelRankMutation:               func() Message { return &RankMutation{} },
	types.ChannelRankUpdate:                 func() Message { return &RankSync{} },
	types.ChannelFriendMutationRequest:      func() Message { return &FriendMutationCommand{} },
	types.ChannelFriendMutationAck:          func() Message { return &FriendMutationAck{} },
	types.ChannelFriendRelationEvent:        func() Message { return &FriendRelationEvent{} },
	types.ChannelFriendRequestEvent:         func() Message { return &FriendRequestEvent{} },
}

// Encode marshals msg and injects messageType (and version, when the message
// declares one) into the resulting JSON object.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type(), err)
	}
	fields["messageType"] = json.RawMessage(strconv.Quote(msg.Type()))
	if v, ok := msg.(Versioned); ok {
		fields["version"] = json.RawMessage(strconv.Itoa(v.Version()))
	}
	return json.Marshal(fields)
}

// Decode peeks the messageType of a raw payload, unmarshals it into the
// matching struct and validates it.
func Decode(raw []byte) (Message, error) {
	var env struct {
		MessageType string `json:"messageType"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.MessageType == "" {
		return nil, fmt.Errorf("%w: messageType", ErrMissingField)
	}
	factory, ok := factories[env.MessageType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.MessageType)
	}
	msg := factory()
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, fmt.Errorf("malformed %s: %w", env.MessageType, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", env.MessageType, err)
	}
	return msg, nil
}

// NowMillis returns the current wall clock as epoch milliseconds, the
// timestamp representation used on the wire.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// TimeFromMillis converts a wire timestamp back into a time.Time.
func TimeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}
