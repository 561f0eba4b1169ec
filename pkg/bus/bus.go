// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0

// Package bus carries typed messages between the core and the fleet. The
// core uses exactly four primitives: Subscribe, Unsubscribe, Broadcast and
// Send; directed traffic travels on channels derived per node.
package bus

import (
	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/message"
)

// Handler consumes a decoded, validated message. Handlers run on the bus
// dispatch path and must hand off long work instead of blocking it.
type Handler func(msg message.Message)

// MessageBus is the transport surface of the core.
type MessageBus interface {
	Subscribe(channel string, handler Handler) error
	Unsubscribe(channel string, handler Handler) error
	Broadcast(channel string, msg message.Message) error
	// Send publishes on the directed form of channel for one target node.
	Send(targetID, channel string, msg message.Message) error
	Close() error
}

// Directed derives the per-node form of a channel, e.g.
// "player.route.fulcrum-proxy-1".
func Directed(channel, targetID string) string {
	return channel + "." + targetID
}

// dispatch decodes a raw payload and hands it to the handler. Undecodable
// and invalid payloads are logged and dropped; a panicking handler never
// propagates into the bus thread.
func dispatch(logger *zap.SugaredLogger, channel string, raw []byte, handler Handler) {
	msg, err := message.Decode(raw)
	if err != nil {
		logger.Warnf("Dropping message on %s: %v", channel, err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Handler panic on %s (%s): %v", channel, msg.Type(), r)
		}
	}()
	handler(msg)
}
