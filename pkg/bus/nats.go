// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package bus

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/message"
)

// NatsBus is the wire MessageBus. Channel names map one to one onto NATS
// subjects; per-subject ordering of a single connection gives the per-channel
// ordering the registries rely on.
type NatsBus struct {
	conn   *nats.Conn
	logger *zap.SugaredLogger

	mu   sync.Mutex
	subs map[string]map[uintptr]*nats.Subscription
}

// NewNatsBus connects to the NATS endpoint. The connection reconnects
// indefinitely; the core treats a flapping bus as a transport concern, not a
// registry concern.
func NewNatsBus(url string, logger *zap.SugaredLogger) (*NatsBus, error) {
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NatsBus{
		conn:   conn,
		logger: logger,
		subs:   map[string]map[uintptr]*nats.Subscription{},
	}, nil
}

func (n *NatsBus) Subscribe(channel string, handler Handler) error {
	sub, err := n.conn.Subscribe(channel, func(m *nats.Msg) {
		dispatch(n.logger, channel, m.Data, handler)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	byHandler, ok := n.subs[channel]
	if !ok {
		byHandler = map[uintptr]*nats.Subscription{}
		n.subs[channel] = byHandler
	}
	byHandler[reflect.ValueOf(handler).Pointer()] = sub
	return nil
}

func (n *NatsBus) Unsubscribe(channel string, handler Handler) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := reflect.ValueOf(handler).Pointer()
	sub, ok := n.subs[channel][key]
	if !ok {
		return fmt.Errorf("no subscription for %s", channel)
	}
	delete(n.subs[channel], key)
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	return nil
}

func (n *NatsBus) Broadcast(channel string, msg message.Message) error {
	raw, err := message.Encode(msg)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(channel, raw); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

func (n *NatsBus) Send(targetID, channel string, msg message.Message) error {
	return n.Broadcast(Directed(channel, targetID), msg)
}

// Close drains the connection so queued outbound messages still flush.
func (n *NatsBus) Close() error {
	return n.conn.Drain()
}
