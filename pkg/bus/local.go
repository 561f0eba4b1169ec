// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package bus

import (
	"fmt"
	"reflect"
	"sync"

	mb "github.com/vardius/message-bus"
	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/message"
)

// LocalBus is an in-process MessageBus. Messages still round-trip through
// the envelope codec so that tests exercise the same encode/decode path as
// the wire bus.
type LocalBus struct {
	bus    mb.MessageBus
	logger *zap.SugaredLogger

	mu   sync.Mutex
	subs map[string]map[uintptr]func(raw []byte)
}

// NewLocalBus returns a LocalBus with the given per-subscriber queue size.
func NewLocalBus(logger *zap.SugaredLogger, queueSize int) *LocalBus {
	return &LocalBus{
		bus:    mb.New(queueSize),
		logger: logger,
		subs:   map[string]map[uintptr]func(raw []byte){},
	}
}

func (l *LocalBus) Subscribe(channel string, handler Handler) error {
	wrapped := func(raw []byte) {
		dispatch(l.logger, channel, raw, handler)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.bus.Subscribe(channel, wrapped); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	byHandler, ok := l.subs[channel]
	if !ok {
		byHandler = map[uintptr]func(raw []byte){}
		l.subs[channel] = byHandler
	}
	byHandler[reflect.ValueOf(handler).Pointer()] = wrapped
	return nil
}

func (l *LocalBus) Unsubscribe(channel string, handler Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := reflect.ValueOf(handler).Pointer()
	wrapped, ok := l.subs[channel][key]
	if !ok {
		return fmt.Errorf("no subscription for %s", channel)
	}
	delete(l.subs[channel], key)
	if err := l.bus.Unsubscribe(channel, wrapped); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", channel, err)
	}
	return nil
}

func (l *LocalBus) Broadcast(channel string, msg message.Message) error {
	raw, err := message.Encode(msg)
	if err != nil {
		return err
	}
	l.bus.Publish(channel, raw)
	return nil
}

func (l *LocalBus) Send(targetID, channel string, msg message.Message) error {
	return l.Broadcast(Directed(channel, targetID), msg)
}

func (l *LocalBus) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for channel := range l.subs {
		l.bus.Close(channel)
	}
	l.subs = map[string]map[uintptr]func(raw []byte){}
	return nil
}
