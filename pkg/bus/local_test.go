// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package bus_test

import (
	"sync/atomic"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/bus"
	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

var _ = Describe("LocalBus", func() {

	var (
		logger = zap.NewNop().Sugar()
		b      *bus.LocalBus
	)

	BeforeEach(func() {
		b = bus.NewLocalBus(logger, 64)
	})

	AfterEach(func() {
		Expect(b.Close()).To(Succeed())
	})

	It("delivers a broadcast to every subscriber, decoded and typed", func() {
		var first, second atomic.Int32
		Expect(b.Subscribe(types.ChannelHeartbeat, func(msg message.Message) {
			hb, ok := msg.(*message.Heartbeat)
			Expect(ok).To(BeTrue())
			Expect(hb.NodeID).To(Equal("fulcrum-proxy-1"))
			first.Add(1)
		})).To(Succeed())
		Expect(b.Subscribe(types.ChannelHeartbeat, func(msg message.Message) {
			second.Add(1)
		})).To(Succeed())

		Expect(b.Broadcast(types.ChannelHeartbeat, &message.Heartbeat{
			NodeID:    "fulcrum-proxy-1",
			Timestamp: message.NowMillis(),
		})).To(Succeed())

		Eventually(first.Load).Should(Equal(int32(1)))
		Eventually(second.Load).Should(Equal(int32(1)))
	})

	It("keeps directed sends on the per-node channel", func() {
		var mine, theirs atomic.Int32
		directed := bus.Directed(types.ChannelPlayerRoute, "fulcrum-proxy-1")
		other := bus.Directed(types.ChannelPlayerRoute, "fulcrum-proxy-2")
		Expect(b.Subscribe(directed, func(msg message.Message) { mine.Add(1) })).To(Succeed())
		Expect(b.Subscribe(other, func(msg message.Message) { theirs.Add(1) })).To(Succeed())

		Expect(b.Send("fulcrum-proxy-1", types.ChannelPlayerRoute, &message.PlayerRouteCommand{
			Action:    types.ActionDisconnect,
			RequestID: "req-1",
			PlayerID:  "player-1",
			ProxyID:   "fulcrum-proxy-1",
			Reason:    types.ReasonQueueTimeout,
		})).To(Succeed())

		Eventually(mine.Load).Should(Equal(int32(1)))
		Consistently(theirs.Load).Should(Equal(int32(0)))
	})

	It("drops invalid payloads before they reach the handler", func() {
		var calls atomic.Int32
		Expect(b.Subscribe(types.ChannelHeartbeat, func(msg message.Message) {
			calls.Add(1)
		})).To(Succeed())

		// A heartbeat without its nodeId fails validation in dispatch.
		Expect(b.Broadcast(types.ChannelHeartbeat, &message.Heartbeat{})).To(Succeed())
		Consistently(calls.Load).Should(Equal(int32(0)))
	})

	It("survives a panicking handler", func() {
		var calls atomic.Int32
		Expect(b.Subscribe(types.ChannelHeartbeat, func(msg message.Message) {
			panic("boom")
		})).To(Succeed())
		Expect(b.Subscribe(types.ChannelHeartbeat, func(msg message.Message) {
			calls.Add(1)
		})).To(Succeed())

		Expect(b.Broadcast(types.ChannelHeartbeat, &message.Heartbeat{
			NodeID: "fulcrum-proxy-1",
		})).To(Succeed())
		Eventually(calls.Load).Should(Equal(int32(1)))
	})

	It("stops delivering after Unsubscribe", func() {
		var calls atomic.Int32
		handler := func(msg message.Message) { calls.Add(1) }
		Expect(b.Subscribe(types.ChannelHeartbeat, handler)).To(Succeed())
		Expect(b.Unsubscribe(types.ChannelHeartbeat, handler)).To(Succeed())

		Expect(b.Broadcast(types.ChannelHeartbeat, &message.Heartbeat{
			NodeID: "fulcrum-proxy-1",
		})).To(Succeed())
		Consistently(calls.Load).Should(Equal(int32(0)))
	})
})
