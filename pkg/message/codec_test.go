// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package message_test

import (
	"encoding/json"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

var _ = Describe("Envelope codec", func() {

	It("tags the payload with its messageType", func() {
		raw, err := message.Encode(&message.Heartbeat{
			NodeID:      "fulcrum-proxy-1",
			PlayerCount: 42,
			Timestamp:   message.NowMillis(),
		})
		Expect(err).NotTo(HaveOccurred())

		var fields map[string]json.RawMessage
		Expect(json.Unmarshal(raw, &fields)).To(Succeed())
		Expect(string(fields["messageType"])).To(Equal(`"heartbeat"`))
	})

	It("injects the version for versioned messages", func() {
		raw, err := message.Encode(&message.ShutdownIntent{
			ID:               "intent-1",
			Services:         []string{"fulcrum-server-2"},
			CountdownSeconds: 30,
		})
		Expect(err).NotTo(HaveOccurred())

		var fields map[string]json.RawMessage
		Expect(json.Unmarshal(raw, &fields)).To(Succeed())
		Expect(string(fields["version"])).To(Equal("1"))
	})

	It("round-trips a route command through the envelope", func() {
		cmd := &message.PlayerRouteCommand{
			Action:     types.ActionRoute,
			RequestID:  "req-1",
			PlayerID:   "player-1",
			ProxyID:    "fulcrum-proxy-1",
			ServerID:   "fulcrum-server-3",
			SlotID:     "lobby:3:main",
			SlotSuffix: "main",
			SpawnY:     64,
			Metadata:   map[string]string{types.MetaFamily: "lobby"},
		}
		raw, err := message.Encode(cmd)
		Expect(err).NotTo(HaveOccurred())

		decoded, err := message.Decode(raw)
		Expect(err).NotTo(HaveOccurred())
		routed, ok := decoded.(*message.PlayerRouteCommand)
		Expect(ok).To(BeTrue())
		Expect(routed.SlotID).To(Equal("lobby:3:main"))
		Expect(routed.SpawnY).To(Equal(64.0))
		Expect(routed.Metadata).To(HaveKeyWithValue(types.MetaFamily, "lobby"))
	})

	It("rejects payloads without a messageType", func() {
		_, err := message.Decode([]byte(`{"nodeId":"fulcrum-proxy-1"}`))
		Expect(err).To(MatchError(message.ErrMissingField))
	})

	It("rejects unknown message types", func() {
		_, err := message.Decode([]byte(`{"messageType":"no.such.channel"}`))
		Expect(err).To(MatchError(message.ErrUnknownType))
	})

	It("rejects payloads that fail validation", func() {
		raw := []byte(`{"messageType":"player.request","requestId":"req-1"}`)
		_, err := message.Decode(raw)
		Expect(err).To(MatchError(message.ErrMissingField))
	})

	It("rejects route commands with an unknown action", func() {
		raw := []byte(`{"messageType":"player.route.command","action":"TELEPORT",` +
			`"requestId":"req-1","playerId":"player-1","proxyId":"fulcrum-proxy-1"}`)
		_, err := message.Decode(raw)
		Expect(err).To(HaveOccurred())
	})

	It("requires a reason on disconnect commands", func() {
		cmd := &message.PlayerRouteCommand{
			Action:    types.ActionDisconnect,
			RequestID: "req-1",
			PlayerID:  "player-1",
			ProxyID:   "fulcrum-proxy-1",
		}
		Expect(cmd.Validate()).To(MatchError(message.ErrMissingField))
		cmd.Reason = types.ReasonQueueTimeout
		Expect(cmd.Validate()).To(Succeed())
	})
})
