// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package routing_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
	"github.com/fulcrumnetwork/fulcrum/pkg/routing"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

var _ = Describe("Router", func() {

	var (
		cfg routing.RouterConfig
		h   *harness
	)

	BeforeEach(func() {
		cfg = routerDefaults()
	})

	JustBeforeEach(func() {
		h = newHarness(cfg)
	})

	AfterEach(func() {
		h.close()
	})

	It("disconnects a request arriving from an unknown proxy", func() {
		h.router.HandlePlayerRequest(&message.PlayerSlotRequest{
			RequestID:  "req-1",
			PlayerID:   "alice",
			PlayerName: "alice",
			ProxyID:    "fulcrum-proxy-9",
			FamilyID:   "lobby",
		})

		commands := h.routeCommands()
		Expect(commands).To(HaveLen(1))
		Expect(commands[0].Action).To(Equal(types.ActionDisconnect))
		Expect(commands[0].Reason).To(Equal(types.ReasonUnknownProxy))
	})

	It("routes a player through the two-phase handshake", func() {
		h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)

		h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", nil))

		reservations := h.reservations()
		Expect(reservations).To(HaveLen(1))
		Expect(reservations[0].SlotID).To(Equal("lobby:1:main"))
		Expect(reservations[0].ServerID).To(Equal(h.backend.ID))
		Expect(reservations[0].PlayerID).To(Equal("alice"))
		// Nothing is routed until the backend confirms the reservation.
		Expect(h.routeCommands()).To(BeEmpty())

		h.acceptReservation("tok-1")
		commands := h.routeCommands()
		Expect(commands).To(HaveLen(1))
		Expect(commands[0].Action).To(Equal(types.ActionRoute))
		Expect(commands[0].SlotID).To(Equal("lobby:1:main"))
		Expect(commands[0].SlotSuffix).To(Equal("main"))
		Expect(commands[0].Metadata).To(HaveKeyWithValue(types.MetaReservationToken, "tok-1"))
		Expect(commands[0].Metadata).To(HaveKeyWithValue(types.MetaFamily, "lobby"))
		// The backend gets the same command on its own channel.
		serverSide := h.pub.Sends(types.ChannelServerPlayerRoute)
		Expect(serverSide).To(HaveLen(1))
		Expect(serverSide[0].Target).To(Equal(h.backend.ID))

		h.router.OnRouteAck(&message.PlayerRouteAck{
			RequestID: "req-1",
			PlayerID:  "alice",
			ProxyID:   h.proxy.ID,
			Status:    types.AckSuccess,
		})
		slot, ok := h.router.Tracker().ActiveSlot("alice")
		Expect(ok).To(BeTrue())
		Expect(slot).To(Equal("lobby:1:main"))
	})

	It("re-places a rejected reservation on the next slot and blocks the failed one", func() {
		Expect(h.servers.SetAdvertisement(h.backend.ID, map[string]int{"lobby": 4}, nil)).To(BeTrue())
		h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)

		h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", nil))
		first := h.reservations()[0]
		h.router.OnReservationResponse(&message.PlayerReservationResponse{
			RequestID: first.RequestID,
			ServerID:  first.ServerID,
			Accepted:  false,
			Reason:    types.ReasonSlotNotReady,
		})

		// The request waits on the queue and a new slot is asked for.
		Expect(h.pub.Sends(types.ChannelSlotProvisionRequest)).To(HaveLen(1))

		slot := h.addSlot("lobby:2:main", "lobby", types.SlotAvailable, 100)
		h.router.OnSlotTransition(slot, "")

		reservations := h.reservations()
		Expect(reservations).To(HaveLen(2))
		Expect(reservations[1].SlotID).To(Equal("lobby:2:main"))
	})

	It("ignores a duplicate reservation response", func() {
		h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)
		h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", nil))
		h.acceptReservation("tok-1")
		h.acceptReservation("tok-1")
		Expect(h.routeCommands()).To(HaveLen(1))
	})

	It("treats an accepted reservation without a token as a failure", func() {
		Expect(h.servers.SetAdvertisement(h.backend.ID, map[string]int{"lobby": 4}, nil)).To(BeTrue())
		h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)

		h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", nil))
		first := h.reservations()[0]
		h.router.OnReservationResponse(&message.PlayerReservationResponse{
			RequestID: first.RequestID,
			ServerID:  first.ServerID,
			Accepted:  true,
		})

		Expect(h.routeCommands()).To(BeEmpty())
		Expect(h.pub.Sends(types.ChannelSlotProvisionRequest)).To(HaveLen(1))
	})

	It("disconnects on a non-retryable route failure", func() {
		h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)
		h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", nil))
		h.acceptReservation("tok-1")

		h.router.OnRouteAck(&message.PlayerRouteAck{
			RequestID: "req-1",
			PlayerID:  "alice",
			ProxyID:   h.proxy.ID,
			Status:    types.AckFailed,
			Reason:    "whitelist",
		})

		commands := h.routeCommands()
		last := commands[len(commands)-1]
		Expect(last.Action).To(Equal(types.ActionDisconnect))
		Expect(last.Reason).To(Equal("whitelist"))
		_, ok := h.router.Tracker().ActiveSlot("alice")
		Expect(ok).To(BeFalse())
	})

	It("retries a transient route failure on fresh capacity", func() {
		h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)
		h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", nil))
		h.acceptReservation("tok-1")

		h.router.OnRouteAck(&message.PlayerRouteAck{
			RequestID: "req-1",
			PlayerID:  "alice",
			ProxyID:   h.proxy.ID,
			Status:    types.AckFailed,
			Reason:    types.ReasonConnectionFailed,
		})
		// No disconnect went out; the request is queued again.
		for _, cmd := range h.routeCommands() {
			Expect(cmd.Action).To(Equal(types.ActionRoute))
		}

		slot := h.addSlot("lobby:2:main", "lobby", types.SlotAvailable, 100)
		h.router.OnSlotTransition(slot, "")
		reservations := h.reservations()
		Expect(reservations).To(HaveLen(2))
		// The failed slot stays blocked for this request.
		Expect(reservations[1].SlotID).To(Equal("lobby:2:main"))
	})

	It("expires queued requests after the maximum wait", func() {
		h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", nil))
		Expect(h.routeCommands()).To(BeEmpty())

		h.clock.Advance(46 * time.Second)
		h.router.Sweep()

		commands := h.routeCommands()
		Expect(commands).To(HaveLen(1))
		Expect(commands[0].Action).To(Equal(types.ActionDisconnect))
		Expect(commands[0].Reason).To(Equal(types.ReasonQueueTimeout))
	})

	It("honours a rejoin into the requested slot", func() {
		h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)
		h.addSlot("lobby:2:main", "lobby", types.SlotAllocated, 100)

		h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", map[string]string{
			types.MetaRejoinSlotID: "lobby:2:main",
		}))

		reservations := h.reservations()
		Expect(reservations).To(HaveLen(1))
		Expect(reservations[0].SlotID).To(Equal("lobby:2:main"))
	})

	It("soft-acks a rejoin into a slot that is no longer allocated", func() {
		// The target exists but its match ended; AVAILABLE is a fresh slot,
		// not the one the player left.
		h.addSlot("skywars:1:main", "skywars", types.SlotAvailable, 8)

		h.router.HandlePlayerRequest(h.request("req-1", "alice", "skywars", map[string]string{
			types.MetaRejoinSlotID: "skywars:1:main",
		}))

		acks := h.pub.Sends(types.ChannelPlayerRequestAck)
		Expect(acks).To(HaveLen(1))
		Expect(acks[0].Msg.(*message.PlayerRequestAck).Reason).To(Equal(types.ReasonRejoinSlotUnavailable))
		Expect(h.reservations()).To(BeEmpty())
	})

	It("soft-acks an impossible rejoin and leaves the next move to the proxy", func() {
		h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)

		h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", map[string]string{
			types.MetaRejoinSlotID: "lobby:9:main",
		}))

		acks := h.pub.Sends(types.ChannelPlayerRequestAck)
		Expect(acks).To(HaveLen(1))
		ack := acks[0].Msg.(*message.PlayerRequestAck)
		Expect(ack.Status).To(Equal(types.AckFailed))
		Expect(ack.Reason).To(Equal(types.ReasonRejoinSlotUnavailable))

		// No disconnect and no fallback placement either; the proxy decides.
		Expect(h.routeCommands()).To(BeEmpty())
		Expect(h.reservations()).To(BeEmpty())
	})

	It("soft-acks a rejoin into a slot of a different family", func() {
		h.addSlot("arena:1:alpha", "arena", types.SlotAllocated, 10)

		h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", map[string]string{
			types.MetaRejoinSlotID: "arena:1:alpha",
		}))

		acks := h.pub.Sends(types.ChannelPlayerRequestAck)
		Expect(acks).To(HaveLen(1))
		Expect(acks[0].Msg.(*message.PlayerRequestAck).Reason).To(Equal(types.ReasonRejoinSlotUnavailable))
		Expect(h.reservations()).To(BeEmpty())
	})

	It("keeps outsiders off a roster-locked slot", func() {
		h.addSlot("skywars:1:main", "skywars", types.SlotAvailable, 8)
		h.router.OnRosterCreated(&message.MatchRosterCreated{
			MatchID:  "match-1",
			SlotID:   "skywars:1:main",
			ServerID: h.backend.ID,
			Players:  []string{"alice"},
		})

		h.router.HandlePlayerRequest(h.request("req-1", "mallory", "skywars", nil))
		Expect(h.reservations()).To(BeEmpty())

		h.router.HandlePlayerRequest(h.request("req-2", "alice", "skywars", nil))
		reservations := h.reservations()
		Expect(reservations).To(HaveLen(1))
		Expect(reservations[0].PlayerID).To(Equal("alice"))
		Expect(reservations[0].SlotID).To(Equal("skywars:1:main"))
	})

	It("drains the queue when a roster lock ends", func() {
		h.addSlot("skywars:1:main", "skywars", types.SlotAvailable, 8)
		h.router.OnRosterCreated(&message.MatchRosterCreated{
			MatchID:  "match-1",
			SlotID:   "skywars:1:main",
			ServerID: h.backend.ID,
			Players:  []string{"alice"},
		})
		h.router.HandlePlayerRequest(h.request("req-1", "mallory", "skywars", nil))
		Expect(h.reservations()).To(BeEmpty())

		h.router.OnRosterEnded(&message.MatchRosterEnded{MatchID: "match-1", SlotID: "skywars:1:main"})

		reservations := h.reservations()
		Expect(reservations).To(HaveLen(1))
		Expect(reservations[0].PlayerID).To(Equal("mallory"))
	})

	It("rewrites the family of an evacuated player holding a ticket", func() {
		Expect(h.shutdown.Announce(&message.ShutdownIntent{
			ID:                  "intent-1",
			Services:            []string{"fulcrum-server-9"},
			CountdownSeconds:    120,
			BackendTransferHint: "lobby",
		})).To(Succeed())
		h.shutdown.HandleUpdate(&message.ShutdownIntentUpdate{
			IntentID:  "intent-1",
			ServiceID: "fulcrum-server-9",
			Phase:     types.PhaseEvacuate,
			PlayerIDs: []string{"alice"},
		})
		h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)

		h.router.HandlePlayerRequest(h.request("req-1", "alice", "skywars", map[string]string{
			types.MetaShutdownIntentID: "intent-1",
		}))

		reservations := h.reservations()
		Expect(reservations).To(HaveLen(1))
		Expect(reservations[0].SlotID).To(Equal("lobby:1:main"))
	})

	It("disconnects a request whose shutdown ticket was already redeemed", func() {
		Expect(h.shutdown.Announce(&message.ShutdownIntent{
			ID:                  "intent-1",
			Services:            []string{"fulcrum-server-9"},
			CountdownSeconds:    120,
			BackendTransferHint: "lobby",
		})).To(Succeed())
		h.shutdown.HandleUpdate(&message.ShutdownIntentUpdate{
			IntentID:  "intent-1",
			ServiceID: "fulcrum-server-9",
			Phase:     types.PhaseEvacuate,
			PlayerIDs: []string{"alice"},
		})
		h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)

		h.router.HandlePlayerRequest(h.request("req-1", "alice", "skywars", map[string]string{
			types.MetaShutdownIntentID: "intent-1",
		}))
		Expect(h.reservations()).To(HaveLen(1))

		// The ticket is one-shot: a second request naming the same intent is
		// cut off, not placed under the original family.
		h.router.HandlePlayerRequest(h.request("req-2", "alice", "skywars", map[string]string{
			types.MetaShutdownIntentID: "intent-1",
		}))

		Expect(h.reservations()).To(HaveLen(1))
		commands := h.routeCommands()
		Expect(commands).To(HaveLen(1))
		Expect(commands[0].Action).To(Equal(types.ActionDisconnect))
		Expect(commands[0].Reason).To(Equal(types.ReasonShutdownTicketMissing))
	})

	It("routes party members directly under the shared reservation token", func() {
		h.addSlot("skywars:1:main", "skywars", types.SlotAllocated, 8)
		h.router.OnPartyReservationCreated(&message.PartyReservationCreated{
			ReservationID:    "res-1",
			PartyID:          "party-1",
			FamilyID:         "skywars",
			TargetServerID:   h.backend.ID,
			SlotID:           "skywars:1:main",
			ReservationToken: "tok-party",
			Players:          []string{"alice", "bob"},
			Teams: []message.PartyTeam{
				{Index: 0, Players: []string{"alice"}},
				{Index: 1, Players: []string{"bob"}},
			},
		})

		h.router.HandlePlayerRequest(h.request("req-a", "alice", "skywars", nil))

		// No per-player reservation: the shared token travels on the command.
		Expect(h.reservations()).To(BeEmpty())
		commands := h.routeCommands()
		Expect(commands).To(HaveLen(1))
		Expect(commands[0].SlotID).To(Equal("skywars:1:main"))
		Expect(commands[0].Metadata).To(HaveKeyWithValue(types.MetaReservationToken, "tok-party"))
		Expect(commands[0].Metadata).To(HaveKeyWithValue(types.MetaPartyID, "party-1"))
		Expect(commands[0].Metadata).To(HaveKeyWithValue(types.MetaTeamIndex, "0"))

		h.router.OnRouteAck(&message.PlayerRouteAck{
			RequestID: "req-a",
			PlayerID:  "alice",
			ProxyID:   h.proxy.ID,
			Status:    types.AckSuccess,
			SlotID:    "skywars:1:main",
		})
		claims := h.pub.Broadcasts(types.ChannelPartyReservationClaimed)
		Expect(claims).To(HaveLen(1))
		Expect(claims[0].(*message.PartyReservationClaimed).PlayerID).To(Equal("alice"))
	})

	It("keeps queued party members off an out-of-service allocation", func() {
		h.addSlot("skywars:1:main", "skywars", types.SlotFaulted, 8)
		h.router.OnPartyReservationCreated(&message.PartyReservationCreated{
			ReservationID: "res-1",
			PartyID:       "party-1",
			FamilyID:      "skywars",
			Players:       []string{"alice"},
		})

		// The reservation has no slot yet; the member waits on the queue.
		h.router.HandlePlayerRequest(h.request("req-a", "alice", "skywars", nil))
		Expect(h.routeCommands()).To(BeEmpty())

		// The allocation lands on a slot that has since faulted; the drain
		// must not dispatch there.
		h.router.OnPartyReservationCreated(&message.PartyReservationCreated{
			ReservationID:    "res-1",
			PartyID:          "party-1",
			FamilyID:         "skywars",
			TargetServerID:   h.backend.ID,
			SlotID:           "skywars:1:main",
			ReservationToken: "tok-party",
			Players:          []string{"alice"},
		})

		Expect(h.routeCommands()).To(BeEmpty())
		Expect(h.reservations()).To(BeEmpty())
	})

	It("re-places pending players when their slot fails", func() {
		h.addSlot("skywars:1:main", "skywars", types.SlotAvailable, 8)
		h.router.HandlePlayerRequest(h.request("req-1", "alice", "skywars", nil))
		Expect(h.reservations()).To(HaveLen(1))

		faulted, previous, err := h.servers.UpdateSlot(h.backend.ID, registry.SlotUpdate{
			SlotID: "skywars:1:main",
			Status: types.SlotFaulted,
		})
		Expect(err).NotTo(HaveOccurred())
		h.router.OnSlotTransition(faulted, previous)

		replacement := h.addSlot("skywars:2:main", "skywars", types.SlotAvailable, 8)
		h.router.OnSlotTransition(replacement, "")

		reservations := h.reservations()
		Expect(reservations).To(HaveLen(2))
		Expect(reservations[1].SlotID).To(Equal("skywars:2:main"))
	})

	It("re-places pending players when their backend dies", func() {
		h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)
		h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", nil))
		Expect(h.reservations()).To(HaveLen(1))

		other, err := h.servers.Register(registry.ServerRegistration{
			ServerType: "paper", Address: "10.0.1.2", Port: 25571, MaxCapacity: 500,
		})
		Expect(err).NotTo(HaveOccurred())
		_, _, err = h.servers.UpdateSlot(other.ID, registry.SlotUpdate{
			SlotID:     "lobby:2:main",
			Status:     types.SlotAvailable,
			MaxPlayers: 100,
			Metadata:   map[string]string{types.MetaFamily: "lobby"},
		})
		Expect(err).NotTo(HaveOccurred())

		h.router.OnServerDead(h.backend.ID)
		h.router.Sweep()

		reservations := h.reservations()
		Expect(reservations).To(HaveLen(2))
		Expect(reservations[1].ServerID).To(Equal(other.ID))
		Expect(reservations[1].SlotID).To(Equal("lobby:2:main"))
	})

	It("clears every trace of a player who left", func() {
		h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)
		h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", nil))
		h.acceptReservation("tok-1")
		h.router.OnRouteAck(&message.PlayerRouteAck{
			RequestID: "req-1",
			PlayerID:  "alice",
			ProxyID:   h.proxy.ID,
			Status:    types.AckSuccess,
		})
		_, ok := h.router.Tracker().ActiveSlot("alice")
		Expect(ok).To(BeTrue())

		h.router.OnPlayerGone("alice")
		_, ok = h.router.Tracker().ActiveSlot("alice")
		Expect(ok).To(BeFalse())
		// The just-left slot is remembered so the player is not bounced back.
		Expect(h.router.Tracker().RecentSlots("alice")).To(ContainElement("lobby:1:main"))
	})

	It("routes an environment request to the least-loaded backend of the role", func() {
		busy, err := h.servers.Register(registry.ServerRegistration{
			ServerType: "paper", Role: "build", Address: "10.0.2.1", Port: 25580, MaxCapacity: 100,
		})
		Expect(err).NotTo(HaveOccurred())
		idle, err := h.servers.Register(registry.ServerRegistration{
			ServerType: "paper", Role: "build", Address: "10.0.2.2", Port: 25581, MaxCapacity: 100,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(h.servers.UpdateMetrics(busy.ID, 80, 20)).To(BeTrue())
		Expect(h.servers.UpdateMetrics(idle.ID, 5, 20)).To(BeTrue())

		h.router.HandleEnvironmentRoute(&message.EnvironmentRouteRequest{
			RequestID:           "env-1",
			PlayerID:            "alice",
			ProxyID:             h.proxy.ID,
			TargetEnvironmentID: "build",
			WorldName:           "plots",
			SpawnX:              100.5,
			SpawnY:              64,
			SpawnZ:              -20,
		})

		commands := h.routeCommands()
		Expect(commands).To(HaveLen(1))
		Expect(commands[0].ServerID).To(Equal(idle.ID))
		Expect(commands[0].SlotID).To(Equal(idle.ID))
		Expect(commands[0].TargetWorld).To(Equal("plots"))
		Expect(commands[0].SpawnX).To(Equal(100.5))
		Expect(commands[0].Metadata).To(HaveKeyWithValue(types.MetaRouteType, types.RouteTypeEnvironment))
		serverSide := h.pub.Sends(types.ChannelServerPlayerRoute)
		Expect(serverSide).To(HaveLen(1))
		Expect(serverSide[0].Target).To(Equal(idle.ID))
	})

	It("kicks on a failed environment route only when asked to", func() {
		h.router.HandleEnvironmentRoute(&message.EnvironmentRouteRequest{
			RequestID:           "env-1",
			PlayerID:            "alice",
			ProxyID:             h.proxy.ID,
			TargetEnvironmentID: "build",
			FailureMode:         types.ReportOnly,
		})
		Expect(h.routeCommands()).To(BeEmpty())

		h.router.HandleEnvironmentRoute(&message.EnvironmentRouteRequest{
			RequestID:           "env-2",
			PlayerID:            "alice",
			ProxyID:             h.proxy.ID,
			TargetEnvironmentID: "build",
			FailureMode:         types.KickOnFail,
		})
		commands := h.routeCommands()
		Expect(commands).To(HaveLen(1))
		Expect(commands[0].Action).To(Equal(types.ActionDisconnect))
		Expect(commands[0].Reason).To(Equal(types.ReasonEnvironmentUnavailable))
	})

	It("resumes an in-flight route after a restart", func() {
		h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)
		h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", nil))
		h.acceptReservation("tok-1")
		Expect(h.routeCommands()).To(HaveLen(1))

		rebooted := routing.NewRouter(routerDefaults(), h.pub, h.proxies, h.servers, h.shutdown, h.mirror, h.scheduler, testLogger)
		rebooted.SetClock(h.clock.Now)
		Expect(rebooted.Restore()).To(Succeed())
		rebooted.Start()
		defer rebooted.Stop()

		rebooted.OnRouteAck(&message.PlayerRouteAck{
			RequestID: "req-1",
			PlayerID:  "alice",
			ProxyID:   h.proxy.ID,
			Status:    types.AckSuccess,
		})
		slot, ok := rebooted.Tracker().ActiveSlot("alice")
		Expect(ok).To(BeTrue())
		Expect(slot).To(Equal("lobby:1:main"))
	})

	Context("with a short reservation timeout", func() {
		BeforeEach(func() {
			cfg.ReservationTimeout = 30 * time.Millisecond
		})

		It("re-queues the request when the backend never answers", func() {
			Expect(h.servers.SetAdvertisement(h.backend.ID, map[string]int{"lobby": 4}, nil)).To(BeTrue())
			h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)

			h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", nil))
			Expect(h.reservations()).To(HaveLen(1))

			Eventually(func() int {
				return len(h.pub.Sends(types.ChannelSlotProvisionRequest))
			}).Should(Equal(1))
			Expect(h.routeCommands()).To(BeEmpty())
		})
	})

	Context("with a short route timeout", func() {
		BeforeEach(func() {
			cfg.RouteTimeout = 30 * time.Millisecond
		})

		It("re-queues the request when the proxy never acknowledges", func() {
			Expect(h.servers.SetAdvertisement(h.backend.ID, map[string]int{"lobby": 4}, nil)).To(BeTrue())
			h.addSlot("lobby:1:main", "lobby", types.SlotAvailable, 100)

			h.router.HandlePlayerRequest(h.request("req-1", "alice", "lobby", nil))
			h.acceptReservation("tok-1")
			Expect(h.routeCommands()).To(HaveLen(1))

			Eventually(func() int {
				return len(h.pub.Sends(types.ChannelSlotProvisionRequest))
			}).Should(Equal(1))

			// The window closed; a late acknowledgement changes nothing.
			h.router.OnRouteAck(&message.PlayerRouteAck{
				RequestID: "req-1",
				PlayerID:  "alice",
				ProxyID:   h.proxy.ID,
				Status:    types.AckSuccess,
			})
			_, ok := h.router.Tracker().ActiveSlot("alice")
			Expect(ok).To(BeFalse())
		})
	})
})
