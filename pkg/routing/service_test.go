// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package routing_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fulcrumnetwork/fulcrum/pkg/bus"
	"github.com/fulcrumnetwork/fulcrum/pkg/fsm"
	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
	"github.com/fulcrumnetwork/fulcrum/pkg/routing"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

var _ = Describe("Service", func() {

	var (
		fixture  *mirrorFixture
		notifier *fsm.Notifier
		b        *bus.LocalBus
		proxies  *registry.ProxyRegistry
		servers  *registry.ServerRegistry
		router   *routing.Router
		service  *routing.Service
		proxy    *registry.RegisteredProxy
		backend  *registry.RegisteredServer

		mu       sync.Mutex
		received map[string][]message.Message
	)

	record := func(channel string) {
		Expect(b.Subscribe(channel, func(msg message.Message) {
			mu.Lock()
			defer mu.Unlock()
			received[channel] = append(received[channel], msg)
		})).To(Succeed())
	}

	onChannel := func(channel string) func() []message.Message {
		return func() []message.Message {
			mu.Lock()
			defer mu.Unlock()
			return append([]message.Message(nil), received[channel]...)
		}
	}

	BeforeEach(func() {
		fixture = newMirrorFixture()
		notifier = fsm.NewNotifier(2, 64, testLogger)
		b = bus.NewLocalBus(testLogger, 64)
		received = map[string][]message.Message{}

		cfg := registry.ProxyRegistryConfig{
			AnnounceDebounce:   time.Second,
			RecycleWindow:      5 * time.Minute,
			CleanupInterval:    time.Minute,
			RegisteringTimeout: 30 * time.Second,
		}
		proxyAlloc := registry.NewIDAllocator("fulcrum", registry.KindProxy, cfg.RecycleWindow)
		serverAlloc := registry.NewIDAllocator("fulcrum", registry.KindServer, cfg.RecycleWindow)
		proxies = registry.NewProxyRegistry(cfg, proxyAlloc, fixture.mirror, notifier, testLogger)
		servers = registry.NewServerRegistry(cfg, serverAlloc, fixture.mirror, notifier, testLogger)
		shutdown := registry.NewShutdownCoordinator(servers, fixture.mirror, b, "lobby", 30*time.Second, testLogger)

		var err error
		proxy, err = proxies.Register("", "10.0.0.1", 25565)
		Expect(err).NotTo(HaveOccurred())
		backend, err = servers.Register(registry.ServerRegistration{
			ServerType: "paper", Role: "game", Address: "10.0.1.1", Port: 25570, MaxCapacity: 500,
		})
		Expect(err).NotTo(HaveOccurred())

		scheduler := routing.NewScheduler(256, testLogger)
		scheduler.Start()
		DeferCleanup(scheduler.Stop)
		router = routing.NewRouter(routerDefaults(), b, proxies, servers, shutdown, fixture.mirror, scheduler, testLogger)
		service = routing.NewService(b, router, servers, testLogger)
		Expect(service.Start()).To(Succeed())
	})

	AfterEach(func() {
		service.Stop()
		proxies.Stop()
		servers.Stop()
		notifier.Stop()
		Expect(b.Close()).To(Succeed())
		fixture.close()
	})

	It("routes a player end to end over the bus", func() {
		reservationChannel := bus.Directed(types.ChannelPlayerReservationRequest, backend.ID)
		routeChannel := bus.Directed(types.ChannelPlayerRoute, proxy.ID)
		record(reservationChannel)
		record(routeChannel)

		Expect(b.Broadcast(types.ChannelSlotStatus, &message.SlotStatusUpdate{
			ServerID:   backend.ID,
			SlotID:     "lobby:1:main",
			Status:     types.SlotAvailable,
			MaxPlayers: 100,
			Metadata:   map[string]string{types.MetaFamily: "lobby"},
		})).To(Succeed())
		Eventually(func() int {
			server, _ := servers.Lookup(backend.ID)
			return server.SlotCountForFamily("lobby")
		}).Should(Equal(1))

		Expect(b.Broadcast(types.ChannelPlayerRequest, &message.PlayerSlotRequest{
			RequestID:  "req-1",
			PlayerID:   "alice",
			PlayerName: "alice",
			ProxyID:    proxy.ID,
			FamilyID:   "lobby",
		})).To(Succeed())

		Eventually(onChannel(reservationChannel)).Should(HaveLen(1))
		reservation := onChannel(reservationChannel)()[0].(*message.PlayerReservationRequest)
		Expect(reservation.SlotID).To(Equal("lobby:1:main"))

		Expect(b.Broadcast(types.ChannelPlayerReservationResponse, &message.PlayerReservationResponse{
			RequestID:        reservation.RequestID,
			ServerID:         reservation.ServerID,
			Accepted:         true,
			ReservationToken: "tok-1",
		})).To(Succeed())

		Eventually(onChannel(routeChannel)).Should(HaveLen(1))
		command := onChannel(routeChannel)()[0].(*message.PlayerRouteCommand)
		Expect(command.Action).To(Equal(types.ActionRoute))
		Expect(command.Metadata).To(HaveKeyWithValue(types.MetaReservationToken, "tok-1"))

		Expect(b.Broadcast(types.ChannelPlayerRouteAck, &message.PlayerRouteAck{
			RequestID: "req-1",
			PlayerID:  "alice",
			ProxyID:   proxy.ID,
			Status:    types.AckSuccess,
		})).To(Succeed())
		Eventually(func() bool {
			_, ok := router.Tracker().ActiveSlot("alice")
			return ok
		}).Should(BeTrue())
	})

	It("feeds slot transitions from the bus into the queues", func() {
		reservationChannel := bus.Directed(types.ChannelPlayerReservationRequest, backend.ID)
		record(reservationChannel)

		// No slot yet: the request waits.
		Expect(b.Broadcast(types.ChannelPlayerRequest, &message.PlayerSlotRequest{
			RequestID:  "req-1",
			PlayerID:   "alice",
			PlayerName: "alice",
			ProxyID:    proxy.ID,
			FamilyID:   "lobby",
		})).To(Succeed())
		Consistently(onChannel(reservationChannel)).Should(BeEmpty())

		Expect(b.Broadcast(types.ChannelSlotStatus, &message.SlotStatusUpdate{
			ServerID:   backend.ID,
			SlotID:     "lobby:1:main",
			Status:     types.SlotAvailable,
			MaxPlayers: 100,
			Metadata:   map[string]string{types.MetaFamily: "lobby"},
		})).To(Succeed())

		Eventually(onChannel(reservationChannel)).Should(HaveLen(1))
		reservation := onChannel(reservationChannel)()[0].(*message.PlayerReservationRequest)
		Expect(reservation.PlayerID).To(Equal("alice"))
	})
})
