// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package registry_test

import (
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/fsm"
	"github.com/fulcrumnetwork/fulcrum/pkg/kv"
	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

var _ = Describe("Monitor", func() {

	var (
		logger   = zap.NewNop().Sugar()
		redis    *miniredis.Miniredis
		store    *kv.RedisStore
		mirror   *registry.Mirror
		notifier *fsm.Notifier
		clock    *fakeClock
		pub      *fakePublisher
		proxies  *registry.ProxyRegistry
		servers  *registry.ServerRegistry
		monitor  *registry.Monitor
	)

	statusChanges := func() []*message.StatusChange {
		var out []*message.StatusChange
		for _, msg := range pub.Broadcasts(types.ChannelStatusChange) {
			out = append(out, msg.(*message.StatusChange))
		}
		return out
	}

	BeforeEach(func() {
		var err error
		redis, err = miniredis.Run()
		Expect(err).NotTo(HaveOccurred())
		store, err = kv.NewRedisStore(redis.Addr(), "", 0)
		Expect(err).NotTo(HaveOccurred())
		mirror = registry.NewMirror(store, logger)
		notifier = fsm.NewNotifier(2, 64, logger)
		clock = newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		pub = &fakePublisher{}

		cfg := registry.ProxyRegistryConfig{
			AnnounceDebounce:   time.Second,
			RecycleWindow:      5 * time.Minute,
			CleanupInterval:    time.Minute,
			RegisteringTimeout: 30 * time.Second,
		}
		proxyAlloc := registry.NewIDAllocator("fulcrum", registry.KindProxy, cfg.RecycleWindow)
		proxyAlloc.SetClock(clock.Now)
		serverAlloc := registry.NewIDAllocator("fulcrum", registry.KindServer, cfg.RecycleWindow)
		serverAlloc.SetClock(clock.Now)
		proxies = registry.NewProxyRegistry(cfg, proxyAlloc, mirror, notifier, logger)
		proxies.SetClock(clock.Now)
		servers = registry.NewServerRegistry(cfg, serverAlloc, mirror, notifier, logger)
		servers.SetClock(clock.Now)

		monitor = registry.NewMonitor(registry.MonitorConfig{
			UnavailableTimeout: 5 * time.Second,
			DeadTimeout:        30 * time.Second,
			CheckInterval:      time.Second,
			GracePeriod:        time.Second,
			DeadBlacklist:      60 * time.Second,
		}, proxies, servers, mirror, pub, logger)
		monitor.SetClock(clock.Now)
	})

	AfterEach(func() {
		proxies.Stop()
		servers.Stop()
		notifier.Stop()
		Expect(store.Close()).To(Succeed())
		redis.Close()
	})

	It("refreshes a registered proxy's liveness and metrics", func() {
		proxy, err := proxies.Register("", "10.0.0.1", 25565)
		Expect(err).NotTo(HaveOccurred())

		clock.Advance(2 * time.Second)
		monitor.OnHeartbeat(&message.Heartbeat{NodeID: proxy.ID, PlayerCount: 17})
		Expect(proxy.PlayerCount).To(Equal(17))
		Expect(proxy.LastHeartbeat).To(Equal(clock.Now()))
	})

	It("reactivates a pooled proxy when its heartbeats resume", func() {
		proxy, err := proxies.Register("", "10.0.0.1", 25565)
		Expect(err).NotTo(HaveOccurred())
		Expect(proxies.Deregister(proxy.ID)).To(BeTrue())

		monitor.OnHeartbeat(&message.Heartbeat{NodeID: proxy.ID, PlayerCount: 3})
		restored, ok := proxies.Lookup(proxy.ID)
		Expect(ok).To(BeTrue())
		Expect(restored.Status).To(Equal(types.StatusAvailable))
	})

	It("classifies a silent node with exactly one broadcast per transition", func() {
		proxy, err := proxies.Register("", "10.0.0.1", 25565)
		Expect(err).NotTo(HaveOccurred())

		clock.Advance(6 * time.Second)
		monitor.Scan()
		Expect(proxy.Status).To(Equal(types.StatusUnavailable))
		Expect(statusChanges()).To(HaveLen(1))
		Expect(statusChanges()[0].NewStatus).To(Equal(types.StatusUnavailable))

		// A second scan in the same state stays quiet.
		monitor.Scan()
		Expect(statusChanges()).To(HaveLen(1))

		// A heartbeat flips the node back with one more broadcast.
		monitor.OnHeartbeat(&message.Heartbeat{NodeID: proxy.ID})
		Expect(proxy.Status).To(Equal(types.StatusAvailable))
		Expect(statusChanges()).To(HaveLen(2))
		Expect(statusChanges()[1].NewStatus).To(Equal(types.StatusAvailable))
	})

	It("declares a silent proxy dead, parks it and blacklists its id", func() {
		var (
			mu       sync.Mutex
			deadKind registry.NodeKind
			deadID   string
		)
		monitor.SetNodeDeadCallback(func(kind registry.NodeKind, nodeID string) {
			mu.Lock()
			defer mu.Unlock()
			deadKind, deadID = kind, nodeID
		})

		proxy, err := proxies.Register("", "10.0.0.1", 25565)
		Expect(err).NotTo(HaveOccurred())

		clock.Advance(31 * time.Second)
		monitor.Scan()
		_, ok := proxies.Lookup(proxy.ID)
		Expect(ok).To(BeFalse())
		_, ok = proxies.LookupUnavailable(proxy.ID)
		Expect(ok).To(BeTrue())
		changes := statusChanges()
		Expect(changes[len(changes)-1].NewStatus).To(Equal(types.StatusDead))
		mu.Lock()
		Expect(deadKind).To(Equal(registry.KindProxy))
		Expect(deadID).To(Equal(proxy.ID))
		mu.Unlock()

		// While blacklisted, heartbeats from the dead id are dropped.
		monitor.OnHeartbeat(&message.Heartbeat{NodeID: proxy.ID})
		_, ok = proxies.Lookup(proxy.ID)
		Expect(ok).To(BeFalse())
	})

	It("discards a dead server and announces its removal", func() {
		server, err := servers.Register(registry.ServerRegistration{
			ServerType: "paper", Address: "10.0.1.1", Port: 25570, MaxCapacity: 500,
		})
		Expect(err).NotTo(HaveOccurred())

		clock.Advance(31 * time.Second)
		monitor.Scan()
		_, ok := servers.Lookup(server.ID)
		Expect(ok).To(BeFalse())
		_, ok = servers.LookupUnavailable(server.ID)
		Expect(ok).To(BeFalse())

		removals := pub.Broadcasts(types.ChannelServerRemoval)
		Expect(removals).To(HaveLen(1))
		removal := removals[0].(*message.ServerRemoval)
		Expect(removal.ServerID).To(Equal(server.ID))
		Expect(removal.Reason).To(Equal("heartbeat lost"))
	})

	It("auto-restores a dead node from its snapshot once the blacklist lapses", func() {
		server, err := servers.Register(registry.ServerRegistration{
			ServerType: "paper", Address: "10.0.1.1", Port: 25570, MaxCapacity: 500,
		})
		Expect(err).NotTo(HaveOccurred())

		clock.Advance(31 * time.Second)
		monitor.Scan()
		_, ok := servers.Lookup(server.ID)
		Expect(ok).To(BeFalse())

		clock.Advance(61 * time.Second)
		monitor.OnHeartbeat(&message.Heartbeat{NodeID: server.ID, PlayerCount: 0})
		restored, ok := servers.Lookup(server.ID)
		Expect(ok).To(BeTrue())
		Expect(restored.Status).To(Equal(types.StatusAvailable))
		Expect(restored.ServerType).To(Equal("paper"))
	})

	It("asks an unknown node to re-register", func() {
		monitor.OnHeartbeat(&message.Heartbeat{NodeID: "fulcrum-proxy-9"})

		sends := pub.Sends(types.ChannelReregistrationRequest)
		Expect(sends).To(HaveLen(1))
		Expect(sends[0].Target).To(Equal("fulcrum-proxy-9"))
		request := sends[0].Msg.(*message.ReregistrationRequest)
		Expect(request.Reason).To(Equal("heartbeat from unknown node"))
	})
})
