// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// warnInterval rate-limits per-node warnings about heartbeats arriving in an
// unexpected registration state.
const warnInterval = 5 * time.Second

// BusPublisher is the narrow outbound surface the monitor needs.
type BusPublisher interface {
	Broadcast(channel string, msg message.Message) error
	Send(targetID, channel string, msg message.Message) error
}

// NodeDeadCallback tells interested components a node was declared dead.
// Kept as a callback so the router never holds a back-pointer into the
// monitor.
type NodeDeadCallback func(kind NodeKind, nodeID string)

// MonitorConfig carries the liveness thresholds.
type MonitorConfig struct {
	UnavailableTimeout time.Duration
	DeadTimeout        time.Duration
	CheckInterval      time.Duration
	// GracePeriod suppresses liveness transitions right after registration.
	GracePeriod time.Duration
	// DeadBlacklist refuses heartbeats from a dead id for this long.
	DeadBlacklist time.Duration
}

// Monitor drives AVAILABLE/UNAVAILABLE/DEAD detection for both registries
// from heartbeats and a periodic scan on its own ticker.
type Monitor struct {
	cfg     MonitorConfig
	proxies *ProxyRegistry
	servers *ServerRegistry
	mirror  *Mirror
	pub     BusPublisher
	logger  *zap.SugaredLogger
	now     func() time.Time

	mu          sync.Mutex
	blacklist   map[string]time.Time
	deadProxies map[string]*RegisteredProxy
	deadServers map[string]*RegisteredServer
	lastWarn    map[string]time.Time
	onNodeDead  NodeDeadCallback

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewMonitor returns a heartbeat monitor over the two registries.
func NewMonitor(cfg MonitorConfig, proxies *ProxyRegistry, servers *ServerRegistry, mirror *Mirror, pub BusPublisher, logger *zap.SugaredLogger) *Monitor {
	return &Monitor{
		cfg:         cfg,
		proxies:     proxies,
		servers:     servers,
		mirror:      mirror,
		pub:         pub,
		logger:      logger,
		now:         time.Now,
		blacklist:   map[string]time.Time{},
		deadProxies: map[string]*RegisteredProxy{},
		deadServers: map[string]*RegisteredServer{},
		lastWarn:    map[string]time.Time{},
		quit:        make(chan struct{}),
	}
}

// SetClock overrides the monitor's time source. Intended for tests.
func (m *Monitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetNodeDeadCallback installs the narrow callback fired on DEAD detection.
func (m *Monitor) SetNodeDeadCallback(cb NodeDeadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onNodeDead = cb
}

// Restore loads the mirrored dead-node snapshots. The blacklist itself is
// not persisted; after a core restart dead nodes may re-register right away.
func (m *Monitor) Restore() error {
	deadServers, err := m.mirror.LoadDeadServers()
	if err != nil {
		return err
	}
	deadProxies, err := m.mirror.LoadDeadProxies()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadServers = deadServers
	m.deadProxies = deadProxies
	return nil
}

// Start runs the periodic liveness scan until Stop.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Scan()
			case <-m.quit:
				return
			}
		}
	}()
}

// Stop halts the scan loop.
func (m *Monitor) Stop() {
	close(m.quit)
	m.wg.Wait()
}

// OnHeartbeat applies one inbound heartbeat following the acceptance rules:
// blacklisted ids are dropped, unknown ids are auto-restored from an expired
// dead snapshot or asked to re-register, known ids refresh their liveness.
func (m *Monitor) OnHeartbeat(hb *message.Heartbeat) {
	now := m.now()

	m.mu.Lock()
	until, listed := m.blacklist[hb.NodeID]
	if listed && now.Before(until) {
		m.mu.Unlock()
		m.logger.Warnf("Dropping heartbeat from blacklisted dead node %s", hb.NodeID)
		return
	}
	if listed {
		delete(m.blacklist, hb.NodeID)
	}
	m.mu.Unlock()

	if proxy, ok := m.proxies.Lookup(hb.NodeID); ok {
		m.refreshProxy(proxy, hb, now)
		return
	}
	if server, ok := m.servers.Lookup(hb.NodeID); ok {
		m.refreshServer(server, hb, now)
		return
	}
	if _, ok := m.proxies.LookupUnavailable(hb.NodeID); ok {
		if proxy, restored := m.proxies.Reactivate(hb.NodeID); restored {
			m.proxies.RecordHeartbeat(proxy.ID, now, hb.PlayerCount)
			m.mu.Lock()
			_, wasDead := m.deadProxies[proxy.ID]
			delete(m.deadProxies, proxy.ID)
			m.mu.Unlock()
			if wasDead {
				m.mirror.DeleteDeadNode(KindProxy, proxy.ID)
			}
		}
		return
	}
	if _, ok := m.servers.LookupUnavailable(hb.NodeID); ok {
		if server, restored := m.servers.Reactivate(hb.NodeID); restored {
			m.servers.RecordHeartbeat(server.ID, now)
		}
		return
	}
	m.handleUnknown(hb, now)
}

// handleUnknown deals with heartbeats from ids absent from both registries.
func (m *Monitor) handleUnknown(hb *message.Heartbeat, now time.Time) {
	m.mu.Lock()
	if snapshot, ok := m.deadProxies[hb.NodeID]; ok {
		delete(m.deadProxies, hb.NodeID)
		m.mu.Unlock()
		m.mirror.DeleteDeadNode(KindProxy, hb.NodeID)
		restored := m.proxies.RestoreProxy(snapshot)
		m.proxies.RecordHeartbeat(restored.ID, now, hb.PlayerCount)
		return
	}
	if snapshot, ok := m.deadServers[hb.NodeID]; ok {
		delete(m.deadServers, hb.NodeID)
		m.mu.Unlock()
		m.mirror.DeleteDeadNode(KindServer, hb.NodeID)
		restored := m.servers.RestoreServer(snapshot)
		m.servers.RecordHeartbeat(restored.ID, now)
		return
	}
	m.mu.Unlock()
	m.logger.Infof("Heartbeat from unknown node %s, requesting re-registration", hb.NodeID)
	if err := m.pub.Send(hb.NodeID, types.ChannelReregistrationRequest, &message.ReregistrationRequest{
		Timestamp: now.UnixMilli(),
		Reason:    "heartbeat from unknown node",
		TargetID:  hb.NodeID,
	}); err != nil {
		m.logger.Warnf("Re-registration request to %s: %v", hb.NodeID, err)
	}
}

func (m *Monitor) refreshProxy(proxy *RegisteredProxy, hb *message.Heartbeat, now time.Time) {
	switch proxy.Machine.Current() {
	case types.StateRegistered:
		previous := proxy.Status
		m.proxies.RecordHeartbeat(proxy.ID, now, hb.PlayerCount)
		if previous != types.StatusAvailable {
			m.proxies.SetStatus(proxy.ID, types.StatusAvailable)
			m.broadcastStatus(proxy.ID, previous, types.StatusAvailable, now)
		}
	case types.StateRegistering, types.StateReRegistering:
		proxy.Machine.Transition(types.StateRegistered, "heartbeat received")
		m.proxies.RecordHeartbeat(proxy.ID, now, hb.PlayerCount)
	default:
		m.warnRateLimited(proxy.ID, string(proxy.Machine.Current()), now)
	}
}

func (m *Monitor) refreshServer(server *RegisteredServer, hb *message.Heartbeat, now time.Time) {
	switch server.Machine.Current() {
	case types.StateRegistered:
		previous := server.Status
		m.servers.RecordHeartbeat(server.ID, now)
		m.servers.UpdateMetrics(server.ID, hb.PlayerCount, hb.TPS)
		if previous != types.StatusAvailable {
			m.servers.SetStatus(server.ID, types.StatusAvailable)
			m.broadcastStatus(server.ID, previous, types.StatusAvailable, now)
		}
	case types.StateRegistering, types.StateReRegistering:
		server.Machine.Transition(types.StateRegistered, "heartbeat received")
		m.servers.RecordHeartbeat(server.ID, now)
		m.servers.UpdateMetrics(server.ID, hb.PlayerCount, hb.TPS)
	default:
		m.warnRateLimited(server.ID, string(server.Machine.Current()), now)
	}
}

// Scan classifies every registered node by heartbeat age and applies the
// threshold transitions. Exported so tests can drive it with a fake clock.
func (m *Monitor) Scan() {
	now := m.now()
	for _, proxy := range m.proxies.All() {
		if now.Sub(proxy.RegisteredAt) < m.cfg.GracePeriod {
			continue
		}
		m.classifyProxy(proxy, now)
	}
	for _, server := range m.servers.All() {
		if now.Sub(server.RegisteredAt) < m.cfg.GracePeriod {
			continue
		}
		m.classifyServer(server, now)
	}
}

func (m *Monitor) classifyProxy(proxy *RegisteredProxy, now time.Time) {
	age := now.Sub(proxy.LastHeartbeat)
	switch {
	case age < m.cfg.UnavailableTimeout:
		if proxy.Status != types.StatusAvailable {
			previous := proxy.Status
			m.proxies.SetStatus(proxy.ID, types.StatusAvailable)
			m.broadcastStatus(proxy.ID, previous, types.StatusAvailable, now)
		}
	case age < m.cfg.DeadTimeout:
		if proxy.Status != types.StatusUnavailable {
			previous := proxy.Status
			m.proxies.SetStatus(proxy.ID, types.StatusUnavailable)
			m.broadcastStatus(proxy.ID, previous, types.StatusUnavailable, now)
		}
	default:
		m.declareProxyDead(proxy, now)
	}
}

func (m *Monitor) classifyServer(server *RegisteredServer, now time.Time) {
	age := now.Sub(server.LastHeartbeat)
	switch {
	case age < m.cfg.UnavailableTimeout:
		if server.Status != types.StatusAvailable {
			previous := server.Status
			m.servers.SetStatus(server.ID, types.StatusAvailable)
			m.broadcastStatus(server.ID, previous, types.StatusAvailable, now)
		}
	case age < m.cfg.DeadTimeout:
		if server.Status != types.StatusUnavailable {
			previous := server.Status
			m.servers.SetStatus(server.ID, types.StatusUnavailable)
			m.broadcastStatus(server.ID, previous, types.StatusUnavailable, now)
		}
	default:
		m.declareServerDead(server, now)
	}
}

func (m *Monitor) declareProxyDead(proxy *RegisteredProxy, now time.Time) {
	previous := proxy.Status
	snapshot := *proxy
	snapshot.Machine = nil
	snapshot.Status = types.StatusDead

	m.mu.Lock()
	m.blacklist[proxy.ID] = now.Add(m.cfg.DeadBlacklist)
	m.deadProxies[proxy.ID] = &snapshot
	cb := m.onNodeDead
	m.mu.Unlock()

	m.mirror.SaveDeadNode(KindProxy, proxy.ID, &snapshot)
	m.mirror.DeleteHeartbeat(KindProxy, proxy.ID)
	m.proxies.Deregister(proxy.ID)
	m.broadcastStatus(proxy.ID, previous, types.StatusDead, now)
	m.logger.Warnf("Proxy %s declared dead, blacklisted for %s", proxy.ID, m.cfg.DeadBlacklist)
	if cb != nil {
		cb(KindProxy, proxy.ID)
	}
}

func (m *Monitor) declareServerDead(server *RegisteredServer, now time.Time) {
	previous := server.Status
	snapshot := *server
	snapshot.Machine = nil
	snapshot.Status = types.StatusDead

	m.mu.Lock()
	m.blacklist[server.ID] = now.Add(m.cfg.DeadBlacklist)
	m.deadServers[server.ID] = &snapshot
	cb := m.onNodeDead
	m.mu.Unlock()

	m.mirror.SaveDeadNode(KindServer, server.ID, &snapshot)
	m.mirror.DeleteHeartbeat(KindServer, server.ID)
	m.servers.Discard(server.ID)
	m.broadcastStatus(server.ID, previous, types.StatusDead, now)
	if err := m.pub.Broadcast(types.ChannelServerRemoval, &message.ServerRemoval{
		ServerID:   server.ID,
		ServerType: server.ServerType,
		Reason:     "heartbeat lost",
		Timestamp:  now.UnixMilli(),
	}); err != nil {
		m.logger.Warnf("Server removal broadcast for %s: %v", server.ID, err)
	}
	m.logger.Warnf("Server %s declared dead, blacklisted for %s", server.ID, m.cfg.DeadBlacklist)
	if cb != nil {
		cb(KindServer, server.ID)
	}
}

func (m *Monitor) broadcastStatus(nodeID string, previous, current types.NodeStatus, now time.Time) {
	if err := m.pub.Broadcast(types.ChannelStatusChange, &message.StatusChange{
		NodeID:         nodeID,
		PreviousStatus: previous,
		NewStatus:      current,
		Timestamp:      now.UnixMilli(),
	}); err != nil {
		m.logger.Warnf("Status change broadcast for %s: %v", nodeID, err)
	}
}

func (m *Monitor) warnRateLimited(nodeID, state string, now time.Time) {
	m.mu.Lock()
	last, ok := m.lastWarn[nodeID]
	if ok && now.Sub(last) < warnInterval {
		m.mu.Unlock()
		return
	}
	m.lastWarn[nodeID] = now
	m.mu.Unlock()
	m.logger.Warnf("Dropping heartbeat from %s in unexpected state %s", nodeID, state)
}
