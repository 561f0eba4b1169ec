// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/fsm"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// ServerRegistration carries the fields a backend announces when joining.
type ServerRegistration struct {
	TempID      string
	ServerType  string
	Role        string
	Address     string
	Port        int
	MaxCapacity int
}

// SlotUpdate is one inbound slot-status transition.
type SlotUpdate struct {
	SlotID        string
	Status        types.SlotStatus
	OnlinePlayers int
	MaxPlayers    int
	Metadata      map[string]string
}

// ServerRegistry tracks the backend servers and their logical slots.
// Mutations are serialized under one mutex; lookups read the concurrent maps
// without locking.
type ServerRegistry struct {
	cfg      ProxyRegistryConfig
	alloc    *IDAllocator
	mirror   *Mirror
	notifier *fsm.Notifier
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu               sync.Mutex
	active           *xsync.Map[string, *RegisteredServer]
	unavailable      *xsync.Map[string, *RegisteredServer]
	unavailableSince *xsync.Map[string, time.Time]
	slotIndex        *xsync.Map[string, *LogicalSlot]
	slotSeq          atomic.Int64

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewServerRegistry returns an empty server registry. The registry shares
// the proxy registry's timing shape, so the same config struct serves both.
func NewServerRegistry(cfg ProxyRegistryConfig, alloc *IDAllocator, mirror *Mirror, notifier *fsm.Notifier, logger *zap.SugaredLogger) *ServerRegistry {
	return &ServerRegistry{
		cfg:              cfg,
		alloc:            alloc,
		mirror:           mirror,
		notifier:         notifier,
		logger:           logger,
		now:              time.Now,
		active:           xsync.NewMap[string, *RegisteredServer](),
		unavailable:      xsync.NewMap[string, *RegisteredServer](),
		unavailableSince: xsync.NewMap[string, time.Time](),
		slotIndex:        xsync.NewMap[string, *LogicalSlot](),
		quit:             make(chan struct{}),
	}
}

// SetClock overrides the registry's time source. Intended for tests.
func (r *ServerRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Restore loads the mirrored server pool. Must complete before any bus
// subscription is live.
func (r *ServerRegistry) Restore() error {
	servers, err := r.mirror.LoadServers()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range servers {
		identifier, err := ParseIdentifier(id)
		if err != nil {
			return fmt.Errorf("restore server %s: %w", id, err)
		}
		r.alloc.MarkActive(identifier)
		s.Machine = r.registeredMachine(id, "restored from mirror")
		r.active.Store(id, s)
		for _, slot := range s.Slots {
			r.slotIndex.Store(slot.SlotID, slot)
			if slot.FirstSeen > r.slotSeq.Load() {
				r.slotSeq.Store(slot.FirstSeen)
			}
		}
	}
	r.logger.Infof("Restored %d servers", r.active.Size())
	return nil
}

// Register brings a backend into the active pool and assigns its identifier.
// Idempotent per tempId within the announce debounce window.
func (r *ServerRegistry) Register(reg ServerRegistration) (*RegisteredServer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.lookupByAddress(reg.Address, reg.Port); ok {
		if r.now().Sub(existing.RegisteredAt) < r.cfg.AnnounceDebounce {
			r.logger.Debugf("Debouncing double registration from %s:%d as %s", reg.Address, reg.Port, existing.ID)
			return existing, nil
		}
	}

	identifier := r.alloc.Allocate()
	id := identifier.String()
	now := r.now()
	machine := r.newMachine(id)
	machine.Transition(types.StateRegistering, "registration request")
	server := &RegisteredServer{
		ID:            id,
		TempID:        reg.TempID,
		ServerType:    reg.ServerType,
		Role:          reg.Role,
		Address:       reg.Address,
		Port:          reg.Port,
		MaxCapacity:   reg.MaxCapacity,
		Status:        types.StatusAvailable,
		LastHeartbeat: now,
		RegisteredAt:  now,
		Slots:         map[string]*LogicalSlot{},
		Machine:       machine,
	}
	machine.Transition(types.StateRegistered, "registration complete")
	r.active.Store(id, server)
	r.mirror.SaveServer(server)
	r.logger.Infof("Registered server %s (%s) at %s:%d", id, reg.ServerType, reg.Address, reg.Port)
	return server, nil
}

// Deregister moves a server to the unavailable pool; its id stays reserved
// for the recycle window.
func (r *ServerRegistry) Deregister(serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	server, ok := r.active.Load(serverID)
	if !ok {
		return false
	}
	server.Machine.Transition(types.StateDeregistering, "deregistration")
	server.Machine.Transition(types.StateDisconnected, "deregistration complete")
	server.Status = types.StatusUnavailable
	now := r.now()
	r.active.Delete(serverID)
	r.unavailable.Store(serverID, server)
	r.unavailableSince.Store(serverID, now)
	for slotID := range server.Slots {
		r.slotIndex.Delete(slotID)
	}
	if identifier, err := ParseIdentifier(serverID); err == nil {
		r.alloc.Release(identifier, false)
	}
	r.mirror.DeleteServer(server)
	r.logger.Infof("Server %s moved to the unavailable pool", serverID)
	return true
}

// Discard drops a server from the active pool without parking it in the
// unavailable pool. The id stays reserved for the recycle window; the dead
// snapshot held by the heartbeat monitor is the only way back in.
func (r *ServerRegistry) Discard(serverID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	server, ok := r.active.Load(serverID)
	if !ok {
		return false
	}
	server.Machine.Transition(types.StateDisconnected, "declared dead")
	server.Machine.Stop()
	r.active.Delete(serverID)
	for slotID := range server.Slots {
		r.slotIndex.Delete(slotID)
	}
	if identifier, err := ParseIdentifier(serverID); err == nil {
		r.alloc.Release(identifier, false)
	}
	r.mirror.DeleteServer(server)
	r.logger.Infof("Discarded dead server %s", serverID)
	return true
}

// Reactivate restores a server from the unavailable pool.
func (r *ServerRegistry) Reactivate(serverID string) (*RegisteredServer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	server, ok := r.unavailable.Load(serverID)
	if !ok {
		return nil, false
	}
	server.Machine.Transition(types.StateReRegistering, "server reactivation")
	server.Machine.Transition(types.StateRegistered, "reactivation complete")
	now := r.now()
	server.Status = types.StatusAvailable
	server.LastHeartbeat = now
	r.unavailable.Delete(serverID)
	r.unavailableSince.Delete(serverID)
	r.active.Store(serverID, server)
	for _, slot := range server.Slots {
		r.slotIndex.Store(slot.SlotID, slot)
	}
	if identifier, err := ParseIdentifier(serverID); err == nil {
		r.alloc.MarkActive(identifier)
	}
	r.mirror.SaveServer(server)
	r.logger.Infof("Reactivated server %s", serverID)
	return server, true
}

// RemoveImmediately discards a server bypassing the recycle window.
func (r *ServerRegistry) RemoveImmediately(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if server, ok := r.active.Load(serverID); ok {
		server.Machine.Transition(types.StateDeregistering, "immediate removal")
		server.Machine.Transition(types.StateUnregistered, "immediate removal")
		server.Machine.Stop()
		r.active.Delete(serverID)
		for slotID := range server.Slots {
			r.slotIndex.Delete(slotID)
		}
		r.mirror.DeleteServer(server)
	}
	if server, ok := r.unavailable.Load(serverID); ok {
		server.Machine.Transition(types.StateUnregistered, "immediate removal")
		server.Machine.Stop()
		r.unavailable.Delete(serverID)
		r.unavailableSince.Delete(serverID)
		r.mirror.DeleteServer(server)
	}
	if identifier, err := ParseIdentifier(serverID); err == nil {
		r.alloc.Release(identifier, true)
	}
	r.logger.Infof("Removed server %s immediately", serverID)
}

// RestoreServer re-inserts a dead-node snapshot, bypassing the registration
// handshake. Used by the heartbeat monitor's auto-restore.
func (r *ServerRegistry) RestoreServer(snapshot *RegisteredServer) *RegisteredServer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if identifier, err := ParseIdentifier(snapshot.ID); err == nil && !r.alloc.IsActive(identifier) {
		r.alloc.MarkActive(identifier)
	}
	snapshot.Machine = r.registeredMachine(snapshot.ID, "auto-restore after heartbeat")
	snapshot.Status = types.StatusAvailable
	snapshot.LastHeartbeat = r.now()
	if snapshot.Slots == nil {
		snapshot.Slots = map[string]*LogicalSlot{}
	}
	r.active.Store(snapshot.ID, snapshot)
	for _, slot := range snapshot.Slots {
		r.slotIndex.Store(slot.SlotID, slot)
	}
	r.mirror.SaveServer(snapshot)
	r.logger.Infof("Auto-restored server %s from dead snapshot", snapshot.ID)
	return snapshot
}

// Lookup returns an active server by id.
func (r *ServerRegistry) Lookup(serverID string) (*RegisteredServer, bool) {
	return r.active.Load(serverID)
}

// LookupUnavailable returns a pooled server by id.
func (r *ServerRegistry) LookupUnavailable(serverID string) (*RegisteredServer, bool) {
	return r.unavailable.Load(serverID)
}

// LookupSlot resolves a slot id anywhere in the fleet.
func (r *ServerRegistry) LookupSlot(slotID string) (*LogicalSlot, bool) {
	return r.slotIndex.Load(slotID)
}

// All returns a snapshot of the active pool.
func (r *ServerRegistry) All() []*RegisteredServer {
	out := make([]*RegisteredServer, 0, r.active.Size())
	r.active.Range(func(_ string, s *RegisteredServer) bool {
		out = append(out, s)
		return true
	})
	return out
}

func (r *ServerRegistry) lookupByAddress(address string, port int) (*RegisteredServer, bool) {
	var found *RegisteredServer
	r.active.Range(func(_ string, s *RegisteredServer) bool {
		if s.Address == address && s.Port == port {
			found = s
			return false
		}
		return true
	})
	return found, found != nil
}

// UpdateMetrics records the player count and tick rate from a heartbeat.
func (r *ServerRegistry) UpdateMetrics(serverID string, players int, tps float64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	server, ok := r.active.Load(serverID)
	if !ok {
		return false
	}
	server.PlayerCount = players
	server.TPS = tps
	return true
}

// RecordHeartbeat refreshes a server's heartbeat instant.
func (r *ServerRegistry) RecordHeartbeat(serverID string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	server, ok := r.active.Load(serverID)
	if !ok {
		return false
	}
	server.LastHeartbeat = at
	r.mirror.SaveHeartbeat(KindServer, serverID, at)
	return true
}

// SetStatus flips a server's liveness classification.
func (r *ServerRegistry) SetStatus(serverID string, status types.NodeStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if server, ok := r.active.Load(serverID); ok {
		server.Status = status
		r.mirror.SaveServer(server)
	}
}

// SetAdvertisement records a backend's slot family advertisement.
func (r *ServerRegistry) SetAdvertisement(serverID string, capacities map[string]int, variants map[string][]string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	server, ok := r.active.Load(serverID)
	if !ok {
		return false
	}
	server.FamilyCapacities = capacities
	server.FamilyVariants = variants
	r.mirror.SaveServer(server)
	return true
}

// SetEvacuating flags or clears a server's evacuation state.
func (r *ServerRegistry) SetEvacuating(serverID string, evacuating bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if server, ok := r.active.Load(serverID); ok {
		server.Evacuating = evacuating
		r.mirror.SaveServer(server)
	}
}

// UpdateSlot applies one slot-status transition atomically and returns the
// slot together with its previous status ("" for a new slot).
func (r *ServerRegistry) UpdateSlot(serverID string, update SlotUpdate) (*LogicalSlot, types.SlotStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	server, ok := r.active.Load(serverID)
	if !ok {
		return nil, "", fmt.Errorf("unknown server %s", serverID)
	}
	slot, exists := server.Slots[update.SlotID]
	var previous types.SlotStatus
	if !exists {
		slot = &LogicalSlot{
			SlotID:     update.SlotID,
			SlotSuffix: SuffixOf(update.SlotID),
			ServerID:   serverID,
			FirstSeen:  r.slotSeq.Add(1),
		}
		server.Slots[update.SlotID] = slot
		r.slotIndex.Store(update.SlotID, slot)
	} else {
		previous = slot.Status
	}
	slot.Status = update.Status
	slot.OnlinePlayers = update.OnlinePlayers
	if update.MaxPlayers > 0 {
		slot.MaxPlayers = update.MaxPlayers
	}
	if update.Metadata != nil {
		slot.Metadata = update.Metadata
	}
	r.mirror.SaveServer(server)
	return slot, previous, nil
}

// StartCleanup runs the unavailable-pool sweep until Stop.
func (r *ServerRegistry) StartCleanup() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.CleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.CleanupExpired()
			case <-r.quit:
				return
			}
		}
	}()
}

// CleanupExpired permanently discards pooled servers older than the recycle
// window and releases their ids.
func (r *ServerRegistry) CleanupExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var expired []string
	r.unavailableSince.Range(func(id string, since time.Time) bool {
		if now.Sub(since) >= r.cfg.RecycleWindow {
			expired = append(expired, id)
		}
		return true
	})
	for _, id := range expired {
		if server, ok := r.unavailable.Load(id); ok {
			server.Machine.Transition(types.StateUnregistered, "recycle window expired")
			server.Machine.Stop()
		}
		r.unavailable.Delete(id)
		r.unavailableSince.Delete(id)
		if identifier, err := ParseIdentifier(id); err == nil {
			r.alloc.Release(identifier, true)
		}
		r.logger.Infof("Recycled server id %s", id)
	}
}

// Stop halts the cleanup loop and every server state machine.
func (r *ServerRegistry) Stop() {
	close(r.quit)
	r.wg.Wait()
	r.active.Range(func(_ string, s *RegisteredServer) bool {
		s.Machine.Stop()
		return true
	})
	r.unavailable.Range(func(_ string, s *RegisteredServer) bool {
		s.Machine.Stop()
		return true
	})
}

func (r *ServerRegistry) newMachine(id string) *fsm.Machine {
	timed := map[types.RegistrationState]types.RegistrationState{
		types.StateRegistering: types.StateUnregistered,
	}
	return fsm.NewMachine(id, r.cfg.RegisteringTimeout, timed, r.notifier, r.logger)
}

func (r *ServerRegistry) registeredMachine(id, reason string) *fsm.Machine {
	machine := r.newMachine(id)
	machine.Transition(types.StateRegistering, reason)
	machine.Transition(types.StateRegistered, reason)
	return machine
}
