// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/fsm"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// ProxyRegistryConfig carries the timing knobs of the proxy registry.
type ProxyRegistryConfig struct {
	// AnnounceDebounce suppresses duplicate registrations from the same
	// (address, port) within the window.
	AnnounceDebounce time.Duration
	// RecycleWindow is how long a deregistered proxy lingers in the
	// unavailable pool before its id is released.
	RecycleWindow time.Duration
	// CleanupInterval is the cadence of the unavailable-pool sweep.
	CleanupInterval time.Duration
	// RegisteringTimeout expires a stuck REGISTERING machine back to
	// UNREGISTERED.
	RegisteringTimeout time.Duration
}

// ProxyRegistry tracks the edge proxies. Mutations are serialized under one
// mutex; lookups read the concurrent maps without locking.
type ProxyRegistry struct {
	cfg      ProxyRegistryConfig
	alloc    *IDAllocator
	mirror   *Mirror
	notifier *fsm.Notifier
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu               sync.Mutex
	active           *xsync.Map[string, *RegisteredProxy]
	unavailable      *xsync.Map[string, *RegisteredProxy]
	unavailableSince *xsync.Map[string, time.Time]

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewProxyRegistry returns an empty proxy registry.
func NewProxyRegistry(cfg ProxyRegistryConfig, alloc *IDAllocator, mirror *Mirror, notifier *fsm.Notifier, logger *zap.SugaredLogger) *ProxyRegistry {
	return &ProxyRegistry{
		cfg:              cfg,
		alloc:            alloc,
		mirror:           mirror,
		notifier:         notifier,
		logger:           logger,
		now:              time.Now,
		active:           xsync.NewMap[string, *RegisteredProxy](),
		unavailable:      xsync.NewMap[string, *RegisteredProxy](),
		unavailableSince: xsync.NewMap[string, time.Time](),
		quit:             make(chan struct{}),
	}
}

// SetClock overrides the registry's time source. Intended for tests.
func (r *ProxyRegistry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Restore loads the mirrored pools. Must complete before any bus
// subscription is live.
func (r *ProxyRegistry) Restore() error {
	activeProxies, err := r.mirror.LoadActiveProxies()
	if err != nil {
		return err
	}
	unavailableProxies, since, err := r.mirror.LoadUnavailableProxies()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range activeProxies {
		identifier, err := ParseIdentifier(id)
		if err != nil {
			return fmt.Errorf("restore proxy %s: %w", id, err)
		}
		r.alloc.MarkActive(identifier)
		p.Machine = r.registeredMachine(id, "restored from mirror")
		r.active.Store(id, p)
	}
	for id, p := range unavailableProxies {
		identifier, err := ParseIdentifier(id)
		if err != nil {
			return fmt.Errorf("restore proxy %s: %w", id, err)
		}
		r.alloc.MarkActive(identifier)
		machine := r.registeredMachine(id, "restored from mirror")
		machine.Transition(types.StateDisconnected, "restored into unavailable pool")
		p.Machine = machine
		r.unavailable.Store(id, p)
		r.unavailableSince.Store(id, since[id])
	}
	r.logger.Infof("Restored %d active and %d unavailable proxies", r.active.Size(), r.unavailable.Size())
	return nil
}

// Register brings a proxy into the active pool. A blank proxyID allocates a
// fresh identifier. Registration is idempotent by id and debounced by
// (address, port).
func (r *ProxyRegistry) Register(proxyID, address string, port int) (*RegisteredProxy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if proxyID != "" {
		if existing, ok := r.active.Load(proxyID); ok {
			return existing, nil
		}
	}
	if existing, ok := r.lookupByAddress(address, port); ok {
		if r.now().Sub(existing.RegisteredAt) < r.cfg.AnnounceDebounce {
			r.logger.Debugf("Debouncing double announce from %s:%d as %s", address, port, existing.ID)
			return existing, nil
		}
	}
	if proxyID != "" {
		if restored, ok := r.reactivateLocked(proxyID); ok {
			return restored, nil
		}
	}

	var identifier Identifier
	if proxyID == "" {
		identifier = r.alloc.Allocate()
	} else {
		parsed, err := ParseIdentifier(proxyID)
		if err != nil {
			return nil, err
		}
		identifier = parsed
		r.alloc.MarkActive(identifier)
	}
	id := identifier.String()
	now := r.now()
	machine := r.newMachine(id)
	machine.Transition(types.StateRegistering, "proxy announcement")
	proxy := &RegisteredProxy{
		ID:            id,
		Address:       address,
		Port:          port,
		Status:        types.StatusAvailable,
		LastHeartbeat: now,
		RegisteredAt:  now,
		Machine:       machine,
	}
	machine.Transition(types.StateRegistered, "registration complete")
	r.active.Store(id, proxy)
	r.mirror.SaveActiveProxy(proxy)
	r.logger.Infof("Registered proxy %s at %s:%d", id, address, port)
	return proxy, nil
}

// Deregister moves a proxy to the unavailable pool. Its id stays reserved
// for the recycle window.
func (r *ProxyRegistry) Deregister(proxyID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	proxy, ok := r.active.Load(proxyID)
	if !ok {
		return false
	}
	proxy.Machine.Transition(types.StateDeregistering, "deregistration")
	proxy.Machine.Transition(types.StateDisconnected, "deregistration complete")
	proxy.Status = types.StatusUnavailable
	now := r.now()
	r.active.Delete(proxyID)
	r.unavailable.Store(proxyID, proxy)
	r.unavailableSince.Store(proxyID, now)
	if identifier, err := ParseIdentifier(proxyID); err == nil {
		r.alloc.Release(identifier, false)
	}
	r.mirror.DeleteActiveProxy(proxyID)
	r.mirror.SaveUnavailableProxy(proxy, now)
	r.logger.Infof("Proxy %s moved to the unavailable pool", proxyID)
	return true
}

// Reactivate restores a proxy from the unavailable pool, e.g. when its
// heartbeats resume within the recycle window.
func (r *ProxyRegistry) Reactivate(proxyID string) (*RegisteredProxy, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reactivateLocked(proxyID)
}

// reactivateLocked restores a pooled proxy. Caller holds the mutation lock.
func (r *ProxyRegistry) reactivateLocked(proxyID string) (*RegisteredProxy, bool) {
	proxy, ok := r.unavailable.Load(proxyID)
	if !ok {
		return nil, false
	}
	proxy.Machine.Transition(types.StateReRegistering, "proxy reactivation")
	proxy.Machine.Transition(types.StateRegistered, "reactivation complete")
	now := r.now()
	proxy.Status = types.StatusAvailable
	proxy.LastHeartbeat = now
	r.unavailable.Delete(proxyID)
	r.unavailableSince.Delete(proxyID)
	r.active.Store(proxyID, proxy)
	if identifier, err := ParseIdentifier(proxyID); err == nil {
		r.alloc.MarkActive(identifier)
	}
	r.mirror.DeleteUnavailableProxy(proxyID)
	r.mirror.SaveActiveProxy(proxy)
	r.logger.Infof("Reactivated proxy %s", proxyID)
	return proxy, true
}

// RemoveImmediately discards a proxy bypassing the recycle window, used on
// graceful shutdown.
func (r *ProxyRegistry) RemoveImmediately(proxyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if proxy, ok := r.active.Load(proxyID); ok {
		proxy.Machine.Transition(types.StateDeregistering, "immediate removal")
		proxy.Machine.Transition(types.StateUnregistered, "immediate removal")
		proxy.Machine.Stop()
		r.active.Delete(proxyID)
		r.mirror.DeleteActiveProxy(proxyID)
	}
	if proxy, ok := r.unavailable.Load(proxyID); ok {
		proxy.Machine.Transition(types.StateUnregistered, "immediate removal")
		proxy.Machine.Stop()
		r.unavailable.Delete(proxyID)
		r.unavailableSince.Delete(proxyID)
		r.mirror.DeleteUnavailableProxy(proxyID)
	}
	if identifier, err := ParseIdentifier(proxyID); err == nil {
		r.alloc.Release(identifier, true)
	}
	r.logger.Infof("Removed proxy %s immediately", proxyID)
}

// RestoreProxy re-inserts a dead-node snapshot, bypassing the registration
// handshake. Used by the heartbeat monitor's auto-restore.
func (r *ProxyRegistry) RestoreProxy(snapshot *RegisteredProxy) *RegisteredProxy {
	r.mu.Lock()
	defer r.mu.Unlock()
	if identifier, err := ParseIdentifier(snapshot.ID); err == nil && !r.alloc.IsActive(identifier) {
		r.alloc.MarkActive(identifier)
	}
	snapshot.Machine = r.registeredMachine(snapshot.ID, "auto-restore after heartbeat")
	snapshot.Status = types.StatusAvailable
	snapshot.LastHeartbeat = r.now()
	r.active.Store(snapshot.ID, snapshot)
	r.mirror.SaveActiveProxy(snapshot)
	r.logger.Infof("Auto-restored proxy %s from dead snapshot", snapshot.ID)
	return snapshot
}

// Lookup returns an active proxy by id.
func (r *ProxyRegistry) Lookup(proxyID string) (*RegisteredProxy, bool) {
	return r.active.Load(proxyID)
}

// LookupUnavailable returns a pooled proxy by id.
func (r *ProxyRegistry) LookupUnavailable(proxyID string) (*RegisteredProxy, bool) {
	return r.unavailable.Load(proxyID)
}

// LookupByAddress returns the active proxy at (address, port).
func (r *ProxyRegistry) LookupByAddress(address string, port int) (*RegisteredProxy, bool) {
	return r.lookupByAddress(address, port)
}

func (r *ProxyRegistry) lookupByAddress(address string, port int) (*RegisteredProxy, bool) {
	var found *RegisteredProxy
	r.active.Range(func(_ string, p *RegisteredProxy) bool {
		if p.Address == address && p.Port == port {
			found = p
			return false
		}
		return true
	})
	return found, found != nil
}

// All returns a snapshot of the active pool.
func (r *ProxyRegistry) All() []*RegisteredProxy {
	out := make([]*RegisteredProxy, 0, r.active.Size())
	r.active.Range(func(_ string, p *RegisteredProxy) bool {
		out = append(out, p)
		return true
	})
	return out
}

// RecordHeartbeat refreshes a proxy's heartbeat and metrics.
func (r *ProxyRegistry) RecordHeartbeat(proxyID string, at time.Time, playerCount int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	proxy, ok := r.active.Load(proxyID)
	if !ok {
		return false
	}
	proxy.LastHeartbeat = at
	proxy.PlayerCount = playerCount
	r.mirror.SaveHeartbeat(KindProxy, proxyID, at)
	return true
}

// SetStatus flips a proxy's liveness classification.
func (r *ProxyRegistry) SetStatus(proxyID string, status types.NodeStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if proxy, ok := r.active.Load(proxyID); ok {
		proxy.Status = status
		r.mirror.SaveActiveProxy(proxy)
	}
}

// StartCleanup runs the unavailable-pool sweep until Stop.
func (r *ProxyRegistry) StartCleanup() {
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

// CleanupExpired permanently discards pooled proxies older than the recycle
// window and releases their ids.
func (r *ProxyRegistry) CleanupExpired() {
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
		if proxy, ok := r.unavailable.Load(id); ok {
			proxy.Machine.Transition(types.StateUnregistered, "recycle window expired")
			proxy.Machine.Stop()
		}
		r.unavailable.Delete(id)
		r.unavailableSince.Delete(id)
		if identifier, err := ParseIdentifier(id); err == nil {
			r.alloc.Release(identifier, true)
		}
		r.mirror.DeleteUnavailableProxy(id)
		r.logger.Infof("Recycled proxy id %s", id)
	}
}

// Stop halts the cleanup loop and every proxy state machine.
func (r *ProxyRegistry) Stop() {
	close(r.quit)
	r.wg.Wait()
	r.active.Range(func(_ string, p *RegisteredProxy) bool {
		p.Machine.Stop()
		return true
	})
	r.unavailable.Range(func(_ string, p *RegisteredProxy) bool {
		p.Machine.Stop()
		return true
	})
}

func (r *ProxyRegistry) newMachine(id string) *fsm.Machine {
	timed := map[types.RegistrationState]types.RegistrationState{
		types.StateRegistering: types.StateUnregistered,
	}
	return fsm.NewMachine(id, r.cfg.RegisteringTimeout, timed, r.notifier, r.logger)
}

// registeredMachine builds a machine already advanced to REGISTERED, used on
// restore paths that bypass the announcement handshake.
func (r *ProxyRegistry) registeredMachine(id, reason string) *fsm.Machine {
	machine := r.newMachine(id)
	machine.Transition(types.StateRegistering, reason)
	machine.Transition(types.StateRegistered, reason)
	return machine
}
