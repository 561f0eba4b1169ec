// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/kv"
)

// mirrorOpTimeout bounds every single KV operation so a slow store can never
// wedge a registry mutation.
const mirrorOpTimeout = 3 * time.Second

// Mirror writes registry state through to the KV store and reads it back on
// boot. During a run the in-memory state is authoritative: write failures are
// logged and the mutation proceeds. Read failures at boot are returned and
// treated as fatal by the caller.
type Mirror struct {
	store  kv.Store
	logger *zap.SugaredLogger
}

// NewMirror returns a mirror over the given store.
func NewMirror(store kv.Store, logger *zap.SugaredLogger) *Mirror {
	return &Mirror{store: store, logger: logger}
}

// Store exposes the underlying KV store for callers that need raw primitives
// such as the provision lock.
func (m *Mirror) Store() kv.Store {
	return m.store
}

func (m *Mirror) put(key string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		m.logger.Errorf("Mirror marshal %s: %v", key, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
	defer cancel()
	if err := m.store.Set(ctx, key, string(raw)); err != nil {
		m.logger.Warnf("Mirror write %s: %v", key, err)
	}
}

func (m *Mirror) putTTL(key string, v interface{}, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		m.logger.Errorf("Mirror marshal %s: %v", key, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
	defer cancel()
	if err := m.store.SetTTL(ctx, key, string(raw), ttl); err != nil {
		m.logger.Warnf("Mirror write %s: %v", key, err)
	}
}

func (m *Mirror) del(keys ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
	defer cancel()
	if err := m.store.Delete(ctx, keys...); err != nil {
		m.logger.Warnf("Mirror delete %v: %v", keys, err)
	}
}

func (m *Mirror) loadPrefix(prefix string) (map[string]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
	defer cancel()
	pairs, err := m.store.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("mirror restore %s: %w", prefix, err)
	}
	return pairs, nil
}

// --- proxies ---

// SaveActiveProxy mirrors one active proxy.
func (m *Mirror) SaveActiveProxy(p *RegisteredProxy) {
	m.put(kv.KeyProxyActive(p.ID), p)
}

// DeleteActiveProxy removes an active proxy from the mirror.
func (m *Mirror) DeleteActiveProxy(id string) {
	m.del(kv.KeyProxyActive(id))
}

// SaveUnavailableProxy mirrors a proxy in the unavailable pool together with
// the instant it entered.
func (m *Mirror) SaveUnavailableProxy(p *RegisteredProxy, since time.Time) {
	m.put(kv.KeyProxyUnavailable(p.ID), p)
	m.put(kv.KeyProxyUnavailableTS(p.ID), since.UnixMilli())
}

// DeleteUnavailableProxy removes a proxy from the mirrored unavailable pool.
func (m *Mirror) DeleteUnavailableProxy(id string) {
	m.del(kv.KeyProxyUnavailable(id), kv.KeyProxyUnavailableTS(id))
}

// LoadActiveProxies restores the active proxy pool.
func (m *Mirror) LoadActiveProxies() (map[string]*RegisteredProxy, error) {
	pairs, err := m.loadPrefix(kv.PrefixProxyActive)
	if err != nil {
		return nil, err
	}
	out := map[string]*RegisteredProxy{}
	for key, value := range pairs {
		var p RegisteredProxy
		if err := json.Unmarshal([]byte(value), &p); err != nil {
			return nil, fmt.Errorf("mirror restore %s: %w", key, err)
		}
		out[p.ID] = &p
	}
	return out, nil
}

// LoadUnavailableProxies restores the unavailable pool and its timestamps.
func (m *Mirror) LoadUnavailableProxies() (map[string]*RegisteredProxy, map[string]time.Time, error) {
	pairs, err := m.loadPrefix(kv.PrefixProxyUnavailable)
	if err != nil {
		return nil, nil, err
	}
	proxies := map[string]*RegisteredProxy{}
	since := map[string]time.Time{}
	for key, value := range pairs {
		if strings.HasSuffix(key, ":ts") {
			ms, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return nil, nil, fmt.Errorf("mirror restore %s: %w", key, err)
			}
			id := strings.TrimSuffix(strings.TrimPrefix(key, kv.PrefixProxyUnavailable), ":ts")
			since[id] = time.UnixMilli(ms)
			continue
		}
		var p RegisteredProxy
		if err := json.Unmarshal([]byte(value), &p); err != nil {
			return nil, nil, fmt.Errorf("mirror restore %s: %w", key, err)
		}
		proxies[p.ID] = &p
	}
	return proxies, since, nil
}

// --- servers ---

// SaveServer mirrors one active server including its slot map.
func (m *Mirror) SaveServer(s *RegisteredServer) {
	m.put(kv.KeyServerActive(s.ID), s)
	m.put(kv.KeyServerSlots(s.ID), s.Slots)
	if s.TempID != "" {
		m.put(kv.KeyProxyTemp(s.TempID), s.ID)
	}
}

// DeleteServer removes a server and its slots from the mirror.
func (m *Mirror) DeleteServer(s *RegisteredServer) {
	keys := []string{kv.KeyServerActive(s.ID), kv.KeyServerSlots(s.ID)}
	if s.TempID != "" {
		keys = append(keys, kv.KeyProxyTemp(s.TempID))
	}
	m.del(keys...)
}

// LoadServers restores the active server pool.
func (m *Mirror) LoadServers() (map[string]*RegisteredServer, error) {
	pairs, err := m.loadPrefix(kv.PrefixServerActive)
	if err != nil {
		return nil, err
	}
	out := map[string]*RegisteredServer{}
	for key, value := range pairs {
		var s RegisteredServer
		if err := json.Unmarshal([]byte(value), &s); err != nil {
			return nil, fmt.Errorf("mirror restore %s: %w", key, err)
		}
		if s.Slots == nil {
			s.Slots = map[string]*LogicalSlot{}
		}
		out[s.ID] = &s
	}
	return out, nil
}

// --- heartbeats and dead snapshots ---

// SaveHeartbeat mirrors the last heartbeat instant of a node.
func (m *Mirror) SaveHeartbeat(kind NodeKind, id string, at time.Time) {
	m.put(kv.KeyHeartbeat(string(kind), id), at.UnixMilli())
}

// DeleteHeartbeat drops a node's mirrored heartbeat.
func (m *Mirror) DeleteHeartbeat(kind NodeKind, id string) {
	m.del(kv.KeyHeartbeat(string(kind), id))
}

// SaveDeadNode mirrors the snapshot taken when a node is declared dead.
func (m *Mirror) SaveDeadNode(kind NodeKind, id string, snapshot interface{}) {
	m.put(kv.KeyDeadNode(string(kind), id), snapshot)
}

// DeleteDeadNode drops a dead-node snapshot.
func (m *Mirror) DeleteDeadNode(kind NodeKind, id string) {
	m.del(kv.KeyDeadNode(string(kind), id))
}

// LoadDeadServers restores mirrored dead-server snapshots.
func (m *Mirror) LoadDeadServers() (map[string]*RegisteredServer, error) {
	pairs, err := m.loadPrefix(kv.PrefixDeadNode + string(KindServer) + ":")
	if err != nil {
		return nil, err
	}
	out := map[string]*RegisteredServer{}
	for key, value := range pairs {
		var s RegisteredServer
		if err := json.Unmarshal([]byte(value), &s); err != nil {
			return nil, fmt.Errorf("mirror restore %s: %w", key, err)
		}
		out[s.ID] = &s
	}
	return out, nil
}

// LoadDeadProxies restores mirrored dead-proxy snapshots.
func (m *Mirror) LoadDeadProxies() (map[string]*RegisteredProxy, error) {
	pairs, err := m.loadPrefix(kv.PrefixDeadNode + string(KindProxy) + ":")
	if err != nil {
		return nil, err
	}
	out := map[string]*RegisteredProxy{}
	for key, value := range pairs {
		var p RegisteredProxy
		if err := json.Unmarshal([]byte(value), &p); err != nil {
			return nil, fmt.Errorf("mirror restore %s: %w", key, err)
		}
		out[p.ID] = &p
	}
	return out, nil
}

// --- routing state ---

// SaveQueue mirrors one family queue as a whole.
func (m *Mirror) SaveQueue(family string, entries interface{}) {
	m.put(kv.KeyRouteQueue(family), entries)
}

// DeleteQueue drops a family queue from the mirror.
func (m *Mirror) DeleteQueue(family string) {
	m.del(kv.KeyRouteQueue(family))
}

// LoadQueues restores all family queues as raw JSON, keyed by family.
func (m *Mirror) LoadQueues() (map[string]json.RawMessage, error) {
	pairs, err := m.loadPrefix(kv.PrefixRouteQueue)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	for key, value := range pairs {
		family := strings.TrimPrefix(key, kv.PrefixRouteQueue)
		out[family] = json.RawMessage(value)
	}
	return out, nil
}

// SaveInflight mirrors one in-flight route.
func (m *Mirror) SaveInflight(requestID string, route interface{}) {
	m.put(kv.KeyRouteInflight(requestID), route)
}

// DeleteInflight drops an in-flight route from the mirror.
func (m *Mirror) DeleteInflight(requestID string) {
	m.del(kv.KeyRouteInflight(requestID))
}

// LoadInflight restores all mirrored in-flight routes as raw JSON, keyed by
// request id.
func (m *Mirror) LoadInflight() (map[string]json.RawMessage, error) {
	pairs, err := m.loadPrefix(kv.PrefixRouteInflight)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	for key, value := range pairs {
		out[strings.TrimPrefix(key, kv.PrefixRouteInflight)] = json.RawMessage(value)
	}
	return out, nil
}

// SaveOccupancy mirrors the pending-occupancy counter of a slot. A zero
// counter is deleted instead.
func (m *Mirror) SaveOccupancy(slotID string, pending int) {
	if pending <= 0 {
		m.del(kv.KeyRouteOccupancy(slotID))
		return
	}
	m.put(kv.KeyRouteOccupancy(slotID), pending)
}

// LoadOccupancy restores the pending-occupancy counters.
func (m *Mirror) LoadOccupancy() (map[string]int, error) {
	pairs, err := m.loadPrefix(kv.PrefixRouteOccupancy)
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	for key, value := range pairs {
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("mirror restore %s: %w", key, err)
		}
		out[strings.TrimPrefix(key, kv.PrefixRouteOccupancy)] = n
	}
	return out, nil
}

// SaveActivePlayer mirrors a player's active slot.
func (m *Mirror) SaveActivePlayer(playerID, slotID string) {
	m.put(kv.KeyActivePlayer(playerID), slotID)
}

// DeleteActivePlayer drops a player's active slot.
func (m *Mirror) DeleteActivePlayer(playerID string) {
	m.del(kv.KeyActivePlayer(playerID))
}

// SaveRecentSlots mirrors a player's recent-slot list with its TTL.
func (m *Mirror) SaveRecentSlots(playerID string, slots []string, ttl time.Duration) {
	m.putTTL(kv.KeyRecentSlots(playerID), slots, ttl)
}

// LoadActivePlayers restores the player→slot table. Recent-slot lists are
// TTL-bounded and deliberately not restored.
func (m *Mirror) LoadActivePlayers() (map[string]string, error) {
	pairs, err := m.loadPrefix(kv.PrefixActivePlayer)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	for key, value := range pairs {
		if strings.HasSuffix(key, ":recent") {
			continue
		}
		var slotID string
		if err := json.Unmarshal([]byte(value), &slotID); err != nil {
			return nil, fmt.Errorf("mirror restore %s: %w", key, err)
		}
		out[strings.TrimPrefix(key, kv.PrefixActivePlayer)] = slotID
	}
	return out, nil
}

// AcquireProvisionLock takes the short-lived per-family provision lock.
func (m *Mirror) AcquireProvisionLock(family string, ttl time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
	defer cancel()
	won, err := m.store.SetNX(ctx, kv.KeyProvisionLock(family), "1", ttl)
	if err != nil {
		m.logger.Warnf("Provision lock %s: %v", family, err)
		return false
	}
	return won
}

// ReleaseProvisionLock frees the per-family provision lock.
func (m *Mirror) ReleaseProvisionLock(family string) {
	m.del(kv.KeyProvisionLock(family))
}

// --- parties and rosters ---

// SavePartyReservation mirrors a party reservation snapshot.
func (m *Mirror) SavePartyReservation(id string, reservation interface{}) {
	m.put(kv.KeyPartyReservation(id), reservation)
}

// DeletePartyReservation drops a party reservation.
func (m *Mirror) DeletePartyReservation(id string) {
	m.del(kv.KeyPartyReservation(id))
}

// LoadPartyReservations restores mirrored party reservations as raw JSON.
func (m *Mirror) LoadPartyReservations() (map[string]json.RawMessage, error) {
	pairs, err := m.loadPrefix(kv.PrefixPartyReservation)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	for key, value := range pairs {
		out[strings.TrimPrefix(key, kv.PrefixPartyReservation)] = json.RawMessage(value)
	}
	return out, nil
}

// SaveMatchRoster mirrors a roster lock.
func (m *Mirror) SaveMatchRoster(slotID string, roster interface{}) {
	m.put(kv.KeyMatchRoster(slotID), roster)
}

// DeleteMatchRoster drops a roster lock.
func (m *Mirror) DeleteMatchRoster(slotID string) {
	m.del(kv.KeyMatchRoster(slotID))
}

// LoadMatchRosters restores mirrored rosters as raw JSON keyed by slot id.
func (m *Mirror) LoadMatchRosters() (map[string]json.RawMessage, error) {
	pairs, err := m.loadPrefix(kv.PrefixMatchRoster)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	for key, value := range pairs {
		out[strings.TrimPrefix(key, kv.PrefixMatchRoster)] = json.RawMessage(value)
	}
	return out, nil
}

// --- shutdown ---

// SaveShutdownIntent mirrors an active intent.
func (m *Mirror) SaveShutdownIntent(id string, intent interface{}) {
	m.put(kv.KeyShutdownIntent(id), intent)
}

// DeleteShutdownIntent drops an intent.
func (m *Mirror) DeleteShutdownIntent(id string) {
	m.del(kv.KeyShutdownIntent(id))
}

// LoadShutdownIntents restores mirrored intents as raw JSON.
func (m *Mirror) LoadShutdownIntents() (map[string]json.RawMessage, error) {
	pairs, err := m.loadPrefix(kv.PrefixShutdownIntent)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	for key, value := range pairs {
		out[strings.TrimPrefix(key, kv.PrefixShutdownIntent)] = json.RawMessage(value)
	}
	return out, nil
}

// SaveShutdownTicket mirrors one evacuation ticket with its TTL.
func (m *Mirror) SaveShutdownTicket(playerID, intentID string, ticket interface{}, ttl time.Duration) {
	m.putTTL(kv.KeyShutdownTicket(playerID, intentID), ticket, ttl)
}

// DeleteShutdownTicket drops a ticket, consumed or released.
func (m *Mirror) DeleteShutdownTicket(playerID, intentID string) {
	m.del(kv.KeyShutdownTicket(playerID, intentID))
}

// LoadShutdownTickets restores mirrored tickets as raw JSON keyed by
// "<playerId>:<intentId>".
func (m *Mirror) LoadShutdownTickets() (map[string]json.RawMessage, error) {
	pairs, err := m.loadPrefix(kv.PrefixShutdownTicket)
	if err != nil {
		return nil, err
	}
	out := map[string]json.RawMessage{}
	for key, value := range pairs {
		out[strings.TrimPrefix(key, kv.PrefixShutdownTicket)] = json.RawMessage(value)
	}
	return out, nil
}

// --- network profile ---

// SaveNetworkProfile mirrors the active network profile.
func (m *Mirror) SaveNetworkProfile(profile interface{}) {
	m.put(kv.KeyNetworkProfile, profile)
}

// LoadNetworkProfile restores the active network profile, if any.
func (m *Mirror) LoadNetworkProfile(into interface{}) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mirrorOpTimeout)
	defer cancel()
	value, err := m.store.Get(ctx, kv.KeyNetworkProfile)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mirror restore %s: %w", kv.KeyNetworkProfile, err)
	}
	if err := json.Unmarshal([]byte(value), into); err != nil {
		return false, fmt.Errorf("mirror restore %s: %w", kv.KeyNetworkProfile, err)
	}
	return true, nil
}
