// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package kv

// Key layout of the registry mirror. Every component restores from exactly
// the keys it writes, so the whole layout is kept in one place.

const (
	PrefixProxyActive      = "proxy:active:"
	PrefixProxyUnavailable = "proxy:unavailable:"
	PrefixProxyTemp        = "proxy:temp:"
	PrefixServerActive     = "server:active:"
	PrefixServerSlots      = "server:slots:"
	PrefixHeartbeat        = "heartbeat:"
	PrefixDeadNode         = "heartbeat:dead:"
	PrefixRouteQueue       = "route:queue:"
	PrefixRouteInflight    = "route:inflight:"
	PrefixRouteOccupancy   = "route:occupancy:"
	PrefixActivePlayer     = "route:active:player:"
	PrefixProvisionLock    = "route:provision-lock:"
	PrefixPartyReservation = "party:reservation:"
	PrefixMatchRoster      = "match:roster:"
	PrefixShutdownIntent   = "shutdown:intent:"
	PrefixShutdownTicket   = "shutdown:ticket:"

	KeyNetworkProfile = "network:profile:active"

	suffixTimestamp   = ":ts"
	suffixRecentSlots = ":recent"
)

func KeyProxyActive(id string) string { return PrefixProxyActive + id }

func KeyProxyUnavailable(id string) string { return PrefixProxyUnavailable + id }

// KeyProxyUnavailableTS holds the instant a proxy entered the unavailable
// pool; the cleanup loop compares it against the recycle window.
func KeyProxyUnavailableTS(id string) string { return PrefixProxyUnavailable + id + suffixTimestamp }

func KeyProxyTemp(tempID string) string { return PrefixProxyTemp + tempID }

func KeyServerActive(id string) string { return PrefixServerActive + id }

func KeyServerSlots(id string) string { return PrefixServerSlots + id }

func KeyHeartbeat(kind, id string) string { return PrefixHeartbeat + kind + ":" + id }

func KeyDeadNode(kind, id string) string { return PrefixDeadNode + kind + ":" + id }

func KeyRouteQueue(family string) string { return PrefixRouteQueue + family }

func KeyRouteInflight(requestID string) string { return PrefixRouteInflight + requestID }

func KeyRouteOccupancy(slotID string) string { return PrefixRouteOccupancy + slotID }

func KeyActivePlayer(playerID string) string { return PrefixActivePlayer + playerID }

// KeyRecentSlots holds the capped list of slots a player was recently
// routed to.
func KeyRecentSlots(playerID string) string { return PrefixActivePlayer + playerID + suffixRecentSlots }

func KeyProvisionLock(family string) string { return PrefixProvisionLock + family }

func KeyPartyReservation(id string) string { return PrefixPartyReservation + id }

func KeyMatchRoster(slotID string) string { return PrefixMatchRoster + slotID }

func KeyShutdownIntent(id string) string { return PrefixShutdownIntent + id }

func KeyShutdownTicket(playerID, intentID string) string {
	return PrefixShutdownTicket + playerID + ":" + intentID
}
