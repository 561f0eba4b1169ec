// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package types

import "time"

// FulcrumConfig represents the raw config of the registry core as read from
// the config file. Durations are strings and parsed into FulcrumTypedConfig.
type FulcrumConfig struct {
	BusURL             string `json:"busURL"`
	KVAddress          string `json:"kvAddress"`
	KVPassword         string `json:"kvPassword"`
	KVDatabase         int    `json:"kvDatabase"`
	BusSize            int    `json:"busSize"`
	IDBase             string `json:"idBase"`
	TransferHint       string `json:"transferHint"`
	MaxRouteRetries    int    `json:"maxRouteRetries"`
	UnavailableTimeout string `json:"unavailableTimeout"`
	DeadTimeout        string `json:"deadTimeout"`
	CheckInterval      string `json:"checkInterval"`
	GracePeriod        string `json:"gracePeriod"`
	DeadBlacklist      string `json:"deadBlacklist"`
	RouteTimeout       string `json:"routeTimeout"`
	ReservationTimeout string `json:"reservationTimeout"`
	MaxQueueWait       string `json:"maxQueueWait"`
	RecentSlotTTL      string `json:"recentSlotTTL"`
	RecycleWindow      string `json:"recycleWindow"`
	AnnounceDebounce   string `json:"announceDebounce"`
	CleanupInterval    string `json:"cleanupInterval"`
	ProvisionLockTTL   string `json:"provisionLockTTL"`
	EvacuationTimeout  string `json:"evacuationTimeout"`
}

// FulcrumTypedConfig reflects FulcrumConfig, but it contains the real property types.
type FulcrumTypedConfig struct {
	BusURL             string
	KVAddress          string
	KVPassword         string
	KVDatabase         int
	BusSize            int
	IDBase             string
	TransferHint       string
	MaxRouteRetries    int
	UnavailableTimeout time.Duration
	DeadTimeout        time.Duration
	CheckInterval      time.Duration
	GracePeriod        time.Duration
	DeadBlacklist      time.Duration
	RouteTimeout       time.Duration
	ReservationTimeout time.Duration
	MaxQueueWait       time.Duration
	RecentSlotTTL      time.Duration
	RecycleWindow      time.Duration
	AnnounceDebounce   time.Duration
	CleanupInterval    time.Duration
	ProvisionLockTTL   time.Duration
	EvacuationTimeout  time.Duration
}
