// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package types

import "time"

// Bus channels. Directed variants are derived as "<channel>.<targetId>".
const (
	ChannelServerRegistrationRequest  = "server.registration.request"
	ChannelServerRegistrationResponse = "server.registration.response"
	ChannelServerRemoval              = "server.removal"
	ChannelServerEvacuationRequest    = "server.evacuation.request"
	ChannelServerEvacuationResponse   = "server.evacuation.response"
	ChannelHeartbeat                  = "heartbeat"
	ChannelReregistrationRequest      = "registry.rereg.request"
	ChannelProxyAnnouncement          = "proxy.announcement"
	ChannelSlotFamilyAdvertisement    = "slot.family.advertisement"
	ChannelSlotStatus                 = "slot.status"
	ChannelSlotProvisionRequest       = "slot.provision.request"
	ChannelPlayerRequest              = "player.request"
	ChannelPlayerRequestAck           = "player.request.ack"
	ChannelPlayerReservationRequest   = "player.reservation.request"
	ChannelPlayerReservationResponse  = "player.reservation.response"
	// Route commands are typed "player.route.command" but travel on the
	// directed channels "player.route.<proxyId>" and
	// "server.player.route.<serverId>".
	ChannelPlayerRouteCommand      = "player.route.command"
	ChannelPlayerRoute             = "player.route"
	ChannelServerPlayerRoute       = "server.player.route"
	ChannelPlayerRouteAck          = "player.route.ack"
	ChannelEnvironmentRouteRequest = "registry.environment.route.request"
	ChannelPartyReservationCreated = "party.reservation.created"
	ChannelPartyReservationClaimed = "party.reservation.claimed"
	ChannelMatchRosterCreated      = "match.roster.created"
	ChannelMatchRosterEnded        = "match.roster.ended"
	ChannelShutdownIntent          = "registry.shutdown.intent"
	ChannelShutdownUpdate          = "registry.shutdown.update"
	ChannelShutdownCancel          = "registry.shutdown.cancel"
	ChannelNetworkConfigRequest    = "registry.network.config.request"
	ChannelNetworkConfigUpdated    = "registry.network.config.updated"
	ChannelRankMutation            = "registry.network.rank.mutation"
	ChannelRankUpdate              = "registry.rank.update"
	ChannelStatusChange            = "registry.status.change"
	ChannelFriendMutationRequest   = "social.friend.mutation.request"
	ChannelFriendMutationAck       = "social.friend.mutation.ack"
	ChannelFriendRelationEvent     = "social.friend.relation.event"
	ChannelFriendRequestEvent      = "social.friend.request.event"
)

// NodeStatus is the liveness classification of a registered node.
type NodeStatus string

const (
	StatusAvailable   NodeStatus = "AVAILABLE"
	StatusUnavailable NodeStatus = "UNAVAILABLE"
	StatusDead        NodeStatus = "DEAD"
)

// SlotStatus is the lifecycle state of a logical slot on a backend.
type SlotStatus string

const (
	SlotProvisioning SlotStatus = "PROVISIONING"
	SlotAvailable    SlotStatus = "AVAILABLE"
	SlotAllocated    SlotStatus = "ALLOCATED"
	SlotFaulted      SlotStatus = "FAULTED"
	SlotCooldown     SlotStatus = "COOLDOWN"
)

// RegistrationState is the per-node registration machine state.
type RegistrationState string

const (
	StateUnregistered  RegistrationState = "UNREGISTERED"
	StateRegistering   RegistrationState = "REGISTERING"
	StateRegistered    RegistrationState = "REGISTERED"
	StateReRegistering RegistrationState = "RE_REGISTERING"
	StateDeregistering RegistrationState = "DEREGISTERING"
	StateDisconnected  RegistrationState = "DISCONNECTED"
)

// ShutdownPhase is a service's progress through an evacuation.
type ShutdownPhase string

const (
	PhaseEvacuate ShutdownPhase = "EVACUATE"
	PhaseEvict    ShutdownPhase = "EVICT"
	PhaseShutdown ShutdownPhase = "SHUTDOWN"
)

// RouteAction discriminates route commands from disconnect commands.
type RouteAction string

const (
	ActionRoute      RouteAction = "ROUTE"
	ActionDisconnect RouteAction = "DISCONNECT"
)

// AckStatus is the outcome reported in a route acknowledgement.
type AckStatus string

const (
	AckSuccess AckStatus = "SUCCESS"
	AckFailed  AckStatus = "FAILED"
)

// FailureMode controls how an environment route failure surfaces to the player.
type FailureMode string

const (
	KickOnFail FailureMode = "KICK_ON_FAIL"
	ReportOnly FailureMode = "REPORT_ONLY"
)

// PartyReservationState is the lifecycle of a pre-allocated party slot.
type PartyReservationState string

const (
	PartyPending   PartyReservationState = "PENDING"
	PartyAllocated PartyReservationState = "ALLOCATED"
	PartyClaimed   PartyReservationState = "CLAIMED"
	PartyExpired   PartyReservationState = "EXPIRED"
)

// Disconnect and retry reasons. These are stable identifiers surfaced to the
// proxy; turning them into player-facing text is the proxy's concern.
const (
	ReasonUnknownProxy            = "unknown-proxy"
	ReasonQueueTimeout            = "queue-timeout"
	ReasonRouteTimeout            = "route-timeout"
	ReasonReservationFailed       = "reservation-failed"
	ReasonReservationRejected     = "reservation-rejected"
	ReasonReservationMissingToken = "reservation-missing-token"
	ReasonRejoinSlotUnavailable   = "rejoin-slot-unavailable"
	ReasonMatchRosterLocked       = "match-roster-locked"
	ReasonShutdownTicketMissing   = "shutdown-ticket-missing"
	ReasonSlotUnavailable         = "slot-unavailable"
	ReasonPartyReservationExpired = "party-reservation-expired"
	ReasonEnvironmentUnavailable  = "environment-unavailable"

	// Reasons a backend may report that are worth another attempt.
	ReasonBackendNotFound  = "backend-not-found"
	ReasonBackendOffline   = "backend-offline"
	ReasonConnectionFailed = "connection-failed"
	ReasonSlotNotReady     = "slot-not-ready"
	ReasonRouteTransient   = "route-transient"
)

// Metadata keys shared between slot records, player requests and route commands.
const (
	MetaFamily             = "family"
	MetaVariant            = "variant"
	MetaPartyReservationID = "partyReservationId"
	MetaRejoinSlotID       = "rejoinSlotId"
	MetaCurrentSlotID      = "currentSlotId"
	MetaPreviousSlotID     = "previousSlotId"
	MetaShutdownIntentID   = "shutdownIntentId"
	MetaReservationToken   = "reservationToken"
	MetaPartyID            = "partyId"
	MetaTeamIndex          = "team.index"
	MetaRouteType          = "routeType"
	MetaTargetWorld        = "targetWorld"
	MetaSpawnX             = "spawnX"
	MetaSpawnY             = "spawnY"
	MetaSpawnZ             = "spawnZ"
	MetaSpawnYaw           = "spawnYaw"
	MetaSpawnPitch         = "spawnPitch"
)

// RouteTypeEnvironment marks cross-game route commands that bypassed the
// reservation handshake.
const RouteTypeEnvironment = "environment"

// Timing defaults. All of them can be overridden through the config file.
const (
	DefaultUnavailableTimeout  = 5 * time.Second
	DefaultDeadTimeout         = 30 * time.Second
	DefaultCheckInterval       = 1 * time.Second
	DefaultGracePeriod         = 10 * time.Second
	DefaultDeadBlacklist       = 60 * time.Second
	DefaultRouteTimeout        = 15 * time.Second
	DefaultReservationTimeout  = 5 * time.Second
	DefaultMaxQueueWait        = 45 * time.Second
	DefaultRecentSlotTTL       = 45 * time.Second
	DefaultMaxRouteRetries     = 3
	DefaultRecycleWindow       = 5 * time.Minute
	DefaultAnnounceDebounce    = 30 * time.Second
	DefaultCleanupInterval     = 1 * time.Minute
	DefaultQueueSweepInterval  = 1 * time.Second
	DefaultProvisionLockTTL    = 10 * time.Second
	DefaultRegisteringTimeout  = 30 * time.Second
	DefaultEvacuationTimeout   = 5 * time.Second
	DefaultBusSize             = 1024
	DefaultIDBase              = "fulcrum"
	DefaultBackendTransferHint = "lobby"
)
