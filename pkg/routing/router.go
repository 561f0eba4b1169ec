// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package routing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// RouterConfig carries the routing timings and bounds.
type RouterConfig struct {
	RouteTimeout       time.Duration
	ReservationTimeout time.Duration
	MaxQueueWait       time.Duration
	MaxRouteRetries    int
	RecentSlotTTL      time.Duration
	ProvisionLockTTL   time.Duration
	QueueSweepInterval time.Duration
}

// SetDefaults fills unset fields with the stock timings.
func (c *RouterConfig) SetDefaults() {
	if c.RouteTimeout == 0 {
		c.RouteTimeout = types.DefaultRouteTimeout
	}
	if c.ReservationTimeout == 0 {
		c.ReservationTimeout = types.DefaultReservationTimeout
	}
	if c.MaxQueueWait == 0 {
		c.MaxQueueWait = types.DefaultMaxQueueWait
	}
	if c.MaxRouteRetries == 0 {
		c.MaxRouteRetries = types.DefaultMaxRouteRetries
	}
	if c.RecentSlotTTL == 0 {
		c.RecentSlotTTL = types.DefaultRecentSlotTTL
	}
	if c.ProvisionLockTTL == 0 {
		c.ProvisionLockTTL = types.DefaultProvisionLockTTL
	}
	if c.QueueSweepInterval == 0 {
		c.QueueSweepInterval = types.DefaultQueueSweepInterval
	}
}

// pendingReservation is one reservation request awaiting the backend's
// answer.
type pendingReservation struct {
	ctx      *RequestContext
	serverID string
	slotID   string
	timeout  *TimerHandle
}

// retryableAckReasons are backend-reported failures worth another placement
// attempt; anything else disconnects the player.
var retryableAckReasons = map[string]bool{
	types.ReasonBackendNotFound:  true,
	types.ReasonBackendOffline:   true,
	types.ReasonConnectionFailed: true,
	types.ReasonSlotNotReady:     true,
	types.ReasonRouteTransient:   true,
}

// Router places players into slots. Every placement runs the two-phase
// handshake: reserve on the backend, then command the proxy and backend to
// move the player, and close the attempt on the proxy's acknowledgement.
// Requests that cannot be placed wait in per-family queues bounded by
// MaxQueueWait.
type Router struct {
	cfg         RouterConfig
	pub         BusPublisher
	proxies     *registry.ProxyRegistry
	servers     *registry.ServerRegistry
	shutdown    *registry.ShutdownCoordinator
	mirror      *registry.Mirror
	scheduler   *Scheduler
	selector    *Selector
	queues      *QueueSet
	tracker     *Tracker
	occupancy   *Occupancy
	parties     *PartyReservations
	rosters     *Rosters
	provisioner *Provisioner
	logger      *zap.SugaredLogger

	mu       sync.Mutex
	inflight map[string]*InFlightRoute
	waiters  map[string]*pendingReservation

	sweepQuit chan struct{}
	sweepDone chan struct{}
	now       func() time.Time
}

// NewRouter wires the routing components over the registries and the bus.
func NewRouter(cfg RouterConfig, pub BusPublisher, proxies *registry.ProxyRegistry, servers *registry.ServerRegistry, shutdown *registry.ShutdownCoordinator, mirror *registry.Mirror, scheduler *Scheduler, logger *zap.SugaredLogger) *Router {
	cfg.SetDefaults()
	r := &Router{
		cfg:       cfg,
		pub:       pub,
		proxies:   proxies,
		servers:   servers,
		shutdown:  shutdown,
		mirror:    mirror,
		scheduler: scheduler,
		queues:    NewQueueSet(mirror),
		tracker:   NewTracker(mirror, cfg.RecentSlotTTL),
		occupancy: NewOccupancy(mirror),
		parties:   NewPartyReservations(mirror),
		rosters:   NewRosters(mirror),
		logger:    logger,
		inflight:  map[string]*InFlightRoute{},
		waiters:   map[string]*pendingReservation{},
		sweepQuit: make(chan struct{}),
		sweepDone: make(chan struct{}),
		now:       time.Now,
	}
	r.selector = NewSelector(servers, r.occupancy.Pending)
	r.provisioner = NewProvisioner(servers, mirror, pub, cfg.ProvisionLockTTL, logger)
	return r
}

// SetClock injects a clock for tests.
func (r *Router) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Tracker exposes the player position tracker.
func (r *Router) Tracker() *Tracker { return r.tracker }

// Restore loads the mirrored routing state and re-arms the in-flight route
// timeouts. Must complete before the first bus message arrives.
func (r *Router) Restore() error {
	if err := r.occupancy.Restore(); err != nil {
		return err
	}
	if err := r.tracker.Restore(); err != nil {
		return err
	}
	if err := r.queues.Restore(); err != nil {
		return err
	}
	if err := r.parties.Restore(); err != nil {
		return err
	}
	if err := r.rosters.Restore(); err != nil {
		return err
	}

	raw, err := r.mirror.LoadInflight()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for requestID, payload := range raw {
		var route InFlightRoute
		if err := json.Unmarshal(payload, &route); err != nil {
			return fmt.Errorf("restore inflight %s: %w", requestID, err)
		}
		id := requestID
		route.timeout = r.scheduler.After(r.cfg.RouteTimeout, func() { r.onRouteTimeout(id) })
		r.inflight[requestID] = &route
	}
	return nil
}

// Start launches the queue sweep loop.
func (r *Router) Start() {
	go func() {
		defer close(r.sweepDone)
		ticker := time.NewTicker(r.cfg.QueueSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Sweep()
			case <-r.sweepQuit:
				return
			}
		}
	}()
}

// Stop halts the sweep loop and cancels every pending timer.
func (r *Router) Stop() {
	close(r.sweepQuit)
	<-r.sweepDone
	r.mu.Lock()
	for _, route := range r.inflight {
		if route.timeout != nil {
			route.timeout.Cancel()
		}
	}
	for _, waiter := range r.waiters {
		if waiter.timeout != nil {
			waiter.timeout.Cancel()
		}
	}
	r.mu.Unlock()
	r.tracker.Close()
}

// HandlePlayerRequest is the entry point for player slot requests.
func (r *Router) HandlePlayerRequest(req *message.PlayerSlotRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.proxies.Lookup(req.ProxyID); !ok {
		r.logger.Warnf("Slot request %s from unknown proxy %s", req.RequestID, req.ProxyID)
		r.sendDisconnect(req.ProxyID, req.RequestID, req.PlayerID, req.PlayerName, types.ReasonUnknownProxy)
		return
	}

	family := req.FamilyID
	if intentID := req.Metadata[types.MetaShutdownIntentID]; intentID != "" {
		// Tickets are one-shot; a request naming an intent without holding a
		// live ticket is either stale or a replay.
		ticket, ok := r.shutdown.ConsumeTicket(req.PlayerID, intentID)
		if !ok {
			r.logger.Warnf("Request %s names intent %s but holds no ticket", req.RequestID, intentID)
			r.sendDisconnect(req.ProxyID, req.RequestID, req.PlayerID, req.PlayerName, types.ReasonShutdownTicketMissing)
			return
		}
		if ticket.TransferHint != "" {
			family = ticket.TransferHint
		}
	}

	now := r.now()
	reservationID := req.Metadata[types.MetaPartyReservationID]
	if reservationID == "" {
		if res, ok := r.parties.ForPlayer(req.PlayerID, family, now); ok {
			reservationID = res.ReservationID
			if req.Metadata == nil {
				req.Metadata = map[string]string{}
			}
			req.Metadata[types.MetaPartyReservationID] = reservationID
		}
	}

	ctx := r.buildContext(req, family, now)

	if reservationID != "" && r.handlePartyRequest(ctx, reservationID, now) {
		return
	}

	if ctx.IsRejoin {
		r.tryRejoin(ctx)
		return
	}

	r.selectOrEnqueue(ctx)
}

// buildContext derives the routing context: the rewritten family, the
// requested variant, the rejoin target and the blocked-slot set built from
// the player's current, previous and recent slots.
func (r *Router) buildContext(req *message.PlayerSlotRequest, family string, now time.Time) *RequestContext {
	req.FamilyID = family
	ctx := &RequestContext{
		Request:         req,
		CreatedAt:       now,
		VariantID:       req.Metadata[types.MetaVariant],
		PreferredSlotID: req.Metadata[types.MetaRejoinSlotID],
	}
	ctx.IsRejoin = ctx.PreferredSlotID != ""

	if current := req.Metadata[types.MetaCurrentSlotID]; current != "" {
		ctx.Block(current)
	} else if active, ok := r.tracker.ActiveSlot(req.PlayerID); ok {
		ctx.Block(active)
	}
	ctx.Block(req.Metadata[types.MetaPreviousSlotID])
	for _, recent := range r.tracker.RecentSlots(req.PlayerID) {
		ctx.Block(recent)
	}
	return ctx
}

// handlePartyRequest routes a request that travels under a party
// reservation. It reports whether the request was fully handled.
func (r *Router) handlePartyRequest(ctx *RequestContext, reservationID string, now time.Time) bool {
	req := ctx.Request
	res, ok := r.parties.Lookup(reservationID, now)
	if !ok {
		return false
	}
	if !res.Includes(req.PlayerID) || res.State == types.PartyExpired || res.State == types.PartyClaimed {
		r.sendAck(req, types.AckFailed, types.ReasonPartyReservationExpired)
		delete(req.Metadata, types.MetaPartyReservationID)
		return false
	}
	if res.State == types.PartyAllocated {
		if slot, ok := r.servers.LookupSlot(res.SlotID); ok && routable(slot) {
			r.occupancy.Increment(res.SlotID)
			r.dispatchRoute(ctx, res.ServerID, res.SlotID, res.Token, res)
			return true
		}
		// The allocated slot is gone; members wait for a new allocation.
	}
	r.queues.Enqueue(ctx, now)
	r.provisioner.Trigger(ctx.FamilyID())
	return true
}

// tryRejoin attempts a direct placement into the slot the player asks to
// return to. The rejoin target is taken as-is: it must be ALLOCATED, in the
// requested family and have room, otherwise the proxy gets a soft
// acknowledgement and decides what to do next, never a queue fallback.
func (r *Router) tryRejoin(ctx *RequestContext) {
	req := ctx.Request
	slot, ok := r.servers.LookupSlot(ctx.PreferredSlotID)
	if ok && slot.Status == types.SlotAllocated && slot.Family() == ctx.FamilyID() {
		server, serverOK := r.servers.Lookup(slot.ServerID)
		if serverOK && !server.Evacuating &&
			slot.MaxPlayers-slot.OnlinePlayers-r.occupancy.Pending(slot.SlotID) > 0 {
			if locked, allowed := r.rosters.Check(slot.SlotID, req.PlayerID); !locked || allowed {
				r.beginReservation(ctx, server, slot)
				return
			}
		}
	}
	r.sendAck(req, types.AckFailed, types.ReasonRejoinSlotUnavailable)
}

// selectOrEnqueue places the request on the best eligible slot, or parks it
// on the family queue and asks for a new slot.
func (r *Router) selectOrEnqueue(ctx *RequestContext) {
	server, slot, ok := r.selector.FindAvailableSlot(ctx.FamilyID(), ctx.VariantID, r.blockedFor(ctx))
	if ok {
		r.beginReservation(ctx, server, slot)
		return
	}
	r.queues.Enqueue(ctx, r.now())
	r.provisioner.Trigger(ctx.FamilyID())
}

// blockedFor combines the request's blocked set with roster locks the player
// is not on.
func (r *Router) blockedFor(ctx *RequestContext) func(slotID string) bool {
	return func(slotID string) bool {
		if ctx.Blocks(slotID) {
			return true
		}
		locked, allowed := r.rosters.Check(slotID, ctx.Request.PlayerID)
		return locked && !allowed
	}
}

// beginReservation opens the handshake: hold a pending place on the slot and
// ask the backend to reserve it. Caller holds the lock.
func (r *Router) beginReservation(ctx *RequestContext, server *registry.RegisteredServer, slot *registry.LogicalSlot) {
	req := ctx.Request
	if locked, allowed := r.rosters.Check(slot.SlotID, req.PlayerID); locked && !allowed {
		r.sendDisconnect(req.ProxyID, req.RequestID, req.PlayerID, req.PlayerName, types.ReasonMatchRosterLocked)
		return
	}

	r.occupancy.Increment(slot.SlotID)
	reservationID := uuid.NewString()
	waiter := &pendingReservation{ctx: ctx, serverID: server.ID, slotID: slot.SlotID}
	waiter.timeout = r.scheduler.After(r.cfg.ReservationTimeout, func() {
		r.onReservationTimeout(reservationID)
	})
	r.waiters[reservationID] = waiter

	if err := r.pub.Send(server.ID, types.ChannelPlayerReservationRequest, &message.PlayerReservationRequest{
		RequestID:  reservationID,
		PlayerID:   req.PlayerID,
		PlayerName: req.PlayerName,
		ProxyID:    req.ProxyID,
		ServerID:   server.ID,
		SlotID:     slot.SlotID,
		Metadata:   req.Metadata,
	}); err != nil {
		r.logger.Warnf("Reservation request to %s: %v", server.ID, err)
	}
}

// OnReservationResponse closes the reservation half of the handshake. Late
// and duplicate responses are dropped.
func (r *Router) OnReservationResponse(resp *message.PlayerReservationResponse) {
	r.mu.Lock()
	defer r.mu.Unlock()

	waiter, ok := r.waiters[resp.RequestID]
	if !ok {
		return
	}
	delete(r.waiters, resp.RequestID)
	waiter.timeout.Cancel()

	switch {
	case resp.Accepted && resp.ReservationToken != "":
		r.dispatchRoute(waiter.ctx, waiter.serverID, waiter.slotID, resp.ReservationToken, nil)
	case resp.Accepted:
		// Accepted but no token to present: the route would be refused.
		r.occupancy.Decrement(waiter.slotID)
		waiter.ctx.Block(waiter.slotID)
		r.retry(waiter.ctx, types.ReasonReservationMissingToken)
	default:
		r.occupancy.Decrement(waiter.slotID)
		waiter.ctx.Block(waiter.slotID)
		reason := resp.Reason
		if reason == "" {
			reason = types.ReasonReservationRejected
		}
		r.retry(waiter.ctx, reason)
	}
}

func (r *Router) onReservationTimeout(reservationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	waiter, ok := r.waiters[reservationID]
	if !ok {
		return
	}
	delete(r.waiters, reservationID)
	r.occupancy.Decrement(waiter.slotID)
	waiter.ctx.Block(waiter.slotID)
	r.retry(waiter.ctx, types.ReasonReservationFailed)
}

// dispatchRoute sends the route command to the proxy and the target backend
// and opens the in-flight window. Metadata merges slot then request, the
// request winning, with the reservation token, family and party fields laid
// over the result. Caller holds the lock and has already counted the
// placement in the slot's occupancy.
func (r *Router) dispatchRoute(ctx *RequestContext, serverID, slotID, token string, party *PartyReservation) {
	req := ctx.Request
	merged := map[string]string{}
	var slotSuffix string
	if slot, ok := r.servers.LookupSlot(slotID); ok {
		for k, v := range slot.Metadata {
			merged[k] = v
		}
		slotSuffix = slot.SlotSuffix
	}
	for k, v := range req.Metadata {
		merged[k] = v
	}
	merged[types.MetaReservationToken] = token
	merged[types.MetaFamily] = ctx.FamilyID()
	if party != nil {
		merged[types.MetaPartyID] = party.PartyID
		if idx, ok := party.TeamIndex[req.PlayerID]; ok {
			merged[types.MetaTeamIndex] = strconv.Itoa(idx)
		}
	}
	if slotSuffix == "" {
		slotSuffix = registry.SuffixOf(slotID)
	}

	cmd := &message.PlayerRouteCommand{
		Action:      types.ActionRoute,
		RequestID:   req.RequestID,
		PlayerID:    req.PlayerID,
		PlayerName:  req.PlayerName,
		ProxyID:     req.ProxyID,
		ServerID:    serverID,
		SlotID:      slotID,
		SlotSuffix:  slotSuffix,
		TargetWorld: merged[types.MetaTargetWorld],
		SpawnX:      metaFloat(merged, types.MetaSpawnX),
		SpawnY:      metaFloat(merged, types.MetaSpawnY),
		SpawnZ:      metaFloat(merged, types.MetaSpawnZ),
		SpawnYaw:    metaFloat(merged, types.MetaSpawnYaw),
		SpawnPitch:  metaFloat(merged, types.MetaSpawnPitch),
		Metadata:    merged,
	}

	if previous, ok := r.inflight[req.RequestID]; ok && previous.timeout != nil {
		previous.timeout.Cancel()
	}
	route := &InFlightRoute{
		RequestID:    req.RequestID,
		ServerID:     serverID,
		SlotID:       slotID,
		Context:      ctx,
		DispatchedAt: r.now(),
	}
	requestID := req.RequestID
	route.timeout = r.scheduler.After(r.cfg.RouteTimeout, func() { r.onRouteTimeout(requestID) })
	r.inflight[requestID] = route
	r.mirror.SaveInflight(requestID, route)

	if err := r.pub.Send(req.ProxyID, types.ChannelPlayerRoute, cmd); err != nil {
		r.logger.Warnf("Route command to proxy %s: %v", req.ProxyID, err)
	}
	if err := r.pub.Send(serverID, types.ChannelServerPlayerRoute, cmd); err != nil {
		r.logger.Warnf("Route command to server %s: %v", serverID, err)
	}
}

// OnRouteAck closes an in-flight route. Unknown and duplicate acks are
// dropped.
func (r *Router) OnRouteAck(ack *message.PlayerRouteAck) {
	r.mu.Lock()
	defer r.mu.Unlock()

	route, ok := r.inflight[ack.RequestID]
	if !ok {
		return
	}
	delete(r.inflight, ack.RequestID)
	if route.timeout != nil {
		route.timeout.Cancel()
	}
	r.mirror.DeleteInflight(ack.RequestID)
	r.occupancy.Decrement(route.SlotID)

	ctx := route.Context
	if ack.Status == types.AckSuccess {
		slotID := ack.SlotID
		if slotID == "" {
			slotID = route.SlotID
		}
		r.tracker.SetActive(ack.PlayerID, slotID)
		if reservationID := ctx.Request.Metadata[types.MetaPartyReservationID]; reservationID != "" {
			r.parties.Claim(reservationID, ack.PlayerID)
			if err := r.pub.Broadcast(types.ChannelPartyReservationClaimed, &message.PartyReservationClaimed{
				ReservationID: reservationID,
				PlayerID:      ack.PlayerID,
				SlotID:        slotID,
				Timestamp:     message.NowMillis(),
			}); err != nil {
				r.logger.Warnf("Party claim broadcast for %s: %v", reservationID, err)
			}
		}
		r.logger.Infof("Routed %s to %s", ack.PlayerID, slotID)
		return
	}

	if retryableAckReasons[ack.Reason] {
		ctx.Block(route.SlotID)
		r.retry(ctx, ack.Reason)
		return
	}
	reason := ack.Reason
	if reason == "" {
		reason = types.ReasonSlotUnavailable
	}
	r.disconnect(ctx, reason)
}

func (r *Router) onRouteTimeout(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	route, ok := r.inflight[requestID]
	if !ok {
		return
	}
	delete(r.inflight, requestID)
	r.mirror.DeleteInflight(requestID)
	r.occupancy.Decrement(route.SlotID)
	route.Context.Block(route.SlotID)
	r.retry(route.Context, types.ReasonRouteTimeout)
}

// retry re-queues a failed placement until the retry or wall-clock budget
// runs out, then disconnects with the last failure's reason. Caller holds
// the lock.
func (r *Router) retry(ctx *RequestContext, reason string) {
	ctx.Retries++
	now := r.now()
	if ctx.Retries > r.cfg.MaxRouteRetries || now.Sub(ctx.CreatedAt) > r.cfg.MaxQueueWait {
		r.disconnect(ctx, reason)
		return
	}
	r.logger.Debugf("Retrying request %s after %s (attempt %d)", ctx.Request.RequestID, reason, ctx.Retries)
	r.queues.Enqueue(ctx, now)
	r.provisioner.Trigger(ctx.FamilyID())
}

func (r *Router) disconnect(ctx *RequestContext, reason string) {
	req := ctx.Request
	r.sendDisconnect(req.ProxyID, req.RequestID, req.PlayerID, req.PlayerName, reason)
}

func (r *Router) sendDisconnect(proxyID, requestID, playerID, playerName, reason string) {
	if err := r.pub.Send(proxyID, types.ChannelPlayerRoute, &message.PlayerRouteCommand{
		Action:     types.ActionDisconnect,
		RequestID:  requestID,
		PlayerID:   playerID,
		PlayerName: playerName,
		ProxyID:    proxyID,
		Reason:     reason,
	}); err != nil {
		r.logger.Warnf("Disconnect command to %s: %v", proxyID, err)
	}
	r.logger.Infof("Disconnecting %s: %s", playerID, reason)
}

func (r *Router) sendAck(req *message.PlayerSlotRequest, status types.AckStatus, reason string) {
	if err := r.pub.Send(req.ProxyID, types.ChannelPlayerRequestAck, &message.PlayerRequestAck{
		RequestID: req.RequestID,
		PlayerID:  req.PlayerID,
		Status:    status,
		Reason:    reason,
	}); err != nil {
		r.logger.Warnf("Request ack to %s: %v", req.ProxyID, err)
	}
}

// OnSlotTransition reacts to a slot status change already applied to the
// registry: new capacity drains the family queue, a failed slot cancels
// everything pending on it.
func (r *Router) OnSlotTransition(slot *registry.LogicalSlot, previous types.SlotStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch slot.Status {
	case types.SlotAvailable:
		if previous != types.SlotAvailable && previous != types.SlotAllocated {
			r.provisioner.OnSlotArrived(slot.Family())
		}
		r.drainFamily(slot.Family())
	case types.SlotAllocated:
		r.drainFamily(slot.Family())
	case types.SlotFaulted, types.SlotCooldown:
		r.failSlot(slot)
	case types.SlotProvisioning:
		if previous == types.SlotAvailable || previous == types.SlotAllocated {
			r.failSlot(slot)
		}
	}
}

// OnPartyReservationCreated records a reservation announced on the bus; an
// allocated one may unblock queued members.
func (r *Router) OnPartyReservationCreated(msg *message.PartyReservationCreated) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := r.parties.Upsert(msg, r.now())
	if res.State == types.PartyAllocated {
		r.drainFamily(res.FamilyID)
	}
}

// OnPartyReservationClaimed records a member claim made elsewhere.
func (r *Router) OnPartyReservationClaimed(msg *message.PartyReservationClaimed) {
	r.parties.Claim(msg.ReservationID, msg.PlayerID)
}

// OnRosterCreated installs a roster lock.
func (r *Router) OnRosterCreated(msg *message.MatchRosterCreated) {
	r.rosters.Create(msg, r.now())
}

// OnRosterEnded releases a roster lock and drains the freed slot's family.
func (r *Router) OnRosterEnded(msg *message.MatchRosterEnded) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.rosters.End(msg.MatchID, msg.SlotID) {
		return
	}
	if slot, ok := r.servers.LookupSlot(msg.SlotID); ok {
		r.drainFamily(slot.Family())
	}
}

// Sweep expires overdue queue entries and re-attempts the rest.
func (r *Router) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, family := range r.queues.Families() {
		r.drainFamily(family)
	}
}

// drainFamily walks the family queue in order: expired entries disconnect,
// placeable ones start their handshake, the rest re-enqueue at the tail. If
// nothing could be placed a provision request goes out. Caller holds the
// lock.
func (r *Router) drainFamily(family string) {
	entries := r.queues.Take(family)
	if len(entries) == 0 {
		return
	}
	now := r.now()
	var deferred []*RequestContext
	routed := 0
	for _, ctx := range entries {
		if now.Sub(ctx.CreatedAt) > r.cfg.MaxQueueWait {
			r.disconnect(ctx, types.ReasonQueueTimeout)
			continue
		}
		if reservationID := ctx.Request.Metadata[types.MetaPartyReservationID]; reservationID != "" {
			if res, ok := r.parties.Lookup(reservationID, now); ok {
				if res.State == types.PartyAllocated {
					if slot, slotOK := r.servers.LookupSlot(res.SlotID); slotOK && routable(slot) {
						r.occupancy.Increment(res.SlotID)
						r.dispatchRoute(ctx, res.ServerID, res.SlotID, res.Token, res)
						routed++
						continue
					}
				}
				if res.State == types.PartyPending || res.State == types.PartyAllocated {
					deferred = append(deferred, ctx)
					continue
				}
			}
			// The reservation lapsed while queued; place the member normally.
			delete(ctx.Request.Metadata, types.MetaPartyReservationID)
		}
		server, slot, ok := r.selector.FindAvailableSlot(family, ctx.VariantID, r.blockedFor(ctx))
		if !ok {
			deferred = append(deferred, ctx)
			continue
		}
		r.beginReservation(ctx, server, slot)
		routed++
	}
	r.queues.PutBack(family, deferred)
	if routed == 0 && len(deferred) > 0 {
		r.provisioner.Trigger(family)
	}
}

// failSlot cancels every pending placement on a slot that dropped out of
// service and re-places the affected players. Caller holds the lock.
func (r *Router) failSlot(slot *registry.LogicalSlot) {
	slotID := registry.NormalizeSlotID(slot.SlotID)
	r.logger.Warnf("Slot %s went %s, cancelling pending placements", slot.SlotID, slot.Status)

	for reservationID, waiter := range r.waiters {
		if registry.NormalizeSlotID(waiter.slotID) != slotID {
			continue
		}
		delete(r.waiters, reservationID)
		waiter.timeout.Cancel()
		waiter.ctx.Block(waiter.slotID)
		r.retry(waiter.ctx, types.ReasonSlotUnavailable)
	}
	for requestID, route := range r.inflight {
		if registry.NormalizeSlotID(route.SlotID) != slotID {
			continue
		}
		delete(r.inflight, requestID)
		if route.timeout != nil {
			route.timeout.Cancel()
		}
		r.mirror.DeleteInflight(requestID)
		route.Context.Block(route.SlotID)
		r.retry(route.Context, types.ReasonSlotUnavailable)
	}

	r.rosters.ClearSlot(slot.SlotID)
	r.parties.ResetForSlot(slot.SlotID)
	r.occupancy.Reset(slot.SlotID)
}

// HandleEnvironmentRoute moves a player to a backend picked by role,
// bypassing the reservation handshake.
func (r *Router) HandleEnvironmentRoute(req *message.EnvironmentRouteRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := r.pickEnvironmentTarget(req)
	if target == nil {
		r.logger.Warnf("No %s backend for environment route %s", req.TargetEnvironmentID, req.RequestID)
		if req.FailureMode == types.KickOnFail {
			r.sendDisconnect(req.ProxyID, req.RequestID, req.PlayerID, req.PlayerName, types.ReasonEnvironmentUnavailable)
		}
		return
	}

	metadata := map[string]string{}
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	metadata[types.MetaRouteType] = types.RouteTypeEnvironment

	cmd := &message.PlayerRouteCommand{
		Action:      types.ActionRoute,
		RequestID:   req.RequestID,
		PlayerID:    req.PlayerID,
		PlayerName:  req.PlayerName,
		ProxyID:     req.ProxyID,
		ServerID:    target.ID,
		SlotID:      target.ID,
		TargetWorld: req.WorldName,
		SpawnX:      req.SpawnX,
		SpawnY:      req.SpawnY,
		SpawnZ:      req.SpawnZ,
		SpawnYaw:    req.SpawnYaw,
		SpawnPitch:  req.SpawnPitch,
		Metadata:    metadata,
	}
	if err := r.pub.Send(req.ProxyID, types.ChannelPlayerRoute, cmd); err != nil {
		r.logger.Warnf("Environment route to proxy %s: %v", req.ProxyID, err)
	}
	if err := r.pub.Send(target.ID, types.ChannelServerPlayerRoute, cmd); err != nil {
		r.logger.Warnf("Environment route to server %s: %v", target.ID, err)
	}
}

// pickEnvironmentTarget resolves an explicit target server or the
// least-loaded backend of the role.
func (r *Router) pickEnvironmentTarget(req *message.EnvironmentRouteRequest) *registry.RegisteredServer {
	if req.TargetServerID != "" {
		server, ok := r.servers.Lookup(req.TargetServerID)
		if !ok || server.Evacuating || server.Status == types.StatusDead {
			return nil
		}
		return server
	}
	var best *registry.RegisteredServer
	bestLoad := 2.0
	for _, server := range r.servers.All() {
		if server.Role != req.TargetEnvironmentID || server.Evacuating || server.Status == types.StatusDead {
			continue
		}
		load := 1.0
		if server.MaxCapacity > 0 {
			load = float64(server.PlayerCount) / float64(server.MaxCapacity)
		}
		if load < bestLoad {
			bestLoad = load
			best = server
		}
	}
	return best
}

// OnServerDead cancels every pending placement targeting a backend that was
// declared dead and re-places the affected players.
func (r *Router) OnServerDead(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for reservationID, waiter := range r.waiters {
		if waiter.serverID != serverID {
			continue
		}
		delete(r.waiters, reservationID)
		waiter.timeout.Cancel()
		r.occupancy.Decrement(waiter.slotID)
		waiter.ctx.Block(waiter.slotID)
		r.retry(waiter.ctx, types.ReasonBackendOffline)
	}
	for requestID, route := range r.inflight {
		if route.ServerID != serverID {
			continue
		}
		delete(r.inflight, requestID)
		if route.timeout != nil {
			route.timeout.Cancel()
		}
		r.mirror.DeleteInflight(requestID)
		r.occupancy.Decrement(route.SlotID)
		route.Context.Block(route.SlotID)
		r.retry(route.Context, types.ReasonBackendOffline)
	}
}

// OnPlayerGone clears routing state for a player who left the network: their
// queued request, tracked position and any pending placement.
func (r *Router) OnPlayerGone(playerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for reservationID, waiter := range r.waiters {
		if waiter.ctx.Request.PlayerID != playerID {
			continue
		}
		delete(r.waiters, reservationID)
		waiter.timeout.Cancel()
		r.occupancy.Decrement(waiter.slotID)
	}
	for requestID, route := range r.inflight {
		if route.Context.Request.PlayerID != playerID {
			continue
		}
		delete(r.inflight, requestID)
		if route.timeout != nil {
			route.timeout.Cancel()
		}
		r.mirror.DeleteInflight(requestID)
		r.occupancy.Decrement(route.SlotID)
	}
	for _, family := range r.queues.Families() {
		entries := r.queues.Take(family)
		var kept []*RequestContext
		for _, ctx := range entries {
			if ctx.Request.PlayerID != playerID {
				kept = append(kept, ctx)
			}
		}
		r.queues.PutBack(family, kept)
	}
	r.tracker.ClearActive(playerID)
}

func routable(slot *registry.LogicalSlot) bool {
	return slot.Status == types.SlotAvailable || slot.Status == types.SlotAllocated
}

func metaFloat(metadata map[string]string, key string) float64 {
	raw, ok := metadata[key]
	if !ok {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return value
}
