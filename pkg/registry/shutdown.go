// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package registry

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// ShutdownTicket is a one-shot capability minted during an evacuation. The
// routing gateway consumes it exactly once to authorise the player's
// rewritten join request.
type ShutdownTicket struct {
	PlayerID     string    `json:"playerId"`
	IntentID     string    `json:"intentId"`
	TransferHint string    `json:"transferHint"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// ActiveIntent is the coordinator's record of one announced shutdown plan.
type ActiveIntent struct {
	Intent      message.ShutdownIntent                       `json:"intent"`
	CreatedAt   time.Time                                    `json:"createdAt"`
	Phases      map[string]types.ShutdownPhase               `json:"phases,omitempty"`
	Evacuations map[string]*message.ServerEvacuationResponse `json:"evacuations,omitempty"`
	Cancelled   bool                                         `json:"cancelled,omitempty"`
}

// TransferHint returns the family evacuated players are rewritten to.
func (a *ActiveIntent) TransferHint(fallback string) string {
	if a.Intent.BackendTransferHint != "" {
		return a.Intent.BackendTransferHint
	}
	return fallback
}

// ShutdownCoordinator drives the EVACUATE → EVICT → SHUTDOWN plan for a set
// of services and owns the evacuation tickets.
type ShutdownCoordinator struct {
	servers     *ServerRegistry
	mirror      *Mirror
	pub         BusPublisher
	logger      *zap.SugaredLogger
	now         func() time.Time
	defaultHint string
	evacTimeout time.Duration

	mu      sync.Mutex
	intents map[string]*ActiveIntent
	tickets *xsync.Map[string, *ShutdownTicket]
}

// NewShutdownCoordinator returns an empty coordinator.
func NewShutdownCoordinator(servers *ServerRegistry, mirror *Mirror, pub BusPublisher, defaultHint string, evacTimeout time.Duration, logger *zap.SugaredLogger) *ShutdownCoordinator {
	return &ShutdownCoordinator{
		servers:     servers,
		mirror:      mirror,
		pub:         pub,
		logger:      logger,
		now:         time.Now,
		defaultHint: defaultHint,
		evacTimeout: evacTimeout,
		intents:     map[string]*ActiveIntent{},
		tickets:     xsync.NewMap[string, *ShutdownTicket](),
	}
}

// SetClock overrides the coordinator's time source. Intended for tests.
func (c *ShutdownCoordinator) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Restore loads mirrored intents and unexpired tickets.
func (c *ShutdownCoordinator) Restore() error {
	intents, err := c.mirror.LoadShutdownIntents()
	if err != nil {
		return err
	}
	tickets, err := c.mirror.LoadShutdownTickets()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, raw := range intents {
		var intent ActiveIntent
		if err := json.Unmarshal(raw, &intent); err != nil {
			return fmt.Errorf("restore shutdown intent %s: %w", id, err)
		}
		c.intents[id] = &intent
	}
	for key, raw := range tickets {
		var ticket ShutdownTicket
		if err := json.Unmarshal(raw, &ticket); err != nil {
			return fmt.Errorf("restore shutdown ticket %s: %w", key, err)
		}
		c.tickets.Store(ticketKey(ticket.PlayerID, ticket.IntentID), &ticket)
	}
	return nil
}

// Announce broadcasts a new intent and begins coordinating it.
func (c *ShutdownCoordinator) Announce(intent *message.ShutdownIntent) error {
	if err := c.pub.Broadcast(types.ChannelShutdownIntent, intent); err != nil {
		return err
	}
	c.HandleIntent(intent)
	return nil
}

// HandleIntent records an announced intent, flags the targeted backends as
// evacuating and orders them to move their players off.
func (c *ShutdownCoordinator) HandleIntent(intent *message.ShutdownIntent) {
	if intent.Cancelled {
		c.Cancel(intent.ID)
		return
	}
	now := c.now()
	record := &ActiveIntent{
		Intent:      *intent,
		CreatedAt:   now,
		Phases:      map[string]types.ShutdownPhase{},
		Evacuations: map[string]*message.ServerEvacuationResponse{},
	}
	c.mu.Lock()
	if _, exists := c.intents[intent.ID]; exists {
		c.mu.Unlock()
		return
	}
	c.intents[intent.ID] = record
	c.mu.Unlock()
	c.mirror.SaveShutdownIntent(intent.ID, record)
	c.logger.Infof("Shutdown intent %s for %v, countdown %ds", intent.ID, intent.Services, intent.CountdownSeconds)

	for _, serviceID := range intent.Services {
		if _, ok := c.servers.Lookup(serviceID); !ok {
			continue
		}
		c.servers.SetEvacuating(serviceID, true)
		if err := c.pub.Send(serviceID, types.ChannelServerEvacuationRequest, &message.ServerEvacuationRequest{
			ServerID:      serviceID,
			Reason:        intent.Reason,
			Timestamp:     now.UnixMilli(),
			TimeoutMillis: c.evacTimeout.Milliseconds(),
		}); err != nil {
			c.logger.Warnf("Evacuation request to %s: %v", serviceID, err)
		}
	}
}

// HandleUpdate records a service's progress. Entering EVACUATE mints one
// ticket per reported online player; reporting SHUTDOWN removes the service
// immediately, bypassing the recycle window.
func (c *ShutdownCoordinator) HandleUpdate(update *message.ShutdownIntentUpdate) {
	c.mu.Lock()
	record, ok := c.intents[update.IntentID]
	if !ok || record.Cancelled {
		c.mu.Unlock()
		c.logger.Warnf("Shutdown update for unknown or cancelled intent %s", update.IntentID)
		return
	}
	record.Phases[update.ServiceID] = update.Phase
	hint := record.TransferHint(c.defaultHint)
	countdown := time.Duration(record.Intent.CountdownSeconds) * time.Second
	c.mu.Unlock()
	c.mirror.SaveShutdownIntent(update.IntentID, record)

	switch update.Phase {
	case types.PhaseEvacuate:
		for _, playerID := range update.PlayerIDs {
			c.mintTicket(playerID, update.IntentID, hint, countdown)
		}
	case types.PhaseShutdown:
		c.servers.RemoveImmediately(update.ServiceID)
	}
}

// HandleEvacuationResponse records a backend's evacuation outcome on its
// intent.
func (c *ShutdownCoordinator) HandleEvacuationResponse(resp *message.ServerEvacuationResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, record := range c.intents {
		for _, serviceID := range record.Intent.Services {
			if serviceID == resp.ServerID {
				record.Evacuations[resp.ServerID] = resp
				c.mirror.SaveShutdownIntent(record.Intent.ID, record)
				if !resp.Success {
					c.logger.Warnf("Evacuation of %s failed: %s", resp.ServerID, resp.Message)
				}
				return
			}
		}
	}
	c.logger.Warnf("Evacuation response from %s matches no active intent", resp.ServerID)
}

// Cancel retracts an intent: releases its tickets, clears the evacuating
// flags and broadcasts the cancellation.
func (c *ShutdownCoordinator) Cancel(intentID string) {
	c.mu.Lock()
	record, ok := c.intents[intentID]
	if !ok {
		c.mu.Unlock()
		return
	}
	record.Cancelled = true
	delete(c.intents, intentID)
	c.mu.Unlock()

	var released []string
	c.tickets.Range(func(key string, ticket *ShutdownTicket) bool {
		if ticket.IntentID == intentID {
			released = append(released, key)
		}
		return true
	})
	for _, key := range released {
		if ticket, ok := c.tickets.LoadAndDelete(key); ok {
			c.mirror.DeleteShutdownTicket(ticket.PlayerID, ticket.IntentID)
		}
	}
	for _, serviceID := range record.Intent.Services {
		c.servers.SetEvacuating(serviceID, false)
	}
	c.mirror.DeleteShutdownIntent(intentID)
	if err := c.pub.Broadcast(types.ChannelShutdownCancel, &message.ShutdownCancel{IntentID: intentID}); err != nil {
		c.logger.Warnf("Shutdown cancel broadcast for %s: %v", intentID, err)
	}
	c.logger.Infof("Shutdown intent %s cancelled, %d tickets released", intentID, len(released))
}

// ConsumeTicket redeems a player's ticket for an intent. Each ticket is
// consumed exactly once; expired or absent tickets fail.
func (c *ShutdownCoordinator) ConsumeTicket(playerID, intentID string) (*ShutdownTicket, bool) {
	ticket, ok := c.tickets.LoadAndDelete(ticketKey(playerID, intentID))
	if !ok {
		return nil, false
	}
	c.mirror.DeleteShutdownTicket(playerID, intentID)
	if c.now().After(ticket.ExpiresAt) {
		return nil, false
	}
	return ticket, true
}

// Intent returns an active intent by id.
func (c *ShutdownCoordinator) Intent(intentID string) (*ActiveIntent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.intents[intentID]
	return record, ok
}

func (c *ShutdownCoordinator) mintTicket(playerID, intentID, hint string, ttl time.Duration) {
	ticket := &ShutdownTicket{
		PlayerID:     playerID,
		IntentID:     intentID,
		TransferHint: hint,
		ExpiresAt:    c.now().Add(ttl),
	}
	c.tickets.Store(ticketKey(playerID, intentID), ticket)
	c.mirror.SaveShutdownTicket(playerID, intentID, ticket, ttl)
}

func ticketKey(playerID, intentID string) string {
	return strings.Join([]string{playerID, intentID}, ":")
}
