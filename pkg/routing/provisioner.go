// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package routing

import (
	"time"

	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// BusPublisher is the outbound surface the routing components need.
type BusPublisher interface {
	Broadcast(channel string, msg message.Message) error
	Send(targetID, channel string, msg message.Message) error
}

// Provisioner asks backends to bring up new slots when a family runs dry. A
// short-lived per-family lock in the KV store keeps concurrent triggers from
// over-provisioning; the lock falls off on its own if no slot ever arrives.
type Provisioner struct {
	servers *registry.ServerRegistry
	mirror  *registry.Mirror
	pub     BusPublisher
	lockTTL time.Duration
	logger  *zap.SugaredLogger
}

// NewProvisioner returns a provisioner over the server registry.
func NewProvisioner(servers *registry.ServerRegistry, mirror *registry.Mirror, pub BusPublisher, lockTTL time.Duration, logger *zap.SugaredLogger) *Provisioner {
	return &Provisioner{
		servers: servers,
		mirror:  mirror,
		pub:     pub,
		lockTTL: lockTTL,
		logger:  logger,
	}
}

// Trigger requests one new slot of the family if no provision is already in
// flight. It reports whether a request went out.
func (p *Provisioner) Trigger(family string) bool {
	if !p.mirror.AcquireProvisionLock(family, p.lockTTL) {
		return false
	}
	target := p.pickBackend(family)
	if target == nil {
		p.mirror.ReleaseProvisionLock(family)
		p.logger.Debugf("No backend can host another %s slot", family)
		return false
	}
	if err := p.pub.Send(target.ID, types.ChannelSlotProvisionRequest, &message.SlotProvisionRequest{
		ServerID: target.ID,
		FamilyID: family,
	}); err != nil {
		p.mirror.ReleaseProvisionLock(family)
		p.logger.Warnf("Slot provision request to %s: %v", target.ID, err)
		return false
	}
	p.logger.Infof("Requested a new %s slot on %s", family, target.ID)
	return true
}

// OnSlotArrived releases the family lock once a slot of the family reaches
// AVAILABLE.
func (p *Provisioner) OnSlotArrived(family string) {
	p.mirror.ReleaseProvisionLock(family)
}

// pickBackend chooses the advertising backend with the most headroom for the
// family.
func (p *Provisioner) pickBackend(family string) *registry.RegisteredServer {
	var best *registry.RegisteredServer
	bestRatio := 2.0
	for _, server := range p.servers.All() {
		if server.Evacuating || server.Status == types.StatusDead {
			continue
		}
		capacity := server.FamilyCapacities[family]
		if capacity <= 0 {
			continue
		}
		hosted := server.SlotCountForFamily(family)
		if hosted >= capacity {
			continue
		}
		ratio := float64(hosted) / float64(capacity)
		if ratio < bestRatio {
			bestRatio = ratio
			best = server
		}
	}
	return best
}
