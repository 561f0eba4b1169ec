// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package message

import (
	"fmt"

	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// ShutdownIntent announces a multi-phase shutdown plan for a set of services.
// Players evacuated under this intent are rerouted to backendTransferHint.
type ShutdownIntent struct {
	ID                  string   `json:"id"`
	Services            []string `json:"services"`
	CountdownSeconds    int      `json:"countdownSeconds"`
	Reason              string   `json:"reason,omitempty"`
	BackendTransferHint string   `json:"backendTransferHint,omitempty"`
	Force               bool     `json:"force,omitempty"`
	Cancelled           bool     `json:"cancelled,omitempty"`
}

func (m *ShutdownIntent) Type() string { return types.ChannelShutdownIntent }

func (m *ShutdownIntent) Version() int { return 1 }

func (m *ShutdownIntent) Validate() error {
	if err := requireFields("id", m.ID); err != nil {
		return err
	}
	if len(m.Services) == 0 {
		return fmt.Errorf("%w: services", ErrMissingField)
	}
	return requirePositive("countdownSeconds", m.CountdownSeconds)
}

// ShutdownIntentUpdate reports a service's progress through an intent.
type ShutdownIntentUpdate struct {
	IntentID  string              `json:"intentId"`
	ServiceID string              `json:"serviceId"`
	Phase     types.ShutdownPhase `json:"phase"`
	PlayerIDs []string            `json:"playerIds,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

func (m *ShutdownIntentUpdate) Type() string { return types.ChannelShutdownUpdate }

func (m *ShutdownIntentUpdate) Version() int { return 1 }

func (m *ShutdownIntentUpdate) Validate() error {
	if err := requireFields("intentId", m.IntentID, "serviceId", m.ServiceID); err != nil {
		return err
	}
	switch m.Phase {
	case types.PhaseEvacuate, types.PhaseEvict, types.PhaseShutdown:
		return nil
	case "":
		return fmt.Errorf("%w: phase", ErrMissingField)
	default:
		return fmt.Errorf("unknown shutdown phase %q", m.Phase)
	}
}

// ShutdownCancel retracts a previously announced intent.
type ShutdownCancel struct {
	IntentID string `json:"intentId"`
}

func (m *ShutdownCancel) Type() string { return types.ChannelShutdownCancel }

func (m *ShutdownCancel) Validate() error {
	return requireFields("intentId", m.IntentID)
}

// ServerEvacuationRequest orders a backend to move its players off within
// timeoutMillis.
type ServerEvacuationRequest struct {
	ServerID      string `json:"serverId"`
	Reason        string `json:"reason,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	TimeoutMillis int64  `json:"timeoutMillis"`
}

func (m *ServerEvacuationRequest) Type() string { return types.ChannelServerEvacuationRequest }

func (m *ServerEvacuationRequest) Validate() error {
	return requireFields("serverId", m.ServerID)
}

// ServerEvacuationResponse reports the outcome of an evacuation order.
type ServerEvacuationResponse struct {
	ServerID         string `json:"serverId"`
	Success          bool   `json:"success"`
	PlayersEvacuated int    `json:"playersEvacuated"`
	PlayersFailed    int    `json:"playersFailed"`
	Message          string `json:"message,omitempty"`
	Timestamp        int64  `json:"timestamp"`
}

func (m *ServerEvacuationResponse) Type() string { return types.ChannelServerEvacuationResponse }

func (m *ServerEvacuationResponse) Validate() error {
	return requireFields("serverId", m.ServerID)
}
