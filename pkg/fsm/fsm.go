// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0

// Package fsm implements the per-node registration state machine. Transitions
// are synchronous under a per-machine mutex; listeners are notified
// asynchronously on a shared worker pool and can neither block nor fail a
// transition.
package fsm

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

// ReasonStateTimeout tags transitions fired by a state timeout.
const ReasonStateTimeout = "state-timeout"

// historyLimit bounds the per-machine transition history.
const historyLimit = 32

// legalEdges is the full set of valid registration transitions. UNREGISTERED
// doubles as the initial state and, once re-entered, as the absorbing
// terminal state.
var legalEdges = map[types.RegistrationState][]types.RegistrationState{
	types.StateUnregistered:  {types.StateRegistering},
	types.StateRegistering:   {types.StateRegistered, types.StateUnregistered},
	types.StateRegistered:    {types.StateDeregistering, types.StateDisconnected},
	types.StateDisconnected:  {types.StateReRegistering, types.StateUnregistered},
	types.StateReRegistering: {types.StateRegistered, types.StateUnregistered},
	types.StateDeregistering: {types.StateDisconnected, types.StateUnregistered},
}

// StateChange describes one recorded transition.
type StateChange struct {
	NodeID string
	From   types.RegistrationState
	To     types.RegistrationState
	Reason string
	At     time.Time
}

// Listener receives state changes after they happened.
type Listener func(change StateChange)

// Machine is the registration state machine of a single node.
type Machine struct {
	nodeID   string
	notifier *Notifier
	logger   *zap.SugaredLogger
	timeout  time.Duration
	// timed maps a state to the fallback state entered when the machine
	// lingers there past the timeout.
	timed map[types.RegistrationState]types.RegistrationState

	mu        sync.Mutex
	current   types.RegistrationState
	terminal  bool
	stopped   bool
	gen       uint64
	timer     *time.Timer
	history   []StateChange
	listeners []Listener
}

// NewMachine returns a machine in UNREGISTERED. A zero timeout or empty
// timed map disables state expiry.
func NewMachine(nodeID string, timeout time.Duration, timed map[types.RegistrationState]types.RegistrationState, notifier *Notifier, logger *zap.SugaredLogger) *Machine {
	return &Machine{
		nodeID:   nodeID,
		notifier: notifier,
		logger:   logger,
		timeout:  timeout,
		timed:    timed,
		current:  types.StateUnregistered,
	}
}

// Current returns the machine's current state.
func (m *Machine) Current() types.RegistrationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves the machine to the given state. Illegal edges, stopped
// machines and terminal machines return false and leave the state unchanged.
func (m *Machine) Transition(to types.RegistrationState, reason string) bool {
	m.mu.Lock()
	if m.stopped || m.terminal || !m.legal(to) {
		m.mu.Unlock()
		return false
	}
	change := StateChange{
		NodeID: m.nodeID,
		From:   m.current,
		To:     to,
		Reason: reason,
		At:     time.Now(),
	}
	m.current = to
	if to == types.StateUnregistered {
		m.terminal = true
	}
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if fallback, ok := m.timed[to]; ok && !m.terminal && m.timeout > 0 {
		m.armTimeout(fallback)
	}
	m.pushHistory(change)
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	m.logger.Debugf("Registration transition %s: %s -> %s (%s)", m.nodeID, change.From, to, reason)
	for _, l := range listeners {
		m.notifier.notify(l, change)
	}
	return true
}

// History returns recorded transitions, newest first.
func (m *Machine) History() []StateChange {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StateChange, len(m.history))
	copy(out, m.history)
	return out
}

// AddListener registers a state-change listener.
func (m *Machine) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Stop halts the machine and its timer. Idempotent.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) legal(to types.RegistrationState) bool {
	for _, dst := range legalEdges[m.current] {
		if dst == to {
			return true
		}
	}
	return false
}

// armTimeout schedules the fallback transition. The generation counter makes
// a timer superseded by a regular transition a no-op.
func (m *Machine) armTimeout(fallback types.RegistrationState) {
	gen := m.gen
	m.timer = time.AfterFunc(m.timeout, func() {
		m.mu.Lock()
		stale := m.stopped || gen != m.gen
		m.mu.Unlock()
		if stale {
			return
		}
		m.Transition(fallback, ReasonStateTimeout)
	})
}

func (m *Machine) pushHistory(change StateChange) {
	m.history = append([]StateChange{change}, m.history...)
	if len(m.history) > historyLimit {
		m.history = m.history[:historyLimit]
	}
}
