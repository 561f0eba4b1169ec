// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package fsm

import (
	"sync"

	"go.uber.org/zap"
)

// Notifier fans state changes out to listeners on a bounded worker pool. A
// slow or panicking listener affects neither the transition that produced the
// change nor the other listeners.
type Notifier struct {
	tasks  chan task
	logger *zap.SugaredLogger

	once sync.Once
	wg   sync.WaitGroup
}

type task struct {
	listener Listener
	change   StateChange
}

// NewNotifier starts a notifier with the given pool size and queue depth.
func NewNotifier(workers, queueSize int, logger *zap.SugaredLogger) *Notifier {
	n := &Notifier{
		tasks:  make(chan task, queueSize),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.work()
	}
	return n
}

// notify enqueues one listener invocation. When the queue is full the
// notification is dropped rather than blocking the transition.
func (n *Notifier) notify(l Listener, change StateChange) {
	select {
	case n.tasks <- task{listener: l, change: change}:
	default:
		n.logger.Warnf("Listener queue full, dropping state change for %s", change.NodeID)
	}
}

// Stop drains the queue and waits for the workers to exit. Idempotent.
func (n *Notifier) Stop() {
	n.once.Do(func() {
		close(n.tasks)
	})
	n.wg.Wait()
}

func (n *Notifier) work() {
	defer n.wg.Done()
	for t := range n.tasks {
		n.invoke(t)
	}
}

func (n *Notifier) invoke(t task) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Errorf("State listener panic for %s: %v", t.change.NodeID, r)
		}
	}()
	t.listener(t.change)
}
