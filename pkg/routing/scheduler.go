// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0

// Package routing is the player routing coordinator: it matches player slot
// requests against the slot pool, runs the two-phase reservation handshake
// with the chosen backend, and owns the per-family queues, retries, party
// reservations and match rosters.
package routing

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Scheduler owns every routing timer on one goroutine, so timer callbacks
// never race each other. Cancelled or superseded callbacks are no-ops.
type Scheduler struct {
	tasks  chan func()
	logger *zap.SugaredLogger

	once sync.Once
	quit chan struct{}
	wg   sync.WaitGroup
}

// TimerHandle cancels one scheduled callback.
type TimerHandle struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

// Cancel stops the callback from firing. Safe to call more than once and
// after the callback ran.
func (h *TimerHandle) Cancel() {
	h.cancelled.Store(true)
	h.timer.Stop()
}

// NewScheduler returns a stopped scheduler with the given queue depth.
func NewScheduler(queueSize int, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		tasks:  make(chan func(), queueSize),
		logger: logger,
		quit:   make(chan struct{}),
	}
}

// Start launches the run loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case task := <-s.tasks:
				s.run(task)
			case <-s.quit:
				return
			}
		}
	}()
}

// Submit enqueues a task onto the scheduler goroutine. Tasks submitted after
// Stop are dropped.
func (s *Scheduler) Submit(task func()) {
	select {
	case s.tasks <- task:
	case <-s.quit:
	}
}

// After schedules a callback to run on the scheduler goroutine after the
// delay. The returned handle cancels it.
func (s *Scheduler) After(delay time.Duration, callback func()) *TimerHandle {
	handle := &TimerHandle{}
	handle.timer = time.AfterFunc(delay, func() {
		if handle.cancelled.Load() {
			return
		}
		s.Submit(func() {
			if handle.cancelled.Load() {
				return
			}
			callback()
		})
	})
	return handle
}

// Stop halts the run loop. Pending tasks are dropped.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		close(s.quit)
	})
	s.wg.Wait()
}

func (s *Scheduler) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Scheduler task panic: %v", r)
		}
	}()
	task()
}
