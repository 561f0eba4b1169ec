// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package routing

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
)

// QueueSet holds the per-family wait queues, persisted whole per family so
// the next incarnation resumes where this one stopped.
type QueueSet struct {
	mirror *registry.Mirror

	mu     sync.Mutex
	queues map[string][]*RequestContext
}

// NewQueueSet returns an empty queue set.
func NewQueueSet(mirror *registry.Mirror) *QueueSet {
	return &QueueSet{
		mirror: mirror,
		queues: map[string][]*RequestContext{},
	}
}

// Restore loads the mirrored queues.
func (q *QueueSet) Restore() error {
	raw, err := q.mirror.LoadQueues()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for family, payload := range raw {
		var entries []*RequestContext
		if err := json.Unmarshal(payload, &entries); err != nil {
			return fmt.Errorf("restore queue %s: %w", family, err)
		}
		q.queues[family] = entries
	}
	return nil
}

// Enqueue appends a context to its family's tail.
func (q *QueueSet) Enqueue(ctx *RequestContext, now time.Time) {
	ctx.LastEnqueuedAt = now
	q.mu.Lock()
	defer q.mu.Unlock()
	family := ctx.FamilyID()
	q.queues[family] = append(q.queues[family], ctx)
	q.persist(family)
}

// Take removes and returns the whole family queue; the caller re-enqueues
// whatever it defers via PutBack.
func (q *QueueSet) Take(family string) []*RequestContext {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.queues[family]
	delete(q.queues, family)
	q.persist(family)
	return entries
}

// PutBack re-enqueues deferred entries at the family tail, behind anything
// that arrived while the caller held them.
func (q *QueueSet) PutBack(family string, entries []*RequestContext) {
	if len(entries) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[family] = append(q.queues[family], entries...)
	q.persist(family)
}

// Len returns the family queue depth.
func (q *QueueSet) Len(family string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[family])
}

// Families returns every family with queued entries.
func (q *QueueSet) Families() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.queues))
	for family, entries := range q.queues {
		if len(entries) > 0 {
			out = append(out, family)
		}
	}
	return out
}

// Remove drops a specific request from its family queue, e.g. when the
// player disconnects while waiting.
func (q *QueueSet) Remove(family, requestID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	entries := q.queues[family]
	for i, entry := range entries {
		if entry.Request.RequestID == requestID {
			q.queues[family] = append(entries[:i], entries[i+1:]...)
			q.persist(family)
			return true
		}
	}
	return false
}

// persist mirrors one family queue. Caller holds the lock.
func (q *QueueSet) persist(family string) {
	entries := q.queues[family]
	if len(entries) == 0 {
		q.mirror.DeleteQueue(family)
		return
	}
	q.mirror.SaveQueue(family, entries)
}
