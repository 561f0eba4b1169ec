// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0

// Package social keeps the friend graph: relations, pending invites and
// blocks. The graph lives in memory; the runtimes re-sync it through the
// event broadcasts.
package social

import (
	"errors"
	"sync"
	"time"
)

// Mutation failure reasons surfaced in the ack.
var (
	ErrAlreadyFriends = errors.New("already-friends")
	ErrInvitePending  = errors.New("invite-pending")
	ErrNoInvite       = errors.New("no-invite")
	ErrNotFriends     = errors.New("not-friends")
	ErrBlocked        = errors.New("blocked")
	ErrNotBlocked     = errors.New("not-blocked")
	ErrSelf           = errors.New("self-target")
)

// Invite is one pending friend request.
type Invite struct {
	ActorID   string
	TargetID  string
	ExpiresAt time.Time
}

// Expired reports whether the invite's deadline has passed.
func (i *Invite) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// Relations is the friend graph. Friendships are symmetric, blocks are
// directional, invites are directional and expire.
type Relations struct {
	mu      sync.Mutex
	friends map[string]map[string]bool
	blocked map[string]map[string]bool
	invites map[string]*Invite
	now     func() time.Time
}

// NewRelations returns an empty graph.
func NewRelations() *Relations {
	return &Relations{
		friends: map[string]map[string]bool{},
		blocked: map[string]map[string]bool{},
		invites: map[string]*Invite{},
		now:     time.Now,
	}
}

// SetClock injects a clock for tests.
func (r *Relations) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func inviteKey(actorID, targetID string) string {
	return actorID + ">" + targetID
}

// AreFriends reports a symmetric friendship.
func (r *Relations) AreFriends(a, b string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.friends[a][b]
}

// IsBlocked reports whether actor blocked target.
func (r *Relations) IsBlocked(actorID, targetID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blocked[actorID][targetID]
}

// Friends returns a player's friend list.
func (r *Relations) Friends(playerID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.friends[playerID]))
	for friend := range r.friends[playerID] {
		out = append(out, friend)
	}
	return out
}

// Request opens an invite from actor to target.
func (r *Relations) Request(actorID, targetID string, expiresAt time.Time) (*Invite, error) {
	if actorID == targetID {
		return nil, ErrSelf
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blocked[actorID][targetID] || r.blocked[targetID][actorID] {
		return nil, ErrBlocked
	}
	if r.friends[actorID][targetID] {
		return nil, ErrAlreadyFriends
	}
	now := r.now()
	if existing, ok := r.invites[inviteKey(actorID, targetID)]; ok && !existing.Expired(now) {
		return nil, ErrInvitePending
	}
	// A live counter-invite means both want it; accepting is the cleaner path,
	// but a fresh request in that state still just opens the invite.
	invite := &Invite{ActorID: actorID, TargetID: targetID, ExpiresAt: expiresAt}
	r.invites[inviteKey(actorID, targetID)] = invite
	return invite, nil
}

// Accept closes the invite from target to actor and records the friendship.
func (r *Relations) Accept(actorID, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := inviteKey(targetID, actorID)
	invite, ok := r.invites[key]
	if !ok || invite.Expired(r.now()) {
		delete(r.invites, key)
		return ErrNoInvite
	}
	if r.blocked[actorID][targetID] || r.blocked[targetID][actorID] {
		return ErrBlocked
	}
	delete(r.invites, key)
	r.link(actorID, targetID)
	return nil
}

// Decline drops the invite from target to actor.
func (r *Relations) Decline(actorID, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := inviteKey(targetID, actorID)
	invite, ok := r.invites[key]
	if !ok || invite.Expired(r.now()) {
		delete(r.invites, key)
		return ErrNoInvite
	}
	delete(r.invites, key)
	return nil
}

// Remove ends a friendship.
func (r *Relations) Remove(actorID, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.friends[actorID][targetID] {
		return ErrNotFriends
	}
	r.unlink(actorID, targetID)
	return nil
}

// Block records a directional block, severing any friendship and pending
// invites between the two. It reports whether they were friends.
func (r *Relations) Block(actorID, targetID string) (wereFriends bool, err error) {
	if actorID == targetID {
		return false, ErrSelf
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.blocked[actorID][targetID] {
		return false, ErrBlocked
	}
	wereFriends = r.friends[actorID][targetID]
	r.unlink(actorID, targetID)
	delete(r.invites, inviteKey(actorID, targetID))
	delete(r.invites, inviteKey(targetID, actorID))
	if r.blocked[actorID] == nil {
		r.blocked[actorID] = map[string]bool{}
	}
	r.blocked[actorID][targetID] = true
	return wereFriends, nil
}

// Unblock lifts a directional block.
func (r *Relations) Unblock(actorID, targetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.blocked[actorID][targetID] {
		return ErrNotBlocked
	}
	delete(r.blocked[actorID], targetID)
	return nil
}

// link records a symmetric friendship. Caller holds the lock.
func (r *Relations) link(a, b string) {
	if r.friends[a] == nil {
		r.friends[a] = map[string]bool{}
	}
	if r.friends[b] == nil {
		r.friends[b] = map[string]bool{}
	}
	r.friends[a][b] = true
	r.friends[b][a] = true
}

// unlink removes a symmetric friendship. Caller holds the lock.
func (r *Relations) unlink(a, b string) {
	delete(r.friends[a], b)
	delete(r.friends[b], a)
}
