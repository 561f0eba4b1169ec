// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package social_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fulcrumnetwork/fulcrum/pkg/social"
)

// fakeClock is a hand-advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("Relations", func() {

	var (
		clock     *fakeClock
		relations *social.Relations
	)

	BeforeEach(func() {
		clock = &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
		relations = social.NewRelations()
		relations.SetClock(clock.Now)
	})

	befriend := func(a, b string) {
		_, err := relations.Request(a, b, time.Time{})
		Expect(err).NotTo(HaveOccurred())
		Expect(relations.Accept(b, a)).To(Succeed())
	}

	It("runs the invite lifecycle to a symmetric friendship", func() {
		_, err := relations.Request("alice", "bob", time.Time{})
		Expect(err).NotTo(HaveOccurred())
		Expect(relations.AreFriends("alice", "bob")).To(BeFalse())

		Expect(relations.Accept("bob", "alice")).To(Succeed())
		Expect(relations.AreFriends("alice", "bob")).To(BeTrue())
		Expect(relations.AreFriends("bob", "alice")).To(BeTrue())
		Expect(relations.Friends("alice")).To(ConsistOf("bob"))

		// The invite was consumed.
		Expect(relations.Accept("bob", "alice")).To(MatchError(social.ErrNoInvite))
	})

	It("rejects degenerate and duplicate invites", func() {
		_, err := relations.Request("alice", "alice", time.Time{})
		Expect(err).To(MatchError(social.ErrSelf))

		_, err = relations.Request("alice", "bob", time.Time{})
		Expect(err).NotTo(HaveOccurred())
		_, err = relations.Request("alice", "bob", time.Time{})
		Expect(err).To(MatchError(social.ErrInvitePending))

		befriend("carol", "dave")
		_, err = relations.Request("carol", "dave", time.Time{})
		Expect(err).To(MatchError(social.ErrAlreadyFriends))
	})

	It("expires invites at their deadline", func() {
		_, err := relations.Request("alice", "bob", clock.Now().Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())

		clock.Advance(2 * time.Minute)
		Expect(relations.Accept("bob", "alice")).To(MatchError(social.ErrNoInvite))

		// The lapsed invite no longer counts as pending.
		_, err = relations.Request("alice", "bob", clock.Now().Add(time.Minute))
		Expect(err).NotTo(HaveOccurred())
	})

	It("declining drops the invite without a friendship", func() {
		_, err := relations.Request("alice", "bob", time.Time{})
		Expect(err).NotTo(HaveOccurred())

		Expect(relations.Decline("bob", "alice")).To(Succeed())
		Expect(relations.AreFriends("alice", "bob")).To(BeFalse())
		Expect(relations.Decline("bob", "alice")).To(MatchError(social.ErrNoInvite))
	})

	It("removing ends the friendship on both sides", func() {
		befriend("alice", "bob")

		Expect(relations.Remove("alice", "bob")).To(Succeed())
		Expect(relations.AreFriends("bob", "alice")).To(BeFalse())
		Expect(relations.Remove("alice", "bob")).To(MatchError(social.ErrNotFriends))
	})

	It("a block severs the relation and stops new invites both ways", func() {
		befriend("alice", "bob")

		wereFriends, err := relations.Block("alice", "bob")
		Expect(err).NotTo(HaveOccurred())
		Expect(wereFriends).To(BeTrue())
		Expect(relations.AreFriends("alice", "bob")).To(BeFalse())
		Expect(relations.IsBlocked("alice", "bob")).To(BeTrue())
		// Blocks are directional.
		Expect(relations.IsBlocked("bob", "alice")).To(BeFalse())

		_, err = relations.Request("bob", "alice", time.Time{})
		Expect(err).To(MatchError(social.ErrBlocked))
		_, err = relations.Request("alice", "bob", time.Time{})
		Expect(err).To(MatchError(social.ErrBlocked))
	})

	It("a block voids pending invites between the two", func() {
		_, err := relations.Request("bob", "alice", time.Time{})
		Expect(err).NotTo(HaveOccurred())

		_, err = relations.Block("alice", "bob")
		Expect(err).NotTo(HaveOccurred())
		Expect(relations.Unblock("alice", "bob")).To(Succeed())

		Expect(relations.Accept("alice", "bob")).To(MatchError(social.ErrNoInvite))
	})

	It("unblock lifts only an existing block", func() {
		_, err := relations.Block("alice", "bob")
		Expect(err).NotTo(HaveOccurred())

		Expect(relations.Unblock("alice", "bob")).To(Succeed())
		Expect(relations.IsBlocked("alice", "bob")).To(BeFalse())
		Expect(relations.Unblock("alice", "bob")).To(MatchError(social.ErrNotBlocked))
	})
})
