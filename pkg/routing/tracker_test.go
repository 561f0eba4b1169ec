// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package routing_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fulcrumnetwork/fulcrum/pkg/routing"
)

var _ = Describe("Tracker", func() {

	var (
		fixture *mirrorFixture
		tracker *routing.Tracker
	)

	BeforeEach(func() {
		fixture = newMirrorFixture()
		tracker = routing.NewTracker(fixture.mirror, time.Minute)
	})

	AfterEach(func() {
		tracker.Close()
		fixture.close()
	})

	It("tracks the player's current slot", func() {
		_, ok := tracker.ActiveSlot("alice")
		Expect(ok).To(BeFalse())

		tracker.SetActive("alice", "lobby:1:main")
		slot, ok := tracker.ActiveSlot("alice")
		Expect(ok).To(BeTrue())
		Expect(slot).To(Equal("lobby:1:main"))
	})

	It("remembers left slots newest first, bounded", func() {
		tracker.SetActive("alice", "lobby:1:main")
		tracker.SetActive("alice", "skywars:1:main")
		tracker.SetActive("alice", "skywars:2:main")
		tracker.SetActive("alice", "skywars:3:main")
		tracker.SetActive("alice", "lobby:2:main")

		Expect(tracker.RecentSlots("alice")).To(Equal([]string{
			"skywars:3:main", "skywars:2:main", "skywars:1:main",
		}))
	})

	It("does not record a re-assignment to the same slot as recent", func() {
		tracker.SetActive("alice", "lobby:1:main")
		tracker.SetActive("alice", "lobby:1:main")
		Expect(tracker.RecentSlots("alice")).To(BeEmpty())
	})

	It("moves the active slot to recent on clear", func() {
		tracker.SetActive("alice", "lobby:1:main")
		tracker.ClearActive("alice")

		_, ok := tracker.ActiveSlot("alice")
		Expect(ok).To(BeFalse())
		Expect(tracker.RecentSlots("alice")).To(Equal([]string{"lobby:1:main"}))
	})

	It("restores the active table from the mirror", func() {
		tracker.SetActive("alice", "lobby:1:main")
		tracker.SetActive("bob", "skywars:1:main")
		tracker.ClearActive("bob")

		rebooted := routing.NewTracker(fixture.mirror, time.Minute)
		defer rebooted.Close()
		Expect(rebooted.Restore()).To(Succeed())

		slot, ok := rebooted.ActiveSlot("alice")
		Expect(ok).To(BeTrue())
		Expect(slot).To(Equal("lobby:1:main"))
		_, ok = rebooted.ActiveSlot("bob")
		Expect(ok).To(BeFalse())
	})
})
