// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package routing_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fulcrumnetwork/fulcrum/pkg/message"
	"github.com/fulcrumnetwork/fulcrum/pkg/routing"
)

var _ = Describe("Rosters", func() {

	var (
		fixture *mirrorFixture
		rosters *routing.Rosters
		now     time.Time
	)

	BeforeEach(func() {
		fixture = newMirrorFixture()
		rosters = routing.NewRosters(fixture.mirror)
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		fixture.close()
	})

	It("locks a slot to its roster", func() {
		locked, allowed := rosters.Check("skywars:1:main", "alice")
		Expect(locked).To(BeFalse())
		Expect(allowed).To(BeTrue())

		rosters.Create(&message.MatchRosterCreated{
			MatchID: "match-1", SlotID: "skywars:1:main", ServerID: "fulcrum-server-1",
			Players: []string{"alice"},
		}, now)

		locked, allowed = rosters.Check("SKYWARS:1:MAIN", "alice")
		Expect(locked).To(BeTrue())
		Expect(allowed).To(BeTrue())
		_, allowed = rosters.Check("skywars:1:main", "mallory")
		Expect(allowed).To(BeFalse())
	})

	It("only the owning match can end the lock", func() {
		rosters.Create(&message.MatchRosterCreated{
			MatchID: "match-1", SlotID: "skywars:1:main", Players: []string{"alice"},
		}, now)

		Expect(rosters.End("match-2", "skywars:1:main")).To(BeFalse())
		locked, _ := rosters.Check("skywars:1:main", "alice")
		Expect(locked).To(BeTrue())

		Expect(rosters.End("match-1", "skywars:1:main")).To(BeTrue())
		locked, _ = rosters.Check("skywars:1:main", "alice")
		Expect(locked).To(BeFalse())
	})

	It("a new roster replaces the previous lock on the slot", func() {
		rosters.Create(&message.MatchRosterCreated{
			MatchID: "match-1", SlotID: "skywars:1:main", Players: []string{"alice"},
		}, now)
		rosters.Create(&message.MatchRosterCreated{
			MatchID: "match-2", SlotID: "skywars:1:main", Players: []string{"bob"},
		}, now)

		_, allowed := rosters.Check("skywars:1:main", "alice")
		Expect(allowed).To(BeFalse())
		_, allowed = rosters.Check("skywars:1:main", "bob")
		Expect(allowed).To(BeTrue())
	})

	It("clears whatever lock holds a failed slot", func() {
		rosters.Create(&message.MatchRosterCreated{
			MatchID: "match-1", SlotID: "skywars:1:main", Players: []string{"alice"},
		}, now)

		rosters.ClearSlot("skywars:1:main")
		locked, _ := rosters.Check("skywars:1:main", "alice")
		Expect(locked).To(BeFalse())
	})

	It("restores locks from the mirror", func() {
		rosters.Create(&message.MatchRosterCreated{
			MatchID: "match-1", SlotID: "skywars:1:main", Players: []string{"alice"},
			CreatedAt: now.UnixMilli(),
		}, now)

		rebooted := routing.NewRosters(fixture.mirror)
		Expect(rebooted.Restore()).To(Succeed())

		locked, allowed := rebooted.Check("skywars:1:main", "alice")
		Expect(locked).To(BeTrue())
		Expect(allowed).To(BeTrue())
	})
})
