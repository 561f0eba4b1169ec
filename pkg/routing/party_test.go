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
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

var _ = Describe("PartyReservations", func() {

	var (
		fixture *mirrorFixture
		parties *routing.PartyReservations
		now     time.Time
	)

	BeforeEach(func() {
		fixture = newMirrorFixture()
		parties = routing.NewPartyReservations(fixture.mirror)
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	})

	AfterEach(func() {
		fixture.close()
	})

	announced := func(slotID string) *message.PartyReservationCreated {
		return &message.PartyReservationCreated{
			ReservationID:    "res-1",
			PartyID:          "party-1",
			FamilyID:         "skywars",
			TargetServerID:   "fulcrum-server-1",
			SlotID:           slotID,
			ReservationToken: "tok-party",
			Players:          []string{"alice", "bob"},
			Teams: []message.PartyTeam{
				{Index: 0, Players: []string{"alice"}},
				{Index: 1, Players: []string{"bob"}},
			},
		}
	}

	It("derives the state from the presence of a slot", func() {
		pending := parties.Upsert(&message.PartyReservationCreated{
			ReservationID: "res-1", PartyID: "party-1", FamilyID: "skywars", Players: []string{"alice"},
		}, now)
		Expect(pending.State).To(Equal(types.PartyPending))

		allocated := parties.Upsert(announced("skywars:1:main"), now)
		Expect(allocated.State).To(Equal(types.PartyAllocated))
		Expect(allocated.TeamIndex).To(HaveKeyWithValue("bob", 1))
	})

	It("finds the live reservation covering a player", func() {
		parties.Upsert(announced("skywars:1:main"), now)

		reservation, ok := parties.ForPlayer("alice", "skywars", now)
		Expect(ok).To(BeTrue())
		Expect(reservation.ReservationID).To(Equal("res-1"))

		_, ok = parties.ForPlayer("alice", "lobby", now)
		Expect(ok).To(BeFalse())
		_, ok = parties.ForPlayer("mallory", "skywars", now)
		Expect(ok).To(BeFalse())

		// A member who already claimed is no longer covered.
		parties.Claim("res-1", "alice")
		_, ok = parties.ForPlayer("alice", "skywars", now)
		Expect(ok).To(BeFalse())
	})

	It("moves to CLAIMED once every member has claimed", func() {
		parties.Upsert(announced("skywars:1:main"), now)

		reservation, ok := parties.Claim("res-1", "alice")
		Expect(ok).To(BeTrue())
		Expect(reservation.State).To(Equal(types.PartyAllocated))

		reservation, _ = parties.Claim("res-1", "bob")
		Expect(reservation.State).To(Equal(types.PartyClaimed))
	})

	It("keeps existing claims across a re-announcement", func() {
		parties.Upsert(announced("skywars:1:main"), now)
		parties.Claim("res-1", "alice")

		refreshed := parties.Upsert(announced("skywars:1:main"), now)
		Expect(refreshed.Claimed).To(HaveKeyWithValue("alice", true))
	})

	It("expires on lookup past the deadline", func() {
		msg := announced("skywars:1:main")
		msg.ExpiresAt = now.Add(30 * time.Second).UnixMilli()
		parties.Upsert(msg, now)

		reservation, ok := parties.Lookup("res-1", now.Add(31*time.Second))
		Expect(ok).To(BeTrue())
		Expect(reservation.State).To(Equal(types.PartyExpired))
		_, ok = parties.ForPlayer("alice", "skywars", now.Add(31*time.Second))
		Expect(ok).To(BeFalse())
	})

	It("knocks reservations on a failed slot back to pending", func() {
		parties.Upsert(announced("skywars:1:main"), now)

		reset := parties.ResetForSlot("SKYWARS:1:MAIN")
		Expect(reset).To(HaveLen(1))
		Expect(reset[0].State).To(Equal(types.PartyPending))
		Expect(reset[0].SlotID).To(BeEmpty())
		Expect(reset[0].Token).To(BeEmpty())
	})

	It("binds a pending reservation on allocation", func() {
		parties.Upsert(&message.PartyReservationCreated{
			ReservationID: "res-1", PartyID: "party-1", FamilyID: "skywars", Players: []string{"alice"},
		}, now)

		parties.Allocate("res-1", "fulcrum-server-1", "skywars:2:main", "tok-2")
		reservation, ok := parties.Lookup("res-1", now)
		Expect(ok).To(BeTrue())
		Expect(reservation.State).To(Equal(types.PartyAllocated))
		Expect(reservation.SlotID).To(Equal("skywars:2:main"))
		Expect(reservation.Token).To(Equal("tok-2"))
	})

	It("restores reservations from the mirror", func() {
		parties.Upsert(announced("skywars:1:main"), now)
		parties.Claim("res-1", "alice")

		rebooted := routing.NewPartyReservations(fixture.mirror)
		Expect(rebooted.Restore()).To(Succeed())

		reservation, ok := rebooted.Lookup("res-1", now)
		Expect(ok).To(BeTrue())
		Expect(reservation.Claimed).To(HaveKeyWithValue("alice", true))
		Expect(reservation.TeamIndex).To(HaveKeyWithValue("alice", 0))
	})
})
