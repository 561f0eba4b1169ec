// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package registry_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
)

var _ = Describe("IDAllocator", func() {

	var (
		clock *fakeClock
		alloc *registry.IDAllocator
	)

	BeforeEach(func() {
		clock = newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		alloc = registry.NewIDAllocator("fulcrum", registry.KindProxy, 5*time.Minute)
		alloc.SetClock(clock.Now)
	})

	It("hands out contiguous identifiers starting at one", func() {
		Expect(alloc.Allocate().String()).To(Equal("fulcrum-proxy-1"))
		Expect(alloc.Allocate().String()).To(Equal("fulcrum-proxy-2"))
		Expect(alloc.Allocate().String()).To(Equal("fulcrum-proxy-3"))
	})

	It("fills the lowest gap after a forced release", func() {
		first := alloc.Allocate()
		alloc.Allocate()
		alloc.Release(first, true)
		Expect(alloc.Allocate()).To(Equal(first))
	})

	It("keeps a released identifier reserved for the recycle window", func() {
		first := alloc.Allocate()
		alloc.Release(first, false)

		// Within the window a newcomer must not receive the id.
		Expect(alloc.Allocate().String()).To(Equal("fulcrum-proxy-2"))

		clock.Advance(6 * time.Minute)
		Expect(alloc.Allocate()).To(Equal(first))
	})

	It("lets the original holder reclaim a reserved identifier", func() {
		first := alloc.Allocate()
		alloc.Release(first, false)

		alloc.MarkActive(first)
		Expect(alloc.IsActive(first)).To(BeTrue())
		Expect(alloc.Allocate().String()).To(Equal("fulcrum-proxy-2"))
	})

	It("treats a claim of an active identifier as an integrity bug", func() {
		first := alloc.Allocate()
		Expect(func() { alloc.MarkActive(first) }).To(Panic())
	})
})
