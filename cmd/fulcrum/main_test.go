// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/fulcrumnetwork/fulcrum/pkg/types"
)

var _ = Describe("Main", func() {

	Context("when parsing the config", func() {

		var path string

		write := func(content string) {
			Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
		}

		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "config.json")
		})

		It("converts the duration strings into typed durations", func() {
			write(`{
				"busURL": "nats://localhost:4222",
				"kvAddress": "localhost:6379",
				"idBase": "fulcrum",
				"routeTimeout": "20s",
				"maxQueueWait": "1m",
				"recycleWindow": "10m",
				"maxRouteRetries": 5
			}`)

			conf, err := ParseConfig(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(conf.BusURL).To(Equal("nats://localhost:4222"))
			Expect(conf.KVAddress).To(Equal("localhost:6379"))
			Expect(conf.RouteTimeout).To(Equal(20 * time.Second))
			Expect(conf.MaxQueueWait).To(Equal(time.Minute))
			Expect(conf.RecycleWindow).To(Equal(10 * time.Minute))
			Expect(conf.MaxRouteRetries).To(Equal(5))
		})

		It("rejects a config without a KV address", func() {
			write(`{"busURL": "nats://localhost:4222"}`)

			_, err := ParseConfig(path)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("KVAddress must be defined"))
		})

		It("rejects a malformed duration", func() {
			write(`{"kvAddress": "localhost:6379", "deadTimeout": "30x"}`)

			_, err := ParseConfig(path)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("invalid DeadTimeout format"))
		})

		It("rejects a missing file and malformed JSON", func() {
			_, err := ParseConfig(filepath.Join(GinkgoT().TempDir(), "absent.json"))
			Expect(err).To(HaveOccurred())

			write(`{not json`)
			_, err = ParseConfig(path)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("when applying the defaults", func() {
		It("fills every unset property", func() {
			conf := &types.FulcrumTypedConfig{KVAddress: "localhost:6379"}
			SetDefaults(conf)

			Expect(conf.BusSize).To(Equal(types.DefaultBusSize))
			Expect(conf.IDBase).To(Equal(types.DefaultIDBase))
			Expect(conf.TransferHint).To(Equal(types.DefaultBackendTransferHint))
			Expect(conf.MaxRouteRetries).To(Equal(types.DefaultMaxRouteRetries))
			Expect(conf.UnavailableTimeout).To(Equal(types.DefaultUnavailableTimeout))
			Expect(conf.DeadTimeout).To(Equal(types.DefaultDeadTimeout))
			Expect(conf.RouteTimeout).To(Equal(types.DefaultRouteTimeout))
			Expect(conf.ReservationTimeout).To(Equal(types.DefaultReservationTimeout))
			Expect(conf.MaxQueueWait).To(Equal(types.DefaultMaxQueueWait))
			Expect(conf.RecentSlotTTL).To(Equal(types.DefaultRecentSlotTTL))
			Expect(conf.RecycleWindow).To(Equal(types.DefaultRecycleWindow))
			Expect(conf.EvacuationTimeout).To(Equal(types.DefaultEvacuationTimeout))
		})

		It("keeps explicit values", func() {
			conf := &types.FulcrumTypedConfig{
				KVAddress:       "localhost:6379",
				IDBase:          "mc",
				MaxRouteRetries: 1,
				RouteTimeout:    time.Minute,
			}
			SetDefaults(conf)

			Expect(conf.IDBase).To(Equal("mc"))
			Expect(conf.MaxRouteRetries).To(Equal(1))
			Expect(conf.RouteTimeout).To(Equal(time.Minute))
		})
	})
})
