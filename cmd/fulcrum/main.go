// Copyright (c) 2025-2026 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/fulcrumnetwork/fulcrum.
//
// SPDX-License-Identifier: Apache-2.0
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/fulcrumnetwork/fulcrum/pkg/bus"
	"github.com/fulcrumnetwork/fulcrum/pkg/fsm"
	"github.com/fulcrumnetwork/fulcrum/pkg/kv"
	l "github.com/fulcrumnetwork/fulcrum/pkg/logger"
	"github.com/fulcrumnetwork/fulcrum/pkg/network"
	"github.com/fulcrumnetwork/fulcrum/pkg/registry"
	"github.com/fulcrumnetwork/fulcrum/pkg/routing"
	"github.com/fulcrumnetwork/fulcrum/pkg/social"
	"github.com/fulcrumnetwork/fulcrum/pkg/types"
	"github.com/fulcrumnetwork/fulcrum/pkg/utils"
)

const (
	defaultConfigLocation = "/etc/config/config.json"

	notifierWorkers = 4
	notifierQueue   = 256
	schedulerQueue  = 1024
)

func main() {
	configPath := flag.String("config", defaultConfigLocation, "path to the config file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	config, err := ParseConfig(*configPath)
	if err != nil {
		panic(err)
	}
	SetDefaults(config)
	logger, err := l.NewLogger(*logLevel)
	if err != nil {
		panic(err)
	}
	logger.Infof("Starting with the config %+v", config)

	store, err := kv.NewRedisStore(config.KVAddress, config.KVPassword, config.KVDatabase)
	if err != nil {
		panic(err)
	}
	mirror := registry.NewMirror(store, logger)

	var b bus.MessageBus
	if config.BusURL == "" {
		logger.Warn("No bus URL configured, using the in-process bus")
		b = bus.NewLocalBus(logger, config.BusSize)
	} else {
		b, err = bus.NewNatsBus(config.BusURL, logger)
		if err != nil {
			panic(err)
		}
	}

	notifier := fsm.NewNotifier(notifierWorkers, notifierQueue, logger)
	proxyAlloc := registry.NewIDAllocator(config.IDBase, registry.KindProxy, config.RecycleWindow)
	serverAlloc := registry.NewIDAllocator(config.IDBase, registry.KindServer, config.RecycleWindow)
	registryCfg := registry.ProxyRegistryConfig{
		AnnounceDebounce:   config.AnnounceDebounce,
		RecycleWindow:      config.RecycleWindow,
		CleanupInterval:    config.CleanupInterval,
		RegisteringTimeout: types.DefaultRegisteringTimeout,
	}
	proxies := registry.NewProxyRegistry(registryCfg, proxyAlloc, mirror, notifier, logger)
	servers := registry.NewServerRegistry(registryCfg, serverAlloc, mirror, notifier, logger)
	monitor := registry.NewMonitor(registry.MonitorConfig{
		UnavailableTimeout: config.UnavailableTimeout,
		DeadTimeout:        config.DeadTimeout,
		CheckInterval:      config.CheckInterval,
		GracePeriod:        config.GracePeriod,
		DeadBlacklist:      config.DeadBlacklist,
	}, proxies, servers, mirror, b, logger)
	shutdown := registry.NewShutdownCoordinator(servers, mirror, b, config.TransferHint, config.EvacuationTimeout, logger)
	registryService := registry.NewService(b, proxies, servers, monitor, shutdown, logger)

	scheduler := routing.NewScheduler(schedulerQueue, logger)
	scheduler.Start()
	router := routing.NewRouter(routing.RouterConfig{
		RouteTimeout:       config.RouteTimeout,
		ReservationTimeout: config.ReservationTimeout,
		MaxQueueWait:       config.MaxQueueWait,
		MaxRouteRetries:    config.MaxRouteRetries,
		RecentSlotTTL:      config.RecentSlotTTL,
		ProvisionLockTTL:   config.ProvisionLockTTL,
	}, b, proxies, servers, shutdown, mirror, scheduler, logger)
	monitor.SetNodeDeadCallback(func(kind registry.NodeKind, nodeID string) {
		if kind == registry.KindServer {
			router.OnServerDead(nodeID)
		}
	})
	routingService := routing.NewService(b, router, servers, logger)

	networkService := network.NewService(b, mirror, logger)
	socialService := social.NewService(b, social.NewRelations(), logger)

	// The registry starts last: its boot broadcast asks the fleet to
	// re-announce, and every other service must already be listening.
	for _, start := range []func() error{
		routingService.Start,
		networkService.Start,
		socialService.Start,
		registryService.Start,
	} {
		if err := start(); err != nil {
			panic(err)
		}
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signals
	logger.Infof("Received %s, shutting down", sig)

	registryService.Stop()
	routingService.Stop()
	scheduler.Stop()
	notifier.Stop()
	if err := b.Close(); err != nil {
		logger.Warnf("Bus close: %v", err)
	}
	if err := store.Close(); err != nil {
		logger.Warnf("KV close: %v", err)
	}
}

// ParseConfig parses the configuration file of the registry core.
func ParseConfig(path string) (*types.FulcrumTypedConfig, error) {
	bytes, err := utils.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var conf types.FulcrumConfig
	if err := json.Unmarshal(bytes, &conf); err != nil {
		return nil, err
	}
	if conf.KVAddress == "" {
		return nil, errors.New("missing config error, KVAddress must be defined")
	}

	typed := &types.FulcrumTypedConfig{
		BusURL:          conf.BusURL,
		KVAddress:       conf.KVAddress,
		KVPassword:      conf.KVPassword,
		KVDatabase:      conf.KVDatabase,
		BusSize:         conf.BusSize,
		IDBase:          conf.IDBase,
		TransferHint:    conf.TransferHint,
		MaxRouteRetries: conf.MaxRouteRetries,
	}
	durations := []struct {
		name  string
		raw   string
		field *time.Duration
	}{
		{"UnavailableTimeout", conf.UnavailableTimeout, &typed.UnavailableTimeout},
		{"DeadTimeout", conf.DeadTimeout, &typed.DeadTimeout},
		{"CheckInterval", conf.CheckInterval, &typed.CheckInterval},
		{"GracePeriod", conf.GracePeriod, &typed.GracePeriod},
		{"DeadBlacklist", conf.DeadBlacklist, &typed.DeadBlacklist},
		{"RouteTimeout", conf.RouteTimeout, &typed.RouteTimeout},
		{"ReservationTimeout", conf.ReservationTimeout, &typed.ReservationTimeout},
		{"MaxQueueWait", conf.MaxQueueWait, &typed.MaxQueueWait},
		{"RecentSlotTTL", conf.RecentSlotTTL, &typed.RecentSlotTTL},
		{"RecycleWindow", conf.RecycleWindow, &typed.RecycleWindow},
		{"AnnounceDebounce", conf.AnnounceDebounce, &typed.AnnounceDebounce},
		{"CleanupInterval", conf.CleanupInterval, &typed.CleanupInterval},
		{"ProvisionLockTTL", conf.ProvisionLockTTL, &typed.ProvisionLockTTL},
		{"EvacuationTimeout", conf.EvacuationTimeout, &typed.EvacuationTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s format: %w", d.name, err)
		}
		*d.field = parsed
	}
	return typed, nil
}

// SetDefaults sets the default values for config properties if they are not set.
func SetDefaults(conf *types.FulcrumTypedConfig) {
	if conf.BusSize == 0 {
		conf.BusSize = types.DefaultBusSize
	}
	if conf.IDBase == "" {
		conf.IDBase = types.DefaultIDBase
	}
	if conf.TransferHint == "" {
		conf.TransferHint = types.DefaultBackendTransferHint
	}
	if conf.MaxRouteRetries == 0 {
		conf.MaxRouteRetries = types.DefaultMaxRouteRetries
	}
	if conf.UnavailableTimeout == 0 {
		conf.UnavailableTimeout = types.DefaultUnavailableTimeout
	}
	if conf.DeadTimeout == 0 {
		conf.DeadTimeout = types.DefaultDeadTimeout
	}
	if conf.CheckInterval == 0 {
		conf.CheckInterval = types.DefaultCheckInterval
	}
	if conf.GracePeriod == 0 {
		conf.GracePeriod = types.DefaultGracePeriod
	}
	if conf.DeadBlacklist == 0 {
		conf.DeadBlacklist = types.DefaultDeadBlacklist
	}
	if conf.RouteTimeout == 0 {
		conf.RouteTimeout = types.DefaultRouteTimeout
	}
	if conf.ReservationTimeout == 0 {
		conf.ReservationTimeout = types.DefaultReservationTimeout
	}
	if conf.MaxQueueWait == 0 {
		conf.MaxQueueWait = types.DefaultMaxQueueWait
	}
	if conf.RecentSlotTTL == 0 {
		conf.RecentSlotTTL = types.DefaultRecentSlotTTL
	}
	if conf.RecycleWindow == 0 {
		conf.RecycleWindow = types.DefaultRecycleWindow
	}
	if conf.AnnounceDebounce == 0 {
		conf.AnnounceDebounce = types.DefaultAnnounceDebounce
	}
	if conf.CleanupInterval == 0 {
		conf.CleanupInterval = types.DefaultCleanupInterval
	}
	if conf.ProvisionLockTTL == 0 {
		conf.ProvisionLockTTL = types.DefaultProvisionLockTTL
	}
	if conf.EvacuationTimeout == 0 {
		conf.EvacuationTimeout = types.DefaultEvacuationTimeout
	}
}
