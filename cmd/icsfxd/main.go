// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command icsfxd wires the ambient and domain stack described in
// SPEC_FULL.md: configuration, logging, the reference store backend, the
// named-property registry, the cn allocator, and the maintenance scheduler.
// It does not implement an RPC/pipe transport or request dispatcher (spec.md
// §1 Non-goals place those out of scope as an external collaborator); a real
// deployment embeds the packages this command wires into whatever transport
// carries ROP requests to C6/C7/C8.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/icsfxd/icsfx/ident"
	"github.com/icsfxd/icsfx/importrop"
	"github.com/icsfxd/icsfx/internal/config"
	"github.com/icsfxd/icsfx/internal/log"
	"github.com/icsfxd/icsfx/internal/natsbus"
	"github.com/icsfxd/icsfx/internal/taskManager"
	"github.com/icsfxd/icsfx/metrics"
	"github.com/icsfxd/icsfx/namedprop"
)

func main() {
	flagConfigFile := flag.String("config", "./config.json", "path to the icsfxd config file")
	flagLogLevel := flag.String("loglevel", "", "override the configured log level")
	flag.Parse()

	if err := config.Init(*flagConfigFile); err != nil {
		log.Fatalf("config: %s", err.Error())
	}
	if *flagLogLevel != "" {
		log.SetLogLevel(*flagLogLevel)
	}

	replicaStore, err := config.OpenReplicaStore()
	if err != nil {
		log.Fatalf("opening replica store: %s", err.Error())
	}

	localGUID, err := replicaStore.LocalReplicaGUID()
	if err != nil {
		log.Fatalf("loading local replica guid: %s", err.Error())
	}
	replicas := ident.NewReplicaTable(localGUID)
	log.Infof("icsfxd: local replica guid %x", localGUID)

	startGlobcnt := uint64(1)
	if saved, ok, err := replicaStore.LoadAllocatorCheckpoint(localGUID); err != nil {
		log.Fatalf("loading allocator checkpoint: %s", err.Error())
	} else if ok {
		startGlobcnt = saved
		log.Infof("icsfxd: resuming cn allocator at %d", startGlobcnt)
	}
	localAlloc := ident.NewLocalAllocator(startGlobcnt)

	var allocator ident.CNAllocator = localAlloc
	natsClient, err := natsbus.Connect(config.Keys.NATS)
	if err != nil {
		log.Fatalf("connecting to NATS cn sequence bus: %s", err.Error())
	}
	if natsClient != nil {
		allocator = ident.NewNATSCNAllocator(natsClient, ident.CNSubject(localGUID))
		log.Info("icsfxd: using NATS cn sequence broker")
	}

	namedPropDB, err := namedprop.Open(config.Keys.NamedPropStore)
	if err != nil {
		log.Fatalf("opening named-property registry: %s", err.Error())
	}
	sqlRegistry := namedprop.NewSQLRegistry(namedPropDB)
	cache := namedprop.NewCachingRegistry(sqlRegistry)

	if config.Keys.SeedFile != "" {
		seed, err := os.ReadFile(config.Keys.SeedFile)
		if err != nil {
			log.Fatalf("reading named-property seed file: %s", err.Error())
		}
		if err := namedprop.Bootstrap(cache, seed); err != nil {
			log.Fatalf("bootstrapping named-property registry: %s", err.Error())
		}
	}
	cache.WarmUp(config.Keys.CacheWarmUpMaxMappedID)

	// The C8 importer bundles the store, replica table, and cn allocator a
	// transport's ImportMessageChange/ImportHierarchyChange/... ROP handlers
	// call into; this process only assembles it.
	importrop.New(replicaStore, replicas, allocator)

	// metrics.NewRegistry registers every icsfx counter/histogram against reg;
	// the transport embedding this process takes the returned *metrics.Registry
	// and passes it to syncengine.Downloader.WithMetrics.
	reg := prometheus.NewRegistry()
	metrics.NewRegistry(reg)

	if config.Keys.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(config.Keys.MetricsAddr, mux); err != nil {
				log.Errorf("metrics server: %s", err.Error())
			}
		}()
		log.Infof("icsfxd: metrics listening on %s", config.Keys.MetricsAddr)
	}

	if err := taskManager.Start(
		config.Keys.CheckpointInterval, config.Keys.CacheWarmUpInterval,
		localGUID, localAlloc, replicaStore, cache, config.Keys.CacheWarmUpMaxMappedID,
	); err != nil {
		log.Fatalf("starting maintenance scheduler: %s", err.Error())
	}

	log.Info("icsfxd: ambient and domain stack ready")
	fmt.Println("icsfxd: serving until SIGINT/SIGTERM; no transport is wired by this command, see package doc")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info("icsfxd: shutting down")
	if err := taskManager.Shutdown(); err != nil {
		log.Errorf("maintenance scheduler shutdown: %s", err.Error())
	}
	if err := replicaStore.SaveAllocatorCheckpoint(localGUID, localAlloc.Checkpoint()); err != nil {
		log.Errorf("final allocator checkpoint: %s", err.Error())
	}
}
