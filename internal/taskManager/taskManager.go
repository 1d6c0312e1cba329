// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskManager runs icsfxd's periodic maintenance jobs (SPEC_FULL.md
// DOMAIN STACK: "go-co-op/gocron/v2 | C4 cn allocator checkpoint + C3 cache
// warm-up"), adapted from the teacher's internal/taskManager package-level
// gocron.Scheduler.
package taskManager

import (
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/icsfxd/icsfx/icserr"
	"github.com/icsfxd/icsfx/ident"
	"github.com/icsfxd/icsfx/idset"
	"github.com/icsfxd/icsfx/internal/log"
	"github.com/icsfxd/icsfx/namedprop"
)

var s gocron.Scheduler

// CheckpointStore persists the cn allocator's watermark, satisfied by
// *store/memstore.Store.
type CheckpointStore interface {
	SaveAllocatorCheckpoint(replicaGUID idset.GUID, next uint64) error
}

func parseDuration(raw string) (time.Duration, error) {
	interval, err := time.ParseDuration(raw)
	if err != nil {
		log.Warnf("taskManager: could not parse duration %q: %v", raw, err)
		return 0, err
	}
	if interval == 0 {
		log.Info("taskManager: interval is zero, job disabled")
	}
	return interval, nil
}

// Start creates the scheduler and registers every configured maintenance
// job, mirroring the teacher's Start: build the scheduler, conditionally
// register jobs off config, then s.Start().
func Start(checkpointInterval, warmUpInterval string, replicaGUID idset.GUID, alloc *ident.LocalAllocator, store CheckpointStore, cache *namedprop.CachingRegistry, warmUpMaxMappedID uint16) error {
	var err error
	s, err = gocron.NewScheduler()
	if err != nil {
		return icserr.Wrap(icserr.BackendError, err)
	}

	if checkpointInterval != "" {
		RegisterAllocatorCheckpointJob(checkpointInterval, replicaGUID, alloc, store)
	}
	if warmUpInterval != "" {
		RegisterCacheWarmUpJob(warmUpInterval, cache, warmUpMaxMappedID)
	}

	s.Start()
	return nil
}

// Shutdown stops the scheduler, letting in-flight jobs finish.
func Shutdown() error {
	if s == nil {
		return nil
	}
	return s.Shutdown()
}

// RegisterAllocatorCheckpointJob persists alloc's current watermark to store
// every interval, so a process restart resumes above the last-issued globcnt
// instead of replaying ids already handed to callers (spec §5: "the cn
// allocator must be atomic").
func RegisterAllocatorCheckpointJob(rawInterval string, replicaGUID idset.GUID, alloc *ident.LocalAllocator, store CheckpointStore) {
	interval, err := parseDuration(rawInterval)
	if err != nil || interval == 0 {
		return
	}

	log.Info("taskManager: register cn allocator checkpoint job")
	s.NewJob(gocron.DurationJob(interval),
		gocron.NewTask(
			func() {
				next := alloc.Checkpoint()
				if err := store.SaveAllocatorCheckpoint(replicaGUID, next); err != nil {
					log.Errorf("taskManager: allocator checkpoint failed: %v", err)
					return
				}
				log.Debugf("taskManager: allocator checkpoint saved at %d", next)
			}))
}

// RegisterCacheWarmUpJob refreshes cache's forward/reverse maps from the
// backing named-property registry every interval, up to maxMappedID, so the
// hot GetMapped/GetName path picks up mappings created by other processes
// (spec §5: "process-wide mutable state").
func RegisterCacheWarmUpJob(rawInterval string, cache *namedprop.CachingRegistry, maxMappedID uint16) {
	interval, err := parseDuration(rawInterval)
	if err != nil || interval == 0 {
		return
	}

	log.Info("taskManager: register named-property cache warm-up job")
	s.NewJob(gocron.DurationJob(interval),
		gocron.NewTask(
			func() {
				t := time.Now()
				n := cache.WarmUp(maxMappedID)
				log.Debugf("taskManager: cache warm-up loaded %d records in %s", n, time.Since(t))
			}))
}
