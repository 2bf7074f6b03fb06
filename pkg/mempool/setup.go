// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mempool

import (
	"encoding/json"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-mempool/internal/config"
	"github.com/ClusterCockpit/cc-mempool/internal/taskmanager"
	"github.com/ClusterCockpit/cc-mempool/pkg/units"
)

var (
	singleton  sync.Once
	mmInstance *MemoryManager
)

// Init sets up the process wide memory manager singleton from a JSON
// config document (see internal/config for the keys). rawConfig may be
// nil, selecting the defaults: heap allocator, no quota, no alignment.
func Init(rawConfig json.RawMessage) {
	singleton.Do(func() {
		config.Init(rawConfig)

		var allocator Allocator
		switch config.Keys.Allocator {
		case "", "heap":
			allocator = NewHeapAllocator()
		case "mmap":
			// An empty list in the config selects the default classes.
			sizeClasses := config.Keys.SizeClassPages
			if len(sizeClasses) == 0 {
				sizeClasses = nil
			}
			a, err := NewMmapAllocator(
				config.Keys.AllocatorCapacityMB*units.MB, sizeClasses)
			if err != nil {
				cclog.Abortf("[MEMPOOL]> Could not create mmap allocator.\nError: %s\n", err.Error())
			}
			allocator = a
		default:
			cclog.Abortf("[MEMPOOL]> Unknown allocator kind '%s'\n", config.Keys.Allocator)
		}

		mgr, err := NewMemoryManager(
			config.Keys.QuotaMB*units.MB, config.Keys.Alignment, allocator)
		if err != nil {
			cclog.Abortf("[MEMPOOL]> Could not create memory manager.\nError: %s\n", err.Error())
		}

		mmInstance = mgr

		// The trim service only makes sense for the mmap allocator;
		// the heap allocator has no pages to release.
		var trimmer taskmanager.Trimmer
		if ma, ok := allocator.(*MmapAllocator); ok {
			trimmer = ma
		}
		taskmanager.Start(trimmer, mgr.UsageReport)
	})
}

func GetMemoryManager() *MemoryManager {
	if mmInstance == nil {
		cclog.Fatalf("[MEMPOOL]> MemoryManager not initialized!")
	}

	return mmInstance
}

// Shutdown tears down the singleton: stops the background services
// and uninstalls the default allocator registration.
func Shutdown() {
	if mmInstance != nil {
		taskmanager.Shutdown()
		mmInstance.Shutdown()
	}
}
