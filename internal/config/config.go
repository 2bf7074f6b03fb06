// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"strconv"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/joho/godotenv"
)

type MemoryConfig struct {
	// Global quota in megabytes, 0 = practically unlimited
	QuotaMB int64 `json:"quota-mb"`

	// Address alignment for all pools: 0/1 = none, else a power of
	// two between 8 and 4096
	Alignment int64 `json:"alignment"`

	// "heap" or "mmap"
	Allocator string `json:"allocator"`

	// Maximum bytes the mmap allocator will map, in megabytes,
	// 0 = unbounded. Ignored for the heap allocator.
	AllocatorCapacityMB int64 `json:"allocator-capacity-mb"`

	// Page counts of the mmap size classes, strictly increasing.
	// Empty selects the built-in default.
	SizeClassPages []int64 `json:"size-class-pages"`

	// Interval for unmapping free-listed size-class pages,
	// parsable by time.ParseDuration. Empty or "0" disables.
	TrimInterval string `json:"trim-interval"`

	// Interval for logging a usage report of the pool tree.
	// Empty or "0" disables.
	UsageReportInterval string `json:"usage-report-interval"`
}

var Keys MemoryConfig = MemoryConfig{
	Allocator:    "heap",
	TrimInterval: "10m",
}

func Init(rawConfig json.RawMessage) {
	if rawConfig != nil {
		Validate(configSchema, rawConfig)
		dec := json.NewDecoder(bytes.NewReader(rawConfig))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&Keys); err != nil {
			cclog.Abortf("[CONFIG]> Could not decode config.\nError: %s\n", err.Error())
		}
	}

	loadEnvOverrides()
}

// Development and test overrides. A .env file in the working directory
// is loaded first if present, then CCMEMPOOL_* variables take
// precedence over the JSON document.
func loadEnvOverrides() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		cclog.Warnf("[CONFIG]> Could not load .env file: %s", err.Error())
	}

	if v := os.Getenv("CCMEMPOOL_QUOTA_MB"); v != "" {
		if quota, err := strconv.ParseInt(v, 10, 64); err == nil {
			Keys.QuotaMB = quota
		} else {
			cclog.Warnf("[CONFIG]> Ignoring bad CCMEMPOOL_QUOTA_MB '%s'", v)
		}
	}
	if v := os.Getenv("CCMEMPOOL_ALLOCATOR"); v != "" {
		Keys.Allocator = v
	}
	if v := os.Getenv("CCMEMPOOL_TRIM_INTERVAL"); v != "" {
		Keys.TrimInterval = v
	}
}
