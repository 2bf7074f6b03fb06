// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taskmanager

import (
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-mempool/internal/config"
	"github.com/go-co-op/gocron/v2"
)

var s gocron.Scheduler

// Trimmer is implemented by allocators that can release unused pages.
type Trimmer interface {
	Trim() int64
}

func parseDuration(str string) (time.Duration, error) {
	interval, err := time.ParseDuration(str)
	if err != nil {
		cclog.Warnf("[TASKMANAGER]> Could not parse duration: %v", str)
		return 0, err
	}

	return interval, nil
}

// Start registers the background services enabled in the config and
// starts the scheduler. trimmer may be nil when the allocator has no
// pages to trim; report may be nil to disable the usage report.
func Start(trimmer Trimmer, report func()) {
	var err error
	s, err = gocron.NewScheduler()
	if err != nil {
		cclog.Abortf("Taskmanager Start: Could not create gocron scheduler.\nError: %s\n", err.Error())
	}

	if trimmer != nil && config.Keys.TrimInterval != "" && config.Keys.TrimInterval != "0" {
		RegisterTrimService(config.Keys.TrimInterval, trimmer)
	}

	if report != nil && config.Keys.UsageReportInterval != "" && config.Keys.UsageReportInterval != "0" {
		RegisterUsageReportService(config.Keys.UsageReportInterval, report)
	}

	s.Start()
}

func Shutdown() {
	if s != nil {
		if err := s.Shutdown(); err != nil {
			cclog.Errorf("[TASKMANAGER]> Shutdown failed: %s", err.Error())
		}
	}
}
