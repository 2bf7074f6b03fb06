// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taskmanager

import (
	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"
)

// RegisterUsageReportService periodically invokes report, which logs
// the usage of every pool in the tree, for chasing down which operator
// holds memory.
func RegisterUsageReportService(interval string, report func()) {
	d, err := parseDuration(interval)
	if err != nil || d == 0 {
		return
	}

	cclog.Infof("[TASKMANAGER]> Register usage report service with interval %s", interval)
	s.NewJob(gocron.DurationJob(d), gocron.NewTask(report))
}
