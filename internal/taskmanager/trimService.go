// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package taskmanager

import (
	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"
)

// RegisterTrimService periodically releases unused pages held by the
// allocator's free lists.
func RegisterTrimService(interval string, trimmer Trimmer) {
	d, err := parseDuration(interval)
	if err != nil || d == 0 {
		return
	}

	cclog.Infof("[TASKMANAGER]> Register allocator trim service with interval %s", interval)
	s.NewJob(gocron.DurationJob(d),
		gocron.NewTask(func() {
			if pages := trimmer.Trim(); pages > 0 {
				cclog.Debugf("[TASKMANAGER]> Trimmed %d unused pages", pages)
			}
		}))
}
