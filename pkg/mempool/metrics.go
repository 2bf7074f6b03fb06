// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MemPoolCollector exposes a manager's pool tree and allocator
// counters as prometheus metrics. Pools are labeled by their slash
// separated path from the root; same-named siblings are summed, as
// names carry no identity.
type MemPoolCollector struct {
	mgr *MemoryManager

	currentBytes *prometheus.Desc
	peakBytes    *prometheus.Desc
	totalBytes   *prometheus.Desc
	quotaBytes   *prometheus.Desc

	allocatedPages      *prometheus.Desc
	mappedPages         *prometheus.Desc
	externalMappedPages *prometheus.Desc
}

func NewMemPoolCollector(mgr *MemoryManager) *MemPoolCollector {
	return &MemPoolCollector{
		mgr: mgr,
		currentBytes: prometheus.NewDesc("ccmempool_pool_current_bytes",
			"Outstanding bytes attributed to the pool", []string{"pool"}, nil),
		peakBytes: prometheus.NewDesc("ccmempool_pool_peak_bytes",
			"High-water mark of the pool's current bytes", []string{"pool"}, nil),
		totalBytes: prometheus.NewDesc("ccmempool_manager_total_bytes",
			"Bytes accounted across the whole pool tree", nil, nil),
		quotaBytes: prometheus.NewDesc("ccmempool_manager_quota_bytes",
			"Global byte quota of the memory manager", nil, nil),
		allocatedPages: prometheus.NewDesc("ccmempool_mmap_allocated_pages",
			"Pages currently issued via size-class and external paths", nil, nil),
		mappedPages: prometheus.NewDesc("ccmempool_mmap_mapped_pages",
			"Pages currently mapped in the size-class pool", nil, nil),
		externalMappedPages: prometheus.NewDesc("ccmempool_mmap_external_mapped_pages",
			"Pages currently mapped via the external path", nil, nil),
	}
}

func (c *MemPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.currentBytes
	ch <- c.peakBytes
	ch <- c.totalBytes
	ch <- c.quotaBytes
	ch <- c.allocatedPages
	ch <- c.mappedPages
	ch <- c.externalMappedPages
}

func (c *MemPoolCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.totalBytes, prometheus.GaugeValue,
		float64(c.mgr.TotalBytes()))
	if q := c.mgr.Quota(); q != MaxMemory {
		ch <- prometheus.MustNewConstMetric(c.quotaBytes, prometheus.GaugeValue, float64(q))
	}

	type poolStats struct{ current, peak int64 }
	stats := map[string]*poolStats{}

	var walk func(p *MemoryPool, path string)
	walk = func(p *MemoryPool, path string) {
		s := stats[path]
		if s == nil {
			s = &poolStats{}
			stats[path] = s
		}
		s.current += p.CurrentBytes()
		s.peak += p.MaxBytes()
		p.VisitChildren(func(child *MemoryPool) {
			walk(child, path+"/"+child.Name())
		})
	}
	walk(c.mgr.Root(), c.mgr.Root().Name())

	for path, s := range stats {
		ch <- prometheus.MustNewConstMetric(c.currentBytes, prometheus.GaugeValue,
			float64(s.current), path)
		ch <- prometheus.MustNewConstMetric(c.peakBytes, prometheus.GaugeValue,
			float64(s.peak), path)
	}

	if ma, ok := c.mgr.Allocator().(*MmapAllocator); ok {
		ch <- prometheus.MustNewConstMetric(c.allocatedPages, prometheus.GaugeValue,
			float64(ma.NumAllocated()))
		ch <- prometheus.MustNewConstMetric(c.mappedPages, prometheus.GaugeValue,
			float64(ma.NumMapped()))
		ch <- prometheus.MustNewConstMetric(c.externalMappedPages, prometheus.GaugeValue,
			float64(ma.NumExternalMapped()))
	}
}
