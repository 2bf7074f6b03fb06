// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"sync/atomic"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-mempool/pkg/units"
)

// MemoryManager is the root holder of a pool tree: it owns the global
// byte quota, the shared allocator and the root pool. The root pool is
// unbounded from the user's view; the quota is enforced through the
// manager's global tally, atomically with respect to all pools in the
// tree.
type MemoryManager struct {
	quota     int64
	alignment int64
	allocator Allocator
	root      *MemoryPool
	total     atomic.Int64
}

// NewMemoryManager constructs a manager with the given global quota in
// bytes (MaxMemory or anything non-positive means practically
// unlimited). alignment applies to every pool of the tree: NoAlignment
// or a power of two between MinAlignment and MaxAlignment; zero
// selects NoAlignment. A nil allocator selects the heap allocator. The
// allocator is installed as the process default until Shutdown.
func NewMemoryManager(quota int64, alignment int64, allocator Allocator) (*MemoryManager, error) {
	if quota <= 0 {
		quota = MaxMemory
	}
	if alignment == 0 {
		alignment = NoAlignment
	}
	if !validAlignment(alignment) {
		return nil, newInvalidAllocation(fmt.Sprintf("invalid alignment %d", alignment))
	}
	if allocator == nil {
		allocator = NewHeapAllocator()
	}

	m := &MemoryManager{
		quota:     quota,
		alignment: alignment,
		allocator: allocator,
	}
	m.root = &MemoryPool{
		name:      "root",
		mgr:       m,
		alignment: alignment,
		capBytes:  MaxMemory,
		children:  make(map[*MemoryPool]struct{}),
	}

	SetDefaultAllocator(allocator)
	return m, nil
}

// Root returns the root pool. It lives as long as the manager; it is
// not destroyable through Close while the manager is in use.
func (m *MemoryManager) Root() *MemoryPool {
	return m.root
}

func (m *MemoryManager) Allocator() Allocator {
	return m.allocator
}

// Quota returns the global byte quota, MaxMemory if unlimited.
func (m *MemoryManager) Quota() int64 {
	return m.quota
}

// TotalBytes returns the bytes currently accounted across the whole
// tree, allocations and reservations combined.
func (m *MemoryManager) TotalBytes() int64 {
	return m.total.Load()
}

func (m *MemoryManager) reserve(n int64) error {
	if m.quota == MaxMemory {
		m.total.Add(n)
		return nil
	}
	for {
		cur := m.total.Load()
		if cur+n > m.quota {
			return newCapExceeded(fmt.Sprintf("Exceeded memory manager cap of %s",
				units.MBString(m.quota)))
		}
		if m.total.CompareAndSwap(cur, cur+n) {
			return nil
		}
	}
}

func (m *MemoryManager) release(n int64) {
	if m.total.Add(-n) < 0 {
		panic("MEMPOOL/MANAGER > global tally went negative")
	}
}

// UsageReport logs the usage of every pool in the tree, for chasing
// down which operator holds memory.
func (m *MemoryManager) UsageReport() {
	cclog.Infof("[MEMPOOL]> Memory usage: %s total, quota %s",
		units.BytesString(m.TotalBytes()), units.BytesString(m.Quota()))
	reportPool(m.root, "")
}

func reportPool(p *MemoryPool, indent string) {
	cclog.Infof("[MEMPOOL]> %s%s: current %s, peak %s",
		indent, p.Name(), units.BytesString(p.CurrentBytes()), units.BytesString(p.MaxBytes()))
	p.VisitChildren(func(child *MemoryPool) {
		reportPool(child, indent+"  ")
	})
}

// Shutdown uninstalls the manager's allocator from the process default
// registry. Pools of this tree must not be used afterwards.
func (m *MemoryManager) Shutdown() {
	clearDefaultAllocator(m.allocator)
}
