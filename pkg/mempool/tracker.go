// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mempool

import "sync"

// UsageTracker aggregates byte deltas along a logical hierarchy that
// is independent of the pool tree. A tracker shared across sibling
// pools gives a combined view at query scope without affecting pool
// ownership. Trackers outlive the pools that feed them: a closed pool
// releases its outstanding bytes, the peak stays.
type UsageTracker interface {
	// Update applies a signed byte delta.
	Update(delta int64)

	// UpdateReallocation reports the effect of one reallocation,
	// so that variants can treat growth and shrinkage differently.
	UpdateReallocation(oldSize, newSize int64)

	CurrentUserBytes() int64
	PeakTotalBytes() int64
}

// MemoryUsageTracker is the full accounting variant: deltas of both
// signs adjust the current count, the peak is the high-water mark.
// Deltas propagate to the parent tracker if one is set.
type MemoryUsageTracker struct {
	parent UsageTracker

	lock    sync.Mutex
	current int64
	peak    int64
}

func NewMemoryUsageTracker(parent UsageTracker) *MemoryUsageTracker {
	return &MemoryUsageTracker{parent: parent}
}

func (t *MemoryUsageTracker) Update(delta int64) {
	t.lock.Lock()
	t.current += delta
	if t.current < 0 {
		panic("MEMPOOL/TRACKER > tracked bytes went negative")
	}
	if t.current > t.peak {
		t.peak = t.current
	}
	t.lock.Unlock()

	if t.parent != nil {
		t.parent.Update(delta)
	}
}

func (t *MemoryUsageTracker) UpdateReallocation(oldSize, newSize int64) {
	t.Update(newSize - oldSize)
}

func (t *MemoryUsageTracker) CurrentUserBytes() int64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.current
}

func (t *MemoryUsageTracker) PeakTotalBytes() int64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.peak
}

// SimpleUsageTracker is the additive-only variant: it counts
// allocations and explicit frees but ignores the shrinking side of
// reallocations. Useful where only the grown footprint matters.
type SimpleUsageTracker struct {
	parent UsageTracker

	lock    sync.Mutex
	current int64
	peak    int64
}

func NewSimpleUsageTracker(parent UsageTracker) *SimpleUsageTracker {
	return &SimpleUsageTracker{parent: parent}
}

func (t *SimpleUsageTracker) Update(delta int64) {
	t.lock.Lock()
	t.current += delta
	if t.current > t.peak {
		t.peak = t.current
	}
	t.lock.Unlock()

	if t.parent != nil {
		t.parent.Update(delta)
	}
}

func (t *SimpleUsageTracker) UpdateReallocation(oldSize, newSize int64) {
	if newSize > oldSize {
		t.Update(newSize - oldSize)
	}
}

func (t *SimpleUsageTracker) CurrentUserBytes() int64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.current
}

func (t *SimpleUsageTracker) PeakTotalBytes() int64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.peak
}
