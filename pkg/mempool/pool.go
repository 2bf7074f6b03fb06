// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"math"
	"math/bits"
	"sync"
	"sync/atomic"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-mempool/pkg/units"
)

// MaxMemory marks an unbounded cap or quota.
const MaxMemory int64 = math.MaxInt64

// MemoryPool is an accounting node in the hierarchical memory tree.
// It forwards byte acquisition to the shared allocator, enforces its
// local cap and the manager quota, and keeps flat per-pool statistics:
// current bytes cover only allocations attributed to this pool, not
// its subtree.
//
// Pools are safe for concurrent use. Counters reflect a serialization
// of the calls on each pool.
type MemoryPool struct {
	name      string
	mgr       *MemoryManager
	parent    *MemoryPool
	alignment int64
	capBytes  int64

	lock     sync.Mutex
	children map[*MemoryPool]struct{}
	current  int64
	peak     int64
	tracker  UsageTracker
	closed   bool

	// capped blocks allocation; explicitlyCapped remembers that the
	// cap was addressed to this pool directly, not inherited, so an
	// ancestor's uncap will not clear it.
	capped           atomic.Bool
	explicitlyCapped bool
}

// AddChild creates a child pool with the given diagnostic name. Names
// are not unique and carry no semantics; siblings may share one.
// capBytes bounds the child's own allocations, MaxMemory means
// unbounded. A child born under a capped parent is born capped.
func (p *MemoryPool) AddChild(name string, capBytes int64) *MemoryPool {
	if capBytes <= 0 {
		capBytes = MaxMemory
	}

	child := &MemoryPool{
		name:      name,
		mgr:       p.mgr,
		parent:    p,
		alignment: p.alignment,
		capBytes:  capBytes,
		children:  make(map[*MemoryPool]struct{}),
	}

	// Registration and cap inheritance under the parent lock, so a
	// concurrent cap propagation cannot miss the new child.
	p.lock.Lock()
	if p.capped.Load() {
		child.capped.Store(true)
	}
	p.children[child] = struct{}{}
	p.lock.Unlock()

	return child
}

// VisitChildren calls f once per currently-live child, in no
// particular order.
func (p *MemoryPool) VisitChildren(f func(*MemoryPool)) {
	p.lock.Lock()
	kids := make([]*MemoryPool, 0, len(p.children))
	for c := range p.children {
		kids = append(kids, c)
	}
	p.lock.Unlock()

	for _, c := range kids {
		f(c)
	}
}

// ChildCount returns the number of live children.
func (p *MemoryPool) ChildCount() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.children)
}

func (p *MemoryPool) removeChild(c *MemoryPool) {
	p.lock.Lock()
	delete(p.children, c)
	p.lock.Unlock()
}

func (p *MemoryPool) roundedSize(size int64) int64 {
	if p.alignment <= NoAlignment {
		return size
	}
	return (size + p.alignment - 1) &^ (p.alignment - 1)
}

// reserve runs the checks in order (closed, manual cap, manager
// quota, local cap) and charges the pool counters by n. Nothing is
// modified when any check fails. The attached tracker is only told
// when track is set; Reallocate reports its net effect separately.
func (p *MemoryPool) reserve(n int64, track bool) error {
	p.lock.Lock()
	if p.closed {
		name := p.name
		p.lock.Unlock()
		return newInvalidAllocation(fmt.Sprintf("allocation from closed pool '%s'", name))
	}
	if p.capped.Load() {
		p.lock.Unlock()
		return newCapExceeded("Memory allocation manually capped")
	}
	if err := p.mgr.reserve(n); err != nil {
		p.lock.Unlock()
		return err
	}
	if p.capBytes != MaxMemory && p.current+n >= p.capBytes {
		capBytes := p.capBytes
		p.lock.Unlock()
		p.mgr.release(n)
		return newCapExceeded(fmt.Sprintf("Exceeded memory cap of %s when requesting %s",
			units.BytesString(capBytes), units.BytesString(n)))
	}
	p.current += n
	if p.current > p.peak {
		p.peak = p.current
	}
	if track && p.tracker != nil {
		p.tracker.Update(n)
	}
	p.lock.Unlock()

	return nil
}

func (p *MemoryPool) release(n int64, track bool) {
	p.lock.Lock()
	if p.closed {
		// Close already dropped this pool's bytes from the tally.
		p.lock.Unlock()
		return
	}
	p.current -= n
	if p.current < 0 {
		panic("MEMPOOL/POOL > current bytes went negative")
	}
	if track && p.tracker != nil {
		p.tracker.Update(-n)
	}
	p.lock.Unlock()

	p.mgr.release(n)
}

// Allocate obtains size bytes from the shared allocator, rounded up to
// the pool's alignment. The rounded size is what gets accounted and
// what the returned slice spans.
func (p *MemoryPool) Allocate(size int64) ([]byte, error) {
	if size < 0 {
		return nil, newInvalidAllocation(fmt.Sprintf("negative allocation size %d", size))
	}

	n := p.roundedSize(size)
	if err := p.reserve(n, true); err != nil {
		return nil, err
	}

	buf, err := p.mgr.allocator.Allocate(n, p.alignment)
	if err != nil {
		p.release(n, true)
		return nil, err
	}
	return buf, nil
}

// Free returns an allocation to the allocator and decreases current
// bytes by the rounded amount originally accounted. The peak is
// untouched.
func (p *MemoryPool) Free(buf []byte, size int64) {
	n := p.roundedSize(size)
	p.mgr.allocator.Free(buf)
	p.release(n, true)
}

// Reallocate resizes an allocation, preserving its contents up to the
// smaller of both sizes. Accounting reflects the transient maximum of
// holding both runs, then settles on the net delta. When any cap check
// fails the original allocation is untouched and stays attributed to
// the pool.
func (p *MemoryPool) Reallocate(buf []byte, oldSize, newSize int64) ([]byte, error) {
	if newSize < 0 {
		return nil, newInvalidAllocation(fmt.Sprintf("negative allocation size %d", newSize))
	}

	oldN, newN := p.roundedSize(oldSize), p.roundedSize(newSize)
	if err := p.reserve(newN, false); err != nil {
		return nil, err
	}

	newBuf, err := p.mgr.allocator.Reallocate(buf, newN, p.alignment)
	if err != nil {
		p.release(newN, false)
		return nil, err
	}

	p.lock.Lock()
	if p.closed {
		// A concurrent Close already dropped everything, including
		// the reservation above.
		p.lock.Unlock()
		return newBuf, nil
	}
	p.current -= oldN
	if p.current < 0 {
		panic("MEMPOOL/POOL > current bytes went negative")
	}
	if p.tracker != nil {
		p.tracker.UpdateReallocation(oldN, newN)
	}
	p.lock.Unlock()
	p.mgr.release(oldN)

	return newBuf, nil
}

// Reserve accounts bytes that are managed outside the pool's own
// allocate path. Reserved bytes count against the local cap and the
// manager quota exactly like allocated ones, but the allocator is
// never involved.
func (p *MemoryPool) Reserve(size int64) error {
	if size < 0 {
		return newInvalidAllocation(fmt.Sprintf("negative reservation size %d", size))
	}
	return p.reserve(size, true)
}

// Release undoes a Reserve.
func (p *MemoryPool) Release(size int64) {
	p.release(size, true)
}

// CapMemoryAllocation puts this pool and every descendant into the
// capped state. Allocate and Reallocate fail on a capped pool until a
// matching uncap.
func (p *MemoryPool) CapMemoryAllocation() {
	p.cap(true)
}

func (p *MemoryPool) cap(explicit bool) {
	p.lock.Lock()
	p.capped.Store(true)
	if explicit {
		p.explicitlyCapped = true
	}
	kids := make([]*MemoryPool, 0, len(p.children))
	for c := range p.children {
		kids = append(kids, c)
	}
	p.lock.Unlock()

	for _, c := range kids {
		c.cap(false)
	}
}

// UncapMemoryAllocation clears the capped state on this pool and on
// descendants that were only capped transitively; a descendant that
// was capped directly keeps its own cap and shields its subtree. A
// no-op while the parent remains capped: a subtree cannot escape an
// ancestor's cap.
func (p *MemoryPool) UncapMemoryAllocation() {
	if p.parent != nil && p.parent.IsMemoryCapped() {
		return
	}
	p.uncap(true)
}

func (p *MemoryPool) uncap(force bool) {
	p.lock.Lock()
	if !force && p.explicitlyCapped {
		p.lock.Unlock()
		return
	}
	p.explicitlyCapped = false
	p.capped.Store(false)
	kids := make([]*MemoryPool, 0, len(p.children))
	for c := range p.children {
		kids = append(kids, c)
	}
	p.lock.Unlock()

	for _, c := range kids {
		c.uncap(false)
	}
}

func (p *MemoryPool) IsMemoryCapped() bool {
	return p.capped.Load()
}

// SetMemoryUsageTracker attaches t, moving this pool's outstanding
// bytes from the previously attached tracker to t. No bytes are double
// counted or lost; the pool's own counters are unchanged. Idempotent
// when t is already attached.
func (p *MemoryPool) SetMemoryUsageTracker(t UsageTracker) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.tracker == t {
		return
	}
	if p.tracker != nil && p.current > 0 {
		p.tracker.Update(-p.current)
	}
	if t != nil && p.current > 0 {
		t.Update(p.current)
	}
	p.tracker = t
}

// CurrentBytes returns the outstanding bytes attributed to this pool.
func (p *MemoryPool) CurrentBytes() int64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.current
}

// MaxBytes returns the high-water mark of CurrentBytes since creation.
func (p *MemoryPool) MaxBytes() int64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.peak
}

func (p *MemoryPool) Name() string {
	return p.name
}

func (p *MemoryPool) Parent() *MemoryPool {
	return p.parent
}

func (p *MemoryPool) Alignment() int64 {
	return p.alignment
}

// Cap returns the local byte cap, MaxMemory if unbounded.
func (p *MemoryPool) Cap() int64 {
	return p.capBytes
}

// Close detaches the pool from its parent and releases any bytes still
// attributed to it from the manager tally and the attached tracker.
// The tracker keeps its historical peak. Idempotent. The parent's
// state stays valid for still-living descendants; closing a pool with
// live children is flagged but not prevented. Close on the root pool
// has no effect; the root lives as long as its manager.
func (p *MemoryPool) Close() {
	if p.parent == nil {
		cclog.Warnf("[MEMPOOL]> ignoring close of root pool '%s'", p.name)
		return
	}

	p.lock.Lock()
	if p.closed {
		p.lock.Unlock()
		return
	}
	p.closed = true
	if len(p.children) > 0 {
		cclog.Warnf("[MEMPOOL]> closing pool '%s' with %d live children", p.name, len(p.children))
	}
	outstanding := p.current
	if p.tracker != nil && outstanding > 0 {
		p.tracker.Update(-outstanding)
	}
	p.current = 0
	p.lock.Unlock()

	if outstanding > 0 {
		p.mgr.release(outstanding)
	}
	if p.parent != nil {
		p.parent.removeChild(p)
	}
}

// PreferredSize rounds a caller-chosen buffer capacity up to a size
// the allocation stack serves without waste: the next power of two, or
// three halves of the previous one if that suffices. The floor is 8,
// the ceiling saturates at 2^63.
func PreferredSize(size uint64) uint64 {
	if size < 8 {
		return 8
	}
	if size >= 1<<63 {
		return 1 << 63
	}

	lower := uint64(1) << (63 - bits.LeadingZeros64(size))
	if lower == size {
		return size
	}
	if mid := lower + lower/2; size <= mid {
		return mid
	}
	return lower << 1
}
