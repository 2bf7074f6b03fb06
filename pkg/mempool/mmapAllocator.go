// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"unsafe"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ClusterCockpit/cc-mempool/pkg/units"
	"golang.org/x/sys/unix"
)

// PageSize is the unit of the mmap allocator's bookkeeping. All page
// counters below count units of this size, independent of the system
// page size.
const PageSize int64 = 4096

// DefaultSizeClasses are the page counts of the size-class pool.
// Allocations above the largest class go through the external path and
// get their own mapping.
var DefaultSizeClasses = []int64{1, 2, 4, 8, 16, 32, 64, 128, 256}

// A single mmap'ed page run. Runs from the size-class pool keep their
// mapping when freed and go onto a free list; external runs are
// unmapped immediately.
type mmapRun struct {
	data  []byte
	pages int64
	class int64 // 0 for external runs
}

// MmapAllocator is a page-class allocator over anonymous private
// mappings. It refuses to map more than capacity bytes in total,
// size-class pool and external path combined.
type MmapAllocator struct {
	capacity    int64
	sizeClasses []int64

	lock sync.Mutex
	free map[int64][]*mmapRun
	runs map[uintptr]*mmapRun

	numAllocated      atomic.Int64
	numMapped         atomic.Int64
	numExternalMapped atomic.Int64
}

// NewMmapAllocator creates an allocator that will map at most capacity
// bytes. A capacity of zero or below means unbounded. sizeClasses must
// be a strictly increasing list of page counts; nil selects
// DefaultSizeClasses.
func NewMmapAllocator(capacity int64, sizeClasses []int64) (*MmapAllocator, error) {
	if sizeClasses == nil {
		sizeClasses = DefaultSizeClasses
	}
	if len(sizeClasses) == 0 {
		return nil, newInvalidAllocation("empty size class list")
	}
	for i, sc := range sizeClasses {
		if sc <= 0 || (i > 0 && sc <= sizeClasses[i-1]) {
			return nil, newInvalidAllocation(
				fmt.Sprintf("size classes must be positive and strictly increasing, got %v", sizeClasses))
		}
	}

	if capacity <= 0 {
		capacity = MaxMemory
	}

	return &MmapAllocator{
		capacity:    capacity,
		sizeClasses: slices.Clone(sizeClasses),
		free:        make(map[int64][]*mmapRun),
		runs:        make(map[uintptr]*mmapRun),
	}, nil
}

// SizeClasses returns the configured page-count classes.
func (a *MmapAllocator) SizeClasses() []int64 {
	return slices.Clone(a.sizeClasses)
}

// NumAllocated is the number of pages currently issued to callers,
// via either path.
func (a *MmapAllocator) NumAllocated() int64 {
	return a.numAllocated.Load()
}

// NumMapped is the number of pages currently mapped in the size-class
// pool, issued or on a free list.
func (a *MmapAllocator) NumMapped() int64 {
	return a.numMapped.Load()
}

// NumExternalMapped is the number of pages currently mapped via the
// external path.
func (a *MmapAllocator) NumExternalMapped() int64 {
	return a.numExternalMapped.Load()
}

func pagesFor(size int64) int64 {
	return (size + PageSize - 1) / PageSize
}

// Smallest size class that holds the given page count. The second
// return value is false if the request exceeds the largest class.
func (a *MmapAllocator) classFor(pages int64) (int64, bool) {
	for _, sc := range a.sizeClasses {
		if sc >= pages {
			return sc, true
		}
	}
	return 0, false
}

func (a *MmapAllocator) mappedBytesLocked() int64 {
	return (a.numMapped.Load() + a.numExternalMapped.Load()) * PageSize
}

func (a *MmapAllocator) Allocate(size int64, alignment int64) ([]byte, error) {
	if size < 0 {
		return nil, newInvalidAllocation(fmt.Sprintf("negative allocation size %d", size))
	}
	if alignment > PageSize {
		return nil, newInvalidAllocation(
			fmt.Sprintf("alignment %d above page size %d", alignment, PageSize))
	}
	if size == 0 {
		return []byte{}, nil
	}

	pages := pagesFor(size)

	a.lock.Lock()
	defer a.lock.Unlock()

	if class, ok := a.classFor(pages); ok {
		run, err := a.popRunLocked(class)
		if err != nil {
			return nil, err
		}
		a.numAllocated.Add(class)
		return run.data[:size:size], nil
	}

	// External path: one independent mapping of exactly `pages` pages.
	run, err := a.mapRunLocked(pages, 0)
	if err != nil {
		return nil, err
	}
	a.numExternalMapped.Add(pages)
	a.numAllocated.Add(pages)
	return run.data[:size:size], nil
}

// popRunLocked takes a run of the given class off the free list,
// mapping a new one only if the list is empty.
func (a *MmapAllocator) popRunLocked(class int64) (*mmapRun, error) {
	if list := a.free[class]; len(list) > 0 {
		run := list[len(list)-1]
		a.free[class] = list[:len(list)-1]
		return run, nil
	}

	run, err := a.mapRunLocked(class, class)
	if err != nil {
		return nil, err
	}
	a.numMapped.Add(class)
	return run, nil
}

func (a *MmapAllocator) mapRunLocked(pages int64, class int64) (*mmapRun, error) {
	if a.capacity != MaxMemory && a.mappedBytesLocked()+pages*PageSize > a.capacity {
		return nil, newCapExceeded(fmt.Sprintf(
			"Exceeded memory allocator capacity of %s when requesting %s",
			units.BytesString(a.capacity), units.BytesString(pages*PageSize)))
	}

	data, err := unix.Mmap(-1, 0, int(pages*PageSize),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, newCapExceeded(fmt.Sprintf("mmap of %d pages failed: %s", pages, err.Error()))
	}

	run := &mmapRun{data: data, pages: pages, class: class}
	a.runs[runBase(data)] = run
	return run, nil
}

func (a *MmapAllocator) Free(buf []byte) {
	if len(buf) == 0 {
		return
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	run, ok := a.runs[runBase(buf)]
	if !ok {
		panic("MEMPOOL/MMAP > free of unknown mapping")
	}

	if run.class > 0 {
		// Pages stay mapped for reuse until Trim.
		a.free[run.class] = append(a.free[run.class], run)
		a.numAllocated.Add(-run.class)
		return
	}

	delete(a.runs, runBase(run.data))
	a.numAllocated.Add(-run.pages)
	a.numExternalMapped.Add(-run.pages)
	if err := unix.Munmap(run.data); err != nil {
		cclog.Warnf("[MEMPOOL]> munmap of %d pages failed: %s", run.pages, err.Error())
	}
}

func (a *MmapAllocator) Reallocate(buf []byte, newSize int64, alignment int64) ([]byte, error) {
	newBuf, err := a.Allocate(newSize, alignment)
	if err != nil {
		return nil, err
	}
	copy(newBuf, buf)
	a.Free(buf)
	return newBuf, nil
}

// Trim unmaps all free-listed size-class runs and returns the number
// of pages released. Issued runs and external mappings are untouched.
func (a *MmapAllocator) Trim() int64 {
	a.lock.Lock()
	defer a.lock.Unlock()

	trimmed := int64(0)
	for class, list := range a.free {
		for _, run := range list {
			delete(a.runs, runBase(run.data))
			if err := unix.Munmap(run.data); err != nil {
				cclog.Warnf("[MEMPOOL]> munmap of %d pages failed: %s", run.pages, err.Error())
			}
			trimmed += run.pages
		}
		a.numMapped.Add(-int64(len(list)) * class)
		delete(a.free, class)
	}
	return trimmed
}

func runBase(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
}
