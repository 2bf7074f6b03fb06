// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package mempool

import (
	"testing"

	"github.com/ClusterCockpit/cc-mempool/pkg/units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMmapSizeClassPath(t *testing.T) {
	allocator, err := NewMmapAllocator(8*units.GB, nil)
	require.NoError(t, err)

	// 6 pages round up to the 8 page class.
	bufs := make([][]byte, 0, 100)
	for range 100 {
		buf, err := allocator.Allocate(6*PageSize, NoAlignment)
		require.NoError(t, err)
		bufs = append(bufs, buf)
	}

	assert.Equal(t, int64(800), allocator.NumAllocated())
	assert.Equal(t, int64(800), allocator.NumMapped())
	assert.Equal(t, int64(0), allocator.NumExternalMapped())

	// Freed runs stay mapped for reuse.
	for _, buf := range bufs {
		allocator.Free(buf)
	}
	assert.Equal(t, int64(0), allocator.NumAllocated())
	assert.Equal(t, int64(800), allocator.NumMapped())

	// The next allocation is served off the free list, nothing new
	// gets mapped.
	buf, err := allocator.Allocate(6*PageSize, NoAlignment)
	require.NoError(t, err)
	assert.Equal(t, int64(8), allocator.NumAllocated())
	assert.Equal(t, int64(800), allocator.NumMapped())
	allocator.Free(buf)

	trimmed := allocator.Trim()
	assert.Equal(t, int64(800), trimmed)
	assert.Equal(t, int64(0), allocator.NumMapped())
}

func TestMmapExternalPath(t *testing.T) {
	allocator, err := NewMmapAllocator(8*units.GB, nil)
	require.NoError(t, err)

	largest := allocator.SizeClasses()[len(allocator.SizeClasses())-1]
	pages := largest + 56

	bufs := make([][]byte, 0, 20)
	for range 20 {
		buf, err := allocator.Allocate(pages*PageSize, NoAlignment)
		require.NoError(t, err)
		bufs = append(bufs, buf)
	}

	assert.Equal(t, 20*pages, allocator.NumAllocated())
	assert.Equal(t, 20*pages, allocator.NumExternalMapped())
	assert.Equal(t, int64(0), allocator.NumMapped())

	// External mappings are released on free.
	for i, buf := range bufs {
		allocator.Free(buf)
		assert.Equal(t, (20-int64(i)-1)*pages, allocator.NumAllocated())
		assert.Equal(t, (20-int64(i)-1)*pages, allocator.NumExternalMapped())
	}
}

func TestMmapClassSelection(t *testing.T) {
	allocator, err := NewMmapAllocator(0, []int64{1, 2, 4})
	require.NoError(t, err)

	buf, err := allocator.Allocate(1, NoAlignment)
	require.NoError(t, err)
	assert.Equal(t, int64(1), allocator.NumAllocated())
	allocator.Free(buf)

	buf, err = allocator.Allocate(PageSize+1, NoAlignment)
	require.NoError(t, err)
	assert.Equal(t, int64(2), allocator.NumAllocated())
	allocator.Free(buf)

	// Above the largest class: external, exactly as many pages as
	// requested.
	buf, err = allocator.Allocate(5*PageSize, NoAlignment)
	require.NoError(t, err)
	assert.Equal(t, int64(5), allocator.NumAllocated())
	assert.Equal(t, int64(5), allocator.NumExternalMapped())
	allocator.Free(buf)
	assert.Equal(t, int64(0), allocator.NumExternalMapped())
}

func TestMmapCapacity(t *testing.T) {
	allocator, err := NewMmapAllocator(16*PageSize, []int64{1, 2, 4, 8, 16})
	require.NoError(t, err)

	buf, err := allocator.Allocate(16*PageSize, NoAlignment)
	require.NoError(t, err)

	_, err = allocator.Allocate(1, NoAlignment)
	require.Error(t, err)
	assert.True(t, IsCapExceeded(err))
	assert.True(t, IsRetriable(err))

	// Freeing keeps the run mapped, so the capacity stays exhausted
	// until a trim.
	allocator.Free(buf)
	_, err = allocator.Allocate(1, NoAlignment)
	require.Error(t, err, "freed size-class pages still count against the capacity")

	allocator.Trim()
	buf, err = allocator.Allocate(1, NoAlignment)
	require.NoError(t, err)
	allocator.Free(buf)
}

func TestMmapReallocate(t *testing.T) {
	allocator, err := NewMmapAllocator(0, nil)
	require.NoError(t, err)

	buf, err := allocator.Allocate(PageSize, NoAlignment)
	require.NoError(t, err)
	buf[0] = 7

	buf, err = allocator.Reallocate(buf, 3*PageSize, NoAlignment)
	require.NoError(t, err)
	assert.Equal(t, byte(7), buf[0])
	assert.Equal(t, int64(4), allocator.NumAllocated())

	allocator.Free(buf)
	assert.Equal(t, int64(0), allocator.NumAllocated())
}

func TestMmapInvalidConfig(t *testing.T) {
	_, err := NewMmapAllocator(0, []int64{})
	assert.Error(t, err)

	_, err = NewMmapAllocator(0, []int64{4, 2, 1})
	assert.Error(t, err)

	_, err = NewMmapAllocator(0, []int64{0, 1})
	assert.Error(t, err)
}

func TestMmapBackedPool(t *testing.T) {
	allocator, err := NewMmapAllocator(1*units.GB, nil)
	require.NoError(t, err)

	mgr, err := NewMemoryManager(1*units.GB, NoAlignment, allocator)
	require.NoError(t, err)
	defer mgr.Shutdown()

	pool := mgr.Root().AddChild("scan", MaxMemory)
	buf, err := pool.Allocate(10 * PageSize)
	require.NoError(t, err)

	assert.Equal(t, int64(16), allocator.NumAllocated())
	assert.Equal(t, 10*PageSize, pool.CurrentBytes())

	pool.Free(buf, 10*PageSize)
	assert.Equal(t, int64(0), allocator.NumAllocated())
	assert.Equal(t, int64(0), pool.CurrentBytes())
}
