// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"
	"math"
	"unsafe"
)

// PoolAllocator adapts a MemoryPool to typed slice allocation for
// container-style callers. It is a small value type; copies share the
// underlying pool. Requests whose element count times element size
// would overflow the representable 63-bit range are refused.
type PoolAllocator[T any] struct {
	pool *MemoryPool
}

func NewPoolAllocator[T any](pool *MemoryPool) PoolAllocator[T] {
	return PoolAllocator[T]{pool: pool}
}

func (a PoolAllocator[T]) Pool() *MemoryPool {
	return a.pool
}

// Allocate returns a slice of n elements backed by pool memory.
func (a PoolAllocator[T]) Allocate(n int64) ([]T, error) {
	var zero T
	elem := int64(unsafe.Sizeof(zero))

	if n < 0 || (elem > 0 && n > math.MaxInt64/elem) {
		return nil, newInvalidAllocation(
			fmt.Sprintf("cannot allocate %d elements of %d bytes", n, elem))
	}
	if n == 0 || elem == 0 {
		return make([]T, n), nil
	}

	buf, err := a.pool.Allocate(n * elem)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(buf))), n), nil
}

// Deallocate returns a slice previously obtained from Allocate with
// the same element count.
func (a PoolAllocator[T]) Deallocate(s []T, n int64) {
	var zero T
	elem := int64(unsafe.Sizeof(zero))

	if n < 0 || (elem > 0 && n > math.MaxInt64/elem) {
		panic("MEMPOOL/ALLOCATOR > deallocation size overflow")
	}
	if n == 0 || elem == 0 {
		return
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), n*elem)
	a.pool.Free(buf, n*elem)
}
