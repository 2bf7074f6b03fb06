// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package mempool

import (
	"testing"

	"github.com/ClusterCockpit/cc-mempool/pkg/units"
)

func TestManagerDefaults(t *testing.T) {
	mgr, err := NewMemoryManager(0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Shutdown()

	if mgr.Quota() != MaxMemory {
		t.Error("a zero quota must mean practically unlimited")
	}
	if _, ok := mgr.Allocator().(*HeapAllocator); !ok {
		t.Error("a nil allocator must select the heap allocator")
	}
	if mgr.Root() == nil || mgr.Root().Parent() != nil {
		t.Error("the root pool must exist and have no parent")
	}
	if mgr.Root().Name() != "root" {
		t.Errorf("root pool name: %s", mgr.Root().Name())
	}
}

func TestManagerAllocatorRegistry(t *testing.T) {
	allocator := NewHeapAllocator()
	mgr, err := NewMemoryManager(0, 0, allocator)
	if err != nil {
		t.Fatal(err)
	}

	if DefaultAllocator() != Allocator(allocator) {
		t.Error("manager construction must install the default allocator")
	}

	mgr.Shutdown()
	if DefaultAllocator() != nil {
		t.Error("manager shutdown must uninstall the default allocator")
	}
}

func TestManagerQuotaTally(t *testing.T) {
	mgr := testManager(t, 10*units.MB)

	a := mgr.Root().AddChild("a", MaxMemory)
	b := mgr.Root().AddChild("b", MaxMemory)

	bufA, err := a.Allocate(4 * units.MB)
	if err != nil {
		t.Fatal(err)
	}
	bufB, err := b.Allocate(4 * units.MB)
	if err != nil {
		t.Fatal(err)
	}
	if mgr.TotalBytes() != 8*units.MB {
		t.Errorf("manager tally: %d", mgr.TotalBytes())
	}

	if _, err := a.Allocate(4 * units.MB); !IsCapExceeded(err) {
		t.Error("the tally must gate further allocation")
	}

	a.Free(bufA, 4*units.MB)
	b.Free(bufB, 4*units.MB)
	if mgr.TotalBytes() != 0 {
		t.Errorf("manager tally after frees: %d", mgr.TotalBytes())
	}
}

func TestRootAllocatesAgainstQuota(t *testing.T) {
	mgr := testManager(t, 127*units.MB)

	_, err := mgr.Root().Allocate(128 * units.MB)
	if err == nil || err.Error() != "Exceeded memory manager cap of 127 MB" {
		t.Errorf("root allocation above quota: %v", err)
	}

	buf, err := mgr.Root().Allocate(64 * units.MB)
	if err != nil {
		t.Fatal(err)
	}
	mgr.Root().Free(buf, 64*units.MB)
}
