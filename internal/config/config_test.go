// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func resetKeys() {
	Keys = MemoryConfig{
		Allocator:    "heap",
		TrimInterval: "10m",
	}
}

func TestInitDefaults(t *testing.T) {
	resetKeys()
	Init(nil)

	assert.Equal(t, "heap", Keys.Allocator)
	assert.Equal(t, int64(0), Keys.QuotaMB)
	assert.Equal(t, "10m", Keys.TrimInterval)
}

func TestInit(t *testing.T) {
	resetKeys()
	raw := json.RawMessage(`{
		"quota-mb": 8192,
		"alignment": 64,
		"allocator": "mmap",
		"allocator-capacity-mb": 4096,
		"size-class-pages": [1, 2, 4, 8],
		"trim-interval": "5m",
		"usage-report-interval": "1h"
	}`)
	Init(raw)

	assert.Equal(t, int64(8192), Keys.QuotaMB)
	assert.Equal(t, int64(64), Keys.Alignment)
	assert.Equal(t, "mmap", Keys.Allocator)
	assert.Equal(t, int64(4096), Keys.AllocatorCapacityMB)
	assert.Equal(t, []int64{1, 2, 4, 8}, Keys.SizeClassPages)
	assert.Equal(t, "5m", Keys.TrimInterval)
	assert.Equal(t, "1h", Keys.UsageReportInterval)
}

func TestEnvOverrides(t *testing.T) {
	resetKeys()
	t.Setenv("CCMEMPOOL_QUOTA_MB", "2048")
	t.Setenv("CCMEMPOOL_ALLOCATOR", "mmap")

	Init(json.RawMessage(`{"quota-mb": 512}`))

	assert.Equal(t, int64(2048), Keys.QuotaMB, "environment must win over the JSON document")
	assert.Equal(t, "mmap", Keys.Allocator)
}

func TestEnvOverrideBadValue(t *testing.T) {
	resetKeys()
	t.Setenv("CCMEMPOOL_QUOTA_MB", "not-a-number")

	Init(json.RawMessage(`{"quota-mb": 512}`))

	assert.Equal(t, int64(512), Keys.QuotaMB, "bad environment values are ignored")
}
