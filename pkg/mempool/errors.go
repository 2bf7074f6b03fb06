// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mempool

import "errors"

// ErrorSource tags where an error was raised. Everything in this
// package is raised at runtime, during query execution.
type ErrorSource string

// ErrorCode classifies an error independent of its message.
type ErrorCode string

const (
	SourceRuntime ErrorSource = "RUNTIME"

	// A local cap, the manager quota, a manual cap or the allocator
	// capacity was hit. Retriable: the caller may free memory or spill
	// and try again.
	MemCapExceeded ErrorCode = "MEM_CAP_EXCEEDED"

	// The request is invalid: a size that cannot be represented
	// (negative, or element count times element size beyond 63 bits),
	// an allocation from a closed pool, or an invalid alignment or size
	// class configuration. Not retriable.
	MemAllocInvalid ErrorCode = "INVALID_MEMORY_ALLOCATION"
)

// MemoryError is the error type raised by pools, managers and
// allocators. The message formats for cap errors are fixed and parsed
// by operators downstream, do not change them.
type MemoryError struct {
	Source    ErrorSource
	Code      ErrorCode
	Message   string
	Retriable bool
}

func (e *MemoryError) Error() string {
	return e.Message
}

func newCapExceeded(msg string) *MemoryError {
	return &MemoryError{
		Source:    SourceRuntime,
		Code:      MemCapExceeded,
		Message:   msg,
		Retriable: true,
	}
}

func newInvalidAllocation(msg string) *MemoryError {
	return &MemoryError{
		Source:    SourceRuntime,
		Code:      MemAllocInvalid,
		Message:   msg,
		Retriable: false,
	}
}

// IsCapExceeded reports whether err is a cap-exceeded failure from any
// of the three cap checks (local, global, manual) or the allocator
// capacity.
func IsCapExceeded(err error) bool {
	var me *MemoryError
	return errors.As(err, &me) && me.Code == MemCapExceeded
}

// IsRetriable reports whether the operation that produced err may be
// retried after freeing up memory.
func IsRetriable(err error) bool {
	var me *MemoryError
	return errors.As(err, &me) && me.Retriable
}
