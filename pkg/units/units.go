// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Byte quantity formatting for quota diagnostics and error messages.
package units

import "fmt"

const (
	KB int64 = 1 << 10
	MB int64 = 1 << 20
	GB int64 = 1 << 30
	TB int64 = 1 << 40
	PB int64 = 1 << 50
)

var byteSuffixes = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// BytesString returns a compact human readable form of a byte count
// like '63.00MB' or '1.50GB'. Quantities below one kilobyte are printed
// without decimals. Prefixes are 1024-based even though they are written
// without the 'i'.
func BytesString(bytes int64) string {
	if bytes < 0 {
		return "-" + BytesString(-bytes)
	}

	unit := 0
	value := float64(bytes)
	for value >= 1024.0 && unit < len(byteSuffixes)-1 {
		value /= 1024.0
		unit++
	}

	if unit == 0 {
		return fmt.Sprintf("%dB", bytes)
	}
	return fmt.Sprintf("%.2f%s", value, byteSuffixes[unit])
}

// MBString prints a byte count as whole megabytes, the format used by
// the memory manager quota message.
func MBString(bytes int64) string {
	return fmt.Sprintf("%d MB", bytes/MB)
}
