// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of cc-mempool.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

var configSchema = `
	{
  "type": "object",
  "properties": {
    "quota-mb": {
      "description": "Global memory quota in megabytes. 0 means practically unlimited.",
      "type": "integer",
      "minimum": 0
    },
    "alignment": {
      "description": "Address alignment for all pools. 0 or 1 disables alignment, otherwise a power of two between 8 and 4096.",
      "type": "integer",
      "minimum": 0
    },
    "allocator": {
      "description": "Which byte allocator backs the pool tree.",
      "type": "string",
      "enum": ["heap", "mmap"]
    },
    "allocator-capacity-mb": {
      "description": "Maximum megabytes the mmap allocator will map. 0 means unbounded. Ignored for the heap allocator.",
      "type": "integer",
      "minimum": 0
    },
    "size-class-pages": {
      "description": "Page counts of the mmap size classes, strictly increasing. Empty selects the built-in default.",
      "type": "array",
      "items": {
        "type": "integer",
        "minimum": 1
      }
    },
    "trim-interval": {
      "description": "Interval for unmapping free-listed size-class pages, parsable by time.ParseDuration. Empty or '0' disables trimming.",
      "type": "string"
    },
    "usage-report-interval": {
      "description": "Interval for logging a usage report of the pool tree. Empty or '0' disables the report.",
      "type": "string"
    }
  },
  "additionalProperties": false
}`
