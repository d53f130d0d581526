// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package output writes result rows.  The final table is TSV, optionally
// bgzipped; per-worker partial results are zstd-compressed recordio files.
package output

import (
	"math"
	"strconv"
)

// NoValue is how a missing value is rendered in text output.
const NoValue = "."

// Row is the result for one input row: its original fields followed by one
// value per output column.  NaN values are missing.
type Row struct {
	// Index is the 0-based position of the row in the input table.
	Index  int
	Fields []string
	Values []float64
}

// Sink receives the header and then the rows of one table.
type Sink interface {
	// WriteHeader must be called once, before any Write.
	WriteHeader(header []string) error
	Write(r *Row) error
	// Close flushes the output.  It must be called exactly once.
	Close() error
}

// FormatValue renders v in the shortest form that parses back to v.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return NoValue
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParseValue is the inverse of FormatValue.
func ParseValue(s string) (float64, error) {
	if s == NoValue {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
