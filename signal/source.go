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
package signal

import (
	"fmt"
	"strings"

	"github.com/grailbio/binsum/coord"
)

// ValueType selects what a source reports for each observation.
type ValueType int

const (
	// Score reports the stored score (BigWig/database values) or per-base
	// coverage (alignments).
	Score ValueType = iota
	// Count reports 1 per feature or alignment whose 5' end lies in the
	// queried region.
	Count
	// PCount ("precise count") is Count restricted to features or alignments
	// entirely contained in the queried region.
	PCount
	// Length reports the length of each feature or alignment, at its midpoint.
	Length
)

var valueTypeNames = [...]string{"score", "count", "pcount", "length"}

func (v ValueType) String() string {
	if v < Score || v > Length {
		return fmt.Sprintf("ValueType(%d)", int(v))
	}
	return valueTypeNames[v]
}

// ParseValueType parses the name of a ValueType.
func ParseValueType(s string) (ValueType, error) {
	for i, name := range valueTypeNames {
		if strings.EqualFold(s, name) {
			return ValueType(i), nil
		}
	}
	return Score, fmt.Errorf("signal.ParseValueType: unknown value type %q", s)
}

// Point is a single observation returned by a query.
type Point struct {
	// Pos is the 1-based chromosome position the value is attributed to.
	Pos int
	// Value is the observed value.
	Value float64
	// Strand is the strand of the underlying observation, or StrandNone if the
	// source is unstranded.
	Strand coord.Strand
}

// Query describes one region lookup.
type Query struct {
	Region coord.Region
	// Strand, if not StrandNone, restricts results to observations on that
	// strand.  Unstranded observations are always returned.
	Strand    coord.Strand
	ValueType ValueType
}

// Keep reports whether a point passes the query's strand restriction.
func (q Query) Keep(p Point) bool {
	return q.Strand == coord.StrandNone || p.Strand == coord.StrandNone || p.Strand == q.Strand
}

// Source is a handle to one signal dataset.  A Source is owned by a single
// goroutine: implementations are not required to be thread-safe, and at most
// one Iterator per Source may be open at a time.  Parallel workers each open
// their own Source.
type Source interface {
	// Query returns an iterator over the points inside q.Region.  Points
	// need not be in position order: alignment backends report counts and
	// lengths alignment by alignment.  Several points may share a position.
	// Errors are reported by the iterator.
	//
	// REQUIRES: Close has not been called.
	Query(q Query) Iterator

	// Close releases the handle. It returns any error encountered by the
	// source or by one of its iterators.
	Close() error
}

// Iterator walks the result of a single Query.
type Iterator interface {
	// Scan advances to the next point, returning false at the end of the
	// results or on error.
	Scan() bool

	// Point returns the current point.  It must be called only after Scan
	// returns true.
	Point() Point

	// Err returns the error encountered during iteration, if any.
	Err() error

	// Close must be called exactly once.  It returns the value of Err().
	Close() error
}

// LibrarySizer is implemented by sources that can report the total number of
// mapped reads, which rpm and rpkm normalize by.
type LibrarySizer interface {
	LibrarySize() (int64, error)
}

// BackendError reports a failure to open or read a signal source.  Unlike a
// bad feature, it cannot be skipped: the worker that owns the source stops.
type BackendError struct {
	Locator string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("signal: %s %s: %v", e.Op, e.Locator, e.Err)
}

// Cause returns the underlying error, for github.com/pkg/errors.Cause.
func (e *BackendError) Cause() error { return e.Err }

// Drain reads it to the end, passing every point that satisfies q's strand
// restriction to fn, and closes it.
func Drain(it Iterator, q Query, fn func(Point)) error {
	for it.Scan() {
		if p := it.Point(); q.Keep(p) {
			fn(p)
		}
	}
	return it.Close()
}
