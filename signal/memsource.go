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
	"sort"
)

// memSource serves point data held in memory.  It is mostly useful for tests
// and for small precomputed tracks.
type memSource struct {
	points map[string][]Point
	closed bool
}

// NewMemSource returns a Source over the given per-chromosome points.  The
// slices are sorted in place by position.  For Count and PCount queries every
// point counts once, regardless of its value.
func NewMemSource(points map[string][]Point) Source {
	for _, p := range points {
		sort.SliceStable(p, func(i, j int) bool { return p[i].Pos < p[j].Pos })
	}
	return &memSource{points: points}
}

func (s *memSource) Query(q Query) Iterator {
	if s.closed {
		panic("memSource: query after close")
	}
	all := s.points[q.Region.Chrom]
	lo := sort.Search(len(all), func(i int) bool { return all[i].Pos >= q.Region.Start })
	hi := sort.Search(len(all), func(i int) bool { return all[i].Pos > q.Region.End })
	// Return a copy so that the caller cannot alter the source data.
	out := make([]Point, hi-lo)
	copy(out, all[lo:hi])
	if q.ValueType == Count || q.ValueType == PCount {
		for i := range out {
			out[i].Value = 1
		}
	}
	return NewSliceIterator(out)
}

func (s *memSource) Close() error {
	s.closed = true
	return nil
}
