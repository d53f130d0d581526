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

	baseerrors "github.com/grailbio/base/errors"
	"github.com/pkg/errors"
)

var errNoLibrarySize = errors.New("source cannot report a library size")

// MultiSource merges the points of several sources, as if they were one
// dataset.
type MultiSource struct {
	sources []Source
}

// NewMultiSource takes ownership of sources.
func NewMultiSource(sources []Source) *MultiSource {
	return &MultiSource{sources: sources}
}

// Query runs q against every source in turn and returns the union of the
// points, ordered by position.  Ties keep source order.
func (m *MultiSource) Query(q Query) Iterator {
	var points []Point
	for _, s := range m.sources {
		it := s.Query(q)
		for it.Scan() {
			points = append(points, it.Point())
		}
		if err := it.Close(); err != nil {
			return NewErrorIterator(err)
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Pos < points[j].Pos })
	return NewSliceIterator(points)
}

// LibrarySize sums the library sizes of the underlying sources.  Every
// source must implement LibrarySizer.
func (m *MultiSource) LibrarySize() (int64, error) {
	var total int64
	for _, s := range m.sources {
		ls, ok := s.(LibrarySizer)
		if !ok {
			return 0, &BackendError{Locator: "multi", Op: "library size", Err: errNoLibrarySize}
		}
		n, err := ls.LibrarySize()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Close closes every source and returns the first error.
func (m *MultiSource) Close() error {
	var err baseerrors.Once
	for _, s := range m.sources {
		err.Set(s.Close())
	}
	m.sources = nil
	return err.Err()
}
