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

type errorIterator struct {
	err error
}

func (i *errorIterator) Scan() bool   { return false }
func (i *errorIterator) Point() Point { panic("shall not be called") }
func (i *errorIterator) Err() error   { return i.err }
func (i *errorIterator) Close() error { return i.err }

// NewErrorIterator returns an iterator that yields nothing and reports err.
func NewErrorIterator(err error) Iterator {
	return &errorIterator{err: err}
}

type sliceIterator struct {
	points []Point
	cur    Point
}

func (i *sliceIterator) Scan() bool {
	if len(i.points) == 0 {
		return false
	}
	i.cur, i.points = i.points[0], i.points[1:]
	return true
}

func (i *sliceIterator) Point() Point { return i.cur }
func (i *sliceIterator) Err() error   { return nil }
func (i *sliceIterator) Close() error { return nil }

// NewSliceIterator returns an iterator over points.
func NewSliceIterator(points []Point) Iterator {
	return &sliceIterator{points: points}
}
