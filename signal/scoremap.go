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

	"github.com/grailbio/binsum/coord"
)

type relPoint struct {
	rel int
	Point
}

// ScoreMap holds the points of one region query keyed by their offset from
// a feature's 5' end.  Offset 0 is the feature's first base in transcription
// order, negative offsets are upstream, and offset Len()-1 is the 3' base.
// For reverse-strand features offsets run toward lower chromosome positions.
type ScoreMap struct {
	feature coord.Feature
	points  []relPoint // sorted by rel
}

// RelPos converts a chromosome position into an offset from f's 5' end.
func RelPos(f coord.Feature, pos int) int {
	if f.Strand == coord.StrandRev {
		return f.End - pos
	}
	return pos - f.Start
}

// CollectScoreMap queries src once for region and indexes every point that
// passes q's strand restriction relative to f.  q.Region is replaced by
// region.
func CollectScoreMap(src Source, f coord.Feature, region coord.Region, q Query) (*ScoreMap, error) {
	q.Region = region
	m := &ScoreMap{feature: f}
	err := Drain(src.Query(q), q, func(p Point) {
		m.points = append(m.points, relPoint{rel: RelPos(f, p.Pos), Point: p})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(m.points, func(i, j int) bool { return m.points[i].rel < m.points[j].rel })
	return m, nil
}

// Len returns the number of points in the map.
func (m *ScoreMap) Len() int { return len(m.points) }

// Range appends to dst the points whose offset lies in [lo, hi).
func (m *ScoreMap) Range(dst []Point, lo, hi int) []Point {
	i := sort.Search(len(m.points), func(i int) bool { return m.points[i].rel >= lo })
	for ; i < len(m.points) && m.points[i].rel < hi; i++ {
		dst = append(dst, m.points[i].Point)
	}
	return dst
}
