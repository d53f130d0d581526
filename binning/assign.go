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
package binning

import (
	"github.com/grailbio/binsum/aggregate"
	"github.com/grailbio/binsum/coord"
	"github.com/grailbio/binsum/signal"
)

// DefaultThresholdBp is the extended feature length above which every bin is
// queried on its own.
const DefaultThresholdBp = 3000

// Span returns the closed chromosome bounds of bin b placed on f.  A bin
// that rounds to zero width still covers one base.  The bounds may extend
// before the start of the chromosome.
func Span(b Bin, f coord.Feature) (start, end int) {
	var lo, hi int
	anchor := b.Anchor
	if b.Unit == Percent {
		n := float64(f.Len())
		lo, hi = coord.Round(b.RelStart*0.01*n), coord.Round(b.RelStop*0.01*n)
		anchor = coord.FivePrime
	} else {
		lo, hi = int(b.RelStart), int(b.RelStop)
	}
	if hi <= lo {
		hi = lo + 1
	}
	return coord.Offset(f, anchor, lo, hi-1)
}

// Assigner computes per-bin values for features.  An Assigner is read-only
// once built and may be shared by workers.
type Assigner struct {
	Bins []Bin
	// ThresholdBp selects the long path for features whose length plus twice
	// the largest flank extension exceeds it.  Zero means DefaultThresholdBp.
	ThresholdBp int
	// ForceLong always selects the long path.
	ForceLong bool
	ValueType signal.ValueType
	Agg       aggregate.Opts
}

func (a *Assigner) threshold() int {
	if a.ThresholdBp <= 0 {
		return DefaultThresholdBp
	}
	return a.ThresholdBp
}

// Long reports whether f takes the long path: one query per bin instead of
// one query for the whole extended feature.
func (a *Assigner) Long(f coord.Feature) bool {
	if a.ForceLong {
		return true
	}
	ext := 0
	for _, b := range a.Bins {
		start, end := Span(b, f)
		if d := f.Start - start; d > ext {
			ext = d
		}
		if d := end - f.End; d > ext {
			ext = d
		}
	}
	return f.Len()+2*ext > a.threshold()
}

// Assign appends one value per bin for feature f to dst[:0] and returns it.
// If fallback is set, every bin gets the value of the whole feature.  The
// returned error is a backend failure; missing data is reported as
// aggregate.NoValue (or 0 for counting methods).
func (a *Assigner) Assign(src signal.Source, f coord.Feature, fallback bool, dst []float64) ([]float64, error) {
	dst = dst[:0]
	if fallback {
		v, err := QueryValue(src, f, f.Start, f.End, a.ValueType, a.Agg)
		if err != nil {
			return dst, err
		}
		for range a.Bins {
			dst = append(dst, v)
		}
		return dst, nil
	}
	if a.Long(f) {
		for _, b := range a.Bins {
			start, end := Span(b, f)
			v, err := QueryValue(src, f, start, end, a.ValueType, a.Agg)
			if err != nil {
				return dst, err
			}
			dst = append(dst, v)
		}
		return dst, nil
	}
	return a.assignShort(src, f, dst)
}

// assignShort queries the union of all bins once and slices the result.
func (a *Assigner) assignShort(src signal.Source, f coord.Feature, dst []float64) ([]float64, error) {
	lo, hi := f.Start, f.End
	for _, b := range a.Bins {
		start, end := Span(b, f)
		if start < lo {
			lo = start
		}
		if end > hi {
			hi = end
		}
	}
	m := &signal.ScoreMap{}
	if hi >= 1 {
		if lo < 1 {
			lo = 1
		}
		var err error
		region := coord.Region{Chrom: f.Chrom, Start: lo, End: hi, Strand: f.Strand}
		if m, err = signal.CollectScoreMap(src, f, region, signal.Query{ValueType: a.ValueType}); err != nil {
			return dst, err
		}
	}
	opts := a.Agg
	opts.ValueType = a.ValueType
	var points []signal.Point
	for _, b := range a.Bins {
		start, end := Span(b, f)
		relLo, relHi := signal.RelPos(f, start), signal.RelPos(f, end)
		if relLo > relHi {
			relLo, relHi = relHi, relLo
		}
		points = m.Range(points[:0], relLo, relHi+1)
		dst = append(dst, aggregate.Aggregate(points, f.Strand, end-start+1, opts).Value)
	}
	return dst, nil
}

// QueryValue aggregates the signal over the closed chromosome range
// [start, end] of feature f.  The part of the range before the chromosome
// start has no data.  vt overrides opts.ValueType.
func QueryValue(src signal.Source, f coord.Feature, start, end int, vt signal.ValueType, opts aggregate.Opts) (float64, error) {
	opts.ValueType = vt
	var points []signal.Point
	if end >= 1 {
		qstart := start
		if qstart < 1 {
			qstart = 1
		}
		q := signal.Query{
			Region:    coord.Region{Chrom: f.Chrom, Start: qstart, End: end, Strand: f.Strand},
			ValueType: vt,
		}
		if err := signal.Drain(src.Query(q), q, func(p signal.Point) { points = append(points, p) }); err != nil {
			return aggregate.NoValue, err
		}
	}
	return aggregate.Aggregate(points, f.Strand, end-start+1, opts).Value, nil
}
