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
package binning_test

import (
	"math"
	"testing"

	"github.com/grailbio/binsum/aggregate"
	"github.com/grailbio/binsum/binning"
	"github.com/grailbio/binsum/coord"
	"github.com/grailbio/binsum/signal"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var nan = aggregate.NoValue

func TestPlanBodyPartition(t *testing.T) {
	for _, binCount := range []int{1, 3, 7, 10, 33} {
		for _, flankCount := range []int{0, 1, 4} {
			for _, flankSize := range []int{0, 250} {
				bins, err := binning.Plan(binCount, flankCount, flankSize)
				require.NoError(t, err)
				require.Equal(t, binCount+2*flankCount, len(bins))
				body := bins[flankCount : flankCount+binCount]
				assert.Equal(t, 0.0, body[0].RelStart)
				assert.Equal(t, 100.0, body[binCount-1].RelStop)
				for i, b := range bins {
					assert.Equal(t, i, b.Index)
					assert.True(t, b.RelStart < b.RelStop, "bin %v", b)
					if i > 0 && bins[i-1].Unit == b.Unit && bins[i-1].Anchor == b.Anchor {
						// Adjacent bins share a boundary.
						assert.Equal(t, bins[i-1].RelStop, b.RelStart)
					}
				}
				for _, b := range body {
					assert.False(t, b.IsFlank)
					assert.Equal(t, binning.Percent, b.Unit)
				}
			}
		}
	}
}

func TestPlanFlanks(t *testing.T) {
	bins, err := binning.Plan(2, 2, 100)
	require.NoError(t, err)
	expect.EQ(t, binning.Names(bins), []string{"-200..-101bp", "-100..-1bp", "0..50%", "50..100%", "end+1..+100bp", "end+101..+200bp"})
	assert.Equal(t, coord.FivePrime, bins[0].Anchor)
	assert.Equal(t, coord.ThreePrime, bins[5].Anchor)

	bins, err = binning.Plan(4, 1, 0)
	require.NoError(t, err)
	expect.EQ(t, binning.Names(bins), []string{"-25..0%", "0..25%", "25..50%", "50..75%", "75..100%", "100..125%"})

	for _, args := range [][3]int{{0, 0, 0}, {-1, 0, 0}, {10, -1, 0}, {10, 1, -5}} {
		_, err := binning.Plan(args[0], args[1], args[2])
		require.Error(t, err)
		_, ok := err.(*aggregate.ConfigError)
		assert.True(t, ok)
	}
}

func TestPlanRelative(t *testing.T) {
	bins, err := binning.PlanRelative(100, 250, coord.FivePrime)
	require.NoError(t, err)
	expect.EQ(t, binning.Names(bins), []string{"-200..-101bp", "-100..-1bp", "+0..+99bp", "+100..+199bp"})
	_, err = binning.PlanRelative(100, 50, coord.Middle)
	require.Error(t, err)
	_, err = binning.PlanRelative(0, 50, coord.Middle)
	require.Error(t, err)
}

func TestSpan(t *testing.T) {
	fwd := coord.Feature{Chrom: "chr1", Start: 1001, End: 2000, Strand: coord.StrandFwd}
	rev := fwd
	rev.Strand = coord.StrandRev
	tests := []struct {
		bin        binning.Bin
		f          coord.Feature
		start, end int
	}{
		{binning.Bin{RelStart: 0, RelStop: 10, Unit: binning.Percent}, fwd, 1001, 1100},
		{binning.Bin{RelStart: 0, RelStop: 10, Unit: binning.Percent}, rev, 1901, 2000},
		{binning.Bin{RelStart: 90, RelStop: 100, Unit: binning.Percent}, rev, 1001, 1100},
		{binning.Bin{RelStart: -10, RelStop: 0, Unit: binning.Percent}, fwd, 901, 1000},
		// Zero width after rounding still covers one base.
		{binning.Bin{RelStart: 10, RelStop: 10.01, Unit: binning.Percent}, fwd, 1101, 1101},
		{binning.Bin{RelStart: -100, RelStop: 0, Unit: binning.Basepair, Anchor: coord.FivePrime}, fwd, 901, 1000},
		{binning.Bin{RelStart: -100, RelStop: 0, Unit: binning.Basepair, Anchor: coord.FivePrime}, rev, 2001, 2100},
		{binning.Bin{RelStart: 1, RelStop: 101, Unit: binning.Basepair, Anchor: coord.ThreePrime}, fwd, 2001, 2100},
		{binning.Bin{RelStart: 1, RelStop: 101, Unit: binning.Basepair, Anchor: coord.ThreePrime}, rev, 901, 1000},
	}
	for _, test := range tests {
		start, end := binning.Span(test.bin, test.f)
		assert.Equal(t, test.start, start, "bin %v strand %v", test.bin, test.f.Strand)
		assert.Equal(t, test.end, end, "bin %v strand %v", test.bin, test.f.Strand)
	}
}

func uniformSource(chrom string, start, end int, value float64) signal.Source {
	var points []signal.Point
	for pos := start; pos <= end; pos++ {
		points = append(points, signal.Point{Pos: pos, Value: value})
	}
	return signal.NewMemSource(map[string][]signal.Point{chrom: points})
}

func TestAssignUniform(t *testing.T) {
	bins, err := binning.Plan(10, 0, 0)
	require.NoError(t, err)
	f := coord.Feature{Chrom: "chr1", Start: 1001, End: 2000, Strand: coord.StrandFwd}
	src := uniformSource("chr1", 1, 5000, 5)
	for _, forceLong := range []bool{false, true} {
		a := &binning.Assigner{Bins: bins, ForceLong: forceLong, Agg: aggregate.Opts{Method: aggregate.Mean}}
		values, err := a.Assign(src, f, false, nil)
		require.NoError(t, err)
		require.Equal(t, 10, len(values))
		for _, v := range values {
			assert.Equal(t, 5.0, v)
		}
	}
}

// rampSource has value == position.
func rampSource(chrom string, start, end int) signal.Source {
	var points []signal.Point
	for pos := start; pos <= end; pos++ {
		points = append(points, signal.Point{Pos: pos, Value: float64(pos)})
	}
	return signal.NewMemSource(map[string][]signal.Point{chrom: points})
}

func TestAssignShortMatchesLong(t *testing.T) {
	src := rampSource("chr1", 1, 10000)
	bins, err := binning.Plan(5, 2, 50)
	require.NoError(t, err)
	pbins, err := binning.Plan(3, 2, 0)
	require.NoError(t, err)
	rbins, err := binning.PlanRelative(25, 100, coord.Middle)
	require.NoError(t, err)
	for _, layout := range [][]binning.Bin{bins, pbins, rbins} {
		for _, strand := range []coord.Strand{coord.StrandNone, coord.StrandFwd, coord.StrandRev} {
			// The second feature runs off the start of the chromosome.
			for _, f := range []coord.Feature{
				{Chrom: "chr1", Start: 501, End: 1000, Strand: strand},
				{Chrom: "chr1", Start: 20, End: 120, Strand: strand},
			} {
				for _, m := range []aggregate.Method{aggregate.Mean, aggregate.Sum, aggregate.Max} {
					opts := aggregate.Opts{Method: m}
					short := &binning.Assigner{Bins: layout, Agg: opts}
					long := &binning.Assigner{Bins: layout, Agg: opts, ForceLong: true}
					require.False(t, short.Long(f))
					sv, err := short.Assign(src, f, false, nil)
					require.NoError(t, err)
					lv, err := long.Assign(src, f, false, nil)
					require.NoError(t, err)
					require.Equal(t, len(layout), len(sv))
					for i := range sv {
						if math.IsNaN(lv[i]) {
							assert.True(t, math.IsNaN(sv[i]), "bin %d", i)
						} else {
							assert.InDelta(t, lv[i], sv[i], 1e-9, "bin %d %v", i, layout[i])
						}
					}
				}
			}
		}
	}
}

func TestAssignReverse(t *testing.T) {
	src := rampSource("chr1", 1, 10000)
	bins, err := binning.Plan(2, 1, 100)
	require.NoError(t, err)
	f := coord.Feature{Chrom: "chr1", Start: 1001, End: 1200, Strand: coord.StrandRev}
	a := &binning.Assigner{Bins: bins, Agg: aggregate.Opts{Method: aggregate.Min}}
	values, err := a.Assign(src, f, false, nil)
	require.NoError(t, err)
	// 5' flank is downstream in chromosome coordinates: 1201..1300.
	assert.Equal(t, []float64{1201, 1101, 1001, 901}, values)
}

func TestAssignThreshold(t *testing.T) {
	bins, err := binning.Plan(2, 1, 500)
	require.NoError(t, err)
	a := &binning.Assigner{Bins: bins}
	assert.False(t, a.Long(coord.Feature{Chrom: "c", Start: 1, End: 2000}))
	assert.True(t, a.Long(coord.Feature{Chrom: "c", Start: 1, End: 2001}))
	a.ThresholdBp = 10000
	assert.False(t, a.Long(coord.Feature{Chrom: "c", Start: 1, End: 2001}))
}

func TestAssignFallback(t *testing.T) {
	src := rampSource("chr1", 1, 1000)
	bins, err := binning.Plan(4, 1, 0)
	require.NoError(t, err)
	f := coord.Feature{Chrom: "chr1", Start: 11, End: 20, Strand: coord.StrandFwd}
	a := &binning.Assigner{Bins: bins, Agg: aggregate.Opts{Method: aggregate.Mean}}
	values, err := a.Assign(src, f, true, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{15.5, 15.5, 15.5, 15.5, 15.5, 15.5}, values)
}

func TestAssignBackendError(t *testing.T) {
	bins, err := binning.Plan(2, 0, 0)
	require.NoError(t, err)
	a := &binning.Assigner{Bins: bins}
	_, err = a.Assign(errorSource{}, coord.Feature{Chrom: "chr1", Start: 1, End: 10}, false, nil)
	require.Error(t, err)
}

type errorSource struct{}

func (errorSource) Query(q signal.Query) signal.Iterator {
	return signal.NewErrorIterator(&signal.BackendError{Locator: "x", Op: "query", Err: assert.AnError})
}

func (errorSource) Close() error { return nil }

func TestInterpolate(t *testing.T) {
	tests := []struct {
		in, want []float64
		filled   int
	}{
		{[]float64{1, 10, nan, nan, nan, 18, 2}, []float64{1, 10, 12, 14, 16, 18, 2}, 3},
		{[]float64{4, nan, 8}, []float64{4, 6, 8}, 1},
		{[]float64{3, nan, nan, 9}, []float64{3, 5, 7, 9}, 2},
		// Runs of four are left alone.
		{[]float64{1, nan, nan, nan, nan, 6}, []float64{1, nan, nan, nan, nan, 6}, 0},
		// The ends are never filled.
		{[]float64{nan, 1, nan, 3, nan}, []float64{nan, 1, 2, 3, nan}, 1},
		{[]float64{nan, nan}, []float64{nan, nan}, 0},
		{[]float64{1, nan, nan}, []float64{1, nan, nan}, 0},
		// Gaps are independent: the long one in the middle stays.
		{[]float64{1, nan, 3, nan, nan, nan, nan, 8, nan, 10}, []float64{1, 2, 3, nan, nan, nan, nan, 8, 9, 10}, 2},
	}
	for _, test := range tests {
		got := append([]float64(nil), test.in...)
		assert.Equal(t, test.filled, binning.Interpolate(got, false))
		assertFloats(t, test.want, got)
		// Idempotence.
		assert.Equal(t, 0, binning.Interpolate(got, false))
		assertFloats(t, test.want, got)
	}
}

func TestInterpolateLog2(t *testing.T) {
	values := []float64{1, nan, 3}
	assert.Equal(t, 1, binning.Interpolate(values, true))
	// Mean of 2 and 8 in linear space.
	assert.InDelta(t, math.Log2(5), values[1], 1e-12)
}

func assertFloats(t *testing.T, want, got []float64) {
	t.Helper()
	require.Equal(t, len(want), len(got))
	for i := range want {
		if math.IsNaN(want[i]) {
			assert.True(t, math.IsNaN(got[i]), "index %d", i)
		} else {
			assert.InDelta(t, want[i], got[i], 1e-12, "index %d", i)
		}
	}
}
