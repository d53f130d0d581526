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
	"math"

	"github.com/grailbio/binsum/aggregate"
	"gonum.org/v1/gonum/interp"
)

// MaxInterpolatedGap is the longest run of missing bins that Interpolate
// fills.
const MaxInterpolatedGap = 3

// Interpolate fills runs of one to MaxInterpolatedGap missing values that
// have a real value on both sides, by piecewise linear interpolation over
// the bin indexes.  If log2 is set, the known values are converted to
// linear space first and the results converted back.  Longer runs, and runs
// that touch either end of the row, are left alone.  It returns the number
// of values filled.
func Interpolate(values []float64, log2 bool) int {
	var xs, ys []float64
	for i, v := range values {
		if aggregate.IsNoValue(v) {
			continue
		}
		if log2 {
			v = math.Exp2(v)
		}
		xs = append(xs, float64(i))
		ys = append(ys, v)
	}
	if len(xs) < 2 || len(xs) == len(values) {
		return 0
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		panic(err)
	}
	filled := 0
	for k := 1; k < len(xs); k++ {
		lo, hi := int(xs[k-1]), int(xs[k])
		if run := hi - lo - 1; run < 1 || run > MaxInterpolatedGap {
			continue
		}
		for i := lo + 1; i < hi; i++ {
			v := pl.Predict(float64(i))
			if log2 {
				v = math.Log2(v)
			}
			values[i] = v
			filled++
		}
	}
	return filled
}
