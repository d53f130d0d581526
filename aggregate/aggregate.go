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

// Package aggregate reduces the points of one region or bin to a single
// value.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/grailbio/binsum/coord"
	"github.com/grailbio/binsum/signal"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Method is a reduction over a set of values.
type Method int

const (
	Mean Method = iota
	Median
	Sum
	Min
	Max
	Range
	StdDev
	Count
	// RPM is reads per million: sum*1e6/librarySize.
	RPM
	// RPKM is reads per kilobase per million: sum*1e9/(length*librarySize).
	RPKM
)

var methodNames = [...]string{"mean", "median", "sum", "min", "max", "range", "stddev", "count", "rpm", "rpkm"}

func (m Method) String() string {
	if m < Mean || m > RPKM {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// ParseMethod parses a method name, case-insensitively.
func ParseMethod(s string) (Method, error) {
	for i, name := range methodNames {
		if strings.EqualFold(s, name) {
			return Method(i), nil
		}
	}
	return Mean, &ConfigError{Msg: fmt.Sprintf("aggregate: unknown method %q", s)}
}

// Normalized reports whether m divides by the library size.
func (m Method) Normalized() bool { return m == RPM || m == RPKM }

// zeroWhenEmpty reports whether m yields 0, rather than no value, for an
// empty input.
func (m Method) zeroWhenEmpty() bool {
	return m == Sum || m == Count || m == RPM || m == RPKM
}

// Delogs reports whether m operates on linear values when inputs are log2.
// Range and Count work on the stored values; Normalized methods count reads.
func (m Method) Delogs() bool {
	switch m {
	case Mean, Median, Min, Max, StdDev, Sum:
		return true
	}
	return false
}

// Stranded selects points by strand relative to the feature.
type Stranded int

const (
	// All keeps every point.
	All Stranded = iota
	// Sense keeps points on the feature's strand.
	Sense
	// Antisense keeps points on the opposite strand.
	Antisense
)

var strandedNames = [...]string{"all", "sense", "antisense"}

func (s Stranded) String() string {
	if s < All || s > Antisense {
		return fmt.Sprintf("Stranded(%d)", int(s))
	}
	return strandedNames[s]
}

// ParseStranded parses "all", "sense" or "antisense".  "both" and "" are
// accepted for All.
func ParseStranded(s string) (Stranded, error) {
	switch strings.ToLower(s) {
	case "", "both":
		return All, nil
	}
	for i, name := range strandedNames {
		if strings.EqualFold(s, name) {
			return Stranded(i), nil
		}
	}
	return All, &ConfigError{Msg: fmt.Sprintf("aggregate: unknown strandedness %q", s)}
}

// Keep reports whether a point on strand p is kept for a feature on strand
// f.  Unstranded points always pass.  An unstranded feature matches only
// unstranded points under Sense, and every stranded point under Antisense.
func (s Stranded) Keep(f, p coord.Strand) bool {
	switch {
	case s == All || p == coord.StrandNone:
		return true
	case s == Sense:
		return p == f
	default:
		return p != f
	}
}

// Opts configures Aggregate.  It is built once per run and shared read-only.
type Opts struct {
	Method   Method
	Stranded Stranded
	// Log2 means the stored values are log2-transformed.
	Log2 bool
	// LibrarySize is the total number of mapped reads, for RPM and RPKM.
	LibrarySize int64
	// ValueType is the kind of points being reduced.  Score points that share
	// a position are summed into one value, so that coverage reported per
	// strand or per source adds up to the total depth.
	ValueType signal.ValueType
}

// Result is the outcome of one aggregation.  A NaN Value means no value.
type Result struct {
	Value  float64
	Method Method
	Log2   bool
}

// NoValue is the marker for a missing value.
var NoValue = math.NaN()

// IsNoValue reports whether v is the missing-value marker.
func IsNoValue(v float64) bool { return math.IsNaN(v) }

// Valid reports whether r carries a value.
func (r Result) Valid() bool { return !IsNoValue(r.Value) }

// Aggregate reduces the points on a feature with strand fStrand over a
// region (or bin) of length regionLen to a single value.  Points are
// strand-filtered first; for Score, the kept points at one position then
// count as a single value, their sum.
func Aggregate(points []signal.Point, fStrand coord.Strand, regionLen int, opts Opts) Result {
	kept := make([]signal.Point, 0, len(points))
	for _, p := range points {
		if opts.Stranded.Keep(fStrand, p.Strand) {
			kept = append(kept, p)
		}
	}
	if opts.ValueType == signal.Score {
		kept = mergePositions(kept, opts.Log2)
	}
	values := make([]float64, len(kept))
	for i, p := range kept {
		values[i] = p.Value
	}
	return Result{Value: Values(values, regionLen, opts), Method: opts.Method, Log2: opts.Log2}
}

// mergePositions sorts points by position and replaces each run of points at
// the same position by one point carrying their summed value.  Log2 values
// are summed in linear space.  Strand is not meaningful in the result.
func mergePositions(points []signal.Point, log2 bool) []signal.Point {
	if len(points) < 2 {
		return points
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Pos < points[j].Pos })
	out := points[:1]
	for _, p := range points[1:] {
		last := &out[len(out)-1]
		if p.Pos == last.Pos {
			if log2 {
				last.Value = math.Log2(math.Exp2(last.Value) + math.Exp2(p.Value))
			} else {
				last.Value += p.Value
			}
			continue
		}
		out = append(out, p)
	}
	return out
}

// Values is Aggregate for values that have already been strand-filtered.
// The slice may be reordered.
func Values(values []float64, regionLen int, opts Opts) float64 {
	if len(values) == 0 {
		if opts.Method.zeroWhenEmpty() {
			return 0
		}
		return NoValue
	}
	delog := opts.Log2 && opts.Method.Delogs()
	if delog {
		for i, v := range values {
			values[i] = math.Exp2(v)
		}
	}
	var v float64
	switch opts.Method {
	case Mean:
		v = stat.Mean(values, nil)
	case Median:
		sort.Float64s(values)
		n := len(values)
		if n%2 == 1 {
			v = values[n/2]
		} else {
			v = (values[n/2-1] + values[n/2]) / 2
		}
	case Sum:
		v = floats.Sum(values)
	case Min:
		v = floats.Min(values)
	case Max:
		v = floats.Max(values)
	case Range:
		v = floats.Max(values) - floats.Min(values)
	case StdDev:
		v = popStdDev(values)
	case Count:
		v = float64(len(values))
	case RPM:
		v = floats.Sum(values) * 1e6 / float64(opts.LibrarySize)
	case RPKM:
		if regionLen <= 0 {
			return NoValue
		}
		v = floats.Sum(values) * 1e9 / (float64(regionLen) * float64(opts.LibrarySize))
	default:
		panic(opts.Method)
	}
	if delog {
		if v == 0 {
			return NoValue
		}
		v = math.Log2(v)
	}
	return v
}

// popStdDev returns the population standard deviation.  stat.MeanVariance
// computes the unbiased sample variance, which is rescaled by (n-1)/n.
func popStdDev(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}
	_, variance := stat.MeanVariance(values, nil)
	return math.Sqrt(variance * (n - 1) / n)
}

// ConfigError is a run configuration that cannot be honored.  It is reported
// before any row is processed.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// Validate checks that a method can be computed for the given value type.
// Normalized methods need a positive library size and a counted value type.
// Callers force the value type to Count for normalized methods before
// calling Validate; see EffectiveValueType.
func Validate(m Method, vt signal.ValueType, librarySize int64) error {
	if m < Mean || m > RPKM {
		return &ConfigError{Msg: fmt.Sprintf("aggregate: unknown method %v", m)}
	}
	if !m.Normalized() {
		return nil
	}
	if vt != signal.Count && vt != signal.PCount {
		return &ConfigError{Msg: fmt.Sprintf("aggregate: method %v cannot be combined with value type %v", m, vt)}
	}
	if librarySize <= 0 {
		return &ConfigError{Msg: fmt.Sprintf("aggregate: method %v requires a positive library size, got %d", m, librarySize)}
	}
	return nil
}

// EffectiveValueType returns the value type a method actually uses.  RPM and
// RPKM count reads, so Score and Length become Count.  PCount is already a
// read count and is kept.
func EffectiveValueType(m Method, vt signal.ValueType) signal.ValueType {
	if m.Normalized() && vt != signal.PCount {
		return signal.Count
	}
	return vt
}
