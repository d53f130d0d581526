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
package coord

import (
	"fmt"
	"math"
	"strings"
)

// Mode selects how a RelativeSpec is turned into a Region.
type Mode int

const (
	// Whole uses the feature's own coordinates.
	Whole Mode = iota
	// Absolute applies fixed basepair offsets to an anchor point.
	Absolute
	// Fractional applies offsets expressed as a fraction of feature length.
	Fractional
)

// Anchor is the point of a feature that relative offsets are measured from.
type Anchor int

const (
	// FivePrime is the start of the feature in its own orientation: Start for
	// forward and unstranded features, End for reverse-strand features.
	FivePrime Anchor = iota
	// ThreePrime is the end of the feature in its own orientation.
	ThreePrime
	// Middle is the feature midpoint; offsets from it are never mirrored.
	Middle
)

var anchorNames = [...]string{"5p", "3p", "mid"}

func (a Anchor) String() string {
	if a < FivePrime || a > Middle {
		return fmt.Sprintf("Anchor(%d)", int(a))
	}
	return anchorNames[a]
}

// ParseAnchor accepts 5p/tss/start, 3p/tes/end and mid/middle/center.
func ParseAnchor(s string) (Anchor, error) {
	switch strings.ToLower(s) {
	case "5p", "5", "five_prime", "start", "tss":
		return FivePrime, nil
	case "3p", "3", "three_prime", "end", "tes", "stop":
		return ThreePrime, nil
	case "mid", "middle", "center", "centre":
		return Middle, nil
	}
	return FivePrime, fmt.Errorf("coord.ParseAnchor: unrecognized anchor %q", s)
}

// DefaultMinFeatureLength is the length below which fractional offsets fall
// back to the whole feature.
const DefaultMinFeatureLength = 1000

// RelativeSpec describes a region relative to a feature.
type RelativeSpec struct {
	Mode   Mode
	Anchor Anchor
	// StartOffset and StopOffset are signed basepair offsets from the anchor,
	// in the feature's orientation.  Used by Absolute.
	StartOffset, StopOffset int
	// StartFraction and StopFraction are signed multiples of the feature
	// length, e.g. -0.1 and 0.1.  Used by Fractional.
	StartFraction, StopFraction float64
	// MinFeatureLength is the smallest feature Fractional applies to; shorter
	// features resolve as Whole.  Zero means DefaultMinFeatureLength.
	MinFeatureLength int
}

// WholeSpec is the RelativeSpec selecting the feature itself.
var WholeSpec = RelativeSpec{Mode: Whole}

// AbsoluteSpec returns an Absolute RelativeSpec.
func AbsoluteSpec(start, stop int, anchor Anchor) RelativeSpec {
	return RelativeSpec{Mode: Absolute, Anchor: anchor, StartOffset: start, StopOffset: stop}
}

// FractionalSpec returns a Fractional RelativeSpec.
func FractionalSpec(start, stop float64, anchor Anchor, minFeatureLength int) RelativeSpec {
	return RelativeSpec{
		Mode:             Fractional,
		Anchor:           anchor,
		StartFraction:    start,
		StopFraction:     stop,
		MinFeatureLength: minFeatureLength,
	}
}

func (s RelativeSpec) minLen() int {
	if s.MinFeatureLength <= 0 {
		return DefaultMinFeatureLength
	}
	return s.MinFeatureLength
}

// FallsBack reports whether Fractional resolution of f reverts to the whole
// feature.
func (s RelativeSpec) FallsBack(f Feature) bool {
	return s.Mode == Fractional && f.Len() < s.minLen()
}

// RegionError reports coordinates that do not form a valid region.  It is
// local to a single feature; callers processing many features should record
// the failure and move on.
type RegionError struct {
	Feature    Feature
	Start, End int
	Reason     string
}

func (e *RegionError) Error() string {
	return fmt.Sprintf("coord: %s: %s:%d-%d (feature %s %s:%d-%d:%v)",
		e.Reason, e.Feature.Chrom, e.Start, e.End,
		e.Feature.Name, e.Feature.Chrom, e.Feature.Start, e.Feature.End, e.Feature.Strand)
}

// Round converts a fractional basepair amount to an integer offset, rounding
// half away from zero.
func Round(x float64) int {
	return int(math.Round(x))
}

// Midpoint returns the base used as the Middle anchor of f.
func Midpoint(f Feature) int {
	return f.Start + int(math.Floor(float64(f.Len())/2+0.5))
}

// Offset applies the signed offsets [a, b] to f's anchor and returns the
// absolute (start, end) bounds.  For reverse-strand features the offsets are
// mirrored: moving "downstream" means decreasing coordinates.
func Offset(f Feature, anchor Anchor, a, b int) (start, end int) {
	switch anchor {
	case Middle:
		mid := Midpoint(f)
		return mid + a, mid + b
	case ThreePrime:
		if f.Strand == StrandRev {
			return f.Start - b, f.Start - a
		}
		return f.End + a, f.End + b
	default:
		if f.Strand == StrandRev {
			return f.End - b, f.End - a
		}
		return f.Start + a, f.Start + b
	}
}

// NewRegion validates the bounds and returns the region.  A start before the
// first base of the chromosome is clamped to 1 as long as some of the region
// remains on the chromosome.
func NewRegion(f Feature, start, end int) (Region, error) {
	if end < start {
		return Region{}, &RegionError{Feature: f, Start: start, End: end, Reason: "invalid bounds"}
	}
	if end < 1 {
		return Region{}, &RegionError{Feature: f, Start: start, End: end, Reason: "region before chromosome start"}
	}
	if start < 1 {
		start = 1
	}
	return Region{Chrom: f.Chrom, Start: start, End: end, Strand: f.Strand}, nil
}

// Resolve converts a feature and a RelativeSpec into an absolute
// region.  It has no side effects.
func Resolve(f Feature, s RelativeSpec) (Region, error) {
	switch s.Mode {
	case Whole:
		return NewRegion(f, f.Start, f.End)
	case Absolute:
		start, end := Offset(f, s.Anchor, s.StartOffset, s.StopOffset)
		return NewRegion(f, start, end)
	case Fractional:
		if s.FallsBack(f) {
			return NewRegion(f, f.Start, f.End)
		}
		n := float64(f.Len())
		start, end := Offset(f, s.Anchor, Round(s.StartFraction*n), Round(s.StopFraction*n))
		return NewRegion(f, start, end)
	}
	return Region{}, fmt.Errorf("coord.Resolve: unknown mode %d", s.Mode)
}

// ResolveAll resolves f against every spec, in order.  The first failure is
// returned.
func ResolveAll(f Feature, specs []RelativeSpec) ([]Region, error) {
	regions := make([]Region, len(specs))
	for i, s := range specs {
		r, err := Resolve(f, s)
		if err != nil {
			return nil, err
		}
		regions[i] = r
	}
	return regions, nil
}
