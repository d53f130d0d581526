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

// Package binning lays out the bins of a feature, assigns signal to them and
// fills small gaps between them.
package binning

import (
	"fmt"
	"strconv"

	"github.com/grailbio/binsum/aggregate"
	"github.com/grailbio/binsum/coord"
)

// Unit is the unit of a bin's relative bounds.
type Unit int

const (
	// Percent bounds are percentages of the feature length, measured from its
	// 5' end.  Bounds below 0 or above 100 lie in the flanks.
	Percent Unit = iota
	// Basepair bounds are offsets from the bin's anchor.
	Basepair
)

// Bin is one window of a per-run layout.  Bounds are half-open:
// [RelStart, RelStop).  The layout is computed once per run; absolute
// placement is done per feature.
type Bin struct {
	Index             int
	RelStart, RelStop float64
	Unit              Unit
	// Anchor is the reference point of Basepair bins.  Percent bins are always
	// measured from the 5' end.
	Anchor  coord.Anchor
	IsFlank bool
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'g', 4, 64)
}

// Name returns the column name of the bin, e.g. "0..10%" or "-200..-101bp".
// Basepair names show the closed range of offsets; 3' and midpoint anchored
// bins carry an "end" or "mid" prefix.
func (b Bin) Name() string {
	if b.Unit == Percent {
		return formatPercent(b.RelStart) + ".." + formatPercent(b.RelStop) + "%"
	}
	prefix := ""
	switch b.Anchor {
	case coord.ThreePrime:
		prefix = "end"
	case coord.Middle:
		prefix = "mid"
	}
	return fmt.Sprintf("%s%+d..%+dbp", prefix, int(b.RelStart), int(b.RelStop)-1)
}

// Names returns the column names of bins, in order.
func Names(bins []Bin) []string {
	names := make([]string, len(bins))
	for i, b := range bins {
		names[i] = b.Name()
	}
	return names
}

func configErrorf(format string, args ...interface{}) error {
	return &aggregate.ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// Plan returns the bin layout for binCount body bins and flankCount flank bins
// on each side.  Body bin i covers [i*100/binCount, (i+1)*100/binCount)
// percent.  If flankSizeBp > 0 each flank bin is flankSizeBp wide;
// otherwise flank bins are as wide as a body bin, in percent, beyond 0 and
// 100.  The order is 5' flanks from farthest to nearest, body bins, then 3'
// flanks from nearest to farthest.
func Plan(binCount, flankCount, flankSizeBp int) ([]Bin, error) {
	if binCount <= 0 {
		return nil, configErrorf("binning.Plan: bin count must be positive, got %d", binCount)
	}
	if flankCount < 0 {
		return nil, configErrorf("binning.Plan: flank count must not be negative, got %d", flankCount)
	}
	if flankSizeBp < 0 {
		return nil, configErrorf("binning.Plan: flank size must not be negative, got %d", flankSizeBp)
	}
	size := 100 / float64(binCount)
	bins := make([]Bin, 0, binCount+2*flankCount)
	add := func(b Bin) {
		b.Index = len(bins)
		bins = append(bins, b)
	}
	for j := flankCount - 1; j >= 0; j-- {
		if flankSizeBp > 0 {
			w := float64(flankSizeBp)
			add(Bin{RelStart: float64(-(j+1)) * w, RelStop: float64(-j) * w, Unit: Basepair, Anchor: coord.FivePrime, IsFlank: true})
		} else {
			add(Bin{RelStart: float64(-(j+1)) * size, RelStop: float64(-j) * size, Unit: Percent, IsFlank: true})
		}
	}
	for i := 0; i < binCount; i++ {
		stop := float64(i+1) * size
		if i == binCount-1 {
			stop = 100
		}
		add(Bin{RelStart: float64(i) * size, RelStop: stop, Unit: Percent})
	}
	for j := 0; j < flankCount; j++ {
		if flankSizeBp > 0 {
			// Offset 0 from the 3' anchor is the last base of the feature.
			w := float64(flankSizeBp)
			add(Bin{RelStart: float64(j)*w + 1, RelStop: float64(j+1)*w + 1, Unit: Basepair, Anchor: coord.ThreePrime, IsFlank: true})
		} else {
			add(Bin{RelStart: 100 + float64(j)*size, RelStop: 100 + float64(j+1)*size, Unit: Percent, IsFlank: true})
		}
	}
	return bins, nil
}

// PlanRelative returns fixed-width windows around an anchor: extendBp/windowBp
// windows upstream, then as many downstream starting at the anchor base.
func PlanRelative(windowBp, extendBp int, anchor coord.Anchor) ([]Bin, error) {
	if windowBp <= 0 {
		return nil, configErrorf("binning.PlanRelative: window size must be positive, got %d", windowBp)
	}
	if extendBp < windowBp {
		return nil, configErrorf("binning.PlanRelative: extension %d is smaller than the window size %d", extendBp, windowBp)
	}
	n := extendBp / windowBp
	w := float64(windowBp)
	bins := make([]Bin, 0, 2*n)
	for j := -n; j < n; j++ {
		bins = append(bins, Bin{
			Index:    len(bins),
			RelStart: float64(j) * w,
			RelStop:  float64(j+1) * w,
			Unit:     Basepair,
			Anchor:   anchor,
		})
	}
	return bins, nil
}
