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
	"strconv"
	"strings"
)

// Feature is a single annotated interval read from a feature table. All
// coordinates in this package are 1-based and closed, matching the text
// formats the features come from.
type Feature struct {
	Chrom  string
	Start  int
	End    int
	Strand Strand
	Name   string
}

// Len returns the number of bases covered by the feature.
func (f Feature) Len() int {
	return f.End - f.Start + 1
}

// Region is an absolute query interval, derived from a Feature.  Regions are
// never modified after construction.
type Region struct {
	Chrom  string
	Start  int
	End    int
	Strand Strand
}

// Len returns the number of bases covered by the region.
func (r Region) Len() int {
	return r.End - r.Start + 1
}

// Contains reports whether the 1-based position pos lies inside r.
func (r Region) Contains(pos int) bool {
	return pos >= r.Start && pos <= r.End
}

// String renders r as <chrom>:<start>-<end>, with a trailing :<strand> for
// stranded regions.
func (r Region) String() string {
	if r.Strand == StrandNone {
		return fmt.Sprintf("%s:%d-%d", r.Chrom, r.Start, r.End)
	}
	return fmt.Sprintf("%s:%d-%d:%v", r.Chrom, r.Start, r.End, r.Strand)
}

// ParseRegion parses a region string.  Format as <chrom>:<1-based first
// pos>-<last pos>, optionally followed by :<strand>, or <chrom>:<1-based pos>
// for a single base.
func ParseRegion(region string) (result Region, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("coord.ParseRegion: empty region string")
		return
	}
	colonPos := strings.IndexByte(region, ':')
	if colonPos == -1 {
		err = fmt.Errorf("coord.ParseRegion: missing range in %q", region)
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("coord.ParseRegion: empty contig ID")
		return
	}
	result.Chrom = region[:colonPos]
	rangeStr := region[colonPos+1:]
	if strandPos := strings.IndexByte(rangeStr, ':'); strandPos != -1 {
		if result.Strand, err = ParseStrand(rangeStr[strandPos+1:]); err != nil {
			return
		}
		rangeStr = rangeStr[:strandPos]
	}
	// Allow thousands separators, as copied from genome browsers.
	rangeStr = strings.Replace(rangeStr, ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int
		if pos1, err = strconv.Atoi(rangeStr); err != nil {
			return
		}
		if pos1 <= 0 {
			err = fmt.Errorf("coord.ParseRegion: position %v in region string out of range", rangeStr)
			return
		}
		result.Start, result.End = pos1, pos1
		return
	}
	if result.Start, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
		return
	}
	if result.Start <= 0 {
		err = fmt.Errorf("coord.ParseRegion: position %v in region string out of range", rangeStr[:dashPos])
		return
	}
	if result.End, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
		return
	}
	if result.End < result.Start {
		err = fmt.Errorf("coord.ParseRegion: invalid range string %v", rangeStr)
	}
	return
}
