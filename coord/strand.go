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
	"strings"
)

// Strand describes the orientation of a feature, a region, or a single
// signal observation.
type Strand int8

const (
	// StrandNone means either no strand restriction, or an unstranded feature
	// or observation.
	StrandNone Strand = iota
	// StrandFwd is the forward (+, Watson) strand.
	StrandFwd
	// StrandRev is the reverse (-, Crick) strand.
	StrandRev
)

// StrandToASCIITable is the Strand -> ASCII mapping.
var StrandToASCIITable = [...]byte{'.', '+', '-'}

// String implements fmt.Stringer.
func (s Strand) String() string {
	if s < StrandNone || s > StrandRev {
		return fmt.Sprintf("Strand(%d)", int8(s))
	}
	return string(StrandToASCIITable[s])
}

// Opposite returns the other strand. StrandNone is its own opposite.
func (s Strand) Opposite() Strand {
	switch s {
	case StrandFwd:
		return StrandRev
	case StrandRev:
		return StrandFwd
	}
	return StrandNone
}

// ParseStrand interprets the strand column of a feature table. The usual
// BED/GFF glyphs are accepted, as are the numeric (1, -1, 0) and word forms
// found in older annotation tables.
func ParseStrand(s string) (Strand, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "+", "1", "+1", "f", "w", "forward", "watson", "plus":
		return StrandFwd, nil
	case "-", "-1", "r", "c", "reverse", "crick", "minus":
		return StrandRev, nil
	case "", ".", "0", "*":
		return StrandNone, nil
	}
	return StrandNone, fmt.Errorf("coord.ParseStrand: unrecognized strand %q", s)
}
