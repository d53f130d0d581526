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

// Package collect runs the per-feature signal collection over a feature
// table, optionally split across parallel workers.
package collect

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/binsum/aggregate"
	"github.com/grailbio/binsum/binning"
	"github.com/grailbio/binsum/coord"
	"github.com/grailbio/binsum/signal"
)

// Mode is the shape of the output.
type Mode int

const (
	// RegionMode emits one value per dataset for each feature's resolved
	// region.
	RegionMode Mode = iota
	// BinnedMode splits the resolved region into percent bins, plus optional
	// flanks.
	BinnedMode
	// RelativeMode emits fixed-width windows around an anchor of the resolved
	// region.
	RelativeMode
)

var modeNames = [...]string{"region", "binned", "relative"}

func (m Mode) String() string {
	if m < RegionMode || m > RelativeMode {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// ParseMode parses "region", "binned" or "relative".
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if strings.EqualFold(s, name) {
			return Mode(i), nil
		}
	}
	return RegionMode, &aggregate.ConfigError{Msg: fmt.Sprintf("collect: unknown mode %q", s)}
}

// OpenFunc opens a new handle on a dataset.
type OpenFunc func(ctx context.Context, d signal.Dataset, opts signal.OpenOpts) (signal.Source, error)

// Opts holds the raw run options, as set by command-line flags.
type Opts struct {
	// Mode is "region", "binned" or "relative".
	Mode string
	// Method, Stranded and ValueType name the aggregation.
	Method    string
	Stranded  string
	ValueType string
	Log2      bool
	// LibrarySize is the read count rpm and rpkm divide by.  If zero, it is
	// taken from each dataset's index.
	LibrarySize int64

	// Region is "whole", "absolute" or "fractional", and selects which of the
	// offsets below apply.
	Region           string
	Anchor           string
	StartOffset      int
	StopOffset       int
	StartFraction    float64
	StopFraction     float64
	MinFeatureLength int

	// Binned mode.
	BinCount    int
	FlankCount  int
	FlankSizeBp int
	// Relative mode.
	WindowBp int
	ExtendBp int
	// RelativeAnchor is the reference point of relative-mode windows.
	RelativeAnchor string

	ThresholdBp int
	ForceLong   bool
	Interpolate bool
	// ForceStrand, if not "", replaces the strand of every feature.
	ForceStrand string

	// BAM filters.
	MinMapQ     int
	FlagExclude int

	// Parallelism is the number of workers.  Zero means runtime.NumCPU().
	Parallelism int
	// TempDir holds the per-worker partial files.  "" means os.TempDir().
	TempDir string
	// Opener opens datasets.  Nil means signal.Open.
	Opener OpenFunc
}

// DefaultOpts is the default for Opts.
var DefaultOpts = Opts{
	Mode:             "binned",
	Method:           "mean",
	Stranded:         "all",
	ValueType:        "score",
	Region:           "whole",
	Anchor:           "5p",
	MinFeatureLength: coord.DefaultMinFeatureLength,
	BinCount:         10,
	WindowBp:         100,
	ExtendBp:         1000,
	RelativeAnchor:   "5p",
	ThresholdBp:      binning.DefaultThresholdBp,
	Interpolate:      true,
	FlagExclude:      signal.DefaultBAMOpts.FlagExclude,
}

// RunConfig is the validated, immutable form of Opts.  It is built once and
// shared read-only by all workers.
type RunConfig struct {
	Mode     Mode
	Datasets []signal.Dataset
	Spec     coord.RelativeSpec
	// Bins is empty in RegionMode.
	Bins      []binning.Bin
	ValueType signal.ValueType
	// Agg holds the aggregation options of each dataset; only LibrarySize
	// differs between them.
	Agg         []aggregate.Opts
	ThresholdBp int
	ForceLong   bool
	Interpolate bool
	// ForceStrand applies when HasForceStrand is set.
	ForceStrand    coord.Strand
	HasForceStrand bool
	OpenOpts       signal.OpenOpts
	Parallelism    int
	TempDir        string

	// Columns are the names of the value columns, dataset-major.
	Columns []string

	opener OpenFunc
}

// ValuesPerDataset is the number of values each dataset contributes to a row.
func (c *RunConfig) ValuesPerDataset() int {
	if c.Mode == RegionMode {
		return 1
	}
	return len(c.Bins)
}

func (c *RunConfig) open(ctx context.Context, d signal.Dataset) (signal.Source, error) {
	return c.opener(ctx, d, c.OpenOpts)
}

func parseSpec(opts *Opts) (coord.RelativeSpec, error) {
	anchor, err := coord.ParseAnchor(opts.Anchor)
	if err != nil {
		return coord.RelativeSpec{}, &aggregate.ConfigError{Msg: err.Error()}
	}
	switch strings.ToLower(opts.Region) {
	case "", "whole":
		return coord.WholeSpec, nil
	case "absolute":
		return coord.AbsoluteSpec(opts.StartOffset, opts.StopOffset, anchor), nil
	case "fractional":
		return coord.FractionalSpec(opts.StartFraction, opts.StopFraction, anchor, opts.MinFeatureLength), nil
	}
	return coord.RelativeSpec{}, &aggregate.ConfigError{Msg: fmt.Sprintf("collect: unknown region spec %q", opts.Region)}
}

// NewRunConfig validates opts for the given datasets.  Every problem is
// reported as a *aggregate.ConfigError, except failures to open a dataset to
// read its library size, which are *signal.BackendError.
func NewRunConfig(ctx context.Context, opts Opts, datasets []string) (*RunConfig, error) {
	c := &RunConfig{
		ThresholdBp: opts.ThresholdBp,
		ForceLong:   opts.ForceLong,
		Interpolate: opts.Interpolate,
		TempDir:     opts.TempDir,
		Parallelism: opts.Parallelism,
		opener:      opts.Opener,
	}
	if c.opener == nil {
		c.opener = signal.Open
	}
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.NumCPU()
	}
	c.OpenOpts = signal.DefaultOpenOpts
	c.OpenOpts.BAM.MinMapQ = opts.MinMapQ
	c.OpenOpts.BAM.FlagExclude = opts.FlagExclude

	var err error
	if len(datasets) == 0 {
		return nil, &aggregate.ConfigError{Msg: "collect: no datasets"}
	}
	for _, s := range datasets {
		d, err := signal.ParseDataset(s)
		if err != nil {
			return nil, &aggregate.ConfigError{Msg: err.Error()}
		}
		c.Datasets = append(c.Datasets, d)
	}
	if c.Mode, err = ParseMode(opts.Mode); err != nil {
		return nil, err
	}
	if c.Spec, err = parseSpec(&opts); err != nil {
		return nil, err
	}
	if opts.ForceStrand != "" {
		if c.ForceStrand, err = coord.ParseStrand(opts.ForceStrand); err != nil {
			return nil, &aggregate.ConfigError{Msg: err.Error()}
		}
		c.HasForceStrand = true
	}
	switch c.Mode {
	case BinnedMode:
		c.Bins, err = binning.Plan(opts.BinCount, opts.FlankCount, opts.FlankSizeBp)
	case RelativeMode:
		var anchor coord.Anchor
		if anchor, err = coord.ParseAnchor(opts.RelativeAnchor); err != nil {
			return nil, &aggregate.ConfigError{Msg: err.Error()}
		}
		c.Bins, err = binning.PlanRelative(opts.WindowBp, opts.ExtendBp, anchor)
	}
	if err != nil {
		return nil, err
	}

	agg := aggregate.Opts{Log2: opts.Log2, LibrarySize: opts.LibrarySize}
	if agg.Method, err = aggregate.ParseMethod(opts.Method); err != nil {
		return nil, err
	}
	if agg.Stranded, err = aggregate.ParseStranded(opts.Stranded); err != nil {
		return nil, err
	}
	vt, err := signal.ParseValueType(opts.ValueType)
	if err != nil {
		return nil, &aggregate.ConfigError{Msg: err.Error()}
	}
	c.ValueType = aggregate.EffectiveValueType(agg.Method, vt)
	if c.ValueType != vt {
		log.Printf("collect: method %v counts reads; using value type %v instead of %v", agg.Method, c.ValueType, vt)
	}
	agg.ValueType = c.ValueType
	for _, d := range c.Datasets {
		a := agg
		if a.Method.Normalized() && a.LibrarySize == 0 {
			if a.LibrarySize, err = c.librarySize(ctx, d); err != nil {
				return nil, err
			}
			log.Printf("collect: %s: library size %d", d.Name, a.LibrarySize)
		}
		if err = aggregate.Validate(a.Method, c.ValueType, a.LibrarySize); err != nil {
			return nil, err
		}
		c.Agg = append(c.Agg, a)
	}

	for _, d := range c.Datasets {
		if c.Mode == RegionMode {
			c.Columns = append(c.Columns, d.Name)
			continue
		}
		for _, name := range binning.Names(c.Bins) {
			c.Columns = append(c.Columns, d.Name+"_"+name)
		}
	}
	return c, nil
}

// librarySize opens d once to read its library size.  Sources that cannot
// report one yield zero, which Validate rejects.
func (c *RunConfig) librarySize(ctx context.Context, d signal.Dataset) (n int64, err error) {
	src, err := c.open(ctx, d)
	if err != nil {
		return 0, err
	}
	defer func() {
		if e := src.Close(); e != nil && err == nil {
			err = e
		}
	}()
	ls, ok := src.(signal.LibrarySizer)
	if !ok {
		log.Error.Printf("collect: %s cannot report a library size", d.Name)
		return 0, nil
	}
	return ls.LibrarySize()
}
