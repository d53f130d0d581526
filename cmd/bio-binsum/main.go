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
package main

/*
bio-binsum summarizes genomic signal (BAM coverage, scored interval
databases) over the features of a table, either as one value per feature or
per bin of each feature.  Result columns are appended to the input table.
*/

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/binsum/collect"
	"github.com/grailbio/binsum/feature"
	"github.com/grailbio/binsum/output"
)

var (
	mode          = flag.String("mode", collect.DefaultOpts.Mode, "Output shape: 'region' (one value per feature), 'binned' (percent bins plus flanks) or 'relative' (fixed windows around an anchor)")
	method        = flag.String("method", collect.DefaultOpts.Method, "Aggregation method: mean, median, sum, min, max, range, stddev, count, rpm or rpkm")
	stranded      = flag.String("stranded", collect.DefaultOpts.Stranded, "Strand filter relative to the feature: 'all', 'sense' or 'antisense'")
	valueType     = flag.String("value", collect.DefaultOpts.ValueType, "Value collected: 'score', 'count' (5' ends), 'pcount' (contained reads) or 'length'")
	log2          = flag.Bool("log2", collect.DefaultOpts.Log2, "Signal values are log2-transformed; averages are computed in linear space")
	librarySize   = flag.Int64("library-size", collect.DefaultOpts.LibrarySize, "Mapped read count for rpm/rpkm; 0 = read it from the BAM index")
	region        = flag.String("region", collect.DefaultOpts.Region, "Region of each feature: 'whole', 'absolute' (-start/-stop in bp) or 'fractional' (-start-fraction/-stop-fraction of the feature length)")
	anchor        = flag.String("anchor", collect.DefaultOpts.Anchor, "Reference point of -region offsets: '5p', '3p' or 'mid'")
	startOffset   = flag.Int("start", collect.DefaultOpts.StartOffset, "Start offset in bp from -anchor, for -region=absolute")
	stopOffset    = flag.Int("stop", collect.DefaultOpts.StopOffset, "Stop offset in bp from -anchor, for -region=absolute")
	startFraction = flag.Float64("start-fraction", collect.DefaultOpts.StartFraction, "Start offset as a fraction of feature length, for -region=fractional")
	stopFraction  = flag.Float64("stop-fraction", collect.DefaultOpts.StopFraction, "Stop offset as a fraction of feature length, for -region=fractional")
	minFeatureLen = flag.Int("min-feature-len", collect.DefaultOpts.MinFeatureLength, "Features shorter than this use the whole feature for -region=fractional")
	binCount      = flag.Int("bins", collect.DefaultOpts.BinCount, "Number of body bins, for -mode=binned")
	flankCount    = flag.Int("flanks", collect.DefaultOpts.FlankCount, "Number of flank bins on each side, for -mode=binned")
	flankSize     = flag.Int("flank-size", collect.DefaultOpts.FlankSizeBp, "Flank bin width in bp; 0 = as wide as a body bin, in percent")
	window        = flag.Int("window", collect.DefaultOpts.WindowBp, "Window width in bp, for -mode=relative")
	extend        = flag.Int("extend", collect.DefaultOpts.ExtendBp, "Distance covered on each side of -relative-anchor, for -mode=relative")
	relAnchor     = flag.String("relative-anchor", collect.DefaultOpts.RelativeAnchor, "Reference point of -mode=relative windows: '5p', '3p' or 'mid'")
	threshold     = flag.Int("threshold", collect.DefaultOpts.ThresholdBp, "Extended features longer than this are queried bin by bin")
	forceLong     = flag.Bool("force-long", collect.DefaultOpts.ForceLong, "Always query bin by bin")
	interpolate   = flag.Bool("interpolate", collect.DefaultOpts.Interpolate, "Fill interior runs of up to 3 missing bins by linear interpolation")
	forceStrand   = flag.String("force-strand", collect.DefaultOpts.ForceStrand, "If set ('+', '-' or '.'), replaces the strand of every feature")
	mapq          = flag.Int("mapq", collect.DefaultOpts.MinMapQ, "Reads with MAPQ below this level are skipped")
	flagExclude   = flag.Int("flag-exclude", collect.DefaultOpts.FlagExclude, "Reads with a FLAG bit intersecting this value are skipped")
	outPath       = flag.String("out", "binsum.tsv", "Output path; a .gz suffix selects bgzip compression")
	parallelism   = flag.Int("parallelism", 0, "Maximum number of simultaneous (local) workers; 0 = runtime.NumCPU()")
	tempDir       = flag.String("temp-dir", collect.DefaultOpts.TempDir, "Directory to write temporary files to (default os.TempDir())")
)

func bioBinsumUsage() {
	fmt.Printf("Usage: %s [OPTIONS] featurepath dataset [dataset...]\n", os.Args[0])
	fmt.Printf("A dataset is a BAM or database path, or several joined with '&'.\n")
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = bioBinsumUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() < 2 {
		log.Fatalf("Missing positional arguments (featurepath and at least one dataset required); please check flag syntax: '%s'", strings.Join(flag.Args(), " "))
	}
	ctx := vcontext.Background()
	opts := collect.Opts{
		Mode:             *mode,
		Method:           *method,
		Stranded:         *stranded,
		ValueType:        *valueType,
		Log2:             *log2,
		LibrarySize:      *librarySize,
		Region:           *region,
		Anchor:           *anchor,
		StartOffset:      *startOffset,
		StopOffset:       *stopOffset,
		StartFraction:    *startFraction,
		StopFraction:     *stopFraction,
		MinFeatureLength: *minFeatureLen,
		BinCount:         *binCount,
		FlankCount:       *flankCount,
		FlankSizeBp:      *flankSize,
		WindowBp:         *window,
		ExtendBp:         *extend,
		RelativeAnchor:   *relAnchor,
		ThresholdBp:      *threshold,
		ForceLong:        *forceLong,
		Interpolate:      *interpolate,
		ForceStrand:      *forceStrand,
		MinMapQ:          *mapq,
		FlagExclude:      *flagExclude,
		Parallelism:      *parallelism,
		TempDir:          *tempDir,
	}
	cfg, err := collect.NewRunConfig(ctx, opts, flag.Args()[1:])
	if err != nil {
		log.Fatalf("%v", err)
	}
	table, err := feature.Load(ctx, flag.Arg(0))
	if err != nil {
		log.Fatalf("%v", err)
	}
	err = collect.Run(ctx, table, cfg, func() (output.Sink, error) {
		return output.NewTSVFile(ctx, *outPath, output.TSVOpts{Parallelism: cfg.Parallelism})
	})
	if err != nil {
		log.Panicf("%v", err)
	}
	log.Printf("bio-binsum: wrote %d rows to %s", table.NumRows(), *outPath)
	log.Debug.Printf("exiting")
}
