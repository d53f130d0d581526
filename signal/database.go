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
package signal

import (
	"context"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/biogo/store/interval"
	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/binsum/coord"
	"github.com/pkg/errors"
)

// scoredInterval is one database feature.  Start and End are 0-based and
// half-open, as in the BED file it came from.
type scoredInterval struct {
	start, end int
	score      float64
	strand     coord.Strand
	uid        uintptr
}

func (iv scoredInterval) Overlap(b interval.IntRange) bool {
	return iv.start < b.End && iv.end > b.Start
}

func (iv scoredInterval) ID() uintptr { return iv.uid }

func (iv scoredInterval) Range() interval.IntRange {
	return interval.IntRange{Start: iv.start, End: iv.end}
}

// fivePrime returns the 1-based position of the interval's 5' base.
func (iv scoredInterval) fivePrime() int {
	if iv.strand == coord.StrandRev {
		return iv.end
	}
	return iv.start + 1
}

// databaseSource serves scored intervals (bedGraph, or BED with a score
// column) from per-chromosome interval trees.
type databaseSource struct {
	path  string
	trees map[string]*interval.IntTree
	n     int
}

// NewDatabaseSource reads a bedGraph ("chrom start end score") or BED6
// ("chrom start end name score strand") file into memory.  Files ending in
// .gz or .bz2 are decompressed.
func NewDatabaseSource(ctx context.Context, path string) (src Source, err error) {
	var in file.File
	if in, err = file.Open(ctx, path); err != nil {
		return nil, &BackendError{Locator: path, Op: "open", Err: err}
	}
	defer file.CloseAndReport(ctx, in, &err)
	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		defer func() {
			if e := u.Close(); e != nil && err == nil {
				src, err = nil, &BackendError{Locator: path, Op: "read", Err: e}
			}
		}()
		r = u
	}
	s := &databaseSource{path: path, trees: map[string]*interval.IntTree{}}
	if err = s.load(r); err != nil {
		return nil, &BackendError{Locator: path, Op: "read", Err: err}
	}
	log.Debug.Printf("signal: loaded %d intervals on %d chromosomes from %s", s.n, len(s.trees), path)
	return s, nil
}

func (s *databaseSource) load(r io.Reader) error {
	tr := tsv.NewReader(r)
	tr.Comment = '#'
	tr.FieldsPerRecord = -1
	tr.LazyQuotes = true
	for line := 1; ; line++ {
		rec, err := tr.Reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if len(rec) == 0 || strings.HasPrefix(rec[0], "track") || strings.HasPrefix(rec[0], "browser") {
			continue
		}
		if len(rec) < 3 {
			return errors.Errorf("line %d: expected at least 3 columns, got %d", line, len(rec))
		}
		iv := scoredInterval{score: 1, uid: uintptr(s.n)}
		if iv.start, err = strconv.Atoi(rec[1]); err != nil {
			return errors.Wrapf(err, "line %d: start", line)
		}
		if iv.end, err = strconv.Atoi(rec[2]); err != nil {
			return errors.Wrapf(err, "line %d: end", line)
		}
		if iv.end <= iv.start {
			return errors.Errorf("line %d: empty interval %d-%d", line, iv.start, iv.end)
		}
		scoreCol := 3
		if len(rec) >= 5 {
			// BED: the fourth column is the name.
			scoreCol = 4
		}
		if len(rec) > scoreCol && rec[scoreCol] != "." {
			if iv.score, err = strconv.ParseFloat(rec[scoreCol], 64); err != nil {
				return errors.Wrapf(err, "line %d: score", line)
			}
		}
		if len(rec) >= 6 {
			if iv.strand, err = coord.ParseStrand(rec[5]); err != nil {
				return errors.Wrapf(err, "line %d", line)
			}
		}
		tree := s.trees[rec[0]]
		if tree == nil {
			tree = &interval.IntTree{}
			s.trees[rec[0]] = tree
		}
		if err = tree.Insert(iv, true); err != nil {
			return err
		}
		s.n++
	}
	for _, tree := range s.trees {
		tree.AdjustRanges()
	}
	return nil
}

func (s *databaseSource) Query(q Query) Iterator {
	tree := s.trees[q.Region.Chrom]
	if tree == nil {
		return NewSliceIterator(nil)
	}
	// Convert the 1-based closed query to the tree's half-open coordinates.
	qr := scoredInterval{start: q.Region.Start - 1, end: q.Region.End}
	var points []Point
	tree.DoMatching(func(e interval.IntInterface) bool {
		iv := e.(scoredInterval)
		switch q.ValueType {
		case Score:
			start, end := iv.start+1, iv.end
			if start < q.Region.Start {
				start = q.Region.Start
			}
			if end > q.Region.End {
				end = q.Region.End
			}
			for pos := start; pos <= end; pos++ {
				points = append(points, Point{Pos: pos, Value: iv.score, Strand: iv.strand})
			}
		case Count, PCount:
			if q.ValueType == PCount && (iv.start+1 < q.Region.Start || iv.end > q.Region.End) {
				return false
			}
			if pos := iv.fivePrime(); q.Region.Contains(pos) {
				points = append(points, Point{Pos: pos, Value: 1, Strand: iv.strand})
			}
		case Length:
			length := iv.end - iv.start
			if pos := iv.start + 1 + length/2; q.Region.Contains(pos) {
				points = append(points, Point{Pos: pos, Value: float64(length), Strand: iv.strand})
			}
		}
		return false
	}, qr)
	sort.SliceStable(points, func(i, j int) bool { return points[i].Pos < points[j].Pos })
	return NewSliceIterator(points)
}

func (s *databaseSource) Close() error {
	s.trees = nil
	return nil
}
