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

	baseerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/binsum/coord"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf/index"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
	"v.io/x/lib/vlog"
)

// BAMOpts controls which alignments a BAM source reports.
type BAMOpts struct {
	// Index is the pathname of the .bai file.  If "", Path + ".bai".
	Index string
	// MinMapQ drops alignments with MAPQ below this value.
	MinMapQ int
	// FlagExclude drops alignments with a FLAG bit intersecting this value.
	FlagExclude int
}

// DefaultBAMOpts skips secondary, QC-fail, duplicate and supplementary
// alignments, as well as unmapped reads.
var DefaultBAMOpts = BAMOpts{
	FlagExclude: int(sam.Unmapped | sam.Secondary | sam.QCFail | sam.Duplicate | sam.Supplementary),
}

// bamSource reads alignments from an indexed BAM file.  Every query seeks the
// same reader, so only one iterator can be active at a time.
type bamSource struct {
	path string
	opts BAMOpts
	err  baseerrors.Once

	in     file.File
	reader *bam.Reader
	index  *bam.Index
	refs   map[string]*sam.Reference
	active bool
}

func (b *bamSource) indexPath() string {
	if b.opts.Index == "" {
		return b.path + ".bai"
	}
	return b.opts.Index
}

// NewBAMSource opens an indexed BAM file.  Both the BAM and the index may be
// any path grailbio/base/file understands.
func NewBAMSource(ctx context.Context, path string, opts BAMOpts) (Source, error) {
	b := &bamSource{path: path, opts: opts}
	var err error
	if b.in, err = file.Open(ctx, path); err != nil {
		return nil, &BackendError{Locator: path, Op: "open", Err: err}
	}
	indexIn, err := file.Open(ctx, b.indexPath())
	if err != nil {
		b.internalClose(ctx)
		return nil, &BackendError{Locator: b.indexPath(), Op: "open", Err: err}
	}
	b.index, err = bam.ReadIndex(indexIn.Reader(ctx))
	if e := indexIn.Close(ctx); e != nil && err == nil {
		err = e
	}
	if err != nil {
		b.internalClose(ctx)
		return nil, &BackendError{Locator: b.indexPath(), Op: "read index", Err: err}
	}
	if b.reader, err = bam.NewReader(b.in.Reader(ctx), 1); err != nil {
		b.internalClose(ctx)
		return nil, &BackendError{Locator: path, Op: "read header", Err: err}
	}
	b.refs = make(map[string]*sam.Reference)
	for _, ref := range b.reader.Header().Refs() {
		b.refs[ref.Name()] = ref
	}
	return b, nil
}

// LibrarySize implements LibrarySizer.  It sums the mapped-read counts stored
// in the index, so it does not need to scan the file.
func (b *bamSource) LibrarySize() (int64, error) {
	var total int64
	for _, ref := range b.reader.Header().Refs() {
		stats, ok := b.index.ReferenceStats(ref.ID())
		if !ok {
			continue
		}
		total += int64(stats.Mapped)
	}
	if total == 0 {
		return 0, &BackendError{Locator: b.path, Op: "library size", Err: errors.New("index has no mapped-read statistics")}
	}
	return total, nil
}

func (b *bamSource) Query(q Query) Iterator {
	if b.active {
		vlog.Fatalf("bamSource %s: query while another iterator is active", b.path)
	}
	ref, ok := b.refs[q.Region.Chrom]
	if !ok {
		vlog.VI(1).Infof("%s: no reference %s, returning no alignments", b.path, q.Region.Chrom)
		return NewSliceIterator(nil)
	}
	// Index positions are 0-based half-open.
	chunks, err := b.index.Chunks(ref, q.Region.Start-1, q.Region.End)
	if err == index.ErrInvalid || len(chunks) == 0 {
		// No alignments in this interval.
		return NewSliceIterator(nil)
	}
	if err != nil {
		return NewErrorIterator(&BackendError{Locator: b.path, Op: "query " + q.Region.String(), Err: err})
	}
	if err = b.reader.Seek(chunks[0].Begin); err != nil {
		return NewErrorIterator(&BackendError{Locator: b.path, Op: "seek " + q.Region.String(), Err: err})
	}
	b.active = true
	return &bamIterator{source: b, q: q, ref: ref}
}

func (b *bamSource) Close() error {
	if b.active {
		vlog.Fatalf("bamSource %s: close with an active iterator", b.path)
	}
	b.internalClose(context.Background())
	return b.err.Err()
}

func (b *bamSource) internalClose(ctx context.Context) {
	if b.reader != nil {
		b.err.Set(b.reader.Close())
		b.reader = nil
	}
	if b.in != nil {
		b.err.Set(b.in.Close(ctx))
		b.in = nil
	}
}

// bamIterator turns the alignments overlapping a query into points.  Count,
// PCount and Length stream one alignment at a time.  Score needs the depth
// of every position, so the first Scan reads all alignments of the region
// and the iterator then replays the buffered points.
type bamIterator struct {
	source  *bamSource
	q       Query
	ref     *sam.Reference
	pending []Point
	cur     Point
	err     error
	done    bool
}

func (i *bamIterator) Scan() bool {
	if i.q.ValueType == Score && !i.done {
		i.pending = i.depth()
		i.done = true
	}
	for len(i.pending) == 0 {
		rec, ok := i.next()
		if !ok {
			return false
		}
		i.pending = i.appendPoints(i.pending[:0], rec)
	}
	i.cur, i.pending = i.pending[0], i.pending[1:]
	return true
}

// next returns the next kept alignment that overlaps the query, or false at
// the end of the query or on error.
func (i *bamIterator) next() (*sam.Record, bool) {
	for !i.done && i.err == nil {
		rec, err := i.source.reader.Read()
		if err != nil {
			if err != io.EOF {
				i.err = &BackendError{Locator: i.source.path, Op: "read " + i.q.Region.String(), Err: err}
			}
			i.done = true
			break
		}
		if rec.Ref == nil || rec.Ref.ID() != i.ref.ID() || rec.Pos >= i.q.Region.End {
			// Past the end of the query.
			i.done = true
			break
		}
		if rec.End() < i.q.Region.Start || !i.keep(rec) {
			continue
		}
		return rec, true
	}
	return nil, false
}

func (i *bamIterator) keep(rec *sam.Record) bool {
	if int(rec.Flags)&i.source.opts.FlagExclude != 0 {
		return false
	}
	return int(rec.MapQ) >= i.source.opts.MinMapQ
}

func strandOf(rec *sam.Record) coord.Strand {
	if rec.Flags&sam.Reverse != 0 {
		return coord.StrandRev
	}
	return coord.StrandFwd
}

// depth reads every alignment of the query and returns, in position order,
// one point per covered position and strand whose value is the number of
// alignments with an aligned base there.  Deletions and skipped regions do
// not count as coverage.  Forward points precede reverse ones at the same
// position.
func (i *bamIterator) depth() []Point {
	region := i.q.Region
	fwd, rev := make([]int32, region.Len()), make([]int32, region.Len())
	for {
		rec, ok := i.next()
		if !ok {
			break
		}
		d := fwd
		if strandOf(rec) == coord.StrandRev {
			d = rev
		}
		// rec.Pos is 0-based.
		pos := rec.Pos + 1
		for _, co := range rec.Cigar {
			n := co.Len()
			switch co.Type() {
			case sam.CigarMatch, sam.CigarEqual, sam.CigarMismatch:
				for k := pos; k < pos+n; k++ {
					if region.Contains(k) {
						d[k-region.Start]++
					}
				}
				pos += n
			case sam.CigarDeletion, sam.CigarSkipped:
				pos += n
			}
		}
	}
	if i.err != nil {
		return nil
	}
	var points []Point
	for k := range fwd {
		if fwd[k] > 0 {
			points = append(points, Point{Pos: region.Start + k, Value: float64(fwd[k]), Strand: coord.StrandFwd})
		}
		if rev[k] > 0 {
			points = append(points, Point{Pos: region.Start + k, Value: float64(rev[k]), Strand: coord.StrandRev})
		}
	}
	return points
}

// appendPoints converts one alignment to a Count, PCount or Length point
// inside the query region.  rec.Pos is 0-based, rec.End() is the 0-based
// exclusive end, so the alignment covers 1-based positions rec.Pos+1 through
// rec.End().
func (i *bamIterator) appendPoints(dst []Point, rec *sam.Record) []Point {
	region := i.q.Region
	strand := strandOf(rec)
	start1, end1 := rec.Pos+1, rec.End()
	switch i.q.ValueType {
	case Count, PCount:
		if i.q.ValueType == PCount && (start1 < region.Start || end1 > region.End) {
			return dst
		}
		pos := start1
		if strand == coord.StrandRev {
			pos = end1
		}
		if region.Contains(pos) {
			dst = append(dst, Point{Pos: pos, Value: 1, Strand: strand})
		}
	case Length:
		length := end1 - start1 + 1
		if pos := start1 + length/2; region.Contains(pos) {
			dst = append(dst, Point{Pos: pos, Value: float64(length), Strand: strand})
		}
	}
	return dst
}

func (i *bamIterator) Point() Point { return i.cur }

func (i *bamIterator) Err() error { return i.err }

func (i *bamIterator) Close() error {
	if !i.source.active {
		vlog.Fatal("bamIterator closed twice")
	}
	i.source.active = false
	i.source.err.Set(i.err)
	return i.err
}
