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
package signal_test

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/binsum/aggregate"
	"github.com/grailbio/binsum/binning"
	"github.com/grailbio/binsum/coord"
	"github.com/grailbio/binsum/signal"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/stretchr/testify/require"
)

// writeTestBAM writes reads to dir/test.bam along with a .bai index, and
// returns the BAM path.
func writeTestBAM(t *testing.T, dir string, ref *sam.Reference, reads []sam.Record) string {
	ctx := vcontext.Background()
	header, err := sam.NewHeader(nil, []*sam.Reference{ref})
	require.NoError(t, err)
	bampath := filepath.Join(dir, "test.bam")

	out, err := file.Create(ctx, bampath)
	require.NoError(t, err)
	w, err := bam.NewWriter(out.Writer(ctx), header, 1)
	require.NoError(t, err)
	for i := range reads {
		require.NoError(t, w.Write(&reads[i]))
	}
	require.NoError(t, w.Close())
	require.NoError(t, out.Close(ctx))

	in, err := file.Open(ctx, bampath)
	require.NoError(t, err)
	r, err := bam.NewReader(in.Reader(ctx), 1)
	require.NoError(t, err)
	var index bam.Index
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		require.NoError(t, index.Add(rec, r.LastChunk()))
	}
	require.NoError(t, r.Close())
	require.NoError(t, in.Close(ctx))

	bai, err := file.Create(ctx, bampath+".bai")
	require.NoError(t, err)
	require.NoError(t, bam.WriteIndex(bai.Writer(ctx), &index))
	require.NoError(t, bai.Close(ctx))
	return bampath
}

func testRead(name string, ref *sam.Reference, pos, length int, flags sam.Flags, mapq byte) sam.Record {
	seq := make([]byte, length)
	qual := make([]byte, length)
	for i := range seq {
		seq[i] = 'A'
		qual[i] = 40
	}
	return sam.Record{
		Name:    name,
		Ref:     ref,
		Pos:     pos,
		MapQ:    mapq,
		Cigar:   []sam.CigarOp{sam.NewCigarOp(sam.CigarMatch, length)},
		Flags:   flags,
		MateRef: nil,
		MatePos: -1,
		Seq:     sam.NewSeq(seq),
		Qual:    qual,
	}
}

func queryAll(t *testing.T, src signal.Source, q signal.Query) []signal.Point {
	var points []signal.Point
	require.NoError(t, signal.Drain(src.Query(q), q, func(p signal.Point) { points = append(points, p) }))
	return points
}

func TestBAMSource(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	ref, err := sam.NewReference("chr1", "", "", 100000, nil, nil)
	require.NoError(t, err)
	// Pos is 0-based: read1 covers 1-based 101..110.
	reads := []sam.Record{
		testRead("read1", ref, 100, 10, 0, 60),
		testRead("read2", ref, 104, 10, sam.Reverse, 60),
		testRead("lowq", ref, 105, 10, 0, 5),
		testRead("dup", ref, 106, 10, sam.Duplicate, 60),
		testRead("far", ref, 5000, 10, 0, 60),
	}
	bampath := writeTestBAM(t, tmpdir, ref, reads)

	opts := signal.DefaultBAMOpts
	opts.MinMapQ = 10
	src, err := signal.NewBAMSource(vcontext.Background(), bampath, opts)
	require.NoError(t, err)

	region := coord.Region{Chrom: "chr1", Start: 101, End: 120}

	// Count: 5' ends, 101 for read1 and 114 for the reverse read2.
	points := queryAll(t, src, signal.Query{Region: region, ValueType: signal.Count})
	assert.EQ(t, points, []signal.Point{
		{Pos: 101, Value: 1, Strand: coord.StrandFwd},
		{Pos: 114, Value: 1, Strand: coord.StrandRev},
	})

	// The strand restriction keeps only the reverse read.
	points = queryAll(t, src, signal.Query{Region: region, Strand: coord.StrandRev, ValueType: signal.Count})
	assert.EQ(t, len(points), 1)
	assert.EQ(t, points[0].Pos, 114)

	// PCount over a region that truncates read2.
	points = queryAll(t, src, signal.Query{Region: coord.Region{Chrom: "chr1", Start: 101, End: 112}, ValueType: signal.PCount})
	assert.EQ(t, points, []signal.Point{{Pos: 101, Value: 1, Strand: coord.StrandFwd}})

	// Score is per-strand depth, in position order.
	points = queryAll(t, src, signal.Query{Region: coord.Region{Chrom: "chr1", Start: 109, End: 111}, ValueType: signal.Score})
	assert.EQ(t, points, []signal.Point{
		{Pos: 109, Value: 1, Strand: coord.StrandFwd},
		{Pos: 109, Value: 1, Strand: coord.StrandRev},
		{Pos: 110, Value: 1, Strand: coord.StrandFwd},
		{Pos: 110, Value: 1, Strand: coord.StrandRev},
		{Pos: 111, Value: 1, Strand: coord.StrandRev},
	})

	// Length sits at the midpoint.
	points = queryAll(t, src, signal.Query{Region: region, ValueType: signal.Length})
	assert.EQ(t, points, []signal.Point{
		{Pos: 106, Value: 10, Strand: coord.StrandFwd},
		{Pos: 110, Value: 10, Strand: coord.StrandRev},
	})

	// Unknown chromosomes have no data.
	assert.EQ(t, len(queryAll(t, src, signal.Query{Region: coord.Region{Chrom: "chrX", Start: 1, End: 10}})), 0)

	n, err := src.(signal.LibrarySizer).LibrarySize()
	require.NoError(t, err)
	assert.EQ(t, n, int64(len(reads)))
	require.NoError(t, src.Close())
}

func TestBAMSourceMissingIndex(t *testing.T) {
	_, err := signal.NewBAMSource(vcontext.Background(), "/nonexistent/x.bam", signal.DefaultBAMOpts)
	require.Error(t, err)
	_, ok := err.(*signal.BackendError)
	assert.True(t, ok)
}

func TestBAMSourceDepth(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	ref, err := sam.NewReference("chr1", "", "", 100000, nil, nil)
	require.NoError(t, err)
	gapped := testRead("gapped", ref, 3000, 10, 0, 60)
	gapped.Cigar = []sam.CigarOp{
		sam.NewCigarOp(sam.CigarMatch, 5),
		sam.NewCigarOp(sam.CigarDeletion, 10),
		sam.NewCigarOp(sam.CigarMatch, 5),
	}
	reads := []sam.Record{
		// Three forward reads over 101..200.
		testRead("a1", ref, 100, 100, 0, 60),
		testRead("a2", ref, 100, 100, 0, 60),
		testRead("a3", ref, 100, 100, 0, 60),
		// 1001..1020 forward, twice 1011..1030 reverse.
		testRead("b1", ref, 1000, 20, 0, 60),
		testRead("b2", ref, 1010, 20, sam.Reverse, 60),
		testRead("b3", ref, 1010, 20, sam.Reverse, 60),
		// 3001..3005, deletion, 3016..3020.
		gapped,
	}
	bampath := writeTestBAM(t, tmpdir, ref, reads)
	src, err := signal.NewBAMSource(vcontext.Background(), bampath, signal.DefaultBAMOpts)
	require.NoError(t, err)
	defer func() { require.NoError(t, src.Close()) }()

	value := func(start, end int, m aggregate.Method, s aggregate.Stranded) float64 {
		f := coord.Feature{Chrom: "chr1", Start: start, End: end, Strand: coord.StrandFwd}
		v, err := binning.QueryValue(src, f, start, end, signal.Score, aggregate.Opts{Method: m, Stranded: s})
		require.NoError(t, err)
		return v
	}
	for _, m := range []aggregate.Method{aggregate.Mean, aggregate.Max, aggregate.Median, aggregate.Min} {
		assert.EQ(t, value(101, 200, m, aggregate.All), 3.0, "method %v", m)
		assert.EQ(t, value(101, 200, m, aggregate.Sense), 3.0, "method %v", m)
	}
	assert.EQ(t, value(101, 200, aggregate.Sum, aggregate.All), 300.0)
	assert.True(t, aggregate.IsNoValue(value(101, 200, aggregate.Mean, aggregate.Antisense)))

	// Strands add up when both are kept.
	assert.EQ(t, value(1001, 1030, aggregate.Mean, aggregate.All), 2.0)
	assert.EQ(t, value(1001, 1030, aggregate.Max, aggregate.All), 3.0)
	assert.EQ(t, value(1001, 1030, aggregate.Count, aggregate.All), 30.0)
	assert.EQ(t, value(1001, 1030, aggregate.Max, aggregate.Sense), 1.0)
	assert.EQ(t, value(1001, 1030, aggregate.Mean, aggregate.Antisense), 2.0)

	// Deleted bases are not covered.
	points := queryAll(t, src, signal.Query{Region: coord.Region{Chrom: "chr1", Start: 3001, End: 3020}, ValueType: signal.Score})
	var positions []int
	for _, p := range points {
		positions = append(positions, p.Pos)
		assert.EQ(t, p.Value, 1.0)
	}
	assert.EQ(t, positions, []int{3001, 3002, 3003, 3004, 3005, 3016, 3017, 3018, 3019, 3020})
}
