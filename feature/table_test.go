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
package feature_test

import (
	"path/filepath"
	"testing"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/binsum/coord"
	"github.com/grailbio/binsum/feature"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindColumns(t *testing.T) {
	tests := []struct {
		header []string
		want   feature.Columns
	}{
		{[]string{"Chromosome", "Start", "Stop", "Strand", "Name"}, feature.Columns{0, 1, 2, 3, 4}},
		{[]string{"gene_name", "seq_id", "START", "end"}, feature.Columns{1, 2, 3, -1, -1}},
		{[]string{"ID", "chrom", "start", "end", "strand"}, feature.Columns{1, 2, 3, 4, 0}},
	}
	for _, test := range tests {
		c, err := feature.FindColumns(test.header)
		require.NoError(t, err)
		expect.EQ(t, c, test.want)
	}
	_, err := feature.FindColumns([]string{"chr", "start", "end"})
	require.Error(t, err)
	_, err = feature.FindColumns([]string{"chromosome", "start"})
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	path := filepath.Join(tmpdir, "genes.tsv")
	out, err := file.Create(ctx, path)
	require.NoError(t, err)
	_, err = out.Writer(ctx).Write([]byte(`# genes
Name	Chromo	Start	Stop	Strand	Score
g1	chr1	1000	2000	+	1
g2	chr1	3000	3500	-	2
bad	chr1	x	3500	-	3
g4	chr2	10	20	.	4
`))
	require.NoError(t, err)
	require.NoError(t, out.Close(ctx))

	table, err := feature.Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 4, table.NumRows())
	assert.Equal(t, []string{"Name", "Chromo", "Start", "Stop", "Strand", "Score"}, table.Header())

	f, err := table.Feature(1)
	require.NoError(t, err)
	assert.Equal(t, coord.Feature{Chrom: "chr1", Start: 3000, End: 3500, Strand: coord.StrandRev, Name: "g2"}, f)

	_, err = table.Feature(2)
	require.Error(t, err)
	_, ok := err.(*coord.RegionError)
	assert.True(t, ok)

	slice := table.Slice(2, 4)
	assert.Equal(t, 2, slice.NumRows())
	assert.Equal(t, 2, slice.Offset())
	assert.Equal(t, []string{"g4", "chr2", "10", "20", ".", "4"}, slice.Fields(1))

	var names []string
	var nerr int
	require.NoError(t, table.ForEach(func(i int, f coord.Feature, err error) error {
		if err != nil {
			nerr++
			return nil
		}
		names = append(names, f.Name)
		return nil
	}))
	assert.Equal(t, []string{"g1", "g2", "g4"}, names)
	assert.Equal(t, 1, nerr)
}

func TestLoadErrors(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	_, err := feature.Load(ctx, filepath.Join(tmpdir, "missing.tsv"))
	require.Error(t, err)
	expect.HasSubstr(t, err.Error(), "missing.tsv")

	for _, data := range []string{"", "# only a comment\n", "a\tb\tc\n1\t2\t3\n"} {
		path := filepath.Join(tmpdir, "bad.tsv")
		out, err := file.Create(ctx, path)
		require.NoError(t, err)
		_, err = out.Writer(ctx).Write([]byte(data))
		require.NoError(t, err)
		require.NoError(t, out.Close(ctx))
		_, err = feature.Load(ctx, path)
		require.Error(t, err, data)
	}
}

func TestFeatureBounds(t *testing.T) {
	table, err := feature.NewTable([]string{"chrom", "start", "end"}, [][]string{
		{"chr1", "0", "10"},
		{"chr1", "20", "10"},
		{"", "1", "10"},
		{"chr1", "5", "5"},
	})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := table.Feature(i)
		require.Error(t, err, "row %d", i)
	}
	f, err := table.Feature(3)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Len())
	assert.Equal(t, coord.StrandNone, f.Strand)
}
