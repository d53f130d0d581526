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

// Package feature reads tables of genomic features.  A table is any
// tab-separated file with a header row; the coordinate columns are located by
// name.
package feature

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/binsum/coord"
)

// Columns holds the indexes of the coordinate columns of a table.  Strand and
// Name are -1 when absent.
type Columns struct {
	Chrom, Start, End, Strand, Name int
}

// columnPrefixes lists, for each coordinate column, the case-insensitive
// header prefixes that identify it.
var columnPrefixes = []struct {
	field    func(*Columns) *int
	prefixes []string
	required bool
}{
	{func(c *Columns) *int { return &c.Chrom }, []string{"chromo", "seq_id", "chrom"}, true},
	{func(c *Columns) *int { return &c.Start }, []string{"start"}, true},
	{func(c *Columns) *int { return &c.End }, []string{"stop", "end"}, true},
	{func(c *Columns) *int { return &c.Strand }, []string{"strand"}, false},
	{func(c *Columns) *int { return &c.Name }, []string{"name", "id"}, false},
}

// FindColumns locates the coordinate columns in header.  For each column the
// first header matching one of its prefixes wins.
func FindColumns(header []string) (Columns, error) {
	c := Columns{-1, -1, -1, -1, -1}
	for _, col := range columnPrefixes {
		idx := col.field(&c)
	search:
		for _, prefix := range col.prefixes {
			for i, h := range header {
				if strings.HasPrefix(strings.ToLower(strings.TrimSpace(h)), prefix) {
					*idx = i
					break search
				}
			}
		}
		if *idx < 0 && col.required {
			return c, fmt.Errorf("feature: no column named %s* in header %q", col.prefixes[0], header)
		}
	}
	return c, nil
}

// Table is an in-memory feature table.  Slices of a table share its rows.
type Table struct {
	header []string
	cols   Columns
	rows   [][]string
	// offset is the index of rows[0] in the table this one was sliced from.
	offset int
}

// NewTable builds a table from a header and rows.
func NewTable(header []string, rows [][]string) (*Table, error) {
	cols, err := FindColumns(header)
	if err != nil {
		return nil, err
	}
	return &Table{header: header, cols: cols, rows: rows}, nil
}

// Load reads a tab-separated feature table.  Lines starting with '#' are
// skipped.  Compressed files are decompressed based on their extension.
func Load(ctx context.Context, path string) (t *Table, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open feature table", path)
	}
	defer file.CloseAndReport(ctx, in, &err)
	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		r = u
	}
	tr := tsv.NewReader(bufio.NewReaderSize(r, 64<<10))
	tr.Comment = '#'
	tr.FieldsPerRecord = -1
	tr.LazyQuotes = true
	var (
		header []string
		rows   [][]string
	)
	for {
		rec, err := tr.Reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.E(err, "read feature table", path)
		}
		if header == nil {
			header = rec
			continue
		}
		rows = append(rows, rec)
	}
	if header == nil {
		return nil, errors.E("empty feature table", path)
	}
	if t, err = NewTable(header, rows); err != nil {
		return nil, errors.E(err, path)
	}
	log.Debug.Printf("feature: read %d rows from %s", len(rows), path)
	return t, nil
}

// Header returns the header row.
func (t *Table) Header() []string { return t.header }

// Columns returns the located coordinate columns.
func (t *Table) Columns() Columns { return t.cols }

// NumRows returns the number of data rows.
func (t *Table) NumRows() int { return len(t.rows) }

// Offset returns the index of this table's first row in the table it was
// sliced from.
func (t *Table) Offset() int { return t.offset }

// Slice returns rows [start, end) as a table sharing t's storage.
func (t *Table) Slice(start, end int) *Table {
	if start < 0 || end > len(t.rows) || start > end {
		panic(fmt.Sprintf("feature.Table.Slice: [%d, %d) out of range [0, %d)", start, end, len(t.rows)))
	}
	return &Table{header: t.header, cols: t.cols, rows: t.rows[start:end:end], offset: t.offset + start}
}

// Fields returns the raw fields of row i.
func (t *Table) Fields(i int) []string { return t.rows[i] }

func (t *Table) field(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// Feature parses row i.  Malformed coordinates yield a *coord.RegionError,
// which is local to the row.
func (t *Table) Feature(i int) (coord.Feature, error) {
	row := t.rows[i]
	f := coord.Feature{
		Chrom: t.field(row, t.cols.Chrom),
		Name:  t.field(row, t.cols.Name),
	}
	var err error
	bad := func(reason string) (coord.Feature, error) {
		return f, &coord.RegionError{Feature: f, Start: f.Start, End: f.End, Reason: reason}
	}
	if f.Chrom == "" {
		return bad(fmt.Sprintf("row %d: empty chromosome", t.offset+i))
	}
	if f.Start, err = strconv.Atoi(t.field(row, t.cols.Start)); err != nil {
		return bad(fmt.Sprintf("row %d: bad start: %v", t.offset+i, err))
	}
	if f.End, err = strconv.Atoi(t.field(row, t.cols.End)); err != nil {
		return bad(fmt.Sprintf("row %d: bad end: %v", t.offset+i, err))
	}
	if f.Strand, err = coord.ParseStrand(t.field(row, t.cols.Strand)); err != nil {
		return bad(fmt.Sprintf("row %d: %v", t.offset+i, err))
	}
	if f.Start < 1 || f.End < f.Start {
		return bad(fmt.Sprintf("row %d: invalid bounds", t.offset+i))
	}
	return f, nil
}

// ForEach calls fn for every row in order.  Row-local parse errors are passed
// to fn; iteration stops at the first error fn returns.
func (t *Table) ForEach(fn func(i int, f coord.Feature, err error) error) error {
	for i := range t.rows {
		f, err := t.Feature(i)
		if err := fn(i, f, err); err != nil {
			return err
		}
	}
	return nil
}
