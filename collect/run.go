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
package collect

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"reflect"
	"strconv"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/binsum/feature"
	"github.com/grailbio/binsum/output"
)

// MinRowsPerWorker is the smallest partition Partition creates when it has a
// choice.
const MinRowsPerWorker = 100

// Partition is a contiguous range [Start, End) of table rows handled by one
// worker.
type Partition struct {
	Index      int
	Start, End int
}

// Partitions splits rows into at most workers contiguous ranges.  The worker
// count is reduced until every range has at least MinRowsPerWorker rows, or
// one worker remains.
func Partitions(rows, workers int) []Partition {
	if workers < 1 {
		workers = 1
	}
	for workers > 1 && rows/workers < MinRowsPerWorker {
		workers--
	}
	parts := make([]Partition, workers)
	for j := range parts {
		parts[j] = Partition{Index: j, Start: j * rows / workers, End: (j + 1) * rows / workers}
	}
	return parts
}

// MergeError reports a partial result that is missing or inconsistent.
type MergeError struct {
	Partition int
	Path      string
	Err       error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("collect: merging partition %d (%s): %v", e.Partition, e.Path, e.Err)
}

// Cause returns the underlying error.
func (e *MergeError) Cause() error { return e.Err }

// Header returns the output header for t under cfg: the input header followed
// by cfg.Columns.
func Header(t *feature.Table, cfg *RunConfig) []string {
	in := t.Header()
	h := make([]string, 0, len(in)+len(cfg.Columns))
	h = append(h, in...)
	return append(h, cfg.Columns...)
}

// runPartition processes the rows of part into sink, which it closes.
func runPartition(ctx context.Context, t *feature.Table, cfg *RunConfig, part Partition, header []string, sink output.Sink) (err error) {
	defer func() {
		if e := sink.Close(); e != nil && err == nil {
			err = e
		}
	}()
	p, err := newRowProcessor(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if e := p.close(); e != nil && err == nil {
			err = e
		}
	}()
	if err = sink.WriteHeader(header); err != nil {
		return err
	}
	slice := t.Slice(part.Start, part.End)
	for i := 0; i < slice.NumRows(); i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		row, err := p.process(slice, i)
		if err != nil {
			return err
		}
		if err = sink.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// Run processes every row of t and writes the results, in input order, to
// the sink returned by create.  Workers write partial files under
// cfg.TempDir; create is only called once all of them have succeeded, so a
// failed run produces no output.
func Run(ctx context.Context, t *feature.Table, cfg *RunConfig, create func() (output.Sink, error)) (err error) {
	parts := Partitions(t.NumRows(), cfg.Parallelism)
	header := Header(t, cfg)
	if cfg.TempDir != "" {
		if err = os.MkdirAll(cfg.TempDir, 0755); err != nil {
			return err
		}
	}

	tmpFiles := make([]*os.File, len(parts))
	defer func() {
		for _, f := range tmpFiles {
			if f != nil {
				if e := f.Close(); e != nil && err == nil {
					err = e
				}
				_ = os.Remove(f.Name())
			}
		}
	}()
	for j := range tmpFiles {
		if tmpFiles[j], err = ioutil.TempFile(cfg.TempDir, "binsum_tmp"+strconv.Itoa(j)+"_*.rio"); err != nil {
			return err
		}
	}

	log.Printf("collect: %d rows, %d workers", t.NumRows(), len(parts))
	err = traverse.Each(len(parts), func(j int) error {
		return runPartition(ctx, t, cfg, parts[j], header, output.NewPartialWriter(tmpFiles[j], j))
	})
	if err != nil {
		return err
	}

	sink, err := create()
	if err != nil {
		return err
	}
	if err = sink.WriteHeader(header); err != nil {
		sink.Close() // nolint: errcheck
		return err
	}
	err = Merge(tmpFiles, parts, header, sink)
	if e := sink.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

// Merge copies the rows of the partial files to sink in partition order.
// files[j] must hold the rows of parts[j], written with header.  Merged files
// are closed, removed and set to nil.  Any missing, malformed or
// inconsistent partial yields a *MergeError.
func Merge(files []*os.File, parts []Partition, header []string, sink output.Sink) error {
	for j, f := range files {
		if f == nil {
			return &MergeError{Partition: j, Err: fmt.Errorf("missing partial file")}
		}
		path := f.Name()
		mergeErr := func(err error) error {
			return &MergeError{Partition: j, Path: path, Err: err}
		}
		if _, err := f.Seek(0, 0); err != nil {
			return mergeErr(err)
		}
		next := parts[j].Start
		info, err := output.ReadPartial(f, func(r *output.Row) error {
			if r.Index != next {
				return fmt.Errorf("row %d out of order, want %d", r.Index, next)
			}
			next++
			return sink.Write(r)
		})
		if err != nil {
			return mergeErr(err)
		}
		switch {
		case info.Partition != parts[j].Index:
			return mergeErr(fmt.Errorf("file holds partition %d", info.Partition))
		case !reflect.DeepEqual(info.Header, header):
			return mergeErr(fmt.Errorf("header mismatch: %q", info.Header))
		case next != parts[j].End:
			return mergeErr(fmt.Errorf("%d rows, want %d", info.NumRows, parts[j].End-parts[j].Start))
		}
		if err = f.Close(); err != nil {
			return mergeErr(err)
		}
		files[j] = nil
		// os.Remove returns an error if we try to remove a file that isn't there.
		_ = os.Remove(path)
	}
	return nil
}
