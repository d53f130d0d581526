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
package output

import (
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
	"github.com/pkg/errors"
)

// TSVOpts configures a TSV sink.
type TSVOpts struct {
	// Bgzip compresses the output with bgzf.  NewTSVFile turns it on for paths
	// ending in .gz.
	Bgzip bool
	// Parallelism is the number of bgzf compression goroutines.
	Parallelism int
}

// TSVSink writes rows as tab-separated text.  Missing values are written as
// NoValue.
type TSVSink struct {
	ctx    context.Context
	out    file.File
	bgzfW  *bgzf.Writer
	w      *tsv.Writer
	nCols  int
	closed bool
}

// NewTSVSink writes to w.  The caller closes w after Close returns.
func NewTSVSink(w io.Writer, opts TSVOpts) *TSVSink {
	s := &TSVSink{}
	if opts.Bgzip {
		parallelism := opts.Parallelism
		if parallelism < 1 {
			parallelism = 1
		}
		s.bgzfW = bgzf.NewWriter(w, parallelism)
		w = s.bgzfW
	}
	s.w = tsv.NewWriter(w)
	return s
}

// NewTSVFile creates path and returns a sink writing to it.
func NewTSVFile(ctx context.Context, path string, opts TSVOpts) (*TSVSink, error) {
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "output: create %s", path)
	}
	if strings.HasSuffix(path, ".gz") {
		opts.Bgzip = true
	}
	s := NewTSVSink(out.Writer(ctx), opts)
	s.ctx, s.out = ctx, out
	return s, nil
}

// WriteHeader implements Sink.
func (s *TSVSink) WriteHeader(header []string) error {
	for _, h := range header {
		s.w.WriteString(h)
	}
	s.nCols = len(header)
	return s.w.EndLine()
}

// Write implements Sink.
func (s *TSVSink) Write(r *Row) error {
	if n := len(r.Fields) + len(r.Values); s.nCols > 0 && n != s.nCols {
		return errors.Errorf("output: row %d has %d columns, header has %d", r.Index, n, s.nCols)
	}
	for _, f := range r.Fields {
		s.w.WriteString(f)
	}
	for _, v := range r.Values {
		s.w.WriteString(FormatValue(v))
	}
	return s.w.EndLine()
}

// Close implements Sink.  It flushes buffered rows and closes the bgzf stream
// and the file, if NewTSVFile created them.
func (s *TSVSink) Close() (err error) {
	if s.closed {
		return errors.New("output: TSVSink closed twice")
	}
	s.closed = true
	err = s.w.Flush()
	if s.bgzfW != nil {
		if e := s.bgzfW.Close(); e != nil && err == nil {
			err = e
		}
	}
	if s.out != nil {
		file.CloseAndReport(s.ctx, s.out, &err)
	}
	return err
}
