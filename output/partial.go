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
	"encoding/binary"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/pkg/errors"
)

func init() {
	recordiozstd.Init()
}

const (
	partitionHeader = "binsum_partition"
	columnsHeader   = "binsum_columns"
)

// cutAndAdvance returns s[offset:offset+pieceLen] and advances offset.
func cutAndAdvance(offset *int, s []byte, pieceLen int) []byte {
	tmpSlice := s[(*offset):]
	*offset += pieceLen
	return tmpSlice[:pieceLen]
}

// Serialized row format, all integers little-endian:
//   [0..8): index
//   [8..12): number of fields, n
//   n times: 4-byte length, then the field bytes
//   4 bytes: number of values, m
//   m times: 8-byte IEEE 754 bits
func marshalRow(scratch []byte, p interface{}) ([]byte, error) {
	r := p.(*Row)
	bytesReq := 12 + 4 + 8*len(r.Values)
	for _, f := range r.Fields {
		bytesReq += 4 + len(f)
	}
	t := scratch
	if len(t) < bytesReq {
		t = make([]byte, bytesReq)
	}
	t = t[:bytesReq]
	offset := 0
	tStart := cutAndAdvance(&offset, t, 12)
	binary.LittleEndian.PutUint64(tStart[0:8], uint64(r.Index))
	binary.LittleEndian.PutUint32(tStart[8:12], uint32(len(r.Fields)))
	for _, f := range r.Fields {
		binary.LittleEndian.PutUint32(cutAndAdvance(&offset, t, 4), uint32(len(f)))
		copy(cutAndAdvance(&offset, t, len(f)), f)
	}
	binary.LittleEndian.PutUint32(cutAndAdvance(&offset, t, 4), uint32(len(r.Values)))
	for _, v := range r.Values {
		binary.LittleEndian.PutUint64(cutAndAdvance(&offset, t, 8), math.Float64bits(v))
	}
	return t, nil
}

func unmarshalRow(in []byte) (out interface{}, err error) {
	defer func() {
		// A truncated record makes cutAndAdvance slice out of range.
		if e := recover(); e != nil {
			err = errors.Errorf("output: corrupt row record (%d bytes): %v", len(in), e)
		}
	}()
	offset := 0
	inStart := cutAndAdvance(&offset, in, 12)
	r := &Row{Index: int(binary.LittleEndian.Uint64(inStart[0:8]))}
	nFields := int(binary.LittleEndian.Uint32(inStart[8:12]))
	r.Fields = make([]string, nFields)
	for i := range r.Fields {
		n := int(binary.LittleEndian.Uint32(cutAndAdvance(&offset, in, 4)))
		r.Fields[i] = string(cutAndAdvance(&offset, in, n))
	}
	nValues := int(binary.LittleEndian.Uint32(cutAndAdvance(&offset, in, 4)))
	r.Values = make([]float64, nValues)
	for i := range r.Values {
		r.Values[i] = math.Float64frombits(binary.LittleEndian.Uint64(cutAndAdvance(&offset, in, 8)))
	}
	return r, nil
}

// PartialWriter is a Sink that writes the rows of one worker partition to a
// recordio file.  The partition index and the header are stored in the
// recordio header, and the row count in the trailer.
type PartialWriter struct {
	w         recordio.Writer
	partition int
	n         uint64
}

// NewPartialWriter writes partition's rows to out.
func NewPartialWriter(out io.Writer, partition int) *PartialWriter {
	// recordiozstd.Init() is called in init().
	w := recordio.NewWriter(out, recordio.WriterOpts{
		Marshal:      marshalRow,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(partitionHeader, strconv.Itoa(partition))
	w.AddHeader(recordio.KeyTrailer, true)
	return &PartialWriter{w: w, partition: partition}
}

// WriteHeader implements Sink.
func (p *PartialWriter) WriteHeader(header []string) error {
	p.w.AddHeader(columnsHeader, strings.Join(header, "\000"))
	return nil
}

// Write implements Sink.
func (p *PartialWriter) Write(r *Row) error {
	p.w.Append(r)
	p.n++
	return nil
}

// Close implements Sink.
func (p *PartialWriter) Close() error {
	var trailer [8]byte
	binary.LittleEndian.PutUint64(trailer[:], p.n)
	p.w.SetTrailer(trailer[:])
	return p.w.Finish()
}

// PartialInfo describes a partial file.
type PartialInfo struct {
	Partition int
	Header    []string
	NumRows   int
}

// ReadPartial reads a file written by PartialWriter, passing every row to fn
// in file order.
func ReadPartial(rs io.ReadSeeker, fn func(*Row) error) (info PartialInfo, err error) {
	scanner := recordio.NewScanner(rs, recordio.ScannerOpts{
		Unmarshal: unmarshalRow,
	})
	info.Partition = -1
	for _, kv := range scanner.Header() {
		switch kv.Key {
		case partitionHeader:
			if info.Partition, err = strconv.Atoi(kv.Value.(string)); err != nil {
				return info, errors.Wrap(err, "output: bad partition header")
			}
		case columnsHeader:
			info.Header = strings.Split(kv.Value.(string), "\000")
		}
	}
	if info.Partition < 0 {
		if err = scanner.Err(); err != nil {
			return info, err
		}
		return info, errors.New("output: not a partial file: missing partition header")
	}
	want := -1
	if trailer := scanner.Trailer(); len(trailer) == 8 {
		want = int(binary.LittleEndian.Uint64(trailer))
	}
	for scanner.Scan() {
		if err = fn(scanner.Get().(*Row)); err != nil {
			return info, err
		}
		info.NumRows++
	}
	if err = scanner.Err(); err != nil {
		return info, err
	}
	if want != info.NumRows {
		return info, errors.Errorf("output: partial %d has %d rows, trailer says %d", info.Partition, info.NumRows, want)
	}
	return info, nil
}
