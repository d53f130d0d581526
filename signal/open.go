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
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// SourceKind identifies the backend that serves a locator.  It is resolved
// once, when the dataset is parsed.
type SourceKind int

const (
	// Database is a bedGraph or BED file of scored intervals.
	Database SourceKind = iota
	// BigWig is a UCSC BigWig file.
	BigWig
	// BigBed is a UCSC BigBed file.
	BigBed
	// Bam is an indexed BAM file.
	Bam
)

var sourceKindNames = [...]string{"db", "bigwig", "bigbed", "bam"}

func (k SourceKind) String() string {
	if k < Database || k > Bam {
		return fmt.Sprintf("SourceKind(%d)", int(k))
	}
	return sourceKindNames[k]
}

// Locator names one signal file and its backend.
type Locator struct {
	Kind SourceKind
	Path string
}

func (l Locator) String() string { return l.Kind.String() + ":" + l.Path }

// Dataset is a named group of locators whose points are merged.  A dataset
// string "a.bam&b.bam" has two locators.
type Dataset struct {
	Name     string
	Locators []Locator
}

// ParseLocator determines the kind of a single locator.  An explicit
// "kind:" prefix (bam:, bigwig:, bigbed:, db:) wins; otherwise the file
// extension decides, and anything unrecognized is a Database.
func ParseLocator(s string) (Locator, error) {
	if s == "" {
		return Locator{}, errors.New("signal.ParseLocator: empty locator")
	}
	if colon := strings.Index(s, ":"); colon > 0 {
		prefix := strings.ToLower(s[:colon])
		for i, name := range sourceKindNames {
			if prefix == name {
				return Locator{Kind: SourceKind(i), Path: s[colon+1:]}, nil
			}
		}
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasSuffix(lower, ".bam"):
		return Locator{Kind: Bam, Path: s}, nil
	case strings.HasSuffix(lower, ".bw"), strings.HasSuffix(lower, ".bigwig"):
		return Locator{Kind: BigWig, Path: s}, nil
	case strings.HasSuffix(lower, ".bb"), strings.HasSuffix(lower, ".bigbed"):
		return Locator{Kind: BigBed, Path: s}, nil
	}
	return Locator{Kind: Database, Path: s}, nil
}

// ParseDataset splits s on '&' and parses every part as a locator.  The
// dataset name is s itself.
func ParseDataset(s string) (Dataset, error) {
	d := Dataset{Name: s}
	for _, part := range strings.Split(s, "&") {
		loc, err := ParseLocator(strings.TrimSpace(part))
		if err != nil {
			return Dataset{}, errors.Wrapf(err, "dataset %q", s)
		}
		d.Locators = append(d.Locators, loc)
	}
	return d, nil
}

// OpenOpts is passed to every opener.
type OpenOpts struct {
	BAM BAMOpts
}

// DefaultOpenOpts is the default for Open.
var DefaultOpenOpts = OpenOpts{BAM: DefaultBAMOpts}

// OpenerFunc opens one locator of a registered kind.
type OpenerFunc func(ctx context.Context, path string, opts OpenOpts) (Source, error)

var (
	openersMu sync.Mutex
	openers   = map[SourceKind]OpenerFunc{
		Database: func(ctx context.Context, path string, _ OpenOpts) (Source, error) {
			return NewDatabaseSource(ctx, path)
		},
		Bam: func(ctx context.Context, path string, opts OpenOpts) (Source, error) {
			return NewBAMSource(ctx, path, opts.BAM)
		},
	}
)

// RegisterOpener installs the opener for a kind, replacing any existing one.
// BigWig and BigBed decoders are not built in; programs that need them
// register an opener at init time.
func RegisterOpener(kind SourceKind, fn OpenerFunc) {
	openersMu.Lock()
	openers[kind] = fn
	openersMu.Unlock()
}

func lookupOpener(kind SourceKind) OpenerFunc {
	openersMu.Lock()
	defer openersMu.Unlock()
	return openers[kind]
}

// Open returns a new handle on every locator of d.  A dataset with several
// locators yields a MultiSource.  The caller owns the handle and must close
// it; handles are never shared between goroutines.
func Open(ctx context.Context, d Dataset, opts OpenOpts) (Source, error) {
	var sources []Source
	closeAll := func() {
		for _, s := range sources {
			_ = s.Close()
		}
	}
	for _, loc := range d.Locators {
		fn := lookupOpener(loc.Kind)
		if fn == nil {
			closeAll()
			return nil, &BackendError{Locator: loc.Path, Op: "open", Err: errors.Errorf("no opener registered for %v files", loc.Kind)}
		}
		src, err := fn(ctx, loc.Path, opts)
		if err != nil {
			closeAll()
			return nil, err
		}
		sources = append(sources, src)
	}
	switch len(sources) {
	case 0:
		return nil, &BackendError{Locator: d.Name, Op: "open", Err: errors.New("dataset has no locators")}
	case 1:
		return sources[0], nil
	}
	return NewMultiSource(sources), nil
}
