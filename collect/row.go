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

	baseerrors "github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/binsum/aggregate"
	"github.com/grailbio/binsum/binning"
	"github.com/grailbio/binsum/coord"
	"github.com/grailbio/binsum/feature"
	"github.com/grailbio/binsum/output"
	"github.com/grailbio/binsum/signal"
	"github.com/pkg/errors"
)

// rowProcessor turns table rows into output rows.  Each worker owns one, along
// with private handles on every dataset.
type rowProcessor struct {
	cfg       *RunConfig
	sources   []signal.Source
	assigners []binning.Assigner
	scratch   []float64
}

func newRowProcessor(ctx context.Context, cfg *RunConfig) (*rowProcessor, error) {
	p := &rowProcessor{cfg: cfg}
	for i, d := range cfg.Datasets {
		src, err := cfg.open(ctx, d)
		if err != nil {
			p.close() // nolint: errcheck
			return nil, err
		}
		p.sources = append(p.sources, src)
		p.assigners = append(p.assigners, binning.Assigner{
			Bins:        cfg.Bins,
			ThresholdBp: cfg.ThresholdBp,
			ForceLong:   cfg.ForceLong,
			ValueType:   cfg.ValueType,
			Agg:         cfg.Agg[i],
		})
	}
	return p, nil
}

func (p *rowProcessor) close() error {
	var e baseerrors.Once
	for _, src := range p.sources {
		e.Set(src.Close())
	}
	p.sources = nil
	return e.Err()
}

func noValues(values []float64) {
	for i := range values {
		values[i] = aggregate.NoValue
	}
}

// process computes the output row for row i of t.  A malformed or
// unresolvable feature yields a row of missing values and a warning; any
// other error is fatal to the run.
func (p *rowProcessor) process(t *feature.Table, i int) (*output.Row, error) {
	cfg := p.cfg
	nPer := cfg.ValuesPerDataset()
	row := &output.Row{
		Index:  t.Offset() + i,
		Fields: t.Fields(i),
		Values: make([]float64, nPer*len(cfg.Datasets)),
	}
	f, err := t.Feature(i)
	if err == nil {
		if cfg.HasForceStrand {
			f.Strand = cfg.ForceStrand
		}
		var region coord.Region
		if region, err = coord.Resolve(f, cfg.Spec); err == nil {
			err = p.fill(f, region, row.Values, nPer)
		}
	}
	if err != nil {
		if _, ok := errors.Cause(err).(*coord.RegionError); ok {
			log.Printf("collect: skipping row %d: %v", row.Index, err)
			noValues(row.Values)
			return row, nil
		}
		return nil, err
	}
	return row, nil
}

func (p *rowProcessor) fill(f coord.Feature, region coord.Region, values []float64, nPer int) error {
	cfg := p.cfg
	for d, src := range p.sources {
		dst := values[d*nPer : (d+1)*nPer]
		if cfg.Mode == RegionMode {
			v, err := binning.QueryValue(src, f, region.Start, region.End, cfg.ValueType, cfg.Agg[d])
			if err != nil {
				return err
			}
			dst[0] = v
			continue
		}
		body := coord.Feature{Chrom: f.Chrom, Start: region.Start, End: region.End, Strand: f.Strand, Name: f.Name}
		var err error
		p.scratch, err = p.assigners[d].Assign(src, body, cfg.Spec.FallsBack(f), p.scratch)
		if err != nil {
			return err
		}
		copy(dst, p.scratch)
		if cfg.Interpolate {
			agg := cfg.Agg[d]
			binning.Interpolate(dst, agg.Log2 && agg.Method.Delogs())
		}
	}
	return nil
}
