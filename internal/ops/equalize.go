// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package ops

import (
	"fmt"
	"strings"

	"github.com/mlnoga/histeq/internal/equalize"
	"github.com/mlnoga/histeq/internal/imageio"
	"github.com/mlnoga/histeq/internal/report"
)

// Equalizes the histogram of each input image. Takes n inputs, produces n outputs
type OpEqualize struct {
	OpUnaryBase
	Bins         int                   `json:"bins"`
	Scan         equalize.ScanStrategy `json:"scan"`
	PerChannel   bool                  `json:"perChannel"`
	OutputMax    uint32                `json:"outputMax"`
	MaxIntensity uint32                `json:"maxIntensity"`
	PrintTables  bool                  `json:"printTables"` // print histogram, cumulative and normalized tables
	ChartPattern string                `json:"chartPattern"`
	JSONPattern  string                `json:"jsonPattern"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpEqualizeDefault() }) } // register the operator for JSON decoding

func NewOpEqualizeDefault() *OpEqualize {
	return NewOpEqualize(equalize.DefaultConfig())
}

func NewOpEqualize(cfg equalize.Config) *OpEqualize {
	op := OpEqualize{
		OpUnaryBase:  OpUnaryBase{OpBase: OpBase{Type: "equalize", Active: true}},
		Bins:         cfg.Bins,
		Scan:         cfg.Scan,
		PerChannel:   cfg.PerChannel,
		OutputMax:    cfg.OutputMax,
		MaxIntensity: cfg.MaxIntensity,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

// Returns the equalizer configuration, logging to the given context
func (op *OpEqualize) Config(c *Context) equalize.Config {
	return equalize.Config{
		Bins:         op.Bins,
		Scan:         op.Scan,
		MaxIntensity: op.MaxIntensity,
		OutputMax:    op.OutputMax,
		PerChannel:   op.PerChannel,
		Log:          c.Log,
	}
}

func (op *OpEqualize) Apply(img *imageio.Image, c *Context) (*imageio.Image, error) {
	cfg := op.Config(c)
	out, results, err := equalize.NewEqualizer(c.Queue, cfg).Equalize(img)
	if err != nil {
		return nil, err
	}

	if op.PrintTables {
		var sb strings.Builder
		for i, r := range results {
			prefix := fmt.Sprintf("%d: ", img.ID)
			if len(results) > 1 {
				prefix = fmt.Sprintf("%d: channel %d: ", img.ID, i)
			}
			fmt.Fprintf(&sb, "%s%s\n", prefix, report.FormatVector("Histogram", r.Histogram))
			fmt.Fprintf(&sb, "%s%s\n", prefix, report.FormatVector("Cumulative", r.Cumulative))
			fmt.Fprintf(&sb, "%s%s\n\n", prefix, report.FormatVector("Normalized", r.Normalized))
		}
		fmt.Fprint(c.Log, sb.String())
	}

	if op.ChartPattern != "" {
		fileName := expandPattern(op.ChartPattern, img.ID)
		r := results[0]
		fmt.Fprintf(c.Log, "%d: Writing histogram chart to %s\n", img.ID, fileName)
		if err := report.WriteChart(fileName, r.Histogram, r.Cumulative, r.Normalized); err != nil {
			return nil, fmt.Errorf("%d: writing chart %s: %w", img.ID, fileName, err)
		}
	}

	if op.JSONPattern != "" {
		fileName := expandPattern(op.JSONPattern, img.ID)
		run := report.NewRun(cfg, results, OutputHistograms(out, results), nil)
		run.FileName, run.Dimensions = img.FileName, img.DimensionsToString()
		fmt.Fprintf(c.Log, "%d: Writing run report to %s\n", img.ID, fileName)
		if err := run.WriteJSONFile(fileName); err != nil {
			return nil, fmt.Errorf("%d: writing report %s: %w", img.ID, fileName, err)
		}
	}
	return out, nil
}

// Histograms of the equalized samples, one per result, binned like the input
func OutputHistograms(out *imageio.Image, results []*equalize.Result) [][]uint32 {
	hists := make([][]uint32, len(results))
	planeLen := out.Len() / len(results)
	for i, r := range results {
		lo, hi := i*planeLen, (i+1)*planeLen
		if out.Bits == 8 {
			hists[i] = equalize.HistogramOf(out.Pix8[lo:hi], r.Bins, r.OutputMax)
		} else {
			hists[i] = equalize.HistogramOf(out.Pix16[lo:hi], r.Bins, r.OutputMax)
		}
	}
	return hists
}

// Generates an image of random samples. Takes zero inputs, produces one output
type OpRandom struct {
	OpBase
	ID       int `json:"id"`
	Width    int `json:"width"`
	Height   int `json:"height"`
	Channels int `json:"channels"`
	Bits     int `json:"bits"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpRandomDefault() }) } // register the operator for JSON decoding

func NewOpRandomDefault() *OpRandom { return NewOpRandom(0, 640, 480, 1, 8) }

func NewOpRandom(id, width, height, channels, bits int) *OpRandom {
	return &OpRandom{
		OpBase:   OpBase{Type: "random", Active: true},
		ID:       id,
		Width:    width,
		Height:   height,
		Channels: channels,
		Bits:     bits,
	}
}

func (op *OpRandom) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins) > 0 {
		return nil, fmt.Errorf("%s operator with non-zero input", op.Type)
	}
	out := func() (*imageio.Image, error) {
		img, err := imageio.NewRandom(op.Width, op.Height, op.Channels, op.Bits)
		if err != nil {
			return nil, err
		}
		img.ID, img.FileName = op.ID, fmt.Sprintf("random%d", op.ID)
		fmt.Fprintf(c.Log, "%d: Generated random %s image\n", img.ID, img.DimensionsToString())
		return img, nil
	}
	return []Promise{out}, nil
}
