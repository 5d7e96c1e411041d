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

package report

import (
	"encoding/json"
	"io"
	"os"

	"github.com/mlnoga/histeq/internal/equalize"
)

// Machine-readable summary of an equalization
type Run struct {
	FileName    string             `json:"fileName,omitempty"`
	Dimensions  string             `json:"dimensions,omitempty"`
	Config      equalize.Config    `json:"config"`
	Results     []*equalize.Result `json:"results"`
	Before      []HistStats        `json:"before"`
	After       []HistStats        `json:"after"`
	KernelNanos int64              `json:"kernelNanos"`
	Profile     []Summary          `json:"profile,omitempty"`
}

// Assembles a run report. The after statistics are computed from the histogram
// of the equalized samples, re-binned with the same bin count
func NewRun(cfg equalize.Config, results []*equalize.Result, outHists [][]uint32, p *Profile) *Run {
	r := &Run{Config: cfg, Results: results}
	for i, res := range results {
		r.Before = append(r.Before, HistogramStats(res.Histogram))
		if i < len(outHists) {
			r.After = append(r.After, HistogramStats(outHists[i]))
		}
		r.KernelNanos += res.KernelTime().Nanoseconds()
	}
	if p != nil {
		r.Profile = p.Summary()
	}
	return r
}

// Writes the report as indented JSON
func (r *Run) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// Writes the report as indented JSON into a file
func (r *Run) WriteJSONFile(fileName string) (err error) {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return r.WriteJSON(f)
}
