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
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/mlnoga/histeq/internal/device"
	"github.com/mlnoga/histeq/internal/equalize"
)

func TestFormatVector(t *testing.T) {
	tests := []struct {
		name string
		v    []uint32
		want string
	}{
		{"Histogram", []uint32{2, 2, 2, 2}, "Histogram = [2, 2, 2, 2]"},
		{"Normalized", []uint32{63}, "Normalized = [63]"},
		{"Cumulative", nil, "Cumulative = []"},
	}
	for _, tt := range tests {
		if got := FormatVector(tt.name, tt.v); got != tt.want {
			t.Errorf("FormatVector = %q; want %q", got, tt.want)
		}
	}
}

func TestHistogramStats(t *testing.T) {
	tests := []struct {
		h                     []uint32
		mean, stdDev, entropy float64
		used                  int
	}{
		{[]uint32{2, 2, 2, 2}, 1.5, math.Sqrt(1.25), 2, 4},
		{[]uint32{0, 8, 0}, 1, 0, 0, 1},
		{[]uint32{1, 0, 0, 1}, 1.5, 1.5, 1, 2},
		{[]uint32{0, 0}, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		s := HistogramStats(tt.h)
		if math.Abs(s.Mean-tt.mean) > 1e-9 || math.Abs(s.StdDev-tt.stdDev) > 1e-9 ||
			math.Abs(s.Entropy-tt.entropy) > 1e-9 || s.Used != tt.used {
			t.Errorf("HistogramStats(%v) = %v; want mean %g stddev %g entropy %g used %d",
				tt.h, s, tt.mean, tt.stdDev, tt.entropy, tt.used)
		}
	}
}

func event(kind device.Kind, name string, d time.Duration) *device.Event {
	t0 := time.Unix(1000, 0)
	return &device.Event{Kind: kind, Name: name, Queued: t0, Submitted: t0, Started: t0, Ended: t0.Add(d)}
}

func TestProfileSummary(t *testing.T) {
	p := NewProfile()
	p.Add(
		event(device.KindNDRange, "histogram", 10*time.Microsecond),
		event(device.KindNDRange, "scan_hs_step", 2*time.Microsecond),
		event(device.KindNDRange, "scan_hs_step", 4*time.Microsecond),
		event(device.KindRead, "histogram", 1*time.Microsecond),
	)
	if got := p.KernelTime(); got != 16*time.Microsecond {
		t.Errorf("KernelTime() = %v; want 16us", got)
	}
	sums := p.Summary()
	if len(sums) != 3 {
		t.Fatalf("%d summaries; want 3", len(sums))
	}
	if sums[0].Name != "histogram" || sums[0].Kind != device.KindNDRange {
		t.Errorf("first summary %+v; want histogram kernel", sums[0])
	}
	hs := sums[1]
	if hs.Name != "scan_hs_step" || hs.Count != 2 || hs.Mean != 3*time.Microsecond {
		t.Errorf("scan summary %+v; want 2 dispatches with mean 3us", hs)
	}

	var buf bytes.Buffer
	n, err := p.WriteTo(&buf)
	if err != nil || n != int64(buf.Len()) {
		t.Fatalf("WriteTo = %d, %v; buffer holds %d", n, err, buf.Len())
	}
	out := buf.String()
	for _, want := range []string{"Kernel execution time [ns]: 16000", "Executed 10, Total 10 [us]", "scan_hs_step"} {
		if !strings.Contains(out, want) {
			t.Errorf("profile output lacks %q:\n%s", want, out)
		}
	}
}

func TestRenderChart(t *testing.T) {
	img := RenderChart([]uint32{0, 5, 10}, []uint32{0, 0}, nil)
	if b := img.Bounds(); b.Dx() != chartWidth || b.Dy() != 3*(chartPanelHeight+chartMargin)+chartMargin {
		t.Fatalf("chart bounds %v", b)
	}
	// the last third of the first panel is a full height bar, the first third empty
	bottom := chartMargin + chartPanelHeight - 1
	if c := img.NRGBAAt(chartWidth-1, chartMargin); c.R == 255 && c.G == 255 && c.B == 255 {
		t.Errorf("top of the highest bar is white")
	}
	if c := img.NRGBAAt(0, bottom); c.R != 255 || c.G != 255 || c.B != 255 {
		t.Errorf("empty bar is coloured %v", c)
	}
}

func TestRunJSON(t *testing.T) {
	res := &equalize.Result{
		Bins: 4, Length: 8, Scan: equalize.ScanHillisSteele, Requested: equalize.ScanBlelloch, ScanFallback: true,
		Histogram: []uint32{2, 2, 2, 2}, Cumulative: []uint32{2, 4, 6, 8}, Normalized: []uint32{63, 127, 191, 255},
	}
	r := NewRun(equalize.DefaultConfig(), []*equalize.Result{res}, [][]uint32{{2, 2, 2, 2}}, nil)
	var buf bytes.Buffer
	if err := r.WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	cfg := decoded["config"].(map[string]interface{})
	if cfg["scan"] != "blelloch" || cfg["bins"] != float64(128) {
		t.Errorf("config %v; want blelloch with 128 bins", cfg)
	}
	results := decoded["results"].([]interface{})
	first := results[0].(map[string]interface{})
	if first["scan"] != "hillis_steele" || first["scanFallback"] != true {
		t.Errorf("result %v; want hillis_steele fallback", first)
	}
	if len(r.Before) != 1 || math.Abs(r.Before[0].Entropy-2) > 1e-9 {
		t.Errorf("before stats %v; want entropy 2", r.Before)
	}
}

func TestPeakAndFitNormal(t *testing.T) {
	h := make([]uint32, 64)
	for i := range h {
		z := (float64(i) + 0.5 - 20) / 4
		h[i] = uint32(math.Round(1000 * math.Exp(-0.5*z*z)))
	}
	if bin, count := Peak(h); bin != 19 || count != h[19] {
		t.Errorf("Peak = %d, %d; want 19, %d", bin, count, h[19])
	}
	mode, sigma, err := FitNormal(h)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(mode-20) > 0.5 || math.Abs(sigma-4) > 0.5 {
		t.Errorf("FitNormal = %g, %g; want about 20, 4", mode, sigma)
	}
	if _, _, err := FitNormal(make([]uint32, 8)); err != ErrEmptyHistogram {
		t.Errorf("FitNormal(empty) error %v; want %v", err, ErrEmptyHistogram)
	}
}
