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

package equalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mlnoga/histeq/internal/device"
	"github.com/mlnoga/histeq/internal/imageio"
	"github.com/valyala/fastrand"
)

var allScans = []ScanStrategy{ScanSimple, ScanHillisSteele, ScanBlelloch}

func prefixSum(h []uint32) []uint32 {
	c := make([]uint32, len(h))
	var sum uint32
	for i, v := range h {
		sum += v
		c[i] = sum
	}
	return c
}

func equalUint32(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func randomSamples8(rng *fastrand.RNG, n int, max uint32) []uint8 {
	s := make([]uint8, n)
	for i := range s {
		s[i] = uint8(rng.Uint32n(max + 1))
	}
	return s
}

func TestPadCount(t *testing.T) {
	tests := []struct {
		length, bins, want int
	}{
		{8, 4, 0},
		{12, 5, 3},
		{1, 1, 0},
		{1, 128, 127},
		{128, 128, 0},
		{129, 128, 127},
		{0, 7, 0},
		{19, 20, 1},
	}
	for _, tt := range tests {
		if got := PadCount(tt.length, tt.bins); got != tt.want {
			t.Errorf("PadCount(%d, %d) = %d; want %d", tt.length, tt.bins, got, tt.want)
		}
	}
	rng := fastrand.RNG{}
	for i := 0; i < 1000; i++ {
		n, b := int(rng.Uint32n(100000)), 1+int(rng.Uint32n(1000))
		p := PadCount(n, b)
		if p < 0 || p >= b || (n+p)%b != 0 {
			t.Fatalf("PadCount(%d, %d) = %d out of range or not aligning", n, b, p)
		}
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		c         uint32
		length    int
		outputMax uint32
		want      uint32
	}{
		{2, 8, 255, 63},   // 63.75
		{3, 8, 255, 95},   // 95.625
		{6, 8, 255, 191},  // 191.25
		{8, 8, 255, 255},  // exact
		{0, 8, 255, 0},    // empty prefix
		{9, 8, 255, 255},  // clamped
		{1, 3, 65535, 21845},
		{2, 3, 65535, 43690},
	}
	for _, tt := range tests {
		if got := NormalizeValue(tt.c, tt.length, tt.outputMax); got != tt.want {
			t.Errorf("NormalizeValue(%d, %d, %d) = %d; want %d", tt.c, tt.length, tt.outputMax, got, tt.want)
		}
	}
}

func TestBinIndex(t *testing.T) {
	tests := []struct {
		v    uint32
		bins int
		max  uint32
		want int
	}{
		{0, 4, 3, 0},
		{3, 4, 3, 3},
		{255, 128, 255, 127},
		{128, 128, 255, 64},
		{0, 1, 0, 0},
		{300, 16, 255, 15},
		{65535, 65536, 65535, 65535},
		{10, 20, 0, 19},
	}
	for _, tt := range tests {
		if got := BinIndex(tt.v, tt.bins, tt.max); got != tt.want {
			t.Errorf("BinIndex(%d, %d, %d) = %d; want %d", tt.v, tt.bins, tt.max, got, tt.want)
		}
	}
}

func TestParseScanStrategy(t *testing.T) {
	for _, s := range allScans {
		got, err := ParseScanStrategy(s.String())
		if err != nil || got != s {
			t.Errorf("ParseScanStrategy(%s) = %v, %v", s, got, err)
		}
	}
	for _, name := range []string{"", "hillis-steele", "fast", "blellochx"} {
		if _, err := ParseScanStrategy(name); !errors.Is(err, ErrUnknownScan) {
			t.Errorf("ParseScanStrategy(%q) error %v; want ErrUnknownScan", name, err)
		}
	}

	var cfg Config
	if err := json.Unmarshal([]byte(`{"bins":20,"scan":"hillis_steele"}`), &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Bins != 20 || cfg.Scan != ScanHillisSteele {
		t.Errorf("unmarshaled %+v; want 20 bins hillis_steele", cfg)
	}
	if err := json.Unmarshal([]byte(`{"scan":"quick"}`), &cfg); !errors.Is(err, ErrUnknownScan) {
		t.Errorf("unmarshal unknown scan error %v; want ErrUnknownScan", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	d := device.Default()
	q := device.NewQueue(d)
	pixels := []uint8{1, 2, 3}
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"zero bins", Config{Bins: 0}, ErrInvalidBins},
		{"negative bins", Config{Bins: -3}, ErrInvalidBins},
		{"bins beyond work group", Config{Bins: d.MaxWorkGroupSize + 1}, ErrInvalidBins},
		{"unknown scan", Config{Bins: 4, Scan: ScanStrategy(9)}, ErrUnknownScan},
		{"output max", Config{Bins: 4, OutputMax: 256}, ErrInvalidOutputMax},
	}
	for _, tt := range tests {
		out, res, err := Run(q, tt.cfg, pixels)
		if !errors.Is(err, tt.want) || out != nil || res != nil {
			t.Errorf("%s: Run error %v; want %v and no output", tt.name, err, tt.want)
		}
	}
	if len(q.Events()) != 0 {
		t.Errorf("invalid configurations dispatched %d commands; want 0", len(q.Events()))
	}
	if _, _, err := Run(q, DefaultConfig(), []uint8{}); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Run on empty input error %v; want ErrEmptyInput", err)
	}
}

func TestConcreteScenario(t *testing.T) {
	pixels := []uint8{0, 1, 2, 3, 0, 1, 2, 3}
	for _, s := range allScans {
		q := device.NewQueue(device.Default())
		out, res, err := Run(q, Config{Bins: 4, Scan: s}, pixels)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if res.MaxIntensity != 3 || res.PadCount != 0 {
			t.Errorf("%s: max %d pad %d; want 3 and 0", s, res.MaxIntensity, res.PadCount)
		}
		if want := []uint32{2, 2, 2, 2}; !equalUint32(res.Histogram, want) {
			t.Errorf("%s: H = %v; want %v", s, res.Histogram, want)
		}
		if want := []uint32{2, 4, 6, 8}; !equalUint32(res.Cumulative, want) {
			t.Errorf("%s: C = %v; want %v", s, res.Cumulative, want)
		}
		if want := []uint32{63, 127, 191, 255}; !equalUint32(res.Normalized, want) {
			t.Errorf("%s: N = %v; want %v", s, res.Normalized, want)
		}
		if want := []uint8{63, 127, 191, 255, 63, 127, 191, 255}; !bytes.Equal(out, want) {
			t.Errorf("%s: output = %v; want %v", s, out, want)
		}
		if res.ScanFallback || res.Scan != s {
			t.Errorf("%s: ran %s with fallback %v", s, res.Scan, res.ScanFallback)
		}
	}
}

func TestPaddingScenario(t *testing.T) {
	rng := fastrand.RNG{}
	pixels := randomSamples8(&rng, 12, 255)
	pixels[0] = 255
	_, res, err := Run(device.NewQueue(device.Default()), Config{Bins: 5, Scan: ScanHillisSteele}, pixels)
	if err != nil {
		t.Fatal(err)
	}
	if res.PadCount != 3 {
		t.Errorf("pad count %d; want 3", res.PadCount)
	}
	var sum uint32
	for _, v := range res.Histogram {
		sum += v
	}
	if sum != 12 {
		t.Errorf("sum(H) = %d; want 12", sum)
	}
	if want := HistogramOf(pixels, 5, 255); !equalUint32(res.Histogram, want) {
		t.Errorf("H = %v; want %v", res.Histogram, want)
	}
}

func TestFallbackScenario(t *testing.T) {
	rng := fastrand.RNG{}
	pixels := randomSamples8(&rng, 1000, 255)
	var log strings.Builder
	q := device.NewQueue(device.Default())
	_, bl, err := Run(q, Config{Bins: 20, Scan: ScanBlelloch, Log: &log}, pixels)
	if err != nil {
		t.Fatal(err)
	}
	if !bl.ScanFallback || bl.Scan != ScanHillisSteele || bl.Requested != ScanBlelloch {
		t.Errorf("ran %s (requested %s) with fallback %v; want hillis_steele fallback", bl.Scan, bl.Requested, bl.ScanFallback)
	}
	if !strings.Contains(log.String(), FallbackNotice) {
		t.Errorf("log %q lacks fallback notice", log.String())
	}
	if len(bl.Cumulative) != 20 || bl.Cumulative[19] != 1000 {
		t.Errorf("C = %v; want 20 entries ending in 1000", bl.Cumulative)
	}
	for i := 1; i < len(bl.Cumulative); i++ {
		if bl.Cumulative[i] < bl.Cumulative[i-1] {
			t.Errorf("C decreases at %d: %v", i, bl.Cumulative)
		}
	}
	_, hs, err := Run(q, Config{Bins: 20, Scan: ScanHillisSteele}, pixels)
	if err != nil {
		t.Fatal(err)
	}
	if !equalUint32(bl.Cumulative, hs.Cumulative) {
		t.Errorf("blelloch fallback C = %v; hillis_steele C = %v", bl.Cumulative, hs.Cumulative)
	}
	for _, ev := range bl.Events {
		if strings.HasPrefix(ev.Name, "scan_bl") {
			t.Errorf("fallback run dispatched %s", ev.Name)
		}
	}
}

func TestScanEquivalence(t *testing.T) {
	rng := fastrand.RNG{}
	q := device.NewQueue(device.Default())
	for bins := 1; bins <= 1024; bins *= 2 {
		h := make([]uint32, bins)
		for i := range h {
			h[i] = rng.Uint32n(10000)
		}
		want := prefixSum(h)
		for _, s := range allScans {
			c, ran, err := Scan(q, s, h)
			if err != nil {
				t.Fatalf("%s over %d bins: %v", s, bins, err)
			}
			if ran != s {
				t.Errorf("%s over %d bins ran %s", s, bins, ran)
			}
			if !equalUint32(c, want) {
				t.Errorf("%s over %d bins: C = %v; want %v", s, bins, c, want)
			}
		}
	}
}

func TestScanFallbackEquivalence(t *testing.T) {
	rng := fastrand.RNG{}
	q := device.NewQueue(device.Default())
	for _, bins := range []int{3, 5, 7, 15, 20, 100, 129, 1000} {
		h := make([]uint32, bins)
		for i := range h {
			h[i] = rng.Uint32n(1000)
		}
		bl, ran, err := Scan(q, ScanBlelloch, h)
		if err != nil {
			t.Fatal(err)
		}
		if ran != ScanHillisSteele {
			t.Errorf("blelloch over %d bins ran %s; want hillis_steele", bins, ran)
		}
		hs, _, err := Scan(q, ScanHillisSteele, h)
		if err != nil {
			t.Fatal(err)
		}
		if !equalUint32(bl, hs) || !equalUint32(hs, prefixSum(h)) {
			t.Errorf("%d bins: blelloch %v, hillis_steele %v; want %v", bins, bl, hs, prefixSum(h))
		}
	}
}

// Checks the invariants of a run over random 8-bit inputs with random bin counts
func TestRandomProperties(t *testing.T) {
	rng := fastrand.RNG{}
	for _, d := range device.ListDevices() {
		q := device.NewQueue(d)
		for iter := 0; iter < 30; iter++ {
			n := 1 + int(rng.Uint32n(5000))
			bins := 1 + int(rng.Uint32n(300))
			scan := allScans[rng.Uint32n(3)]
			pixels := randomSamples8(&rng, n, rng.Uint32n(256))
			cfg := Config{Bins: bins, Scan: scan}

			out, res, err := Run(q, cfg, pixels)
			if err != nil {
				t.Fatalf("n=%d bins=%d %s: %v", n, bins, scan, err)
			}
			var sum uint64
			for _, v := range res.Histogram {
				sum += uint64(v)
			}
			if sum != uint64(n) {
				t.Errorf("n=%d bins=%d: sum(H) = %d", n, bins, sum)
			}
			if !equalUint32(res.Histogram, HistogramOf(pixels, bins, res.MaxIntensity)) {
				t.Errorf("n=%d bins=%d: H differs from serial histogram", n, bins)
			}
			if !equalUint32(res.Cumulative, prefixSum(res.Histogram)) || res.Cumulative[bins-1] != uint32(n) {
				t.Errorf("n=%d bins=%d %s: C is not the prefix sum of H", n, bins, res.Scan)
			}
			for i, v := range res.Normalized {
				if v > 255 || (i > 0 && v < res.Normalized[i-1]) {
					t.Errorf("n=%d bins=%d: N = %v not monotonic in range", n, bins, res.Normalized)
					break
				}
			}
			if res.Normalized[bins-1] != 255 {
				t.Errorf("n=%d bins=%d: N[last] = %d; want 255", n, bins, res.Normalized[bins-1])
			}
			for i, v := range pixels {
				if want := res.Normalized[BinIndex(uint32(v), bins, res.MaxIntensity)]; uint32(out[i]) != want {
					t.Fatalf("n=%d bins=%d: out[%d] = %d; want %d", n, bins, i, out[i], want)
				}
			}

			// idempotence
			out2, res2, err := Run(q, cfg, pixels)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(out, out2) || !equalUint32(res.Histogram, res2.Histogram) ||
				!equalUint32(res.Cumulative, res2.Cumulative) || !equalUint32(res.Normalized, res2.Normalized) {
				t.Errorf("n=%d bins=%d %s: repeated run differs", n, bins, scan)
			}
		}
	}
}

func TestRun16Bit(t *testing.T) {
	rng := fastrand.RNG{}
	pixels := make([]uint16, 4099)
	for i := range pixels {
		pixels[i] = uint16(rng.Uint32n(4096))
	}
	out, res, err := Run(device.NewQueue(device.Default()), Config{Bins: 256, Scan: ScanBlelloch}, pixels)
	if err != nil {
		t.Fatal(err)
	}
	if res.OutputMax != 65535 || res.Normalized[255] != 65535 {
		t.Errorf("output max %d, N[255] = %d; want 65535", res.OutputMax, res.Normalized[255])
	}
	if len(out) != len(pixels) || res.PadCount != 256-4099%256 {
		t.Errorf("len(out) = %d, pad %d", len(out), res.PadCount)
	}
}

func TestMaxIntensityOverride(t *testing.T) {
	pixels := []uint8{0, 10, 20, 30}
	_, res, err := Run(device.NewQueue(device.Default()), Config{Bins: 2, MaxIntensity: 255, OutputMax: 100}, pixels)
	if err != nil {
		t.Fatal(err)
	}
	if res.MaxIntensity != 255 {
		t.Errorf("max intensity %d; want 255", res.MaxIntensity)
	}
	if want := []uint32{4, 0}; !equalUint32(res.Histogram, want) {
		t.Errorf("H = %v; want %v", res.Histogram, want)
	}
	if want := []uint32{100, 100}; !equalUint32(res.Normalized, want) {
		t.Errorf("N = %v; want %v", res.Normalized, want)
	}
	for _, ev := range res.Events {
		if ev.Name == "max" {
			t.Errorf("max kernel dispatched despite override")
		}
	}
}

func TestOutOfResources(t *testing.T) {
	d := device.Default()
	d.GlobalMemBytes = 1000
	out, res, err := Run(device.NewQueue(d), DefaultConfig(), make([]uint8, 2000))
	if !errors.Is(err, device.ErrOutOfResources) || out != nil || res != nil {
		t.Errorf("Run error %v; want ErrOutOfResources and no output", err)
	}
	if d.Allocated() != 0 {
		t.Errorf("%d bytes still allocated after failed run", d.Allocated())
	}
}

func TestEventsPerRun(t *testing.T) {
	q := device.NewQueue(device.Default())
	_, res, err := Run(q, Config{Bins: 8, Scan: ScanBlelloch}, []uint8{1, 2, 3, 4, 5, 6, 7, 8, 9})
	if err != nil {
		t.Fatal(err)
	}
	var kernels []string
	for _, ev := range res.Events {
		if ev.Kind == device.KindNDRange {
			kernels = append(kernels, ev.Name)
		}
	}
	// 3 up-sweep levels, root, 3 down-sweep levels
	want := "max histogram scan_bl_up scan_bl_up scan_bl_up scan_bl_root scan_bl_down scan_bl_down scan_bl_down scan_bl_inclusive normalize map"
	if got := strings.Join(kernels, " "); got != want {
		t.Errorf("dispatched %s; want %s", got, want)
	}
	if len(q.Events()) != len(res.Events) {
		t.Errorf("parent queue holds %d events; want %d", len(q.Events()), len(res.Events))
	}
	if res.KernelTime() <= 0 {
		t.Errorf("kernel time %v; want > 0", res.KernelTime())
	}
}

func TestEqualizerPerChannel(t *testing.T) {
	img, err := imageio.New(4, 2, 1, 2, 8)
	if err != nil {
		t.Fatal(err)
	}
	copy(img.Pix8, []uint8{0, 1, 2, 3, 0, 1, 2, 3, 7, 7, 7, 7, 7, 7, 7, 7})
	q := device.NewQueue(device.Default())

	e := NewEqualizer(q, Config{Bins: 4, Scan: ScanSimple, PerChannel: true})
	out, results, err := e.Equalize(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("%d results; want 2", len(results))
	}
	want := []uint8{63, 127, 191, 255, 63, 127, 191, 255, 255, 255, 255, 255, 255, 255, 255, 255}
	if !bytes.Equal(out.Pix8, want) {
		t.Errorf("per-channel output %v; want %v", out.Pix8, want)
	}

	e.Config.PerChannel = false
	out, results, err = e.Equalize(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Length != 16 || results[0].MaxIntensity != 7 {
		t.Fatalf("joint results %+v; want one over 16 samples with max 7", results)
	}
	if out.Width != 4 || out.Height != 2 || out.Channels != 2 || out.Bits != 8 {
		t.Errorf("output shape %s", out.DimensionsToString())
	}
}
