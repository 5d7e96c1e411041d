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
	"fmt"
	"sync/atomic"

	"github.com/mlnoga/histeq/internal/device"
)

// Notice logged when Blelloch is requested for a bin count which is not a power of two
const FallbackNotice = "Running on Hillis-Steele due to bin size"

// Returns the strategy which runs for the given bin count, and whether it
// differs from the requested one. Blelloch needs a power of two number of bins
// and falls back to Hillis-Steele otherwise
func ResolveScan(s ScanStrategy, bins int) (effective ScanStrategy, fallback bool) {
	if s == ScanBlelloch && !isPowerOfTwo(bins) {
		return ScanHillisSteele, true
	}
	return s, false
}

// Device buffers and kernels for one inclusive scan over a histogram buffer
type scanPlan struct {
	strategy ScanStrategy
	bins     int
	h        *device.Buffer[uint32]
	a, b     *device.Buffer[uint32]
	out      *device.Buffer[uint32] // holds the result after dispatch, a or b

	// kernel arguments, set between dispatches
	src, dst []uint32
	step     int
}

// Allocates the working buffers for scanning h with the given effective strategy
func newScanPlan(d *device.Device, s ScanStrategy, h *device.Buffer[uint32]) (*scanPlan, error) {
	p := &scanPlan{strategy: s, bins: h.Len(), h: h}
	var err error
	if p.a, err = device.Alloc[uint32](d, "scan_a", p.bins); err != nil {
		return nil, err
	}
	if s == ScanHillisSteele {
		if p.b, err = device.Alloc[uint32](d, "scan_b", p.bins); err != nil {
			p.a.Release()
			return nil, err
		}
	}
	p.out = p.a
	if s == ScanHillisSteele && hillisSteeleSteps(p.bins)%2 == 1 {
		p.out = p.b
	}
	return p, nil
}

// Number of Hillis-Steele steps for the given number of bins
func hillisSteeleSteps(bins int) int {
	steps := 0
	for d := 1; d < bins; d <<= 1 {
		steps++
	}
	return steps
}

func (p *scanPlan) release() {
	p.a.Release()
	p.b.Release()
}

// Returns the kernels needed by the strategy
func (p *scanPlan) kernels() []*device.Kernel {
	h, a, bins := p.h.Data(), p.a.Data(), p.bins
	switch p.strategy {
	case ScanSimple:
		return []*device.Kernel{{
			Name: "scan_atomic",
			Phases: []device.Phase{func(it device.Item, local []uint32) {
				v := h[it.Global]
				if v == 0 {
					return
				}
				for j := it.Global; j < bins; j++ {
					atomic.AddUint32(&a[j], v)
				}
			}},
		}}

	case ScanHillisSteele:
		return []*device.Kernel{{
			Name: "scan_hs_step",
			Phases: []device.Phase{func(it device.Item, local []uint32) {
				i := it.Global
				if i >= p.step {
					p.dst[i] = p.src[i] + p.src[i-p.step]
				} else {
					p.dst[i] = p.src[i]
				}
			}},
		}}

	default:
		// tree levels touch disjoint pairs, so all Blelloch kernels operate in place on a
		return []*device.Kernel{
			{Name: "scan_bl_up", Phases: []device.Phase{func(it device.Item, local []uint32) {
				i := (2*it.Global+2)*p.step - 1
				a[i] += a[i-p.step]
			}}},
			{Name: "scan_bl_root", Phases: []device.Phase{func(it device.Item, local []uint32) {
				a[bins-1] = 0
			}}},
			{Name: "scan_bl_down", Phases: []device.Phase{func(it device.Item, local []uint32) {
				i := (2*it.Global+2)*p.step - 1
				t := a[i-p.step]
				a[i-p.step] = a[i]
				a[i] += t
			}}},
			{Name: "scan_bl_inclusive", Phases: []device.Phase{func(it device.Item, local []uint32) {
				a[it.Global] += h[it.Global]
			}}},
		}
	}
}

// Runs the scan. Every step or level is a separate blocking dispatch
func (p *scanPlan) dispatch(q *device.Queue, prog *device.Program) error {
	switch p.strategy {
	case ScanSimple:
		k, err := prog.Kernel("scan_atomic")
		if err != nil {
			return err
		}
		if _, err := device.EnqueueFillBuffer(q, p.a, 0); err != nil {
			return err
		}
		if _, err := q.EnqueueNDRange(k, p.bins, 0); err != nil {
			return err
		}

	case ScanHillisSteele:
		k, err := prog.Kernel("scan_hs_step")
		if err != nil {
			return err
		}
		if _, err := device.EnqueueCopyBuffer(q, p.h, p.a); err != nil {
			return err
		}
		src, dst := p.a, p.b
		for d := 1; d < p.bins; d <<= 1 {
			p.src, p.dst, p.step = src.Data(), dst.Data(), d
			if _, err := q.EnqueueNDRange(k, p.bins, 0); err != nil {
				return err
			}
			src, dst = dst, src
		}
		if src != p.out {
			return fmt.Errorf("hillis-steele result in %s, expected %s", src.Name, p.out.Name)
		}

	default:
		if !isPowerOfTwo(p.bins) {
			return fmt.Errorf("blelloch scan over %d bins, which is not a power of two", p.bins)
		}
		var ks [4]*device.Kernel
		for i, name := range []string{"scan_bl_up", "scan_bl_root", "scan_bl_down", "scan_bl_inclusive"} {
			k, err := prog.Kernel(name)
			if err != nil {
				return err
			}
			ks[i] = k
		}
		if _, err := device.EnqueueCopyBuffer(q, p.h, p.a); err != nil {
			return err
		}
		for s := 1; s < p.bins; s <<= 1 {
			p.step = s
			if _, err := q.EnqueueNDRange(ks[0], p.bins/(2*s), 0); err != nil {
				return err
			}
		}
		if _, err := q.EnqueueNDRange(ks[1], 1, 1); err != nil {
			return err
		}
		for s := p.bins / 2; s >= 1; s >>= 1 {
			p.step = s
			if _, err := q.EnqueueNDRange(ks[2], p.bins/(2*s), 0); err != nil {
				return err
			}
		}
		if _, err := q.EnqueueNDRange(ks[3], p.bins, 0); err != nil {
			return err
		}
	}
	return nil
}

// Computes the inclusive prefix sum of h on the device. Returns the result and the
// strategy which actually ran
func Scan(q *device.Queue, s ScanStrategy, h []uint32) ([]uint32, ScanStrategy, error) {
	if len(h) == 0 {
		return nil, s, fmt.Errorf("%w: 0", ErrInvalidBins)
	}
	effective, _ := ResolveScan(s, len(h))
	d := q.Device()
	hb, err := device.Alloc[uint32](d, "histogram", len(h))
	if err != nil {
		return nil, effective, err
	}
	defer hb.Release()
	p, err := newScanPlan(d, effective, hb)
	if err != nil {
		return nil, effective, err
	}
	defer p.release()
	prog := device.NewProgram(p.kernels()...)
	if err := prog.Build(d); err != nil {
		return nil, effective, err
	}
	if _, err := device.EnqueueWriteBuffer(q, hb, h); err != nil {
		return nil, effective, err
	}
	if err := p.dispatch(q, prog); err != nil {
		return nil, effective, err
	}
	c := make([]uint32, len(h))
	if _, err := device.EnqueueReadBuffer(q, p.out, c); err != nil {
		return nil, effective, err
	}
	return c, effective, nil
}
