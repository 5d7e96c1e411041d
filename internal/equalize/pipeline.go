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
	"time"

	"github.com/mlnoga/histeq/internal/device"
)

// Sample types of pixel buffers
type Sample interface {
	uint8 | uint16
}

// Outcome of one pipeline run over a single pixel buffer
type Result struct {
	Bins         int             `json:"bins"`
	Length       int             `json:"length"`
	PadCount     int             `json:"padCount"`
	MaxIntensity uint32          `json:"maxIntensity"`
	OutputMax    uint32          `json:"outputMax"`
	Requested    ScanStrategy    `json:"requestedScan"`
	Scan         ScanStrategy    `json:"scan"`
	ScanFallback bool            `json:"scanFallback"`
	Histogram    []uint32        `json:"histogram"`
	Cumulative   []uint32        `json:"cumulative"`
	Normalized   []uint32        `json:"normalized"`
	Events       []*device.Event `json:"-"`
}

// Sum of the execution times of all kernel dispatches
func (r *Result) KernelTime() time.Duration {
	var d time.Duration
	for _, ev := range r.Events {
		if ev.Kind == device.KindNDRange {
			d += ev.Duration()
		}
	}
	return d
}

// Largest value representable by the sample type
func sampleMax[T Sample]() uint32 {
	var zero T
	return uint32(^zero)
}

// Equalizes the pixel buffer on the queue's device. Returns the equalized buffer,
// which has the same length as pixels, and the intermediate tables. Either all
// stages succeed, or no output is returned
func Run[T Sample](q *device.Queue, cfg Config, pixels []T) ([]T, *Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if len(pixels) == 0 {
		return nil, nil, ErrEmptyInput
	}
	d := q.Device()
	bins := cfg.Bins
	if bins > d.MaxWorkGroupSize {
		return nil, nil, fmt.Errorf("%w: %d exceeds the maximum work group size %d of %s",
			ErrInvalidBins, bins, d.MaxWorkGroupSize, d.Name)
	}
	outputMax := cfg.OutputMax
	if outputMax == 0 {
		outputMax = sampleMax[T]()
	} else if outputMax > sampleMax[T]() {
		return nil, nil, fmt.Errorf("%w: %d exceeds sample maximum %d", ErrInvalidOutputMax, outputMax, sampleMax[T]())
	}

	n := len(pixels)
	pad := PadCount(n, bins)
	effective, fallback := ResolveScan(cfg.Scan, bins)
	if fallback && cfg.Log != nil {
		fmt.Fprintln(cfg.Log, FallbackNotice)
	}
	res := &Result{
		Bins:         bins,
		Length:       n,
		PadCount:     pad,
		OutputMax:    outputMax,
		Requested:    cfg.Scan,
		Scan:         effective,
		ScanFallback: fallback,
	}
	q = q.Sub()

	// device buffers. The padded input tail stays zero from allocation
	var release []func()
	defer func() {
		for _, f := range release {
			f()
		}
	}()
	in, err := device.Alloc[T](d, "input", n+pad)
	if err != nil {
		return nil, nil, err
	}
	release = append(release, in.Release)
	hist, err := device.Alloc[uint32](d, "histogram", bins)
	if err != nil {
		return nil, nil, err
	}
	release = append(release, hist.Release)
	maxBuf, err := device.Alloc[uint32](d, "max", 1)
	if err != nil {
		return nil, nil, err
	}
	release = append(release, maxBuf.Release)
	norm, err := device.Alloc[uint32](d, "normalized", bins)
	if err != nil {
		return nil, nil, err
	}
	release = append(release, norm.Release)
	out, err := device.Alloc[T](d, "output", n)
	if err != nil {
		return nil, nil, err
	}
	release = append(release, out.Release)
	scan, err := newScanPlan(d, effective, hist)
	if err != nil {
		return nil, nil, err
	}
	release = append(release, scan.release)

	// program. maxIntensity is set before the histogram dispatch
	var maxIntensity uint32
	kernels := []*device.Kernel{
		maxKernel(in.Data(), maxBuf.Data()),
		histogramKernel(in.Data(), hist.Data(), bins, &maxIntensity),
		normalizeKernel(scan.out.Data(), norm.Data(), n, outputMax),
		mapKernel(in.Data()[:n], out.Data(), norm.Data(), bins, &maxIntensity),
	}
	kernels = append(kernels, scan.kernels()...)
	prog := device.NewProgram(kernels...)
	if err := prog.Build(d); err != nil {
		return nil, nil, err
	}
	kernel := func(name string) *device.Kernel {
		k, err := prog.Kernel(name)
		if err != nil {
			panic(err) // all names were built above
		}
		return k
	}

	if _, err := device.EnqueueWriteBuffer(q, in, pixels); err != nil {
		return nil, nil, err
	}

	// max intensity
	if cfg.MaxIntensity != 0 {
		maxIntensity = cfg.MaxIntensity
	} else {
		if _, err := q.EnqueueNDRange(kernel("max"), n+pad, 0); err != nil {
			return nil, nil, fmt.Errorf("max intensity: %w", err)
		}
		m := make([]uint32, 1)
		if _, err := device.EnqueueReadBuffer(q, maxBuf, m); err != nil {
			return nil, nil, err
		}
		maxIntensity = m[0]
	}
	res.MaxIntensity = maxIntensity

	// histogram, with pad correction on the host
	if _, err := device.EnqueueFillBuffer(q, hist, 0); err != nil {
		return nil, nil, err
	}
	if _, err := q.EnqueueNDRange(kernel("histogram"), n+pad, bins); err != nil {
		return nil, nil, fmt.Errorf("histogram: %w", err)
	}
	res.Histogram = make([]uint32, bins)
	if _, err := device.EnqueueReadBuffer(q, hist, res.Histogram); err != nil {
		return nil, nil, err
	}
	if err := correctPadding(res.Histogram, pad); err != nil {
		return nil, nil, err
	}
	if pad > 0 {
		if _, err := device.EnqueueWriteBuffer(q, hist, res.Histogram); err != nil {
			return nil, nil, err
		}
	}

	// cumulative histogram
	if err := scan.dispatch(q, prog); err != nil {
		return nil, nil, fmt.Errorf("%s scan: %w", effective, err)
	}
	res.Cumulative = make([]uint32, bins)
	if _, err := device.EnqueueReadBuffer(q, scan.out, res.Cumulative); err != nil {
		return nil, nil, err
	}

	// lookup table
	if _, err := q.EnqueueNDRange(kernel("normalize"), bins, 0); err != nil {
		return nil, nil, fmt.Errorf("normalize: %w", err)
	}
	res.Normalized = make([]uint32, bins)
	if _, err := device.EnqueueReadBuffer(q, norm, res.Normalized); err != nil {
		return nil, nil, err
	}

	// back-projection
	if _, err := q.EnqueueNDRange(kernel("map"), n, 0); err != nil {
		return nil, nil, fmt.Errorf("map: %w", err)
	}
	result := make([]T, n)
	if _, err := device.EnqueueReadBuffer(q, out, result); err != nil {
		return nil, nil, err
	}

	res.Events = q.Events()
	return result, res, nil
}

// Sum of kernel execution times over several results
func totalKernelTime(results []*Result) time.Duration {
	var d time.Duration
	for _, r := range results {
		d += r.KernelTime()
	}
	return d
}
