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

	"github.com/mlnoga/histeq/internal/device"
	"github.com/mlnoga/histeq/internal/imageio"
)

// Equalizes images on a device queue
type Equalizer struct {
	Queue  *device.Queue
	Config Config
}

func NewEqualizer(q *device.Queue, cfg Config) *Equalizer {
	return &Equalizer{Queue: q, Config: cfg}
}

// Returns the equalized image, and one result per equalized buffer: one per
// channel in per-channel mode, else a single one covering all samples
func (e *Equalizer) Equalize(img *imageio.Image) (*imageio.Image, []*Result, error) {
	if err := e.Config.Validate(); err != nil {
		return nil, nil, err
	}
	if err := img.Validate(); err != nil {
		return nil, nil, err
	}
	out := img.CloneShape()
	planes, planeLen := 1, img.Len()
	if e.Config.PerChannel {
		planes, planeLen = img.Channels, img.PlaneLen()
	}

	results := make([]*Result, 0, planes)
	for p := 0; p < planes; p++ {
		lo, hi := p*planeLen, (p+1)*planeLen
		var res *Result
		var err error
		if img.Bits == 8 {
			var eq []uint8
			if eq, res, err = Run(e.Queue, e.Config, img.Pix8[lo:hi]); err == nil {
				copy(out.Pix8[lo:hi], eq)
			}
		} else {
			var eq []uint16
			if eq, res, err = Run(e.Queue, e.Config, img.Pix16[lo:hi]); err == nil {
				copy(out.Pix16[lo:hi], eq)
			}
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%d: %w", img.ID, err)
		}
		results = append(results, res)
	}

	if e.Config.Log != nil {
		r := results[0]
		fmt.Fprintf(e.Config.Log, "%d: Equalized %s image with %d bins using %s scan, %d padding, kernels %v\n",
			img.ID, img.DimensionsToString(), r.Bins, r.Scan, r.PadCount, totalKernelTime(results))
	}
	return out, results, nil
}
