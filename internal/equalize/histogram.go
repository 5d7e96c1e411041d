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
	"sync/atomic"

	"github.com/mlnoga/histeq/internal/device"
)

// Kernel counting the samples of in per bin into hist, which must be zero on entry.
// Must be dispatched with a work group size of bins. Each group zeroes a private
// histogram in local memory, counts its items into it, and then adds it into the
// global histogram, one bin per item. maxIntensity is read at dispatch time
func histogramKernel[T Sample](in []T, hist []uint32, bins int, maxIntensity *uint32) *device.Kernel {
	return &device.Kernel{
		Name:       "histogram",
		LocalWords: bins,
		Phases: []device.Phase{
			func(it device.Item, local []uint32) {
				local[it.Local] = 0
			},
			func(it device.Item, local []uint32) {
				bin := BinIndex(uint32(in[it.Global]), bins, *maxIntensity)
				atomic.AddUint32(&local[bin], 1)
			},
			func(it device.Item, local []uint32) {
				if c := atomic.LoadUint32(&local[it.Local]); c != 0 {
					atomic.AddUint32(&hist[it.Local], c)
				}
			},
		},
	}
}

// Serial reference histogram over the unpadded samples
func HistogramOf[T Sample](in []T, bins int, maxIntensity uint32) []uint32 {
	h := make([]uint32, bins)
	for _, v := range in {
		h[BinIndex(uint32(v), bins, maxIntensity)]++
	}
	return h
}
