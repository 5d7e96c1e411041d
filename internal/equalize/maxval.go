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

// Kernel computing the largest sample of in into out[0], which must be zero on entry.
// Each work group reduces into local memory before merging into the global result
func maxKernel[T Sample](in []T, out []uint32) *device.Kernel {
	return &device.Kernel{
		Name:       "max",
		LocalWords: 1,
		Phases: []device.Phase{
			func(it device.Item, local []uint32) {
				atomicMax(&local[0], uint32(in[it.Global]))
			},
			func(it device.Item, local []uint32) {
				if it.Local == 0 {
					atomicMax(&out[0], local[0])
				}
			},
		},
	}
}

func atomicMax(addr *uint32, v uint32) {
	for {
		old := atomic.LoadUint32(addr)
		if v <= old || atomic.CompareAndSwapUint32(addr, old, v) {
			return
		}
	}
}
