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

import "github.com/mlnoga/histeq/internal/device"

// Kernel replacing every sample with the lookup table entry of its bin. One item per sample
func mapKernel[T Sample](in, out []T, norm []uint32, bins int, maxIntensity *uint32) *device.Kernel {
	return &device.Kernel{
		Name: "map",
		Phases: []device.Phase{
			func(it device.Item, local []uint32) {
				out[it.Global] = T(norm[BinIndex(uint32(in[it.Global]), bins, *maxIntensity)])
			},
		},
	}
}
