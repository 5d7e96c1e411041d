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

// Scales a cumulative count to [0, outputMax]. Fractions truncate toward zero, they do not round
func NormalizeValue(c uint32, length int, outputMax uint32) uint32 {
	n := uint64(c) * uint64(outputMax) / uint64(length)
	if n > uint64(outputMax) {
		return outputMax
	}
	return uint32(n)
}

// Kernel computing the lookup table norm from the cumulative histogram cum. One item per bin
func normalizeKernel(cum, norm []uint32, length int, outputMax uint32) *device.Kernel {
	return &device.Kernel{
		Name: "normalize",
		Phases: []device.Phase{
			func(it device.Item, local []uint32) {
				norm[it.Global] = NormalizeValue(cum[it.Global], length, outputMax)
			},
		},
	}
}
