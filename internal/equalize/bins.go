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

// Bin of intensity v, for the given number of bins over [0, maxIntensity].
// Values above maxIntensity land in the last bin
func BinIndex(v uint32, bins int, maxIntensity uint32) int {
	b := uint64(v) * uint64(bins) / (uint64(maxIntensity) + 1)
	if b >= uint64(bins) {
		return bins - 1
	}
	return int(b)
}

// Reports whether n is a power of two
func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
