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

import "fmt"

// Number of padding elements needed to make length a multiple of bins.
// Always in [0, bins-1]
func PadCount(length, bins int) int {
	return (bins - length%bins) % bins
}

// Subtracts the padding contributions from bin 0. Padding elements are zero
// and always land in bin 0, so the correction cannot underflow for a histogram
// built over the padded buffer
func correctPadding(h []uint32, pad int) error {
	if pad == 0 {
		return nil
	}
	if uint64(h[0]) < uint64(pad) {
		return fmt.Errorf("bin 0 holds %d elements, less than the %d padding elements", h[0], pad)
	}
	h[0] -= uint32(pad)
	return nil
}
