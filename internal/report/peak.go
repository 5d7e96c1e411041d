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

package report

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/optimize"
)

var ErrEmptyHistogram = errors.New("empty histogram")

// Returns the index and count of the fullest bin. Ties go to the lowest index
func Peak(h []uint32) (bin int, count uint32) {
	bin = -1
	for i, c := range h {
		if bin < 0 || c > count {
			bin, count = i, c
		}
	}
	return bin, count
}

// Fits a normal distribution to the histogram, and returns its mode and standard
// deviation in units of bins. Bin i is centered on i+0.5
func FitNormal(h []uint32) (mode, stdDev float64, err error) {
	var total, sum, sumSq float64
	for i, c := range h {
		x := float64(i) + 0.5
		total += float64(c)
		sum += float64(c) * x
		sumSq += float64(c) * x * x
	}
	if total == 0 {
		return -1, -1, ErrEmptyHistogram
	}

	// Start from the moments, then minimize the distance between histogram and normal curve
	mean := sum / total
	sigma0 := math.Sqrt(math.Max(sumSq/total-mean*mean, 0.25))
	x0 := []float64{total, mean, sigma0}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			alpha, mu, sigma := x[0], x[1], math.Abs(x[2])+1e-9
			scaler := alpha / (sigma * math.Sqrt(2*math.Pi))
			sumSqDiff := 0.0
			for i, y := range h {
				xmusig := (float64(i) + 0.5 - mu) / sigma
				diff := float64(y) - scaler*math.Exp(-0.5*xmusig*xmusig)
				sumSqDiff += diff * diff
			}
			return math.Sqrt(sumSqDiff / float64(len(h)))
		},
	}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return -1, -1, err
	}
	return result.X[1], math.Abs(result.X[2]), nil
}
