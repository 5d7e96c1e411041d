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
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Distribution statistics of a histogram, over bin indices weighted by counts
type HistStats struct {
	Samples uint64  `json:"samples"`
	Mean    float64 `json:"mean"`    // mean bin index
	StdDev  float64 `json:"stdDev"`  // standard deviation of the bin index
	Entropy float64 `json:"entropy"` // Shannon entropy in bits
	Used    int     `json:"used"`    // number of non-empty bins
	Peak    int     `json:"peak"`    // fullest bin
	Mode    float64 `json:"mode"`    // mode of a fitted normal distribution, in bins
}

func (s HistStats) String() string {
	return fmt.Sprintf("samples %d mean bin %.3f stddev %.3f entropy %.4f bits, %d bins used, peak %d mode %.3f",
		s.Samples, s.Mean, s.StdDev, s.Entropy, s.Used, s.Peak, s.Mode)
}

// Computes statistics of a histogram. Returns zero statistics for an empty one
func HistogramStats(h []uint32) HistStats {
	var s HistStats
	x := make([]float64, len(h))
	w := make([]float64, len(h))
	for i, c := range h {
		x[i], w[i] = float64(i), float64(c)
		s.Samples += uint64(c)
		if c > 0 {
			s.Used++
		}
	}
	if s.Samples == 0 {
		return s
	}
	s.Mean = stat.Mean(x, w)
	if s.Used > 1 {
		s.StdDev = math.Sqrt(stat.PopVariance(x, w))
	}
	p := make([]float64, len(h))
	for i := range w {
		p[i] = w[i] / float64(s.Samples)
	}
	s.Entropy = stat.Entropy(p) / math.Ln2
	s.Peak, _ = Peak(h)
	if mode, _, err := FitNormal(h); err == nil && !math.IsNaN(mode) && !math.IsInf(mode, 0) {
		s.Mode = mode
	}
	return s
}

// Formats a vector as name = [v0, v1, ...]
func FormatVector(name string, v []uint32) string {
	var sb strings.Builder
	sb.WriteString(name)
	sb.WriteString(" = [")
	for i, x := range v {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.FormatUint(uint64(x), 10))
	}
	sb.WriteString("]")
	return sb.String()
}
