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
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"
)

const (
	chartWidth       = 512
	chartPanelHeight = 128
	chartMargin      = 4
)

// Renders one bar chart panel per series, stacked vertically. Each panel is
// scaled to the maximum of its series
func RenderChart(series ...[]uint32) *image.NRGBA {
	height := len(series)*(chartPanelHeight+chartMargin) + chartMargin
	img := imaging.New(chartWidth, height, color.White)
	palette := chartPalette(len(series))

	for s, values := range series {
		if len(values) == 0 {
			continue
		}
		var peak uint32
		for _, v := range values {
			if v > peak {
				peak = v
			}
		}
		if peak == 0 {
			continue
		}
		top := chartMargin + s*(chartPanelHeight+chartMargin)
		bottom := top + chartPanelHeight
		for x := 0; x < chartWidth; x++ {
			v := values[x*len(values)/chartWidth]
			barHeight := int(uint64(v) * chartPanelHeight / uint64(peak))
			for y := bottom - barHeight; y < bottom; y++ {
				img.Set(x, y, palette[s])
			}
		}
	}
	return img
}

// Evenly spaced hues at constant chroma and luminance
func chartPalette(n int) []color.Color {
	p := make([]color.Color, n)
	for i := range p {
		p[i] = colorful.Hcl(30+360*float64(i)/float64(n), 0.6, 0.55).Clamped()
	}
	return p
}

// Renders the chart and saves it to a file, in the format given by the suffix
func WriteChart(fileName string, series ...[]uint32) error {
	return imaging.Save(RenderChart(series...), fileName)
}
