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

package imageio

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"
)

// JPEG quality for lossy output
const jpegQuality = 95

// Decodes PNG, JPEG, GIF, BMP or TIFF. Gray and 16-bit color models keep their
// bit depth, everything else is converted to 8-bit RGB
func ReadStd(r io.Reader) (*Image, error) {
	src, err := imaging.Decode(r)
	if err != nil {
		return nil, err
	}
	return FromGoImage(src)
}

// Converts a Go image into planar samples
func FromGoImage(src image.Image) (*Image, error) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	switch s := src.(type) {
	case *image.Gray:
		img, err := New(w, h, 1, 1, 8)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			copy(img.Pix8[y*w:(y+1)*w], s.Pix[y*s.Stride:y*s.Stride+w])
		}
		return img, nil

	case *image.Gray16:
		img, err := New(w, h, 1, 1, 16)
		if err != nil {
			return nil, err
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.Pix16[y*w+x] = s.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			}
		}
		return img, nil

	case *image.RGBA64, *image.NRGBA64:
		img, err := New(w, h, 1, 3, 16)
		if err != nil {
			return nil, err
		}
		plane := w * h
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBA64Model.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
				img.Pix16[y*w+x] = c.R
				img.Pix16[plane+y*w+x] = c.G
				img.Pix16[2*plane+y*w+x] = c.B
			}
		}
		return img, nil

	default:
		img, err := New(w, h, 1, 3, 8)
		if err != nil {
			return nil, err
		}
		plane := w * h
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				img.Pix8[y*w+x] = c.R
				img.Pix8[plane+y*w+x] = c.G
				img.Pix8[2*plane+y*w+x] = c.B
			}
		}
		return img, nil
	}
}

// Converts planar samples with one or three channels into an opaque Go image
func ToGoImage(img *Image) (image.Image, error) {
	if img.Depth != 1 || (img.Channels != 1 && img.Channels != 3) {
		return nil, fmt.Errorf("%w: cannot convert %s image", ErrUnsupported, img.DimensionsToString())
	}
	w, h := img.Width, img.Height
	rect := image.Rect(0, 0, w, h)
	plane := w * h
	switch {
	case img.Channels == 1 && img.Bits == 8:
		g := image.NewGray(rect)
		copy(g.Pix, img.Pix8)
		return g, nil

	case img.Channels == 1:
		g := image.NewGray16(rect)
		for i, v := range img.Pix16 {
			g.SetGray16(i%w, i/w, color.Gray16{Y: v})
		}
		return g, nil

	case img.Bits == 8:
		c := image.NewNRGBA(rect)
		for i := 0; i < plane; i++ {
			c.Pix[4*i+0] = img.Pix8[i]
			c.Pix[4*i+1] = img.Pix8[plane+i]
			c.Pix[4*i+2] = img.Pix8[2*plane+i]
			c.Pix[4*i+3] = 255
		}
		return c, nil

	default:
		c := image.NewRGBA64(rect)
		for i := 0; i < plane; i++ {
			c.SetRGBA64(i%w, i/w, color.RGBA64{img.Pix16[i], img.Pix16[plane+i], img.Pix16[2*plane+i], 65535})
		}
		return c, nil
	}
}

// Encodes the image in one of the standard formats. 16-bit TIFF is written with
// deflate compression and predictor, other formats go through imaging
func WriteStd(w io.Writer, img *Image, format imaging.Format) error {
	goImg, err := ToGoImage(img)
	if err != nil {
		return err
	}
	if format == imaging.TIFF && img.Bits == 16 {
		return tiff.Encode(w, goImg, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	}
	return imaging.Encode(w, goImg, format, imaging.JPEGQuality(jpegQuality))
}
