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

// Package imageio reads and writes integer images with 8 or 16 bits per sample.
package imageio

import (
	"errors"
	"fmt"

	"github.com/pbnjay/memory"
	"github.com/valyala/fastrand"
)

var ErrUnsupported = errors.New("unsupported image")
var ErrTooLarge = errors.New("image too large")

// Largest number of samples of an image: an eighth of physical memory, at most 1<<31
var MaxSamples = defaultMaxSamples()

func defaultMaxSamples() uint64 {
	n := memory.TotalMemory() / 8
	if n == 0 || n > 1<<31 {
		n = 1 << 31
	}
	return n
}

// Returns the number of samples of an image with the given shape. Fails for
// non-positive dimensions, and for shapes exceeding MaxSamples
func SampleCount(width, height, depth, channels int) (int, error) {
	if width <= 0 || height <= 0 || depth <= 0 || channels <= 0 {
		return 0, fmt.Errorf("%w: dimensions %dx%dx%d with %d channels", ErrUnsupported, width, height, depth, channels)
	}
	n := uint64(1)
	for _, d := range []int{width, height, depth, channels} {
		if uint64(d) > MaxSamples {
			return 0, fmt.Errorf("%w: dimensions %dx%dx%d with %d channels", ErrTooLarge, width, height, depth, channels)
		}
		n *= uint64(d) // both factors are at most 1<<31
		if n > MaxSamples {
			return 0, fmt.Errorf("%w: dimensions %dx%dx%d with %d channels exceed %d samples", ErrTooLarge, width, height, depth, channels, MaxSamples)
		}
	}
	return int(n), nil
}

// An integer image with planar sample layout: all samples of channel 0 first,
// then all samples of channel 1, and so on. Exactly one of Pix8 and Pix16 is set
type Image struct {
	ID       int    // Sequential ID number, for log output
	FileName string // Original file name, if any, for log output

	Width    int
	Height   int
	Depth    int // Number of slices, 1 for plain images
	Channels int
	Bits     int // 8 or 16

	Pix8  []uint8
	Pix16 []uint16
}

// Creates a zero-filled image of the given shape and bit depth
func New(width, height, depth, channels, bits int) (*Image, error) {
	if _, err := SampleCount(width, height, depth, channels); err != nil {
		return nil, err
	}
	img := &Image{Width: width, Height: height, Depth: depth, Channels: channels, Bits: bits}
	switch bits {
	case 8:
		img.Pix8 = make([]uint8, img.Len())
	case 16:
		img.Pix16 = make([]uint16, img.Len())
	default:
		return nil, fmt.Errorf("%w: %d bits per sample", ErrUnsupported, bits)
	}
	return img, nil
}

// Creates an image filled with uniformly distributed random samples
func NewRandom(width, height, channels, bits int) (*Image, error) {
	img, err := New(width, height, 1, channels, bits)
	if err != nil {
		return nil, err
	}
	rng := fastrand.RNG{}
	for i := range img.Pix8 {
		img.Pix8[i] = uint8(rng.Uint32n(256))
	}
	for i := range img.Pix16 {
		img.Pix16[i] = uint16(rng.Uint32n(65536))
	}
	return img, nil
}

// Creates an empty image with the same shape, bit depth, id and file name
func (img *Image) CloneShape() *Image {
	out, _ := New(img.Width, img.Height, img.Depth, img.Channels, img.Bits)
	out.ID, out.FileName = img.ID, img.FileName
	return out
}

// Total number of samples
func (img *Image) Len() int {
	return img.Width * img.Height * img.Depth * img.Channels
}

// Number of samples per channel
func (img *Image) PlaneLen() int {
	return img.Width * img.Height * img.Depth
}

// Largest representable sample value
func (img *Image) MaxValue() uint32 {
	if img.Bits == 16 {
		return 65535
	}
	return 255
}

// Largest sample value present in the image
func (img *Image) Max() uint32 {
	var m uint32
	for _, v := range img.Pix8 {
		if uint32(v) > m {
			m = uint32(v)
		}
	}
	for _, v := range img.Pix16 {
		if uint32(v) > m {
			m = uint32(v)
		}
	}
	return m
}

// Returns the samples of channel c
func (img *Image) Plane8(c int) []uint8 {
	l := img.PlaneLen()
	return img.Pix8[c*l : (c+1)*l]
}

// Returns the samples of channel c
func (img *Image) Plane16(c int) []uint16 {
	l := img.PlaneLen()
	return img.Pix16[c*l : (c+1)*l]
}

// Checks that the pixel buffer matches the declared shape
func (img *Image) Validate() error {
	if img.Width <= 0 || img.Height <= 0 || img.Depth <= 0 || img.Channels <= 0 {
		return fmt.Errorf("%w: dimensions %s", ErrUnsupported, img.DimensionsToString())
	}
	switch img.Bits {
	case 8:
		if len(img.Pix8) != img.Len() || img.Pix16 != nil {
			return fmt.Errorf("%w: %d 8-bit samples for %s", ErrUnsupported, len(img.Pix8), img.DimensionsToString())
		}
	case 16:
		if len(img.Pix16) != img.Len() || img.Pix8 != nil {
			return fmt.Errorf("%w: %d 16-bit samples for %s", ErrUnsupported, len(img.Pix16), img.DimensionsToString())
		}
	default:
		return fmt.Errorf("%w: %d bits per sample", ErrUnsupported, img.Bits)
	}
	return nil
}

// Returns a human-readable description of the image shape, e.g. 640x480x3 16-bit
func (img *Image) DimensionsToString() string {
	s := fmt.Sprintf("%dx%d", img.Width, img.Height)
	if img.Depth > 1 {
		s += fmt.Sprintf("x%d", img.Depth)
	}
	if img.Channels > 1 {
		s += fmt.Sprintf("x%d", img.Channels)
	}
	return fmt.Sprintf("%s %d-bit", s, img.Bits)
}
