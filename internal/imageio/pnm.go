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
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// Reads a PGM or PPM image, in plain (P2, P3) or binary (P5, P6) encoding.
// Maximum values up to 255 give 8-bit images, larger ones 16-bit images
func ReadPNM(r io.Reader) (*Image, error) {
	br := bufio.NewReaderSize(r, bufLen)
	magic := make([]byte, 2)
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("reading PNM magic: %w", err)
	}
	if magic[0] != 'P' {
		return nil, fmt.Errorf("%w: not a PNM file", ErrUnsupported)
	}
	var channels int
	var plain bool
	switch magic[1] {
	case '2':
		channels, plain = 1, true
	case '3':
		channels, plain = 3, true
	case '5':
		channels = 1
	case '6':
		channels = 3
	default:
		return nil, fmt.Errorf("%w: PNM type P%c", ErrUnsupported, magic[1])
	}

	var header [3]int
	for i := range header {
		v, err := readPNMInt(br)
		if err != nil {
			return nil, fmt.Errorf("reading PNM header: %w", err)
		}
		header[i] = v
	}
	width, height, maxVal := header[0], header[1], header[2]
	if maxVal <= 0 || maxVal > 65535 {
		return nil, fmt.Errorf("%w: PNM maximum value %d", ErrUnsupported, maxVal)
	}
	bits := 8
	if maxVal > 255 {
		bits = 16
	}
	n, err := SampleCount(width, height, 1, channels)
	if err != nil {
		return nil, err
	}

	// samples are read before allocating the image, so a forged header cannot
	// allocate more than the data present
	var samples []uint16
	if plain {
		for i := 0; i < n; i++ {
			v, err := readPNMInt(br)
			if err != nil {
				return nil, fmt.Errorf("reading PNM sample %d: %w", i, err)
			}
			if v > maxVal {
				return nil, fmt.Errorf("%w: PNM sample %d exceeds maximum %d", ErrUnsupported, v, maxVal)
			}
			samples = append(samples, uint16(v))
		}
	} else {
		// the single whitespace byte after the maximum value was consumed with it
		bytesPerSample := bits / 8
		buf, err := io.ReadAll(io.LimitReader(br, int64(n)*int64(bytesPerSample)))
		if err != nil {
			return nil, fmt.Errorf("reading PNM data: %w", err)
		}
		if len(buf) < n*bytesPerSample {
			return nil, fmt.Errorf("reading PNM data: %w after %d of %d bytes", io.ErrUnexpectedEOF, len(buf), n*bytesPerSample)
		}
		samples = make([]uint16, n)
		for i := range samples {
			if bytesPerSample == 1 {
				samples[i] = uint16(buf[i])
			} else {
				samples[i] = uint16(buf[2*i])<<8 | uint16(buf[2*i+1])
			}
		}
	}

	img, err := New(width, height, 1, channels, bits)
	if err != nil {
		return nil, err
	}
	// samples are interleaved by channel in the file
	plane := img.PlaneLen()
	for i, v := range samples {
		img.set((i%channels)*plane+i/channels, v)
	}
	return img, nil
}

// Reads a decimal header or plain sample value, skipping whitespace and comments
func readPNMInt(br *bufio.Reader) (int, error) {
	var digits []byte
	for {
		c, err := br.ReadByte()
		if err != nil {
			if err == io.EOF && len(digits) > 0 {
				break
			}
			return 0, err
		}
		if c == '#' && len(digits) == 0 {
			if _, err := br.ReadString('\n'); err != nil {
				return 0, err
			}
			continue
		}
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f' {
			if len(digits) > 0 {
				break
			}
			continue
		}
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: unexpected character '%c' in PNM", ErrUnsupported, c)
		}
		digits = append(digits, c)
	}
	return strconv.Atoi(string(digits))
}

// Sets sample i, for either bit depth
func (img *Image) set(i int, v uint16) {
	if img.Bits == 8 {
		img.Pix8[i] = uint8(v)
	} else {
		img.Pix16[i] = v
	}
}

// Writes the image as binary PGM (one channel) or PPM (three channels)
func WritePNM(w io.Writer, img *Image) error {
	var magic string
	switch {
	case img.Depth == 1 && img.Channels == 1:
		magic = "P5"
	case img.Depth == 1 && img.Channels == 3:
		magic = "P6"
	default:
		return fmt.Errorf("%w: cannot write %s image as PNM", ErrUnsupported, img.DimensionsToString())
	}
	bw := bufio.NewWriterSize(w, bufLen)
	fmt.Fprintf(bw, "%s\n%d %d\n%d\n", magic, img.Width, img.Height, img.MaxValue())
	plane := img.PlaneLen()
	for i := 0; i < plane; i++ {
		for c := 0; c < img.Channels; c++ {
			if img.Bits == 8 {
				bw.WriteByte(img.Pix8[c*plane+i])
			} else {
				v := img.Pix16[c*plane+i]
				bw.WriteByte(byte(v >> 8))
				bw.WriteByte(byte(v))
			}
		}
	}
	return bw.Flush()
}
