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
	"regexp"
	"strconv"
	"strings"
)

// FITS files consist of blocks of this size, header lines have a fixed length.
// See https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
const fitsBlockSize = 2880
const fitsLineSize = 80

// Input and output buffer length
const bufLen = 16 * 1024

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

// Key-value pairs of a FITS header, by value type
type fitsHeader struct {
	Bools    map[string]bool
	Ints     map[string]int64
	Floats   map[string]float64
	Strings  map[string]string
	History  []string
	Comments []string
	End      bool
}

func newFITSHeader() *fitsHeader {
	return &fitsHeader{
		Bools:   map[string]bool{},
		Ints:    map[string]int64{},
		Floats:  map[string]float64{},
		Strings: map[string]string{},
	}
}

// Returns an integer header value, accepting integral float notation
func (h *fitsHeader) number(key string) (float64, bool) {
	if v, ok := h.Ints[key]; ok {
		return float64(v), true
	}
	v, ok := h.Floats[key]
	return v, ok
}

// Reads a FITS image with BITPIX 8 or 16. NAXIS3 is taken as the number of channels
func ReadFITS(r io.Reader, id int, logWriter io.Writer) (*Image, error) {
	h := newFITSHeader()
	if err := h.read(r, id, logWriter); err != nil {
		return nil, err
	}
	if !h.Bools["SIMPLE"] {
		return nil, fmt.Errorf("%d: Not a valid FITS file; SIMPLE=T missing in header", id)
	}
	bitpix, ok := h.Ints["BITPIX"]
	if !ok {
		return nil, fmt.Errorf("%d: FITS header does not contain key BITPIX", id)
	}
	if bitpix != 8 && bitpix != 16 {
		return nil, fmt.Errorf("%w: %d: FITS BITPIX %d, expecting 8 or 16", ErrUnsupported, id, bitpix)
	}
	naxis, ok := h.Ints["NAXIS"]
	if !ok {
		return nil, fmt.Errorf("%d: FITS header does not contain key NAXIS", id)
	}
	if naxis != 2 && naxis != 3 {
		return nil, fmt.Errorf("%w: %d: FITS NAXIS %d, expecting 2 or 3", ErrUnsupported, id, naxis)
	}
	dims := []int{1, 1, 1}
	for i := 1; i <= int(naxis); i++ {
		v, ok := h.Ints["NAXIS"+strconv.Itoa(i)]
		if !ok {
			return nil, fmt.Errorf("%d: FITS header does not contain key NAXIS%d", id, i)
		}
		dims[i-1] = int(v)
	}
	bzero, _ := h.number("BZERO")
	bscale, ok := h.number("BSCALE")
	if !ok {
		bscale = 1
	}
	if bscale != 1 {
		return nil, fmt.Errorf("%w: %d: FITS BSCALE %g", ErrUnsupported, id, bscale)
	}

	// data is read before allocating the image, so a forged header cannot
	// allocate more than the data present
	n, err := SampleCount(dims[0], dims[1], 1, dims[2])
	if err != nil {
		return nil, fmt.Errorf("%d: %w", id, err)
	}
	bytesPerSample := int(bitpix) / 8
	buf, err := io.ReadAll(io.LimitReader(r, int64(n)*int64(bytesPerSample)))
	if err != nil {
		return nil, fmt.Errorf("%d: reading FITS data: %w", id, err)
	}
	if len(buf) < n*bytesPerSample {
		return nil, fmt.Errorf("%d: reading FITS data: %w after %d of %d bytes", id, io.ErrUnexpectedEOF, len(buf), n*bytesPerSample)
	}

	img, err := New(dims[0], dims[1], 1, dims[2], int(bitpix))
	if err != nil {
		return nil, err
	}
	img.ID = id
	if bitpix == 8 {
		copy(img.Pix8, buf)
	} else {
		decodeInt16Data(buf, img.Pix16, int64(bzero))
	}
	return img, nil
}

// Converts 16-bit data from network byte order, adjusting for Bzero.
// Values outside the unsigned 16-bit range are clamped
func decodeInt16Data(buf []byte, data []uint16, bzero int64) {
	for i := range data {
		v := int64(int16(uint16(buf[2*i])<<8|uint16(buf[2*i+1]))) + bzero
		if v < 0 {
			v = 0
		} else if v > 65535 {
			v = 65535
		}
		data[i] = uint16(v)
	}
}

func (h *fitsHeader) read(r io.Reader, id int, logWriter io.Writer) error {
	buf := make([]byte, fitsBlockSize)

	for !h.End {
		// read next header unit
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("%d: reading FITS header: %w", id, err)
		}

		// parse all lines in this header unit
		for lineNo := 0; lineNo < fitsBlockSize/fitsLineSize && !h.End; lineNo++ {
			line := buf[lineNo*fitsLineSize : (lineNo+1)*fitsLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				fmt.Fprintf(logWriter, "%d: Warning:Cannot parse '%s', ignoring\n", id, strings.TrimRight(string(line), " "))
				continue
			}
			h.readLine(reParser.SubexpNames(), subValues)
		}
	}
	return nil
}

func (h *fitsHeader) readLine(subNames []string, subValues [][]byte) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] == nil || len(subNames[i]) != 1 {
			continue
		}
		switch subNames[i][0] {
		case 'E':
			h.End = true
		case 'H':
			h.History = append(h.History, string(subValues[i]))
		case 'C':
			h.Comments = append(h.Comments, string(subValues[i]))
		case 'k':
			key = string(subValues[i])
		case 'b':
			if len(subValues[i]) > 0 {
				h.Bools[key] = subValues[i][0] == 'T'
			}
		case 'i':
			if v, err := strconv.ParseInt(string(subValues[i]), 10, 64); err == nil {
				h.Ints[key] = v
			}
		case 'f':
			s := strings.Replace(string(subValues[i]), "D", "E", 1)
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				h.Floats[key] = v
			}
		case 's':
			h.Strings[key] = strings.TrimRight(string(subValues[i]), " ")
		}
	}
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"

	histLine := "HISTORY" + white + "(?P<H>.*)"
	commLine := "COMMENT" + white + "(?P<C>.*)"
	endLine := "(?P<E>END)" + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>[^']*)'"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + ")"
	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + "=" + whiteOpt + val + whiteOpt + commOpt

	lineRe := "^(?:" + white + "|" + histLine + "|" + commLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}

// Writes the image as FITS with BITPIX 8, or BITPIX 16 with BZERO 32768 for unsigned values
func WriteFITS(w io.Writer, img *Image) error {
	sb := strings.Builder{}
	writeBool(&sb, "SIMPLE", true, "FITS standard 4.0")
	writeInt(&sb, "BITPIX", img.Bits, fmt.Sprintf("%d-bit integer", img.Bits))
	naxisn := []int{img.Width, img.Height}
	if img.Channels > 1 {
		naxisn = append(naxisn, img.Channels)
	}
	if img.Depth > 1 {
		return fmt.Errorf("%w: cannot write %s image as FITS", ErrUnsupported, img.DimensionsToString())
	}
	writeInt(&sb, "NAXIS", len(naxisn), "[1] Number of axis")
	for i, n := range naxisn {
		writeInt(&sb, fmt.Sprintf("NAXIS%d", i+1), n, "[1] Axis size")
	}
	if img.Bits == 16 {
		writeInt(&sb, "BZERO", 32768, "[1] Zero offset for unsigned values")
		writeInt(&sb, "BSCALE", 1, "[1] Scale")
	}
	writeEnd(&sb)
	padBlock(&sb, ' ')

	bw := bufio.NewWriterSize(w, bufLen)
	if _, err := bw.WriteString(sb.String()); err != nil {
		return err
	}
	written := 0
	if img.Bits == 8 {
		if _, err := bw.Write(img.Pix8); err != nil {
			return err
		}
		written = len(img.Pix8)
	} else {
		for _, v := range img.Pix16 {
			s := uint16(int32(v) - 32768)
			bw.WriteByte(byte(s >> 8))
			bw.WriteByte(byte(s))
		}
		written = 2 * len(img.Pix16)
	}
	if rem := written % fitsBlockSize; rem > 0 {
		bw.Write(make([]byte, fitsBlockSize-rem))
	}
	return bw.Flush()
}

// Writes a FITS header boolean value
func writeBool(w io.Writer, key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	fmt.Fprintf(w, "%-8.8s= %20s / %-47.47s", key, v, comment)
}

// Writes a FITS header integer value
func writeInt(w io.Writer, key string, value int, comment string) {
	fmt.Fprintf(w, "%-8.8s= %20d / %-47.47s", key, value, comment)
}

// Writes a FITS header end record
func writeEnd(w io.Writer) {
	fmt.Fprintf(w, "END%s", strings.Repeat(" ", fitsLineSize-3))
}

// Pads the header to a full block
func padBlock(sb *strings.Builder, c byte) {
	if rem := sb.Len() % fitsBlockSize; rem > 0 {
		sb.WriteString(strings.Repeat(string(c), fitsBlockSize-rem))
	}
}
