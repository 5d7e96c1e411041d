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
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Splits a trailing compression suffix off a file name. Returns the inner name
// and the lowercase compression suffix, if any
func splitCompression(fileName string) (inner, comp string) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".gz", ".gzip", ".zst", ".zstd":
		return fileName[:len(fileName)-len(ext)], ext
	}
	return fileName, ""
}

// Returns the lowercase image type suffix of a file name, ignoring compression
func FormatOf(fileName string) string {
	inner, _ := splitCompression(fileName)
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(inner)), ".")
}

// Reads an image from the file with the given name. Decompresses gzip and zstd
// if the corresponding suffix is present, and picks the format from the inner suffix
func ReadFile(fileName string, id int, logWriter io.Writer) (*Image, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := Read(bufio.NewReaderSize(f, bufLen), fileName, id, logWriter)
	if err != nil {
		return nil, err
	}
	img.FileName = fileName
	return img, nil
}

// Reads an image from r, with format and compression given by the suffixes of fileName
func Read(r io.Reader, fileName string, id int, logWriter io.Writer) (img *Image, err error) {
	_, comp := splitCompression(fileName)
	switch comp {
	case ".gz", ".gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case ".zst", ".zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}

	switch format := FormatOf(fileName); format {
	case "pgm", "ppm", "pnm":
		img, err = ReadPNM(r)
	case "fits", "fit", "fts":
		img, err = ReadFITS(r, id, logWriter)
	case "png", "jpg", "jpeg", "gif", "bmp", "tif", "tiff":
		img, err = ReadStd(r)
	default:
		return nil, fmt.Errorf("%w: %d: unknown image format '%s' of %s", ErrUnsupported, id, format, fileName)
	}
	if err != nil {
		return nil, err
	}
	img.ID = id
	return img, nil
}

// Writes the image to the file with the given name, creating or truncating it.
// Format and compression are chosen by suffix
func WriteFile(fileName string, img *Image) (err error) {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return Write(f, img, fileName)
}

// Writes the image to w, with format and compression given by the suffixes of fileName
func Write(w io.Writer, img *Image, fileName string) error {
	if err := img.Validate(); err != nil {
		return err
	}
	_, comp := splitCompression(fileName)
	switch comp {
	case ".gz", ".gzip":
		gz := gzip.NewWriter(w)
		if err := encode(gz, img, fileName); err != nil {
			return err
		}
		return gz.Close()
	case ".zst", ".zstd":
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		if err := encode(zw, img, fileName); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	}
	return encode(w, img, fileName)
}

func encode(w io.Writer, img *Image, fileName string) error {
	switch format := FormatOf(fileName); format {
	case "pgm", "ppm", "pnm":
		return WritePNM(w, img)
	case "fits", "fit", "fts":
		return WriteFITS(w, img)
	default:
		f, err := imaging.FormatFromExtension(format)
		if err != nil {
			return fmt.Errorf("%w: %d: unknown image format '%s' of %s", ErrUnsupported, img.ID, format, fileName)
		}
		return WriteStd(w, img, f)
	}
}
