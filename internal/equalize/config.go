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

// Package equalize implements histogram equalization as a sequence of data-parallel
// kernels: histogram, cumulative scan, normalization and back-projection.
package equalize

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrInvalidBins = errors.New("invalid bin count")
var ErrUnknownScan = errors.New("unknown scan strategy")
var ErrInvalidOutputMax = errors.New("invalid output maximum")
var ErrEmptyInput = errors.New("empty pixel buffer")

// Algorithm computing the cumulative histogram
type ScanStrategy int

const (
	ScanSimple       ScanStrategy = iota // one atomic accumulator per index, O(B²) work
	ScanHillisSteele                     // step-efficient inclusive scan, any B
	ScanBlelloch                         // work-efficient scan, B must be a power of two
)

var scanNames = []string{"simple", "hillis_steele", "blelloch"}

func (s ScanStrategy) String() string {
	if s < 0 || int(s) >= len(scanNames) {
		return fmt.Sprintf("ScanStrategy(%d)", int(s))
	}
	return scanNames[s]
}

// Parses a scan strategy name. Unknown names are an error
func ParseScanStrategy(name string) (ScanStrategy, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, s := range scanNames {
		if n == s {
			return ScanStrategy(i), nil
		}
	}
	return 0, fmt.Errorf("%w: '%s', expecting one of %s", ErrUnknownScan, name, strings.Join(scanNames, ", "))
}

func (s ScanStrategy) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(scanNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownScan, int(s))
	}
	return []byte(scanNames[s]), nil
}

func (s *ScanStrategy) UnmarshalText(text []byte) error {
	v, err := ParseScanStrategy(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Configuration of an equalization run
type Config struct {
	Bins         int          `json:"bins"`
	Scan         ScanStrategy `json:"scan"`
	MaxIntensity uint32       `json:"maxIntensity"` // 0 derives the maximum from the image
	OutputMax    uint32       `json:"outputMax"`    // 0 uses the largest value of the sample type
	PerChannel   bool         `json:"perChannel"`   // equalize each channel with its own histogram
	Log          io.Writer    `json:"-"`
}

const DefaultBins = 128

func DefaultConfig() Config {
	return Config{Bins: DefaultBins, Scan: ScanBlelloch}
}

// Checks the configuration before any work is dispatched
func (c *Config) Validate() error {
	if c.Bins <= 0 {
		return fmt.Errorf("%w: %d, must be positive", ErrInvalidBins, c.Bins)
	}
	if c.Scan < 0 || int(c.Scan) >= len(scanNames) {
		return fmt.Errorf("%w: %d", ErrUnknownScan, int(c.Scan))
	}
	return nil
}
