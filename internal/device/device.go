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

// Package device emulates a data-parallel compute device on the host CPU.
// Kernels are dispatched over an NDRange of work items, grouped into work groups
// which execute concurrently on a bounded number of goroutines.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
)

// Name of the single platform offered by this package
const PlatformName = "Go CPU"

const (
	// Per work group scratch memory, in bytes
	DefaultLocalMemBytes = 1 << 20

	// Largest work group size accepted by a dispatch
	DefaultMaxWorkGroupSize = 1 << 16

	// Fallback global memory budget if total system memory is unknown
	fallbackGlobalMemBytes = 1 << 40
)

var ErrOutOfResources = errors.New("out of device resources")
var ErrInvalidDevice = errors.New("invalid platform or device id")

// A compute device. Work groups are spread across ComputeUnits goroutines
type Device struct {
	Platform         int    `json:"platform"`
	ID               int    `json:"id"`
	Name             string `json:"name"`
	Vendor           string `json:"vendor"`
	ComputeUnits     int    `json:"computeUnits"`
	MaxWorkGroupSize int    `json:"maxWorkGroupSize"`
	LocalMemBytes    int    `json:"localMemBytes"`
	GlobalMemBytes   int64  `json:"globalMemBytes"`
	PhysicalCores    int    `json:"physicalCores"`
	LogicalCores     int    `json:"logicalCores"`
	CacheLine        int    `json:"cacheLine"`
	L1DBytes         int    `json:"l1dBytes"`
	AVX2             bool   `json:"avx2"`

	mu        sync.Mutex
	allocated int64
}

// Lists all devices of all platforms. Device 0 uses all available cores,
// device 1 executes work groups serially on a single goroutine
func ListDevices() []*Device {
	return []*Device{
		newDevice(0, runtime.GOMAXPROCS(0), "parallel"),
		newDevice(1, 1, "serial"),
	}
}

// Returns the device with the given platform and device id
func GetDevice(platform, device int) (*Device, error) {
	devs := ListDevices()
	if platform != 0 || device < 0 || device >= len(devs) {
		return nil, fmt.Errorf("%w: platform %d device %d", ErrInvalidDevice, platform, device)
	}
	return devs[device], nil
}

// Returns the default device, which uses all available cores
func Default() *Device {
	return newDevice(0, runtime.GOMAXPROCS(0), "parallel")
}

// Creates a device with the given number of compute units, and host properties from cpuid
func newDevice(id, computeUnits int, mode string) *Device {
	globalMem := int64(memory.TotalMemory()) * 7 / 10
	if globalMem <= 0 {
		globalMem = fallbackGlobalMemBytes
	}
	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = runtime.GOARCH
	}
	return &Device{
		Platform:         0,
		ID:               id,
		Name:             fmt.Sprintf("%s (%s)", brand, mode),
		Vendor:           cpuid.CPU.VendorString,
		ComputeUnits:     computeUnits,
		MaxWorkGroupSize: DefaultMaxWorkGroupSize,
		LocalMemBytes:    DefaultLocalMemBytes,
		GlobalMemBytes:   globalMem,
		PhysicalCores:    cpuid.CPU.PhysicalCores,
		LogicalCores:     cpuid.CPU.LogicalCores,
		CacheLine:        cpuid.CPU.CacheLine,
		L1DBytes:         cpuid.CPU.Cache.L1D,
		AVX2:             cpuid.CPU.AVX2(),
	}
}

// Returns the platform and device names, for printing
func (d *Device) String() string {
	return fmt.Sprintf("Platform %d: %s, Device %d: %s", d.Platform, PlatformName, d.ID, d.Name)
}

// Returns the number of bytes currently allocated on this device
func (d *Device) Allocated() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

// Reserves the given number of bytes against the global memory budget
func (d *Device) reserve(name string, bytes int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if bytes < 0 || d.allocated+bytes > d.GlobalMemBytes {
		return fmt.Errorf("%w: allocating %d bytes for buffer %s, %d of %d in use",
			ErrOutOfResources, bytes, name, d.allocated, d.GlobalMemBytes)
	}
	d.allocated += bytes
	return nil
}

func (d *Device) free(bytes int64) {
	d.mu.Lock()
	d.allocated -= bytes
	d.mu.Unlock()
}
