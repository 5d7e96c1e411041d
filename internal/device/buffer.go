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

package device

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/mlnoga/histeq/internal"
)

// Element types storable in device buffers
type Element interface {
	uint8 | uint16 | uint32
}

var ErrInvalidBufferSize = errors.New("invalid buffer size")
var ErrReleased = errors.New("buffer already released")

// A buffer in device memory. Kernels access the contents via Data()
type Buffer[T Element] struct {
	Name     string
	dev      *Device
	data     []T
	bytes    int64
	released bool
}

// Allocates a zero-filled buffer of n elements on the given device
func Alloc[T Element](d *Device, name string, n int) (*Buffer[T], error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d elements for buffer %s", ErrInvalidBufferSize, n, name)
	}
	var zero T
	bytes := int64(n) * int64(unsafe.Sizeof(zero))
	if err := d.reserve(name, bytes); err != nil {
		return nil, err
	}
	data := getSlice[T](n)
	clear(data)
	return &Buffer[T]{Name: name, dev: d, data: data, bytes: bytes}, nil
}

// Returns the number of elements
func (b *Buffer[T]) Len() int { return len(b.data) }

// Returns the device-side contents, for use inside kernels
func (b *Buffer[T]) Data() []T { return b.data }

// Releases the buffer, returning its memory to the device budget. Safe to call twice
func (b *Buffer[T]) Release() {
	if b == nil || b.released {
		return
	}
	b.released = true
	b.dev.free(b.bytes)
	putSlice(b.data)
	b.data = nil
}

// Copies host memory into the buffer, starting at offset 0
func EnqueueWriteBuffer[T Element](q *Queue, b *Buffer[T], src []T) (*Event, error) {
	if b.released {
		return nil, fmt.Errorf("%w: %s", ErrReleased, b.Name)
	}
	if len(src) > len(b.data) {
		return nil, fmt.Errorf("%w: writing %d elements into buffer %s of %d",
			ErrInvalidBufferSize, len(src), b.Name, len(b.data))
	}
	return q.transfer(KindWrite, b.Name, func() { copy(b.data, src) }), nil
}

// Copies the buffer contents into host memory, starting at offset 0
func EnqueueReadBuffer[T Element](q *Queue, b *Buffer[T], dst []T) (*Event, error) {
	if b.released {
		return nil, fmt.Errorf("%w: %s", ErrReleased, b.Name)
	}
	if len(dst) > len(b.data) {
		return nil, fmt.Errorf("%w: reading %d elements from buffer %s of %d",
			ErrInvalidBufferSize, len(dst), b.Name, len(b.data))
	}
	return q.transfer(KindRead, b.Name, func() { copy(dst, b.data) }), nil
}

// Sets all elements of the buffer to the given value
func EnqueueFillBuffer[T Element](q *Queue, b *Buffer[T], v T) (*Event, error) {
	if b.released {
		return nil, fmt.Errorf("%w: %s", ErrReleased, b.Name)
	}
	return q.transfer(KindFill, b.Name, func() {
		for i := range b.data {
			b.data[i] = v
		}
	}), nil
}

// Copies the contents of src into dst on the device. Buffers must have the same length
func EnqueueCopyBuffer[T Element](q *Queue, src, dst *Buffer[T]) (*Event, error) {
	if src.released || dst.released {
		return nil, fmt.Errorf("%w: copy %s to %s", ErrReleased, src.Name, dst.Name)
	}
	if len(src.data) != len(dst.data) {
		return nil, fmt.Errorf("%w: copy %s (%d) to %s (%d)",
			ErrInvalidBufferSize, src.Name, len(src.data), dst.Name, len(dst.data))
	}
	return q.transfer(KindCopy, src.Name+"->"+dst.Name, func() { copy(dst.data, src.data) }), nil
}

// Runs a host-side transfer and records it as an event on the queue
func (q *Queue) transfer(kind Kind, name string, f func()) *Event {
	ev := &Event{Kind: kind, Name: name, Queued: time.Now()}
	ev.Submitted = ev.Queued
	ev.Started = time.Now()
	f()
	ev.Ended = time.Now()
	q.record(ev)
	return ev
}

// Retrieves a backing array from the size-keyed pools
func getSlice[T Element](n int) []T {
	var zero T
	switch any(zero).(type) {
	case uint8:
		return any(internal.PoolUint8.Get(n)).([]T)
	case uint16:
		return any(internal.PoolUint16.Get(n)).([]T)
	default:
		return any(internal.PoolUint32.Get(n)).([]T)
	}
}

func putSlice[T Element](arr []T) {
	switch a := any(arr).(type) {
	case []uint8:
		internal.PoolUint8.Put(a)
	case []uint16:
		internal.PoolUint16.Put(a)
	case []uint32:
		internal.PoolUint32.Put(a)
	}
}
