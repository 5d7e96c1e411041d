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
	"sync"
	"time"
)

var ErrInvalidWorkGroupSize = errors.New("invalid work group size")

// Preferred work group size when the caller leaves the choice to the device
const preferredLocalSize = 256

// An in-order command queue. Every command blocks until it has completed
type Queue struct {
	dev    *Device
	parent *Queue
	Sink   func(*Event) // optional, receives every event as it completes

	mu     sync.Mutex
	events []*Event
}

func NewQueue(d *Device) *Queue {
	return &Queue{dev: d}
}

func (q *Queue) Device() *Device { return q.dev }

// Returns a queue on the same device which keeps its own event list,
// and also records every event on q
func (q *Queue) Sub() *Queue {
	return &Queue{dev: q.dev, parent: q}
}

// Returns the events recorded so far, in completion order
func (q *Queue) Events() []*Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Event(nil), q.events...)
}

func (q *Queue) record(ev *Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	sink := q.Sink
	q.mu.Unlock()
	if sink != nil {
		sink(ev)
	}
	if q.parent != nil {
		q.parent.record(ev)
	}
}

// Runs the kernel over global work items in work groups of local items.
// A local size of 0 lets the device choose. Blocks until all work groups are done
func (q *Queue) EnqueueNDRange(k *Kernel, global, local int) (*Event, error) {
	if k == nil {
		return nil, fmt.Errorf("%w: nil", ErrUnknownKernel)
	}
	if !k.built {
		return nil, fmt.Errorf("%w: %s", ErrNotBuilt, k.Name)
	}
	if global <= 0 {
		return nil, fmt.Errorf("%w: kernel %s global size %d", ErrInvalidWorkGroupSize, k.Name, global)
	}
	if local == 0 {
		local = q.pickLocalSize(global)
	}
	if local < 0 || local > q.dev.MaxWorkGroupSize || global%local != 0 {
		return nil, fmt.Errorf("%w: kernel %s global %d local %d, max %d",
			ErrInvalidWorkGroupSize, k.Name, global, local, q.dev.MaxWorkGroupSize)
	}

	ev := &Event{Kind: KindNDRange, Name: k.Name, Global: global, Local: local, Queued: time.Now()}
	ev.Submitted = time.Now()
	ev.Started = ev.Submitted
	err := q.run(k, global, local)
	ev.Ended = time.Now()
	if err != nil {
		return nil, err
	}
	q.record(ev)
	return ev, nil
}

// Largest divisor of global which does not exceed the preferred work group size
func (q *Queue) pickLocalSize(global int) int {
	limit := preferredLocalSize
	if limit > q.dev.MaxWorkGroupSize {
		limit = q.dev.MaxWorkGroupSize
	}
	for l := limit; l > 1; l-- {
		if global%l == 0 {
			return l
		}
	}
	return 1
}

// Executes all work groups. Groups are split into 8*ComputeUnits batches,
// with at most ComputeUnits batches in flight
func (q *Queue) run(k *Kernel, global, local int) error {
	numGroups := global / local
	cu := q.dev.ComputeUnits
	if cu < 1 {
		cu = 1
	}
	numBatches := 8 * cu
	if numBatches > numGroups {
		numBatches = numGroups
	}
	batchSize := (numGroups + numBatches - 1) / numBatches

	var errMu sync.Mutex
	var firstErr error
	sem := make(chan bool, cu)
	for lower := 0; lower < numGroups; lower += batchSize {
		upper := lower + batchSize
		if upper > numGroups {
			upper = numGroups
		}

		sem <- true
		go func(lower, upper int) {
			defer func() { <-sem }()
			if err := runGroups(k, lower, upper, local, numGroups); err != nil {
				errMu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				errMu.Unlock()
			}
		}(lower, upper)
	}

	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}
	return firstErr
}

// Executes work groups [lower, upper) sequentially, phase by phase
func runGroups(k *Kernel, lower, upper, local, numGroups int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernel %s: %v", k.Name, r)
		}
	}()
	scratch := make([]uint32, k.LocalWords)
	for g := lower; g < upper; g++ {
		clear(scratch)
		for _, phase := range k.Phases {
			for l := 0; l < local; l++ {
				phase(Item{Global: g*local + l, Local: l, Group: g, LocalSize: local, NumGroups: numGroups}, scratch)
			}
		}
	}
	return nil
}
