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

// Package report prints and renders profiling information, histogram statistics
// and run summaries.
package report

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/mlnoga/histeq/internal/device"
	"gonum.org/v1/gonum/stat"
)

// Collects profiling events from one or more queues
type Profile struct {
	mu     sync.Mutex
	events []*device.Event
}

func NewProfile() *Profile { return &Profile{} }

// Adds events to the profile. Suitable as a device.Queue sink
func (p *Profile) Add(events ...*device.Event) {
	p.mu.Lock()
	p.events = append(p.events, events...)
	p.mu.Unlock()
}

// Returns a copy of the collected events
func (p *Profile) Events() []*device.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*device.Event(nil), p.events...)
}

// Sum of the execution times of all kernel dispatches
func (p *Profile) KernelTime() time.Duration {
	var d time.Duration
	for _, ev := range p.Events() {
		if ev.Kind == device.KindNDRange {
			d += ev.Duration()
		}
	}
	return d
}

// Aggregated execution times of all commands with the same kind and name
type Summary struct {
	Kind   device.Kind   `json:"kind"`
	Name   string        `json:"name"`
	Count  int           `json:"count"`
	Total  time.Duration `json:"total"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
}

// Groups events by kind and name, sorted by descending total time
func (p *Profile) Summary() []Summary {
	type key struct {
		kind device.Kind
		name string
	}
	groups := map[key][]float64{}
	var order []key
	for _, ev := range p.Events() {
		k := key{ev.Kind, ev.Name}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], float64(ev.Duration()))
	}

	sums := make([]Summary, 0, len(order))
	for _, k := range order {
		ds := groups[k]
		s := Summary{Kind: k.kind, Name: k.name, Count: len(ds)}
		for _, d := range ds {
			s.Total += time.Duration(d)
		}
		if len(ds) > 1 {
			mean, std := stat.MeanStdDev(ds, nil)
			s.Mean, s.StdDev = time.Duration(mean), time.Duration(std)
		} else {
			s.Mean = s.Total
		}
		sums = append(sums, s)
	}
	sort.SliceStable(sums, func(i, j int) bool { return sums[i].Total > sums[j].Total })
	return sums
}

// Prints the queued, submitted, executed and total times of a single event in microseconds
func FullProfilingInfo(ev *device.Event) string {
	us := func(d time.Duration) int64 { return d.Microseconds() }
	return fmt.Sprintf("Queued %d, Submitted %d, Executed %d, Total %d [us]",
		us(ev.Submitted.Sub(ev.Queued)), us(ev.Started.Sub(ev.Submitted)), us(ev.Duration()), us(ev.Total()))
}

// Prints the kernel execution time, the per-kernel summary, and the full profiling info of every kernel
func (p *Profile) WriteTo(w io.Writer) (n int64, err error) {
	cw := &countingWriter{w: w}
	fmt.Fprintf(cw, "Kernel execution time [ns]: %d\n", p.KernelTime().Nanoseconds())
	fmt.Fprintf(cw, "%-8s %-24s %6s %12s %12s %12s\n", "kind", "name", "count", "total[us]", "mean[us]", "stddev[us]")
	for _, s := range p.Summary() {
		fmt.Fprintf(cw, "%-8s %-24s %6d %12d %12d %12d\n", s.Kind, s.Name, s.Count,
			s.Total.Microseconds(), s.Mean.Microseconds(), s.StdDev.Microseconds())
	}
	for _, ev := range p.Events() {
		if ev.Kind == device.KindNDRange {
			fmt.Fprintf(cw, "%-24s %s\n", ev.Name, FullProfilingInfo(ev))
		}
	}
	return cw.n, cw.err
}

// Counts bytes written, and keeps the first error
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}
