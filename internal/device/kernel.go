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
	"strings"
)

var ErrUnknownKernel = errors.New("unknown kernel")
var ErrNotBuilt = errors.New("kernel not built")

// Identifies one work item of a dispatch
type Item struct {
	Global    int // global id
	Local     int // id within the work group
	Group     int // work group id
	LocalSize int // items per work group
	NumGroups int // work groups in the dispatch
}

// One phase of a kernel, executed for a single work item. Local is the
// scratch memory shared by all items of the work group
type Phase func(it Item, local []uint32)

// A kernel is a sequence of phases. All items of a work group complete a phase
// before any item starts the next one, so phase boundaries act as local barriers
type Kernel struct {
	Name       string
	LocalWords int // scratch words per work group
	Phases     []Phase

	built bool
}

// A set of kernels, built together for one device
type Program struct {
	kernels []*Kernel
	byName  map[string]*Kernel
	log     string
	built   bool
}

// The build log of a program which failed to build
type BuildError struct {
	Log string
}

func (e *BuildError) Error() string {
	return "build failed:\n" + e.Log
}

func NewProgram(kernels ...*Kernel) *Program {
	return &Program{kernels: kernels}
}

// Validates all kernels against the device limits. Returns a *BuildError with the log on failure
func (p *Program) Build(d *Device) error {
	var b strings.Builder
	byName := make(map[string]*Kernel, len(p.kernels))
	if len(p.kernels) == 0 {
		fmt.Fprintf(&b, "program has no kernels\n")
	}
	for i, k := range p.kernels {
		if k == nil {
			fmt.Fprintf(&b, "kernel %d: nil\n", i)
			continue
		}
		if k.Name == "" {
			fmt.Fprintf(&b, "kernel %d: empty name\n", i)
		} else if _, dup := byName[k.Name]; dup {
			fmt.Fprintf(&b, "kernel %s: duplicate name\n", k.Name)
		}
		if len(k.Phases) == 0 {
			fmt.Fprintf(&b, "kernel %s: no phases\n", k.Name)
		}
		for j, ph := range k.Phases {
			if ph == nil {
				fmt.Fprintf(&b, "kernel %s: phase %d is nil\n", k.Name, j)
			}
		}
		if k.LocalWords < 0 || k.LocalWords*4 > d.LocalMemBytes {
			fmt.Fprintf(&b, "kernel %s: %d bytes of local memory requested, %d available\n",
				k.Name, k.LocalWords*4, d.LocalMemBytes)
		}
		byName[k.Name] = k
	}
	p.log = b.String()
	if p.log != "" {
		return &BuildError{Log: p.log}
	}
	for _, k := range p.kernels {
		k.built = true
	}
	p.byName, p.built = byName, true
	return nil
}

// Returns the log of the last build
func (p *Program) BuildLog() string { return p.log }

// Looks up a kernel of a built program by name
func (p *Program) Kernel(name string) (*Kernel, error) {
	if !p.built {
		return nil, fmt.Errorf("%w: program containing %s", ErrNotBuilt, name)
	}
	k, ok := p.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKernel, name)
	}
	return k, nil
}
