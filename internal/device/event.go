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

import "time"

// Kind of a queued command
type Kind string

const (
	KindNDRange Kind = "ndrange"
	KindWrite   Kind = "write"
	KindRead    Kind = "read"
	KindFill    Kind = "fill"
	KindCopy    Kind = "copy"
)

// Profiling record of a command executed on a queue
type Event struct {
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name"` // kernel or buffer name
	Global    int       `json:"global,omitempty"`
	Local     int       `json:"local,omitempty"`
	Queued    time.Time `json:"queued"`
	Submitted time.Time `json:"submitted"`
	Started   time.Time `json:"started"`
	Ended     time.Time `json:"ended"`
}

// Execution time from start to end
func (e *Event) Duration() time.Duration { return e.Ended.Sub(e.Started) }

// Time from queueing to end
func (e *Event) Total() time.Duration { return e.Ended.Sub(e.Queued) }
