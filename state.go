// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package appvisor

import (
	"time"
)

// State is where a Supervisor is in its lifecycle.
//
//                       +------------+
//                       |            |
//            +---------->  Starting  <-----------+
//            |          |            |           |
//            |          +-----+------+           |
//            |                |                  |
//            |          +-----V------+    +------+---------+
//            |          |            |    |                |
//         (reset)       |  Running   |    | RestartPending |
//            |          |            |    |                |
//            |          +-----+------+    +------A---------+
//            |                |                  |
//            |          +-----V------+           |
//            |          |            +-----------+
//            |          |   Exited   |
//            |          |            +-----------+
//            |          +------------+           |
//            |                             +-----V------+
//            +-----------------------------+  Stopped   |
//                                          +------------+
//
// Any state moves to Stopped on a shutdown request.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Exited
	RestartPending
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Exited:
		return "exited"
	case RestartPending:
		return "restart-pending"
	}
	return "unknown"
}

// Status is a consistent snapshot of a Supervisor, for status queries.
type Status struct {
	Name               string
	State              State
	Pid                int
	Started            time.Time
	Attempts           int
	Exits              int
	LastExit           *ExitOutcome
	PermanentlyStopped bool
	Leaked             bool
	Reason             string
	Stamp              time.Time
}

// Event is emitted on every state transition.
type Event struct {
	Time   time.Time
	Name   string
	State  State
	Pid    int
	Reason string
}

// EventHandler receives events.  It is called from the Supervisor's
// control goroutine, so it must return quickly, and must not call
// Stop, Restart or Wait on the same Supervisor.
type EventHandler func(e Event)
