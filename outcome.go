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
	"errors"
	"fmt"
	"time"
)

// SpawnFailureCode is the synthetic exit code recorded when the child
// could not be started at all.
const SpawnFailureCode = -1

// ExitOutcome is how a child instance ended.
type ExitOutcome struct {
	Code     int           `json:"code"`
	Signaled bool          `json:"signaled"`
	Signal   string        `json:"signal,omitempty"`
	Runtime  time.Duration `json:"runtime"`
	Time     time.Time     `json:"time"`
	Err      error         `json:"-"`
}

// spawnFailure turns a start error into an exit, so that it flows through
// the restart policy like any other termination.
func spawnFailure(e error) ExitOutcome {
	return ExitOutcome{Code: SpawnFailureCode, Err: e, Time: time.Now()}
}

// Success is true for a clean exit with code zero.
func (o ExitOutcome) Success() bool {
	return o.Err == nil && !o.Signaled && o.Code == 0
}

// SpawnFailed is true if the process never ran.
func (o ExitOutcome) SpawnFailed() bool {
	var se *SpawnError
	return errors.As(o.Err, &se)
}

func (o ExitOutcome) String() string {
	switch {
	case o.Err != nil:
		return o.Err.Error()
	case o.Signaled:
		return "killed by signal " + o.Signal
	default:
		return fmt.Sprintf("exited with code %d", o.Code)
	}
}
