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

// Handle is a live child instance.  The Supervisor only ever holds one.
type Handle interface {
	// ID uniquely identifies this instance, across restarts.
	ID() string

	// Pid returns the operating system process identifier.
	Pid() int

	// Started returns when the process was spawned.
	Started() time.Time

	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}

	// Wait blocks until the process exits, and returns how it exited.
	Wait() ExitOutcome

	// Terminate asks the process to exit, politely at first, then
	// forcefully once grace has elapsed.  It returns once the process
	// is gone, or with a *ShutdownTimeoutError if it would not die.
	Terminate(grace time.Duration) error
}

// Launcher creates child instances.  The Supervisor calls it from its
// control goroutine only, so implementations need not lock.  Tests
// substitute their own Launcher to script exits without real processes.
type Launcher interface {
	Launch(spec ProcessSpec, sink *LogSink) (Handle, error)
}

// ProcessLauncher starts real operating system processes.
type ProcessLauncher struct {
	// KillWait is how long to wait for the process to disappear after
	// it has been sent SIGKILL.
	KillWait time.Duration
}

func (pl *ProcessLauncher) Launch(spec ProcessSpec, sink *LogSink) (Handle, error) {
	c, e := StartChild(spec, sink)
	if e != nil {
		return nil, e
	}
	if pl.KillWait > 0 {
		c.killWait = pl.KillWait
	}
	return c, nil
}
