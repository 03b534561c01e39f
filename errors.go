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

var (
	ErrNotFound      = errors.New("No such supervisor")
	ErrAlreadyExists = errors.New("Supervisor name already in use")
	ErrIsRunning     = errors.New("Supervisor is running")
	ErrLeaked        = errors.New("Supervisor left a process it could not kill")
	ErrNoCommand     = errors.New("No command specified")
	ErrNoName        = errors.New("No name specified")
)

// ConfigError reports a configuration that can never work, such as an
// empty command or a log destination that cannot be opened.  It is
// returned to the caller before any child is started, and is never
// retried.
type ConfigError struct {
	Name   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: bad configuration: %s: %v",
			e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: bad configuration: %s", e.Name, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SpawnError is returned when the operating system refuses to create
// the child process: command not found, not executable, missing working
// directory, permission denied.  The supervisor treats it as an exit.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ShutdownTimeoutError is returned when a process survived both the
// polite and the forceful termination request.  The process is
// considered leaked until something else reaps it.
type ShutdownTimeoutError struct {
	Pid   int
	Grace time.Duration
	Wait  time.Duration
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("process %d ignored SIGTERM (grace %v) and SIGKILL "+
		"(waited %v); process leaked", e.Pid, e.Grace, e.Wait)
}
