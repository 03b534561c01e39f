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
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// pipeDrainDelay bounds how long we keep copying output after the
// process itself has exited, in case a grandchild inherited the pipes.
const pipeDrainDelay = time.Second

//
// Child represents one operating system process instance.  It implements
// Handle.  A new Child is created for every (re)start; a Child is never
// started twice.
//
type Child struct {
	id       string
	spec     ProcessSpec
	cmd      *exec.Cmd
	stdout   *StreamWriter
	stderr   *StreamWriter
	started  time.Time
	outcome  ExitOutcome
	killWait time.Duration
	done     chan struct{}
	lock     sync.Mutex
}

// StartChild spawns the process described by spec, with its standard
// output and error redirected into the sink.  Any failure to create the
// process is returned as a *SpawnError.
func StartChild(spec ProcessSpec, sink *LogSink) (*Child, error) {
	path, args := spec.argv()
	cmd := exec.Command(path, args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.environ()
	cmd.WaitDelay = pipeDrainDelay
	setProcAttr(cmd)

	c := &Child{
		id:       uuid.New().String(),
		spec:     spec,
		cmd:      cmd,
		stdout:   sink.Writer(StreamOut),
		stderr:   sink.Writer(StreamErr),
		killWait: DefaultKillWait,
		done:     make(chan struct{}),
	}
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr

	if e := cmd.Start(); e != nil {
		return nil, &SpawnError{Command: spec.Command, Err: e}
	}
	c.started = time.Now()
	go c.doWait()
	return c, nil
}

func (c *Child) doWait() {
	e := c.cmd.Wait()
	o := exitOutcome(c.cmd.ProcessState, e)
	o.Time = time.Now()
	o.Runtime = o.Time.Sub(c.started)

	// Whatever was left without a newline still belongs in the log.
	c.stdout.Flush()
	c.stderr.Flush()

	c.lock.Lock()
	c.outcome = o
	c.lock.Unlock()
	close(c.done)
}

func (c *Child) ID() string {
	return c.id
}

func (c *Child) Pid() int {
	return c.cmd.Process.Pid
}

func (c *Child) Started() time.Time {
	return c.started
}

func (c *Child) Done() <-chan struct{} {
	return c.done
}

func (c *Child) Wait() ExitOutcome {
	<-c.done
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.outcome
}

// Terminate sends SIGTERM to the process group, and SIGKILL if the
// process is still around after grace.  If even SIGKILL does not get rid
// of it within the kill wait, a *ShutdownTimeoutError is returned.
func (c *Child) Terminate(grace time.Duration) error {
	select {
	case <-c.done:
		return nil
	default:
	}

	terminateGroup(c.cmd.Process)
	timer := time.NewTimer(grace)
	select {
	case <-c.done:
		timer.Stop()
		return nil
	case <-timer.C:
	}

	killGroup(c.cmd.Process)
	timer = time.NewTimer(c.killWait)
	defer timer.Stop()
	select {
	case <-c.done:
		return nil
	case <-timer.C:
		return &ShutdownTimeoutError{
			Pid:   c.Pid(),
			Grace: grace,
			Wait:  c.killWait,
		}
	}
}
