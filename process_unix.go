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

//go:build unix

package appvisor

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcAttr puts the child in its own process group, so that a
// termination request reaches anything it spawned too (e.g. a shell's
// children, or "uv run" and its python).
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(p *os.Process, sig unix.Signal) {
	if p == nil {
		return
	}
	if e := unix.Kill(-p.Pid, sig); e == unix.ESRCH || e == unix.EPERM {
		// Group may already be gone; try the leader itself.
		unix.Kill(p.Pid, sig)
	}
}

func terminateGroup(p *os.Process) {
	signalGroup(p, unix.SIGTERM)
}

func killGroup(p *os.Process) {
	signalGroup(p, unix.SIGKILL)
}

func exitOutcome(ps *os.ProcessState, e error) ExitOutcome {
	if ps == nil {
		return ExitOutcome{Code: -1, Err: e}
	}
	o := ExitOutcome{Code: ps.ExitCode()}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		o.Signaled = true
		o.Signal = unix.SignalName(unix.Signal(ws.Signal()))
		if o.Signal == "" {
			o.Signal = ws.Signal().String()
		}
	}
	return o
}
