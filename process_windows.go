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

//go:build windows

package appvisor

import (
	"os"
	"os/exec"
)

func setProcAttr(cmd *exec.Cmd) {
}

// There is no polite termination request on Windows; both phases kill.
func terminateGroup(p *os.Process) {
	if p != nil {
		p.Kill()
	}
}

func killGroup(p *os.Process) {
	if p != nil {
		p.Kill()
	}
}

func exitOutcome(ps *os.ProcessState, e error) ExitOutcome {
	if ps == nil {
		return ExitOutcome{Code: -1, Err: e}
	}
	return ExitOutcome{Code: ps.ExitCode()}
}
