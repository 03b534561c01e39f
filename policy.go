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
	"fmt"
	"time"
)

// RestartState is the restart history of one Supervisor.  It is only
// ever touched by the Supervisor's control goroutine.
type RestartState struct {
	// Attempts counts restarts granted so far.
	Attempts int
	// Exits counts every exit observed, including spawn failures.
	Exits int
	// LastExit is the most recent exit.
	LastExit ExitOutcome
	// PermanentlyStopped is set once the restart bound is exhausted.
	// Only an explicit reset clears it.
	PermanentlyStopped bool
}

// Decision is the verdict of the restart policy for one exit.
type Decision struct {
	Restart bool
	Delay   time.Duration
	Reason  string
}

func (d Decision) String() string {
	if d.Restart {
		return fmt.Sprintf("restart after %v", d.Delay)
	}
	return "stop: " + d.Reason
}

// Decide is the one place where restart versus stop is decided.  It
// records the exit in state, and for a restart, counts the attempt.  The
// delay is always the configured constant.
func Decide(state *RestartState, outcome ExitOutcome, cfg RestartPolicyConfig) Decision {
	state.Exits++
	state.LastExit = outcome

	if state.PermanentlyStopped {
		return Decision{Reason: "restart limit already reached"}
	}
	if !cfg.Autorestart {
		return Decision{Reason: "autorestart disabled"}
	}
	if !outcome.SpawnFailed() && !outcome.Signaled {
		for _, code := range cfg.StopExitCodes {
			if code == outcome.Code {
				return Decision{Reason: fmt.Sprintf(
					"exit code %d is a stop code", code)}
			}
		}
	}
	if cfg.MaxRestarts != nil && state.Attempts >= *cfg.MaxRestarts {
		state.PermanentlyStopped = true
		return Decision{Reason: fmt.Sprintf(
			"restart limit reached (%d)", *cfg.MaxRestarts)}
	}
	state.Attempts++
	return Decision{Restart: true, Delay: cfg.RestartDelay}
}
