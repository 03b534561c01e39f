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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// testH is a scripted child.  It runs until exit is called, or until it
// is terminated (unless it is stubborn).
type testH struct {
	id       string
	pid      int
	started  time.Time
	stubborn bool
	outcome  ExitOutcome
	done     chan struct{}
	once     sync.Once
	sync.Mutex
}

func (h *testH) exit(o ExitOutcome) {
	h.once.Do(func() {
		h.Lock()
		o.Time = time.Now()
		o.Runtime = o.Time.Sub(h.started)
		h.outcome = o
		h.Unlock()
		close(h.done)
	})
}

func (h *testH) ID() string            { return h.id }
func (h *testH) Pid() int              { return h.pid }
func (h *testH) Started() time.Time    { return h.started }
func (h *testH) Done() <-chan struct{} { return h.done }

func (h *testH) Wait() ExitOutcome {
	<-h.done
	h.Lock()
	defer h.Unlock()
	return h.outcome
}

func (h *testH) Terminate(grace time.Duration) error {
	if h.stubborn {
		return &ShutdownTimeoutError{Pid: h.pid, Grace: grace,
			Wait: DefaultKillWait}
	}
	h.exit(ExitOutcome{Code: -1, Signaled: true, Signal: "SIGTERM"})
	return nil
}

// testL is a Launcher that records every launch.  onLaunch scripts what
// each instance does; n counts from zero.  A nil onLaunch runs forever.
// If spawnErr is set, launches from failFrom on fail with it.
type testL struct {
	onLaunch func(n int, h *testH)
	spawnErr error
	failFrom int
	stubborn bool
	launches []time.Time
	handles  []*testH
	sync.Mutex
}

func (l *testL) Launch(spec ProcessSpec, sink *LogSink) (Handle, error) {
	l.Lock()
	n := len(l.launches)
	l.launches = append(l.launches, time.Now())
	l.Unlock()

	if l.spawnErr != nil && n >= l.failFrom {
		return nil, &SpawnError{Command: spec.Command, Err: l.spawnErr}
	}
	h := &testH{
		id:       uuid.New().String(),
		pid:      1000 + n,
		started:  time.Now(),
		stubborn: l.stubborn,
		done:     make(chan struct{}),
	}
	l.Lock()
	l.handles = append(l.handles, h)
	l.Unlock()
	if l.onLaunch != nil {
		l.onLaunch(n, h)
	}
	return h, nil
}

func (l *testL) count() int {
	l.Lock()
	defer l.Unlock()
	return len(l.launches)
}

func (l *testL) times() []time.Time {
	l.Lock()
	defer l.Unlock()
	return append([]time.Time{}, l.launches...)
}

func (l *testL) handle(n int) *testH {
	l.Lock()
	defer l.Unlock()
	return l.handles[n]
}

func exitWith(code int) func(int, *testH) {
	return func(_ int, h *testH) {
		h.exit(ExitOutcome{Code: code})
	}
}

// testConfig is a Config with logs in a fresh temporary directory.
func testConfig(t *testing.T, name string) Config {
	dir := t.TempDir()
	return Config{
		Name:    name,
		Process: ProcessSpec{Command: "/bin/true"},
		Restart: RestartPolicyConfig{
			Autorestart:  true,
			MaxRestarts:  MaxRestarts(2),
			RestartDelay: 10 * time.Millisecond,
		},
		Logs: LogDestination{
			OutFile: filepath.Join(dir, name+"-out.log"),
			ErrFile: filepath.Join(dir, name+"-error.log"),
		},
		GracePeriod: 100 * time.Millisecond,
		KillWait:    100 * time.Millisecond,
	}
}

// waitState polls until the supervisor is in the given state.
func waitState(s *Supervisor, st State) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.Status().State == st {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// waitFor polls until cond is true.
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
