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
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zaptest"
)

// WithSupervisor runs fn with a Supervisor over a scripted launcher.
// The Supervisor is stopped when the Convey block finishes.
func WithSupervisor(t *testing.T, cfg Config, l *testL, fn func(s *Supervisor)) func() {
	return func() {
		s, e := NewSupervisor(cfg, WithLauncher(l),
			WithLogger(zaptest.NewLogger(t)))
		So(e, ShouldBeNil)
		So(s, ShouldNotBeNil)
		Reset(func() {
			s.Stop()
		})
		fn(s)
	}
}

func TestSupervisorNoAutorestart(t *testing.T) {
	cfg := testConfig(t, "once")
	cfg.Restart.Autorestart = false
	l := &testL{onLaunch: exitWith(1)}

	Convey("Without autorestart a failure stops", t,
		WithSupervisor(t, cfg, l, func(s *Supervisor) {
			So(s.Status().State, ShouldEqual, Stopped)
			So(s.Start(), ShouldBeNil)
			So(s.Wait(), ShouldBeNil)

			st := s.Status()
			So(l.count(), ShouldEqual, 1)
			So(st.State, ShouldEqual, Stopped)
			So(st.Exits, ShouldEqual, 1)
			So(st.Attempts, ShouldEqual, 0)
			So(st.PermanentlyStopped, ShouldBeFalse)
			So(st.LastExit, ShouldNotBeNil)
			So(st.LastExit.Code, ShouldEqual, 1)
			So(st.Reason, ShouldContainSubstring, "autorestart disabled")

			Convey("And the reason is in the application log", func() {
				text := readFile(cfg.Logs.ErrFile)
				So(text, ShouldContainSubstring, "Exited")
				So(text, ShouldContainSubstring, "Not restarting")
				So(text, ShouldContainSubstring, "autorestart disabled")
				So(readFile(cfg.Logs.OutFile), ShouldEqual, "")
			})
		}))
}

func TestSupervisorBoundedRestarts(t *testing.T) {
	cfg := testConfig(t, "bounded")
	cfg.Restart.RestartDelay = 100 * time.Millisecond
	l := &testL{onLaunch: exitWith(1)}

	Convey("A crashing child is restarted max_restarts times", t,
		WithSupervisor(t, cfg, l, func(s *Supervisor) {
			So(s.Start(), ShouldBeNil)
			So(s.Wait(), ShouldBeNil)

			So(l.count(), ShouldEqual, 3)
			st := s.Status()
			So(st.State, ShouldEqual, Stopped)
			So(st.PermanentlyStopped, ShouldBeTrue)
			So(st.Attempts, ShouldEqual, 2)
			So(st.Exits, ShouldEqual, 3)

			// The delay is constant between every pair of starts.
			ts := l.times()
			for i := 1; i < len(ts); i++ {
				So(ts[i].Sub(ts[i-1]), ShouldBeGreaterThanOrEqualTo,
					100*time.Millisecond)
			}

			text := readFile(cfg.Logs.ErrFile)
			So(text, ShouldContainSubstring, "Restart scheduled")
			So(text, ShouldContainSubstring, "100ms")
			So(text, ShouldContainSubstring, "restart limit reached (2)")
		}))
}

func TestSupervisorCleanExitRestarts(t *testing.T) {
	cfg := testConfig(t, "clean")
	cfg.Restart.MaxRestarts = MaxRestarts(1)
	l := &testL{onLaunch: exitWith(0)}

	Convey("Exit code zero is restarted like any other", t,
		WithSupervisor(t, cfg, l, func(s *Supervisor) {
			So(s.Start(), ShouldBeNil)
			So(s.Wait(), ShouldBeNil)
			So(l.count(), ShouldEqual, 2)
			So(s.Status().LastExit.Success(), ShouldBeTrue)
		}))
}

func TestSupervisorStopExitCodes(t *testing.T) {
	cfg := testConfig(t, "stopcode")
	cfg.Restart.StopExitCodes = []int{3}
	l := &testL{onLaunch: func(n int, h *testH) {
		h.exit(ExitOutcome{Code: 1 + 2*n})
	}}

	Convey("A stop exit code ends the restarts", t,
		WithSupervisor(t, cfg, l, func(s *Supervisor) {
			So(s.Start(), ShouldBeNil)
			So(s.Wait(), ShouldBeNil)
			So(l.count(), ShouldEqual, 2)
			st := s.Status()
			So(st.LastExit.Code, ShouldEqual, 3)
			So(st.PermanentlyStopped, ShouldBeFalse)
		}))
}

func TestSupervisorSpawnFailure(t *testing.T) {
	cfg := testConfig(t, "nospawn")
	l := &testL{spawnErr: os.ErrNotExist}
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	Convey("A spawn failure counts as an exit", t, func() {
		s, e := NewSupervisor(cfg, WithLauncher(l), WithMetrics(m),
			WithLogger(zaptest.NewLogger(t)))
		So(e, ShouldBeNil)
		So(s.Start(), ShouldBeNil)
		So(s.Wait(), ShouldBeNil)

		So(l.count(), ShouldEqual, 3)
		st := s.Status()
		So(st.PermanentlyStopped, ShouldBeTrue)
		So(st.LastExit.Code, ShouldEqual, SpawnFailureCode)
		So(st.LastExit.SpawnFailed(), ShouldBeTrue)
		So(errors.Is(st.LastExit.Err, os.ErrNotExist), ShouldBeTrue)
		So(readFile(cfg.Logs.ErrFile), ShouldContainSubstring,
			"Failed to start")

		So(testutil.ToFloat64(m.Starts.WithLabelValues("nospawn")),
			ShouldEqual, 3)
		So(testutil.ToFloat64(m.Exits.WithLabelValues("nospawn", "spawn")),
			ShouldEqual, 3)
		So(testutil.ToFloat64(m.Restarts.WithLabelValues("nospawn")),
			ShouldEqual, 2)
		So(testutil.ToFloat64(m.State.WithLabelValues("nospawn")),
			ShouldEqual, float64(Stopped))
	})
}

func TestSupervisorSpawnFailureAfterRun(t *testing.T) {
	cfg := testConfig(t, "lostbinary")
	l := &testL{onLaunch: exitWith(1), spawnErr: os.ErrNotExist, failFrom: 1}

	Convey("A failed spawn has no start time", t,
		WithSupervisor(t, cfg, l, func(s *Supervisor) {
			So(s.Start(), ShouldBeNil)
			So(s.Wait(), ShouldBeNil)
			So(l.count(), ShouldEqual, 3)

			st := s.Status()
			So(st.LastExit.SpawnFailed(), ShouldBeTrue)
			So(st.Started.IsZero(), ShouldBeTrue)
		}))
}

func TestSupervisorStopRunning(t *testing.T) {
	cfg := testConfig(t, "stoprun")
	l := &testL{}

	Convey("Stop terminates a running child", t,
		WithSupervisor(t, cfg, l, func(s *Supervisor) {
			So(s.Start(), ShouldBeNil)
			So(waitState(s, Running), ShouldBeTrue)
			st := s.Status()
			So(st.Pid, ShouldEqual, 1000)
			So(s.Active(), ShouldBeTrue)

			So(s.Stop(), ShouldBeNil)
			st = s.Status()
			So(st.State, ShouldEqual, Stopped)
			So(st.Pid, ShouldEqual, 0)
			So(st.Exits, ShouldEqual, 1)
			So(st.LastExit.Signaled, ShouldBeTrue)
			So(s.Active(), ShouldBeFalse)
			So(l.count(), ShouldEqual, 1)

			Convey("Stopping again is harmless", func() {
				So(s.Stop(), ShouldBeNil)
			})
		}))
}

func TestSupervisorStopPending(t *testing.T) {
	cfg := testConfig(t, "stoppend")
	cfg.Restart.RestartDelay = time.Hour
	l := &testL{onLaunch: exitWith(1)}

	Convey("Stop cancels a pending restart", t,
		WithSupervisor(t, cfg, l, func(s *Supervisor) {
			So(s.Start(), ShouldBeNil)
			So(waitState(s, RestartPending), ShouldBeTrue)

			now := time.Now()
			So(s.Stop(), ShouldBeNil)
			So(time.Since(now), ShouldBeLessThan, time.Second)
			So(s.Status().State, ShouldEqual, Stopped)
			So(l.count(), ShouldEqual, 1)
			So(readFile(cfg.Logs.ErrFile), ShouldContainSubstring,
				"Pending restart cancelled")
		}))
}

func TestSupervisorLeak(t *testing.T) {
	cfg := testConfig(t, "leak")
	l := &testL{stubborn: true}
	m := NewMetrics(prometheus.NewRegistry())

	Convey("A child that will not die is reported", t, func() {
		s, e := NewSupervisor(cfg, WithLauncher(l), WithMetrics(m),
			WithLogger(zaptest.NewLogger(t)))
		So(e, ShouldBeNil)
		So(s.Start(), ShouldBeNil)
		So(waitState(s, Running), ShouldBeTrue)

		e = s.Stop()
		So(e, ShouldNotBeNil)
		var te *ShutdownTimeoutError
		So(errors.As(e, &te), ShouldBeTrue)
		So(te.Pid, ShouldEqual, 1000)

		st := s.Status()
		So(st.State, ShouldEqual, Stopped)
		So(st.Leaked, ShouldBeTrue)
		So(st.Reason, ShouldContainSubstring, "leaked")
		So(testutil.ToFloat64(m.Leaks.WithLabelValues("leak")), ShouldEqual, 1)
		So(readFile(cfg.Logs.ErrFile), ShouldContainSubstring,
			"Process would not die")

		// Nothing new is launched while the old child may still run.
		So(s.Restart(), ShouldNotBeNil)
		So(s.Start(), ShouldEqual, ErrLeaked)
		So(s.Active(), ShouldBeFalse)
		So(s.Status().Leaked, ShouldBeTrue)
		So(l.count(), ShouldEqual, 1)

		// Until the leak is cleared.
		So(s.Clear(), ShouldBeNil)
		st = s.Status()
		So(st.Leaked, ShouldBeFalse)
		So(st.Pid, ShouldEqual, 0)
		So(s.Stop(), ShouldBeNil)
		So(s.Start(), ShouldBeNil)
		So(waitState(s, Running), ShouldBeTrue)
		So(l.count(), ShouldEqual, 2)
		So(s.Clear(), ShouldEqual, ErrIsRunning)
	})
}

func TestSupervisorRestartResets(t *testing.T) {
	cfg := testConfig(t, "reset")
	cfg.Restart.MaxRestarts = MaxRestarts(1)
	l := &testL{onLaunch: exitWith(1)}

	Convey("An explicit restart starts a fresh history", t,
		WithSupervisor(t, cfg, l, func(s *Supervisor) {
			So(s.Start(), ShouldBeNil)
			So(s.Wait(), ShouldBeNil)
			So(l.count(), ShouldEqual, 2)
			So(s.Status().PermanentlyStopped, ShouldBeTrue)

			So(s.Restart(), ShouldBeNil)
			So(s.Wait(), ShouldBeNil)
			So(l.count(), ShouldEqual, 4)
			st := s.Status()
			So(st.Attempts, ShouldEqual, 1)
			So(st.Exits, ShouldEqual, 2)
			So(st.PermanentlyStopped, ShouldBeTrue)
		}))

	Convey("Restart of a running child replaces it", t,
		WithSupervisor(t, cfg, &testL{}, func(s *Supervisor) {
			So(s.Start(), ShouldBeNil)
			So(waitState(s, Running), ShouldBeTrue)
			So(s.Restart(), ShouldBeNil)
			So(waitState(s, Running), ShouldBeTrue)
			So(s.Status().Attempts, ShouldEqual, 0)
		}))
}

func TestSupervisorStartTwice(t *testing.T) {
	cfg := testConfig(t, "twice")
	Convey("Start on an active supervisor fails", t,
		WithSupervisor(t, cfg, &testL{}, func(s *Supervisor) {
			So(s.Start(), ShouldBeNil)
			So(s.Start(), ShouldEqual, ErrIsRunning)
		}))
}

func TestSupervisorBadLogs(t *testing.T) {
	cfg := testConfig(t, "badlogs")
	blocker := filepath.Join(t.TempDir(), "file")
	os.WriteFile(blocker, []byte("x"), 0644)
	cfg.Logs.OutFile = filepath.Join(blocker, "out.log")
	l := &testL{}

	Convey("Unopenable logs fail Start without launching", t,
		WithSupervisor(t, cfg, l, func(s *Supervisor) {
			e := s.Start()
			var ce *ConfigError
			So(errors.As(e, &ce), ShouldBeTrue)
			So(l.count(), ShouldEqual, 0)
			So(s.Active(), ShouldBeFalse)
			So(s.Status().Reason, ShouldStartWith, "Failed to start")
		}))
}

func TestSupervisorEvents(t *testing.T) {
	cfg := testConfig(t, "events")
	cfg.Restart.Autorestart = false
	var mx sync.Mutex
	var states []State

	Convey("Every transition is an event", t, func() {
		s, e := NewSupervisor(cfg, WithLauncher(&testL{onLaunch: exitWith(2)}),
			WithEventHandler(func(ev Event) {
				mx.Lock()
				states = append(states, ev.State)
				mx.Unlock()
			}))
		So(e, ShouldBeNil)
		So(s.Start(), ShouldBeNil)
		So(s.Wait(), ShouldBeNil)

		mx.Lock()
		defer mx.Unlock()
		So(states, ShouldResemble, []State{Starting, Running, Exited, Stopped})
	})
}

func TestSupervisorStoppedIsInactive(t *testing.T) {
	cfg := testConfig(t, "inactive")
	cfg.Restart.Autorestart = false
	var mx sync.Mutex
	var seen []bool
	var s *Supervisor

	Convey("Stopped is only reported once Start may be called", t, func() {
		var e error
		s, e = NewSupervisor(cfg, WithLauncher(&testL{onLaunch: exitWith(0)}),
			WithEventHandler(func(ev Event) {
				if ev.State == Stopped {
					mx.Lock()
					seen = append(seen, s.Active())
					mx.Unlock()
				}
			}))
		So(e, ShouldBeNil)
		So(s.Start(), ShouldBeNil)
		So(s.Wait(), ShouldBeNil)
		So(s.Start(), ShouldBeNil)
		So(s.Wait(), ShouldBeNil)

		mx.Lock()
		defer mx.Unlock()
		So(seen, ShouldResemble, []bool{false, false})
	})
}
