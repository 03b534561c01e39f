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
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Supervisor manages the lifecycle of one child process: it starts it,
// waits for it to exit, asks the restart policy what to do, and does it.
// All decisions happen in a single control goroutine per run; the
// exported methods are safe for concurrent use.
type Supervisor struct {
	cfg      Config
	launcher Launcher
	logger   *zap.Logger
	metrics  *Metrics
	handlers []EventHandler

	state   State
	pid     int
	started time.Time
	rstate  RestartState
	leaked  bool
	reason  string
	stamp   time.Time

	active bool
	stop   chan struct{}
	done   chan struct{}
	runErr error
	mx     sync.Mutex
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the operational logger.  The Supervisor names it after
// itself.  The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// WithLauncher replaces the launcher that creates child processes.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) {
		s.launcher = l
	}
}

// WithEventHandler registers a handler for state transitions.  It may be
// given more than once.
func WithEventHandler(h EventHandler) Option {
	return func(s *Supervisor) {
		s.handlers = append(s.handlers, h)
	}
}

// WithMetrics records lifecycle counters in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

// NewSupervisor validates the configuration and returns a Supervisor in
// the Stopped state.  Call Start to run the child.
func NewSupervisor(cfg Config, opts ...Option) (*Supervisor, error) {
	if e := cfg.Validate(); e != nil {
		return nil, e
	}
	s := &Supervisor{
		cfg:    cfg,
		logger: zap.NewNop(),
		reason: "Not started",
		stamp:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.launcher == nil {
		s.launcher = &ProcessLauncher{KillWait: cfg.killWait()}
	}
	s.logger = s.logger.Named(cfg.Name)
	return s, nil
}

// Name returns the application name.
func (s *Supervisor) Name() string {
	return s.cfg.Name
}

// Config returns the configuration the Supervisor was created with.
func (s *Supervisor) Config() Config {
	return s.cfg
}

// Start opens the log destination and launches the child.  It fails with
// a *ConfigError if the logs cannot be opened, and with ErrIsRunning if
// the Supervisor is already active.  After a leaked shutdown it fails
// with ErrLeaked until Clear is called.  Starting a Stopped supervisor
// always begins with a fresh restart history.
func (s *Supervisor) Start() error {
	s.mx.Lock()
	defer s.mx.Unlock()

	if s.active {
		return ErrIsRunning
	}
	if s.leaked {
		return ErrLeaked
	}
	sink, e := OpenLogSink(s.cfg.Name, s.cfg.Logs)
	if e != nil {
		s.logger.Error("Cannot open logs", zap.Error(e))
		s.reason = "Failed to start: " + e.Error()
		s.stamp = time.Now()
		return e
	}
	s.active = true
	s.rstate = RestartState{}
	s.runErr = nil
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(sink, s.stop, s.done)
	return nil
}

// Stop requests shutdown and waits for it to finish.  A live child is
// terminated and a pending restart is cancelled.  If the child could not
// be killed, the *ShutdownTimeoutError is returned.
func (s *Supervisor) Stop() error {
	s.mx.Lock()
	if !s.active {
		e := s.runErr
		s.mx.Unlock()
		return e
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	done := s.done
	s.mx.Unlock()

	<-done
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.runErr
}

// Restart is the explicit reset-and-start: it stops the supervisor if it
// is active, then starts it again with a fresh restart history.  If the
// old child could not be terminated, no new child is started.
func (s *Supervisor) Restart() error {
	if e := s.Stop(); e != nil {
		return e
	}
	return s.Start()
}

// Clear acknowledges a leaked process, once the operator has dealt with
// it, so that the supervisor may be started again.
func (s *Supervisor) Clear() error {
	s.mx.Lock()
	if s.active {
		s.mx.Unlock()
		return ErrIsRunning
	}
	if !s.leaked {
		s.mx.Unlock()
		return nil
	}
	s.logger.Warn("Leaked process cleared", zap.Int("pid", s.pid))
	ev := Event{Time: time.Now(), Name: s.cfg.Name, State: Stopped,
		Reason: "Leak cleared"}
	s.leaked = false
	s.runErr = nil
	s.pid = 0
	s.reason = ev.Reason
	s.stamp = ev.Time
	handlers := append([]EventHandler{}, s.handlers...)
	s.mx.Unlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// Wait blocks until the supervisor reaches Stopped, and returns any
// error from the final shutdown.  It returns at once if not active.
func (s *Supervisor) Wait() error {
	s.mx.Lock()
	done := s.done
	active := s.active
	s.mx.Unlock()
	if active {
		<-done
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.runErr
}

// Active is true from Start until the supervisor reaches Stopped.  Both
// change together, so a Stopped supervisor can always be started.
func (s *Supervisor) Active() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.active
}

// Status returns a consistent snapshot.
func (s *Supervisor) Status() Status {
	s.mx.Lock()
	defer s.mx.Unlock()
	st := Status{
		Name:               s.cfg.Name,
		State:              s.state,
		Pid:                s.pid,
		Started:            s.started,
		Attempts:           s.rstate.Attempts,
		Exits:              s.rstate.Exits,
		PermanentlyStopped: s.rstate.PermanentlyStopped,
		Leaked:             s.leaked,
		Reason:             s.reason,
		Stamp:              s.stamp,
	}
	if s.rstate.Exits > 0 {
		last := s.rstate.LastExit
		st.LastExit = &last
	}
	return st
}

func (s *Supervisor) addHandler(h EventHandler) {
	s.mx.Lock()
	s.handlers = append(s.handlers, h)
	s.mx.Unlock()
}

// transition records a state change and tells everyone about it.
func (s *Supervisor) transition(state State, pid int, reason string) {
	s.update(state, pid, reason, false)
}

// update records the state.  When last is true the run is over, and
// active is cleared under the same lock, so that nobody sees Stopped
// while Start would still refuse.
func (s *Supervisor) update(state State, pid int, reason string, last bool) {
	now := time.Now()
	s.mx.Lock()
	s.state = state
	s.pid = pid
	s.reason = reason
	s.stamp = now
	if last {
		s.active = false
	}
	handlers := append([]EventHandler{}, s.handlers...)
	s.mx.Unlock()

	s.metrics.setState(s.cfg.Name, state)
	ev := Event{Time: now, Name: s.cfg.Name, State: state, Pid: pid,
		Reason: reason}
	for _, h := range handlers {
		h(ev)
	}
}

func (s *Supervisor) saveRestartState(rs RestartState) {
	s.mx.Lock()
	s.rstate = rs
	s.mx.Unlock()
}

// sinkLogger returns a logger that writes both to the operational log
// and into the application's own log file, so that the file records
// every exit, every restart delay and the final stop reason.
func (s *Supervisor) sinkLogger(sink *LogSink) *zap.Logger {
	ec := zapcore.EncoderConfig{
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeName:     zapcore.FullNameEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	if !sink.Destination().Timestamps {
		ec.TimeKey = "time"
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(ec),
		sink.Writer(StreamErr), zapcore.InfoLevel)
	return s.logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, core)
	}))
}

func stopRequested(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// run is the control loop.  It owns the restart state and the current
// child; nothing else touches them.
func (s *Supervisor) run(sink *LogSink, stop <-chan struct{}, done chan struct{}) {
	var rs RestartState
	log := s.sinkLogger(sink)

	// Every return sets the final pid and reason.
	pid, reason := 0, "Stopped by request"
	defer func() {
		log.Sync()
		if e := sink.Close(); e != nil {
			s.logger.Warn("Failed closing logs", zap.Error(e))
		}
		s.update(Stopped, pid, reason, true)
		close(done)
	}()

	for {
		if stopRequested(stop) {
			return
		}
		s.transition(Starting, 0, "Starting")
		s.metrics.started(s.cfg.Name)

		var outcome ExitOutcome
		h, e := s.launcher.Launch(s.cfg.Process, sink)
		if e != nil {
			log.Error("Failed to start", zap.Error(e))
			s.mx.Lock()
			s.started = time.Time{}
			s.mx.Unlock()
			outcome = spawnFailure(e)
		} else {
			s.mx.Lock()
			s.started = h.Started()
			s.mx.Unlock()
			log.Info("Started", zap.Int("pid", h.Pid()),
				zap.String("instance", h.ID()),
				zap.Int("attempt", rs.Attempts))
			s.transition(Running, h.Pid(), "Running")

			select {
			case <-h.Done():
				outcome = h.Wait()
			case <-stop:
				pid, reason = s.shutdown(h, &rs, log)
				return
			}
			log.Info("Exited", zap.Int("pid", h.Pid()),
				zap.Stringer("outcome", outcome),
				zap.Duration("runtime", outcome.Runtime))
		}
		s.metrics.exited(s.cfg.Name, outcome)
		s.transition(Exited, 0, outcome.String())

		d := Decide(&rs, outcome, s.cfg.Restart)
		s.saveRestartState(rs)
		if !d.Restart {
			log.Info("Not restarting", zap.String("reason", d.Reason),
				zap.Int("restarts", rs.Attempts),
				zap.Int("exits", rs.Exits))
			reason = "Stopped: " + d.Reason
			return
		}

		log.Info("Restart scheduled", zap.Duration("delay", d.Delay),
			zap.Int("restart", rs.Attempts))
		s.metrics.restarted(s.cfg.Name)
		s.transition(RestartPending, 0, d.String())

		timer := time.NewTimer(d.Delay)
		select {
		case <-timer.C:
		case <-stop:
			timer.Stop()
			log.Info("Pending restart cancelled")
			return
		}
	}
}

// shutdown terminates the live child on behalf of Stop, and returns the
// pid and reason to record for the final Stopped state.
func (s *Supervisor) shutdown(h Handle, rs *RestartState, log *zap.Logger) (int, string) {
	grace := s.cfg.gracePeriod()
	log.Info("Stopping", zap.Int("pid", h.Pid()), zap.Duration("grace", grace))

	if e := h.Terminate(grace); e != nil {
		// This is an operational alert: something is running that we
		// no longer control.
		log.Error("Process would not die", zap.Int("pid", h.Pid()),
			zap.Error(e))
		s.metrics.leak(s.cfg.Name)
		s.mx.Lock()
		s.leaked = true
		s.runErr = e
		s.mx.Unlock()
		return h.Pid(), "Stopped: " + e.Error()
	}

	outcome := h.Wait()
	rs.Exits++
	rs.LastExit = outcome
	s.saveRestartState(*rs)
	s.metrics.exited(s.cfg.Name, outcome)
	log.Info("Stopped", zap.Int("pid", h.Pid()),
		zap.Stringer("outcome", outcome))
	return 0, "Stopped by request"
}
