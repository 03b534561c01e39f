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
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// Manager is the table of applications: one Supervisor per name.  Each
// Supervisor runs independently; the Manager only tracks them, keeps a
// history of what they did, and lets clients watch for changes.
type Manager struct {
	supervisors map[string]*Supervisor
	appLogs     map[string]*Log
	appSerials  map[string]int64
	name        string
	logger      *zap.Logger
	log         *Log
	metrics     *Metrics
	serial      int64
	listSerial  int64
	listStamp   time.Time
	createTime  time.Time
	updateTime  time.Time
	mx          sync.Mutex
	cvs         map[*sync.Cond]bool
}

type ManagerInfo struct {
	Name       string
	Serial     int64
	UpdateTime time.Time
	CreateTime time.Time
}

func (m *Manager) lock() {
	m.mx.Lock()
}

func (m *Manager) unlock() {
	m.mx.Unlock()
}

func (m *Manager) wakeUp() {
	// NB: If the lock is not held here, then there is a risk
	// that the woken goroutines won't get see the updated
	// serial number!!
	for cv := range m.cvs {
		cv.Broadcast()
	}
}

// bumpSerial increments the serial and notifies watchers.  It returns
// the new serial number.  Call with lock held.
func (m *Manager) bumpSerial() int64 {
	m.updateTime = time.Now()
	m.serial++
	rv := m.serial
	m.wakeUp()
	return rv
}

// watchSerial monitors for a change in a specific serial number.  It returns
// the new serial number when it changes.  If the serial number has not
// changed in the given duration then the old value is returned.  A poll
// can be done by supplying 0 for the expiration.
func (m *Manager) watchSerial(old int64, src func() int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&m.mx)
	var timer *time.Timer
	var rv int64

	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			m.lock()
			expired = true
			cv.Broadcast()
			m.unlock()
		})
	} else {
		expired = true
	}

	m.lock()
	m.cvs[cv] = true
	for {
		rv = src()
		if rv != old || expired {
			break
		}
		cv.Wait()
	}
	delete(m.cvs, cv)
	m.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// WatchSerial monitors for a change in the global serial number.
func (m *Manager) WatchSerial(old int64, expire time.Duration) int64 {
	return m.watchSerial(old, func() int64 { return m.serial }, expire)
}

// WatchSupervisors monitors for a change in the list of supervisors.
func (m *Manager) WatchSupervisors(old int64, expire time.Duration) int64 {
	return m.watchSerial(old, func() int64 { return m.listSerial }, expire)
}

// WatchSupervisor monitors for a state change of the named supervisor.
func (m *Manager) WatchSupervisor(name string, old int64, expire time.Duration) int64 {
	return m.watchSerial(old, func() int64 { return m.appSerials[name] }, expire)
}

// Serial returns the global serial number.  This is incremented
// anytime a supervisor changes state.
func (m *Manager) Serial() int64 {
	m.lock()
	rv := m.serial
	m.unlock()
	return rv
}

// Name returns the name the manager was allocated with.
func (m *Manager) Name() string {
	return m.name
}

// GetInfo returns top-level information about the Manager.  This is done
// in a manner that ensures that the info is consistent.
func (m *Manager) GetInfo() *ManagerInfo {
	m.lock()
	i := &ManagerInfo{
		Name:       m.name,
		Serial:     m.serial,
		CreateTime: m.createTime,
		UpdateTime: m.updateTime,
	}
	m.unlock()
	return i
}

// Logger returns the manager's logger.  Supervisors created through
// NewSupervisor log through it, and it also feeds the manager's Log.
func (m *Manager) Logger() *zap.Logger {
	m.lock()
	defer m.unlock()
	return m.logger
}

// SetLogger establishes the operational logger.  Everything logged
// through it is also recorded in the manager's Log.
func (m *Manager) SetLogger(l *zap.Logger) {
	ring := zapcore.NewCore(zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeName:     zapcore.FullNameEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}), m.log, zapcore.InfoLevel)

	m.lock()
	m.logger = l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, ring)
	}))
	m.unlock()
}

// SetMetrics sets the collectors used by supervisors created afterwards
// through NewSupervisor.
func (m *Manager) SetMetrics(mt *Metrics) {
	m.lock()
	m.metrics = mt
	m.unlock()
}

// NewSupervisor creates a Supervisor using the manager's logger and
// metrics, and adds it.
func (m *Manager) NewSupervisor(cfg Config, opts ...Option) (*Supervisor, error) {
	m.lock()
	base := []Option{WithLogger(m.logger), WithMetrics(m.metrics)}
	m.unlock()
	s, e := NewSupervisor(cfg, append(base, opts...)...)
	if e != nil {
		return nil, e
	}
	if e := m.Add(s); e != nil {
		return nil, e
	}
	return s, nil
}

// Add registers a supervisor.  Names must be unique.
func (m *Manager) Add(s *Supervisor) error {
	m.lock()
	defer m.unlock()
	name := s.Name()
	if _, ok := m.supervisors[name]; ok {
		return ErrAlreadyExists
	}
	m.supervisors[name] = s
	m.appLogs[name] = NewLog(0)
	m.appSerials[name] = m.bumpSerial()
	m.listSerial = m.bumpSerial()
	m.listStamp = time.Now()
	s.addHandler(func(ev Event) { m.notify(s, ev) })
	m.logger.Info("Added application", zap.String("app", name),
		zap.String("command", s.cfg.Process.Command))
	return nil
}

// Remove deletes a supervisor from the manager.  It must be stopped.
func (m *Manager) Remove(name string) error {
	m.lock()
	defer m.unlock()
	s, ok := m.supervisors[name]
	if !ok {
		return ErrNotFound
	}
	if s.Active() {
		return ErrIsRunning
	}
	delete(m.supervisors, name)
	delete(m.appLogs, name)
	delete(m.appSerials, name)
	m.listSerial = m.bumpSerial()
	m.listStamp = time.Now()
	m.logger.Info("Removed application", zap.String("app", name))
	return nil
}

// Find returns the named supervisor.
func (m *Manager) Find(name string) (*Supervisor, error) {
	m.lock()
	defer m.unlock()
	if s, ok := m.supervisors[name]; ok {
		return s, nil
	}
	return nil, ErrNotFound
}

// Supervisors returns all supervisors sorted by name, with the list
// serial and the time the list last changed.
func (m *Manager) Supervisors() ([]*Supervisor, int64, time.Time) {
	m.lock()
	rv := make([]*Supervisor, 0, len(m.supervisors))
	for _, s := range m.supervisors {
		rv = append(rv, s)
	}
	ts := m.listStamp
	sn := m.listSerial
	m.unlock()
	sort.Slice(rv, func(i, j int) bool { return rv[i].Name() < rv[j].Name() })
	return rv, sn, ts
}

// SupervisorSerial returns the serial of the last change of the named
// supervisor, for use as an Etag.
func (m *Manager) SupervisorSerial(name string) int64 {
	m.lock()
	defer m.unlock()
	return m.appSerials[name]
}

// StartAll starts every supervisor that is not already active.  Every
// supervisor is attempted; the errors are combined.
func (m *Manager) StartAll() error {
	svcs, _, _ := m.Supervisors()
	var rv error
	for _, s := range svcs {
		if s.Active() {
			continue
		}
		if e := s.Start(); e != nil {
			rv = multierr.Append(rv, fmt.Errorf("%s: %w", s.Name(), e))
		}
	}
	return rv
}

// Shutdown stops every supervisor concurrently, and waits until they are
// all stopped or ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	svcs, _, _ := m.Supervisors()
	m.logger.Info("Shutting down", zap.String("manager", m.name),
		zap.Int("applications", len(svcs)))

	var g errgroup.Group
	for _, s := range svcs {
		g.Go(s.Stop)
	}
	ch := make(chan error, 1)
	go func() {
		ch <- g.Wait()
	}()
	select {
	case e := <-ch:
		if e != nil {
			m.logger.Error("Shutdown incomplete", zap.Error(e))
		}
		return e
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetLog returns the manager-wide log records.
func (m *Manager) GetLog(lastid int64) ([]LogRecord, int64) {
	return m.log.GetRecords(lastid)
}

func (m *Manager) WatchLog(old int64, expire time.Duration) int64 {
	return m.log.Watch(old, expire)
}

// GetSupervisorLog returns the state history of one supervisor.
func (m *Manager) GetSupervisorLog(name string, lastid int64) ([]LogRecord, int64, error) {
	m.lock()
	l, ok := m.appLogs[name]
	m.unlock()
	if !ok {
		return nil, 0, ErrNotFound
	}
	recs, id := l.GetRecords(lastid)
	return recs, id, nil
}

func (m *Manager) WatchSupervisorLog(name string, old int64, expire time.Duration) (int64, error) {
	m.lock()
	l, ok := m.appLogs[name]
	m.unlock()
	if !ok {
		return 0, ErrNotFound
	}
	return l.Watch(old, expire), nil
}

// notify is the event handler installed on every added supervisor.
func (m *Manager) notify(s *Supervisor, ev Event) {
	m.lock()
	defer m.unlock()
	if m.supervisors[ev.Name] != s {
		return
	}
	text := ev.State.String() + ": " + ev.Reason
	if ev.Pid != 0 {
		text = fmt.Sprintf("%s (pid %d)", text, ev.Pid)
	}
	m.appLogs[ev.Name].Append(text)
	m.appSerials[ev.Name] = m.bumpSerial()
}

func NewManager(name string) *Manager {
	if name == "" {
		name = "appvisor"
	}
	// We set the origin serial number to the current timestamp in nsec.
	// The assumption here is that we won't have changes to serial number
	// occur at frequency > 1GHz.  Hence, it should be safe for us to use
	// these as unique values, and this may help clients that cache force
	// an invalidation if the server for some reason restarts.
	m := &Manager{name: name, serial: time.Now().UnixNano()}
	m.supervisors = make(map[string]*Supervisor)
	m.appLogs = make(map[string]*Log)
	m.appSerials = make(map[string]int64)
	m.cvs = make(map[*sync.Cond]bool)
	m.createTime = time.Now()
	m.updateTime = m.createTime
	m.log = NewLog(0)
	m.SetLogger(zap.NewNop())
	return m
}
