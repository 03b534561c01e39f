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
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"
)

const (
	DefaultShell       = "/bin/sh"
	DefaultGracePeriod = time.Second * 10
	DefaultKillWait    = time.Second * 5
)

// Interpreter selects how the command is executed.
type Interpreter int

const (
	// InterpreterNone executes the command directly, with Args as argv.
	InterpreterNone Interpreter = iota
	// InterpreterShell hands the command line to a shell with -c.
	InterpreterShell
)

func (i Interpreter) String() string {
	switch i {
	case InterpreterNone:
		return "none"
	case InterpreterShell:
		return "shell"
	}
	return "unknown"
}

// ProcessSpec describes what to run.  It is never modified once handed
// to a Supervisor; every restart uses the same ProcessSpec.
type ProcessSpec struct {
	Command     string
	Args        []string
	Dir         string
	Env         map[string]string
	Interpreter Interpreter
	Shell       string // only for InterpreterShell; DefaultShell if empty
}

// argv returns the path and argument vector to execute.
func (ps ProcessSpec) argv() (string, []string) {
	if ps.Interpreter == InterpreterShell {
		sh := ps.Shell
		if sh == "" {
			sh = DefaultShell
		}
		line := strings.Join(append([]string{ps.Command}, ps.Args...), " ")
		return sh, []string{sh, "-c", line}
	}
	return ps.Command, append([]string{ps.Command}, ps.Args...)
}

// environ merges the overrides over the inherited environment.  The
// override wins when a name is present in both.
func (ps ProcessSpec) environ() []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			merged[kv[:i]] = kv[i+1:]
		}
	}
	if ps.Dir != "" {
		// The inherited PWD would name our directory, not the child's.
		merged["PWD"] = ps.Dir
	}
	for k, v := range ps.Env {
		merged[k] = v
	}
	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// RestartPolicyConfig holds the restart parameters.  A nil MaxRestarts
// means restarts are unbounded.
type RestartPolicyConfig struct {
	Autorestart   bool
	MaxRestarts   *int
	RestartDelay  time.Duration
	StopExitCodes []int
}

// MaxRestarts is a convenience for filling RestartPolicyConfig.
func MaxRestarts(n int) *int {
	return &n
}

// LogDestination names where the child output goes.  When Merge is set,
// both streams go to OutFile and ErrFile is ignored.
type LogDestination struct {
	OutFile    string
	ErrFile    string
	Merge      bool
	Timestamps bool
}

// Config is everything a Supervisor needs to manage one application.
type Config struct {
	Name        string
	Process     ProcessSpec
	Restart     RestartPolicyConfig
	Logs        LogDestination
	GracePeriod time.Duration // SIGTERM to SIGKILL; DefaultGracePeriod if 0
	KillWait    time.Duration // after SIGKILL; DefaultKillWait if 0
}

// Validate checks the parts of a Config that can be checked without
// touching the filesystem.  Anything wrong here is a ConfigError.
func (c *Config) Validate() error {
	bad := func(reason string, err error) error {
		return &ConfigError{Name: c.Name, Reason: reason, Err: err}
	}
	if c.Name == "" {
		return bad("missing name", ErrNoName)
	}
	if strings.TrimSpace(c.Process.Command) == "" {
		return bad("missing command", ErrNoCommand)
	}
	if c.Process.Interpreter == InterpreterShell {
		// The shell will parse it for real, but unbalanced quoting
		// can never succeed, so refuse it early.
		line := strings.Join(append([]string{c.Process.Command},
			c.Process.Args...), " ")
		if _, e := shlex.Split(line); e != nil {
			return bad("unparseable command line", e)
		}
	}
	if c.Restart.MaxRestarts != nil && *c.Restart.MaxRestarts < 0 {
		return bad("negative max restarts", nil)
	}
	if c.Restart.RestartDelay < 0 {
		return bad("negative restart delay", nil)
	}
	if c.GracePeriod < 0 || c.KillWait < 0 {
		return bad("negative termination timeout", nil)
	}
	if c.Logs.OutFile == "" {
		return bad("missing output log file", nil)
	}
	if !c.Logs.Merge && c.Logs.ErrFile == "" {
		return bad("missing error log file", nil)
	}
	return nil
}

func (c *Config) gracePeriod() time.Duration {
	if c.GracePeriod == 0 {
		return DefaultGracePeriod
	}
	return c.GracePeriod
}

func (c *Config) killWait() time.Duration {
	if c.KillWait == 0 {
		return DefaultKillWait
	}
	return c.KillWait
}
