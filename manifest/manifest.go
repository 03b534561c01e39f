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

// Package manifest reads process files describing applications, and
// turns each application into an appvisor.Config.  Files are YAML, or
// JSON when the name ends in ".json".  The option names follow the usual
// ecosystem file conventions (script, args, max_restarts, ...).
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"

	"github.com/gdamore/appvisor"
)

var (
	ErrNoApps        = errors.New("no applications defined")
	ErrDuplicateName = errors.New("duplicate application name")
)

// File is the top level of a process file.
type File struct {
	Apps []App `json:"apps" yaml:"apps"`
}

// App is one application entry.
type App struct {
	Name          string         `json:"name" yaml:"name"`
	Cwd           string         `json:"cwd" yaml:"cwd"`
	Script        string         `json:"script" yaml:"script"`
	Args          Args           `json:"args" yaml:"args"`
	Interpreter   string         `json:"interpreter" yaml:"interpreter"`
	Autorestart   *bool          `json:"autorestart" yaml:"autorestart"`
	MaxRestarts   *int           `json:"max_restarts" yaml:"max_restarts"`
	RestartDelay  Millis         `json:"restart_delay" yaml:"restart_delay"`
	KillTimeout   Millis         `json:"kill_timeout" yaml:"kill_timeout"`
	StopExitCodes []int          `json:"stop_exit_codes" yaml:"stop_exit_codes"`
	OutFile       string         `json:"out_file" yaml:"out_file"`
	ErrorFile     string         `json:"error_file" yaml:"error_file"`
	MergeLogs     bool           `json:"merge_logs" yaml:"merge_logs"`
	Time          bool           `json:"time" yaml:"time"`
	Env           map[string]any `json:"env" yaml:"env"`
}

// Args accepts either a list of arguments, or a single string that is
// split the way a shell would split it.
type Args []string

func splitArgs(s string) (Args, error) {
	fields, e := shlex.Split(s)
	if e != nil {
		return nil, fmt.Errorf("parse args %q: %w", s, e)
	}
	return Args(fields), nil
}

func (a *Args) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		v, e := splitArgs(node.Value)
		if e != nil {
			return e
		}
		*a = v
		return nil
	case yaml.SequenceNode:
		var v []string
		if e := node.Decode(&v); e != nil {
			return e
		}
		*a = v
		return nil
	}
	return fmt.Errorf("line %d: args must be a string or a list", node.Line)
}

func (a *Args) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if e := json.Unmarshal(b, &s); e == nil {
		v, e := splitArgs(s)
		if e != nil {
			return e
		}
		*a = v
		return nil
	}
	var v []string
	if e := json.Unmarshal(b, &v); e != nil {
		return errors.New("args must be a string or a list")
	}
	*a = v
	return nil
}

// Millis is a duration written either as a number of milliseconds, or
// as a Go duration string such as "3s".
type Millis time.Duration

func parseMillis(s string) (Millis, error) {
	if n, e := strconv.ParseInt(s, 10, 64); e == nil {
		return Millis(time.Duration(n) * time.Millisecond), nil
	}
	d, e := time.ParseDuration(s)
	if e != nil {
		return 0, fmt.Errorf("bad duration %q", s)
	}
	return Millis(d), nil
}

func (m *Millis) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	v, e := parseMillis(node.Value)
	if e != nil {
		return e
	}
	*m = v
	return nil
}

func (m *Millis) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	v, e := parseMillis(strings.Trim(string(b), `"`))
	if e != nil {
		return e
	}
	*m = v
	return nil
}

// Load reads the process file at path.  Relative directories in it are
// taken relative to the directory holding the file.
func Load(path string) ([]appvisor.Config, error) {
	data, e := os.ReadFile(path)
	if e != nil {
		return nil, fmt.Errorf("read process file failed: %w", e)
	}
	abs, e := filepath.Abs(path)
	if e != nil {
		return nil, e
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return Parse(data, format, filepath.Dir(abs))
}

// Parse decodes a process file in the given format ("yaml" or "json").
func Parse(data []byte, format string, baseDir string) ([]appvisor.Config, error) {
	var f File
	var e error
	if format == "json" {
		e = json.Unmarshal(data, &f)
	} else {
		e = yaml.Unmarshal(data, &f)
	}
	if e != nil {
		return nil, fmt.Errorf("parse process file failed: %w", e)
	}
	if len(f.Apps) == 0 {
		return nil, ErrNoApps
	}

	seen := make(map[string]bool)
	cfgs := make([]appvisor.Config, 0, len(f.Apps))
	for i, app := range f.Apps {
		if app.Name == "" {
			return nil, fmt.Errorf("application %d: missing name", i)
		}
		if seen[app.Name] {
			return nil, fmt.Errorf("%s: %w", app.Name, ErrDuplicateName)
		}
		seen[app.Name] = true
		cfg, e := app.Config(baseDir)
		if e != nil {
			return nil, e
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

func isShell(interp string) bool {
	switch filepath.Base(interp) {
	case "shell", "sh", "bash", "dash", "zsh":
		return true
	}
	return false
}

// Config converts the entry.  baseDir anchors a relative cwd; the log
// files are anchored at the resulting cwd.
func (a App) Config(baseDir string) (appvisor.Config, error) {
	cwd := a.Cwd
	if cwd == "" {
		cwd = baseDir
	} else if !filepath.IsAbs(cwd) {
		cwd = filepath.Join(baseDir, cwd)
	}

	ps := appvisor.ProcessSpec{
		Command: a.Script,
		Args:    append([]string{}, a.Args...),
		Dir:     cwd,
	}
	switch interp := a.Interpreter; {
	case interp == "" || interp == "none":
		ps.Interpreter = appvisor.InterpreterNone
	case isShell(interp):
		ps.Interpreter = appvisor.InterpreterShell
		if interp != "shell" {
			ps.Shell = interp
		}
	default:
		// e.g. "python3": run the script with that interpreter.
		ps.Interpreter = appvisor.InterpreterNone
		ps.Command = interp
		ps.Args = append([]string{a.Script}, a.Args...)
	}
	if len(a.Env) != 0 {
		ps.Env = make(map[string]string, len(a.Env))
		for k, v := range a.Env {
			ps.Env[k] = fmt.Sprint(v)
		}
	}

	autorestart := true
	if a.Autorestart != nil {
		autorestart = *a.Autorestart
	}
	logPath := func(p, suffix string) string {
		if p == "" {
			p = filepath.Join("logs", a.Name+suffix)
		}
		if !filepath.IsAbs(p) {
			p = filepath.Join(cwd, p)
		}
		return p
	}

	cfg := appvisor.Config{
		Name:    a.Name,
		Process: ps,
		Restart: appvisor.RestartPolicyConfig{
			Autorestart:   autorestart,
			MaxRestarts:   a.MaxRestarts,
			RestartDelay:  time.Duration(a.RestartDelay),
			StopExitCodes: a.StopExitCodes,
		},
		Logs: appvisor.LogDestination{
			OutFile:    logPath(a.OutFile, "-out.log"),
			ErrFile:    logPath(a.ErrorFile, "-error.log"),
			Merge:      a.MergeLogs,
			Timestamps: a.Time,
		},
		GracePeriod: time.Duration(a.KillTimeout),
	}
	if e := cfg.Validate(); e != nil {
		return cfg, e
	}
	return cfg, nil
}
