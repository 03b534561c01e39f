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

package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gdamore/appvisor"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollEtagHeader and PollTimeHeader ask the server to hold a GET
	// until the resource no longer matches the Etag, or until the given
	// number of seconds has passed.
	PollEtagHeader = "X-Appvisor-Poll-Etag"
	PollTimeHeader = "X-Appvisor-Poll-Time"

	// MaxPollTime caps how long the server will hold a request.
	MaxPollTime = 300
)

var ok struct{}

type LogRecord = appvisor.LogRecord

type ManagerInfo struct {
	Name       string    `json:"name"`
	CreateTime time.Time `json:"created"`
	UpdateTime time.Time `json:"updated"`
	etag       string
}

type ExitInfo struct {
	Code     int           `json:"code"`
	Signaled bool          `json:"signaled"`
	Signal   string        `json:"signal,omitempty"`
	Runtime  time.Duration `json:"runtime"`
	Time     time.Time     `json:"time"`
	Error    string        `json:"error,omitempty"`
}

type AppInfo struct {
	Name               string        `json:"name"`
	State              string        `json:"state"`
	Pid                int           `json:"pid,omitempty"`
	Started            time.Time     `json:"started"`
	Attempts           int           `json:"attempts"`
	Exits              int           `json:"exits"`
	LastExit           *ExitInfo     `json:"lastExit,omitempty"`
	PermanentlyStopped bool          `json:"permanentlyStopped"`
	Leaked             bool          `json:"leaked"`
	Status             string        `json:"status"`
	TimeStamp          time.Time     `json:"tstamp"`
	Command            string        `json:"command"`
	Args               []string      `json:"args"`
	Dir                string        `json:"dir"`
	Autorestart        bool          `json:"autorestart"`
	MaxRestarts        *int          `json:"maxRestarts,omitempty"`
	RestartDelay       time.Duration `json:"restartDelay"`
	OutFile            string        `json:"outFile"`
	ErrFile            string        `json:"errFile,omitempty"`
	etag               string
}

func newAppInfo(s *appvisor.Supervisor) *AppInfo {
	st := s.Status()
	cfg := s.Config()
	info := &AppInfo{
		Name:               st.Name,
		State:              st.State.String(),
		Pid:                st.Pid,
		Started:            st.Started,
		Attempts:           st.Attempts,
		Exits:              st.Exits,
		PermanentlyStopped: st.PermanentlyStopped,
		Leaked:             st.Leaked,
		Status:             st.Reason,
		TimeStamp:          st.Stamp,
		Command:            cfg.Process.Command,
		Args:               cfg.Process.Args,
		Dir:                cfg.Process.Dir,
		Autorestart:        cfg.Restart.Autorestart,
		MaxRestarts:        cfg.Restart.MaxRestarts,
		RestartDelay:       cfg.Restart.RestartDelay,
		OutFile:            cfg.Logs.OutFile,
	}
	if !cfg.Logs.Merge {
		info.ErrFile = cfg.Logs.ErrFile
	}
	if x := st.LastExit; x != nil {
		info.LastExit = &ExitInfo{
			Code:     x.Code,
			Signaled: x.Signaled,
			Signal:   x.Signal,
			Runtime:  x.Runtime,
			Time:     x.Time,
		}
		if x.Err != nil {
			info.LastExit.Error = x.Err.Error()
		}
	}
	return info
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) write(w http.ResponseWriter) {
	b, _ := json.Marshal(e)
	w.Header().Set("Content-Type", mimeJson)
	w.WriteHeader(e.Code)
	w.Write(b)
}
