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

// Package util is used for internal implementation bits in the CLI.
package util

import (
	"fmt"
	"sort"
	"time"

	"github.com/gdamore/appvisor/rest"
)

// Failed is true for an application that needs attention: it gave up
// restarting, or left a process behind that could not be killed.
func Failed(a *rest.AppInfo) bool {
	return a.PermanentlyStopped || a.Leaked
}

func Status(a *rest.AppInfo) string {
	switch {
	case a.Leaked:
		return "leaked"
	case a.PermanentlyStopped:
		return "failed"
	}
	return a.State
}

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

type sorted []*rest.AppInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	if Failed(a) != Failed(b) {
		// put failed items at front
		return Failed(a)
	}
	aup := a.State != "stopped"
	bup := b.State != "stopped"
	if aup != bup {
		return aup
	}
	return a.Name < b.Name
}

func SortApps(items []*rest.AppInfo) {
	sort.Sort(sorted(items))
}
