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
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNewLogger(t *testing.T) {
	Convey("A bad level is refused", t, func() {
		_, e := NewLogger(LogConfig{Level: "loud"})
		So(e, ShouldNotBeNil)
	})

	Convey("JSON logs go to the named file", t, func() {
		path := filepath.Join(t.TempDir(), "logs", "appvisord.log")
		l, e := NewLogger(LogConfig{Level: "warn", Format: "json", OutputPath: path})
		So(e, ShouldBeNil)
		l.Info("dropped")
		l.Warn("kept")
		l.Sync()

		text := strings.TrimSpace(readFile(path))
		So(text, ShouldNotContainSubstring, "dropped")
		var rec map[string]interface{}
		So(json.Unmarshal([]byte(text), &rec), ShouldBeNil)
		So(rec["msg"], ShouldEqual, "kept")
		So(rec["level"], ShouldEqual, "warn")
	})
}
