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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLog(t *testing.T) {
	Convey("Given a small log", t, func() {
		l := NewLog(3)

		Convey("It keeps only the newest records", func() {
			for i := 0; i < 5; i++ {
				l.Append(fmt.Sprintf("rec%d", i))
			}
			recs, id := l.GetRecords(0)
			So(len(recs), ShouldEqual, 3)
			So(recs[0].Text, ShouldEqual, "rec2")
			So(recs[2].Text, ShouldEqual, "rec4")
			So(recs[2].Id, ShouldEqual, id)
			So(recs[1].Id, ShouldEqual, recs[0].Id+1)

			recs, _ = l.GetRecords(id)
			So(recs, ShouldBeNil)

			Convey("Clear empties it and changes the id", func() {
				l.Clear()
				recs, nid := l.GetRecords(id)
				So(len(recs), ShouldEqual, 0)
				So(nid, ShouldNotEqual, id)
			})
		})

		Convey("Write splits lines", func() {
			n, e := l.Write([]byte("a\nb\n"))
			So(e, ShouldBeNil)
			So(n, ShouldEqual, 4)
			recs, _ := l.GetRecords(0)
			So(len(recs), ShouldEqual, 2)
			So(recs[1].Text, ShouldEqual, "b")
		})

		Convey("Watch wakes on an append", func() {
			_, id := l.GetRecords(0)
			go func() {
				time.Sleep(20 * time.Millisecond)
				l.Append("wake")
			}()
			So(l.Watch(id, 5*time.Second), ShouldNotEqual, id)
		})

		Convey("Watch times out", func() {
			_, id := l.GetRecords(0)
			So(l.Watch(id, 20*time.Millisecond), ShouldEqual, id)
		})
	})

	Convey("The default size is MaxLogRecords", t, func() {
		l := NewLog(0)
		for i := 0; i < MaxLogRecords+10; i++ {
			l.Append("x")
		}
		recs, _ := l.GetRecords(0)
		So(len(recs), ShouldEqual, MaxLogRecords)
	})
}
