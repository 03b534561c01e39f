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
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

type LogRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Log is a bounded in-memory history of supervisor messages, for status
// queries.  It is not where child output goes; that is the LogSink.
type Log struct {
	records    []LogRecord
	numRecords int
	maxRecords int
	id         int64
	cvs        map[*sync.Cond]bool
	mx         sync.Mutex
}

// Write implements io.Writer, so that a Log can back a zap core.  Each
// line becomes a record.
func (log *Log) Write(b []byte) (int, error) {
	str := strings.Trim(string(b), "\n")
	log.mx.Lock()
	for _, line := range strings.Split(str, "\n") {
		log.append(line)
	}
	log.wakeUp()
	log.mx.Unlock()
	return len(b), nil
}

// Sync lets a Log be used as a zapcore.WriteSyncer.
func (log *Log) Sync() error {
	return nil
}

// Append adds one record.
func (log *Log) Append(text string) {
	log.mx.Lock()
	log.append(text)
	log.wakeUp()
	log.mx.Unlock()
}

// append stores a record.  Call with the lock held.
func (log *Log) append(text string) {
	idx := log.numRecords % log.maxRecords
	log.id++
	log.records[idx] = LogRecord{Id: log.id, Time: time.Now(), Text: text}
	// NB: numRecords may actually be more than maxRecords.
	// In that case, we've looped, but we use this really to
	// track the next index.
	log.numRecords++
}

func (log *Log) wakeUp() {
	for cv := range log.cvs {
		cv.Broadcast()
	}
}

func (log *Log) Clear() {
	log.mx.Lock()
	log.numRecords = 0
	// We presume that we cannot add new records more quickly than
	// once every nanosecond.
	log.id = time.Now().UnixNano()
	log.wakeUp()
	log.mx.Unlock()
}

// GetRecords returns the records that are stored, as well as an ID
// suitable for use as an Etag.  If last is the ID returned by a previous
// call and nothing has changed since, nil is returned.
func (log *Log) GetRecords(last int64) ([]LogRecord, int64) {
	log.mx.Lock()
	defer log.mx.Unlock()
	if log.id == last {
		return nil, last
	}
	cnt := log.numRecords
	if cnt > log.maxRecords {
		cnt = log.maxRecords
	}
	recs := make([]LogRecord, 0, cnt)
	index := log.numRecords - cnt
	for j := 0; j < cnt; j++ {
		recs = append(recs, log.records[index%log.maxRecords])
		index++
	}
	return recs, log.id
}

// Watch waits until the log ID differs from last, or until expire has
// passed, and returns the current ID.  An expire of 0 is a plain poll.
func (log *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&log.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			log.mx.Lock()
			expired = true
			cv.Broadcast()
			log.mx.Unlock()
		})
	} else {
		expired = true
	}

	log.mx.Lock()
	log.cvs[cv] = true
	for log.id == last && !expired {
		cv.Wait()
	}
	delete(log.cvs, cv)
	last = log.id
	log.mx.Unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// NewLog returns a Log holding up to max records (MaxLogRecords if 0).
func NewLog(max int) *Log {
	if max <= 0 {
		max = MaxLogRecords
	}
	return &Log{
		records:    make([]LogRecord, max),
		maxRecords: max,
		id:         time.Now().UnixNano(),
		cvs:        make(map[*sync.Cond]bool),
	}
}
