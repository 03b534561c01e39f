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
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/multierr"
)

const (
	// TimestampFormat is ISO-8601 with millisecond resolution.
	TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

	// MaxLineLength bounds how much of an unterminated line we hold
	// before writing it out anyway.
	MaxLineLength = 64 * 1024
)

// Stream identifies one of the two output streams of a child.
type Stream int

const (
	StreamOut Stream = iota
	StreamErr
)

func (s Stream) String() string {
	if s == StreamErr {
		return "err"
	}
	return "out"
}

// logFile is a single open file.  Every write is a whole line (or a
// batch of whole lines) and happens under mx, so lines from different
// writers never splice.
type logFile struct {
	path   string
	f      *os.File
	closed bool
	mx     sync.Mutex
}

func openLogFile(path string) (*logFile, error) {
	if e := os.MkdirAll(filepath.Dir(path), 0755); e != nil {
		return nil, e
	}
	f, e := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if e != nil {
		return nil, e
	}
	return &logFile{path: path, f: f}, nil
}

func (lf *logFile) write(b []byte) error {
	lf.mx.Lock()
	defer lf.mx.Unlock()
	if lf.closed {
		return os.ErrClosed
	}
	_, e := lf.f.Write(b)
	return e
}

func (lf *logFile) close() error {
	lf.mx.Lock()
	defer lf.mx.Unlock()
	if lf.closed {
		return nil
	}
	lf.closed = true
	return lf.f.Close()
}

// LogSink is the durable destination for a child's output.  It owns one
// file, or two when the streams are not merged.  The handles stay open
// across restarts and are released by Close.
type LogSink struct {
	dest    LogDestination
	out     *logFile
	err     *logFile
	streams [2]*StreamWriter
	now     func() time.Time
	mx      sync.Mutex
	closed  bool
}

// OpenLogSink opens the destination files in append mode, creating any
// missing parent directories.  A failure here is a ConfigError: we never
// run a child that has nowhere to put its output.
func OpenLogSink(name string, dest LogDestination) (*LogSink, error) {
	ls := &LogSink{dest: dest, now: time.Now}
	out, e := openLogFile(dest.OutFile)
	if e != nil {
		return nil, &ConfigError{Name: name,
			Reason: "cannot open output log " + dest.OutFile, Err: e}
	}
	ls.out = out
	if dest.Merge || dest.ErrFile == dest.OutFile {
		ls.err = out
	} else if ls.err, e = openLogFile(dest.ErrFile); e != nil {
		out.close()
		return nil, &ConfigError{Name: name,
			Reason: "cannot open error log " + dest.ErrFile, Err: e}
	}
	ls.streams[StreamOut] = ls.Writer(StreamOut)
	ls.streams[StreamErr] = ls.Writer(StreamErr)
	return ls, nil
}

// Destination returns the destination the sink was opened with.
func (ls *LogSink) Destination() LogDestination {
	return ls.dest
}

// Write appends b to the given stream.  Partial lines are held until
// their newline arrives.
func (ls *LogSink) Write(s Stream, b []byte) (int, error) {
	return ls.streams[s].Write(b)
}

// Writer returns a new io.Writer for the stream with its own line
// buffer.  Independent producers should each have their own Writer so
// that their partial lines are never joined together.
func (ls *LogSink) Writer(s Stream) *StreamWriter {
	f := ls.out
	if s == StreamErr {
		f = ls.err
	}
	return &StreamWriter{sink: ls, file: f}
}

// Flush writes out any partial lines held for the default stream
// writers, terminating them with a newline.
func (ls *LogSink) Flush() error {
	return multierr.Combine(
		ls.streams[StreamOut].Flush(),
		ls.streams[StreamErr].Flush())
}

// Close flushes and releases the file handles.  It is safe to call more
// than once.
func (ls *LogSink) Close() error {
	ls.mx.Lock()
	if ls.closed {
		ls.mx.Unlock()
		return nil
	}
	ls.closed = true
	ls.mx.Unlock()

	e := ls.Flush()
	e = multierr.Append(e, ls.out.close())
	if ls.err != ls.out {
		e = multierr.Append(e, ls.err.close())
	}
	return e
}

func (ls *LogSink) stamp(line []byte) []byte {
	if !ls.dest.Timestamps {
		return line
	}
	ts := ls.now().Format(TimestampFormat)
	b := make([]byte, 0, len(ts)+2+len(line))
	b = append(b, ts...)
	b = append(b, ':', ' ')
	return append(b, line...)
}

// StreamWriter splits what it is given into lines, stamps them, and
// writes each line to the underlying file in one piece.
type StreamWriter struct {
	sink    *LogSink
	file    *logFile
	pending []byte
	mx      sync.Mutex
}

func (w *StreamWriter) Write(b []byte) (int, error) {
	w.mx.Lock()
	defer w.mx.Unlock()

	n := len(b)
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			w.pending = append(w.pending, b...)
			if len(w.pending) >= MaxLineLength {
				w.pending = append(w.pending, '\n')
				if e := w.emit(); e != nil {
					return n - len(b), e
				}
			}
			break
		}
		w.pending = append(w.pending, b[:i+1]...)
		b = b[i+1:]
		if e := w.emit(); e != nil {
			return n - len(b), e
		}
	}
	return n, nil
}

// Flush writes a held partial line, if any.
func (w *StreamWriter) Flush() error {
	w.mx.Lock()
	defer w.mx.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	w.pending = append(w.pending, '\n')
	return w.emit()
}

// Sync satisfies zapcore.WriteSyncer.
func (w *StreamWriter) Sync() error {
	return nil
}

// emit writes the pending line.  Call with w.mx held.
func (w *StreamWriter) emit() error {
	e := w.file.write(w.sink.stamp(w.pending))
	w.pending = w.pending[:0]
	return e
}
