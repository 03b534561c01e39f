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

// Package appvisor keeps one long-running command alive.  A Supervisor
// launches the command, captures its standard output and error into
// append-only log files, and when the command exits, restarts it after a
// fixed delay, up to a bounded number of times.
//
// The restart decision is made in exactly one place, Decide, and is the
// same for every kind of exit: a clean exit, a crash, a signal, or a
// failure to spawn the process at all.  Only an explicit Restart resets
// the restart count.
//
// A Manager holds one Supervisor per application name, for programs
// (such as appvisord) that look after several applications.  Reading
// configuration files is left to the manifest package.
package appvisor
