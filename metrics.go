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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors shared by all supervisors of a
// process.  A nil *Metrics records nothing.
type Metrics struct {
	Starts   *prometheus.CounterVec
	Exits    *prometheus.CounterVec
	Restarts *prometheus.CounterVec
	Leaks    *prometheus.CounterVec
	State    *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Starts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appvisor",
			Name:      "starts_total",
			Help:      "Child process start attempts.",
		}, []string{"app"}),
		Exits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appvisor",
			Name:      "exits_total",
			Help:      "Child process exits, by kind (exit, signal, spawn).",
		}, []string{"app", "kind"}),
		Restarts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appvisor",
			Name:      "restarts_total",
			Help:      "Restarts granted by the restart policy.",
		}, []string{"app"}),
		Leaks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appvisor",
			Name:      "leaked_processes_total",
			Help:      "Processes that survived SIGKILL.",
		}, []string{"app"}),
		State: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "appvisor",
			Name:      "state",
			Help:      "Current supervisor state (0 stopped, 1 starting, 2 running, 3 exited, 4 restart pending).",
		}, []string{"app"}),
	}
}

func (m *Metrics) started(app string) {
	if m != nil {
		m.Starts.WithLabelValues(app).Inc()
	}
}

func (m *Metrics) exited(app string, o ExitOutcome) {
	if m == nil {
		return
	}
	kind := "exit"
	switch {
	case o.SpawnFailed():
		kind = "spawn"
	case o.Signaled:
		kind = "signal"
	}
	m.Exits.WithLabelValues(app, kind).Inc()
}

func (m *Metrics) restarted(app string) {
	if m != nil {
		m.Restarts.WithLabelValues(app).Inc()
	}
}

func (m *Metrics) leak(app string) {
	if m != nil {
		m.Leaks.WithLabelValues(app).Inc()
	}
}

func (m *Metrics) setState(app string, s State) {
	if m != nil {
		m.State.WithLabelValues(app).Set(float64(s))
	}
}
