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
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	"github.com/gdamore/appvisor"
)

// Handler wraps a Manager, adding http.Handler functionality.
type Handler struct {
	m        *appvisor.Manager
	r        *mux.Router
	user     string
	hash     []byte
	gatherer prometheus.Gatherer
}

type HandlerOption func(*Handler)

// WithBasicAuth requires HTTP basic authentication on every request.
// The password is checked against hash, as made by bcrypt.
func WithBasicAuth(user string, hash []byte) HandlerOption {
	return func(h *Handler) {
		h.user = user
		h.hash = hash
	}
}

// WithGatherer serves the gathered metrics at /metrics.
func WithGatherer(g prometheus.Gatherer) HandlerOption {
	return func(h *Handler) {
		h.gatherer = g
	}
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func formatEtag(serial int64) string {
	return strconv.FormatInt(serial, 16)
}

func parseEtag(s string) (int64, bool) {
	v, e := strconv.ParseInt(s, 16, 64)
	return v, e == nil
}

// poll implements the long-poll protocol.  If the client asked to wait
// for a change from an Etag that is still current, watch is used to wait
// for a change (or timeout).  The result is the serial to report.
func poll(r *http.Request, cur int64, watch func(int64, time.Duration) int64) int64 {
	old, ok := parseEtag(r.Header.Get(PollEtagHeader))
	if !ok || old != cur {
		return cur
	}
	secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if e != nil || secs <= 0 {
		return cur
	}
	if secs > MaxPollTime {
		secs = MaxPollTime
	}
	return watch(old, time.Duration(secs)*time.Second)
}

// notModified sets the Etag, and returns true (having written a 304) if
// the client already holds this version.
func notModified(w http.ResponseWriter, r *http.Request, serial int64) bool {
	etag := formatEtag(serial)
	w.Header().Set("Etag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}

func (h *Handler) getManager(w http.ResponseWriter, r *http.Request) {
	serial := poll(r, h.m.Serial(), h.m.WatchSerial)
	if notModified(w, r, serial) {
		return
	}
	i := h.m.GetInfo()
	h.writeJson(w, &ManagerInfo{
		Name:       i.Name,
		CreateTime: i.CreateTime,
		UpdateTime: i.UpdateTime,
	})
}

func (h *Handler) listApps(w http.ResponseWriter, r *http.Request) {
	_, serial, _ := h.m.Supervisors()
	serial = poll(r, serial, h.m.WatchSupervisors)
	if notModified(w, r, serial) {
		return
	}
	svcs, _, _ := h.m.Supervisors()
	l := make([]string, 0, len(svcs))
	for _, svc := range svcs {
		l = append(l, svc.Name())
	}
	h.writeJson(w, l)
}

func (h *Handler) findApp(name string) (*appvisor.Supervisor, *Error) {
	svc, e := h.m.Find(name)
	if e != nil {
		return nil, &Error{http.StatusNotFound, "Application not found"}
	}
	return svc, nil
}

func (h *Handler) getApp(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["app"]
	svc, e := h.findApp(name)
	if e != nil {
		e.write(w)
		return
	}
	serial := poll(r, h.m.SupervisorSerial(name),
		func(old int64, d time.Duration) int64 {
			return h.m.WatchSupervisor(name, old, d)
		})
	if notModified(w, r, serial) {
		return
	}
	h.writeJson(w, newAppInfo(svc))
}

// actionError maps a control failure to an HTTP status.
func actionError(err error) *Error {
	var ce *appvisor.ConfigError
	var te *appvisor.ShutdownTimeoutError
	switch {
	case errors.As(err, &ce):
		return &Error{http.StatusBadRequest, err.Error()}
	case errors.Is(err, appvisor.ErrIsRunning),
		errors.Is(err, appvisor.ErrLeaked):
		return &Error{http.StatusConflict, err.Error()}
	case errors.As(err, &te):
		return &Error{http.StatusInternalServerError, err.Error()}
	}
	return &Error{http.StatusBadRequest, err.Error()}
}

func (h *Handler) appAction(action func(*appvisor.Supervisor) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc, e := h.findApp(mux.Vars(r)["app"]); e != nil {
			e.write(w)
		} else if err := action(svc); err != nil {
			actionError(err).write(w)
		} else {
			h.writeJson(w, ok)
		}
	}
}

func (h *Handler) getAppLog(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["app"]
	_, id, err := h.m.GetSupervisorLog(name, 0)
	if err != nil {
		(&Error{http.StatusNotFound, "Application not found"}).write(w)
		return
	}
	id = poll(r, id, func(old int64, d time.Duration) int64 {
		v, _ := h.m.WatchSupervisorLog(name, old, d)
		return v
	})
	if notModified(w, r, id) {
		return
	}
	recs, _, _ := h.m.GetSupervisorLog(name, 0)
	h.writeJson(w, recs)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	_, id := h.m.GetLog(0)
	id = poll(r, id, h.m.WatchLog)
	if notModified(w, r, id) {
		return
	}
	recs, _ := h.m.GetLog(0)
	h.writeJson(w, recs)
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(h.user)) != 1 ||
			bcrypt.CompareHashAndPassword(h.hash, []byte(pass)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="appvisor"`)
			(&Error{http.StatusUnauthorized, "Unauthorized"}).write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

func NewHandler(m *appvisor.Manager, opts ...HandlerOption) *Handler {
	r := mux.NewRouter()
	h := &Handler{m: m, r: r}
	for _, opt := range opts {
		opt(h)
	}
	if h.user != "" {
		r.Use(h.authenticate)
	}
	r.HandleFunc("/", h.getManager).Methods("GET")
	r.HandleFunc("/apps", h.listApps).Methods("GET")
	r.HandleFunc("/apps/{app}", h.getApp).Methods("GET")
	r.HandleFunc("/apps/{app}/start", h.appAction(
		(*appvisor.Supervisor).Start)).Methods("POST")
	r.HandleFunc("/apps/{app}/stop", h.appAction(
		(*appvisor.Supervisor).Stop)).Methods("POST")
	r.HandleFunc("/apps/{app}/restart", h.appAction(
		(*appvisor.Supervisor).Restart)).Methods("POST")
	r.HandleFunc("/apps/{app}/clear", h.appAction(
		(*appvisor.Supervisor).Clear)).Methods("POST")
	r.HandleFunc("/apps/{app}/log", h.getAppLog).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer,
			promhttp.HandlerOpts{})).Methods("GET")
	}
	return h
}
