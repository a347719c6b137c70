// Copyright 2026 The Swallow Authors
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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cedadev/swallow"
	"github.com/cedadev/swallow/store"
)

// DefaultRequestLimit is how many requests GET /requests returns when
// the client gives no limit.
const DefaultRequestLimit = 50

// RequestLog is the persistent record of requests.
type RequestLog interface {
	Get(ctx context.Context, uuid string) (*store.Request, error)
	List(ctx context.Context, limit int) ([]*store.Request, error)
}

// Handler wraps a Manager, adding http.Handler functionality.
type Handler struct {
	m    *swallow.Manager
	r    *mux.Router
	reqs RequestLog
}

// SetRequestLog serves the request log under /requests.  Without one
// those paths are not found.
func (h *Handler) SetRequestLog(l RequestLog) {
	h.reqs = l
}

func etag(serial int64) string {
	return `"` + strconv.FormatInt(serial, 16) + `"`
}

// pollTime returns how long the request wants to wait, if the Etag it
// holds is still current.
func pollTime(r *http.Request, current string) time.Duration {
	if r.Header.Get(PollEtagHeader) != current {
		return 0
	}
	secs, e := strconv.Atoi(r.Header.Get(PollTimeHeader))
	if e != nil || secs <= 0 {
		return 0
	}
	if secs > MaxPollTime {
		secs = MaxPollTime
	}
	return time.Duration(secs) * time.Second
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

// writeTagged writes v with its Etag, or 304 when the client has it.
func (h *Handler) writeTagged(w http.ResponseWriter, r *http.Request, tag string, v interface{}) {
	w.Header().Set("Etag", tag)
	if r.Header.Get("If-None-Match") == tag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.writeJson(w, v)
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	info := h.m.GetInfo()
	if d := pollTime(r, etag(info.Serial)); d > 0 {
		h.m.WatchSerial(info.Serial, d)
		info = h.m.GetInfo()
	}
	h.writeTagged(w, r, etag(info.Serial), info)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, serial, _ := h.m.Jobs()
	if d := pollTime(r, etag(serial)); d > 0 {
		h.m.WatchJobs(serial, d)
		jobs, serial, _ = h.m.Jobs()
	}
	l := make([]string, 0, len(jobs))
	for _, j := range jobs {
		l = append(l, j.ID())
	}
	h.writeTagged(w, r, etag(serial), l)
}

func (h *Handler) findJob(id string) (*swallow.Job, *Error) {
	j, e := h.m.FindJob(id)
	if e != nil {
		return nil, &Error{http.StatusNotFound, "Job not found"}
	}
	return j, nil
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	j, e := h.findJob(mux.Vars(r)["job"])
	if e != nil {
		h.writeError(w, e)
		return
	}
	info := j.Info()
	if d := pollTime(r, etag(info.Serial)); d > 0 {
		j.Watch(info.Serial, d)
		info = j.Info()
	}
	h.writeTagged(w, r, etag(info.Serial), info)
}

func (h *Handler) dismissJob(w http.ResponseWriter, r *http.Request) {
	j, e := h.findJob(mux.Vars(r)["job"])
	if e != nil {
		h.writeError(w, e)
		return
	}
	if err := h.m.Dismiss(j.ID()); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, swallow.ErrJobFinished) {
			code = http.StatusConflict
		}
		h.writeError(w, &Error{code, err.Error()})
		return
	}
	h.writeJson(w, ok)
}

type logSource interface {
	GetLog(last int64) ([]swallow.LogRecord, int64)
	WatchLog(old int64, expire time.Duration) int64
}

func (h *Handler) writeLog(w http.ResponseWriter, r *http.Request, src logSource) {
	records, id := src.GetLog(0)
	if d := pollTime(r, etag(id)); d > 0 {
		src.WatchLog(id, d)
		records, id = src.GetLog(0)
	}
	h.writeTagged(w, r, etag(id), records)
}

func (h *Handler) getJobLog(w http.ResponseWriter, r *http.Request) {
	j, e := h.findJob(mux.Vars(r)["job"])
	if e != nil {
		h.writeError(w, e)
		return
	}
	h.writeLog(w, r, j)
}

func (h *Handler) getLog(w http.ResponseWriter, r *http.Request) {
	h.writeLog(w, r, h.m)
}

func (h *Handler) listRequests(w http.ResponseWriter, r *http.Request) {
	if h.reqs == nil {
		h.writeError(w, &Error{http.StatusNotFound, "No request log"})
		return
	}
	limit := DefaultRequestLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, e := strconv.Atoi(v)
		if e != nil || n < 0 {
			h.writeError(w, &Error{http.StatusBadRequest, "Bad limit"})
			return
		}
		limit = n
	}
	rs, e := h.reqs.List(r.Context(), limit)
	if e != nil {
		h.internalError(w, e)
		return
	}
	l := make([]*Request, 0, len(rs))
	for _, req := range rs {
		l = append(l, newRequest(req))
	}
	h.writeJson(w, l)
}

func (h *Handler) getRequest(w http.ResponseWriter, r *http.Request) {
	if h.reqs == nil {
		h.writeError(w, &Error{http.StatusNotFound, "No request log"})
		return
	}
	req, e := h.reqs.Get(r.Context(), mux.Vars(r)["uuid"])
	if errors.Is(e, store.ErrNotFound) {
		h.writeError(w, &Error{http.StatusNotFound, "Request not found"})
		return
	}
	if e != nil {
		h.internalError(w, e)
		return
	}
	h.writeJson(w, newRequest(req))
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// NewHandler returns the API for the manager.  The prefix is where the
// handler is mounted, such as "/api", and may be empty.
func NewHandler(m *swallow.Manager, prefix string) *Handler {
	root := mux.NewRouter()
	h := &Handler{m: m, r: root}
	r := root
	if prefix != "" {
		r = root.PathPrefix(prefix).Subrouter()
	}
	r.HandleFunc("/info", h.getInfo).Methods("GET")
	r.HandleFunc("/jobs", h.listJobs).Methods("GET")
	r.HandleFunc("/jobs/{job}", h.getJob).Methods("GET")
	r.HandleFunc("/jobs/{job}/dismiss", h.dismissJob).Methods("POST")
	r.HandleFunc("/jobs/{job}/log", h.getJobLog).Methods("GET")
	r.HandleFunc("/log", h.getLog).Methods("GET")
	r.HandleFunc("/requests", h.listRequests).Methods("GET")
	r.HandleFunc("/requests/{uuid}", h.getRequest).Methods("GET")
	return h
}
