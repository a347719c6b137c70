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

// Package rest is the JSON administration API of a swallow server, and a
// client for it.  Every GET carries an Etag.  A client that sends the
// Etag it holds in PollEtagHeader, together with a number of seconds in
// PollTimeHeader, is held until the resource changes or the time is up.
package rest

import (
	"time"

	"github.com/cedadev/swallow"
	"github.com/cedadev/swallow/store"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	PollEtagHeader = "X-Swallow-Poll-Etag"
	PollTimeHeader = "X-Swallow-Poll-Time"

	// MaxPollTime caps the seconds a request may wait.
	MaxPollTime = 600
)

var ok struct{}

// ManagerInfo is returned by GET /info.
type ManagerInfo struct {
	swallow.ManagerInfo
	etag string
}

// JobInfo is returned by GET /jobs/{id}.
type JobInfo struct {
	swallow.JobInfo
	etag string
}

// Request is an entry of the request log, returned by GET /requests.
type Request struct {
	UUID       string     `json:"uuid"`
	Pid        int        `json:"pid"`
	Operation  string     `json:"operation"`
	Version    string     `json:"version"`
	Identifier string     `json:"identifier"`
	Status     string     `json:"status"`
	Percent    float64    `json:"percent_done"`
	Message    string     `json:"message,omitempty"`
	Start      time.Time  `json:"time_start"`
	End        *time.Time `json:"time_end,omitempty"`
}

func newRequest(r *store.Request) *Request {
	rv := &Request{
		UUID:       r.UUID,
		Pid:        r.Pid,
		Operation:  r.Operation,
		Version:    r.Version,
		Identifier: r.Identifier,
		Status:     store.StatusName(r.Status),
		Percent:    r.PercentDone,
		Message:    r.Message,
		Start:      r.TimeStart,
	}
	if !r.TimeEnd.IsZero() {
		end := r.TimeEnd
		rv.End = &end
	}
	return rv
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}
