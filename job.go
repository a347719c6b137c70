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

package swallow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Status is the state of a job.
//
//	                +------------+
//	                |            |
//	     +----------+  Accepted  +----------+
//	     |          |            |          |
//	     |          +-----+------+          |
//	     |                |                 |
//	     |          +-----V------+          |
//	     |          |            |          |
//	     |    +-----+  Started   +-----+    |
//	     |    |     |            |     |    |
//	     |    |     +-----+------+     |    |
//	     |    |           |            |    |
//	+----V----V-+   +-----V------+   +-V----V----+
//	|           |   |            |   |           |
//	|  Failed   |   | Succeeded  |   | Dismissed |
//	|           |   |            |   |           |
//	+-----------+   +------------+   +-----------+
//
// Accepted jobs are waiting for a slot.  Failed, Succeeded and Dismissed
// are final.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusStarted   Status = "started"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusDismissed Status = "dismissed"
)

// Finished reports whether the status is final.
func (s Status) Finished() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusDismissed:
		return true
	}
	return false
}

// Job is one execution of a process.  Jobs are created by Manager.Submit
// and are protected by the lock of the Manager.
type Job struct {
	id       string
	proc     Process
	desc     *ProcessDescription
	mgr      *Manager
	req      *Request
	resp     *Response
	async    bool
	store    bool
	want     []OutputRequest
	status   Status
	percent  int
	message  string
	err      *Exception
	created  time.Time
	started  time.Time
	finished time.Time
	serial   int64
	outputs  []OutputValue
	workdir  string
	ctx      context.Context
	cancel   context.CancelFunc
	log      *Log
	logger   *zap.Logger
	done     chan struct{}

	// publishing is serialized, so that sinks see changes in order
	pubmx sync.Mutex
}

// JobInfo is a consistent snapshot of a job.
type JobInfo struct {
	ID       string        `json:"id"`
	Process  string        `json:"process"`
	Status   Status        `json:"status"`
	Message  string        `json:"message"`
	Percent  int           `json:"percent"`
	Async    bool          `json:"async"`
	Stored   bool          `json:"stored"`
	Error    string        `json:"error,omitempty"`
	Code     ExceptionCode `json:"code,omitempty"`
	Locator  string        `json:"locator,omitempty"`
	Created  time.Time     `json:"created"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Inputs   []Input       `json:"inputs,omitempty"`
	Outputs  []OutputValue `json:"outputs,omitempty"`
	Serial   int64         `json:"serial,string"`
}

// Exception returns the failure of the job, or nil.
func (i *JobInfo) Exception() *Exception {
	if i.Code == "" {
		return nil
	}
	return &Exception{Code: i.Code, Locator: i.Locator, Text: i.Error}
}

func (j *Job) ID() string {
	return j.id
}

// Process returns the identifier of the process.
func (j *Job) Process() string {
	return j.desc.Identifier
}

func (j *Job) Description() *ProcessDescription {
	return j.desc
}

// info is called with the manager lock held.
func (j *Job) info() *JobInfo {
	i := &JobInfo{
		ID:       j.id,
		Process:  j.desc.Identifier,
		Status:   j.status,
		Message:  j.message,
		Percent:  j.percent,
		Async:    j.async,
		Stored:   j.store,
		Created:  j.created,
		Started:  j.started,
		Finished: j.finished,
		Inputs:   j.req.Inputs(),
		Outputs:  append([]OutputValue{}, j.outputs...),
		Serial:   j.serial,
	}
	if j.err != nil {
		i.Error = j.err.Text
		i.Code = j.err.Code
		i.Locator = j.err.Locator
	}
	return i
}

// Info returns a snapshot of the job.
func (j *Job) Info() *JobInfo {
	j.mgr.lock()
	defer j.mgr.unlock()
	return j.info()
}

func (j *Job) Status() Status {
	j.mgr.lock()
	defer j.mgr.unlock()
	return j.status
}

// Serial returns the serial of the last change.
func (j *Job) Serial() int64 {
	j.mgr.lock()
	defer j.mgr.unlock()
	return j.serial
}

// Done is closed once the process has returned.  A dismissed job is
// finished immediately, but Done closes only when its process notices.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait waits for the job to finish, or for ctx to expire.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetLog returns the log of the job.
func (j *Job) GetLog(last int64) ([]LogRecord, int64) {
	return j.log.GetRecords(last)
}

// WatchLog waits for the log of the job to change.
func (j *Job) WatchLog(last int64, expire time.Duration) int64 {
	return j.log.Watch(last, expire)
}

// update applies fn under the manager lock, and if fn reports a change,
// bumps the serial and publishes the new state.
func (j *Job) update(fn func() bool) bool {
	j.pubmx.Lock()
	defer j.pubmx.Unlock()

	m := j.mgr
	m.lock()
	from := j.status
	if !fn() {
		m.unlock()
		return false
	}
	j.serial = m.bumpSerial()
	info := j.info()
	m.unlock()

	if info.Status != from && m.recorder != nil {
		var d time.Duration
		if info.Status.Finished() && !info.Started.IsZero() {
			d = info.Finished.Sub(info.Started)
		}
		m.recorder.JobTransition(info.Process, from, info.Status, d)
	}
	m.publish(info)
	return true
}

// Watch waits for the job to change from the given serial, or for
// expire to elapse, and returns the current serial.
func (j *Job) Watch(old int64, expire time.Duration) int64 {
	return j.mgr.watchSerial(old, &j.serial, expire)
}

func (j *Job) progress(message string, percent int) {
	j.update(func() bool {
		if j.status != StatusStarted {
			return false
		}
		if percent > j.percent {
			j.percent = percent
		}
		j.message = message
		return true
	})
	j.logger.Debug("progress", zap.String("message", message),
		zap.Int("percent", percent))
}

func (j *Job) start() bool {
	return j.update(func() bool {
		if j.status != StatusAccepted {
			return false
		}
		j.status = StatusStarted
		j.started = time.Now()
		j.message = "Process started"
		return true
	})
}

func (j *Job) finish(outputs []OutputValue, err error) bool {
	return j.update(func() bool {
		if j.status.Finished() {
			return false
		}
		j.finished = time.Now()
		if err != nil {
			j.status = StatusFailed
			j.err = AsException(err)
			j.message = j.err.Text
			return true
		}
		j.status = StatusSucceeded
		j.percent = 100
		j.outputs = outputs
		j.message = "Process " + j.desc.Identifier + " finished"
		return true
	})
}

func (j *Job) dismiss() bool {
	done := j.update(func() bool {
		if j.status.Finished() {
			return false
		}
		j.status = StatusDismissed
		j.finished = time.Now()
		j.message = "Process dismissed"
		return true
	})
	if done {
		j.cancel()
	}
	return done
}
