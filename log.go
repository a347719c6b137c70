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

// Log keeps the most recent lines written to it in memory.  It is an
// io.Writer, so that it can sit behind a zap core; both the service and
// every job have one.
type Log struct {
	records []LogRecord
	written int
	id      int64
	cv      *sync.Cond
	mx      sync.Mutex
}

// Write stores each line of b as a separate record.
func (log *Log) Write(b []byte) (int, error) {
	text := strings.TrimRight(string(b), "\n")
	now := time.Now()
	log.mx.Lock()
	for _, line := range strings.Split(text, "\n") {
		log.id++
		log.records[log.written%len(log.records)] = LogRecord{
			Id:   log.id,
			Time: now,
			Text: line,
		}
		log.written++
	}
	log.cv.Broadcast()
	log.mx.Unlock()
	return len(b), nil
}

// Sync satisfies zapcore.WriteSyncer.
func (log *Log) Sync() error {
	return nil
}

// GetRecords returns the stored records, oldest first, and the id of the
// newest one, suitable for use as an Etag.  If last equals the current id
// nothing has changed, and nil is returned instead of the records.
func (log *Log) GetRecords(last int64) ([]LogRecord, int64) {
	log.mx.Lock()
	defer log.mx.Unlock()
	if log.id == last {
		return nil, last
	}
	n := log.written
	if n > len(log.records) {
		n = len(log.records)
	}
	recs := make([]LogRecord, 0, n)
	for i := log.written - n; i < log.written; i++ {
		recs = append(recs, log.records[i%len(log.records)])
	}
	return recs, log.id
}

// Watch waits until the log changes from the given id, or until expire
// has elapsed, and returns the current id.  An expire of zero polls.
func (log *Log) Watch(last int64, expire time.Duration) int64 {
	expired := expire <= 0
	var timer *time.Timer
	if !expired {
		timer = time.AfterFunc(expire, func() {
			log.mx.Lock()
			expired = true
			log.cv.Broadcast()
			log.mx.Unlock()
		})
	}

	log.mx.Lock()
	for log.id == last && !expired {
		log.cv.Wait()
	}
	last = log.id
	log.mx.Unlock()

	if timer != nil {
		timer.Stop()
	}
	return last
}

// NewLog returns a Log holding up to MaxLogRecords records.
func NewLog() *Log {
	return NewLogSize(MaxLogRecords)
}

// NewLogSize returns a Log holding up to n records.
func NewLogSize(n int) *Log {
	if n < 1 {
		n = MaxLogRecords
	}
	log := &Log{
		records: make([]LogRecord, n),
		id:      time.Now().UnixNano(),
	}
	log.cv = sync.NewCond(&log.mx)
	return log
}
