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

// Package util is used for internal implementation bits in the CLI/UI.
package util

import (
	"fmt"
	"sort"
	"time"

	"github.com/cedadev/swallow"
	"github.com/cedadev/swallow/rest"
)

// Since is how long the job has been in its current state.
func Since(j *rest.JobInfo, now time.Time) time.Duration {
	t := j.Created
	switch {
	case !j.Finished.IsZero():
		t = j.Finished
	case !j.Started.IsZero():
		t = j.Started
	}
	d := now.Sub(t)
	// for printing second resolution is sufficient
	return d - d%time.Second
}

// Progress is the status with the percentage for running jobs.
func Progress(j *rest.JobInfo) string {
	if j.Status == swallow.StatusStarted {
		return fmt.Sprintf("%s %d%%", j.Status, j.Percent)
	}
	return string(j.Status)
}

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

func rank(s swallow.Status) int {
	switch s {
	case swallow.StatusFailed:
		return 0
	case swallow.StatusStarted:
		return 1
	case swallow.StatusAccepted:
		return 2
	}
	return 3
}

type sorted []*rest.JobInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

// Less puts failed jobs first, then running and queued ones, then the
// rest, newest first within each group.
func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	if ra, rb := rank(a.Status), rank(b.Status); ra != rb {
		return ra < rb
	}
	if !a.Created.Equal(b.Created) {
		return a.Created.After(b.Created)
	}
	return a.ID < b.ID
}

func SortJobs(items []*rest.JobInfo) {
	sort.Sort(sorted(items))
}
