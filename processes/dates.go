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

package processes

import (
	"time"
)

func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NumDates estimates how many plots a group of a run produces.  Start
// and end are inclusive dates.  A 3-hourly run has eight fields a day
// when nothing is summarised.  The result is at least one.
func NumDates(start, end time.Time, summarise, runType string) int {
	start, end = day(start), day(end)
	if end.Before(start) {
		return 1
	}
	days := int(end.Sub(start).Hours()/24) + 1

	n := 1
	switch summarise {
	case "NA", "":
		n = days
		if runType == "3-hourly" {
			n = days * 8
		}
	case "day":
		n = days
	case "week":
		weeks := make(map[[2]int]bool)
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			y, w := d.ISOWeek()
			weeks[[2]int{y, w}] = true
		}
		n = len(weeks)
	case "month":
		months := make(map[[2]int]bool)
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			months[[2]int{d.Year(), int(d.Month())}] = true
		}
		n = len(months)
	}
	if n < 1 {
		n = 1
	}
	return n
}
