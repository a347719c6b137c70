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

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/cedadev/swallow"
)

func TestRecorder(t *testing.T) {
	Convey("Job transitions are counted", t, func() {
		r := NewRecorder(nil)
		r.JobTransition("sleep", "", swallow.StatusAccepted, 0)
		r.JobTransition("sleep", "", swallow.StatusAccepted, 0)
		So(testutil.ToFloat64(r.current.WithLabelValues("accepted")), ShouldEqual, 2)

		r.JobTransition("sleep", swallow.StatusAccepted, swallow.StatusStarted, 0)
		So(testutil.ToFloat64(r.current.WithLabelValues("accepted")), ShouldEqual, 1)
		So(testutil.ToFloat64(r.current.WithLabelValues("started")), ShouldEqual, 1)

		r.JobTransition("sleep", swallow.StatusStarted, swallow.StatusSucceeded,
			time.Second)
		r.JobTransition("sleep", swallow.StatusAccepted, swallow.StatusDismissed, 0)
		So(testutil.ToFloat64(r.current.WithLabelValues("accepted")), ShouldEqual, 0)
		So(testutil.ToFloat64(r.current.WithLabelValues("started")), ShouldEqual, 0)
		So(testutil.ToFloat64(r.outcomes.WithLabelValues("sleep", "succeeded")),
			ShouldEqual, 1)
		So(testutil.ToFloat64(r.outcomes.WithLabelValues("sleep", "dismissed")),
			ShouldEqual, 1)
		So(testutil.CollectAndCount(r.duration), ShouldEqual, 1)

		r.IncRequest("Execute", "ok")
		So(testutil.ToFloat64(r.requests.WithLabelValues("Execute", "ok")),
			ShouldEqual, 1)

		Convey("And served", func() {
			w := httptest.NewRecorder()
			r.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
			b, _ := io.ReadAll(w.Body)
			So(string(b), ShouldContainSubstring, "swallow_job_outcomes_total")
		})
	})

	Convey("The middleware counts responses", t, func() {
		r := NewRecorder(nil)
		h := r.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			So(testutil.ToFloat64(r.inflight), ShouldEqual, 1)
			w.WriteHeader(http.StatusTeapot)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/wps", nil))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/wps", nil))
		So(testutil.ToFloat64(r.http.WithLabelValues("418", "get")), ShouldEqual, 2)
		So(testutil.ToFloat64(r.inflight), ShouldEqual, 0)
	})

	Convey("A nil recorder records nothing", t, func() {
		var r *Recorder
		r.IncRequest("Execute", "ok")
		r.JobTransition("x", "", swallow.StatusAccepted, 0)
		w := httptest.NewRecorder()
		r.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
		So(w.Code, ShouldEqual, 404)
	})
}
