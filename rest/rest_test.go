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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zaptest"

	"github.com/cedadev/swallow"
	"github.com/cedadev/swallow/processes"
	"github.com/cedadev/swallow/store"
)

func newTestServer(t *testing.T) (*swallow.Manager, *httptest.Server) {
	m := swallow.NewManager("test")
	m.SetLogger(zaptest.NewLogger(t))
	m.SetWorkdir(t.TempDir(), true)
	if e := processes.Register(m, processes.Config{}); e != nil {
		t.Fatal(e)
	}
	mux := http.NewServeMux()
	mux.Handle("/api/", NewHandler(m, "/api"))
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m, srv
}

func submit(m *swallow.Manager, id string, async bool, kv ...string) *swallow.Job {
	var inputs []swallow.Input
	for i := 0; i+1 < len(kv); i += 2 {
		inputs = append(inputs, swallow.Input{Identifier: kv[i], Value: kv[i+1]})
	}
	j, e := m.Submit(context.Background(), id, inputs,
		swallow.SubmitOptions{Async: async})
	So(e, ShouldBeNil)
	return j
}

func TestClient(t *testing.T) {
	Convey("Given a server and a client", t, func() {
		m, srv := newTestServer(t)
		c := NewClient(nil, srv.URL+"/api/")

		Convey("Info describes the manager", func() {
			info, e := c.Info(context.Background(), nil, 0)
			So(e, ShouldBeNil)
			So(info.Name, ShouldEqual, "test")
			So(info.Processes, ShouldContain, "plot_name")
			So(info.etag, ShouldNotEqual, "")
		})

		Convey("Jobs are listed", func() {
			ids, e := c.Jobs()
			So(e, ShouldBeNil)
			So(ids, ShouldBeEmpty)

			j := submit(m, "hello", false, "name", "Alice")
			ids, e = c.Jobs()
			So(e, ShouldBeNil)
			So(ids, ShouldResemble, []string{j.ID()})

			info, e := c.GetJob(j.ID())
			So(e, ShouldBeNil)
			So(info.Status, ShouldEqual, swallow.StatusSucceeded)
			So(info.Outputs[0].Data, ShouldEqual, "Hello Alice")

			Convey("And cached", func() {
				again, e := c.GetJob(j.ID())
				So(e, ShouldBeNil)
				So(again, ShouldEqual, info)
			})

			Convey("Finished jobs cannot be dismissed", func() {
				e := c.DismissJob(j.ID())
				So(e, ShouldNotBeNil)
				So(e.(*Error).Code, ShouldEqual, http.StatusConflict)
			})

			Convey("The job log is served", func() {
				l, e := c.GetLog(j.ID())
				So(e, ShouldBeNil)
				So(l.Records, ShouldNotBeEmpty)
			})
		})

		Convey("Unknown jobs are not found", func() {
			_, e := c.GetJob("nope")
			So(e, ShouldNotBeNil)
			So(e.(*Error).Code, ShouldEqual, http.StatusNotFound)
			So(e.Error(), ShouldEqual, "Job not found")
		})

		Convey("Watching a job sees it finish", func() {
			j := submit(m, "sleep", true, "delay", "0.2")
			info, e := c.GetJob(j.ID())
			So(e, ShouldBeNil)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
			defer cancel()
			for !info.Status.Finished() {
				info, e = c.WatchJob(ctx, j.ID(), info)
				So(e, ShouldBeNil)
			}
			So(info.Status, ShouldEqual, swallow.StatusSucceeded)
		})

		Convey("Running jobs can be dismissed", func() {
			j := submit(m, "sleep", true, "delay", "30")
			So(c.DismissJob(j.ID()), ShouldBeNil)
			info, e := c.GetJob(j.ID())
			So(e, ShouldBeNil)
			So(info.Status, ShouldEqual, swallow.StatusDismissed)
		})
	})
}

func TestLongPoll(t *testing.T) {
	Convey("A long poll returns when the list changes", t, func() {
		m, srv := newTestServer(t)
		res, e := http.Get(srv.URL + "/api/jobs")
		So(e, ShouldBeNil)
		res.Body.Close()
		tag := res.Header.Get("Etag")
		So(tag, ShouldNotEqual, "")

		go func() {
			time.Sleep(time.Millisecond * 100)
			m.Submit(context.Background(), "hello",
				[]swallow.Input{{Identifier: "name", Value: "x"}},
				swallow.SubmitOptions{})
		}()
		req, _ := http.NewRequest("GET", srv.URL+"/api/jobs", nil)
		req.Header.Set("If-None-Match", tag)
		req.Header.Set(PollEtagHeader, tag)
		req.Header.Set(PollTimeHeader, "10")
		start := time.Now()
		res, e = http.DefaultClient.Do(req)
		So(e, ShouldBeNil)
		res.Body.Close()
		So(res.StatusCode, ShouldEqual, http.StatusOK)
		So(res.Header.Get("Etag"), ShouldNotEqual, tag)
		So(time.Since(start), ShouldBeLessThan, time.Second*10)
	})

	Convey("An unchanged resource is not modified", t, func() {
		_, srv := newTestServer(t)
		res, e := http.Get(srv.URL + "/api/info")
		So(e, ShouldBeNil)
		res.Body.Close()
		req, _ := http.NewRequest("GET", srv.URL+"/api/info", nil)
		req.Header.Set("If-None-Match", res.Header.Get("Etag"))
		res, e = http.DefaultClient.Do(req)
		So(e, ShouldBeNil)
		res.Body.Close()
		So(res.StatusCode, ShouldEqual, http.StatusNotModified)
	})
}

func TestRequests(t *testing.T) {
	Convey("Given a server with a request log", t, func() {
		db, e := store.Open(":memory:")
		So(e, ShouldBeNil)
		Reset(func() { db.Close() })
		ctx := context.Background()
		start := time.Now().Add(-time.Hour)
		for i, id := range []string{"first", "second", "third"} {
			So(db.Insert(ctx, &store.Request{UUID: id, Pid: 1,
				Operation: "execute", Version: "1.0.0",
				TimeStart: start.Add(time.Duration(i) * time.Minute),
				Identifier: "hello", Status: store.StatusAccepted}), ShouldBeNil)
		}
		So(db.Update(ctx, &store.Request{UUID: "second", Pid: 1,
			Operation: "execute", Version: "1.0.0", TimeStart: start,
			TimeEnd: start.Add(time.Minute * 5), Identifier: "hello",
			Message: "done", PercentDone: 100,
			Status: store.StatusSucceeded}), ShouldBeNil)

		m := swallow.NewManager("test")
		h := NewHandler(m, "/api")
		h.SetRequestLog(db)
		srv := httptest.NewServer(h)
		Reset(srv.Close)
		c := NewClient(nil, srv.URL+"/api")

		Convey("The newest requests come first", func() {
			rs, e := c.Requests(2)
			So(e, ShouldBeNil)
			So(len(rs), ShouldEqual, 2)
			So(rs[0].UUID, ShouldEqual, "third")
			So(rs[0].Status, ShouldEqual, "accepted")
			So(rs[0].End, ShouldBeNil)

			all, e := c.Requests(0)
			So(e, ShouldBeNil)
			So(len(all), ShouldEqual, 3)
		})

		Convey("A single request is served", func() {
			r, e := c.GetRequest("second")
			So(e, ShouldBeNil)
			So(r.Status, ShouldEqual, "succeeded")
			So(r.Message, ShouldEqual, "done")
			So(r.Percent, ShouldEqual, 100)
			So(r.End, ShouldNotBeNil)
		})

		Convey("Unknown requests are not found", func() {
			_, e := c.GetRequest("nope")
			So(e, ShouldNotBeNil)
			So(e.(*Error).Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Bad limits are refused", func() {
			res, e := http.Get(srv.URL + "/api/requests?limit=x")
			So(e, ShouldBeNil)
			res.Body.Close()
			So(res.StatusCode, ShouldEqual, http.StatusBadRequest)
		})
	})

	Convey("Without a request log there are no requests", t, func() {
		_, srv := newTestServer(t)
		_, e := NewClient(nil, srv.URL+"/api").Requests(10)
		So(e, ShouldNotBeNil)
		So(e.(*Error).Code, ShouldEqual, http.StatusNotFound)
	})
}
