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

package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cedadev/swallow"
	"github.com/cedadev/swallow/config"
	"github.com/cedadev/swallow/rest"
)

func zapcoreTo(w io.Writer) zapcore.Core {
	return zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(w), zapcore.DebugLevel)
}

func TestParse(t *testing.T) {
	Convey("Start takes its defaults", t, func() {
		var cli CLI
		p, e := parser(&cli)
		So(e, ShouldBeNil)
		ctx, e := p.Parse([]string{"start"})
		So(e, ShouldBeNil)
		So(ctx.Command(), ShouldEqual, "start")
		So(cli.Start.BindHost, ShouldEqual, "127.0.0.1")
		So(cli.Start.Hostname, ShouldEqual, "localhost")
		So(cli.Start.Port, ShouldEqual, 5000)
		So(cli.Start.Daemon, ShouldBeFalse)
		So(cli.Start.overrides(), ShouldBeEmpty)
	})

	Convey("Start flags become configuration overrides", t, func() {
		var cli CLI
		p, _ := parser(&cli)
		_, e := p.Parse([]string{"start", "-d", "-c", "my.cfg",
			"--log-level", "DEBUG", "--outputpath", "/data/out",
			"--maxsingleprocesses", "4", "--parallelprocesses", "1"})
		So(e, ShouldBeNil)
		So(cli.Start.Daemon, ShouldBeTrue)
		So(filepath.Base(cli.Config), ShouldEqual, "my.cfg")
		o := cli.Start.overrides()
		So(o["logging.level"], ShouldEqual, "DEBUG")
		So(o["server.outputpath"], ShouldEqual, "/data/out")
		So(o["server.maxsingleprocesses"], ShouldEqual, 4)
		So(o["server.parallelprocesses"], ShouldEqual, 1)
	})

	Convey("The client commands take the API URL", t, func() {
		var cli CLI
		p, _ := parser(&cli)
		_, e := p.Parse([]string{"log"})
		So(e, ShouldBeNil)
		So(cli.Log.URL, ShouldEqual, defaultAPI)
		So(cli.Log.Job, ShouldEqual, "")

		ctx, e := p.Parse([]string{"dismiss", "-u", "http://wps:8000/api", "abc"})
		So(e, ShouldBeNil)
		So(ctx.Command(), ShouldEqual, "dismiss <job>")
		So(cli.Dismiss.URL, ShouldEqual, "http://wps:8000/api")
		So(cli.Dismiss.Job, ShouldEqual, "abc")

		_, e = p.Parse([]string{"requests", "-n", "5"})
		So(e, ShouldBeNil)
		So(cli.Requests.Limit, ShouldEqual, 5)
		So(cli.Requests.UUID, ShouldEqual, "")
	})

	Convey("The admin API is local unless made public", t, func() {
		var cli CLI
		p, _ := parser(&cli)
		_, e := p.Parse([]string{"start", "-b", "0.0.0.0", "--public-api"})
		So(e, ShouldBeNil)
		So(cli.Start.PublicAPI, ShouldBeTrue)
		So(cli.Start.overrides()["server.publicapi"], ShouldEqual, true)
	})

	Convey("The PID file follows the configuration", t, func() {
		cli := &CLI{}
		cfg := &config.Config{}
		cfg.Logging.File = "/var/log/swallow/pywps.log"
		So(string(cli.pidFile(cfg)), ShouldEqual, "/var/log/swallow/pywps.pid")
		cfg.Logging.PidFile = "/run/swallow.pid"
		So(string(cli.pidFile(cfg)), ShouldEqual, "/run/swallow.pid")
		cli.PidFile = "x.pid"
		So(string(cli.pidFile(cfg)), ShouldEqual, "x.pid")
	})
}

func TestService(t *testing.T) {
	Convey("Given an assembled service", t, func() {
		dir := t.TempDir()
		cfg, e := config.Load(config.Options{
			Path: filepath.Join("..", "etc", "swallow.cfg"),
			Overrides: map[string]interface{}{
				"server.outputpath": filepath.Join(dir, "outputs"),
				"server.workdir":    filepath.Join(dir, "work"),
				"logging.database":  filepath.Join(dir, "requests.sqlite"),
				"logging.file":      "stdout",
			},
		})
		So(e, ShouldBeNil)
		log := swallow.NewLog()
		s, e := newService(cfg, zap.NewNop(), log)
		So(e, ShouldBeNil)
		ts := httptest.NewServer(s.handler)
		Reset(func() {
			ts.Close()
			s.mgr.Shutdown(context.Background())
			s.Close()
		})

		get := func(path string) (int, string) {
			res, e := http.Get(ts.URL + path)
			So(e, ShouldBeNil)
			defer res.Body.Close()
			b, _ := io.ReadAll(res.Body)
			return res.StatusCode, string(b)
		}

		Convey("GetCapabilities lists the processes", func() {
			code, body := get("/wps?service=WPS&request=GetCapabilities")
			So(code, ShouldEqual, 200)
			for _, id := range []string{"hello", "sleep", "run_name", "plot_name"} {
				So(body, ShouldContainSubstring, ">"+id+"<")
			}
		})

		Convey("A synchronous execute succeeds and is seen by the API", func() {
			code, body := get("/wps?service=WPS&request=Execute&version=1.0.0" +
				"&identifier=hello&DataInputs=name=Swallow")
			So(code, ShouldEqual, 200)
			So(body, ShouldContainSubstring, "Hello Swallow")

			c := rest.NewClient(nil, ts.URL+"/api")
			ids, e := c.Jobs()
			So(e, ShouldBeNil)
			So(len(ids), ShouldEqual, 1)
			j, e := c.GetJob(ids[0])
			So(e, ShouldBeNil)
			So(j.Process, ShouldEqual, "hello")
			So(j.Status, ShouldEqual, swallow.StatusSucceeded)
		})

		Convey("Metrics count the requests", func() {
			get("/wps?service=WPS&request=GetCapabilities")
			code, body := get("/metrics")
			So(code, ShouldEqual, 200)
			So(body, ShouldContainSubstring, "swallow_http_responses_total")
			So(body, ShouldContainSubstring, `swallow_requests_total{operation="GetCapabilities"`)
		})

		Convey("The request log is served", func() {
			code, _ := get("/wps?service=WPS&request=Execute&version=1.0.0" +
				"&identifier=hello&DataInputs=name=Swallow")
			So(code, ShouldEqual, 200)

			rs, e := rest.NewClient(nil, ts.URL+"/api").Requests(10)
			So(e, ShouldBeNil)
			So(len(rs), ShouldEqual, 1)
			So(rs[0].Identifier, ShouldEqual, "hello")
			So(rs[0].Status, ShouldEqual, "succeeded")
		})

		Convey("Remote clients cannot reach the admin API", func() {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/jobs/abc/dismiss", nil)
			req.RemoteAddr = "192.0.2.7:40000"
			s.handler.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusForbidden)

			w = httptest.NewRecorder()
			req = httptest.NewRequest("GET", "/wps?service=WPS&request=GetCapabilities", nil)
			req.RemoteAddr = "192.0.2.7:40000"
			s.handler.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Unknown paths are not found", func() {
			code, _ := get("/nowhere")
			So(code, ShouldEqual, 404)
		})
	})
}

func TestMiddleware(t *testing.T) {
	Convey("A panic becomes a 500", t, func() {
		h := recoverer(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("boom")
		}))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", "/wps", nil))
		So(w.Code, ShouldEqual, 500)
	})

	Convey("The access log sees the status", t, func() {
		var buf bytes.Buffer
		logger := zap.New(zapcoreTo(&buf))
		h := accessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "no", http.StatusTeapot)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/wps?x=1", nil))
		So(buf.String(), ShouldContainSubstring, `"status":418`)
		So(buf.String(), ShouldContainSubstring, "/wps?x=1")
	})

	Convey("Only loopback clients pass the guard", t, func() {
		h := loopbackOnly(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
		for addr, code := range map[string]int{
			"127.0.0.1:5000": http.StatusOK,
			"[::1]:5000":     http.StatusOK,
			"10.1.2.3:5000":  http.StatusForbidden,
			"not an address": http.StatusForbidden,
		} {
			w := httptest.NewRecorder()
			req := httptest.NewRequest("GET", "/api/info", nil)
			req.RemoteAddr = addr
			h.ServeHTTP(w, req)
			So(w.Code, ShouldEqual, code)
		}
	})

	Convey("Requests print on one line", t, func() {
		var buf bytes.Buffer
		end := time.Now()
		showRequest(&buf, &rest.Request{UUID: "abc", Identifier: "hello",
			Status: "succeeded", Percent: 100, Start: end.Add(-time.Minute),
			End: &end, Message: "done"})
		line := buf.String()
		So(strings.Count(line, "\n"), ShouldEqual, 1)
		So(line, ShouldContainSubstring, "succeeded")
		So(line, ShouldContainSubstring, "0:01:00")
	})

	Convey("Jobs print on one line", t, func() {
		var buf bytes.Buffer
		j := &rest.JobInfo{}
		j.ID = "abc"
		j.Process = "sleep"
		j.Status = swallow.StatusStarted
		j.Percent = 40
		j.Message = "sleeping"
		j.Started = time.Now().Add(-time.Minute)
		showJob(&buf, j, j.Started.Add(time.Minute))
		line := buf.String()
		So(strings.Count(line, "\n"), ShouldEqual, 1)
		So(line, ShouldContainSubstring, "started 40%")
		So(line, ShouldContainSubstring, "sleeping")
	})
}
