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
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zaptest"
)

type testP struct {
	desc *ProcessDescription
	run  func(ctx context.Context, req *Request, resp *Response) error
}

func (p *testP) Describe() *ProcessDescription {
	return p.desc
}

func (p *testP) Execute(ctx context.Context, req *Request, resp *Response) error {
	return p.run(ctx, req, resp)
}

func greeter() *testP {
	return &testP{
		desc: &ProcessDescription{
			Identifier: "greet",
			Title:      "Greeter",
			Inputs: []LiteralInput{
				{Identifier: "name", DataType: TypeString, MinOccurs: 1},
				{Identifier: "times", DataType: TypeInteger, Default: "1"},
			},
			Outputs: []Output{
				{Identifier: "output", Kind: LiteralOutput,
					DataType: TypeString},
			},
			StoreSupported:  true,
			StatusSupported: true,
		},
		run: func(ctx context.Context, req *Request, resp *Response) error {
			resp.UpdateStatus("greeting", 50)
			return resp.SetLiteral("output", "Hello "+req.String("name"))
		},
	}
}

// blocker runs until released, or until its context is cancelled.
type blocker struct {
	testP
	started chan string
	release chan struct{}
}

func newBlocker(id string) *blocker {
	b := &blocker{
		started: make(chan string, 10),
		release: make(chan struct{}),
	}
	b.desc = &ProcessDescription{
		Identifier:      id,
		StoreSupported:  true,
		StatusSupported: true,
	}
	b.run = func(ctx context.Context, req *Request, resp *Response) error {
		b.started <- req.JobID
		select {
		case <-b.release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return b
}

func SetTestLogger(t *testing.T, m *Manager) {
	m.SetLogger(zaptest.NewLogger(t))
	m.SetWorkdir(t.TempDir(), true)
}

func exceptionCode(e error) ExceptionCode {
	var x *Exception
	if errors.As(e, &x) {
		return x.Code
	}
	return ""
}

type testSink struct {
	infos []*JobInfo
	sync.Mutex
}

func (s *testSink) WriteStatus(ctx context.Context, i *JobInfo) error {
	s.Lock()
	s.infos = append(s.infos, i)
	s.Unlock()
	return nil
}

func (s *testSink) statuses() []Status {
	s.Lock()
	defer s.Unlock()
	var rv []Status
	for _, i := range s.infos {
		if len(rv) == 0 || rv[len(rv)-1] != i.Status {
			rv = append(rv, i.Status)
		}
	}
	return rv
}

type testOutputs struct {
	dir     string
	removed []string
	sync.Mutex
}

func (o *testOutputs) Store(ctx context.Context, job, name, path string) (string, error) {
	b, e := os.ReadFile(path)
	if e != nil {
		return "", e
	}
	dst := filepath.Join(o.dir, job+"-"+name)
	if e := os.WriteFile(dst, b, 0o644); e != nil {
		return "", e
	}
	return "http://localhost/outputs/" + job + "/" + name, nil
}

func (o *testOutputs) RemoveJob(ctx context.Context, job string) error {
	o.Lock()
	o.removed = append(o.removed, job)
	o.Unlock()
	return nil
}

func TestManagerProcesses(t *testing.T) {
	Convey("Processes can be registered and found", t, func() {
		m := NewManager("TestManagerProcesses")
		SetTestLogger(t, m)
		So(m.AddProcess(greeter()), ShouldBeNil)
		So(m.AddProcess(newBlocker("block")), ShouldBeNil)
		So(m.AddProcess(greeter()), ShouldEqual, ErrDuplicate)

		ps := m.Processes()
		So(len(ps), ShouldEqual, 2)
		So(ps[0].Describe().Identifier, ShouldEqual, "block")
		So(ps[1].Describe().Identifier, ShouldEqual, "greet")

		p, e := m.FindProcess("greet")
		So(e, ShouldBeNil)
		So(p.Describe().Title, ShouldEqual, "Greeter")
		_, e = m.FindProcess("nope")
		So(e, ShouldEqual, ErrNoProcess)

		So(m.GetInfo().Processes, ShouldResemble, []string{"block", "greet"})
	})
}

func TestSubmitSync(t *testing.T) {
	Convey("A synchronous job finishes before Submit returns", t, func() {
		m := NewManager("TestSubmitSync")
		SetTestLogger(t, m)
		So(m.AddProcess(greeter()), ShouldBeNil)

		j, e := m.Submit(context.Background(), "greet",
			[]Input{{Identifier: "name", Value: "World"}}, SubmitOptions{})
		So(e, ShouldBeNil)
		So(j, ShouldNotBeNil)

		i := j.Info()
		So(i.Status, ShouldEqual, StatusSucceeded)
		So(i.Percent, ShouldEqual, 100)
		So(i.Async, ShouldBeFalse)
		So(len(i.Outputs), ShouldEqual, 1)
		So(i.Outputs[0].Data, ShouldEqual, "Hello World")
		So(i.Inputs, ShouldResemble, []Input{{Identifier: "name", Value: "World"}})
		So(i.Exception(), ShouldBeNil)

		select {
		case <-j.Done():
		default:
			So("job not done", ShouldBeEmpty)
		}

		Convey("And its working directory is gone", func() {
			_, e := os.Stat(j.workdir)
			So(os.IsNotExist(e), ShouldBeTrue)
		})

		Convey("And it can be found", func() {
			f, e := m.FindJob(j.ID())
			So(e, ShouldBeNil)
			So(f, ShouldEqual, j)
			_, e = m.FindJob("missing")
			So(e, ShouldEqual, ErrNoJob)
			jobs, _, _ := m.Jobs()
			So(len(jobs), ShouldEqual, 1)
		})

		Convey("And it logged into its own log", func() {
			recs, _ := j.GetLog(0)
			So(len(recs), ShouldBeGreaterThan, 0)
		})
	})
}

func TestSubmitInvalid(t *testing.T) {
	Convey("Invalid inputs never create a job", t, func() {
		m := NewManager("TestSubmitInvalid")
		SetTestLogger(t, m)
		So(m.AddProcess(greeter()), ShouldBeNil)
		ctx := context.Background()

		_, e := m.Submit(ctx, "greet", nil, SubmitOptions{})
		So(exceptionCode(e), ShouldEqual, MissingParameterValue)

		_, e = m.Submit(ctx, "greet", []Input{
			{Identifier: "name", Value: "x"},
			{Identifier: "times", Value: "many"},
		}, SubmitOptions{})
		So(exceptionCode(e), ShouldEqual, InvalidParameterValue)
		So(AsException(e).Locator, ShouldEqual, "times")

		_, e = m.Submit(ctx, "greet", []Input{
			{Identifier: "bogus", Value: "x"},
		}, SubmitOptions{})
		So(exceptionCode(e), ShouldEqual, InvalidParameterValue)

		_, e = m.Submit(ctx, "nope", nil, SubmitOptions{})
		So(exceptionCode(e), ShouldEqual, InvalidParameterValue)

		_, e = m.Submit(ctx, "greet",
			[]Input{{Identifier: "name", Value: "x"}},
			SubmitOptions{Outputs: []OutputRequest{{Identifier: "nope"}}})
		So(exceptionCode(e), ShouldEqual, InvalidParameterValue)

		jobs, _, _ := m.Jobs()
		So(len(jobs), ShouldEqual, 0)
	})

	Convey("Storing needs process support", t, func() {
		m := NewManager("TestSubmitStore")
		SetTestLogger(t, m)
		p := greeter()
		p.desc.StoreSupported = false
		p.desc.StatusSupported = false
		So(m.AddProcess(p), ShouldBeNil)
		in := []Input{{Identifier: "name", Value: "x"}}

		_, e := m.Submit(context.Background(), "greet", in,
			SubmitOptions{Store: true})
		So(exceptionCode(e), ShouldEqual, StorageNotSupported)
		_, e = m.Submit(context.Background(), "greet", in,
			SubmitOptions{Async: true})
		So(exceptionCode(e), ShouldEqual, InvalidParameterValue)
	})
}

func TestSubmitFailures(t *testing.T) {
	Convey("Process failures are recorded in the job", t, func() {
		m := NewManager("TestSubmitFailures")
		SetTestLogger(t, m)

		p := greeter()
		p.run = func(context.Context, *Request, *Response) error {
			return errors.New("Injected failure")
		}
		So(m.AddProcess(p), ShouldBeNil)

		x := newBlocker("exception")
		x.run = func(context.Context, *Request, *Response) error {
			return InvalidParameter("bbox", "The bounding box is too big")
		}
		So(m.AddProcess(x), ShouldBeNil)

		y := newBlocker("panic")
		y.run = func(context.Context, *Request, *Response) error {
			panic("boom")
		}
		So(m.AddProcess(y), ShouldBeNil)

		ctx := context.Background()

		j, e := m.Submit(ctx, "greet", []Input{{Identifier: "name", Value: "x"}},
			SubmitOptions{})
		So(e, ShouldBeNil)
		i := j.Info()
		So(i.Status, ShouldEqual, StatusFailed)
		So(i.Code, ShouldEqual, NoApplicableCode)
		So(i.Error, ShouldEqual, "Injected failure")

		j, e = m.Submit(ctx, "exception", nil, SubmitOptions{})
		So(e, ShouldBeNil)
		i = j.Info()
		So(i.Status, ShouldEqual, StatusFailed)
		So(i.Code, ShouldEqual, InvalidParameterValue)
		So(i.Locator, ShouldEqual, "bbox")
		So(i.Exception().Text, ShouldEqual, "The bounding box is too big")

		j, e = m.Submit(ctx, "panic", nil, SubmitOptions{})
		So(e, ShouldBeNil)
		i = j.Info()
		So(i.Status, ShouldEqual, StatusFailed)
		So(i.Code, ShouldEqual, NoApplicableCode)
		So(i.Error, ShouldContainSubstring, "boom")
	})
}

func TestServerBusy(t *testing.T) {
	Convey("Synchronous jobs are limited", t, func() {
		m := NewManager("TestServerBusy")
		SetTestLogger(t, m)
		m.SetLimits(1, 0)
		b := newBlocker("block")
		So(m.AddProcess(b), ShouldBeNil)

		done := make(chan *Job)
		go func() {
			j, _ := m.Submit(context.Background(), "block", nil,
				SubmitOptions{})
			done <- j
		}()
		<-b.started

		_, e := m.Submit(context.Background(), "block", nil, SubmitOptions{})
		So(exceptionCode(e), ShouldEqual, ServerBusy)

		close(b.release)
		j := <-done
		So(j.Info().Status, ShouldEqual, StatusSucceeded)

		j, e = m.Submit(context.Background(), "block", nil, SubmitOptions{})
		So(e, ShouldBeNil)
		So(j.Info().Status, ShouldEqual, StatusSucceeded)
	})
}

func TestAsyncQueue(t *testing.T) {
	Convey("Asynchronous jobs wait for a slot", t, func() {
		m := NewManager("TestAsyncQueue")
		SetTestLogger(t, m)
		m.SetLimits(0, 1)
		sink := &testSink{}
		m.SetStatusSink(sink)
		b := newBlocker("block")
		So(m.AddProcess(b), ShouldBeNil)
		ctx := context.Background()

		j1, e := m.Submit(ctx, "block", nil, SubmitOptions{Async: true})
		So(e, ShouldBeNil)
		So(<-b.started, ShouldEqual, j1.ID())

		j2, e := m.Submit(ctx, "block", nil, SubmitOptions{Async: true})
		So(e, ShouldBeNil)
		time.Sleep(time.Millisecond * 20)
		So(j2.Status(), ShouldEqual, StatusAccepted)
		So(j1.Status(), ShouldEqual, StatusStarted)
		So(m.GetInfo().Queued, ShouldEqual, 1)
		So(m.GetInfo().Running, ShouldEqual, 1)

		b.release <- struct{}{}
		So(j1.Wait(ctx), ShouldBeNil)
		So(<-b.started, ShouldEqual, j2.ID())
		b.release <- struct{}{}
		So(j2.Wait(ctx), ShouldBeNil)

		So(j1.Info().Status, ShouldEqual, StatusSucceeded)
		So(j2.Info().Status, ShouldEqual, StatusSucceeded)
		So(j2.Info().Stored, ShouldBeTrue)

		statuses := sink.statuses()
		So(statuses[0], ShouldEqual, StatusAccepted)
		So(statuses[len(statuses)-1], ShouldEqual, StatusSucceeded)
	})
}

func TestDismiss(t *testing.T) {
	Convey("Dismissing jobs", t, func() {
		m := NewManager("TestDismiss")
		SetTestLogger(t, m)
		m.SetLimits(0, 1)
		b := newBlocker("block")
		So(m.AddProcess(b), ShouldBeNil)
		ctx := context.Background()

		j1, e := m.Submit(ctx, "block", nil, SubmitOptions{Async: true})
		So(e, ShouldBeNil)
		<-b.started
		j2, e := m.Submit(ctx, "block", nil, SubmitOptions{Async: true})
		So(e, ShouldBeNil)

		Convey("A queued job never starts", func() {
			So(m.Dismiss(j2.ID()), ShouldBeNil)
			So(j2.Wait(ctx), ShouldBeNil)
			So(j2.Info().Status, ShouldEqual, StatusDismissed)
			So(m.Dismiss(j2.ID()), ShouldEqual, ErrJobFinished)

			So(m.Dismiss(j1.ID()), ShouldBeNil)
			So(j1.Wait(ctx), ShouldBeNil)
			So(j1.Info().Status, ShouldEqual, StatusDismissed)
			So(len(b.started), ShouldEqual, 0)
		})

		Convey("A running job is cancelled", func() {
			So(m.Dismiss(j1.ID()), ShouldBeNil)
			So(j1.Wait(ctx), ShouldBeNil)
			i := j1.Info()
			So(i.Status, ShouldEqual, StatusDismissed)
			So(i.Message, ShouldEqual, "Process dismissed")

			// the slot is free again
			So(<-b.started, ShouldEqual, j2.ID())
			close(b.release)
			So(j2.Wait(ctx), ShouldBeNil)
			So(j2.Info().Status, ShouldEqual, StatusSucceeded)
		})

		Convey("Unknown jobs cannot be dismissed", func() {
			So(m.Dismiss("missing"), ShouldEqual, ErrNoJob)
			So(m.Shutdown(ctx), ShouldBeNil)
		})
	})
}

func TestProgress(t *testing.T) {
	Convey("Progress never goes backwards", t, func() {
		m := NewManager("TestProgress")
		SetTestLogger(t, m)
		sink := &testSink{}
		m.SetStatusSink(sink)
		p := greeter()
		p.run = func(ctx context.Context, req *Request, resp *Response) error {
			resp.UpdateStatus("a", 40)
			resp.UpdateStatus("b", 20)
			resp.UpdateStatus("c", 150)
			return resp.SetLiteral("output", "x")
		}
		So(m.AddProcess(p), ShouldBeNil)

		j, e := m.Submit(context.Background(), "greet",
			[]Input{{Identifier: "name", Value: "x"}},
			SubmitOptions{Store: true})
		So(e, ShouldBeNil)
		So(j.Info().Status, ShouldEqual, StatusSucceeded)

		last := -1
		sink.Lock()
		for _, i := range sink.infos {
			So(i.Percent, ShouldBeGreaterThanOrEqualTo, last)
			last = i.Percent
		}
		sink.Unlock()
		So(last, ShouldEqual, 100)
	})
}

func TestWatchSerial(t *testing.T) {
	Convey("Watchers see changes", t, func() {
		m := NewManager("TestWatchSerial")
		SetTestLogger(t, m)
		b := newBlocker("block")
		So(m.AddProcess(b), ShouldBeNil)

		s := m.Serial()
		So(m.WatchSerial(s, 0), ShouldEqual, s)

		ls := m.WatchJobs(0, 0)
		result := make(chan int64)
		go func() {
			result <- m.WatchJobs(ls, time.Second*5)
		}()
		j, e := m.Submit(context.Background(), "block", nil,
			SubmitOptions{Async: true})
		So(e, ShouldBeNil)
		So(<-result, ShouldBeGreaterThan, ls)
		So(m.Serial(), ShouldBeGreaterThan, s)

		js := j.Serial()
		go func() {
			result <- j.Watch(js, time.Second*5)
		}()
		close(b.release)
		So(<-result, ShouldBeGreaterThan, js)
		So(j.Wait(context.Background()), ShouldBeNil)

		Convey("And time out when nothing happens", func() {
			s := m.Serial()
			start := time.Now()
			So(m.WatchSerial(s, time.Millisecond*50), ShouldEqual, s)
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo,
				time.Millisecond*50)
		})
	})
}

func TestOutputsByReference(t *testing.T) {
	Convey("Complex outputs are stored or inlined", t, func() {
		m := NewManager("TestOutputsByReference")
		SetTestLogger(t, m)
		outs := &testOutputs{dir: t.TempDir()}
		m.SetOutputStore(outs)

		p := &testP{
			desc: &ProcessDescription{
				Identifier: "files",
				Outputs: []Output{
					{Identifier: "zip", Kind: ComplexOutput,
						Formats: []string{"application/zip"},
						AsReference: true},
					{Identifier: "text", Kind: ComplexOutput,
						Formats: []string{"text/plain"}},
				},
				StoreSupported: true,
			},
			run: func(ctx context.Context, req *Request, resp *Response) error {
				path := filepath.Join(req.Workdir, "out.zip")
				if e := os.WriteFile(path, []byte("PK"), 0o644); e != nil {
					return e
				}
				if e := resp.SetFile("zip", path, ""); e != nil {
					return e
				}
				return resp.SetData("text", "some text", "text/plain")
			},
		}
		So(m.AddProcess(p), ShouldBeNil)

		j, e := m.Submit(context.Background(), "files", nil, SubmitOptions{})
		So(e, ShouldBeNil)
		i := j.Info()
		So(i.Status, ShouldEqual, StatusSucceeded)
		So(len(i.Outputs), ShouldEqual, 2)
		So(i.Outputs[0].Href, ShouldEqual,
			"http://localhost/outputs/"+j.ID()+"/out.zip")
		So(i.Outputs[0].MimeType, ShouldEqual, "application/zip")
		So(i.Outputs[1].Data, ShouldEqual, "some text")
		So(i.Outputs[1].Href, ShouldBeEmpty)

		Convey("Requested outputs override the defaults", func() {
			j, e := m.Submit(context.Background(), "files", nil,
				SubmitOptions{Outputs: []OutputRequest{
					{Identifier: "zip"},
				}})
			So(e, ShouldBeNil)
			i := j.Info()
			So(len(i.Outputs), ShouldEqual, 1)
			So(i.Outputs[0].Href, ShouldBeEmpty)
			So(i.Outputs[0].Encoding, ShouldEqual, "base64")
			So(i.Outputs[0].Data, ShouldEqual, "UEs=")
		})

		Convey("Purge forgets the jobs and their outputs", func() {
			So(m.Purge(context.Background(), time.Hour), ShouldEqual, 0)
			So(m.Purge(context.Background(), 0), ShouldEqual, 1)
			jobs, _, _ := m.Jobs()
			So(len(jobs), ShouldEqual, 0)
			So(outs.removed, ShouldResemble, []string{j.ID()})
		})
	})
}

func TestShutdown(t *testing.T) {
	Convey("Shutdown fails unfinished jobs", t, func() {
		m := NewManager("TestShutdown")
		SetTestLogger(t, m)
		b := newBlocker("block")
		So(m.AddProcess(b), ShouldBeNil)
		ctx := context.Background()

		j, e := m.Submit(ctx, "block", nil, SubmitOptions{Async: true})
		So(e, ShouldBeNil)
		<-b.started

		So(m.StartPurging(time.Hour, time.Hour), ShouldBeNil)
		So(m.Shutdown(ctx), ShouldBeNil)
		i := j.Info()
		So(i.Status, ShouldEqual, StatusFailed)
		So(i.Error, ShouldEqual, ErrShuttingDown.Error())

		_, e = m.Submit(ctx, "block", nil, SubmitOptions{})
		So(e, ShouldEqual, ErrShuttingDown)
	})
}
