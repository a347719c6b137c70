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

package wps

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/zap/zaptest"

	"github.com/cedadev/swallow"
	"github.com/cedadev/swallow/metrics"
	"github.com/cedadev/swallow/processes"
	"github.com/cedadev/swallow/storage"
)

type testService struct {
	mgr     *swallow.Manager
	srv     *Server
	http    *httptest.Server
	outputs string
}

func newTestService(t *testing.T) *testService {
	m := swallow.NewManager("swallow")
	m.SetLogger(zaptest.NewLogger(t))
	m.SetWorkdir(t.TempDir(), true)
	if e := processes.Register(m, processes.Config{}); e != nil {
		t.Fatal(e)
	}
	dir := filepath.Join(t.TempDir(), "outputs")
	fs, e := storage.NewFileStorage(dir, "http://localhost:5000/outputs")
	if e != nil {
		t.Fatal(e)
	}
	m.SetOutputStore(fs)
	s := NewServer(m, Options{
		URL:            "http://localhost:5000/wps",
		MaxRequestSize: 2048,
		Storage:        fs,
		Metrics:        metrics.NewRecorder(nil),
		Logger:         zaptest.NewLogger(t),
	})
	m.SetStatusSink(s)
	r := mux.NewRouter()
	s.Register(r, "/outputs/")
	ts := &testService{mgr: m, srv: s, http: httptest.NewServer(r),
		outputs: dir}
	t.Cleanup(func() {
		ts.http.Close()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		m.Shutdown(ctx)
	})
	return ts
}

func (ts *testService) get(query string) (int, string) {
	r, e := http.Get(ts.http.URL + "/wps?" + query)
	So(e, ShouldBeNil)
	defer r.Body.Close()
	b, _ := io.ReadAll(r.Body)
	return r.StatusCode, string(b)
}

func (ts *testService) post(body string) (int, string) {
	r, e := http.Post(ts.http.URL+"/wps", "text/xml", strings.NewReader(body))
	So(e, ShouldBeNil)
	defer r.Body.Close()
	b, _ := io.ReadAll(r.Body)
	return r.StatusCode, string(b)
}

// report decodes an exception report by local names.
type report struct {
	Exceptions []struct {
		Code    string `xml:"exceptionCode,attr"`
		Locator string `xml:"locator,attr"`
		Text    string `xml:"ExceptionText"`
	} `xml:"Exception"`
}

func exception(body string) (string, string) {
	var r report
	So(xml.Unmarshal([]byte(body), &r), ShouldBeNil)
	So(r.Exceptions, ShouldHaveLength, 1)
	return r.Exceptions[0].Code, r.Exceptions[0].Locator
}

// response decodes the parts of an execute response the tests look at.
type response struct {
	StatusLocation string `xml:"statusLocation,attr"`
	Status         struct {
		Accepted  *string `xml:"ProcessAccepted"`
		Started   *string `xml:"ProcessStarted"`
		Succeeded *string `xml:"ProcessSucceeded"`
		Failed    *report `xml:"ProcessFailed>ExceptionReport"`
	} `xml:"Status"`
	Inputs  []string `xml:"DataInputs>Input>Identifier"`
	Outputs []struct {
		Identifier string `xml:"Identifier"`
		Literal    string `xml:"Data>LiteralData"`
		Reference  struct {
			Href string `xml:"href,attr"`
		} `xml:"Reference"`
	} `xml:"ProcessOutputs>Output"`
}

func decodeResponse(body string) *response {
	var r response
	So(xml.Unmarshal([]byte(body), &r), ShouldBeNil)
	return &r
}

func TestGetCapabilities(t *testing.T) {
	Convey("Given a WPS server", t, func() {
		ts := newTestService(t)

		Convey("Capabilities list the processes", func() {
			code, body := ts.get("service=WPS&request=GetCapabilities&version=1.0.0")
			So(code, ShouldEqual, http.StatusOK)
			So(body, ShouldStartWith, xml.Header)
			So(body, ShouldContainSubstring, "<wps:Capabilities")
			So(body, ShouldContainSubstring, `xlink:href="http://localhost:5000/wps"`)
			for _, id := range []string{"hello", "sleep", "run_name", "plot_name"} {
				So(body, ShouldContainSubstring,
					"<ows:Identifier>"+id+"</ows:Identifier>")
			}
		})

		Convey("Keys are case insensitive", func() {
			code, _ := ts.get("SERVICE=wps&Request=getcapabilities")
			So(code, ShouldEqual, http.StatusOK)
		})

		Convey("The service is required", func() {
			code, body := ts.get("request=GetCapabilities")
			So(code, ShouldEqual, http.StatusBadRequest)
			c, l := exception(body)
			So(c, ShouldEqual, "MissingParameterValue")
			So(l, ShouldEqual, "service")
		})

		Convey("Unknown requests are refused", func() {
			code, body := ts.get("service=WPS&request=Frobnicate")
			So(code, ShouldEqual, http.StatusBadRequest)
			c, l := exception(body)
			So(c, ShouldEqual, "OperationNotSupported")
			So(l, ShouldEqual, "Frobnicate")
		})

		Convey("Versions are negotiated", func() {
			code, body := ts.get("service=WPS&request=GetCapabilities&acceptversions=2.0.0")
			So(code, ShouldEqual, http.StatusBadRequest)
			c, _ := exception(body)
			So(c, ShouldEqual, "VersionNegotiationFailed")
		})

		Convey("Capabilities can be posted", func() {
			code, body := ts.post(`<wps:GetCapabilities service="WPS"
				xmlns:wps="http://www.opengis.net/wps/1.0.0"
				xmlns:ows="http://www.opengis.net/ows/1.1">
				<wps:AcceptVersions><ows:Version>1.0.0</ows:Version></wps:AcceptVersions>
				</wps:GetCapabilities>`)
			So(code, ShouldEqual, http.StatusOK)
			So(body, ShouldContainSubstring, "<wps:Capabilities")
		})
	})
}

func TestDescribeProcess(t *testing.T) {
	Convey("Given a WPS server", t, func() {
		ts := newTestService(t)

		Convey("Processes are described", func() {
			code, body := ts.get("service=WPS&request=DescribeProcess&version=1.0.0&identifier=run_name")
			So(code, ShouldEqual, http.StatusOK)
			So(body, ShouldContainSubstring, "<wps:ProcessDescriptions")
			So(body, ShouldContainSubstring, `storeSupported="true"`)
			So(body, ShouldContainSubstring, `<Input minOccurs="1" maxOccurs="4">`)
			So(body, ShouldContainSubstring, "<ows:Value>3-hourly</ows:Value>")
			So(body, ShouldContainSubstring, "<MimeType>application/x-zipped-shp</MimeType>")
			So(body, ShouldNotContainSubstring, "<ows:Identifier>hello</ows:Identifier>")
		})

		Convey("All processes are described", func() {
			_, body := ts.get("service=WPS&request=DescribeProcess&version=1.0.0&identifier=all")
			So(strings.Count(body, "</ProcessDescription>"), ShouldEqual, 4)
		})

		Convey("Unknown processes are refused", func() {
			code, body := ts.get("service=WPS&request=DescribeProcess&version=1.0.0&identifier=hello,nope")
			So(code, ShouldEqual, http.StatusBadRequest)
			c, l := exception(body)
			So(c, ShouldEqual, "InvalidParameterValue")
			So(l, ShouldEqual, "identifier")
		})

		Convey("The version is required", func() {
			_, body := ts.get("service=WPS&request=DescribeProcess&identifier=hello")
			c, l := exception(body)
			So(c, ShouldEqual, "MissingParameterValue")
			So(l, ShouldEqual, "version")
			_, body = ts.get("service=WPS&request=DescribeProcess&version=2.0.0&identifier=hello")
			c, l = exception(body)
			So(c, ShouldEqual, "InvalidParameterValue")
			So(l, ShouldEqual, "version")
		})
	})
}

func TestExecute(t *testing.T) {
	Convey("Given a WPS server", t, func() {
		ts := newTestService(t)
		const execute = "service=WPS&request=Execute&version=1.0.0"

		Convey("Synchronous execution returns the outputs", func() {
			code, body := ts.get(execute + "&identifier=hello&DataInputs=name=Alice")
			So(code, ShouldEqual, http.StatusOK)
			r := decodeResponse(body)
			So(r.Status.Succeeded, ShouldNotBeNil)
			So(r.StatusLocation, ShouldEqual, "")
			So(r.Outputs, ShouldHaveLength, 1)
			So(r.Outputs[0].Literal, ShouldEqual, "Hello Alice")
		})

		Convey("Form encoded inputs are accepted", func() {
			_, body := ts.get(execute + "&identifier=hello&DataInputs=name%3DBob%3Bx")
			c, l := exception(body)
			So(c, ShouldEqual, "InvalidParameterValue")
			So(l, ShouldEqual, "DataInputs")

			_, body = ts.get(execute + "&identifier=hello&DataInputs=name%3DBob%2BJr")
			So(decodeResponse(body).Outputs[0].Literal, ShouldEqual, "Hello Bob+Jr")
		})

		Convey("Raw output is returned as is", func() {
			code, body := ts.get(execute + "&identifier=hello&DataInputs=name=Alice&RawDataOutput=output")
			So(code, ShouldEqual, http.StatusOK)
			So(body, ShouldEqual, "Hello Alice")
		})

		Convey("Missing inputs are refused", func() {
			code, body := ts.get(execute + "&identifier=hello")
			So(code, ShouldEqual, http.StatusBadRequest)
			c, l := exception(body)
			So(c, ShouldEqual, "MissingParameterValue")
			So(l, ShouldEqual, "name")
			jobs, _, _ := ts.mgr.Jobs()
			So(jobs, ShouldBeEmpty)
		})

		Convey("Status requires storage", func() {
			_, body := ts.get(execute + "&identifier=sleep&status=true")
			c, l := exception(body)
			So(c, ShouldEqual, "InvalidParameterValue")
			So(l, ShouldEqual, "status")
		})

		Convey("Process failures are reported", func() {
			code, body := ts.get(execute + "&identifier=run_name&DataInputs=" +
				"title=t;longitude=0;latitude=0;timestamp=daily;" +
				"startdate=2018-01-05T00:00:00Z;enddate=2018-01-01T00:00:00Z")
			So(code, ShouldEqual, http.StatusBadRequest)
			c, l := exception(body)
			So(c, ShouldEqual, "InvalidParameterValue")
			So(l, ShouldEqual, "enddate")
		})

		Convey("Asynchronous execution publishes a status document", func() {
			code, body := ts.get(execute + "&identifier=sleep&DataInputs=delay=0.05" +
				"&storeExecuteResponse=true&status=true")
			So(code, ShouldEqual, http.StatusOK)
			r := decodeResponse(body)
			So(r.Status.Succeeded, ShouldBeNil)
			So(r.StatusLocation, ShouldStartWith, "http://localhost:5000/outputs/")

			jobs, _, _ := ts.mgr.Jobs()
			So(jobs, ShouldHaveLength, 1)
			ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
			defer cancel()
			So(jobs[0].Wait(ctx), ShouldBeNil)
			So(r.StatusLocation, ShouldEndWith, jobs[0].ID()+".xml")

			b, e := os.ReadFile(filepath.Join(ts.outputs, jobs[0].ID()+".xml"))
			So(e, ShouldBeNil)
			doc := decodeResponse(string(b))
			So(doc.Status.Succeeded, ShouldNotBeNil)
			So(doc.Outputs[0].Literal, ShouldEqual, "done sleeping")

			Convey("Which is served", func() {
				res, e := http.Get(ts.http.URL + "/outputs/" + jobs[0].ID() + ".xml")
				So(e, ShouldBeNil)
				res.Body.Close()
				So(res.StatusCode, ShouldEqual, http.StatusOK)
			})
		})

		Convey("Execute can be posted", func() {
			code, body := ts.post(`<?xml version="1.0" encoding="UTF-8"?>
<wps:Execute service="WPS" version="1.0.0"
  xmlns:wps="http://www.opengis.net/wps/1.0.0"
  xmlns:ows="http://www.opengis.net/ows/1.1">
  <ows:Identifier>hello</ows:Identifier>
  <wps:DataInputs>
    <wps:Input>
      <ows:Identifier>name</ows:Identifier>
      <wps:Data><wps:LiteralData>Carol</wps:LiteralData></wps:Data>
    </wps:Input>
  </wps:DataInputs>
  <wps:ResponseForm>
    <wps:ResponseDocument lineage="true">
      <wps:Output><ows:Identifier>output</ows:Identifier></wps:Output>
    </wps:ResponseDocument>
  </wps:ResponseForm>
</wps:Execute>`)
			So(code, ShouldEqual, http.StatusOK)
			r := decodeResponse(body)
			So(r.Inputs, ShouldResemble, []string{"name"})
			So(r.Outputs[0].Literal, ShouldEqual, "Hello Carol")
		})

		Convey("Large requests are refused", func() {
			code, body := ts.post(`<wps:Execute service="WPS" version="1.0.0">` +
				strings.Repeat(" ", 4096) + `</wps:Execute>`)
			So(code, ShouldEqual, http.StatusBadRequest)
			c, _ := exception(body)
			So(c, ShouldEqual, "FileSizeExceeded")
		})
	})
}

func TestParseQuery(t *testing.T) {
	Convey("Execute queries are parsed", t, func() {
		r, e := ParseQuery("service=WPS&request=execute&version=1.0.0" +
			"&identifier=run_name&DataInputs=title=a%3Bb;elevationOut=0-100@uom=m;" +
			"elevationOut=100-200&ResponseDocument=runid;FileContents@asReference=true" +
			"@mimeType=application/x-zipped-shp&storeExecuteResponse=TRUE&lineage=true")
		So(e, ShouldBeNil)
		So(r.Operation, ShouldEqual, Execute)
		So(r.Inputs, ShouldResemble, []swallow.Input{
			{Identifier: "title", Value: "a;b"},
			{Identifier: "elevationOut", Value: "0-100"},
			{Identifier: "elevationOut", Value: "100-200"},
		})
		So(r.Outputs, ShouldResemble, []swallow.OutputRequest{
			{Identifier: "runid"},
			{Identifier: "FileContents", AsReference: true,
				MimeType: "application/x-zipped-shp"},
		})
		So(r.Store, ShouldBeTrue)
		So(r.Status, ShouldBeFalse)
		So(r.Lineage, ShouldBeTrue)
	})

	Convey("Execute takes one identifier", t, func() {
		_, e := ParseQuery("service=WPS&request=Execute&version=1.0.0&identifier=a,b")
		So(swallow.AsException(e).Locator, ShouldEqual, "identifier")
	})

	Convey("Broken XML is refused", t, func() {
		_, e := ParseXML(strings.NewReader("<wps:Execute"))
		So(swallow.AsException(e).Code, ShouldEqual, swallow.NoApplicableCode)
		_, e = ParseXML(strings.NewReader(""))
		So(swallow.AsException(e).Code, ShouldEqual, swallow.MissingParameterValue)
	})

	Convey("Exception codes map onto HTTP", t, func() {
		So(StatusCode(swallow.NewException(swallow.NoApplicableCode, "", "x")),
			ShouldEqual, http.StatusInternalServerError)
		So(StatusCode(swallow.InvalidParameter("x", "x")), ShouldEqual,
			http.StatusBadRequest)
	})
}
