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

// Package wps serves the OGC Web Processing Service 1.0.0 protocol on top
// of a swallow.Manager.
package wps

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"net/http"
	neturl "net/url"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cedadev/swallow"
	"github.com/cedadev/swallow/config"
	"github.com/cedadev/swallow/metrics"
	"github.com/cedadev/swallow/storage"
)

const mimeXML = "text/xml; charset=UTF-8"

// Options configure a Server.
type Options struct {
	// URL is the public URL of the service endpoint.
	URL      string
	Language string

	// MaxRequestSize limits POST bodies.  Zero means no limit.
	MaxRequestSize int64

	Metadata config.Metadata
	Storage  storage.Storage
	Metrics  *metrics.Recorder
	Logger   *zap.Logger
}

// Server handles WPS requests.  It is also the swallow.StatusSink that
// keeps the status documents of stored jobs up to date.
type Server struct {
	mgr     *swallow.Manager
	url     string
	lang    string
	maxSize int64
	meta    config.Metadata
	storage storage.Storage
	metrics *metrics.Recorder
	logger  *zap.Logger
}

// NewServer returns a server for the manager.  It does not register
// itself as status sink; callers do that with Manager.SetStatusSink.
func NewServer(m *swallow.Manager, o Options) *Server {
	s := &Server{
		mgr:     m,
		url:     o.URL,
		lang:    o.Language,
		maxSize: o.MaxRequestSize,
		meta:    o.Metadata,
		storage: o.Storage,
		metrics: o.Metrics,
		logger:  o.Logger,
	}
	if s.lang == "" {
		s.lang = "en-US"
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.meta.Title == "" {
		s.meta.Title = m.Name()
	}
	return s
}

// Register adds the endpoint to the router, at the path of the service
// URL.  With file storage, stored outputs are served below outputPrefix.
func (s *Server) Register(r *mux.Router, outputPrefix string) {
	path := "/wps"
	if u, e := neturl.Parse(s.url); e == nil && u.Path != "" {
		path = u.Path
	}
	r.Handle(path, s).Methods("GET", "POST")
	if fs, ok := s.storage.(*storage.FileStorage); ok && outputPrefix != "" {
		if !strings.HasSuffix(outputPrefix, "/") {
			outputPrefix += "/"
		}
		r.PathPrefix(outputPrefix).Methods("GET", "HEAD").Handler(
			http.StripPrefix(outputPrefix, fs.Handler()))
	}
}

func (s *Server) instance() string {
	return s.url + "?service=WPS&request=GetCapabilities&version=" + Version
}

func (s *Server) statusURL(id string) string {
	if s.storage == nil {
		return ""
	}
	return s.storage.StatusURL(id)
}

func (s *Server) writeXML(w http.ResponseWriter, code int, v interface{}) {
	b, e := xml.MarshalIndent(v, "", "  ")
	if e != nil {
		s.logger.Error("cannot marshal response", zap.Error(e))
		http.Error(w, e.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeXML)
	w.WriteHeader(code)
	w.Write([]byte(xml.Header))
	w.Write(b)
}

// StatusCode is the HTTP status used for an exception report.
func StatusCode(x *swallow.Exception) int {
	if x.Code == swallow.NoApplicableCode {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func (s *Server) writeException(w http.ResponseWriter, op string, e error) {
	x := swallow.AsException(e)
	if errors.Is(e, swallow.ErrShuttingDown) {
		x = swallow.NewException(swallow.ServerBusy, "", "%v", e)
	}
	s.metrics.IncRequest(op, string(x.Code))
	s.logger.Info("request failed", zap.String("request", op),
		zap.String("code", string(x.Code)), zap.String("locator", x.Locator),
		zap.String("text", x.Text))
	s.writeXML(w, StatusCode(x), newExceptionReport(x, s.lang))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req *Request
	var e error
	switch r.Method {
	case http.MethodGet:
		req, e = ParseQuery(r.URL.RawQuery)
	case http.MethodPost:
		req, e = s.parseBody(w, r)
	default:
		e = swallow.NewException(swallow.OperationNotSupported, r.Method,
			"Method %s is not supported", r.Method)
	}
	if e != nil {
		s.writeException(w, "unknown", e)
		return
	}

	switch req.Operation {
	case GetCapabilities:
		s.getCapabilities(w)
	case DescribeProcess:
		s.describeProcess(w, req)
	case Execute:
		s.execute(w, r, req)
	}
}

func (s *Server) parseBody(w http.ResponseWriter, r *http.Request) (*Request, error) {
	body := r.Body
	if s.maxSize > 0 {
		if r.ContentLength > s.maxSize {
			return nil, swallow.NewException(swallow.FileSizeExceeded, "",
				"Maximum request size of %d bytes exceeded", s.maxSize)
		}
		body = http.MaxBytesReader(w, r.Body, s.maxSize)
	}
	req, e := ParseXML(body)
	var mbe *http.MaxBytesError
	if errors.As(e, &mbe) {
		return nil, swallow.NewException(swallow.FileSizeExceeded, "",
			"Maximum request size of %d bytes exceeded", s.maxSize)
	}
	return req, e
}

func (s *Server) getCapabilities(w http.ResponseWriter) {
	c := newCapabilities(s.meta, s.url, s.lang, s.mgr.Serial(),
		s.mgr.Processes())
	s.metrics.IncRequest(GetCapabilities, "ok")
	s.writeXML(w, http.StatusOK, c)
}

func (s *Server) describeProcess(w http.ResponseWriter, req *Request) {
	var descs []*swallow.ProcessDescription
	for _, id := range req.Identifiers {
		if strings.EqualFold(id, "all") {
			descs = descs[:0]
			for _, p := range s.mgr.Processes() {
				descs = append(descs, p.Describe())
			}
			break
		}
		p, e := s.mgr.FindProcess(id)
		if e != nil {
			s.writeException(w, DescribeProcess,
				swallow.InvalidParameter("identifier",
					"Unknown process %s", id))
			return
		}
		descs = append(descs, p.Describe())
	}
	s.metrics.IncRequest(DescribeProcess, "ok")
	s.writeXML(w, http.StatusOK, newProcessDescriptions(s.lang, descs))
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request, req *Request) {
	opts := swallow.SubmitOptions{
		Store:   req.Store,
		Async:   req.Store && req.Status,
		Outputs: req.Outputs,
	}
	if req.Status && !req.Store {
		s.writeException(w, Execute, swallow.InvalidParameter("status",
			"status=true requires storeExecuteResponse=true"))
		return
	}
	if req.Raw != nil {
		if req.Store {
			s.writeException(w, Execute, swallow.InvalidParameter(
				"storeExecuteResponse",
				"Raw data output cannot be stored"))
			return
		}
		opts.Outputs = []swallow.OutputRequest{*req.Raw}
	}

	j, e := s.mgr.Submit(r.Context(), req.Identifiers[0], req.Inputs, opts)
	if e != nil {
		s.writeException(w, Execute, e)
		return
	}
	info := j.Info()
	s.logger.Info("execute", zap.String("job", info.ID),
		zap.String("process", info.Process),
		zap.String("status", string(info.Status)))

	// unstored failures are reported as exceptions
	if !info.Stored && info.Status.Finished() &&
		info.Status != swallow.StatusSucceeded {
		x := info.Exception()
		if x == nil {
			x = swallow.NewException(swallow.NoApplicableCode, "", "%s",
				info.Message)
		}
		s.writeException(w, Execute, x)
		return
	}

	if req.Raw != nil {
		s.metrics.IncRequest(Execute, "ok")
		s.writeRaw(w, r, j.Description(), info, req.Raw.Identifier)
		return
	}

	var lin *lineage
	if req.Lineage {
		lin = &lineage{outputs: req.Outputs}
	}
	s.metrics.IncRequest(Execute, "ok")
	s.writeXML(w, http.StatusOK, newExecuteResponse(j.Description(), info,
		s.instance(), s.statusURL(info.ID), s.lang, lin))
}

func (s *Server) writeRaw(w http.ResponseWriter, r *http.Request, d *swallow.ProcessDescription, info *swallow.JobInfo, id string) {
	for _, v := range info.Outputs {
		if v.Identifier != id {
			continue
		}
		if v.Href != "" {
			http.Redirect(w, r, v.Href, http.StatusFound)
			return
		}
		mime := v.MimeType
		if mime == "" {
			mime = "text/plain; charset=UTF-8"
		}
		data := []byte(v.Data)
		if v.Encoding == "base64" {
			b, e := base64.StdEncoding.DecodeString(v.Data)
			if e != nil {
				http.Error(w, e.Error(), http.StatusInternalServerError)
				return
			}
			data = b
		}
		w.Header().Set("Content-Type", mime)
		if o := d.Output(id); o != nil && o.Kind == swallow.ComplexOutput {
			w.Header().Set("Content-Disposition",
				`attachment; filename="`+id+`"`)
		}
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}
	http.Error(w, "output "+id+" was not produced", http.StatusNotFound)
}

// WriteStatus renders the status document of a stored job and hands it
// to the storage.
func (s *Server) WriteStatus(ctx context.Context, info *swallow.JobInfo) error {
	if s.storage == nil {
		return nil
	}
	p, e := s.mgr.FindProcess(info.Process)
	if e != nil {
		return e
	}
	doc := newExecuteResponse(p.Describe(), info, s.instance(),
		s.statusURL(info.ID), s.lang, nil)
	b, e := xml.MarshalIndent(doc, "", "  ")
	if e != nil {
		return e
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.Write(b)
	_, e = s.storage.WriteStatus(ctx, info.ID, buf.Bytes())
	return e
}
