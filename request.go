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
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Request carries the validated inputs of a job to Process.Execute.
type Request struct {
	JobID      string
	Identifier string
	Workdir    string
	values     map[string][]interface{}
	raw        []Input
	logger     *zap.Logger
}

// NewRequest builds a request from already converted values.  The
// Manager does this for every job; it is exported for process tests.
func NewRequest(identifier string, values map[string][]interface{}) *Request {
	if values == nil {
		values = make(map[string][]interface{})
	}
	return &Request{
		Identifier: identifier,
		values:     values,
		logger:     zap.NewNop(),
	}
}

// Has reports whether the input has a value, given or defaulted.
func (r *Request) Has(id string) bool {
	return len(r.values[id]) != 0
}

// Values returns every value of an input.
func (r *Request) Values(id string) []interface{} {
	return r.values[id]
}

// Value returns the first value of an input, or nil.
func (r *Request) Value(id string) interface{} {
	if v := r.values[id]; len(v) != 0 {
		return v[0]
	}
	return nil
}

func (r *Request) String(id string) string {
	s, _ := r.Value(id).(string)
	return s
}

// Strings returns every value of a string input.
func (r *Request) Strings(id string) []string {
	rv := make([]string, 0, len(r.values[id]))
	for _, v := range r.values[id] {
		if s, ok := v.(string); ok {
			rv = append(rv, s)
		}
	}
	return rv
}

func (r *Request) Float(id string) float64 {
	f, _ := r.Value(id).(float64)
	return f
}

func (r *Request) Int(id string) int {
	i, _ := r.Value(id).(int)
	return i
}

func (r *Request) Bool(id string) bool {
	b, _ := r.Value(id).(bool)
	return b
}

func (r *Request) Time(id string) time.Time {
	t, _ := r.Value(id).(time.Time)
	return t
}

// Set replaces the values of an input.
func (r *Request) Set(id string, v ...interface{}) {
	r.values[id] = v
}

// Inputs returns the inputs as the client supplied them.
func (r *Request) Inputs() []Input {
	return append([]Input{}, r.raw...)
}

// Logger returns the job logger.  Messages logged here end up both in
// the service log and in the log of the job.
func (r *Request) Logger() *zap.Logger {
	return r.logger
}

// OutputValue is a produced output.  File is the local path of a complex
// output before it is stored; Href is where it was stored.
type OutputValue struct {
	Identifier string `json:"identifier"`
	Data       string `json:"data,omitempty"`
	File       string `json:"-"`
	MimeType   string `json:"mimeType,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Href       string `json:"href,omitempty"`
}

// Response collects status updates and outputs from a running process.
type Response struct {
	job     *Job
	desc    *ProcessDescription
	message string
	percent int
	outputs map[string]*OutputValue
	mx      sync.Mutex
}

// NewResponse returns a response not attached to any job.  Status updates
// are only recorded locally.  It is exported for process tests.
func NewResponse(d *ProcessDescription) *Response {
	return &Response{desc: d, outputs: make(map[string]*OutputValue)}
}

// UpdateStatus reports progress.  The percentage never goes backwards;
// lower values only change the message.
func (r *Response) UpdateStatus(message string, percent int) {
	r.mx.Lock()
	if percent > 100 {
		percent = 100
	}
	if percent > r.percent {
		r.percent = percent
	}
	r.message = message
	percent = r.percent
	r.mx.Unlock()

	if r.job != nil {
		r.job.progress(message, percent)
	}
}

// Status returns the last reported status message and percentage.
func (r *Response) Status() (string, int) {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.message, r.percent
}

func (r *Response) output(id string, kind OutputKind) (*Output, error) {
	o := r.desc.Output(id)
	if o == nil {
		return nil, fmt.Errorf("unknown output %s", id)
	}
	if o.Kind != kind {
		return nil, fmt.Errorf("output %s has the wrong kind", id)
	}
	return o, nil
}

func (r *Response) set(v *OutputValue) {
	r.mx.Lock()
	r.outputs[v.Identifier] = v
	r.mx.Unlock()
}

// SetLiteral sets the value of a literal output.
func (r *Response) SetLiteral(id string, v interface{}) error {
	o, e := r.output(id, LiteralOutput)
	if e != nil {
		return e
	}
	r.set(&OutputValue{Identifier: id, Data: o.DataType.Format(v)})
	return nil
}

func (r *Response) complexFormat(id string, mime string) (string, error) {
	o, e := r.output(id, ComplexOutput)
	if e != nil {
		return "", e
	}
	if mime == "" {
		return o.DefaultFormat(), nil
	}
	if !o.SupportsFormat(mime) {
		return "", fmt.Errorf("output %s does not support %s", id, mime)
	}
	return mime, nil
}

// SetFile sets a complex output to the contents of a local file.  An empty
// mime type selects the default format of the output.
func (r *Response) SetFile(id string, path string, mime string) error {
	mime, e := r.complexFormat(id, mime)
	if e != nil {
		return e
	}
	r.set(&OutputValue{Identifier: id, File: path, MimeType: mime})
	return nil
}

// SetData sets a complex output to inline data.
func (r *Response) SetData(id string, data string, mime string) error {
	mime, e := r.complexFormat(id, mime)
	if e != nil {
		return e
	}
	r.set(&OutputValue{Identifier: id, Data: data, MimeType: mime})
	return nil
}

// Output returns a produced output, or nil.
func (r *Response) Output(id string) *OutputValue {
	r.mx.Lock()
	defer r.mx.Unlock()
	if v, ok := r.outputs[id]; ok {
		c := *v
		return &c
	}
	return nil
}

// Outputs returns the produced outputs, in description order.
func (r *Response) Outputs() []OutputValue {
	r.mx.Lock()
	defer r.mx.Unlock()
	rv := make([]OutputValue, 0, len(r.outputs))
	for _, o := range r.desc.Outputs {
		if v, ok := r.outputs[o.Identifier]; ok {
			rv = append(rv, *v)
		}
	}
	return rv
}
