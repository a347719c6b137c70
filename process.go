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
)

// Process is what process implementations must provide.  Describe must
// return the same description every time, and may be called concurrently.
// Execute is called once per job, on its own goroutine for asynchronous
// jobs.
type Process interface {
	// Describe returns the description published by DescribeProcess,
	// and used by the Manager to validate and convert inputs before
	// Execute is called.
	Describe() *ProcessDescription

	// Execute runs the process.  It should honor cancellation of the
	// context, which happens when the job is dismissed or the service
	// shuts down.  Progress is reported through the Response, which also
	// collects the outputs.  Returning an *Exception reports that exact
	// exception to the client; other errors become NoApplicableCode.
	Execute(ctx context.Context, req *Request, resp *Response) error
}

// Metadata is a link published with a process description.
type Metadata struct {
	Title string
	Href  string
	Role  string
}

// LiteralInput describes a literal input.  MinOccurs of zero makes the
// input optional.  MaxOccurs of zero is treated as one.  When the input is
// absent and Default is set, the default is used instead.
type LiteralInput struct {
	Identifier    string
	Title         string
	Abstract      string
	DataType      DataType
	AllowedValues []string
	Default       string
	MinOccurs     int
	MaxOccurs     int
}

// OutputKind distinguishes literal and complex outputs.
type OutputKind int

const (
	LiteralOutput OutputKind = iota
	ComplexOutput
)

// Output describes a process output.  For complex outputs the first
// entry of Formats is the default mime type.
type Output struct {
	Identifier  string
	Title       string
	Abstract    string
	Kind        OutputKind
	DataType    DataType
	Formats     []string
	AsReference bool
}

// ProcessDescription holds everything published about a process.
type ProcessDescription struct {
	Identifier      string
	Title           string
	Abstract        string
	Version         string
	Metadata        []Metadata
	Inputs          []LiteralInput
	Outputs         []Output
	StoreSupported  bool
	StatusSupported bool
}

// Input returns the named input description, or nil.
func (d *ProcessDescription) Input(id string) *LiteralInput {
	for i := range d.Inputs {
		if d.Inputs[i].Identifier == id {
			return &d.Inputs[i]
		}
	}
	return nil
}

// Output returns the named output description, or nil.
func (d *ProcessDescription) Output(id string) *Output {
	for i := range d.Outputs {
		if d.Outputs[i].Identifier == id {
			return &d.Outputs[i]
		}
	}
	return nil
}

// DefaultFormat returns the default mime type of a complex output.
func (o *Output) DefaultFormat() string {
	if len(o.Formats) == 0 {
		return "text/plain"
	}
	return o.Formats[0]
}

// SupportsFormat reports whether mime is one of the output's formats.
func (o *Output) SupportsFormat(mime string) bool {
	for _, f := range o.Formats {
		if f == mime {
			return true
		}
	}
	return false
}
