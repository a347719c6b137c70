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
	"encoding/xml"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cedadev/swallow"
)

// Operations
const (
	GetCapabilities = "GetCapabilities"
	DescribeProcess = "DescribeProcess"
	Execute         = "Execute"
)

// Request is a WPS request, parsed from either KVP or XML.
type Request struct {
	Operation   string
	Version     string
	Identifiers []string
	Inputs      []swallow.Input
	Outputs     []swallow.OutputRequest

	// Raw is set when a single output is wanted as raw data.
	Raw     *swallow.OutputRequest
	Store   bool
	Status  bool
	Lineage bool
}

func missing(param string) *swallow.Exception {
	return swallow.NewException(swallow.MissingParameterValue, param,
		"Missing parameter %s", param)
}

// kvp holds query parameters with lower case keys.  Values are kept
// escaped, because DataInputs must be split before it is unescaped.
type kvp map[string]string

func parseQuery(raw string) kvp {
	q := make(kvp)
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, e := url.QueryUnescape(k)
		if e != nil {
			continue
		}
		key = strings.ToLower(key)
		if _, ok := q[key]; !ok {
			q[key] = v
		}
	}
	return q
}

func unescape(s string) string {
	if v, e := url.QueryUnescape(s); e == nil {
		return v
	}
	return s
}

func (q kvp) get(key string) string {
	return unescape(q[key])
}

func (q kvp) has(key string) bool {
	_, ok := q[key]
	return ok
}

func (q kvp) bool(key string) bool {
	return strings.EqualFold(q.get(key), "true")
}

// splitList splits a list such as "a=1@uom=m;b=2" into its elements,
// each with the attributes following "@", and unescapes every part.  A
// list escaped as a whole, as done by form encoders, is unescaped first.
func splitList(s string) [][]string {
	pre := !strings.ContainsAny(s, "=;@")
	if pre {
		s = unescape(s)
	}
	var rv [][]string
	for _, item := range strings.Split(s, ";") {
		if item == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(item, "@") {
			k, v, ok := strings.Cut(p, "=")
			if !pre {
				k, v = unescape(k), unescape(v)
			}
			if ok {
				parts = append(parts, k+"="+v)
			} else {
				parts = append(parts, k)
			}
		}
		rv = append(rv, parts)
	}
	return rv
}

func parseDataInputs(s string) ([]swallow.Input, error) {
	var rv []swallow.Input
	for _, item := range splitList(s) {
		// attributes such as @uom are not needed by literal inputs
		k, v, ok := strings.Cut(item[0], "=")
		if !ok {
			return nil, swallow.InvalidParameter("DataInputs",
				"Input %q has no value", item[0])
		}
		rv = append(rv, swallow.Input{Identifier: k, Value: v})
	}
	return rv, nil
}

func parseOutputs(s string) []swallow.OutputRequest {
	var rv []swallow.OutputRequest
	for _, item := range splitList(s) {
		o := swallow.OutputRequest{Identifier: item[0]}
		for _, attr := range item[1:] {
			k, v, _ := strings.Cut(attr, "=")
			switch strings.ToLower(k) {
			case "asreference":
				o.AsReference = strings.EqualFold(v, "true")
			case "mimetype":
				o.MimeType = v
			}
		}
		rv = append(rv, o)
	}
	return rv
}

func checkService(s string) error {
	if s == "" {
		return missing("service")
	}
	if !strings.EqualFold(s, "WPS") {
		return swallow.InvalidParameter("service",
			"Unknown service %s", s)
	}
	return nil
}

func checkVersion(v string) error {
	if v == "" {
		return missing("version")
	}
	if v != Version {
		return swallow.InvalidParameter("version",
			"Unsupported version %s", v)
	}
	return nil
}

func acceptVersions(versions []string) error {
	if len(versions) == 0 {
		return nil
	}
	for _, v := range versions {
		if strings.TrimSpace(v) == Version {
			return nil
		}
	}
	return swallow.NewException(swallow.VersionNegotiationFailed,
		"AcceptVersions", "The requested versions %s are not supported",
		strings.Join(versions, ","))
}

func parseOperation(name string) (string, error) {
	for _, op := range []string{GetCapabilities, DescribeProcess, Execute} {
		if strings.EqualFold(name, op) {
			return op, nil
		}
	}
	return "", swallow.NewException(swallow.OperationNotSupported, name,
		"Unknown request %s", name)
}

// ParseQuery parses a request made with key value pairs.
func ParseQuery(raw string) (*Request, error) {
	q := parseQuery(raw)
	if e := checkService(q.get("service")); e != nil {
		return nil, e
	}
	if !q.has("request") {
		return nil, missing("request")
	}
	op, e := parseOperation(q.get("request"))
	if e != nil {
		return nil, e
	}
	r := &Request{Operation: op, Version: q.get("version")}

	if op == GetCapabilities {
		var versions []string
		if v := q.get("acceptversions"); v != "" {
			versions = strings.Split(v, ",")
		}
		if e := acceptVersions(versions); e != nil {
			return nil, e
		}
		return r, nil
	}

	if e := checkVersion(r.Version); e != nil {
		return nil, e
	}
	ids := q.get("identifier")
	if ids == "" {
		return nil, missing("identifier")
	}
	for _, id := range strings.Split(ids, ",") {
		if id = strings.TrimSpace(id); id != "" {
			r.Identifiers = append(r.Identifiers, id)
		}
	}
	if op == DescribeProcess {
		return r, nil
	}

	if len(r.Identifiers) != 1 {
		return nil, swallow.InvalidParameter("identifier",
			"Execute takes exactly one identifier")
	}
	if r.Inputs, e = parseDataInputs(q["datainputs"]); e != nil {
		return nil, e
	}
	if q.has("rawdataoutput") {
		outs := parseOutputs(q["rawdataoutput"])
		if len(outs) != 1 {
			return nil, swallow.InvalidParameter("RawDataOutput",
				"Exactly one raw output must be requested")
		}
		r.Raw = &outs[0]
	}
	r.Outputs = parseOutputs(q["responsedocument"])
	r.Store = q.bool("storeexecuteresponse")
	r.Status = q.bool("status")
	r.Lineage = q.bool("lineage")
	return r, nil
}

// ParseXML parses a request sent by POST.
func ParseXML(rd io.Reader) (*Request, error) {
	d := xml.NewDecoder(rd)
	var start xml.StartElement
	for {
		t, e := d.Token()
		if e != nil {
			if errors.Is(e, io.EOF) {
				return nil, swallow.NewException(
					swallow.MissingParameterValue, "",
					"Empty request body")
			}
			return nil, badXML(e)
		}
		if se, ok := t.(xml.StartElement); ok {
			start = se
			break
		}
	}

	switch start.Name.Local {
	case GetCapabilities:
		var x xmlGetCapabilities
		if e := d.DecodeElement(&x, &start); e != nil {
			return nil, badXML(e)
		}
		if e := checkService(x.Service); e != nil {
			return nil, e
		}
		if e := acceptVersions(x.Versions); e != nil {
			return nil, e
		}
		return &Request{Operation: GetCapabilities}, nil

	case DescribeProcess:
		var x xmlDescribeProcess
		if e := d.DecodeElement(&x, &start); e != nil {
			return nil, badXML(e)
		}
		if e := checkService(x.Service); e != nil {
			return nil, e
		}
		if e := checkVersion(x.Version); e != nil {
			return nil, e
		}
		if len(x.Identifiers) == 0 {
			return nil, missing("identifier")
		}
		return &Request{
			Operation:   DescribeProcess,
			Version:     x.Version,
			Identifiers: x.Identifiers,
		}, nil

	case Execute:
		var x xmlExecute
		if e := d.DecodeElement(&x, &start); e != nil {
			return nil, badXML(e)
		}
		return fromXMLExecute(&x)
	}
	return nil, swallow.NewException(swallow.OperationNotSupported,
		start.Name.Local, "Unknown request %s", start.Name.Local)
}

func badXML(e error) error {
	var mbe *http.MaxBytesError
	if errors.As(e, &mbe) {
		return e
	}
	return swallow.NewException(swallow.NoApplicableCode, "",
		"Cannot parse request: %v", e)
}

func fromXMLExecute(x *xmlExecute) (*Request, error) {
	if e := checkService(x.Service); e != nil {
		return nil, e
	}
	if e := checkVersion(x.Version); e != nil {
		return nil, e
	}
	id := strings.TrimSpace(x.Identifier)
	if id == "" {
		return nil, missing("identifier")
	}
	r := &Request{
		Operation:   Execute,
		Version:     x.Version,
		Identifiers: []string{id},
	}
	for _, in := range x.Inputs {
		name := strings.TrimSpace(in.Identifier)
		switch {
		case in.Literal != nil:
			r.Inputs = append(r.Inputs, swallow.Input{
				Identifier: name,
				Value:      in.Literal.Value,
			})
		case in.Reference != nil, in.Complex != nil, in.BoundingBox != nil:
			return nil, swallow.InvalidParameter(name,
				"Input %s must be literal data", name)
		default:
			return nil, missing(name)
		}
	}
	if x.Raw != nil {
		r.Raw = &swallow.OutputRequest{
			Identifier: strings.TrimSpace(x.Raw.Identifier),
			MimeType:   x.Raw.MimeType,
		}
	}
	if doc := x.Document; doc != nil {
		r.Store = doc.Store
		r.Status = doc.Status
		r.Lineage = doc.Lineage
		for _, o := range doc.Outputs {
			r.Outputs = append(r.Outputs, swallow.OutputRequest{
				Identifier:  strings.TrimSpace(o.Identifier),
				AsReference: o.AsReference,
				MimeType:    o.MimeType,
			})
		}
	}
	return r, nil
}
