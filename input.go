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
	"strings"
)

// Input is a single literal input value, as received from a client.
// Inputs that occur more than once are repeated, in order.
type Input struct {
	Identifier string `json:"identifier"`
	Value      string `json:"value"`
}

func (in *LiteralInput) maxOccurs() int {
	if in.MaxOccurs < 1 {
		return 1
	}
	return in.MaxOccurs
}

func (in *LiteralInput) allowed(v interface{}) bool {
	if len(in.AllowedValues) == 0 {
		return true
	}
	s := in.DataType.Format(v)
	for _, a := range in.AllowedValues {
		av, e := in.DataType.Parse(a)
		if e != nil {
			continue
		}
		if in.DataType.Format(av) == s {
			return true
		}
	}
	return false
}

// Convert parses and checks one value for this input.
func (in *LiteralInput) Convert(s string) (interface{}, error) {
	v, e := in.DataType.Parse(s)
	if e != nil {
		return nil, InvalidParameter(in.Identifier,
			"Value %q of input %s is not a valid %s", s, in.Identifier,
			in.DataType)
	}
	if !in.allowed(v) {
		return nil, InvalidParameter(in.Identifier,
			"Value %q of input %s is not one of: %s", s, in.Identifier,
			strings.Join(in.AllowedValues, ", "))
	}
	return v, nil
}

// ParseInputs validates raw client inputs against a process description,
// returning the typed values keyed by identifier.  Absent inputs with a
// default get the default.  Any violation is reported as an *Exception
// locating the offending input.
func ParseInputs(d *ProcessDescription, raw []Input) (map[string][]interface{}, error) {
	values := make(map[string][]interface{})
	for _, r := range raw {
		in := d.Input(r.Identifier)
		if in == nil {
			return nil, InvalidParameter(r.Identifier,
				"Unknown input %s for process %s", r.Identifier,
				d.Identifier)
		}
		v, e := in.Convert(r.Value)
		if e != nil {
			return nil, e
		}
		if len(values[in.Identifier]) >= in.maxOccurs() {
			return nil, InvalidParameter(in.Identifier,
				"Input %s accepts at most %d values", in.Identifier,
				in.maxOccurs())
		}
		values[in.Identifier] = append(values[in.Identifier], v)
	}

	for i := range d.Inputs {
		in := &d.Inputs[i]
		n := len(values[in.Identifier])
		if n == 0 && in.Default != "" {
			v, e := in.DataType.Parse(in.Default)
			if e != nil {
				return nil, NewException(NoApplicableCode,
					in.Identifier, "Bad default for input %s",
					in.Identifier)
			}
			values[in.Identifier] = []interface{}{v}
			continue
		}
		if n < in.MinOccurs {
			return nil, NewException(MissingParameterValue,
				in.Identifier, "Input %s requires at least %d values",
				in.Identifier, in.MinOccurs)
		}
	}
	return values, nil
}
