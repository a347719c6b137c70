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
	"strconv"
	"strings"
	"time"
)

// DataType names the type of a literal input or output.  The names are
// the ones used in WPS process descriptions.  Values are parsed into
// string, float64, int, bool or time.Time respectively.
type DataType string

const (
	TypeString   DataType = "string"
	TypeFloat    DataType = "float"
	TypeInteger  DataType = "integer"
	TypeBoolean  DataType = "boolean"
	TypeDateTime DataType = "dateTime"
	TypeDate     DataType = "date"
	TypeTime     DataType = "time"
)

const (
	DateTimeFormat = "2006-01-02T15:04:05Z07:00"
	DateFormat     = "2006-01-02"
	TimeFormat     = "15:04:05"
)

var dateTimeLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

var timeLayouts = []string{
	"15:04:05Z07:00",
	"15:04:05",
	"15:04Z07:00",
	"15:04",
}

// Reference returns the XML schema type used for the ows:DataType
// reference attribute.
func (t DataType) Reference() string {
	switch t {
	case TypeFloat:
		return "http://www.w3.org/TR/xmlschema-2/#float"
	case TypeInteger:
		return "http://www.w3.org/TR/xmlschema-2/#integer"
	case TypeBoolean:
		return "http://www.w3.org/TR/xmlschema-2/#boolean"
	case TypeDateTime:
		return "http://www.w3.org/TR/xmlschema-2/#dateTime"
	case TypeDate:
		return "http://www.w3.org/TR/xmlschema-2/#date"
	case TypeTime:
		return "http://www.w3.org/TR/xmlschema-2/#time"
	}
	return "http://www.w3.org/TR/xmlschema-2/#string"
}

func parseLayouts(s string, layouts []string) (time.Time, error) {
	for _, l := range layouts {
		if t, e := time.Parse(l, s); e == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrBadDataType
}

// Parse converts the textual form of a literal into its Go value.
func (t DataType) Parse(s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	switch t {
	case TypeString, "":
		return s, nil
	case TypeFloat:
		return strconv.ParseFloat(s, 64)
	case TypeInteger:
		return strconv.Atoi(s)
	case TypeBoolean:
		switch strings.ToLower(s) {
		case "1", "true", "yes":
			return true, nil
		case "0", "false", "no":
			return false, nil
		}
		return nil, ErrBadDataType
	case TypeDateTime:
		return parseLayouts(s, dateTimeLayouts)
	case TypeDate:
		return parseLayouts(s, []string{DateFormat})
	case TypeTime:
		return parseLayouts(s, timeLayouts)
	}
	return nil, ErrBadDataType
}

// Format is the inverse of Parse.  Values of an unexpected Go type are
// formatted with fmt.
func (t DataType) Format(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case time.Time:
		switch t {
		case TypeDate:
			return v.Format(DateFormat)
		case TypeTime:
			return v.Format(TimeFormat)
		}
		return v.Format(DateTimeFormat)
	}
	return fmt.Sprint(v)
}
