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
	"errors"
	"fmt"
)

var (
	ErrNoProcess    = errors.New("No such process")
	ErrNoJob        = errors.New("No such job")
	ErrDuplicate    = errors.New("Process already registered")
	ErrJobFinished  = errors.New("Job already finished")
	ErrShuttingDown = errors.New("Manager is shutting down")
	ErrBadDataType  = errors.New("Bad literal data type")
	ErrNoCommand    = errors.New("No command configured")
	ErrTimeout      = errors.New("Command timed out")
)

// ExceptionCode is one of the OWS exception codes defined for WPS 1.0.0.
type ExceptionCode string

const (
	MissingParameterValue    ExceptionCode = "MissingParameterValue"
	InvalidParameterValue    ExceptionCode = "InvalidParameterValue"
	NoApplicableCode         ExceptionCode = "NoApplicableCode"
	OperationNotSupported    ExceptionCode = "OperationNotSupported"
	VersionNegotiationFailed ExceptionCode = "VersionNegotiationFailed"
	StorageNotSupported      ExceptionCode = "StorageNotSupported"
	ServerBusy               ExceptionCode = "ServerBusy"
	FileSizeExceeded         ExceptionCode = "FileSizeExceeded"
	NotEnoughStorage         ExceptionCode = "NotEnoughStorage"
)

// Exception is an error that is reported to WPS clients as an OWS
// ExceptionReport.  Processes return these to signal invalid input;
// any other error returned by a process is reported as NoApplicableCode.
type Exception struct {
	Code    ExceptionCode
	Locator string
	Text    string
}

func (e *Exception) Error() string {
	if e.Locator != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Locator, e.Text)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Text)
}

// NewException returns an Exception with a formatted text.
func NewException(code ExceptionCode, locator string, format string, v ...interface{}) *Exception {
	return &Exception{Code: code, Locator: locator, Text: fmt.Sprintf(format, v...)}
}

// InvalidParameter is shorthand for an InvalidParameterValue exception,
// which is by far the most common failure raised by processes.
func InvalidParameter(locator string, format string, v ...interface{}) *Exception {
	return NewException(InvalidParameterValue, locator, format, v...)
}

// AsException converts any error into an Exception.  Errors that already
// wrap an Exception are returned unchanged, everything else becomes
// NoApplicableCode.
func AsException(e error) *Exception {
	if e == nil {
		return nil
	}
	var x *Exception
	if errors.As(e, &x) {
		return x
	}
	return &Exception{Code: NoApplicableCode, Text: e.Error()}
}
