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

// Package swallow provides the processing core of a Web Processing Service
// (OGC WPS 1.0.0) used to run and plot NAME atmospheric dispersion model
// jobs.
//
// A Manager holds the registered Process implementations and every Job
// executed against them.  Jobs may run synchronously, inside the HTTP
// request that submitted them, or asynchronously, in which case the
// Manager limits how many run in parallel and leaves the rest queued in
// the accepted state.  Every state change bumps a serial number, so that
// clients can long-poll for changes, and is forwarded to a JobStore (the
// request log) and a StatusSink (the WPS status document writer).
//
// The protocol handling lives in the wps package, the administrative
// JSON API in rest, and the command line front end in the swallow
// directory.
package swallow
