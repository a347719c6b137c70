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

package main

import (
	"go.uber.org/zap"

	"github.com/cedadev/swallow"
	"github.com/cedadev/swallow/swallow/ui"
)

type MonitorCmd struct {
	API
	LogFile string `help:"File logging the monitor's own troubles."`
}

func (c *MonitorCmd) Run() error {
	// The screen belongs to the monitor, so nothing may log to it.
	logger := zap.NewNop()
	if c.LogFile != "" {
		l, _, closer, e := swallow.NewLogger(swallow.LogOptions{
			File:    c.LogFile,
			Level:   "DEBUG",
			MaxSize: 10,
		})
		if e != nil {
			return e
		}
		defer closer.Close()
		logger = l
	}
	app := ui.NewApp(c.client(), c.URL, Version, logger)
	return app.Run()
}
