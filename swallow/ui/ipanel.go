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

package ui

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"

	"github.com/cedadev/swallow/rest"
)

// InfoPanel shows everything known about one job.
type InfoPanel struct {
	info *rest.JobInfo
	id   string
	err  error // last error retrieving state

	textPanel
}

func NewInfoPanel(app *App) *InfoPanel {
	p := &InfoPanel{}
	p.textPanel.init(app)
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})
	return p
}

func (p *InfoPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *InfoPanel) HandleEvent(ev tcell.Event) bool {
	info := p.info
	app := p.App()
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'L', 'l':
				if info != nil {
					app.ShowLog(info.ID)
					return true
				}
			case 'D', 'd':
				if info != nil && !info.Status.Finished() {
					app.DismissJob(info.ID)
					return true
				}
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *InfoPanel) SetJob(id string) {
	p.id = id
	p.info = nil
	p.err = nil
	p.text.SetLines(nil)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func infoLines(s *rest.JobInfo) []string {
	lines := make([]string, 0, 16)
	add := func(label, format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf("%11s ", label)+fmt.Sprintf(format, v...))
	}
	add("Job:", "%s", s.ID)
	add("Process:", "%s", s.Process)
	add("Status:", "%s (%d%%)", s.Status, s.Percent)
	add("Message:", "%s", s.Message)
	add("Mode:", "async=%v stored=%v", s.Async, s.Stored)
	add("Created:", "%s", stamp(s.Created))
	add("Started:", "%s", stamp(s.Started))
	add("Finished:", "%s", stamp(s.Finished))
	if s.Code != "" {
		add("Error:", "%s %s: %s", s.Code, s.Locator, s.Error)
	}
	for i, in := range s.Inputs {
		label := ""
		if i == 0 {
			label = "Inputs:"
		}
		add(label, "%s = %s", in.Identifier, in.Value)
	}
	for i, out := range s.Outputs {
		label := ""
		if i == 0 {
			label = "Outputs:"
		}
		v := out.Href
		if v == "" {
			v = out.Data
			if len(v) > 60 {
				v = v[:57] + "..."
			}
		}
		add(label, "%s = %s", out.Identifier, v)
	}
	return lines
}

// update runs on the event loop.
func (p *InfoPanel) update() {

	s, e := p.App().GetItem(p.id)
	if p.info == s && p.err == e {
		return
	}
	p.info = s
	p.err = e
	words := []string{"[ESC] Main", "[H] Help"}

	p.SetTitle("Details for " + p.id)

	if s == nil {
		if e != nil {
			p.SetStatus(fmt.Sprintf("No data: %v", e))
			p.StatusBar().SetError()
		} else {
			p.SetStatus("Loading...")
			p.StatusBar().SetNormal()
		}
		p.text.SetLines(nil)
		p.SetKeys(words)
		return
	}

	p.SetStatus(s.Message)
	p.StatusBar().SetJobStatus(s.Status)
	p.text.SetLines(infoLines(s))

	words = append(words, "[L] Log")
	if !s.Status.Finished() {
		words = append(words, "[D] Dismiss")
	}
	p.SetKeys(words)
}
