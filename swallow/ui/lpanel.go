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

// LogPanel follows the log of a job, or the server log.
type LogPanel struct {
	info *rest.JobInfo
	id   string

	textPanel
}

func NewLogPanel(app *App) *LogPanel {
	p := &LogPanel{}
	p.textPanel.init(app)
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})
	return p
}

func (p *LogPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *LogPanel) HandleEvent(ev tcell.Event) bool {
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
			case 'I', 'i':
				if info != nil {
					app.ShowInfo(info.ID)
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

func (p *LogPanel) SetJob(id string) {
	p.SetTitle("Loading")
	p.text.SetLines(nil)
	p.id = id
}

func logLines(l *rest.LogInfo) []string {
	lines := make([]string, 0, len(l.Records))
	for _, r := range l.Records {
		lines = append(lines, fmt.Sprintf("%s %s",
			r.Time.Format(time.StampMilli), r.Text))
	}
	return lines
}

// update runs on the event loop.
func (p *LogPanel) update() {

	jobinfo, e1 := p.App().GetItem(p.id)
	loginfo, e2 := p.App().GetLog(p.id)
	if p.id == "" {
		jobinfo, e1 = nil, nil
	}
	p.info = jobinfo

	words := []string{"[ESC] Main", "[H] Help"}

	if p.id == "" {
		p.SetTitle("Server log")
	} else {
		p.SetTitle("Log for " + p.id)
	}

	if (jobinfo == nil && p.id != "") || loginfo == nil {
		e := e2
		if e == nil {
			e = e1
		}
		if e != nil {
			p.SetStatus(fmt.Sprintf("No data: %v", e))
			p.StatusBar().SetError()
		} else {
			p.SetStatus("Loading ...")
			p.StatusBar().SetNormal()
		}
		p.text.SetLines([]string{""})
		p.SetKeys(words)
		return
	}

	p.SetStatus("")
	p.StatusBar().SetNormal()
	if jobinfo != nil {
		p.SetStatus(jobinfo.Message)
		p.StatusBar().SetJobStatus(jobinfo.Status)
	}
	p.text.SetLines(logLines(loginfo))

	if jobinfo != nil {
		words = append(words, "[I] Info")
		if !jobinfo.Status.Finished() {
			words = append(words, "[D] Dismiss")
		}
	}
	p.SetKeys(words)
}
