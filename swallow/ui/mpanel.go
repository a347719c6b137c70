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
	"github.com/gdamore/tcell/v2/views"

	"github.com/cedadev/swallow"
	"github.com/cedadev/swallow/rest"
	"github.com/cedadev/swallow/swallow/util"
)

/*
   The main screen:

    http://localhost:5000/api               Jobs                 Swallow 1.0.0
        12 Jobs      1 Failed      1 Running      0 Queued     10 Finished
    ---------------------------------------------------------------------------
    5c0b0e1d-...  run_name   failed          0:03:10   The end date is ...
    0d6e6f2a-...  sleep      started 50%     0:00:02   Sleeping
    ---------------------------------------------------------------------------
    [Q] Quit [H] Help [I] Info [L] Log [D] Dismiss
*/

func jobStyle(s swallow.Status) tcell.Style {
	switch s {
	case swallow.StatusFailed:
		return StyleError
	case swallow.StatusStarted:
		return StyleGood
	case swallow.StatusAccepted:
		return StyleWarn
	}
	return StyleNormal
}

func jobLine(info *rest.JobInfo, now time.Time) string {
	return fmt.Sprintf("%-36s  %-10s %-14s %10s   %s",
		info.ID, info.Process, util.Progress(info),
		util.FormatDuration(util.Since(info, now)), info.Message)
}

type jobRow struct {
	info  *rest.JobInfo
	text  []rune
	style tcell.Style
}

// jobList is the CellModel of the job list.  Sel is the selected row, or
// -1.  The horizontal scroll position is col.
type jobList struct {
	rows  []jobRow
	width int
	sel   int
	col   int
}

func (l *jobList) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	if y < 0 || y >= len(l.rows) {
		return ' ', StyleNormal, nil, 1
	}
	row := l.rows[y]
	style := row.style
	if y == l.sel {
		style = style.Reverse(true)
	}
	if x < 0 || x >= len(row.text) {
		return ' ', style, nil, 1
	}
	return row.text[x], style, nil, 1
}

func (l *jobList) GetBounds() (int, int) {
	return l.width, len(l.rows)
}

func (l *jobList) GetCursor() (int, int, bool, bool) {
	y := l.sel
	if y < 0 {
		y = 0
	}
	return l.col, y, true, false
}

func (l *jobList) SetCursor(x, y int) {
	l.col = clamp(x, l.width)
	if len(l.rows) == 0 {
		l.sel = -1
		return
	}
	l.sel = clamp(y, len(l.rows))
}

func (l *jobList) MoveCursor(dx, dy int) {
	if l.sel < 0 {
		// the first move only selects the top row
		dx, dy = 0, 0
		l.col = 0
		l.sel = 0
	}
	l.SetCursor(l.col+dx, l.sel+dy)
}

func clamp(v, n int) int {
	if v >= n {
		v = n - 1
	}
	if v < 0 {
		v = 0
	}
	return v
}

func (l *jobList) selected() *rest.JobInfo {
	if l.sel < 0 || l.sel >= len(l.rows) {
		return nil
	}
	return l.rows[l.sel].info
}

// fill replaces the rows, keeping the selected job selected while it is
// listed.
func (l *jobList) fill(items []*rest.JobInfo, now time.Time) {
	keep := ""
	if s := l.selected(); s != nil {
		keep = s.ID
	}
	l.rows = l.rows[:0]
	l.width = 0
	l.sel = -1
	for i, info := range items {
		text := []rune(jobLine(info, now))
		if len(text) > l.width {
			l.width = len(text)
		}
		l.rows = append(l.rows, jobRow{info, text, jobStyle(info.Status)})
		if info.ID == keep {
			l.sel = i
		}
	}
}

// MainPanel lists the jobs.  The selected job can be inspected, its log
// followed, or it can be dismissed.
type MainPanel struct {
	list *jobList
	view *views.CellView

	Panel
}

func NewMainPanel(app *App) *MainPanel {
	m := &MainPanel{list: &jobList{sel: -1}}
	m.Panel.Init(app)

	m.view = views.NewCellView()
	m.view.SetModel(m.list)
	m.view.SetStyle(StyleNormal)
	m.SetContent(m.view)

	m.SetTitle("Jobs")
	m.SetKeys([]string{"[Q] Quit"})
	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

// command runs the action bound to a key, reporting whether there was
// one for the current selection.
func (m *MainPanel) command(r rune) bool {
	app := m.App()
	job := m.list.selected()
	switch r {
	case 'q', 'Q':
		app.Quit()
	case 'h', 'H':
		app.ShowHelp()
	case 'i', 'I':
		if job == nil {
			return false
		}
		app.ShowInfo(job.ID)
	case 'l', 'L':
		id := ""
		if job != nil {
			id = job.ID
		}
		app.ShowLog(id)
	case 'd', 'D':
		if job == nil || job.Status.Finished() {
			return false
		}
		app.DismissJob(job.ID)
	default:
		return false
	}
	return true
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	if key, ok := ev.(*tcell.EventKey); ok {
		switch key.Key() {
		case tcell.KeyEsc:
			m.list.sel = -1
			return true
		case tcell.KeyF1:
			return m.command('h')
		case tcell.KeyEnter:
			if m.command('i') {
				return true
			}
		case tcell.KeyRune:
			if m.command(key.Rune()) {
				return true
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

// update refreshes the rows and bars.  It runs on the event loop.
func (m *MainPanel) update() {
	items, err := m.App().GetItems()
	if err != nil {
		m.list.fill(nil, time.Now())
		m.StatusBar().SetError()
		m.SetStatus(fmt.Sprintf("Cannot load jobs: %v", err))
		m.SetKeys([]string{"[Q] Quit", "[H] Help"})
		return
	}
	m.list.fill(items, time.Now())

	counts := make(map[swallow.Status]int)
	for _, info := range items {
		counts[info.Status]++
	}
	queued := counts[swallow.StatusAccepted]
	running := counts[swallow.StatusStarted]
	failed := counts[swallow.StatusFailed]
	m.SetStatus(fmt.Sprintf(
		"%6d Jobs %6d Failed %6d Running %6d Queued %6d Finished",
		len(items), failed, running, queued,
		len(items)-queued-running-failed))

	sb := m.StatusBar()
	switch {
	case failed > 0:
		sb.SetError()
	case queued > 0:
		sb.SetWarn()
	case running > 0:
		sb.SetGood()
	default:
		sb.SetNormal()
	}

	keys := []string{"[Q] Quit", "[H] Help", "[L] Server log"}
	if job := m.list.selected(); job != nil {
		keys = append(keys[:2], "[I] Info", "[L] Log")
		if !job.Status.Finished() {
			keys = append(keys, "[D] Dismiss")
		}
	}
	m.SetKeys(keys)
}
