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
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/cedadev/swallow"
)

var (
	barNormal = tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(tcell.ColorSilver)
	barAlternate = tcell.StyleDefault.
			Foreground(tcell.ColorBlue).
			Background(tcell.ColorSilver).Bold(true)

	StatusBarStyleNormal = barNormal
	StatusBarStyleGood   = tcell.StyleDefault.
				Foreground(tcell.ColorWhite).
				Background(tcell.ColorGreen).
				Bold(true)
	StatusBarStyleWarn = tcell.StyleDefault.
				Foreground(tcell.ColorBlack).
				Background(tcell.ColorYellow)
	StatusBarStyleError = tcell.StyleDefault.
				Foreground(tcell.ColorWhite).
				Background(tcell.ColorMaroon).
				Bold(true)
)

// TitleBar shows the server on the left and the program on the right.
type TitleBar struct {
	views.SimpleStyledTextBar
}

func NewTitleBar() *TitleBar {
	tb := &TitleBar{}
	tb.SimpleStyledTextBar.Init()
	tb.SetStyle(barNormal)
	tb.RegisterLeftStyle('N', barNormal)
	tb.RegisterCenterStyle('N', barNormal)
	tb.RegisterRightStyle('N', barNormal)
	tb.RegisterRightStyle('A', barAlternate)
	return tb
}

// StatusBar changes color with the state of what the panel shows, such
// as red for failed jobs.
type StatusBar struct {
	status string
	views.SimpleStyledTextBar
}

func NewStatusBar() *StatusBar {
	sb := &StatusBar{}
	sb.SimpleStyledTextBar.Init()
	sb.SetNormal()
	return sb
}

func (sb *StatusBar) SetStyle(style tcell.Style) {
	sb.SimpleStyledTextBar.SetStyle(style)
	sb.RegisterLeftStyle('N', style)
	sb.SetLeft(sb.status)
}

func (sb *StatusBar) SetGood()   { sb.SetStyle(StatusBarStyleGood) }
func (sb *StatusBar) SetNormal() { sb.SetStyle(StatusBarStyleNormal) }
func (sb *StatusBar) SetWarn()   { sb.SetStyle(StatusBarStyleWarn) }
func (sb *StatusBar) SetError()  { sb.SetStyle(StatusBarStyleError) }

// SetJobStatus picks the color for a job in the given state.
func (sb *StatusBar) SetJobStatus(s swallow.Status) {
	switch s {
	case swallow.StatusFailed:
		sb.SetError()
	case swallow.StatusStarted:
		sb.SetGood()
	case swallow.StatusAccepted:
		sb.SetWarn()
	default:
		sb.SetNormal()
	}
}

func (sb *StatusBar) SetText(status string) {
	sb.status = strings.ReplaceAll(status, "%", "%%")
	sb.SetLeft(sb.status)
}

// KeyBar lists the keys available.  Words are written as "[K] Label",
// and the bracketed key is highlighted.
type KeyBar struct {
	views.SimpleStyledTextBar
}

func NewKeyBar() *KeyBar {
	kb := &KeyBar{}
	kb.SimpleStyledTextBar.Init()
	kb.SetStyle(barNormal)
	kb.RegisterLeftStyle('N', barNormal)
	kb.RegisterLeftStyle('A', barAlternate)
	return kb
}

func (k *KeyBar) SetKeys(words []string) {
	var b strings.Builder
	for i, w := range words {
		if i != 0 && w != "" {
			b.WriteByte(' ')
		}
		w = strings.ReplaceAll(w, "%", "%%")
		w = strings.ReplaceAll(w, "[", "[%A")
		w = strings.ReplaceAll(w, "]", "%N]")
		b.WriteString(w)
	}
	k.SetLeft(b.String())
}
