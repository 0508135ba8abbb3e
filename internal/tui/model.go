// Package tui renders a live meeting session in the terminal: streaming
// transcript, preview line, level meter and summary state.
package tui

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hainguyenvie/vmeeting/internal/session"
	"github.com/hainguyenvie/vmeeting/internal/summary"
	"github.com/hainguyenvie/vmeeting/internal/transcript"
)

// Model is the root bubbletea model for a live meeting.
type Model struct {
	sess  *session.Session
	title string

	events chan tea.Msg
	stop   func()

	recording     bool
	entries       []transcript.Segment
	preview       transcript.Preview
	level         float64
	summaryStatus summary.Status
	notice        string
	errText       string

	width  int
	height int
}

// New builds the model around an un-started session.
func New(sess *session.Session, title string) *Model {
	m := &Model{
		sess:          sess,
		title:         title,
		events:        make(chan tea.Msg, 64),
		summaryStatus: summary.StatusIdle,
	}
	m.wire()
	return m
}

// wire forwards session callbacks into the bubbletea event loop. Callbacks
// fire on session goroutines; the buffered channel decouples them and a full
// buffer drops UI-only updates rather than blocking audio.
func (m *Model) wire() {
	push := func(msg tea.Msg) {
		select {
		case m.events <- msg:
		default:
		}
	}
	rec := m.sess.Reconciler()
	rec.OnChange = func() { push(transcriptChangedMsg{}) }
	rec.OnPreview = func(p transcript.Preview) { push(previewMsg{Preview: p}) }
	m.sess.Engine().OnLevel = func(level float64) { push(levelMsg{Level: level}) }
	m.sess.OnError = func(err error) { push(sessionErrorMsg{Err: err}) }
	m.sess.Registry().OnSyncError = func(err error) {
		push(noticeMsg{Text: fmt.Sprintf("Speaker sync failed: %v (kept locally)", err)})
	}
	orch := m.sess.Summarizer()
	orch.OnStatus = func(st summary.Status) { push(summaryStatusMsg{Status: st}) }
	orch.OnNotice = func(text string) { push(noticeMsg{Text: text}) }
}

// Init starts the session and begins pumping events.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.startCmd(), m.waitEvent())
}

func (m *Model) startCmd() tea.Cmd {
	return func() tea.Msg {
		stop, err := m.sess.Start(context.Background())
		if err != nil {
			return sessionErrorMsg{Err: err}
		}
		m.stop = stop
		return noticeMsg{Text: "Recording"}
	}
}

// waitEvent blocks on the next session event.
func (m *Model) waitEvent() tea.Cmd {
	return func() tea.Msg {
		return <-m.events
	}
}

// Update handles one message.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.shutdown()
			return m, tea.Quit
		case "s":
			if m.recording {
				m.shutdown()
				m.notice = "Stopped"
			}
			return m, nil
		case "g":
			m.sess.GenerateSummary(context.Background(), "")
			return m, nil
		}
		return m, nil

	case transcriptChangedMsg:
		m.entries = m.sess.Reconciler().Snapshot()
		return m, m.waitEvent()

	case previewMsg:
		m.preview = msg.Preview
		return m, m.waitEvent()

	case levelMsg:
		m.level = msg.Level
		return m, m.waitEvent()

	case summaryStatusMsg:
		m.summaryStatus = msg.Status
		return m, m.waitEvent()

	case sessionErrorMsg:
		m.errText = msg.Err.Error()
		m.recording = false
		return m, m.waitEvent()

	case noticeMsg:
		if msg.Text == "Recording" {
			m.recording = true
		}
		m.notice = msg.Text
		return m, m.waitEvent()
	}
	return m, nil
}

func (m *Model) shutdown() {
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	m.recording = false
}

// View renders the whole screen.
func (m *Model) View() string {
	var b strings.Builder

	dot := idleDotStyle.Render("●")
	if m.recording {
		dot = recordingDotStyle.Render("●")
	}
	b.WriteString(fmt.Sprintf("%s %s  %s\n", dot, titleStyle.Render(m.title), m.levelMeter()))
	b.WriteString(strings.Repeat("─", max(20, m.width)) + "\n")

	visible := m.entries
	maxLines := m.height - 6
	if maxLines > 0 && len(visible) > maxLines {
		visible = visible[len(visible)-maxLines:]
	}
	for _, seg := range visible {
		line := seg.Text
		if seg.SpeakerID != "" {
			line = speakerStyle.Render(seg.SpeakerID+":") + " " + seg.Text
		}
		if seg.IsProvisional {
			line = provisionalStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	if m.preview.Text != "" {
		b.WriteString(previewStyle.Render("… "+m.preview.Text) + "\n")
	}

	b.WriteString("\n")
	if m.errText != "" {
		b.WriteString(errorStyle.Render("error: "+m.errText) + "\n")
	}
	status := fmt.Sprintf("summary: %s", m.summaryStatus)
	if m.notice != "" {
		status += "  |  " + m.notice
	}
	b.WriteString(statusStyle.Render(status) + "\n")
	if res := m.sess.Summarizer().Summary(); res != nil && m.summaryStatus == summary.StatusCompleted {
		b.WriteString(summaryStyle.Render(res.Summary) + "\n")
	}
	b.WriteString(statusStyle.Render("[s] stop  [g] summary  [q] quit"))
	return b.String()
}

// levelMeter draws a 10-cell bar for the microphone level.
func (m *Model) levelMeter() string {
	filled := int(m.level * 10)
	if filled > 10 {
		filled = 10
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat(" ", 10-filled) + "]"
}
