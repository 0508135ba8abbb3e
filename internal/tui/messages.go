package tui

import (
	"github.com/hainguyenvie/vmeeting/internal/summary"
	"github.com/hainguyenvie/vmeeting/internal/transcript"
)

// transcriptChangedMsg signals that the durable transcript list mutated.
type transcriptChangedMsg struct{}

// previewMsg carries the ephemeral live view; empty text clears it.
type previewMsg struct {
	Preview transcript.Preview
}

// levelMsg carries the normalized 0..1 microphone level.
type levelMsg struct {
	Level float64
}

// summaryStatusMsg tracks the summary state machine.
type summaryStatusMsg struct {
	Status summary.Status
}

// sessionErrorMsg carries a terminal session failure.
type sessionErrorMsg struct {
	Err error
}

// noticeMsg carries a transient user-facing message.
type noticeMsg struct {
	Text string
}
