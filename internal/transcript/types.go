// Package transcript reconciles streaming transcription events into one
// ordered, deduplicated timeline.
package transcript

import (
	"encoding/json"
	"fmt"
)

// Frame kinds delivered on the transcript channel.
const (
	TypePreview = "preview"
	// TypeLive carries low-latency provisional segments that are shown in
	// the durable list until a matching final supersedes them.
	TypeLive = "live_transcript"
	// TypeFinal carries authoritative segments from the full pipeline.
	TypeFinal  = "transcript"
	TypeStatus = "status"
)

// Frame is the discriminated union decoded from a transcript channel text
// frame. Only the fields for its Type are meaningful.
type Frame struct {
	Type       string   `json:"type"`
	Transcript string   `json:"transcript"`
	Speaker    string   `json:"speaker,omitempty"`
	Timestamp  string   `json:"timestamp"`
	MeetingID  string   `json:"meeting_id,omitempty"`
	IsFinal    bool     `json:"is_final,omitempty"`
	StartTime  *float64 `json:"start_time,omitempty"`
	EndTime    *float64 `json:"end_time,omitempty"`

	// Dual-provider linkage: a provisional carries its own sequence id; the
	// final that supersedes it points back via replaces_sequence_id.
	SequenceID         int64  `json:"sequence_id,omitempty"`
	ReplacesSequenceID *int64 `json:"replaces_sequence_id,omitempty"`
	ChunkID            string `json:"chunk_id,omitempty"`
	Provider           string `json:"provider,omitempty"`

	Status string `json:"status,omitempty"`
}

// ParseFrame validates a raw text frame at the boundary. Unrecognized or
// shape-invalid frames are rejected here so nothing malformed propagates
// inward.
func ParseFrame(msg []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, fmt.Errorf("transcript: decode frame: %w", err)
	}
	switch f.Type {
	case TypePreview:
		// empty transcript is legal: it clears the preview
		return f, nil
	case TypeLive, TypeFinal:
		if f.Transcript == "" {
			return Frame{}, fmt.Errorf("transcript: %s frame with empty text", f.Type)
		}
		return f, nil
	case TypeStatus:
		if f.Status == "" {
			return Frame{}, fmt.Errorf("transcript: status frame without status")
		}
		return f, nil
	case "":
		return Frame{}, fmt.Errorf("transcript: frame missing type")
	default:
		return Frame{}, fmt.Errorf("transcript: unrecognized frame type %q", f.Type)
	}
}

// Segment is one materialized entry in the reconciled timeline.
type Segment struct {
	ID        string
	MeetingID string
	// SpeakerID is the raw backend identifier; empty means unattributed.
	SpeakerID  string
	Text       string
	Timestamp  string
	AudioStart *float64
	AudioEnd   *float64

	SequenceID         int64
	IsProvisional      bool
	Provider           string
	ChunkID            string
	ReplacesSequenceID *int64
}
