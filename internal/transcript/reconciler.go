package transcript

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultPreviewTimeout clears a stale preview after this much inactivity.
const DefaultPreviewTimeout = 3 * time.Second

// Store is the external source of record a Refresh rebuilds from.
type Store interface {
	GetTranscripts(ctx context.Context, meetingID string) ([]Segment, error)
}

// Preview is the transient live view; it never enters the durable list.
type Preview struct {
	Text      string
	Speaker   string
	Timestamp string
}

// Reconciler owns the canonical ordered segment list for one meeting.
// It is a read-through, non-persistent cache: durable storage belongs to the
// backend. All mutation happens behind one mutex; rename/merge rewrites must
// never interleave with appends.
type Reconciler struct {
	meetingID      string
	previewTimeout time.Duration

	// OnChange fires after every durable-list mutation.
	OnChange func()
	// OnPreview fires on every preview update; empty text means cleared.
	OnPreview func(p Preview)

	mu           sync.Mutex
	segments     []*Segment
	preview      Preview
	previewTimer *time.Timer
}

// NewReconciler constructs a reconciler for a meeting. A zero timeout takes
// DefaultPreviewTimeout.
func NewReconciler(meetingID string, previewTimeout time.Duration) *Reconciler {
	if previewTimeout == 0 {
		previewTimeout = DefaultPreviewTimeout
	}
	return &Reconciler{meetingID: meetingID, previewTimeout: previewTimeout}
}

// Handle applies one validated frame.
func (r *Reconciler) Handle(f Frame) {
	switch f.Type {
	case TypePreview:
		r.handlePreview(f)
	case TypeLive:
		r.handleProvisional(f)
	case TypeFinal:
		r.handleFinal(f)
	}
}

// HandleRaw parses and applies a raw text frame, dropping invalid ones.
func (r *Reconciler) HandleRaw(msg []byte) {
	f, err := ParseFrame(msg)
	if err != nil {
		log.Printf("transcript: %v", err)
		return
	}
	r.Handle(f)
}

func (r *Reconciler) handlePreview(f Frame) {
	r.mu.Lock()
	r.preview = Preview{Text: f.Transcript, Speaker: f.Speaker, Timestamp: f.Timestamp}
	p := r.preview
	if r.previewTimer == nil {
		r.previewTimer = time.AfterFunc(r.previewTimeout, r.clearPreview)
	} else {
		r.previewTimer.Stop()
		r.previewTimer.Reset(r.previewTimeout)
	}
	r.mu.Unlock()

	if r.OnPreview != nil {
		r.OnPreview(p)
	}
}

func (r *Reconciler) clearPreview() {
	r.mu.Lock()
	if r.preview.Text == "" {
		r.mu.Unlock()
		return
	}
	r.preview = Preview{}
	r.mu.Unlock()
	if r.OnPreview != nil {
		r.OnPreview(Preview{})
	}
}

// handleProvisional materializes a low-latency segment. At most one
// provisional per chunk id is displayed: a newer one for the same chunk
// replaces it in place.
func (r *Reconciler) handleProvisional(f Frame) {
	r.mu.Lock()
	if f.ChunkID != "" {
		for _, seg := range r.segments {
			if seg.IsProvisional && seg.ChunkID == f.ChunkID {
				seg.Text = f.Transcript
				seg.Timestamp = f.Timestamp
				seg.SpeakerID = f.Speaker
				seg.SequenceID = f.SequenceID
				r.mu.Unlock()
				r.changed()
				return
			}
		}
	}
	if f.SequenceID != 0 {
		for _, seg := range r.segments {
			if seg.SequenceID == f.SequenceID {
				// duplicate delivery of the same producer segment
				r.mu.Unlock()
				return
			}
		}
	}
	seg := segmentFromFrame(f, r.meetingID, true)
	r.insert(seg)
	r.mu.Unlock()
	r.changed()
}

// handleFinal applies a durable segment. Id-based supersession is canonical;
// content dedup is only a secondary guard for finals with no linkage.
func (r *Reconciler) handleFinal(f Frame) {
	r.mu.Lock()
	if f.ReplacesSequenceID != nil {
		for _, seg := range r.segments {
			if seg.IsProvisional && seg.SequenceID == *f.ReplacesSequenceID {
				// replace in place: same position, final text
				seg.Text = f.Transcript
				seg.Timestamp = f.Timestamp
				if f.Speaker != "" {
					seg.SpeakerID = f.Speaker
				}
				seg.AudioStart = f.StartTime
				seg.AudioEnd = f.EndTime
				seg.SequenceID = f.SequenceID
				seg.IsProvisional = false
				seg.Provider = f.Provider
				seg.ChunkID = f.ChunkID
				seg.ReplacesSequenceID = f.ReplacesSequenceID
				r.mu.Unlock()
				r.changed()
				return
			}
		}
		// no matching provisional: fall through to a positional insert
	} else {
		for _, seg := range r.segments {
			if seg.Timestamp == f.Timestamp && seg.Text == f.Transcript {
				// redundant delivery describing the same utterance
				r.mu.Unlock()
				return
			}
		}
	}
	seg := segmentFromFrame(f, r.meetingID, false)
	r.insert(seg)
	r.mu.Unlock()
	r.changed()
}

func segmentFromFrame(f Frame, meetingID string, provisional bool) *Segment {
	if meetingID == "" {
		meetingID = f.MeetingID
	}
	return &Segment{
		ID:                 uuid.NewString(),
		MeetingID:          meetingID,
		SpeakerID:          f.Speaker,
		Text:               f.Transcript,
		Timestamp:          f.Timestamp,
		AudioStart:         f.StartTime,
		AudioEnd:           f.EndTime,
		SequenceID:         f.SequenceID,
		IsProvisional:      provisional,
		Provider:           f.Provider,
		ChunkID:            f.ChunkID,
		ReplacesSequenceID: f.ReplacesSequenceID,
	}
}

// insert places a segment by ascending audio start time. Untimed segments
// append in arrival order after everything already present. Caller holds the
// lock.
func (r *Reconciler) insert(seg *Segment) {
	if seg.AudioStart == nil {
		r.segments = append(r.segments, seg)
		return
	}
	pos := len(r.segments)
	for i, existing := range r.segments {
		if existing.AudioStart != nil && *existing.AudioStart > *seg.AudioStart {
			pos = i
			break
		}
	}
	r.segments = append(r.segments, nil)
	copy(r.segments[pos+1:], r.segments[pos:])
	r.segments[pos] = seg
}

func (r *Reconciler) changed() {
	if r.OnChange != nil {
		r.OnChange()
	}
}

// Snapshot returns a copy of the materialized list in display order.
func (r *Reconciler) Snapshot() []Segment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Segment, len(r.segments))
	for i, seg := range r.segments {
		out[i] = *seg
	}
	return out
}

// CurrentPreview returns the live ephemeral view, if any.
func (r *Reconciler) CurrentPreview() Preview {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.preview
}

// Text joins the durable list into the plain transcript used for
// summarization.
func (r *Reconciler) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []byte
	for i, seg := range r.segments {
		if i > 0 {
			out = append(out, '\n')
		}
		if seg.SpeakerID != "" {
			out = append(out, seg.SpeakerID...)
			out = append(out, ": "...)
		}
		out = append(out, seg.Text...)
	}
	return string(out)
}

// RewriteSpeaker retags every materialized segment from oldID to newID.
// Returns how many segments changed.
func (r *Reconciler) RewriteSpeaker(oldID, newID string) int {
	r.mu.Lock()
	var n int
	for _, seg := range r.segments {
		if seg.SpeakerID == oldID {
			seg.SpeakerID = newID
			n++
		}
	}
	r.mu.Unlock()
	if n > 0 {
		r.changed()
	}
	return n
}

// ClearProvisional drops the provisional working set and the preview.
// Called on recording stop; finals stay until an explicit Refresh.
func (r *Reconciler) ClearProvisional() {
	r.mu.Lock()
	kept := r.segments[:0]
	for _, seg := range r.segments {
		if !seg.IsProvisional {
			kept = append(kept, seg)
		}
	}
	changed := len(kept) != len(r.segments)
	r.segments = kept
	if r.previewTimer != nil {
		r.previewTimer.Stop()
	}
	hadPreview := r.preview.Text != ""
	r.preview = Preview{}
	r.mu.Unlock()

	if hadPreview && r.OnPreview != nil {
		r.OnPreview(Preview{})
	}
	if changed {
		r.changed()
	}
}

// Refresh discards local state and rebuilds from the source of record,
// absorbing backend post-processing such as delayed diarization.
func (r *Reconciler) Refresh(ctx context.Context, store Store) error {
	segs, err := store.GetTranscripts(ctx, r.meetingID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.segments = make([]*Segment, 0, len(segs))
	for i := range segs {
		seg := segs[i]
		seg.IsProvisional = false
		r.insert(&seg)
	}
	r.mu.Unlock()
	r.changed()
	return nil
}
