package transcript

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int64) *int64     { return &v }

func TestParseFrame(t *testing.T) {
	cases := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"final ok", `{"type":"transcript","transcript":"hello","timestamp":"t1"}`, false},
		{"live ok", `{"type":"live_transcript","transcript":"hi","speaker":"SPEAKER_00"}`, false},
		{"preview empty text ok", `{"type":"preview","transcript":""}`, false},
		{"status ok", `{"type":"status","status":"stopped"}`, false},
		{"final empty text", `{"type":"transcript","transcript":""}`, true},
		{"status missing status", `{"type":"status"}`, true},
		{"missing type", `{"transcript":"x"}`, true},
		{"unknown type", `{"type":"bogus"}`, true},
		{"not json", `nope`, true},
	}
	for _, tc := range cases {
		_, err := ParseFrame([]byte(tc.in))
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestReconciler_PreviewNeverMaterializesAndAutoClears(t *testing.T) {
	r := NewReconciler("m1", 50*time.Millisecond)
	previews := make(chan Preview, 10)
	r.OnPreview = func(p Preview) { previews <- p }

	r.Handle(Frame{Type: TypePreview, Transcript: "xin chào", Timestamp: "t0"})
	if got := <-previews; got.Text != "xin chào" {
		t.Fatalf("preview text: %q", got.Text)
	}
	if len(r.Snapshot()) != 0 {
		t.Fatal("preview must not enter the durable list")
	}

	// the matching final arrives later with no linkage
	r.Handle(Frame{Type: TypeFinal, Transcript: "Xin chào các bạn", Timestamp: "t2", SequenceID: 5})
	segs := r.Snapshot()
	if len(segs) != 1 {
		t.Fatalf("durable list: got %d entries, want 1", len(segs))
	}
	if segs[0].Text != "Xin chào các bạn" || segs[0].IsProvisional {
		t.Fatalf("unexpected durable entry: %+v", segs[0])
	}

	// even with no final, the preview clears after the inactivity timeout
	r.Handle(Frame{Type: TypePreview, Transcript: "lingering", Timestamp: "t3"})
	<-previews // the update itself
	select {
	case got := <-previews:
		if got.Text != "" {
			t.Fatalf("expected cleared preview, got %q", got.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("preview never cleared")
	}
	if r.CurrentPreview().Text != "" {
		t.Fatal("preview still set after timeout")
	}
}

func TestReconciler_NewPreviewReplacesOld(t *testing.T) {
	r := NewReconciler("m1", time.Minute)
	r.Handle(Frame{Type: TypePreview, Transcript: "first"})
	r.Handle(Frame{Type: TypePreview, Transcript: "second"})
	if got := r.CurrentPreview().Text; got != "second" {
		t.Fatalf("preview: got %q want %q", got, "second")
	}
}

func TestReconciler_SupersessionReplacesInPlace(t *testing.T) {
	r := NewReconciler("m1", time.Minute)
	r.Handle(Frame{Type: TypeFinal, Transcript: "earlier", Timestamp: "t0", StartTime: fptr(1.0)})
	r.Handle(Frame{Type: TypeLive, Transcript: "quick draft", Timestamp: "t1", SequenceID: 3, ChunkID: "c1", StartTime: fptr(4.0)})
	r.Handle(Frame{Type: TypeFinal, Transcript: "later", Timestamp: "t2", StartTime: fptr(9.0)})

	r.Handle(Frame{
		Type: TypeFinal, Transcript: "polished text", Timestamp: "t3",
		SequenceID: 7, ReplacesSequenceID: iptr(3), StartTime: fptr(4.0), Provider: "whisper",
	})

	segs := r.Snapshot()
	if len(segs) != 3 {
		t.Fatalf("got %d entries, want 3", len(segs))
	}
	mid := segs[1]
	if mid.Text != "polished text" || mid.IsProvisional || mid.SequenceID != 7 {
		t.Fatalf("supersession did not replace in place: %+v", mid)
	}
	for _, seg := range segs {
		if seg.IsProvisional {
			t.Fatalf("leftover provisional after final: %+v", seg)
		}
	}
}

func TestReconciler_SupersessionWithoutMatchInsertsByStartTime(t *testing.T) {
	r := NewReconciler("m1", time.Minute)
	r.Handle(Frame{Type: TypeFinal, Transcript: "a", Timestamp: "t0", StartTime: fptr(0.0)})
	r.Handle(Frame{Type: TypeFinal, Transcript: "c", Timestamp: "t1", StartTime: fptr(10.0)})

	r.Handle(Frame{Type: TypeFinal, Transcript: "b", Timestamp: "t2", SequenceID: 9, ReplacesSequenceID: iptr(99), StartTime: fptr(5.0)})

	segs := r.Snapshot()
	if len(segs) != 3 {
		t.Fatalf("got %d entries, want 3", len(segs))
	}
	if segs[1].Text != "b" {
		t.Fatalf("expected positional insert, order: %q %q %q", segs[0].Text, segs[1].Text, segs[2].Text)
	}
}

func TestReconciler_ContentDuplicateNeverMaterializedTwice(t *testing.T) {
	r := NewReconciler("m1", time.Minute)
	f := Frame{Type: TypeFinal, Transcript: "same words", Timestamp: "2025-01-01T00:00:00", Speaker: "SPEAKER_00"}
	r.Handle(f)
	r.Handle(f) // second producer describing the same utterance
	if got := len(r.Snapshot()); got != 1 {
		t.Fatalf("content duplicate materialized: %d entries", got)
	}
	// same text at a different timestamp is a genuine new utterance
	f.Timestamp = "2025-01-01T00:00:05"
	r.Handle(f)
	if got := len(r.Snapshot()); got != 2 {
		t.Fatalf("distinct timestamp wrongly deduplicated: %d entries", got)
	}
}

func TestReconciler_OneProvisionalPerChunk(t *testing.T) {
	r := NewReconciler("m1", time.Minute)
	r.Handle(Frame{Type: TypeLive, Transcript: "dra", Timestamp: "t0", SequenceID: 1, ChunkID: "c1"})
	r.Handle(Frame{Type: TypeLive, Transcript: "draft", Timestamp: "t1", SequenceID: 2, ChunkID: "c1"})
	segs := r.Snapshot()
	if len(segs) != 1 {
		t.Fatalf("got %d provisionals for one chunk, want 1", len(segs))
	}
	if segs[0].Text != "draft" || segs[0].SequenceID != 2 {
		t.Fatalf("newer provisional did not replace: %+v", segs[0])
	}
}

func TestReconciler_DuplicateSequenceIgnored(t *testing.T) {
	r := NewReconciler("m1", time.Minute)
	r.Handle(Frame{Type: TypeLive, Transcript: "once", Timestamp: "t0", SequenceID: 4})
	r.Handle(Frame{Type: TypeLive, Transcript: "again", Timestamp: "t1", SequenceID: 4})
	segs := r.Snapshot()
	if len(segs) != 1 || segs[0].Text != "once" {
		t.Fatalf("duplicate sequence delivery materialized: %+v", segs)
	}
}

func TestReconciler_UntimedEntriesAnchorAfterTimed(t *testing.T) {
	r := NewReconciler("m1", time.Minute)
	r.Handle(Frame{Type: TypeFinal, Transcript: "timed-1", Timestamp: "t0", StartTime: fptr(1.0)})
	r.Handle(Frame{Type: TypeFinal, Transcript: "untimed-a", Timestamp: "t1"})
	r.Handle(Frame{Type: TypeFinal, Transcript: "untimed-b", Timestamp: "t2"})
	r.Handle(Frame{Type: TypeFinal, Transcript: "timed-0", Timestamp: "t3", StartTime: fptr(0.5)})

	var order []string
	for _, seg := range r.Snapshot() {
		order = append(order, seg.Text)
	}
	want := []string{"timed-0", "timed-1", "untimed-a", "untimed-b"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order %v, want %v", order, want)
		}
	}
}

func TestReconciler_ClearProvisionalKeepsFinals(t *testing.T) {
	r := NewReconciler("m1", time.Minute)
	r.Handle(Frame{Type: TypeFinal, Transcript: "keep", Timestamp: "t0"})
	r.Handle(Frame{Type: TypeLive, Transcript: "drop", Timestamp: "t1", SequenceID: 1})
	r.Handle(Frame{Type: TypePreview, Transcript: "gone", Timestamp: "t2"})

	r.ClearProvisional()

	segs := r.Snapshot()
	if len(segs) != 1 || segs[0].Text != "keep" {
		t.Fatalf("after clear: %+v", segs)
	}
	if r.CurrentPreview().Text != "" {
		t.Fatal("preview survived ClearProvisional")
	}
}

type fakeStore struct {
	segs []Segment
	err  error
}

func (f *fakeStore) GetTranscripts(ctx context.Context, meetingID string) ([]Segment, error) {
	return f.segs, f.err
}

func TestReconciler_RefreshRebuildsFromStore(t *testing.T) {
	r := NewReconciler("m1", time.Minute)
	r.Handle(Frame{Type: TypeFinal, Transcript: "stale", Timestamp: "t0"})

	store := &fakeStore{segs: []Segment{
		{Text: "second", AudioStart: fptr(5.0), SpeakerID: "SPEAKER_01"},
		{Text: "first", AudioStart: fptr(1.0), SpeakerID: "SPEAKER_00"},
	}}
	if err := r.Refresh(context.Background(), store); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	segs := r.Snapshot()
	if len(segs) != 2 || segs[0].Text != "first" || segs[1].Text != "second" {
		t.Fatalf("refresh result: %+v", segs)
	}

	store.err = errors.New("backend down")
	if err := r.Refresh(context.Background(), store); err == nil {
		t.Fatal("expected refresh error")
	}
	// failed refresh leaves prior state intact
	if got := len(r.Snapshot()); got != 2 {
		t.Fatalf("failed refresh clobbered state: %d entries", got)
	}
}

func TestReconciler_RewriteSpeaker(t *testing.T) {
	r := NewReconciler("m1", time.Minute)
	r.Handle(Frame{Type: TypeFinal, Transcript: "a", Timestamp: "t0", Speaker: "SPEAKER_00"})
	r.Handle(Frame{Type: TypeFinal, Transcript: "b", Timestamp: "t1", Speaker: "SPEAKER_01"})
	r.Handle(Frame{Type: TypeFinal, Transcript: "c", Timestamp: "t2", Speaker: "SPEAKER_00"})

	if n := r.RewriteSpeaker("SPEAKER_00", "Lan"); n != 2 {
		t.Fatalf("rewrote %d segments, want 2", n)
	}
	for _, seg := range r.Snapshot() {
		if seg.SpeakerID == "SPEAKER_00" {
			t.Fatalf("segment still tagged with old id: %+v", seg)
		}
	}
}

func TestReconciler_TextJoinsWithSpeakers(t *testing.T) {
	r := NewReconciler("m1", time.Minute)
	r.Handle(Frame{Type: TypeFinal, Transcript: "hello", Timestamp: "t0", Speaker: "Lan"})
	r.Handle(Frame{Type: TypeFinal, Transcript: "hi", Timestamp: "t1"})
	want := "Lan: hello\nhi"
	if got := r.Text(); got != want {
		t.Fatalf("text: %q want %q", got, want)
	}
}
