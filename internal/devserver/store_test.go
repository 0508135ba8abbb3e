package devserver

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_MeetingLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	m, err := store.CreateMeeting(ctx, "weekly sync")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.ID == "" || m.Title != "weekly sync" {
		t.Fatalf("created meeting: %+v", m)
	}

	got, err := store.GetMeeting(ctx, m.ID)
	if err != nil || got == nil || got.ID != m.ID {
		t.Fatalf("get meeting: %+v err=%v", got, err)
	}
	if missing, err := store.GetMeeting(ctx, "nope"); err != nil || missing != nil {
		t.Fatalf("missing meeting: %+v err=%v", missing, err)
	}

	all, err := store.GetMeetings(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("list meetings: %v err=%v", all, err)
	}
}

func TestStore_TranscriptsOrderedAndRetagged(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	s1, e1 := 5.0, 6.0
	s2, e2 := 1.0, 2.0
	rows := []TranscriptRow{
		{MeetingID: "m1", Transcript: "second", Timestamp: "t1", Speaker: "SPEAKER_01", AudioStartTime: &s1, AudioEndTime: &e1},
		{MeetingID: "m1", Transcript: "first", Timestamp: "t2", Speaker: "SPEAKER_00", AudioStartTime: &s2, AudioEndTime: &e2},
		{MeetingID: "other", Transcript: "elsewhere", Timestamp: "t3", Speaker: "SPEAKER_00"},
	}
	for _, r := range rows {
		if err := store.InsertTranscript(ctx, r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := store.GetTranscripts(ctx, "m1")
	if err != nil {
		t.Fatalf("get transcripts: %v", err)
	}
	if len(got) != 2 || got[0].Transcript != "first" || got[1].Transcript != "second" {
		t.Fatalf("order: %+v", got)
	}

	n, err := store.RenameSpeaker(ctx, "m1", "SPEAKER_00", "Lan")
	if err != nil || n != 1 {
		t.Fatalf("rename: n=%d err=%v", n, err)
	}
	n, err = store.MergeSpeakers(ctx, "m1", "SPEAKER_01", "Lan")
	if err != nil || n != 1 {
		t.Fatalf("merge: n=%d err=%v", n, err)
	}

	got, _ = store.GetTranscripts(ctx, "m1")
	for _, r := range got {
		if r.Speaker != "Lan" {
			t.Fatalf("retag incomplete: %+v", r)
		}
	}
	// other meetings untouched
	other, _ := store.GetTranscripts(ctx, "other")
	if other[0].Speaker != "SPEAKER_00" {
		t.Fatalf("cross-meeting retag: %+v", other[0])
	}
}
