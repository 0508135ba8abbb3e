package speaker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeRewriter struct {
	mu    sync.Mutex
	calls [][2]string
}

func (f *fakeRewriter) RewriteSpeaker(oldID, newID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]string{oldID, newID})
	return 1
}

type fakeCorrector struct {
	mu      sync.Mutex
	renames [][3]string
	merges  [][3]string
	err     error
	got     chan struct{}
}

func (f *fakeCorrector) RenameSpeaker(ctx context.Context, meetingID, oldName, newName string) error {
	f.mu.Lock()
	f.renames = append(f.renames, [3]string{meetingID, oldName, newName})
	err := f.err
	f.mu.Unlock()
	if f.got != nil {
		f.got <- struct{}{}
	}
	return err
}

func (f *fakeCorrector) MergeSpeakers(ctx context.Context, meetingID, from, to string) error {
	f.mu.Lock()
	f.merges = append(f.merges, [3]string{meetingID, from, to})
	err := f.err
	f.mu.Unlock()
	if f.got != nil {
		f.got <- struct{}{}
	}
	return err
}

func TestRegistry_RenameRetagsEverythingAndSyncs(t *testing.T) {
	rw := &fakeRewriter{}
	fc := &fakeCorrector{got: make(chan struct{}, 1)}
	r := NewRegistry("m1", rw, fc)
	defer r.Close()

	r.Observe("SPEAKER_00")
	r.Rename("SPEAKER_00", "Lan")

	if got := r.Display("SPEAKER_00"); got != "Lan" {
		t.Fatalf("late frame display: got %q want Lan", got)
	}
	rw.mu.Lock()
	calls := append([][2]string(nil), rw.calls...)
	rw.mu.Unlock()
	if len(calls) != 1 || calls[0] != [2]string{"SPEAKER_00", "Lan"} {
		t.Fatalf("rewrite calls: %v", calls)
	}
	for _, name := range r.Speakers() {
		if name == "SPEAKER_00" {
			t.Fatal("old id still in speaker set")
		}
	}

	select {
	case <-fc.got:
	case <-time.After(2 * time.Second):
		t.Fatal("backend rename never dispatched")
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.renames) != 1 || fc.renames[0] != [3]string{"m1", "SPEAKER_00", "Lan"} {
		t.Fatalf("backend renames: %v", fc.renames)
	}
}

func TestRegistry_MergeExcludesFromAndCatchesLateFrames(t *testing.T) {
	rw := &fakeRewriter{}
	fc := &fakeCorrector{got: make(chan struct{}, 1)}
	r := NewRegistry("m1", rw, fc)
	defer r.Close()

	r.Observe("SPEAKER_00")
	r.Observe("SPEAKER_01")
	r.Merge("SPEAKER_01", "SPEAKER_00")

	names := r.Speakers()
	sort.Strings(names)
	if len(names) != 1 || names[0] != "SPEAKER_00" {
		t.Fatalf("speaker set after merge: %v", names)
	}
	// the backend keeps tagging frames with the merged-away id
	if got := r.Display("SPEAKER_01"); got != "SPEAKER_00" {
		t.Fatalf("late frame for merged id: got %q", got)
	}

	select {
	case <-fc.got:
	case <-time.After(2 * time.Second):
		t.Fatal("backend merge never dispatched")
	}
}

func TestRegistry_ChainedMergeResolvesToFinalTarget(t *testing.T) {
	r := NewRegistry("m1", nil, nil)
	defer r.Close()

	r.Observe("a")
	r.Observe("b")
	r.Observe("c")
	r.Merge("a", "b")
	r.Merge("b", "c")

	if got := r.Display("a"); got != "c" {
		t.Fatalf("chained merge: got %q want c", got)
	}
	if got := len(r.Speakers()); got != 1 {
		t.Fatalf("speaker set size: %d", got)
	}
}

func TestRegistry_RenameAfterMergeFollowsRedirect(t *testing.T) {
	r := NewRegistry("m1", nil, nil)
	defer r.Close()

	r.Observe("a")
	r.Observe("b")
	r.Merge("a", "b")
	r.Rename("b", "Minh")

	if got := r.Display("a"); got != "Minh" {
		t.Fatalf("merged id after rename: got %q", got)
	}
	if got := r.Display("b"); got != "Minh" {
		t.Fatalf("renamed id: got %q", got)
	}
}

func TestRegistry_SyncFailureReportedWithoutRollback(t *testing.T) {
	fc := &fakeCorrector{err: errors.New("backend down"), got: make(chan struct{}, 1)}
	r := NewRegistry("m1", nil, fc)
	defer r.Close()

	failures := make(chan error, 1)
	r.OnSyncError = func(err error) { failures <- err }

	r.Observe("SPEAKER_00")
	r.Rename("SPEAKER_00", "Lan")

	select {
	case err := <-failures:
		if err == nil {
			t.Fatal("nil failure reported")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sync failure never reported")
	}
	// local state survives the failed propagation
	if got := r.Display("SPEAKER_00"); got != "Lan" {
		t.Fatalf("failed sync rolled back local state: %q", got)
	}
}

func TestRegistry_CorrectionsDispatchInOrder(t *testing.T) {
	fc := &fakeCorrector{got: make(chan struct{}, 4)}
	r := NewRegistry("m1", nil, fc)
	defer r.Close()

	r.Observe("a")
	r.Observe("b")
	r.Rename("a", "Lan")
	r.Merge("b", "Lan")

	for i := 0; i < 2; i++ {
		select {
		case <-fc.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("correction %d never dispatched", i)
		}
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.renames) != 1 || len(fc.merges) != 1 {
		t.Fatalf("dispatched renames=%v merges=%v", fc.renames, fc.merges)
	}
}

func TestRegistry_DisplayUnknownIsIdentity(t *testing.T) {
	r := NewRegistry("m1", nil, nil)
	defer r.Close()
	if got := r.Display("SPEAKER_07"); got != "SPEAKER_07" {
		t.Fatalf("unknown id: got %q", got)
	}
}
