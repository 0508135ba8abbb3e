// Package speaker maps raw diarization identifiers to display names and
// propagates rename/merge corrections to the backend.
package speaker

import (
	"context"
	"errors"
	"log"
	"sync"
)

var errQueueFull = errors.New("speaker: correction queue full")

// Rewriter retags already-materialized transcript segments.
type Rewriter interface {
	RewriteSpeaker(oldID, newID string) int
}

// Corrector is the backend surface for speaker corrections.
type Corrector interface {
	RenameSpeaker(ctx context.Context, meetingID, oldName, newName string) error
	MergeSpeakers(ctx context.Context, meetingID, fromSpeaker, toSpeaker string) error
}

// Registry is the local source of truth for speaker identity. Rename and
// merge are optimistic: the local view changes immediately and backend
// propagation is queued fire-and-forget. A sync failure is reported through
// OnSyncError and never rolls local state back.
type Registry struct {
	meetingID string
	rewriter  Rewriter
	corrector Corrector

	// OnSyncError fires when a queued backend correction fails.
	OnSyncError func(err error)

	mu sync.Mutex
	// display maps a raw identifier to its display name.
	display map[string]string
	// redirect maps a merged-away identifier to its surviving target, so
	// frames the backend still tags with the old id keep landing right.
	redirect map[string]string

	jobs   chan func(ctx context.Context) error
	done   chan struct{}
	closed bool
}

const syncQueueDepth = 32

// NewRegistry starts the outbound sync worker. Corrector may be nil for a
// purely local registry.
func NewRegistry(meetingID string, rewriter Rewriter, corrector Corrector) *Registry {
	r := &Registry{
		meetingID: meetingID,
		rewriter:  rewriter,
		corrector: corrector,
		display:   make(map[string]string),
		redirect:  make(map[string]string),
		jobs:      make(chan func(ctx context.Context) error, syncQueueDepth),
		done:      make(chan struct{}),
	}
	go r.syncLoop()
	return r
}

// Display resolves a raw backend identifier to its current display name,
// following merge redirects first.
func (r *Registry) Display(raw string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.resolveLocked(raw)
	if name, ok := r.display[id]; ok {
		return name
	}
	return id
}

// resolveLocked follows the redirect chain. Merges can stack: after
// merge(a,b) then merge(b,c), frames tagged a must land on c.
func (r *Registry) resolveLocked(raw string) string {
	seen := 0
	for {
		next, ok := r.redirect[raw]
		if !ok {
			return raw
		}
		raw = next
		seen++
		if seen > len(r.redirect) {
			// defensive cap, a cycle would mean corrupted state
			return raw
		}
	}
}

// Observe registers a raw identifier so it shows up in Speakers even before
// any correction touches it.
func (r *Registry) Observe(raw string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.resolveLocked(raw)
	if _, ok := r.display[id]; !ok {
		r.display[id] = id
	}
}

// Speakers returns the current display names, merged-away ids excluded.
// Order is unspecified.
func (r *Registry) Speakers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.display))
	for _, name := range r.display {
		out = append(out, name)
	}
	return out
}

// Rename retags oldID as newName across the registry and every materialized
// segment, then queues the backend correction.
func (r *Registry) Rename(oldID, newName string) {
	r.mu.Lock()
	id := r.resolveLocked(oldID)
	delete(r.display, id)
	r.display[newName] = newName
	if id != newName {
		r.redirect[id] = newName
	}
	r.mu.Unlock()

	if r.rewriter != nil {
		n := r.rewriter.RewriteSpeaker(oldID, newName)
		log.Printf("speaker: rename %s -> %s retagged %d segments", oldID, newName, n)
	}
	r.enqueue(func(ctx context.Context) error {
		return r.corrector.RenameSpeaker(ctx, r.meetingID, oldID, newName)
	})
}

// Merge folds fromID into toID. fromID disappears from the speaker set and
// any later frame still tagged fromID keeps mapping to toID for the rest of
// the session.
func (r *Registry) Merge(fromID, toID string) {
	r.mu.Lock()
	from := r.resolveLocked(fromID)
	to := r.resolveLocked(toID)
	if from == to {
		r.mu.Unlock()
		return
	}
	delete(r.display, from)
	if _, ok := r.display[to]; !ok {
		r.display[to] = to
	}
	r.redirect[from] = to
	r.mu.Unlock()

	if r.rewriter != nil {
		n := r.rewriter.RewriteSpeaker(fromID, toID)
		log.Printf("speaker: merge %s -> %s retagged %d segments", fromID, toID, n)
	}
	r.enqueue(func(ctx context.Context) error {
		return r.corrector.MergeSpeakers(ctx, r.meetingID, fromID, toID)
	})
}

// enqueue hands a correction to the sync worker. A full queue drops the job
// with a report; corrections are best-effort by contract.
func (r *Registry) enqueue(job func(ctx context.Context) error) {
	if r.corrector == nil {
		return
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return
	}
	select {
	case r.jobs <- job:
	default:
		log.Printf("speaker: sync queue full, dropping correction")
		r.reportSyncError(errQueueFull)
	}
}

// syncLoop drains corrections one at a time in submission order.
func (r *Registry) syncLoop() {
	for {
		select {
		case <-r.done:
			return
		case job := <-r.jobs:
			if err := job(context.Background()); err != nil {
				log.Printf("speaker: correction sync: %v", err)
				r.reportSyncError(err)
			}
		}
	}
}

func (r *Registry) reportSyncError(err error) {
	if r.OnSyncError != nil {
		r.OnSyncError(err)
	}
}

// Close stops the sync worker. Queued corrections not yet started are
// abandoned.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()
	close(r.done)
}
