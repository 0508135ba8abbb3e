// Package session wires one meeting's capture, transport, reconciliation,
// speaker and summary components together and owns their lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hainguyenvie/vmeeting/internal/audio"
	"github.com/hainguyenvie/vmeeting/internal/speaker"
	"github.com/hainguyenvie/vmeeting/internal/summary"
	"github.com/hainguyenvie/vmeeting/internal/transcript"
	"github.com/hainguyenvie/vmeeting/internal/transport"
)

// Channel is the transport surface a session needs; *transport.Channel
// satisfies it.
type Channel interface {
	Connect() error
	Disconnect() error
	Send(msgType string, payload interface{}) error
	SendBinary(buf []byte) error
	Subscribe(msgType string, fn transport.Handler) func()
	SubscribeStatus(fn transport.StatusHandler) func()
	Err() error
}

// Backend bundles the remote collaborators one meeting needs.
type Backend interface {
	transcript.Store
	speaker.Corrector
	summary.Generator
}

// Config describes one meeting session.
type Config struct {
	MeetingID      string
	BaseURL        string // http(s) backend base
	WSBaseURL      string // ws(s) base for the audio and transcript channels
	Capture        audio.Config
	PreviewTimeout time.Duration
}

// AudioURL returns the audio ingress endpoint for a meeting.
func (c Config) AudioURL() string {
	return fmt.Sprintf("%s/ws/audio/%s", strings.TrimRight(c.WSBaseURL, "/"), c.MeetingID)
}

// EventsURL returns the transcript egress endpoint for a meeting.
func (c Config) EventsURL() string {
	return fmt.Sprintf("%s/ws/transcripts/%s", strings.TrimRight(c.WSBaseURL, "/"), c.MeetingID)
}

// Session owns one meeting end to end: microphone to reconciled transcript
// to summary. Construct one per meeting; never share across meetings.
type Session struct {
	cfg     Config
	audioCh Channel
	eventCh Channel
	engine  *audio.Engine
	backend Backend

	reconciler   *transcript.Reconciler
	registry     *speaker.Registry
	orchestrator *summary.Orchestrator

	// OnError receives terminal failures: permission denial, device loss,
	// reconnect exhaustion.
	OnError func(err error)

	mu      sync.Mutex
	started bool
	stopped bool
	unsubs  []func()
}

// New wires a session from its parts. Channels are injectable so tests can
// run without sockets; Dial builds the real ones.
func New(cfg Config, source audio.Source, audioCh, eventCh Channel, be Backend) *Session {
	s := &Session{
		cfg:     cfg,
		audioCh: audioCh,
		eventCh: eventCh,
		backend: be,
	}
	s.reconciler = transcript.NewReconciler(cfg.MeetingID, cfg.PreviewTimeout)
	s.registry = speaker.NewRegistry(cfg.MeetingID, s.reconciler, be)
	s.orchestrator = summary.NewOrchestrator(cfg.MeetingID, be)
	s.engine = audio.NewEngine(source, audioCh, cfg.Capture)
	s.engine.OnError = func(err error) { s.fail(err) }
	return s
}

// Dial constructs a session with real WebSocket channels.
func Dial(cfg Config, source audio.Source, be Backend) *Session {
	return New(cfg, source, transport.NewChannel(cfg.AudioURL()), transport.NewChannel(cfg.EventsURL()), be)
}

// Engine exposes the capture engine for level metering.
func (s *Session) Engine() *audio.Engine { return s.engine }

// Reconciler exposes the transcript state for UI consumption.
func (s *Session) Reconciler() *transcript.Reconciler { return s.reconciler }

// Registry exposes speaker corrections.
func (s *Session) Registry() *speaker.Registry { return s.registry }

// Summarizer exposes the summary state machine.
func (s *Session) Summarizer() *summary.Orchestrator { return s.orchestrator }

// Start opens both channels and begins streaming. It returns a stop function
// running the full teardown sequence; Start failing cleans up after itself.
func (s *Session) Start(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil, errors.New("session: already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.eventCh.Connect(); err != nil {
		return nil, err
	}
	s.subscribeEvents()

	if err := s.audioCh.Connect(); err != nil {
		s.teardownEvents()
		_ = s.eventCh.Disconnect()
		return nil, err
	}

	if err := s.engine.Start(ctx); err != nil {
		s.teardownEvents()
		_ = s.audioCh.Disconnect()
		_ = s.eventCh.Disconnect()
		return nil, err
	}

	log.Printf("session %s: recording started", s.cfg.MeetingID)
	return s.stop, nil
}

// subscribeEvents routes transcript frames into the reconciler with speaker
// identifiers mapped through the registry, and watches both channels for
// terminal transport failure.
func (s *Session) subscribeEvents() {
	handle := func(msg []byte) {
		f, err := transcript.ParseFrame(msg)
		if err != nil {
			log.Printf("session %s: %v", s.cfg.MeetingID, err)
			return
		}
		if f.Speaker != "" {
			s.registry.Observe(f.Speaker)
			f.Speaker = s.registry.Display(f.Speaker)
		}
		s.reconciler.Handle(f)
	}
	watch := func(ch Channel) transport.StatusHandler {
		return func(st transport.Status, attempt int) {
			if st == transport.StatusError {
				if err := ch.Err(); err != nil {
					s.fail(err)
				}
			}
		}
	}

	s.mu.Lock()
	s.unsubs = append(s.unsubs,
		s.eventCh.Subscribe(transcript.TypePreview, handle),
		s.eventCh.Subscribe(transcript.TypeLive, handle),
		s.eventCh.Subscribe(transcript.TypeFinal, handle),
		s.eventCh.SubscribeStatus(watch(s.eventCh)),
		s.audioCh.SubscribeStatus(watch(s.audioCh)),
	)
	s.mu.Unlock()
}

func (s *Session) teardownEvents() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, un := range unsubs {
		un()
	}
}

// stop runs the recording teardown: engine stop (which flushes, signals the
// backend and closes the audio socket), provisional cleanup, a refresh from
// the durable record, then the event socket.
func (s *Session) stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.engine.Stop()
	s.reconciler.ClearProvisional()

	refreshCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := s.reconciler.Refresh(refreshCtx, refreshSource{store: s.backend, registry: s.registry}); err != nil {
		// local state stays; the durable record can be fetched again later
		log.Printf("session %s: post-stop refresh: %v", s.cfg.MeetingID, err)
	}
	cancel()

	s.teardownEvents()
	_ = s.eventCh.Disconnect()
	s.registry.Close()
	log.Printf("session %s: recording stopped", s.cfg.MeetingID)
}

// GenerateSummary feeds the current reconciled transcript to the
// orchestrator.
func (s *Session) GenerateSummary(ctx context.Context, prompt string) {
	s.orchestrator.Generate(ctx, s.reconciler.Text(), prompt)
}

// refreshSource maps stored speaker ids through the registry before they
// reach the reconciler. Corrections are best-effort on the backend, so a
// refreshed row may still carry an id that was renamed or merged away
// locally; the local correction wins for the rest of the session.
type refreshSource struct {
	store    transcript.Store
	registry *speaker.Registry
}

func (r refreshSource) GetTranscripts(ctx context.Context, meetingID string) ([]transcript.Segment, error) {
	segs, err := r.store.GetTranscripts(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	for i := range segs {
		if segs[i].SpeakerID != "" {
			segs[i].SpeakerID = r.registry.Display(segs[i].SpeakerID)
		}
	}
	return segs, nil
}

// fail reports a terminal session error once per cause.
func (s *Session) fail(err error) {
	log.Printf("session %s: %v", s.cfg.MeetingID, err)
	if s.OnError != nil {
		s.OnError(err)
	}
}
