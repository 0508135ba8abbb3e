// Package rtc ingests a remote participant's WebRTC audio and exposes it as
// a capture source, so browser-shared meeting audio flows through the same
// pipeline as a local microphone.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/hainguyenvie/vmeeting/internal/audio"
)

var (
	errClosed             = errors.New("rtc: source closed")
	errNoLocalDescription = errors.New("rtc: no local description")
)

const (
	ingestSampleRate = 16000
	// one decoded opus frame can carry up to 120ms at 16kHz
	maxFrameSamples = 1920
)

// RemoteSource is an audio.Source fed by a WebRTC peer instead of a device.
// Build one per meeting, attach it to the capture engine, then complete
// signaling with Accept.
type RemoteSource struct {
	iceServersJSON string

	mu      sync.Mutex
	pc      *webrtc.PeerConnection
	emit    func(samples []float32)
	fail    func(err error)
	started bool
	closed  bool
}

func NewRemoteSource(iceServersJSON string) *RemoteSource {
	return &RemoteSource{iceServersJSON: iceServersJSON}
}

// SampleRate is fixed: the opus decoder is opened at the backend rate so no
// further resampling is needed downstream.
func (s *RemoteSource) SampleRate() int { return ingestSampleRate }

// Start registers the engine callbacks. Media only flows once a peer has
// been accepted.
func (s *RemoteSource) Start(ctx context.Context, emit func([]float32), fail func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &audio.DeviceError{Err: errClosed}
	}
	s.emit = emit
	s.fail = fail
	s.started = true
	return nil
}

// Stop tears the peer down.
func (s *RemoteSource) Stop() {
	s.mu.Lock()
	s.started = false
	s.closed = true
	pc := s.pc
	s.pc = nil
	s.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
}

// Accept consumes the remote offer, wires the media pipeline and returns the
// local answer SDP. Trickle candidates are delivered through the callback.
func (s *RemoteSource) Accept(offerSDP string, onCandidate func(c *webrtc.ICECandidate)) (string, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return "", err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return "", err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: ParseICEServers(s.iceServersJSON)})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = pc.Close()
		return "", errClosed
	}
	s.pc = pc
	s.mu.Unlock()

	if onCandidate != nil {
		pc.OnICECandidate(onCandidate)
	}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("rtc: peer state %s", state)
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			s.onPeerGone(state)
		}
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("rtc: remote audio track: codec=%s", remote.Codec().MimeType)
		go s.decodeLoop(remote)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}); err != nil {
		_ = pc.Close()
		return "", err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", err
	}
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return "", errNoLocalDescription
	}
	return local.SDP, nil
}

// AddCandidate applies a trickled remote candidate.
func (s *RemoteSource) AddCandidate(init webrtc.ICECandidateInit) error {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return errClosed
	}
	return pc.AddICECandidate(init)
}

// decodeLoop reads RTP, decodes opus at 16kHz mono and hands normalized
// samples to the engine.
func (s *RemoteSource) decodeLoop(remote *webrtc.TrackRemote) {
	dec, err := opus.NewDecoder(ingestSampleRate, 1)
	if err != nil {
		s.reportFailure(&audio.DeviceError{Err: err})
		return
	}
	samples := make([]int16, maxFrameSamples)
	for {
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, samples)
		if decErr != nil {
			continue
		}
		s.mu.Lock()
		emit := s.emit
		started := s.started
		s.mu.Unlock()
		if !started || emit == nil {
			continue
		}
		emit(pcmToFloat(samples[:n]))
	}
}

func (s *RemoteSource) onPeerGone(state webrtc.PeerConnectionState) {
	s.mu.Lock()
	started := s.started
	fail := s.fail
	s.started = false
	s.mu.Unlock()
	if started && fail != nil {
		fail(&audio.DeviceError{Err: &peerGoneError{state: state}})
	}
}

func (s *RemoteSource) reportFailure(err error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		fail(err)
	}
}

func pcmToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, v := range samples {
		out[i] = float32(v) / 32768
	}
	return out
}

// ParseICEServers decodes a JSON ICE server list, falling back to a public
// STUN server.
func ParseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

type peerGoneError struct {
	state webrtc.PeerConnectionState
}

func (e *peerGoneError) Error() string {
	return "rtc: peer connection " + e.state.String()
}
