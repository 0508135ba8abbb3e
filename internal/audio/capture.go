package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	soxr "github.com/zaf/resample"
)

const (
	// DefaultSampleRate is what the transcription backend expects.
	DefaultSampleRate = 16000
	// DefaultFrameDuration is the fixed duration of one binary audio frame.
	DefaultFrameDuration = 500 * time.Millisecond
	// DefaultStopGrace lets the backend drain in-flight audio before the
	// socket is torn down.
	DefaultStopGrace = 500 * time.Millisecond

	levelInterval = 100 * time.Millisecond
)

// Sender is the transport surface the engine needs: binary frames out, one
// control envelope on stop, and teardown.
type Sender interface {
	Send(msgType string, payload interface{}) error
	SendBinary(buf []byte) error
	Disconnect() error
}

// Config tunes the capture engine. Zero values take the defaults above.
type Config struct {
	SampleRate    int
	FrameDuration time.Duration
	StopGrace     time.Duration
}

// Engine buffers microphone samples into fixed-duration PCM16LE frames and
// ships each full frame as one binary transport send. Frames are ephemeral:
// nothing is retained after a send.
type Engine struct {
	cfg    Config
	source Source
	sender Sender

	// OnLevel receives a normalized 0..1 audio level every 100ms while
	// running. Metering only; never correctness-critical.
	OnLevel func(level float64)
	// OnError receives asynchronous capture failures (DeviceError,
	// ErrPermissionDenied surfaced after start).
	OnError func(err error)

	sleep func(d time.Duration) // injectable for tests

	mu        sync.Mutex
	running   bool
	pcmBuf    []byte
	frameSize int
	seq       uint64

	resampler    *soxr.Resampler
	resamplerBuf *bytes.Buffer

	levelMu    sync.Mutex
	sumSquares float64
	sampleN    int

	cancelLevel context.CancelFunc
}

// NewEngine wires a source to a sender.
func NewEngine(source Source, sender Sender, cfg Config) *Engine {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FrameDuration == 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.StopGrace == 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	e := &Engine{
		cfg:    cfg,
		source: source,
		sender: sender,
		sleep:  time.Sleep,
	}
	samplesPerFrame := int(float64(cfg.SampleRate) * cfg.FrameDuration.Seconds())
	e.frameSize = samplesPerFrame * 2
	return e
}

// Start acquires the source and begins streaming frames. A permission
// failure is returned directly, before any frame is produced.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	e.pcmBuf = e.pcmBuf[:0]
	e.mu.Unlock()

	if rate := e.source.SampleRate(); rate != e.cfg.SampleRate {
		buf := &bytes.Buffer{}
		r, err := soxr.New(buf, float64(rate), float64(e.cfg.SampleRate), 1, soxr.I16, soxr.HighQ)
		if err != nil {
			e.mu.Lock()
			e.running = false
			e.mu.Unlock()
			return fmt.Errorf("audio: resampler %d->%d: %w", rate, e.cfg.SampleRate, err)
		}
		e.resampler = r
		e.resamplerBuf = buf
	}

	if err := e.source.Start(ctx, e.onSamples, e.onSourceFailure); err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return err
	}

	levelCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelLevel = cancel
	e.mu.Unlock()
	go e.levelLoop(levelCtx)
	return nil
}

// Stop runs the teardown sequence: stop the device, drop any partial frame
// (sub-frame audio is intentionally lost), tell the backend we are done,
// wait the grace period so it can finish in-flight audio, then close the
// transport.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancelLevel
	e.cancelLevel = nil
	dropped := len(e.pcmBuf)
	e.pcmBuf = e.pcmBuf[:0]
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.source.Stop()
	if dropped > 0 {
		log.Printf("audio: discarding %d buffered bytes below one frame", dropped)
	}
	if err := e.sender.Send("stop", nil); err != nil {
		log.Printf("audio: stop message: %v", err)
	}
	e.sleep(e.cfg.StopGrace)
	if err := e.sender.Disconnect(); err != nil {
		log.Printf("audio: transport close: %v", err)
	}
}

// FramesSent reports how many full frames have been shipped this session.
func (e *Engine) FramesSent() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// onSamples converts incoming float samples to PCM16LE, resamples if the
// source rate differs, and emits every completed frame.
func (e *Engine) onSamples(samples []float32) {
	if len(samples) == 0 {
		return
	}
	e.accumulateLevel(samples)

	pcm := make([]byte, len(samples)*2)
	for i, f := range samples {
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		v := int16(f * 32767)
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	if e.resampler != nil {
		converted, err := e.resample(pcm)
		if err != nil {
			e.mu.Unlock()
			log.Printf("audio: resample: %v", err)
			return
		}
		pcm = converted
		if len(pcm) == 0 {
			e.mu.Unlock()
			return
		}
	}
	e.pcmBuf = append(e.pcmBuf, pcm...)

	var frames [][]byte
	for len(e.pcmBuf) >= e.frameSize {
		frame := make([]byte, e.frameSize)
		copy(frame, e.pcmBuf[:e.frameSize])
		copy(e.pcmBuf, e.pcmBuf[e.frameSize:])
		e.pcmBuf = e.pcmBuf[:len(e.pcmBuf)-e.frameSize]
		frames = append(frames, frame)
		e.seq++
	}
	e.mu.Unlock()

	for _, frame := range frames {
		if err := e.sender.SendBinary(frame); err != nil {
			log.Printf("audio: frame send: %v", err)
		}
	}
}

// resample pushes PCM bytes through the soxr pipeline. Caller holds e.mu.
func (e *Engine) resample(pcm []byte) ([]byte, error) {
	e.resamplerBuf.Reset()
	if _, err := e.resampler.Write(pcm); err != nil {
		return nil, err
	}
	out := e.resamplerBuf.Bytes()
	cp := make([]byte, len(out))
	copy(cp, out)
	return cp, nil
}

// onSourceFailure aborts the session: the device died mid-capture, so tear
// everything down rather than linger half-connected.
func (e *Engine) onSourceFailure(err error) {
	e.mu.Lock()
	wasRunning := e.running
	e.running = false
	cancel := e.cancelLevel
	e.cancelLevel = nil
	e.pcmBuf = e.pcmBuf[:0]
	e.mu.Unlock()

	if !wasRunning {
		return
	}
	if cancel != nil {
		cancel()
	}
	e.source.Stop()
	if derr := e.sender.Disconnect(); derr != nil {
		log.Printf("audio: transport close after device failure: %v", derr)
	}
	log.Printf("audio: capture aborted: %v", err)
	if e.OnError != nil {
		e.OnError(err)
	}
}

func (e *Engine) accumulateLevel(samples []float32) {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	e.levelMu.Lock()
	e.sumSquares += sum
	e.sampleN += len(samples)
	e.levelMu.Unlock()
}

func (e *Engine) levelLoop(ctx context.Context) {
	ticker := time.NewTicker(levelInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.levelMu.Lock()
			var level float64
			if e.sampleN > 0 {
				level = math.Sqrt(e.sumSquares / float64(e.sampleN))
			}
			e.sumSquares = 0
			e.sampleN = 0
			e.levelMu.Unlock()
			if level > 1 {
				level = 1
			}
			if e.OnLevel != nil {
				e.OnLevel(level)
			}
		}
	}
}
