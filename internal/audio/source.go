package audio

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// ErrPermissionDenied means the microphone could not be acquired at all.
// It is surfaced before any frame is produced.
var ErrPermissionDenied = errors.New("audio: microphone permission denied")

// DeviceError wraps a capture failure that happened after acquisition.
type DeviceError struct {
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("audio: device error: %v", e.Err) }
func (e *DeviceError) Unwrap() error { return e.Err }

// Source produces mono float32 samples in [-1, 1] at SampleRate.
// Start returns once capture is running; emit is called from the source's own
// goroutine, fail at most once when capture dies mid-session.
type Source interface {
	SampleRate() int
	Start(ctx context.Context, emit func(samples []float32), fail func(err error)) error
	Stop()
}

// FFmpegSource captures the default microphone through an ffmpeg child
// process emitting raw s16le. Input device syntax follows the platform.
type FFmpegSource struct {
	Rate   int
	Device string // override; empty picks the platform default

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewFFmpegSource builds a source at the given sample rate (16000 typical).
func NewFFmpegSource(rate int) *FFmpegSource {
	return &FFmpegSource{Rate: rate}
}

func (s *FFmpegSource) SampleRate() int { return s.Rate }

// CheckFFmpeg reports whether the ffmpeg binary is available.
func CheckFFmpeg() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return nil
}

func (s *FFmpegSource) inputArgs() []string {
	device := s.Device
	switch runtime.GOOS {
	case "darwin":
		if device == "" {
			device = ":default"
		}
		return []string{"-f", "avfoundation", "-i", device}
	case "windows":
		if device == "" {
			device = "audio=default"
		}
		return []string{"-f", "dshow", "-i", device}
	default:
		if device == "" {
			device = "default"
		}
		return []string{"-f", "pulse", "-i", device}
	}
}

// Start launches ffmpeg and streams decoded samples to emit. Permission
// problems reported by ffmpeg during startup map to ErrPermissionDenied.
func (s *FFmpegSource) Start(ctx context.Context, emit func([]float32), fail func(error)) error {
	args := s.inputArgs()
	args = append(args,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", s.Rate),
		"-f", "s16le",
		"pipe:1",
	)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("audio: ffmpeg stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("audio: ffmpeg stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return &DeviceError{Err: err}
	}

	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	// Watch stderr for permission failures and keep the tail for diagnostics.
	permCh := make(chan struct{}, 1)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			if isPermissionLine(line) {
				select {
				case permCh <- struct{}{}:
				default:
				}
			}
		}
	}()

	go func() {
		// 100ms of s16le mono per read
		chunk := make([]byte, s.Rate/10*2)
		for {
			n, readErr := io.ReadFull(stdout, chunk)
			if n > 0 {
				samples := make([]float32, n/2)
				for i := range samples {
					v := int16(binary.LittleEndian.Uint16(chunk[i*2 : i*2+2]))
					samples[i] = float32(v) / 32768.0
				}
				emit(samples)
			}
			if readErr != nil {
				waitErr := cmd.Wait()
				if ctx.Err() != nil || s.stopped() {
					return
				}
				select {
				case <-permCh:
					fail(ErrPermissionDenied)
				default:
					if waitErr == nil {
						waitErr = readErr
					}
					fail(&DeviceError{Err: waitErr})
				}
				return
			}
		}
	}()
	return nil
}

// Stop kills the ffmpeg process. Safe to call more than once.
func (s *FFmpegSource) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			log.Printf("audio: ffmpeg kill: %v", err)
		}
	}
}

func (s *FFmpegSource) stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd == nil
}

func isPermissionLine(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "permission denied") ||
		strings.Contains(l, "operation not permitted") ||
		strings.Contains(l, "access denied")
}
