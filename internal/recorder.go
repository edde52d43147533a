package internal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// DefaultMaxRecordingSeconds bounds a voice clip.
const DefaultMaxRecordingSeconds = 60

// RecorderState is the voice recorder lifecycle. Idle is both the initial
// and the post-cancel/post-send resting state.
type RecorderState int

const (
	RecorderIdle RecorderState = iota
	RecorderRecording
	RecorderRecorded
)

func (s RecorderState) String() string {
	switch s {
	case RecorderRecording:
		return "recording"
	case RecorderRecorded:
		return "recorded"
	default:
		return "idle"
	}
}

// AudioSource opens a capture stream. The default reads from an OS audio
// device node; tests inject fakes.
type AudioSource interface {
	Open() (io.ReadCloser, error)
}

// DeviceSource captures from a device path.
type DeviceSource struct {
	Path string
}

func (d DeviceSource) Open() (io.ReadCloser, error) {
	if d.Path == "" {
		return nil, errors.New("no audio capture device configured")
	}
	stream, err := os.Open(d.Path)
	if err != nil {
		if os.IsPermission(err) {
			return nil, fmt.Errorf("microphone access denied: %w", err)
		}
		return nil, fmt.Errorf("audio device unavailable: %w", err)
	}
	return stream, nil
}

// VoiceRecorder captures a bounded-duration audio clip. Whatever path ends a
// recording (manual stop, auto-stop at the max duration, cancel, or
// teardown) the capture stream is closed before the state changes.
type VoiceRecorder struct {
	source     AudioSource
	maxSeconds int

	mu      sync.Mutex
	state   RecorderState
	elapsed int
	stream  io.ReadCloser
	buf     bytes.Buffer
	pumping sync.WaitGroup
}

// NewVoiceRecorder builds a recorder. A non-positive maxSeconds selects the
// 60 second default.
func NewVoiceRecorder(source AudioSource, maxSeconds int) *VoiceRecorder {
	if maxSeconds <= 0 {
		maxSeconds = DefaultMaxRecordingSeconds
	}
	return &VoiceRecorder{source: source, maxSeconds: maxSeconds}
}

// State returns the current lifecycle state.
func (r *VoiceRecorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed returns whole seconds recorded so far.
func (r *VoiceRecorder) Elapsed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsed
}

// MaxSeconds returns the auto-stop bound.
func (r *VoiceRecorder) MaxSeconds() int {
	return r.maxSeconds
}

// Start opens the capture stream and begins buffering audio. A permission or
// device failure leaves the recorder in Idle with the error surfaced.
func (r *VoiceRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderIdle {
		return fmt.Errorf("recorder is %s, not idle", r.state)
	}
	stream, err := r.source.Open()
	if err != nil {
		return err
	}
	r.stream = stream
	r.buf.Reset()
	r.elapsed = 0
	r.state = RecorderRecording
	r.pumping.Add(1)
	go r.pump(stream)
	return nil
}

// pump drains the capture stream into the clip buffer until the stream is
// closed by whichever exit path fires first.
func (r *VoiceRecorder) pump(stream io.ReadCloser) {
	defer r.pumping.Done()
	chunk := make([]byte, 4096)
	for {
		n, err := stream.Read(chunk)
		if n > 0 {
			r.mu.Lock()
			r.buf.Write(chunk[:n])
			r.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Tick advances the elapsed counter by one second. It returns true exactly
// once, on the tick that reaches the max duration and auto-stops the
// recording.
func (r *VoiceRecorder) Tick() bool {
	r.mu.Lock()
	if r.state != RecorderRecording {
		r.mu.Unlock()
		return false
	}
	r.elapsed++
	autoStop := r.elapsed >= r.maxSeconds
	r.mu.Unlock()
	if autoStop {
		r.Stop()
	}
	return autoStop
}

// Stop ends the capture and keeps the clip for preview.
func (r *VoiceRecorder) Stop() {
	r.mu.Lock()
	if r.state != RecorderRecording {
		r.mu.Unlock()
		return
	}
	stream := r.stream
	r.stream = nil
	r.state = RecorderRecorded
	r.mu.Unlock()
	r.releaseStream(stream)
}

// Cancel discards the in-progress or previewed clip and returns to Idle.
func (r *VoiceRecorder) Cancel() {
	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	r.state = RecorderIdle
	r.mu.Unlock()
	r.releaseStream(stream)
	r.mu.Lock()
	r.buf.Reset()
	r.elapsed = 0
	r.mu.Unlock()
}

// TakeClip hands out the recorded blob and resets to Idle. It returns false
// unless a completed recording is waiting.
func (r *VoiceRecorder) TakeClip() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != RecorderRecorded {
		return nil, false
	}
	clip := make([]byte, r.buf.Len())
	copy(clip, r.buf.Bytes())
	r.buf.Reset()
	r.elapsed = 0
	r.state = RecorderIdle
	return clip, true
}

// Teardown releases the capture stream regardless of state. Safe to call on
// component unmount.
func (r *VoiceRecorder) Teardown() {
	r.Cancel()
}

func (r *VoiceRecorder) releaseStream(stream io.ReadCloser) {
	if stream == nil {
		return
	}
	_ = stream.Close()
	r.pumping.Wait()
}
