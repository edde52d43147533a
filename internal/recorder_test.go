package internal

import (
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream feeds canned audio chunks and tracks whether it was closed.
type fakeStream struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool
	done   chan struct{}
}

func newFakeStream(chunks ...[]byte) *fakeStream {
	return &fakeStream{chunks: chunks, done: make(chan struct{})}
}

func (f *fakeStream) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.chunks) > 0 {
		chunk := f.chunks[0]
		f.chunks = f.chunks[1:]
		f.mu.Unlock()
		return copy(p, chunk), nil
	}
	f.mu.Unlock()
	// block like a live capture device until the stream is closed
	<-f.done
	return 0, io.EOF
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeStream) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSource struct {
	stream *fakeStream
	err    error
}

func (f *fakeSource) Open() (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func TestRecorderLifecycle(t *testing.T) {
	stream := newFakeStream([]byte("audio-"), []byte("bytes"))
	recorder := NewVoiceRecorder(&fakeSource{stream: stream}, 60)

	assert.Equal(t, RecorderIdle, recorder.State())
	require.NoError(t, recorder.Start())
	assert.Equal(t, RecorderRecording, recorder.State())

	// starting again while recording is rejected
	assert.Error(t, recorder.Start())

	recorder.Stop()
	assert.Equal(t, RecorderRecorded, recorder.State())
	assert.True(t, stream.Closed())

	clip, ok := recorder.TakeClip()
	require.True(t, ok)
	assert.Equal(t, "audio-bytes", string(clip))
	assert.Equal(t, RecorderIdle, recorder.State())

	// the clip is handed out exactly once
	_, ok = recorder.TakeClip()
	assert.False(t, ok)
}

func TestRecorderAutoStopsAtMaxDuration(t *testing.T) {
	stream := newFakeStream([]byte("x"))
	recorder := NewVoiceRecorder(&fakeSource{stream: stream}, 3)
	require.NoError(t, recorder.Start())

	assert.False(t, recorder.Tick())
	assert.False(t, recorder.Tick())
	assert.True(t, recorder.Tick(), "the tick reaching the bound auto-stops")
	assert.Equal(t, RecorderRecorded, recorder.State())
	assert.True(t, stream.Closed())
	assert.Equal(t, 3, recorder.Elapsed())

	// no further auto-stop signals after the transition
	assert.False(t, recorder.Tick())
}

func TestRecorderCancelReleasesStream(t *testing.T) {
	stream := newFakeStream([]byte("discarded"))
	recorder := NewVoiceRecorder(&fakeSource{stream: stream}, 60)
	require.NoError(t, recorder.Start())

	recorder.Cancel()
	assert.Equal(t, RecorderIdle, recorder.State())
	assert.True(t, stream.Closed())
	assert.Equal(t, 0, recorder.Elapsed())

	_, ok := recorder.TakeClip()
	assert.False(t, ok)
}

func TestRecorderCancelDiscardsPreview(t *testing.T) {
	stream := newFakeStream([]byte("preview"))
	recorder := NewVoiceRecorder(&fakeSource{stream: stream}, 60)
	require.NoError(t, recorder.Start())
	recorder.Stop()
	require.Equal(t, RecorderRecorded, recorder.State())

	recorder.Cancel()
	assert.Equal(t, RecorderIdle, recorder.State())
	_, ok := recorder.TakeClip()
	assert.False(t, ok)
}

func TestRecorderStartFailureStaysIdle(t *testing.T) {
	recorder := NewVoiceRecorder(&fakeSource{err: errors.New("microphone access denied")}, 60)
	err := recorder.Start()
	require.Error(t, err)
	assert.Equal(t, RecorderIdle, recorder.State())

	// recoverable: a later start on a working source succeeds
	recorder = NewVoiceRecorder(&fakeSource{stream: newFakeStream()}, 60)
	assert.NoError(t, recorder.Start())
	recorder.Teardown()
	assert.Equal(t, RecorderIdle, recorder.State())
}

func TestRecorderTeardownMidRecording(t *testing.T) {
	stream := newFakeStream([]byte("x"))
	recorder := NewVoiceRecorder(&fakeSource{stream: stream}, 60)
	require.NoError(t, recorder.Start())

	recorder.Teardown()
	assert.True(t, stream.Closed())
	assert.Equal(t, RecorderIdle, recorder.State())
}
