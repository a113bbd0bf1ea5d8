package ipc

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_FramesReachReader(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	writer := NewWriter(w)
	require.NoError(t, writer.Ready())
	require.NoError(t, writer.Heartbeat())
	require.NoError(t, writer.Heartbeat())
	require.NoError(t, writer.Close())

	var frames []byte
	err = ReadLoop(r, func(frame byte) {
		frames = append(frames, frame)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{FrameReady, FrameHeartbeat, FrameHeartbeat}, frames)
}

func TestReadLoop_EOFIsClean(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	// No frames at all: a worker that dies before reporting ready.
	require.NoError(t, w.Close())

	called := false
	err = ReadLoop(r, func(byte) { called = true })
	require.NoError(t, err)
	assert.False(t, called, "no frames should be delivered on a silent pipe")
}

func TestReadLoop_PropagatesReadErrors(t *testing.T) {
	err := ReadLoop(failingReader{}, func(byte) {})
	assert.Error(t, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }
