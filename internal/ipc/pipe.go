package ipc

import (
	"errors"
	"io"
	"sync"
)

// Writer is the worker-side handle for the ready/heartbeat pipe.
//
// Writes are serialized: the ready frame is written from the worker's main
// goroutine while heartbeats come from a background goroutine.
type Writer struct {
	mu sync.Mutex
	w  io.WriteCloser
}

// NewWriter wraps the inherited write end of the ready/heartbeat pipe.
func NewWriter(w io.WriteCloser) *Writer {
	return &Writer{w: w}
}

// Ready reports that the worker finished booting and is accepting
// connections.
func (w *Writer) Ready() error {
	return w.write(FrameReady)
}

// Heartbeat reports liveness while serving.
func (w *Writer) Heartbeat() error {
	return w.write(FrameHeartbeat)
}

// Close releases the pipe. The master's read loop observes EOF once the
// worker process (the only writer) has exited.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Close()
}

func (w *Writer) write(frame byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write([]byte{frame})
	return err
}

// ReadLoop consumes frames from the master-side read end of a worker's pipe,
// invoking onFrame for each byte until the worker exits and the pipe reports
// EOF. Unknown frames are passed through to onFrame; the caller decides what
// to ignore.
func ReadLoop(r io.Reader, onFrame func(frame byte)) error {
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n == 1 {
			onFrame(buf[0])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
