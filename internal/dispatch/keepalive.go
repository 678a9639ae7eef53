package dispatch

import (
	"io"
	"time"
)

// Options tunes per-dispatcher streaming behavior. KeepAliveInterval, when
// positive, injects an SSE comment line into the outbound stream whenever
// the downstream has produced no bytes for that long, keeping intermediate
// proxies and clients from timing out a slow-starting stream. Zero
// disables injection.
type Options struct {
	KeepAliveInterval time.Duration
}

const keepAliveComment = ": keep-alive\n\n"

// withKeepAlive wraps stream so idle gaps are padded with SSE comments.
// A single goroutine owns the outbound pipe, so a comment can never land
// inside a partially-written event.
func withKeepAlive(stream io.ReadCloser, interval time.Duration) io.ReadCloser {
	if interval <= 0 {
		return stream
	}

	pr, pw := io.Pipe()
	chunks := make(chan []byte)

	go func() {
		defer close(chunks)
		for {
			buf := make([]byte, 4096)
			n, err := stream.Read(buf)
			if n > 0 {
				chunks <- buf[:n]
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		defer pw.Close()
		// Drain on exit so the producer can't stay blocked on a send
		// after the client side of the pipe is gone.
		defer func() {
			go func() {
				for range chunks {
				}
			}()
		}()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					return
				}
				if _, err := pw.Write(chunk); err != nil {
					return
				}
				ticker.Reset(interval)
			case <-ticker.C:
				if _, err := pw.Write([]byte(keepAliveComment)); err != nil {
					return
				}
			}
		}
	}()

	return &keepAliveStream{PipeReader: pr, source: stream}
}

// keepAliveStream closes the wrapped source with the pipe so the reader
// goroutine unblocks when the client goes away.
type keepAliveStream struct {
	*io.PipeReader
	source io.Closer
}

func (k *keepAliveStream) Close() error {
	err := k.PipeReader.Close()
	_ = k.source.Close()
	return err
}
