package service

import (
	"bytes"
	"io"
	"sync"
)

// Output accumulates a child's stdout and stderr incrementally. Readiness
// matching runs against the combined stream, which preserves arrival order
// across both pipes; the per-stream buffers back the handle's Stdout/Stderr
// accessors.
type Output struct {
	mu       sync.Mutex
	stdout   bytes.Buffer
	stderr   bytes.Buffer
	combined bytes.Buffer
}

type outputWriter struct {
	o      *Output
	stream *bytes.Buffer
}

func (w outputWriter) Write(p []byte) (int, error) {
	w.o.mu.Lock()
	defer w.o.mu.Unlock()
	w.stream.Write(p)
	w.o.combined.Write(p)
	return len(p), nil
}

// StdoutWriter returns the sink to attach to the child's stdout.
func (o *Output) StdoutWriter() io.Writer { return outputWriter{o: o, stream: &o.stdout} }

// StderrWriter returns the sink to attach to the child's stderr.
func (o *Output) StderrWriter() io.Writer { return outputWriter{o: o, stream: &o.stderr} }

// Stdout returns the accumulated standard output so far.
func (o *Output) Stdout() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stdout.String()
}

// Stderr returns the accumulated standard error so far.
func (o *Output) Stderr() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stderr.String()
}

// Combined returns both streams interleaved in arrival order.
func (o *Output) Combined() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.combined.String()
}

// Tail returns the last n bytes of the combined stream, for diagnostics.
func (o *Output) Tail(n int) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	b := o.combined.Bytes()
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
