package logging

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// SequenceWriter prefixes every complete line with a sequence number and a
// timestamp before handing it to the target writer. Partial lines are held
// until their newline arrives or Close is called.
type SequenceWriter struct {
	target io.Writer
	seq    atomic.Uint64
	mu     sync.Mutex
	buf    bytes.Buffer
	now    func() time.Time
}

func NewSequenceWriter(target io.Writer) *SequenceWriter {
	return &SequenceWriter{target: target, now: time.Now}
}

func (w *SequenceWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimSuffix(w.buf.Next(idx+1), []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))
		if err := w.writeLine(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

// Close flushes a trailing partial line.
func (w *SequenceWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() == 0 {
		return nil
	}
	line := bytes.Clone(w.buf.Bytes())
	w.buf.Reset()
	return w.writeLine(line)
}

func (w *SequenceWriter) writeLine(line []byte) error {
	n := w.seq.Add(1)
	_, err := fmt.Fprintf(w.target, "line=%d time=%s %s\n", n, w.now().Format(time.RFC3339), line)
	return err
}
