package process

import (
	"sync"

	"github.com/valyala/bytebufferpool"
)

// tailWriter keeps the last limit bytes written to it in a pooled buffer.
type tailWriter struct {
	mu    sync.Mutex
	buf   *bytebufferpool.ByteBuffer
	limit int
}

func newTailWriter(limit int) *tailWriter {
	return &tailWriter{buf: bytebufferpool.Get(), limit: limit}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p)
	if w.buf == nil {
		return n, nil
	}
	if len(p) > w.limit {
		p = p[len(p)-w.limit:]
	}
	w.buf.B = append(w.buf.B, p...)
	if over := len(w.buf.B) - w.limit; over > 0 {
		w.buf.B = append(w.buf.B[:0], w.buf.B[over:]...)
	}
	return n, nil
}

// finish returns the captured text and hands the buffer back to the pool.
func (w *tailWriter) finish() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf == nil {
		return ""
	}
	s := w.buf.String()
	bytebufferpool.Put(w.buf)
	w.buf = nil
	return s
}
