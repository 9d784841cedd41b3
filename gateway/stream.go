package gateway

import (
	"io"
	"net/http"

	"github.com/goccy/go-json"
)

// ArrayWriter streams a JSON array element by element. The opening bracket is
// written together with the first element, so nothing reaches w until there
// is something to send.
type ArrayWriter struct {
	w       io.Writer
	n       int
	started bool
	closed  bool
}

func NewArrayWriter(w io.Writer) *ArrayWriter {
	return &ArrayWriter{w: w}
}

func (a *ArrayWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(b)+1)
	if a.started {
		buf = append(buf, ',')
	} else {
		buf = append(buf, '[')
	}
	buf = append(buf, b...)
	if _, err := a.w.Write(buf); err != nil {
		return err
	}
	a.started = true
	a.n++
	a.flush()
	return nil
}

// Close terminates the array; an array without elements is written as [].
func (a *ArrayWriter) Close() error {
	if a.closed {
		return nil
	}
	closing := "]"
	if !a.started {
		closing = "[]"
	}
	if _, err := io.WriteString(a.w, closing); err != nil {
		return err
	}
	a.started = true
	a.closed = true
	a.flush()
	return nil
}

// Started reports whether any byte has been written.
func (a *ArrayWriter) Started() bool { return a.started }

func (a *ArrayWriter) Len() int { return a.n }

func (a *ArrayWriter) flush() {
	if f, ok := a.w.(http.Flusher); ok {
		f.Flush()
	}
}
