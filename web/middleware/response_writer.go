package middleware

import (
	"bytes"

	"github.com/gin-gonic/gin"
)

// responseWriter keeps the first limit bytes of the response for logging.
type responseWriter struct {
	gin.ResponseWriter
	body  *bytes.Buffer
	limit int
}

func newResponseWriter(w gin.ResponseWriter, limit int) *responseWriter {
	return &responseWriter{ResponseWriter: w, body: &bytes.Buffer{}, limit: limit}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.capture(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *responseWriter) WriteString(s string) (int, error) {
	rw.capture([]byte(s))
	return rw.ResponseWriter.WriteString(s)
}

func (rw *responseWriter) capture(b []byte) {
	if room := rw.limit - rw.body.Len(); room > 0 {
		rw.body.Write(b[:min(room, len(b))])
	}
}
